package parsers

import (
	"path/filepath"
	"strings"
	"unicode"

	"github.com/haukened/rr-ruleset/internal/ruleset/domain"
)

// DefaultSampleSize is how many leading rules the content vote inspects.
const DefaultSampleSize = 10

// Classify decides the RuleType of a rule file. Precedence:
//  1. an IP marker token in the file name, and no "domain" in it ⇒ IPRange
//  2. "domain" or "site" anywhere in the file name ⇒ DomainSuffix
//  3. strict majority of sample entries shaped like IP/CIDR ⇒ IPRange, else DomainSuffix
//
// fileName may be a path; only its base name is considered. sample should be
// the leading deduplicated rules in file order, already cut to the sample size.
func Classify(fileName string, sample []string) domain.RuleType {
	name := strings.ToLower(filepath.Base(fileName))
	hasDomain := strings.Contains(name, "domain")

	if hasIPMarker(name) && !hasDomain {
		return domain.IPRange
	}
	if hasDomain || strings.Contains(name, "site") {
		return domain.DomainSuffix
	}
	if len(sample) == 0 {
		return domain.DomainSuffix
	}

	ipVotes := 0
	for _, s := range sample {
		if LooksLikeIP(s) {
			ipVotes++
		}
	}
	if ipVotes*2 > len(sample) {
		return domain.IPRange
	}
	return domain.DomainSuffix
}

// hasIPMarker reports whether any token of the extension-less name marks IP content:
// "ip", "ips", tokens ending in "ip" or "cidr" (geoip, telegramcidr), or starting
// with "ipv"/"ipcidr"/"cidr".
func hasIPMarker(name string) bool {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	tokens := strings.FieldsFunc(stem, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		switch {
		case tok == "ip", tok == "ips":
			return true
		case strings.HasSuffix(tok, "ip"), strings.HasSuffix(tok, "cidr"):
			return true
		case strings.HasPrefix(tok, "ipv"), strings.HasPrefix(tok, "ipcidr"), strings.HasPrefix(tok, "cidr"):
			return true
		}
	}
	return false
}

// sampleOf returns at most n leading entries of rules.
func sampleOf(rules []string, n int) []string {
	if n <= 0 {
		n = DefaultSampleSize
	}
	if len(rules) < n {
		return rules
	}
	return rules[:n]
}
