package parsers

import (
	"regexp"
	"strings"
)

// commentMarkers are cut from a line at their first occurrence.
var commentMarkers = []string{"#", "//"}

// nonRulePrefixes mark lines that carry file metadata rather than rules:
// the clash rule-provider preamble and references to the originating repository.
var nonRulePrefixes = []string{"payload:", "repo:", "repository:"}

// classicalTypes are rule-type prefixes of "TYPE,value[,options]" lines whose
// value is the second field.
var classicalTypes = map[string]struct{}{
	"domain":        {},
	"domain-suffix": {},
	"ip-cidr":       {},
	"ip-cidr6":      {},
}

// reverseDNSMarkers identify reverse-lookup zone names that upstream lists
// sometimes mix into IP lists.
var reverseDNSMarkers = []string{"arpa", "in-addr", "inverse"}

var (
	ipv4Pattern = regexp.MustCompile(`^(?:\d{1,3}\.){3}\d{1,3}(?:/\d{1,2})?$`)
	ipv6Pattern = regexp.MustCompile(`^[0-9A-Fa-f.]*:[0-9A-Fa-f:.]*(?:/\d{1,3})?$`)

	// ruleTypePattern matches clash rule-type names such as GEOIP or SRC-IP-CIDR.
	ruleTypePattern = regexp.MustCompile(`^[A-Z][A-Z0-9]*(?:-[A-Z0-9]+)*$`)
)

// stripLineBOM removes a UTF-8 byte order mark at the start of the line.
func stripLineBOM(line string) string {
	return strings.TrimPrefix(line, "\uFEFF")
}

// stripComment cuts the line at the earliest comment marker.
func stripComment(line string) string {
	cut := len(line)
	for _, m := range commentMarkers {
		if idx := strings.Index(line, m); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	return line[:cut]
}

// isNonRuleLine reports whether a trimmed line is metadata.
func isNonRuleLine(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range nonRulePrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// stripQuotes removes every single and double quote character.
func stripQuotes(s string) string {
	return strings.NewReplacer(`"`, "", `'`, "").Replace(s)
}

// stripListMarker removes leading YAML list dashes and the whitespace after them.
func stripListMarker(s string) string {
	return strings.TrimSpace(strings.TrimLeft(s, "-"))
}

// pickClassicalValue reduces "TYPE,value,options" lines of a supported type to
// value. Lines led by any other rule type (GEOIP,CN or DOMAIN-KEYWORD,x) carry
// nothing a suffix or CIDR set can hold and are dropped. Anything else keeps
// its commas, less trailing ones.
func pickClassicalValue(s string) (string, bool) {
	s = strings.TrimRight(s, ", \t")
	if !strings.Contains(s, ",") {
		return s, true
	}
	fields := strings.Split(s, ",")
	head := strings.TrimSpace(fields[0])
	if _, ok := classicalTypes[strings.ToLower(head)]; ok {
		return strings.TrimSpace(fields[1]), true
	}
	if ruleTypePattern.MatchString(head) {
		return "", false
	}
	return s, true
}

// LooksLikeIP reports whether s syntactically resembles an IPv4/IPv6 address or CIDR block.
// It is a shape check only; octet ranges and prefix lengths are left to the compiler.
func LooksLikeIP(s string) bool {
	return ipv4Pattern.MatchString(s) || ipv6Pattern.MatchString(s)
}

// hasReverseDNSMarker reports whether s names a reverse-lookup zone.
func hasReverseDNSMarker(s string) bool {
	lower := strings.ToLower(s)
	for _, m := range reverseDNSMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
