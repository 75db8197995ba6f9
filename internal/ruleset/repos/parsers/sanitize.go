package parsers

import "github.com/haukened/rr-ruleset/internal/ruleset/domain"

// Sanitize applies type-specific filtering. IPRange keeps only IP/CIDR-shaped
// entries that carry no reverse-DNS marker; DomainSuffix is returned unchanged.
// The input slice is never modified.
func Sanitize(ruleType domain.RuleType, rules []string) []string {
	if ruleType != domain.IPRange {
		return rules
	}
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		if !LooksLikeIP(r) || hasReverseDNSMarker(r) {
			continue
		}
		out = append(out, r)
	}
	return out
}
