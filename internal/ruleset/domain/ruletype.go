package domain

import (
	"fmt"
	"strings"
)

// RuleType is the classification assigned to every rule file before compilation.
//
// iprange      - entries are IPv4/IPv6 addresses or CIDR blocks
// domainsuffix - entries are domain suffixes (apex-inclusive)
type RuleType uint8

const (
	// DomainSuffix is the zero value so an unset RuleType never means "IP".
	DomainSuffix RuleType = iota
	// IPRange matches addresses and CIDR blocks.
	IPRange
)

// String returns a stable string representation of the rule type.
func (t RuleType) String() string {
	switch t {
	case DomainSuffix:
		return "domain_suffix"
	case IPRange:
		return "ip_range"
	default:
		return fmt.Sprintf("RuleType(%d)", t)
	}
}

// Key returns the rule key used in the compiler's JSON document.
func (t RuleType) Key() string {
	switch t {
	case IPRange:
		return "ip_cidr"
	default:
		return "domain_suffix"
	}
}

// ParseRuleType converts a string into a RuleType.
// Accepts both String() and Key() forms, case-insensitive.
func ParseRuleType(s string) (RuleType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "domain_suffix":
		return DomainSuffix, nil
	case "ip_range", "ip_cidr":
		return IPRange, nil
	default:
		return 0, fmt.Errorf("unsupported RuleType: %q", s)
	}
}
