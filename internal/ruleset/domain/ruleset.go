package domain

import "sort"

// NormalizedRuleSet is the sanitized, deduplicated content of one rule file.
//
// Notes:
//   - SourceFile is the path relative to the synchronization root, slash separated.
//   - Rules has set semantics; iteration order carries no meaning.
//   - A set with zero rules is never constructed by the parser.
type NormalizedRuleSet struct {
	SourceFile string
	RuleType   RuleType
	Rules      map[string]struct{}
	RuleCount  int
}

// NewNormalizedRuleSet builds a rule set from the given values, deduplicating them.
func NewNormalizedRuleSet(sourceFile string, ruleType RuleType, values []string) NormalizedRuleSet {
	rules := make(map[string]struct{}, len(values))
	for _, v := range values {
		rules[v] = struct{}{}
	}
	return NormalizedRuleSet{
		SourceFile: sourceFile,
		RuleType:   ruleType,
		Rules:      rules,
		RuleCount:  len(rules),
	}
}

// Sorted returns the rules in ascending byte order.
func (s NormalizedRuleSet) Sorted() []string {
	out := make([]string, 0, len(s.Rules))
	for r := range s.Rules {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether value is a member of the set.
func (s NormalizedRuleSet) Contains(value string) bool {
	_, ok := s.Rules[value]
	return ok
}
