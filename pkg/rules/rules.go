package rules

// Rule is one filter expression together with the config line it came from.
// The expression text is opaque here; only the matching engine interprets it.
type Rule struct {
	Expression string
	Line       int
}

// RuleSet is an ordered collection of rules. Order is irrelevant to matching
// (expressions combine with OR semantics in the engine) but is kept for
// diagnostics. A RuleSet is built once by the loader and never mutated after
// it becomes active.
type RuleSet struct {
	rules []Rule
}

func NewRuleSet() *RuleSet {
	return &RuleSet{}
}

func (s *RuleSet) Append(r Rule) {
	s.rules = append(s.rules, r)
}

// Rules exposes the sequence for registration with the matching engine.
func (s *RuleSet) Rules() []Rule {
	return s.rules
}

func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}
