package approval

import (
	"sort"
)

// PolicyMatch is one applicable policy with the conditions that fired
type PolicyMatch struct {
	Policy    Policy             `json:"policy"`
	Triggered []TriggerCondition `json:"triggered"`
}

// MatchResult is the outcome of CheckApprovalRequired
type MatchResult struct {
	Required bool          `json:"required"`
	Policies []Policy      `json:"policies"`
	Matches  []PolicyMatch `json:"matches"`
}

// Matcher finds the policies that apply to an object snapshot. It is
// immutable after construction and safe for concurrent use.
type Matcher struct {
	policies []Policy
	custom   map[string]CustomRuleEvaluator
	enabled  map[string]bool
}

// MatcherOption configures a Matcher
type MatcherOption func(*Matcher)

// WithCustomEvaluator registers an evaluator for custom conditions
func WithCustomEvaluator(ruleID string, fn CustomRuleEvaluator) MatcherOption {
	return func(m *Matcher) {
		m.custom[ruleID] = fn
	}
}

// WithEnablement overrides Policy.Active per policy id
func WithEnablement(enabled map[string]bool) MatcherOption {
	return func(m *Matcher) {
		for id, on := range enabled {
			m.enabled[id] = on
		}
	}
}

// NewMatcher creates a matcher over the given policies
func NewMatcher(policies []Policy, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		policies: append([]Policy(nil), policies...),
		custom:   make(map[string]CustomRuleEvaluator),
		enabled:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policies returns the registered policies
func (m *Matcher) Policies() []Policy {
	return append([]Policy(nil), m.policies...)
}

// IsEnabled reports whether a policy takes part in matching
func (m *Matcher) IsEnabled(p Policy) bool {
	if on, ok := m.enabled[p.ID]; ok {
		return on
	}
	return p.Active
}

// CheckApprovalRequired returns every enabled policy for the object type with
// at least one triggered condition, ordered by priority then id.
func (m *Matcher) CheckApprovalRequired(ec EvaluationContext) MatchResult {
	matches := make([]PolicyMatch, 0)
	for _, p := range m.policies {
		if p.ObjectType != ec.ObjectType || !m.IsEnabled(p) {
			continue
		}

		var triggered []TriggerCondition
		for _, cond := range p.Triggers {
			if cond != nil && cond.evaluate(ec, m.custom) {
				triggered = append(triggered, cond)
			}
		}
		if len(triggered) > 0 {
			matches = append(matches, PolicyMatch{Policy: p, Triggered: triggered})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Policy.Priority != matches[j].Policy.Priority {
			return matches[i].Policy.Priority < matches[j].Policy.Priority
		}
		return matches[i].Policy.ID < matches[j].Policy.ID
	})

	policies := make([]Policy, len(matches))
	for i, mt := range matches {
		policies[i] = mt.Policy
	}
	return MatchResult{
		Required: len(matches) > 0,
		Policies: policies,
		Matches:  matches,
	}
}
