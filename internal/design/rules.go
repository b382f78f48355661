package design

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Predicate is the match condition of one rule. Every present field
// must be satisfied; an absent field does not constrain the match.
type Predicate struct {
	NTI   *bool    `yaml:"nti"`
	CVMin *float64 `yaml:"cv_min"` // percent, inclusive
	CVMax *float64 `yaml:"cv_max"` // percent, inclusive
}

// Rule maps a predicate to a recommended design.
type Rule struct {
	ID       string    `yaml:"id"`
	Design   string    `yaml:"design"`
	Message  string    `yaml:"message"`
	When     Predicate `yaml:"when"`
	Priority *int      `yaml:"priority"` // Inferred from declaration order when absent
}

// RuleSet is the ordered rule table.
type RuleSet struct {
	Rules []Rule `yaml:"rules"`
}

// ordered returns the rules in matching order: priority descending,
// declaration order ascending within equal priority.
func (rs *RuleSet) ordered() []Rule {
	type indexed struct {
		rule     Rule
		priority int
		declared int
	}
	items := make([]indexed, len(rs.Rules))
	for i, r := range rs.Rules {
		// Without an explicit priority, earlier declaration means
		// higher priority.
		p := len(rs.Rules) - i
		if r.Priority != nil {
			p = *r.Priority
		}
		items[i] = indexed{rule: r, priority: p, declared: i}
	}
	sort.SliceStable(items, func(a, b int) bool {
		if items[a].priority != items[b].priority {
			return items[a].priority > items[b].priority
		}
		return items[a].declared < items[b].declared
	})
	out := make([]Rule, len(items))
	for i, it := range items {
		out[i] = it.rule
	}
	return out
}

func iptr(v int) *int         { return &v }
func bptr(v bool) *bool       { return &v }
func fptr(v float64) *float64 { return &v }

// DefaultRules returns the built-in design rule table.
func DefaultRules() *RuleSet {
	return &RuleSet{
		Rules: []Rule{
			{
				ID:       "NTI_REPLICATE",
				Design:   "replicate crossover with tighter BE limits",
				Message:  "NTI flag implies tighter BE limits and a replicate design.",
				When:     Predicate{NTI: bptr(true)},
				Priority: iptr(100),
			},
			{
				ID:       "CV_VERY_HIGH_RSABE",
				Design:   "4-way_replicate",
				Message:  "CVintra >= 50% supports a full replicate design with RSABE.",
				When:     Predicate{CVMin: fptr(50)},
				Priority: iptr(60),
			},
			{
				ID:       "CV_HIGH_PARTIAL_REPLICATE",
				Design:   "3-period partial replicate",
				Message:  "CVintra 30-50% favors a partial replicate design.",
				When:     Predicate{CVMin: fptr(30), CVMax: fptr(50)},
				Priority: iptr(50),
			},
			{
				ID:       "CV_STANDARD_2X2",
				Design:   "2x2 crossover",
				Message:  "CVintra below 30% supports a standard 2x2 crossover.",
				When:     Predicate{CVMax: fptr(30)},
				Priority: iptr(40),
			},
			{
				ID:       "DEFAULT",
				Design:   "2x2 crossover",
				Message:  "Default to 2x2 crossover when no rule matches.",
				When:     Predicate{},
				Priority: iptr(0),
			},
		},
	}
}

// LoadRules reads the design rule table, falling back to the built-in
// defaults.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultRules(), fmt.Errorf("read design rules: %w", err)
	}
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return DefaultRules(), fmt.Errorf("parse design rules: %w", err)
	}
	if len(rs.Rules) == 0 {
		return DefaultRules(), fmt.Errorf("design rules empty: %s", path)
	}
	return &rs, nil
}
