package design

import (
	"strings"
	"testing"

	"github.com/ppiankov/beplan/internal/model"
)

func TestSelectByCV(t *testing.T) {
	e := NewEngine(nil, 40, nil)
	cases := []struct {
		cv     float64
		ruleID string
	}{
		{20, "CV_STANDARD_2X2"},
		{29.9, "CV_STANDARD_2X2"},
		{30, "CV_HIGH_PARTIAL_REPLICATE"}, // inclusive lower bound, higher priority
		{35, "CV_HIGH_PARTIAL_REPLICATE"},
		{50, "CV_VERY_HIGH_RSABE"},
		{75, "CV_VERY_HIGH_RSABE"},
	}
	for _, c := range cases {
		cv := c.cv
		d := e.Select(&cv, nil)
		if d.ReasoningRuleID != c.ruleID {
			t.Errorf("CV %v: rule %s, want %s", c.cv, d.ReasoningRuleID, c.ruleID)
		}
	}
}

func TestSelectNTIBeatsCV(t *testing.T) {
	e := NewEngine(nil, 40, nil)
	cv := 20.0
	nti := true
	d := e.Select(&cv, &nti)
	if d.ReasoningRuleID != "NTI_REPLICATE" {
		t.Fatalf("rule = %s, NTI must take priority over CV rules", d.ReasoningRuleID)
	}
	if !strings.Contains(d.Recommendation, "replicate") {
		t.Fatalf("recommendation = %s", d.Recommendation)
	}
}

func TestSelectNTIFalseFallsThrough(t *testing.T) {
	e := NewEngine(nil, 40, nil)
	cv := 20.0
	nti := false
	d := e.Select(&cv, &nti)
	if d.ReasoningRuleID != "CV_STANDARD_2X2" {
		t.Fatalf("rule = %s, NTI=false must not match the NTI rule", d.ReasoningRuleID)
	}
}

func TestSelectNilCVDefaultRule(t *testing.T) {
	e := NewEngine(nil, 40, nil)
	d := e.Select(nil, nil)
	if d.ReasoningRuleID != "DEFAULT" {
		t.Fatalf("rule = %s, nil CV must fall to DEFAULT", d.ReasoningRuleID)
	}
}

func TestSelectForRunConfirmedCV(t *testing.T) {
	e := NewEngine(nil, 40, nil)
	d := e.SelectForRun(&model.CVInput{Value: 55, Confirmed: true}, nil, nil)
	if d.ReasoningRuleID != "CV_VERY_HIGH_RSABE" {
		t.Fatalf("rule = %s", d.ReasoningRuleID)
	}
	for _, m := range d.RequiredInputsMissing {
		if strings.Contains(m, "CVintra") {
			t.Fatalf("confirmed CV must not be a gap: %v", d.RequiredInputsMissing)
		}
	}
}

func TestSelectForRunUnconfirmedExtracted(t *testing.T) {
	e := NewEngine(nil, 40, nil)
	cv := 35.0
	pk := []model.PKValue{{Name: "CVintra", Value: &cv, Unit: "%"}}
	d := e.SelectForRun(nil, pk, nil)
	if d.ReasoningRuleID != "CV_HIGH_PARTIAL_REPLICATE" {
		t.Fatalf("rule = %s, extracted CV must still steer design", d.ReasoningRuleID)
	}
	found := false
	for _, m := range d.RequiredInputsMissing {
		if strings.Contains(m, "not confirmed") {
			found = true
		}
	}
	if !found {
		t.Fatalf("unconfirmed CV must be recorded as a gap: %v", d.RequiredInputsMissing)
	}
}

func TestSelectForRunDefaultCV(t *testing.T) {
	e := NewEngine(nil, 40, nil)
	d := e.SelectForRun(nil, nil, nil)
	// Default CV of 40% lands in the partial replicate band.
	if d.ReasoningRuleID != "CV_HIGH_PARTIAL_REPLICATE" {
		t.Fatalf("rule = %s", d.ReasoningRuleID)
	}
	found := false
	for _, m := range d.RequiredInputsMissing {
		if strings.Contains(m, "default CV=40%") {
			found = true
		}
	}
	if !found {
		t.Fatalf("default CV use must be recorded: %v", d.RequiredInputsMissing)
	}
	ntiNoted := false
	for _, m := range d.RequiredInputsMissing {
		if strings.Contains(m, "NTI") {
			ntiNoted = true
		}
	}
	if !ntiNoted {
		t.Fatal("unknown NTI must be recorded as a gap")
	}
}

func TestRulePriorityOrdering(t *testing.T) {
	// Declaration order breaks ties; explicit priority wins outright.
	rs := &RuleSet{Rules: []Rule{
		{ID: "LOW", Design: "a", Priority: iptr(1)},
		{ID: "HIGH", Design: "b", Priority: iptr(10)},
	}}
	e := NewEngine(rs, 40, nil)
	cv := 30.0
	d := e.Select(&cv, nil)
	if d.ReasoningRuleID != "HIGH" {
		t.Fatalf("rule = %s, explicit priority must reorder", d.ReasoningRuleID)
	}
}

func TestSelectEmptyTableFallback(t *testing.T) {
	e := NewEngine(&RuleSet{}, 40, nil)
	cv := 25.0
	d := e.Select(&cv, nil)
	if d.Recommendation != "2x2 crossover design" || d.ReasoningRuleID != "DEFAULT" {
		t.Fatalf("fallback decision = %+v", d)
	}
}
