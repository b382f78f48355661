// Package design selects a trial design by matching {CV, NTI flag}
// against a priority-ordered rule table. Matching is a pure function
// over the immutable rule list.
package design

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ppiankov/beplan/internal/model"
)

// Literal fallback when even the table's default rule is missing.
const (
	fallbackDesign = "2x2 crossover design"
	fallbackRuleID = "DEFAULT"
)

// Engine matches the rule table against run inputs.
type Engine struct {
	rules     []Rule // pre-sorted in matching order
	defaultCV float64
	log       *zap.Logger
}

// NewEngine builds an engine over an immutable rule set. defaultCV
// (percent) is used when no CV is available at all.
func NewEngine(rs *RuleSet, defaultCV float64, log *zap.Logger) *Engine {
	if rs == nil {
		rs = DefaultRules()
	}
	if defaultCV <= 0 {
		defaultCV = 40.0
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{rules: rs.ordered(), defaultCV: defaultCV, log: log}
}

// Select returns the recommended design for the resolved CV and NTI
// flag. A nil CV fails any rule with a CV bound; a nil NTI fails any
// rule constraining NTI.
func (e *Engine) Select(cv *float64, nti *bool) model.DesignDecision {
	for _, rule := range e.rules {
		if !matches(rule.When, cv, nti) {
			continue
		}
		e.log.Debug("design rule matched", zap.String("rule_id", rule.ID))
		return model.DesignDecision{
			Recommendation:  rule.Design,
			ReasoningRuleID: rule.ID,
			ReasoningText:   rule.Message,
		}
	}
	return model.DesignDecision{
		Recommendation:  fallbackDesign,
		ReasoningRuleID: fallbackRuleID,
		ReasoningText:   "No design rule matched; using the standard crossover.",
	}
}

// SelectForRun resolves the CV to use for design purposes and then
// matches. Resolution order: confirmed explicit input, extracted but
// unconfirmed CVintra (recorded as a gap), configured default.
func (e *Engine) SelectForRun(cvInput *model.CVInput, pkValues []model.PKValue, nti *bool) model.DesignDecision {
	var missing []string
	var cv *float64

	switch {
	case cvInput != nil && cvInput.Confirmed:
		cv = &cvInput.Value
	default:
		if extracted := cvintraFromPK(pkValues); extracted != nil {
			cv = extracted
			missing = append(missing, "CVintra extracted but not confirmed")
		} else {
			d := e.defaultCV
			cv = &d
			missing = append(missing, fmt.Sprintf("CVintra not available; using default CV=%.0f%% for design suggestion", e.defaultCV))
		}
	}
	if nti == nil {
		missing = append(missing, "NTI status unknown")
	}

	decision := e.Select(cv, nti)
	decision.RequiredInputsMissing = missing
	return decision
}

func matches(p Predicate, cv *float64, nti *bool) bool {
	if p.NTI != nil {
		if nti == nil || *nti != *p.NTI {
			return false
		}
	}
	if p.CVMin != nil {
		if cv == nil || *cv < *p.CVMin {
			return false
		}
	}
	if p.CVMax != nil {
		if cv == nil || *cv > *p.CVMax {
			return false
		}
	}
	return true
}

func cvintraFromPK(pkValues []model.PKValue) *float64 {
	for i := range pkValues {
		if pkValues[i].Name == "CVintra" && pkValues[i].Value != nil {
			return pkValues[i].Value
		}
	}
	return nil
}
