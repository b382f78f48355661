// Package validate checks extracted PK and CI values against the
// configured unit/range tables, normalizes units, and detects
// cross-source conflicts and CI-vs-CV inconsistency.
package validate

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/ppiankov/beplan/internal/model"
	"github.com/ppiankov/beplan/internal/stats"
)

// Per-value warning tags attached by the validator.
const (
	TagUnitNotAllowed    = "unit_not_allowed"
	TagMissingUnit       = "missing_unit"
	TagNormalizeFailed   = "unit_normalization_failed"
	TagOutOfRange        = "out_of_range"
	TagConflictDetected  = "conflict_detected"
	WarnConflictCIvsCV   = "conflict_detected:ci_vs_cv"
	conflictRelTolerance = 0.10 // repeated same-metric values deviating beyond this conflict
	ciWidthRelTolerance  = 0.50 // CI width vs CV-implied width
)

// Validator is stateless apart from its rule table.
type Validator struct {
	rules *Rules
	log   *zap.Logger
}

// NewValidator builds a validator over an immutable rule table.
func NewValidator(rules *Rules, log *zap.Logger) *Validator {
	if rules == nil {
		rules = DefaultRules()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Validator{rules: rules, log: log}
}

// Validate checks every PK value and cross-checks CI widths against a
// reported CVintra. It never fails: the result is a (possibly empty)
// issue list plus global warnings.
//
// Side effect, by contract: warning tags are appended in place to the
// elements of pkValues and ciValues.
func (v *Validator) Validate(pkValues []model.PKValue, ciValues []model.CIValue) ([]model.ValidationIssue, []string) {
	var issues []model.ValidationIssue
	var warnings []string

	for i := range pkValues {
		issues = append(issues, v.validatePK(&pkValues[i])...)
	}

	issues, warnings = v.crossCheckCIvsCV(pkValues, ciValues, issues, warnings)
	warnings = v.detectConflicts(pkValues, warnings)

	v.log.Debug("validation finished",
		zap.Int("pk_values", len(pkValues)),
		zap.Int("ci_values", len(ciValues)),
		zap.Int("issues", len(issues)))
	return issues, warnings
}

func (v *Validator) validatePK(pk *model.PKValue) []model.ValidationIssue {
	var issues []model.ValidationIssue
	rule, known := v.rules.MetricRuleFor(pk.Name)

	if pk.Unit == "" {
		pk.AddWarning(TagMissingUnit)
		issues = append(issues, model.ValidationIssue{
			Metric:   pk.Name,
			Severity: model.SeverityWarn,
			Message:  fmt.Sprintf("Missing unit for %s.", pk.Name),
		})
	} else if known && len(rule.Units) > 0 && !containsString(rule.Units, pk.Unit) {
		pk.AddWarning(TagUnitNotAllowed)
		issues = append(issues, model.ValidationIssue{
			Metric:   pk.Name,
			Severity: model.SeverityWarn,
			Message:  fmt.Sprintf("Unexpected unit '%s' for %s. Allowed: %v", pk.Unit, pk.Name, rule.Units),
		})
	}

	if pk.Value == nil {
		issues = append(issues, model.ValidationIssue{
			Metric:   pk.Name,
			Severity: model.SeverityError,
			Message:  fmt.Sprintf("Missing value for %s.", pk.Name),
		})
		return issues
	}

	// Normalize after the unit checks so a failed conversion on a
	// present unit is visible as its own tag.
	if known && pk.Unit != "" {
		if factor, ok := rule.Conversions[pk.Unit]; ok {
			nv := *pk.Value * factor
			pk.NormalizedValue = &nv
			pk.NormalizedUnit = rule.CanonicalUnit
		} else {
			pk.AddWarning(TagNormalizeFailed)
		}
	}

	if *pk.Value <= 0 {
		issues = append(issues, model.ValidationIssue{
			Metric:   pk.Name,
			Severity: model.SeverityError,
			Message:  fmt.Sprintf("Non-positive value for %s.", pk.Name),
		})
		return issues
	}

	checked := *pk.Value
	if pk.NormalizedValue != nil {
		checked = *pk.NormalizedValue
	}
	if rule.Min != nil && checked < *rule.Min {
		pk.AddWarning(TagOutOfRange)
		issues = append(issues, model.ValidationIssue{
			Metric:   pk.Name,
			Severity: model.SeverityWarn,
			Message:  fmt.Sprintf("%s below expected minimum (%v).", pk.Name, *rule.Min),
		})
	}
	if rule.Max != nil && checked > *rule.Max {
		pk.AddWarning(TagOutOfRange)
		issues = append(issues, model.ValidationIssue{
			Metric:   pk.Name,
			Severity: model.SeverityWarn,
			Message:  fmt.Sprintf("%s above expected maximum (%v).", pk.Name, *rule.Max),
		})
	}
	return issues
}

// crossCheckCIvsCV compares the actual log-scale width of each CI
// carrying an n against the width implied by a reported CVintra.
// Relative deviation beyond 50% is a conflict.
func (v *Validator) crossCheckCIvsCV(
	pkValues []model.PKValue,
	ciValues []model.CIValue,
	issues []model.ValidationIssue,
	warnings []string,
) ([]model.ValidationIssue, []string) {
	var cv *float64
	for i := range pkValues {
		if pkValues[i].Name == "CVintra" && pkValues[i].Value != nil {
			cv = pkValues[i].Value
			break
		}
	}
	if cv == nil {
		return issues, warnings
	}

	for i := range ciValues {
		ci := &ciValues[i]
		if ci.N == nil {
			continue
		}
		low, high := ci.RatioBounds()
		if low <= 0 || high <= 0 || low >= high {
			continue
		}
		level := ci.ConfidenceLevel
		if level == 0 {
			level = 0.90
		}
		expected := stats.ExpectedCIHalfWidth(*cv, *ci.N, level)
		actual := (math.Log(high) - math.Log(low)) / 2
		if expected <= 0 {
			continue
		}
		if math.Abs(actual-expected)/expected > ciWidthRelTolerance {
			msg := fmt.Sprintf("CI width conflicts with CV=%.1f%%: expected half-width %.3f, actual %.3f.", *cv, expected, actual)
			ci.Warnings = append(ci.Warnings, WarnConflictCIvsCV)
			issues = append(issues, model.ValidationIssue{
				Metric:   ci.Param,
				Severity: model.SeverityWarn,
				Message:  msg,
			})
			warnings = appendUnique(warnings, WarnConflictCIvsCV)
		}
	}
	return issues, warnings
}

// detectConflicts tags all repeated values of one metric when their
// normalized spread exceeds 10%.
func (v *Validator) detectConflicts(pkValues []model.PKValue, warnings []string) []string {
	byName := map[string][]int{}
	for i := range pkValues {
		pk := &pkValues[i]
		if pk.Value == nil {
			continue
		}
		byName[pk.Name] = append(byName[pk.Name], i)
	}

	for name, idxs := range byName {
		if len(idxs) < 2 {
			continue
		}
		minV, maxV := math.Inf(1), math.Inf(-1)
		for _, i := range idxs {
			val := *pkValues[i].Value
			if pkValues[i].NormalizedValue != nil {
				val = *pkValues[i].NormalizedValue
			}
			minV = math.Min(minV, val)
			maxV = math.Max(maxV, val)
		}
		if minV <= 0 || (maxV-minV)/minV <= conflictRelTolerance {
			continue
		}
		for _, i := range idxs {
			pkValues[i].AddWarning(TagConflictDetected)
		}
		warnings = appendUnique(warnings, "conflict_detected:"+name)
	}
	return warnings
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
