// Package cvgate arbitrates which CV value the rest of the pipeline
// may trust. Resolution is a priority chain, not independent scoring:
// manual input wins over a reported CVintra, which wins over a
// CI-derived value, which wins over the heuristic range fallback.
package cvgate

import (
	"context"
	"errors"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/beplan/internal/model"
	"github.com/ppiankov/beplan/internal/oracle"
	"github.com/ppiankov/beplan/internal/stats"
	"github.com/ppiankov/beplan/internal/variability"
)

// Warning codes attached by the gate.
const (
	WarnCVOutOfRange      = "cv_out_of_range"
	WarnInvalidCIBounds   = "invalid_ci_bounds"
	WarnCIOutsideRatio    = "ci_outside_ratio_bounds"
	WarnSmallN            = "small_n"
	WarnApproxOnly        = "approximation_for_testing_only"
	WarnOracleUnavailable = "powertost_unavailable"
)

// Plausible intra-subject CV range for a reported value, percent.
const (
	reportedCVMin = 5.0
	reportedCVMax = 200.0
)

const smallNThreshold = 6

// Input is everything the gate arbitrates over for one run.
type Input struct {
	INN         string
	PKValues    []model.PKValue
	CIValues    []model.CIValue
	ManualCV    *float64
	CVConfirmed bool
	UseFallback bool
	Features    model.DrugFeatures
}

// Gate resolves the single CVInfo for a pipeline run.
type Gate struct {
	estimator *variability.Estimator
	runner    oracle.Runner
	trust     TrustPolicy
	log       *zap.Logger
}

// NewGate wires the gate's collaborators.
func NewGate(estimator *variability.Estimator, runner oracle.Runner, trust TrustPolicy, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{estimator: estimator, runner: runner, trust: trust, log: log}
}

// Trust exposes the gate's trust policy for downstream consumers.
func (g *Gate) Trust() TrustPolicy { return g.trust }

// Select walks the trust chain and returns exactly one CVInfo.
// Every branch leaves RequiresConfirm true and copies the caller's
// confirmation flag; confirmation is never upgraded silently.
//
// Side effect: a reported CVintra outside the plausible range is
// tagged cv_out_of_range on the PK value in place.
func (g *Gate) Select(ctx context.Context, in Input) (model.CVInfo, []model.OpenQuestion) {
	if in.ManualCV != nil {
		g.log.Debug("cv gate: manual value supplied", zap.Float64("cv", *in.ManualCV))
		return model.CVInfo{
			Value:           in.ManualCV,
			Source:          model.CVSourceManual,
			Confidence:      model.ConfidenceMedium,
			ConfidenceScore: g.trust.ApplyPenalties(scoreManual, nil),
			RequiresConfirm: true,
			ConfirmedByUser: in.CVConfirmed,
			Evidence: []model.Evidence{{
				Source:  "manual://user",
				Snippet: "User input",
			}},
		}, nil
	}

	if reported := findReportedCV(in.PKValues); reported != nil {
		base := scoreReported
		if reported.HasWarning(WarnLLMReview) {
			base = scoreLLMReported
		}
		score := g.trust.ApplyPenalties(base, reported.Warnings)
		return model.CVInfo{
			Value:           reported.Value,
			Source:          model.CVSourceReported,
			Confidence:      confidenceFor(score),
			ConfidenceScore: score,
			RequiresConfirm: true,
			ConfirmedByUser: in.CVConfirmed,
			Evidence:        reported.Evidence,
			Warnings:        reported.Warnings,
		}, nil
	}

	if ci := selectCICandidate(in.CIValues); ci != nil {
		return g.deriveFromCI(ctx, ci, in.CVConfirmed, in.UseFallback)
	}

	return g.rangeFallback(in), nil
}

// findReportedCV returns the first plausible CVintra. Implausible
// values are tagged and skipped, never accepted.
func findReportedCV(pkValues []model.PKValue) *model.PKValue {
	for i := range pkValues {
		pk := &pkValues[i]
		if pk.Name != "CVintra" || pk.Value == nil {
			continue
		}
		if *pk.Value >= reportedCVMin && *pk.Value <= reportedCVMax {
			return pk
		}
		pk.AddWarning(WarnCVOutOfRange)
	}
	return nil
}

// selectCICandidate picks the first CI that can support a CV
// derivation: n present, ~90% level, and a 2x2 log-scale design hint.
func selectCICandidate(ciValues []model.CIValue) *model.CIValue {
	for i := range ciValues {
		ci := &ciValues[i]
		if ci.N == nil {
			continue
		}
		if math.Abs(ci.ConfidenceLevel-0.90) > 0.02 {
			continue
		}
		if !hasRequiredDesign(ci.DesignHint) {
			continue
		}
		return ci
	}
	return nil
}

func hasRequiredDesign(hint string) bool {
	h := strings.ToLower(hint)
	return strings.Contains(h, "2x2") && strings.Contains(h, "log")
}

func (g *Gate) deriveFromCI(ctx context.Context, ci *model.CIValue, confirmed, useFallback bool) (model.CVInfo, []model.OpenQuestion) {
	var warnings []string

	base := model.CVInfo{
		Source:          model.CVSourceDerivedCI,
		Parameter:       ci.Param,
		RequiresConfirm: true,
		ConfirmedByUser: confirmed,
		Evidence:        ci.Evidence,
	}

	// Invalid bounds are a hard rejection for derivation, not a
	// silent correction.
	if ci.CILow >= ci.CIHigh || ci.CILow <= 0 || ci.CIHigh <= 0 {
		base.Warnings = append(warnings, WarnInvalidCIBounds)
		base.Confidence = model.ConfidenceLow
		return base, nil
	}

	if ci.CILow <= 0 || ci.CIHigh >= 2 {
		warnings = append(warnings, WarnCIOutsideRatio)
	}
	if ci.N != nil && *ci.N < smallNThreshold {
		warnings = append(warnings, WarnSmallN)
	}

	if g.runner != nil && g.runner.Health(ctx).PowerTOSTOK {
		cv, runnerWarnings, err := g.runner.CVFromCI(ctx, ci.CILow, ci.CIHigh, *ci.N, "2x2")
		warnings = append(warnings, runnerWarnings...)
		base.Warnings = warnings
		if err == nil {
			score := g.trust.ApplyPenalties(scoreDerivedCI, warnings)
			base.Value = &cv
			base.Confidence = confidenceFor(score)
			base.ConfidenceScore = score
			return base, nil
		}
		if !errors.Is(err, oracle.ErrUnavailable) {
			g.log.Warn("cv from ci derivation failed", zap.Error(err))
		}
		base.Confidence = model.ConfidenceLow
		return base, nil
	}

	if useFallback {
		warnings = append(warnings, WarnApproxOnly, WarnOracleUnavailable)
		base.Warnings = warnings
		cv, err := stats.ApproxCVFromCI(ci.CILow, ci.CIHigh, derefN(ci.N), ci.ConfidenceLevel)
		if err == nil {
			base.Value = &cv
		}
		score := g.trust.ApplyPenalties(scoreApproxCI, warnings)
		base.Confidence = confidenceFor(score)
		base.ConfidenceScore = score
		return base, nil
	}

	// No oracle, no fallback: null value plus an explicit question.
	base.Warnings = append(warnings, WarnOracleUnavailable)
	base.Confidence = model.ConfidenceLow
	questions := []model.OpenQuestion{{
		Category:     "cv",
		Question:     "Install R/PowerTOST or provide CV manually.",
		Priority:     "high",
		LinkedRuleID: "CVFROMCI_POWERTOST",
	}}
	return base, questions
}

func (g *Gate) rangeFallback(in Input) model.CVInfo {
	est := g.estimator.Estimate(in.Features)
	score := g.trust.ApplyPenalties(scoreRange, est.Warnings)
	mode := est.Range.Mode
	confidence := est.Confidence
	if confidence == "" {
		confidence = confidenceFor(score)
	}
	return model.CVInfo{
		Value:           &mode,
		Source:          model.CVSourceRange,
		Confidence:      confidence,
		ConfidenceScore: score,
		RequiresConfirm: true,
		ConfirmedByUser: in.CVConfirmed,
		Warnings:        est.Warnings,
		RangeLow:        &est.Range.Low,
		RangeHigh:       &est.Range.High,
		RangeMode:       &mode,
		RangeDrivers:    est.Drivers,
		RangeConfidence: est.Confidence,
	}
}

func derefN(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}
