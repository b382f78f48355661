// Package samplesize computes the required number of subjects: a
// deterministic N from a trusted point CV, and a Monte-Carlo
// risk-based N when only a heuristic CV range exists.
package samplesize

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/beplan/internal/model"
	"github.com/ppiankov/beplan/internal/oracle"
	"github.com/ppiankov/beplan/internal/stats"
)

// WarnUnconfirmedCV is emitted when the confirmation gate blocks the
// calculation.
const WarnUnconfirmedCV = "CVintra must be confirmed before sample size calculation."

// adjustEpsilon guards the dropout/screen-fail divisions against
// rates of (almost) 1.
const adjustEpsilon = 1e-6

// Calculator computes the deterministic sample size, oracle-first
// with a closed-form fallback.
type Calculator struct {
	runner oracle.Runner
	log    *zap.Logger
}

// NewCalculator wires the calculator to the statistical oracle. A nil
// runner means the closed-form fallback is always used.
func NewCalculator(runner oracle.Runner, log *zap.Logger) *Calculator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Calculator{runner: runner, log: log}
}

// Calc computes N_total/N_rand/N_screen. Hard gate: an unconfirmed CV
// yields all-nil Ns and a warning, never a best-effort number.
func (c *Calculator) Calc(ctx context.Context, design string, cvInput model.CVInput, power, alpha, dropout, screenFail float64) model.SampleSizeDet {
	out := model.SampleSizeDet{
		Design:     design,
		Alpha:      alpha,
		Power:      power,
		CV:         cvInput.Value,
		Dropout:    dropout,
		ScreenFail: screenFail,
		Details:    map[string]string{"design": design, "timestamp": time.Now().UTC().Format(time.RFC3339)},
	}

	if !cvInput.Confirmed {
		out.Warnings = append(out.Warnings, WarnUnconfirmedCV)
		out.Details = map[string]string{}
		return out
	}

	nTotal, engine, raw, warnings := c.computeNTotal(ctx, design, cvInput.Value, power, alpha)
	out.Warnings = append(out.Warnings, warnings...)
	if nTotal == nil {
		return out
	}
	out.Details["engine"] = engine
	out.Details["raw"] = raw

	nRand := int(math.Ceil(float64(*nTotal) / math.Max(adjustEpsilon, 1-dropout)))
	nScreen := int(math.Ceil(float64(nRand) / math.Max(adjustEpsilon, 1-screenFail)))
	out.NTotal = nTotal
	out.NRand = &nRand
	out.NScreen = &nScreen
	return out
}

func (c *Calculator) computeNTotal(ctx context.Context, design string, cvPercent, power, alpha float64) (*int, string, string, []string) {
	if c.runner != nil {
		if n, raw, err := c.runner.SampleN(ctx, design, cvPercent, power, alpha); err == nil {
			return &n, "PowerTOST", raw, nil
		}
		c.log.Debug("oracle sample size unavailable, using approximation")
	}

	n, err := stats.TOSTSampleSize(cvPercent, power, alpha)
	if err != nil {
		return nil, "", "", []string{fmt.Sprintf("sample size calculation failed: %v", err)}
	}
	formula := fmt.Sprintf(
		"n = ((z_(1-alpha) + z_power) * sqrt(2) * sigma / log(theta2))^2; sigma=sqrt(log(1+CV^2)), CV=%.4g%%",
		cvPercent)
	warnings := []string{"Rscript/PowerTOST not available. Used approximate formula for N."}
	return &n, "approx", formula, warnings
}
