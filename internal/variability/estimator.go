// Package variability estimates an intra-subject CV range from drug
// physicochemical/clinical features when no direct measurement
// exists. Rule-driven: base range by BCS class plus additive widening
// per known risk driver.
package variability

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/beplan/internal/model"
)

// Hard clamp for the final range, in percent.
const (
	rangeFloor   = 15.0
	rangeCeiling = 90.0
	minSpread    = 5.0
)

// Delta widens [low, high] when a driver is present.
type Delta struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

// Rules is the variability rule table.
type Rules struct {
	Base struct {
		BCS     map[string][2]float64 `yaml:"bcs"`     // class -> [low, high]
		Default [2]float64            `yaml:"default"` // fallback base range
	} `yaml:"base"`
	Drivers struct {
		HighLogP      Delta `yaml:"high_logp"`      // logP >= 4
		ModerateLogP  Delta `yaml:"moderate_logp"`  // logP >= 3
		LongHalfLife  Delta `yaml:"long_half_life"` // t1/2 >= 24 h
		FirstPassHigh Delta `yaml:"first_pass_high"`
		FirstPassMed  Delta `yaml:"first_pass_medium"`
		CYPHigh       Delta `yaml:"cyp_high"`
		CYPMed        Delta `yaml:"cyp_medium"`
	} `yaml:"drivers"`
}

// DefaultRules returns the built-in base ranges and driver deltas.
func DefaultRules() *Rules {
	r := &Rules{}
	r.Base.BCS = map[string][2]float64{
		"1": {20, 35},
		"2": {30, 55},
		"3": {25, 45},
		"4": {35, 60},
	}
	r.Base.Default = [2]float64{30, 50}
	r.Drivers.HighLogP = Delta{Low: 10, High: 15}
	r.Drivers.ModerateLogP = Delta{Low: 5, High: 10}
	r.Drivers.LongHalfLife = Delta{Low: 5, High: 10}
	r.Drivers.FirstPassHigh = Delta{Low: 10, High: 15}
	r.Drivers.FirstPassMed = Delta{Low: 5, High: 8}
	r.Drivers.CYPHigh = Delta{Low: 10, High: 15}
	r.Drivers.CYPMed = Delta{Low: 5, High: 8}
	return r
}

// LoadRules reads the variability rule table from a YAML file,
// falling back to the built-in defaults.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultRules(), fmt.Errorf("read variability rules: %w", err)
	}
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return DefaultRules(), fmt.Errorf("parse variability rules: %w", err)
	}
	if rules.Base.Default == [2]float64{} {
		rules.Base.Default = DefaultRules().Base.Default
	}
	return &rules, nil
}

// Estimate is the resolved heuristic range plus its audit trail.
type Estimate struct {
	Range      model.CVRange
	Drivers    []string
	Confidence model.Confidence
	Warnings   []string
}

// Estimator applies the rule table to drug features.
type Estimator struct {
	rules *Rules
}

// NewEstimator builds an estimator over an immutable rule table.
func NewEstimator(rules *Rules) *Estimator {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Estimator{rules: rules}
}

// Estimate produces a [low, mode, high] CV range in percent.
func (e *Estimator) Estimate(f model.DrugFeatures) Estimate {
	var drivers, warnings []string

	low, high := e.baseRange(f.BCSClass)
	bcsLabel := "unknown"
	if f.BCSClass != nil {
		bcsLabel = fmt.Sprintf("%d", *f.BCSClass)
	}
	drivers = append(drivers, fmt.Sprintf("Base range from BCS class: %s", bcsLabel))

	if f.LogP != nil {
		switch {
		case *f.LogP >= 4:
			low, high = apply(low, high, e.rules.Drivers.HighLogP)
			drivers = append(drivers, "High logP (>=4) increases variability")
		case *f.LogP >= 3:
			low, high = apply(low, high, e.rules.Drivers.ModerateLogP)
			drivers = append(drivers, "Moderate logP (>=3) increases variability")
		}
	}
	if f.THalfHours != nil && *f.THalfHours >= 24 {
		low, high = apply(low, high, e.rules.Drivers.LongHalfLife)
		drivers = append(drivers, "Long half-life (>=24 h) increases variability")
	}
	switch f.FirstPass {
	case "high":
		low, high = apply(low, high, e.rules.Drivers.FirstPassHigh)
		drivers = append(drivers, "High first-pass effect increases variability")
	case "medium":
		low, high = apply(low, high, e.rules.Drivers.FirstPassMed)
		drivers = append(drivers, "Medium first-pass effect increases variability")
	}
	switch f.CYPInvolvement {
	case "high":
		low, high = apply(low, high, e.rules.Drivers.CYPHigh)
		drivers = append(drivers, "High CYP involvement increases variability")
	case "medium":
		low, high = apply(low, high, e.rules.Drivers.CYPMed)
		drivers = append(drivers, "Medium CYP involvement increases variability")
	}
	if f.NTI != nil && *f.NTI {
		drivers = append(drivers, "NTI flag present; consider conservative range")
	}

	low = clamp(low, rangeFloor, rangeCeiling)
	high = clamp(high, rangeFloor, rangeCeiling)
	if high < low+minSpread {
		high = low + minSpread
	}
	mode := (low + high) / 2

	confidence := confidenceFor(f)
	if confidence == model.ConfidenceLow {
		warnings = append(warnings, "Limited features provided; CV range is conservative.")
	}

	return Estimate{
		Range:      model.CVRange{Low: low, Mode: mode, High: high},
		Drivers:    drivers,
		Confidence: confidence,
		Warnings:   warnings,
	}
}

func (e *Estimator) baseRange(bcsClass *int) (float64, float64) {
	if bcsClass != nil {
		if r, ok := e.rules.Base.BCS[fmt.Sprintf("%d", *bcsClass)]; ok {
			return r[0], r[1]
		}
	}
	return e.rules.Base.Default[0], e.rules.Base.Default[1]
}

func confidenceFor(f model.DrugFeatures) model.Confidence {
	switch known := f.KnownFeatureCount(); {
	case known >= 4:
		return model.ConfidenceHigh
	case known >= 2:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

func apply(low, high float64, d Delta) (float64, float64) {
	return low + d.Low, high + d.High
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
