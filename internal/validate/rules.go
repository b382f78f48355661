package validate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MetricRule holds the unit and plausibility constraints for one
// canonical metric group.
type MetricRule struct {
	Units         []string           `yaml:"units"`
	CanonicalUnit string             `yaml:"canonical_unit"`
	Conversions   map[string]float64 `yaml:"conversions"` // unit -> factor into canonical unit
	Min           *float64           `yaml:"min"`
	Max           *float64           `yaml:"max"`
}

// Rules is the validation rule table, loaded once and read-only for
// the process lifetime.
type Rules struct {
	Metrics map[string]MetricRule `yaml:"metrics"`
	Aliases map[string]string     `yaml:"aliases"` // metric name -> canonical group (AUC0-t -> AUC)
}

// Canonical resolves a metric name to its rule group.
func (r *Rules) Canonical(name string) string {
	if alias, ok := r.Aliases[name]; ok {
		return alias
	}
	return name
}

// MetricRuleFor returns the rule for a metric, following aliases.
func (r *Rules) MetricRuleFor(name string) (MetricRule, bool) {
	rule, ok := r.Metrics[r.Canonical(name)]
	return rule, ok
}

// LoadRules reads the validation rule table from a YAML file. An
// absent or malformed file yields the built-in defaults.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultRules(), fmt.Errorf("read validation rules: %w", err)
	}
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return DefaultRules(), fmt.Errorf("parse validation rules: %w", err)
	}
	if len(rules.Metrics) == 0 {
		return DefaultRules(), fmt.Errorf("validation rules empty: %s", path)
	}
	if rules.Aliases == nil {
		rules.Aliases = DefaultRules().Aliases
	}
	return &rules, nil
}

func fptr(v float64) *float64 { return &v }

// DefaultRules returns the built-in unit/range tables.
func DefaultRules() *Rules {
	return &Rules{
		Metrics: map[string]MetricRule{
			"Cmax": {
				Units:         []string{"ng/mL", "µg/mL", "ug/mL", "mg/L"},
				CanonicalUnit: "ng/mL",
				Conversions: map[string]float64{
					"ng/mL": 1,
					"µg/mL": 1000,
					"ug/mL": 1000,
					"mg/L":  1000,
				},
				Min: fptr(0.01),
				Max: fptr(100000),
			},
			"AUC": {
				Units:         []string{"ng·h/mL", "ng*h/mL", "h*ng/mL", "µg·h/mL", "ug*h/mL", "mg·h/L"},
				CanonicalUnit: "ng·h/mL",
				Conversions: map[string]float64{
					"ng·h/mL": 1,
					"ng*h/mL": 1,
					"h*ng/mL": 1,
					"µg·h/mL": 1000,
					"ug*h/mL": 1000,
					"mg·h/L":  1000,
				},
				Min: fptr(0.1),
				Max: fptr(1000000),
			},
			"t1/2": {
				Units:         []string{"h", "hr", "min", "d"},
				CanonicalUnit: "h",
				Conversions: map[string]float64{
					"h":   1,
					"hr":  1,
					"min": 1.0 / 60.0,
					"d":   24,
				},
				Min: fptr(0.25),
				Max: fptr(500),
			},
			"Tmax": {
				Units:         []string{"h", "hr", "min"},
				CanonicalUnit: "h",
				Conversions: map[string]float64{
					"h":   1,
					"hr":  1,
					"min": 1.0 / 60.0,
				},
				Min: fptr(0.1),
				Max: fptr(48),
			},
			"lambda_z": {
				Units:         []string{"1/h"},
				CanonicalUnit: "1/h",
				Conversions:   map[string]float64{"1/h": 1},
				Min:           fptr(0.001),
				Max:           fptr(5),
			},
			"CVintra": {
				Units:         []string{"%", "fraction"},
				CanonicalUnit: "%",
				Conversions: map[string]float64{
					"%":        1,
					"fraction": 100,
				},
				Min: fptr(5),
				Max: fptr(200),
			},
		},
		Aliases: map[string]string{
			"AUC0-t":   "AUC",
			"AUC0-inf": "AUC",
			"AUC0-72":  "AUC",
			"AUCt":     "AUC",
			"AUCinf":   "AUC",
		},
	}
}
