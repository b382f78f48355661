package quality

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Penalty discounts one component when a warning code is present.
type Penalty struct {
	Component string  `yaml:"component"`
	Value     float64 `yaml:"value"`
}

// Criteria is the data-quality scoring configuration.
type Criteria struct {
	Weights    map[string]float64 `yaml:"weights"`
	Thresholds struct {
		Green  int `yaml:"green"`
		Yellow int `yaml:"yellow"`
	} `yaml:"thresholds"`
	Penalties    map[string]Penalty `yaml:"penalties"`
	HardRedCodes []string           `yaml:"hard_red_codes"`
	RequiredPK   []string           `yaml:"required_pk"`
	MaxReasons   int                `yaml:"max_reasons"`
}

// DefaultCriteria returns the documented built-in weighting.
func DefaultCriteria() *Criteria {
	c := &Criteria{
		Weights: map[string]float64{
			"completeness":   0.25,
			"traceability":   0.25,
			"plausibility":   0.20,
			"consistency":    0.20,
			"source_quality": 0.10,
		},
		Penalties:    map[string]Penalty{},
		HardRedCodes: []string{"traceability_zero"},
		RequiredPK:   []string{"Cmax", "AUC0-t", "AUC0-inf", "t1/2", "lambda_z"},
		MaxReasons:   5,
	}
	c.Thresholds.Green = 80
	c.Thresholds.Yellow = 55
	return c
}

// LoadCriteria reads the criteria file, falling back to defaults when
// the file is absent, malformed, or incomplete.
func LoadCriteria(path string) (*Criteria, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultCriteria(), fmt.Errorf("read quality criteria: %w", err)
	}
	var c Criteria
	if err := yaml.Unmarshal(data, &c); err != nil {
		return DefaultCriteria(), fmt.Errorf("parse quality criteria: %w", err)
	}
	if len(c.Weights) == 0 || c.Thresholds.Green == 0 {
		return DefaultCriteria(), fmt.Errorf("quality criteria incomplete: %s", path)
	}
	if c.Penalties == nil {
		c.Penalties = map[string]Penalty{}
	}
	if len(c.RequiredPK) == 0 {
		c.RequiredPK = DefaultCriteria().RequiredPK
	}
	if c.MaxReasons <= 0 {
		c.MaxReasons = DefaultCriteria().MaxReasons
	}
	return &c, nil
}
