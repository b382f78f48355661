package model

// PKValue is one extracted pharmacokinetic parameter.
type PKValue struct {
	Name            string     `json:"name"`  // Canonical metric tag: Cmax, AUC0-t, t1/2, CVintra, ...
	Value           *float64   `json:"value"` // Absent value is an ERROR issue, never zero
	Unit            string     `json:"unit,omitempty"`
	NormalizedValue *float64   `json:"normalized_value,omitempty"` // Set by validation when a conversion factor exists
	NormalizedUnit  string     `json:"normalized_unit,omitempty"`
	Evidence        []Evidence `json:"evidence,omitempty"`
	Warnings        []string   `json:"warnings,omitempty"`
	ConflictSources []string   `json:"conflict_sources,omitempty"`
	AmbiguousCond   bool       `json:"ambiguous_condition,omitempty"` // Fed and fasted signals in the same context
}

// AddWarning appends a warning code once.
func (p *PKValue) AddWarning(code string) {
	for _, w := range p.Warnings {
		if w == code {
			return
		}
	}
	p.Warnings = append(p.Warnings, code)
}

// HasWarning reports whether the value carries the exact warning code.
func (p *PKValue) HasWarning(code string) bool {
	for _, w := range p.Warnings {
		if w == code {
			return true
		}
	}
	return false
}

// CIType distinguishes ratio-scale from percent-scale CI bounds.
type CIType string

const (
	CITypeRatio   CIType = "ratio"
	CITypePercent CIType = "percent"
)

// CIValue is one extracted confidence interval for a BE endpoint.
type CIValue struct {
	Param           string     `json:"param"` // AUC or Cmax
	CILow           float64    `json:"ci_low"`
	CIHigh          float64    `json:"ci_high"`
	CIType          CIType     `json:"ci_type"`
	ConfidenceLevel float64    `json:"confidence_level"` // Default 0.90
	N               *int       `json:"n,omitempty"`      // Sample size behind the CI
	DesignHint      string     `json:"design_hint,omitempty"`
	GMR             *float64   `json:"gmr,omitempty"`
	Evidence        []Evidence `json:"evidence,omitempty"`
	Warnings        []string   `json:"warnings,omitempty"`
	AmbiguousCond   bool       `json:"ambiguous_condition,omitempty"`
}

// RatioBounds returns the CI bounds on the ratio scale, converting
// percent-type bounds first.
func (c CIValue) RatioBounds() (low, high float64) {
	if c.CIType == CITypePercent {
		return c.CILow / 100.0, c.CIHigh / 100.0
	}
	return c.CILow, c.CIHigh
}

// Severity of a validation issue.
type Severity string

const (
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// ValidationIssue is one typed finding produced by the validator.
// Data errors are carried as issues, never raised.
type ValidationIssue struct {
	Metric   string   `json:"metric"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}
