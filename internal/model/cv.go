package model

// CVSource identifies which arm of the trust chain produced the CV.
type CVSource string

const (
	CVSourceManual    CVSource = "manual"
	CVSourceReported  CVSource = "reported"
	CVSourceDerivedCI CVSource = "derived_from_ci"
	CVSourceRange     CVSource = "range"
	CVSourceUnknown   CVSource = "unknown"
)

// Confidence is the coarse trust level attached to a resolved value.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// CVInfo is the single resolved intra-subject CV decision for a run.
// The CV gate produces exactly one; downstream stages read it only.
// Value is in percent (30.0 = 30%).
type CVInfo struct {
	Value           *float64   `json:"value"`
	Source          CVSource   `json:"cv_source"`
	Parameter       string     `json:"parameter,omitempty"` // AUC or Cmax when derived from a CI
	Confidence      Confidence `json:"confidence"`
	ConfidenceScore float64    `json:"confidence_score"` // 0..1, trust policy input
	RequiresConfirm bool       `json:"requires_human_confirm"`
	ConfirmedByUser bool       `json:"confirmed_by_user"`
	Evidence        []Evidence `json:"evidence,omitempty"`
	Warnings        []string   `json:"warnings,omitempty"`
	RangeLow        *float64   `json:"range_low,omitempty"`
	RangeHigh       *float64   `json:"range_high,omitempty"`
	RangeMode       *float64   `json:"range_mode,omitempty"`
	RangeDrivers    []string   `json:"range_drivers,omitempty"`
	RangeConfidence Confidence `json:"range_confidence,omitempty"`
}

// IsRange reports whether the CV is only a heuristic range, not a
// measured or derived point estimate.
func (c CVInfo) IsRange() bool {
	return c.Source == CVSourceRange || c.Source == "variability_range"
}

// CVRange is a heuristic [low, mode, high] CV estimate in percent.
type CVRange struct {
	Low  float64 `json:"low"`
	Mode float64 `json:"mode"`
	High float64 `json:"high"`
}

// CVInput is the confirmed-or-not CV a caller hands to sample-size
// calculation.
type CVInput struct {
	Value     float64    `json:"value"` // percent
	Confirmed bool       `json:"confirmed"`
	Evidence  []Evidence `json:"evidence,omitempty"`
}
