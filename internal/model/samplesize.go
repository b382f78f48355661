package model

// SampleSizeDet is the deterministic sample-size result.
// All N fields are nil when the confirmation gate blocked the
// calculation.
type SampleSizeDet struct {
	Design     string            `json:"design"`
	Alpha      float64           `json:"alpha"`
	Power      float64           `json:"power"`
	CV         float64           `json:"cv"` // percent
	NTotal     *int              `json:"n_total"`
	NRand      *int              `json:"n_rand"`
	NScreen    *int              `json:"n_screen"`
	Dropout    float64           `json:"dropout"`
	ScreenFail float64           `json:"screen_fail"`
	Details    map[string]string `json:"details,omitempty"` // engine, raw oracle output, timestamp
	Warnings   []string          `json:"warnings,omitempty"`
}

// SampleSizeRisk is the Monte-Carlo risk-based sample-size result,
// produced when CV is only a heuristic range. Seed/RNG metadata is
// recorded so identical inputs reproduce identical output.
type SampleSizeRisk struct {
	CVDistribution   string             `json:"cv_distribution"`
	NTargets         map[string]int     `json:"n_targets"`      // "0.7"/"0.8"/"0.9" -> N
	PSuccessAtN      map[string]float64 `json:"p_success_at_n"` // empirical P(required N <= target N)
	SensitivityNotes []string           `json:"sensitivity_notes,omitempty"`
	Warnings         []string           `json:"warnings,omitempty"`
	Seed             uint64             `json:"seed"`
	NSims            int                `json:"n_sims"`
	RNGName          string             `json:"rng_name"`
	Method           string             `json:"method"`
}
