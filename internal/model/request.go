package model

// OutputMode controls the pipeline's blocking policy.
type OutputMode string

const (
	// ModeDraft always returns a full report; blockers are computed
	// but never prevent a response.
	ModeDraft OutputMode = "draft"
	// ModeFinal returns the report together with a blocker list the
	// caller uses to reject the run.
	ModeFinal OutputMode = "final"
)

// PlanRequest describes one protocol planning run.
type PlanRequest struct {
	INN        string `json:"inn"`
	DosageForm string `json:"dosage_form,omitempty"`
	Dose       string `json:"dose,omitempty"`
	ProtocolID string `json:"protocol_id,omitempty"`

	RetMax          int      `json:"retmax"`
	SelectedSources []string `json:"selected_sources,omitempty"`

	// EvidenceFile bypasses literature search: PK evidence is loaded
	// from this prepared JSON file instead.
	EvidenceFile string `json:"evidence_file,omitempty"`

	ManualCV    *float64 `json:"manual_cv,omitempty"` // percent
	CVConfirmed bool     `json:"cv_confirmed"`
	UseFallback bool     `json:"use_fallback"` // Allow approximate CV-from-CI when the oracle is down

	NTI               *bool  `json:"nti,omitempty"`
	PreferredDesign   string `json:"preferred_design,omitempty"`
	RSABERequested    bool   `json:"rsabe_requested"`
	ProtocolCondition string `json:"protocol_condition,omitempty"` // fed, fasted, both

	Power      float64 `json:"power"`
	Alpha      float64 `json:"alpha"`
	Dropout    float64 `json:"dropout"`
	ScreenFail float64 `json:"screen_fail"`

	RiskSeed         *uint64 `json:"risk_seed,omitempty"`
	RiskNSims        int     `json:"risk_n_sims"`
	RiskDistribution string  `json:"risk_distribution,omitempty"`

	ScheduleDays *float64 `json:"schedule_days,omitempty"` // washout

	// Optional schedule/logistics inputs probed by regulatory checks.
	HospitalizationDays *float64 `json:"hospitalization_duration_days,omitempty"`
	SamplingDays        *float64 `json:"sampling_duration_days,omitempty"`
	FollowUpDays        *float64 `json:"follow_up_duration_days,omitempty"`
	PhoneFollowUpOK     *bool    `json:"phone_follow_up_ok,omitempty"`
	BloodVolumeTotalML  *float64 `json:"blood_volume_total_ml,omitempty"`
	BloodVolumePKML     *float64 `json:"blood_volume_pk_ml,omitempty"`

	// Drug features feeding the variability estimator.
	Features DrugFeatures `json:"features"`

	OutputMode OutputMode `json:"output_mode"`

	// Final-mode policy knobs.
	FinalRequireSampleSize      bool `json:"final_require_sample_size"`
	FinalRequireCVPoint         bool `json:"final_require_cv_point"`
	FinalRequirePrimaryEndpoint bool `json:"final_require_primary_endpoints"`
}

// DrugFeatures are the physicochemical/clinical features used by the
// CV range estimator when no direct measurement exists.
type DrugFeatures struct {
	BCSClass       *int     `json:"bcs_class,omitempty"` // 1..4
	LogP           *float64 `json:"logp,omitempty"`
	THalfHours     *float64 `json:"t_half_hours,omitempty"`
	FirstPass      string   `json:"first_pass,omitempty"`      // low, medium, high
	CYPInvolvement string   `json:"cyp_involvement,omitempty"` // low, medium, high
	NTI            *bool    `json:"nti,omitempty"`
}

// KnownFeatureCount counts the non-null feature fields; it drives the
// estimator's confidence level.
func (f DrugFeatures) KnownFeatureCount() int {
	n := 0
	if f.BCSClass != nil {
		n++
	}
	if f.LogP != nil {
		n++
	}
	if f.THalfHours != nil {
		n++
	}
	if f.FirstPass != "" {
		n++
	}
	if f.CYPInvolvement != "" {
		n++
	}
	if f.NTI != nil {
		n++
	}
	return n
}
