package regcheck

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CheckRule configures one built-in check.
type CheckRule struct {
	ID                string            `yaml:"id"`
	CVThreshold       float64           `yaml:"cv_threshold"`
	ReplicateKeywords []string          `yaml:"replicate_keywords"`
	Multiplier        float64           `yaml:"multiplier"`
	Messages          map[string]string `yaml:"messages"` // keyed by situation: ok, risk, missing_cv, ...
	Clarify           map[string]string `yaml:"clarify"`
}

func (c CheckRule) message(key, fallback string) string {
	if m, ok := c.Messages[key]; ok && m != "" {
		return m
	}
	return fallback
}

func (c CheckRule) clarify(key, fallback string) string {
	if m, ok := c.Clarify[key]; ok && m != "" {
		return m
	}
	return fallback
}

// QuestionRule raises a CLARIFY when any of its input fields is
// missing from the request.
type QuestionRule struct {
	ID          string   `yaml:"id"`
	InputFields []string `yaml:"input_fields"`
	Message     string   `yaml:"message"`
	Question    string   `yaml:"question"`
	Category    string   `yaml:"category"`
	Priority    string   `yaml:"priority"`
}

// QuestionMeta carries display metadata for an open question.
type QuestionMeta struct {
	Category string `yaml:"category"`
	Priority string `yaml:"priority"`
}

// Rules is the regulatory check configuration.
type Rules struct {
	Checks        []CheckRule             `yaml:"checks"`
	OpenQuestions []QuestionRule          `yaml:"open_questions"`
	QuestionMeta  map[string]QuestionMeta `yaml:"question_meta"`
}

func (r *Rules) check(id string) *CheckRule {
	for i := range r.Checks {
		if r.Checks[i].ID == id {
			return &r.Checks[i]
		}
	}
	return nil
}

// DefaultRules returns the built-in regulatory rule table.
func DefaultRules() *Rules {
	return &Rules{
		Checks: []CheckRule{
			{
				ID:                "CV_HIGH_DESIGN",
				CVThreshold:       50,
				ReplicateKeywords: []string{"replicate", "rsabe", "partial"},
				Messages: map[string]string{
					"missing_cv":  "CVintra not available.",
					"unconfirmed": "CVintra provided but not confirmed.",
					"risk":        "High CVintra detected but design is not replicate/scaled.",
					"ok":          "Design aligns with CVintra risk profile.",
				},
				Clarify: map[string]string{
					"missing_cv":  "Provide CVintra.",
					"unconfirmed": "Confirm CVintra value.",
					"risk":        "Consider replicate design or scaled BE approach.",
				},
			},
			{
				ID:         "WASHOUT",
				Multiplier: 5,
				Messages: map[string]string{
					"missing_schedule": "Washout duration not provided.",
					"missing_half":     "t1/2 not available to validate washout duration.",
					"risk":             "Washout may be shorter than 5x t1/2.",
					"ok":               "Washout duration appears adequate.",
				},
				Clarify: map[string]string{
					"missing_schedule": "Provide washout duration.",
					"missing_half":     "Provide t1/2.",
				},
			},
		},
		OpenQuestions: []QuestionRule{
			{
				ID:          "SCHEDULE_DURATIONS",
				InputFields: []string{"hospitalization_duration_days", "sampling_duration_days", "follow_up_duration_days"},
				Message:     "Study schedule durations missing.",
				Question:    "Provide hospitalization, sampling, and follow-up durations.",
				Category:    "schedule",
				Priority:    "medium",
			},
			{
				ID:          "FOLLOW_UP_MODE",
				InputFields: []string{"phone_follow_up_ok"},
				Message:     "Follow-up mode not specified.",
				Question:    "Is a phone follow-up acceptable instead of an on-site visit?",
				Category:    "schedule",
				Priority:    "low",
			},
			{
				ID:          "BLOOD_VOLUMES",
				InputFields: []string{"blood_volume_total_ml", "blood_volume_pk_ml"},
				Message:     "Blood volume limits missing.",
				Question:    "Provide total and PK blood volume limits per subject.",
				Category:    "safety",
				Priority:    "medium",
			},
		},
		QuestionMeta: map[string]QuestionMeta{
			"CV_HIGH_DESIGN":          {Category: "cv", Priority: "high"},
			"WASHOUT":                 {Category: "schedule", Priority: "high"},
			"DEC85_REQUIRED_PK":       {Category: "pk", Priority: "high"},
			"FEEDING_AMBIGUITY":       {Category: "feeding", Priority: "medium"},
			"STUDY_CONDITION_UNKNOWN": {Category: "feeding", Priority: "medium"},
			"DQI_RED":                 {Category: "quality", Priority: "high"},
			"CV_DERIVED_ASSUMPTIONS":  {Category: "cv", Priority: "medium"},
			"CV_RANGE_UNCERTAIN":      {Category: "cv", Priority: "medium"},
			"CV_CONFIRM_NDET":         {Category: "cv", Priority: "high"},
		},
	}
}

// LoadRules reads the regulatory rule table, falling back to the
// built-in defaults.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultRules(), fmt.Errorf("read regulatory rules: %w", err)
	}
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return DefaultRules(), fmt.Errorf("parse regulatory rules: %w", err)
	}
	if len(rules.Checks) == 0 {
		return DefaultRules(), fmt.Errorf("regulatory rules empty: %s", path)
	}
	if rules.QuestionMeta == nil {
		rules.QuestionMeta = DefaultRules().QuestionMeta
	}
	return &rules, nil
}
