package model

import "time"

// CheckStatus is the verdict of one regulatory check.
type CheckStatus string

const (
	CheckOK      CheckStatus = "OK"
	CheckRisk    CheckStatus = "RISK"
	CheckClarify CheckStatus = "CLARIFY"
)

// RegCheckItem is one regulatory plausibility finding.
type RegCheckItem struct {
	RuleID        string      `json:"rule_id"`
	Status        CheckStatus `json:"status"`
	Message       string      `json:"message"`
	WhatToClarify []string    `json:"what_to_clarify,omitempty"`
}

// OpenQuestion is an item that needs explicit human input before the
// protocol can be finalized.
type OpenQuestion struct {
	Category     string `json:"category"`
	Question     string `json:"question"`
	Priority     string `json:"priority"` // low, medium, high
	LinkedRuleID string `json:"linked_rule_id,omitempty"`
}

// FullReport is the terminal aggregate of one pipeline run. Created
// once per invocation and never mutated after return; the rendering
// collaborator consumes it as-is.
type FullReport struct {
	INN            string `json:"inn"`
	DosageForm     string `json:"dosage_form,omitempty"`
	Dose           string `json:"dose,omitempty"`
	ProtocolID     string `json:"protocol_id"`
	ProtocolStatus string `json:"protocol_status"` // Draft or Final

	RunID       string    `json:"run_id"`       // Random per run
	RequestHash string    `json:"request_hash"` // Stable hash of key request fields, for audit correlation
	GeneratedAt time.Time `json:"generated_at"`

	Sources          []SourceCandidate `json:"sources"`
	PKValues         []PKValue         `json:"pk_values"`
	CIValues         []CIValue         `json:"ci_values"`
	StudyCondition   string            `json:"study_condition"` // fed, fasted, mixed, unknown
	ValidationIssues []ValidationIssue `json:"validation_issues,omitempty"`

	CVInfo         CVInfo          `json:"cv_info"`
	DataQuality    DataQuality     `json:"data_quality"`
	Design         DesignDecision  `json:"design"`
	SampleSizeDet  *SampleSizeDet  `json:"sample_size_det,omitempty"`
	SampleSizeRisk *SampleSizeRisk `json:"sample_size_risk,omitempty"`

	RegCheck      []RegCheckItem `json:"reg_check"`
	OpenQuestions []OpenQuestion `json:"open_questions"`
	Warnings      []string       `json:"warnings,omitempty"`

	// Blockers is non-empty when a Final-mode run cannot be finalized;
	// the protocol stays a Draft and the caller decides how to proceed.
	Blockers []string `json:"blockers,omitempty"`
}
