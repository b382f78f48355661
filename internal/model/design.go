package model

// DesignDecision is the selected trial design for one run. Immutable
// once the design engine returns it.
type DesignDecision struct {
	Recommendation        string   `json:"recommendation"`
	ReasoningRuleID       string   `json:"reasoning_rule_id"`
	ReasoningText         string   `json:"reasoning_text"`
	RequiredInputsMissing []string `json:"required_inputs_missing,omitempty"`
}
