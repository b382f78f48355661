package regcheck

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/beplan/internal/model"
)

// requiredPK is the Decision 85 minimum endpoint set. t1/2 and
// lambda_z are interchangeable; either one satisfies both slots.
var requiredPK = []string{"Cmax", "AUC0-t", "AUC0-inf", "t1/2", "lambda_z"}

// Input carries everything the regulatory checker inspects. The
// checker never mutates any of it.
type Input struct {
	Request          model.PlanRequest
	Design           model.DesignDecision
	CVInfo           model.CVInfo
	Quality          model.DataQuality
	PKValues         []model.PKValue
	StudyCondition   string
	ValidationIssues []model.ValidationIssue
}

// Checker runs rule-driven regulatory plausibility checks and derives
// the open-question list for the report.
type Checker struct {
	rules *Rules
	log   *zap.Logger
}

func New(rules *Rules, log *zap.Logger) *Checker {
	if rules == nil {
		rules = DefaultRules()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Checker{rules: rules, log: log}
}

// Check evaluates every configured rule. CLARIFY items and ERROR-level
// validation issues are folded into the deduplicated open-question
// list.
func (c *Checker) Check(in Input) ([]model.RegCheckItem, []model.OpenQuestion) {
	items := []model.RegCheckItem{
		c.checkCVDesign(in),
		c.checkWashout(in),
		c.checkRequiredPK(in),
	}
	items = append(items, c.checkFeeding(in)...)
	items = append(items, c.checkMissingInputs(in.Request)...)
	items = append(items, c.dynamicChecks(in)...)

	questions := c.openQuestions(items, in.ValidationIssues)
	c.log.Debug("regulatory checks complete",
		zap.Int("items", len(items)),
		zap.Int("open_questions", len(questions)))
	return items, questions
}

func (c *Checker) checkCVDesign(in Input) model.RegCheckItem {
	rule := c.rules.check("CV_HIGH_DESIGN")
	if rule == nil {
		rule = DefaultRules().check("CV_HIGH_DESIGN")
	}
	item := model.RegCheckItem{RuleID: rule.ID}

	if in.CVInfo.Value == nil {
		item.Status = model.CheckClarify
		item.Message = rule.message("missing_cv", "CVintra not available.")
		item.WhatToClarify = []string{rule.clarify("missing_cv", "Provide CVintra.")}
		return item
	}
	if in.CVInfo.RequiresConfirm && !in.CVInfo.ConfirmedByUser {
		item.Status = model.CheckClarify
		item.Message = rule.message("unconfirmed", "CVintra provided but not confirmed.")
		item.WhatToClarify = []string{rule.clarify("unconfirmed", "Confirm CVintra value.")}
		return item
	}
	if *in.CVInfo.Value > rule.CVThreshold && !containsAny(in.Design.Recommendation, rule.ReplicateKeywords) {
		item.Status = model.CheckRisk
		item.Message = fmt.Sprintf("%s CVintra=%.1f%%, design=%q.",
			rule.message("risk", "High CVintra detected but design is not replicate/scaled."),
			*in.CVInfo.Value, in.Design.Recommendation)
		item.WhatToClarify = []string{rule.clarify("risk", "Consider replicate design or scaled BE approach.")}
		return item
	}
	item.Status = model.CheckOK
	item.Message = rule.message("ok", "Design aligns with CVintra risk profile.")
	return item
}

func (c *Checker) checkWashout(in Input) model.RegCheckItem {
	rule := c.rules.check("WASHOUT")
	if rule == nil {
		rule = DefaultRules().check("WASHOUT")
	}
	item := model.RegCheckItem{RuleID: rule.ID}

	if in.Request.ScheduleDays == nil {
		item.Status = model.CheckClarify
		item.Message = rule.message("missing_schedule", "Washout duration not provided.")
		item.WhatToClarify = []string{rule.clarify("missing_schedule", "Provide washout duration.")}
		return item
	}
	tHalf := tHalfHours(in)
	if tHalf == nil {
		item.Status = model.CheckClarify
		item.Message = rule.message("missing_half", "t1/2 not available to validate washout duration.")
		item.WhatToClarify = []string{rule.clarify("missing_half", "Provide t1/2.")}
		return item
	}
	requiredDays := rule.Multiplier * *tHalf / 24.0
	if *in.Request.ScheduleDays < requiredDays {
		item.Status = model.CheckRisk
		item.Message = fmt.Sprintf("%s Provided %.1f days, required at least %.1f days.",
			rule.message("risk", "Washout may be shorter than 5x t1/2."),
			*in.Request.ScheduleDays, requiredDays)
		return item
	}
	item.Status = model.CheckOK
	item.Message = rule.message("ok", "Washout duration appears adequate.")
	return item
}

func (c *Checker) checkRequiredPK(in Input) model.RegCheckItem {
	item := model.RegCheckItem{RuleID: "DEC85_REQUIRED_PK"}
	present := map[string]bool{}
	for _, pk := range in.PKValues {
		present[pk.Name] = true
	}
	// Either elimination parameter stands in for the other.
	if present["t1/2"] || present["lambda_z"] {
		present["t1/2"] = true
		present["lambda_z"] = true
	}
	var missing []string
	for _, name := range requiredPK {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		item.Status = model.CheckClarify
		item.Message = fmt.Sprintf("Required PK parameters missing: %s.", strings.Join(missing, ", "))
		item.WhatToClarify = []string{fmt.Sprintf("Provide values for %s.", strings.Join(missing, ", "))}
		return item
	}
	item.Status = model.CheckOK
	item.Message = "All required PK parameters present."
	return item
}

func (c *Checker) checkFeeding(in Input) []model.RegCheckItem {
	var items []model.RegCheckItem
	if in.StudyCondition == "unknown" || in.StudyCondition == "" {
		items = append(items, model.RegCheckItem{
			RuleID:        "STUDY_CONDITION_UNKNOWN",
			Status:        model.CheckClarify,
			Message:       "Fed/fasted study condition could not be determined from the evidence.",
			WhatToClarify: []string{"Specify whether the study is fed, fasted, or both."},
		})
	}
	ambiguous := false
	for _, pk := range in.PKValues {
		if pk.AmbiguousCond {
			ambiguous = true
			break
		}
	}
	if ambiguous {
		items = append(items, model.RegCheckItem{
			RuleID:        "FEEDING_AMBIGUITY",
			Status:        model.CheckClarify,
			Message:       "Some PK values carry both fed and fasted signals in the same source context.",
			WhatToClarify: []string{"Confirm the feeding condition for the ambiguous values."},
		})
	}
	return items
}

func (c *Checker) checkMissingInputs(req model.PlanRequest) []model.RegCheckItem {
	var items []model.RegCheckItem
	for _, rule := range c.rules.OpenQuestions {
		missing := false
		for _, field := range rule.InputFields {
			if !requestFieldPresent(req, field) {
				missing = true
				break
			}
		}
		if !missing {
			continue
		}
		items = append(items, model.RegCheckItem{
			RuleID:        rule.ID,
			Status:        model.CheckClarify,
			Message:       rule.Message,
			WhatToClarify: []string{rule.Question},
		})
	}
	return items
}

// dynamicChecks derive from the run's computed state rather than the
// request inputs.
func (c *Checker) dynamicChecks(in Input) []model.RegCheckItem {
	var items []model.RegCheckItem
	if in.Quality.Level == model.LevelRed {
		items = append(items, model.RegCheckItem{
			RuleID:  "DQI_RED",
			Status:  model.CheckRisk,
			Message: "Data quality is red; the plan rests on unreliable evidence.",
		})
	}
	if in.CVInfo.Source == model.CVSourceDerivedCI {
		items = append(items, model.RegCheckItem{
			RuleID:        "CV_DERIVED_ASSUMPTIONS",
			Status:        model.CheckClarify,
			Message:       "CVintra was derived from a confidence interval under 2x2 crossover, log-scale assumptions.",
			WhatToClarify: []string{"Confirm the source study design matches those assumptions."},
		})
	}
	if in.CVInfo.IsRange() {
		items = append(items, model.RegCheckItem{
			RuleID:        "CV_RANGE_UNCERTAIN",
			Status:        model.CheckClarify,
			Message:       "CVintra is a heuristic range estimate, not a measured value.",
			WhatToClarify: []string{"Provide a measured CVintra if available."},
		})
	}
	if in.CVInfo.RequiresConfirm && !in.CVInfo.ConfirmedByUser {
		items = append(items, model.RegCheckItem{
			RuleID:        "CV_CONFIRM_NDET",
			Status:        model.CheckClarify,
			Message:       "CVintra must be confirmed before deterministic sample size is computed.",
			WhatToClarify: []string{"Confirm the CVintra value."},
		})
	}
	return items
}

// openQuestions folds CLARIFY items and ERROR-level validation issues
// into a deduplicated question list.
func (c *Checker) openQuestions(items []model.RegCheckItem, issues []model.ValidationIssue) []model.OpenQuestion {
	var questions []model.OpenQuestion
	seen := map[string]bool{}
	add := func(q model.OpenQuestion) {
		key := strings.ToLower(strings.TrimSpace(q.Question))
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		questions = append(questions, q)
	}

	for _, item := range items {
		if item.Status != model.CheckClarify {
			continue
		}
		meta := c.rules.QuestionMeta[item.RuleID]
		if meta.Category == "" {
			meta.Category = "general"
		}
		if meta.Priority == "" {
			meta.Priority = "medium"
		}
		question := item.Message
		if len(item.WhatToClarify) > 0 {
			question = strings.Join(item.WhatToClarify, " ")
		}
		add(model.OpenQuestion{
			Category:     meta.Category,
			Question:     question,
			Priority:     meta.Priority,
			LinkedRuleID: item.RuleID,
		})
	}
	for _, issue := range issues {
		if issue.Severity != model.SeverityError {
			continue
		}
		add(model.OpenQuestion{
			Category: "validation",
			Question: fmt.Sprintf("Resolve %s: %s", issue.Metric, issue.Message),
			Priority: "high",
		})
	}
	return questions
}

func containsAny(s string, keywords []string) bool {
	lower := strings.ToLower(s)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func tHalfHours(in Input) *float64 {
	if in.Request.Features.THalfHours != nil {
		return in.Request.Features.THalfHours
	}
	for _, pk := range in.PKValues {
		if pk.Name != "t1/2" {
			continue
		}
		if pk.NormalizedValue != nil {
			return pk.NormalizedValue
		}
		if pk.Value != nil {
			return pk.Value
		}
	}
	return nil
}

func requestFieldPresent(req model.PlanRequest, field string) bool {
	switch field {
	case "hospitalization_duration_days":
		return req.HospitalizationDays != nil
	case "sampling_duration_days":
		return req.SamplingDays != nil
	case "follow_up_duration_days":
		return req.FollowUpDays != nil
	case "phone_follow_up_ok":
		return req.PhoneFollowUpOK != nil
	case "blood_volume_total_ml":
		return req.BloodVolumeTotalML != nil
	case "blood_volume_pk_ml":
		return req.BloodVolumePKML != nil
	case "schedule_days":
		return req.ScheduleDays != nil
	default:
		return true
	}
}
