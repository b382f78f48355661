// Package quality combines completeness, traceability, plausibility,
// consistency, and source quality into one auditable score, and
// decides whether the deterministic sample size may be trusted
// without human sign-off.
package quality

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/beplan/internal/cvgate"
	"github.com/ppiankov/beplan/internal/model"
)

// Hard-gate codes that degrade the verdict regardless of the score.
const (
	gateFallbackPK        = "fallback_pk"
	gateConditionConflict = "protocol_condition_conflicts_with_evidence"
	gateSourcesMismatch   = "selected_sources_mismatch"
)

// Input is everything the scorer weighs for one run.
type Input struct {
	PKValues          []model.PKValue
	CIValues          []model.CIValue
	Sources           []model.SourceCandidate
	CVInfo            model.CVInfo
	ValidationIssues  []model.ValidationIssue
	PKWarnings        []string
	ProtocolCondition string
	SelectedSources   []string
	CalcNotes         []string
}

// Scorer is configured once; its criteria are immutable afterwards.
type Scorer struct {
	criteria *Criteria
	trust    cvgate.TrustPolicy
	log      *zap.Logger
}

// NewScorer builds a scorer over the criteria and the CV trust policy.
func NewScorer(criteria *Criteria, trust cvgate.TrustPolicy, log *zap.Logger) *Scorer {
	if criteria == nil {
		criteria = DefaultCriteria()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scorer{criteria: criteria, trust: trust, log: log}
}

// Score computes the data quality verdict.
func (s *Scorer) Score(in Input) model.DataQuality {
	var reasons []string
	var hardGates []string

	if containsStr(in.PKWarnings, gateFallbackPK) {
		hardGates = append(hardGates, gateFallbackPK)
		reasons = append(reasons, "Hard gate: PK/CV from fallback; export of N_det blocked.")
	}
	if (in.ProtocolCondition == "fed" || in.ProtocolCondition == "fasted") && containsStr(in.CalcNotes, "condition_tagging_missing") {
		hardGates = append(hardGates, gateConditionConflict)
		reasons = append(reasons, "Hard gate: Protocol condition (fed/fasted) conflicts with untagged evidence; resolve before final export.")
	}
	if len(in.SelectedSources) > 0 && !anySourceMatches(in.SelectedSources, in.Sources) {
		hardGates = append(hardGates, gateSourcesMismatch)
		reasons = append(reasons, "Hard gate: Selected sources do not match any source in the report; verify sources.")
	}

	completeness, compReasons := s.completeness(in)
	reasons = append(reasons, compReasons...)
	traceability := s.traceability(in, &reasons)
	plausibility := s.plausibility(in.ValidationIssues, &reasons)
	consistency := s.consistency(in.PKValues, &reasons)
	sourceQuality := s.sourceQuality(in.Sources, &reasons)

	components := map[string]float64{
		"completeness":   completeness,
		"traceability":   traceability,
		"plausibility":   plausibility,
		"consistency":    consistency,
		"source_quality": sourceQuality,
	}
	for code, pen := range s.criteria.Penalties {
		if !collectWarningCodes(in)[code] {
			continue
		}
		if _, ok := components[pen.Component]; ok {
			components[pen.Component] = math.Max(0, components[pen.Component]-pen.Value)
			reasons = append(reasons, fmt.Sprintf("Penalty on %s: warning '%s'.", pen.Component, code))
		}
	}

	score := s.weightedScore(components)
	level := s.level(score)

	hardRed := missingPrimaryEndpoints(in.PKValues)
	if hardRed {
		reasons = append([]string{"Hard Red Flag: Missing primary PK endpoints (AUC and Cmax)."}, reasons...)
	} else if containsStr(s.criteria.HardRedCodes, "traceability_zero") && components["traceability"] == 0 {
		hardRed = true
		reasons = append([]string{"Hard Red Flag: No evidence for any numeric value (traceability=0)."}, reasons...)
	}
	if hardRed {
		score = 0
		level = model.LevelRed
	}

	trusted := in.CVInfo.ConfirmedByUser || s.trust.AutoTrusted(in.CVInfo)
	isRange := in.CVInfo.IsRange()
	allowNDet := (level == model.LevelGreen || level == model.LevelYellow) && trusted && !isRange
	preferNRisk := level == model.LevelRed || isRange || !trusted
	if hardRed {
		allowNDet = false
		preferNRisk = true
	}

	for _, gate := range hardGates {
		switch gate {
		case gateFallbackPK, gateConditionConflict:
			if level == model.LevelGreen {
				level = model.LevelYellow
				if score > 79 {
					score = 79
				}
			}
			allowNDet = false
		case gateSourcesMismatch:
			level = model.LevelRed
			score = 0
			allowNDet = false
			preferNRisk = true
		}
	}

	dq := model.DataQuality{
		Score: score,
		Level: level,
		Components: model.QualityComponents{
			Completeness:  round3(components["completeness"]),
			Traceability:  round3(components["traceability"]),
			Plausibility:  round3(components["plausibility"]),
			Consistency:   round3(components["consistency"]),
			SourceQuality: round3(components["source_quality"]),
		},
		Reasons:     dedupeCap(reasons, s.criteria.MaxReasons),
		AllowNDet:   allowNDet,
		PreferNRisk: preferNRisk,
	}
	s.log.Debug("data quality scored",
		zap.Int("score", dq.Score),
		zap.String("level", string(dq.Level)),
		zap.Bool("allow_n_det", dq.AllowNDet))
	return dq
}

// completeness averages the required-PK ratio with presence flags for
// CV, CI, the CI's n, and study-condition metadata.
func (s *Scorer) completeness(in Input) (float64, []string) {
	var reasons []string
	present := map[string]bool{}
	for _, pk := range in.PKValues {
		present[pk.Name] = true
	}

	var baseRequired []string
	halfRequired := false
	for _, p := range s.criteria.RequiredPK {
		if p == "t1/2" || p == "lambda_z" {
			halfRequired = true
			continue
		}
		baseRequired = append(baseRequired, p)
	}

	var missing []string
	for _, p := range baseRequired {
		if !present[p] {
			missing = append(missing, p)
		}
	}
	// Either half-life or the elimination rate constant satisfies the
	// half-life requirement.
	if halfRequired && !present["t1/2"] && !present["lambda_z"] {
		missing = append(missing, "t1/2 or lambda_z")
	}

	requiredTotal := len(baseRequired)
	if halfRequired {
		requiredTotal++
	}
	pkRatio := 1.0
	if requiredTotal > 0 {
		pkRatio = float64(requiredTotal-len(missing)) / float64(requiredTotal)
	}
	if len(missing) > 0 {
		reasons = append(reasons, fmt.Sprintf("Missing required PK parameters: %s.", strings.Join(missing, ", ")))
	}

	cvPresent := 0.0
	if in.CVInfo.Value != nil {
		cvPresent = 1.0
	} else {
		reasons = append(reasons, "CVintra not available.")
	}

	ciPresent := 0.0
	if len(in.CIValues) > 0 {
		ciPresent = 1.0
	} else {
		reasons = append(reasons, "CI values not available.")
	}

	nPresent := 0.0
	for _, ci := range in.CIValues {
		if ci.N != nil {
			nPresent = 1.0
			break
		}
	}
	if nPresent == 0 {
		reasons = append(reasons, "Sample size n not available near CI/GMR context.")
	}

	conditionsPresent := 0.0
	if len(in.Sources) > 0 {
		conditionsPresent = 0.5 // partial credit when sources exist without tags
		for _, src := range in.Sources {
			if src.Feeding != "" || src.Species != "" {
				conditionsPresent = 1.0
				break
			}
		}
	} else {
		reasons = append(reasons, "Study conditions (fed/fasted, species) not available.")
	}

	return (pkRatio + cvPresent + ciPresent + nPresent + conditionsPresent) / 5.0, reasons
}

// traceability is the fraction of numeric items carrying at least one
// traceable evidence record.
func (s *Scorer) traceability(in Input, reasons *[]string) float64 {
	type evidenced struct{ evidence []model.Evidence }
	var items []evidenced
	for _, pk := range in.PKValues {
		if pk.Value != nil {
			items = append(items, evidenced{pk.Evidence})
		}
	}
	for _, ci := range in.CIValues {
		items = append(items, evidenced{ci.Evidence})
	}
	if in.CVInfo.Value != nil {
		items = append(items, evidenced{in.CVInfo.Evidence})
	}
	if len(items) == 0 {
		*reasons = append(*reasons, "No numeric values for traceability scoring.")
		return 0.0
	}
	traceable := 0
	for _, item := range items {
		for _, ev := range item.evidence {
			if ev.Traceable() {
				traceable++
				break
			}
		}
	}
	ratio := float64(traceable) / float64(len(items))
	if ratio < 1.0 {
		*reasons = append(*reasons, "Some numeric values lack traceable evidence (PMID/URL); assumptions reduce DQI.")
	}
	return ratio
}

func (s *Scorer) plausibility(issues []model.ValidationIssue, reasons *[]string) float64 {
	errors, warns := 0, 0
	for _, i := range issues {
		switch i.Severity {
		case model.SeverityError:
			errors++
		case model.SeverityWarn:
			warns++
		}
	}
	penalty := math.Min(1.0, float64(errors)*0.3+float64(warns)*0.1)
	if errors > 0 {
		*reasons = append(*reasons, "Validation errors detected in PK values.")
	} else if warns > 0 {
		*reasons = append(*reasons, "Validation warnings detected in PK values.")
	}
	return math.Max(0, 1.0-penalty)
}

func (s *Scorer) consistency(pkValues []model.PKValue, reasons *[]string) float64 {
	conflicts := 0
	for _, pk := range pkValues {
		for _, w := range pk.Warnings {
			if strings.HasPrefix(w, "conflict_detected") {
				conflicts++
				break
			}
		}
	}
	if conflicts == 0 {
		return 1.0
	}
	ratio := float64(conflicts) / math.Max(1, float64(len(pkValues)))
	*reasons = append(*reasons, "Conflicting values detected across sources.")
	return math.Max(0, 1.0-math.Min(0.7, ratio))
}

func (s *Scorer) sourceQuality(sources []model.SourceCandidate, reasons *[]string) float64 {
	if len(sources) == 0 {
		*reasons = append(*reasons, "Source metadata missing; source quality assumed moderate.")
		return 0.85
	}

	human, animal := false, false
	for _, src := range sources {
		switch src.Species {
		case "human":
			human = true
		case "animal":
			animal = true
		}
	}
	speciesScore := 0.9
	if human {
		speciesScore = 1.0
	} else if animal {
		speciesScore = 0.7
		*reasons = append(*reasons, "Only animal sources detected.")
	}

	tagScore := 0.9
	tags := map[string]bool{}
	for _, src := range sources {
		for _, t := range src.Tags {
			tags[t] = true
		}
	}
	if tags["BE"] || tags["PK"] {
		tagScore = 1.0
	} else if tags["review"] {
		tagScore = 0.85
		*reasons = append(*reasons, "Only review sources detected.")
	}

	return round3(speciesScore * tagScore)
}

func (s *Scorer) weightedScore(components map[string]float64) int {
	totalWeight := 0.0
	for _, w := range s.criteria.Weights {
		totalWeight += w
	}
	if totalWeight == 0 {
		totalWeight = 1.0
	}
	sum := 0.0
	for key, value := range components {
		sum += value * s.criteria.Weights[key]
	}
	return int(math.Round(sum / totalWeight * 100))
}

func (s *Scorer) level(score int) model.QualityLevel {
	switch {
	case score >= s.criteria.Thresholds.Green:
		return model.LevelGreen
	case score >= s.criteria.Thresholds.Yellow:
		return model.LevelYellow
	default:
		return model.LevelRed
	}
}

// missingPrimaryEndpoints reports whether neither Cmax nor any AUC
// metric has a value.
func missingPrimaryEndpoints(pkValues []model.PKValue) bool {
	hasCmax, hasAUC := false, false
	for _, pk := range pkValues {
		if pk.Value == nil {
			continue
		}
		name := strings.ToUpper(pk.Name)
		if name == "CMAX" {
			hasCmax = true
		}
		if strings.HasPrefix(name, "AUC") {
			hasAUC = true
		}
	}
	return !hasCmax && !hasAUC
}

// collectWarningCodes maps raw per-value warnings onto the penalty
// vocabulary of the criteria file.
func collectWarningCodes(in Input) map[string]bool {
	codes := map[string]bool{}
	for _, pk := range in.PKValues {
		for _, w := range pk.Warnings {
			switch {
			case w == "unit_not_allowed":
				codes["unit_suspect"] = true
			case w == "unit_normalization_failed":
				codes["suspicious_conversion"] = true
			case strings.Contains(w, "conflict_detected"):
				codes["conflicting_values"] = true
			}
		}
	}
	for _, issue := range in.ValidationIssues {
		if strings.Contains(strings.ToLower(issue.Message), "conflict") {
			codes["conflicting_values"] = true
		}
	}

	anyEvidence, anyTraceable := false, false
	numericItems := 0
	for _, pk := range in.PKValues {
		if pk.Value == nil {
			continue
		}
		numericItems++
		if len(pk.Evidence) > 0 {
			anyEvidence = true
		}
		for _, ev := range pk.Evidence {
			if ev.Traceable() {
				anyTraceable = true
			}
		}
	}
	for _, ci := range in.CIValues {
		numericItems++
		if len(ci.Evidence) > 0 {
			anyEvidence = true
		}
		for _, ev := range ci.Evidence {
			if ev.Traceable() {
				anyTraceable = true
			}
		}
	}
	if numericItems > 0 {
		if !anyEvidence {
			codes["missing_evidence"] = true
		}
		if !anyTraceable {
			codes["missing_source"] = true
		}
	}
	return codes
}

func anySourceMatches(selected []string, sources []model.SourceCandidate) bool {
	refs := map[string]bool{}
	for _, src := range sources {
		if src.RefID != "" {
			refs[src.RefID] = true
		}
	}
	for _, sel := range selected {
		if refs[sel] {
			return true
		}
	}
	return false
}

func dedupeCap(reasons []string, max int) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range reasons {
		if seen[r] {
			continue
		}
		out = append(out, r)
		seen[r] = true
		if len(out) >= max {
			break
		}
	}
	return out
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
