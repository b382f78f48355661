// Package pipeline orchestrates one planning run: literature search,
// extraction, validation, CV arbitration, quality scoring, design
// selection, sample size, and regulatory checks. Stages degrade
// gracefully: a missing collaborator downgrades the report instead of
// failing the run.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/beplan/internal/cache"
	"github.com/ppiankov/beplan/internal/cvgate"
	"github.com/ppiankov/beplan/internal/design"
	"github.com/ppiankov/beplan/internal/extract"
	"github.com/ppiankov/beplan/internal/litsource"
	"github.com/ppiankov/beplan/internal/llm"
	"github.com/ppiankov/beplan/internal/model"
	"github.com/ppiankov/beplan/internal/oracle"
	"github.com/ppiankov/beplan/internal/quality"
	"github.com/ppiankov/beplan/internal/regcheck"
	"github.com/ppiankov/beplan/internal/samplesize"
	"github.com/ppiankov/beplan/internal/validate"
	"github.com/ppiankov/beplan/internal/variability"
)

// Warning/blocker codes surfaced by the orchestrator itself.
const (
	WarnConditionTaggingMissing = "condition_tagging_missing"
	WarnConditionConflict       = "protocol_condition_conflicts_with_evidence"
	WarnFallbackPK              = "fallback_pk"

	BlockerNNotComputed       = "N_not_computed"
	BlockerCVAbsent           = "CV_absent"
	BlockerCVAbsentCompletely = "CV_absent_completely"
	BlockerPrimaryEndpoints   = "primary_endpoints_missing"
)

// Pipeline wires the planning stages together.
type Pipeline struct {
	cfg       *model.Config
	source    litsource.Source
	regexExt  *extract.RegexExtractor
	llmExt    *extract.LLMExtractor
	validator *validate.Validator
	gate      *cvgate.Gate
	scorer    *quality.Scorer
	engine    *design.Engine
	calc      *samplesize.Calculator
	checker   *regcheck.Checker
	log       *zap.Logger

	now func() time.Time
}

// NewPipeline builds the default production wiring from config. Rule
// tables that fail to load fall back to built-in defaults with a
// logged warning.
func NewPipeline(cfg *model.Config, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}

	var store cache.Cache
	if cfg.Cache.Enabled {
		store = cache.NewMemoryCache(cfg.Cache.TTL, 10*time.Minute)
	}
	source := litsource.NewNCBIClient(cfg, store, log.Named("litsource"))

	var llmExt *extract.LLMExtractor
	if cfg.LLM.Provider != "" {
		provider, err := llm.NewProvider(cfg.LLM, log.Named("llm"))
		if err != nil {
			log.Warn("LLM provider init failed; continuing without LLM extraction", zap.Error(err))
		} else if provider != nil {
			llmExt = extract.NewLLMExtractor(source, provider, log.Named("extract"))
		}
	}

	valRules, err := validate.LoadRules(cfg.Rules.Validation)
	if err != nil {
		log.Warn("validation rules fallback", zap.Error(err))
	}
	varRules, err := variability.LoadRules(cfg.Rules.Variability)
	if err != nil {
		log.Warn("variability rules fallback", zap.Error(err))
	}
	designRules, err := design.LoadRules(cfg.Rules.Design)
	if err != nil {
		log.Warn("design rules fallback", zap.Error(err))
	}
	regRules, err := regcheck.LoadRules(cfg.Rules.Regulatory)
	if err != nil {
		log.Warn("regulatory rules fallback", zap.Error(err))
	}
	criteria, err := quality.LoadCriteria(cfg.Rules.Quality)
	if err != nil {
		log.Warn("quality criteria fallback", zap.Error(err))
	}

	runner := oracle.NewRscriptRunner(cfg.Oracle, log.Named("oracle"))
	trust := cvgate.NewTrustPolicy(cfg.Trust)
	estimator := variability.NewEstimator(varRules)

	return &Pipeline{
		cfg:       cfg,
		source:    source,
		regexExt:  extract.NewRegexExtractor(source, log.Named("extract")),
		llmExt:    llmExt,
		validator: validate.NewValidator(valRules, log.Named("validate")),
		gate:      cvgate.NewGate(estimator, runner, trust, log.Named("cvgate")),
		scorer:    quality.NewScorer(criteria, trust, log.Named("quality")),
		engine:    design.NewEngine(designRules, cfg.Design.DefaultCV, log.Named("design")),
		calc:      samplesize.NewCalculator(runner, log.Named("samplesize")),
		checker:   regcheck.New(regRules, log.Named("regcheck")),
		log:       log,
		now:       time.Now,
	}
}

// Plan runs the full planning pipeline for one request.
func (p *Pipeline) Plan(ctx context.Context, req model.PlanRequest) (*model.FullReport, error) {
	if strings.TrimSpace(req.INN) == "" {
		return nil, fmt.Errorf("INN is required")
	}
	applyRequestDefaults(&req)

	report := &model.FullReport{
		INN:         req.INN,
		DosageForm:  req.DosageForm,
		Dose:        req.Dose,
		RunID:       uuid.NewString(),
		RequestHash: requestHash(req),
		GeneratedAt: p.now().UTC(),
	}
	log := p.log.With(zap.String("inn", req.INN), zap.String("run_id", report.RunID))

	// 1. Literature sources.
	sources := p.gatherSources(ctx, req, report, log)
	report.Sources = sources

	// 2. Extraction.
	result := p.extractEvidence(ctx, req, sources, report, log)

	// 3. Protocol-condition filtering.
	pkWarnings, calcNotes := p.applyProtocolCondition(req, &result, report)
	report.Warnings = append(report.Warnings, calcNotes...)
	report.StudyCondition = result.StudyCondition

	// 4. Validation. Mutates the values (normalization, warnings).
	issues, valWarnings := p.validator.Validate(result.PKValues, result.CIValues)
	report.PKValues = result.PKValues
	report.CIValues = result.CIValues
	report.ValidationIssues = issues
	report.Warnings = append(report.Warnings, valWarnings...)

	// 5. CV arbitration.
	cvInfo, cvQuestions := p.gate.Select(ctx, cvgate.Input{
		INN:         req.INN,
		PKValues:    result.PKValues,
		CIValues:    result.CIValues,
		ManualCV:    req.ManualCV,
		CVConfirmed: req.CVConfirmed,
		UseFallback: req.UseFallback,
		Features:    req.Features,
	})
	report.CVInfo = cvInfo
	if hasWarning(cvInfo.Warnings, cvgate.WarnApproxOnly) {
		pkWarnings = append(pkWarnings, WarnFallbackPK)
	}

	// 6. Data quality.
	report.DataQuality = p.scorer.Score(quality.Input{
		PKValues:          result.PKValues,
		CIValues:          result.CIValues,
		Sources:           sources,
		CVInfo:            cvInfo,
		ValidationIssues:  issues,
		PKWarnings:        pkWarnings,
		ProtocolCondition: req.ProtocolCondition,
		SelectedSources:   req.SelectedSources,
		CalcNotes:         calcNotes,
	})

	// 7. Design selection, then user overrides.
	cvInput := cvInputFrom(cvInfo, p.gate.Trust())
	nti := resolveNTI(req)
	report.Design = p.engine.SelectForRun(cvInput, result.PKValues, nti)
	p.applyDesignOverrides(req, cvInfo, report)

	// 8. Sample size.
	p.computeSampleSize(ctx, req, cvInfo, cvInput, report, log)

	// 9. Regulatory checks and open questions.
	items, regQuestions := p.checker.Check(regcheck.Input{
		Request:          req,
		Design:           report.Design,
		CVInfo:           cvInfo,
		Quality:          report.DataQuality,
		PKValues:         result.PKValues,
		StudyCondition:   report.StudyCondition,
		ValidationIssues: issues,
	})
	report.RegCheck = items
	questions := append(cvQuestions, regQuestions...)
	if req.ProtocolCondition != "" && hasWarning(calcNotes, WarnConditionTaggingMissing) {
		questions = append(questions, model.OpenQuestion{
			Category:     "feeding",
			Question:     "Condition-specific tagging not available; manual confirmation required.",
			Priority:     "medium",
			LinkedRuleID: "FEEDING_CONDITION_TAGGING",
		})
	}
	report.OpenQuestions = dedupeQuestions(questions)

	// 10. Finalization policy.
	report.Blockers = p.collectBlockers(req, report)
	report.ProtocolID = protocolID(req, p.now().UTC())
	report.ProtocolStatus = "Draft"
	if req.OutputMode == model.ModeFinal && len(report.Blockers) == 0 {
		report.ProtocolStatus = "Final"
	}
	if req.OutputMode == model.ModeFinal && len(report.Blockers) > 0 {
		log.Warn("final mode blocked", zap.Strings("blockers", report.Blockers))
	}

	report.Warnings = dedupeStrings(report.Warnings)
	log.Info("plan complete",
		zap.String("design", report.Design.Recommendation),
		zap.String("quality", string(report.DataQuality.Level)),
		zap.Int("open_questions", len(report.OpenQuestions)))
	return report, nil
}

func applyRequestDefaults(req *model.PlanRequest) {
	if req.Power == 0 {
		req.Power = 0.80
	}
	if req.Alpha == 0 {
		req.Alpha = 0.05
	}
	if req.RetMax == 0 {
		req.RetMax = 10
	}
	if req.OutputMode == "" {
		req.OutputMode = model.ModeDraft
	}
}

func (p *Pipeline) gatherSources(ctx context.Context, req model.PlanRequest, report *model.FullReport, log *zap.Logger) []model.SourceCandidate {
	if req.EvidenceFile != "" {
		return nil
	}
	sources, err := p.source.Search(ctx, req.INN, req.RetMax)
	if err != nil {
		// Search trouble degrades to an evidence-free draft.
		log.Warn("literature search failed", zap.Error(err))
		report.Warnings = append(report.Warnings, "Literature search unavailable: "+err.Error())
		return nil
	}
	if len(req.SelectedSources) > 0 {
		sources = filterSelected(sources, req.SelectedSources)
	}
	return sources
}

func filterSelected(sources []model.SourceCandidate, selected []string) []model.SourceCandidate {
	want := make(map[string]bool, len(selected))
	for _, s := range selected {
		want[strings.TrimPrefix(strings.ToLower(s), "pmid:")] = true
	}
	var out []model.SourceCandidate
	for _, src := range sources {
		id := strings.TrimPrefix(strings.ToLower(src.RefID), "pmid:")
		if want[id] {
			out = append(out, src)
		}
	}
	return out
}

func (p *Pipeline) extractEvidence(ctx context.Context, req model.PlanRequest, sources []model.SourceCandidate, report *model.FullReport, log *zap.Logger) extract.Result {
	if req.EvidenceFile != "" {
		fileExt := &extract.FileExtractor{Path: req.EvidenceFile}
		result, err := fileExt.Extract(ctx, req.INN, nil)
		if err != nil {
			log.Warn("evidence file unusable", zap.Error(err))
			report.Warnings = append(report.Warnings, "Evidence file unusable: "+err.Error())
			return extract.Result{StudyCondition: "unknown"}
		}
		return result
	}

	result, err := p.regexExt.Extract(ctx, req.INN, sources)
	if err != nil {
		log.Warn("regex extraction failed", zap.Error(err))
		result = extract.Result{StudyCondition: "unknown"}
	}
	if p.llmExt != nil {
		llmResult, err := p.llmExt.Extract(ctx, req.INN, sources)
		if err != nil {
			log.Warn("llm extraction failed", zap.Error(err))
		} else {
			result.Merge(llmResult)
		}
	}
	return result
}

// applyProtocolCondition filters evidence against the requested
// fed/fasted condition. Values tagged with only the opposite condition
// are dropped; untagged values are kept but flagged. A definite
// mismatch between the protocol condition and the study condition is a
// hard-gate code for the quality scorer.
func (p *Pipeline) applyProtocolCondition(req model.PlanRequest, result *extract.Result, report *model.FullReport) (pkWarnings, calcNotes []string) {
	cond := strings.ToLower(req.ProtocolCondition)
	if cond != "fed" && cond != "fasted" {
		return nil, nil
	}

	kept := result.PKValues[:0]
	dropped := 0
	taggingMissing := false
	for i := range result.PKValues {
		pk := result.PKValues[i]
		switch evidenceCondition(pk.Evidence) {
		case "":
			pk.AddWarning(WarnConditionTaggingMissing)
			taggingMissing = true
			kept = append(kept, pk)
		case "both", cond:
			kept = append(kept, pk)
		default:
			dropped++
		}
	}
	result.PKValues = kept
	if dropped > 0 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("Dropped %d PK value(s) extracted under the opposite feeding condition.", dropped))
	}
	if taggingMissing {
		calcNotes = append(calcNotes, WarnConditionTaggingMissing)
	}

	if result.StudyCondition == "fed" || result.StudyCondition == "fasted" {
		if result.StudyCondition != cond {
			pkWarnings = append(pkWarnings, WarnConditionConflict)
		}
	}
	return pkWarnings, calcNotes
}

func evidenceCondition(evidence []model.Evidence) string {
	fed, fasted := false, false
	for _, ev := range evidence {
		if ev.ContextTags == nil {
			continue
		}
		fed = fed || ev.ContextTags["fed"]
		fasted = fasted || ev.ContextTags["fasted"]
	}
	switch {
	case fed && fasted:
		return "both"
	case fed:
		return "fed"
	case fasted:
		return "fasted"
	default:
		return ""
	}
}

func cvInputFrom(cvInfo model.CVInfo, trust cvgate.TrustPolicy) *model.CVInput {
	if cvInfo.Value == nil {
		return nil
	}
	return &model.CVInput{
		Value:     *cvInfo.Value,
		Confirmed: cvInfo.ConfirmedByUser || trust.AutoTrusted(cvInfo),
		Evidence:  cvInfo.Evidence,
	}
}

func resolveNTI(req model.PlanRequest) *bool {
	if req.NTI != nil {
		return req.NTI
	}
	return req.Features.NTI
}

func (p *Pipeline) applyDesignOverrides(req model.PlanRequest, cvInfo model.CVInfo, report *model.FullReport) {
	if req.PreferredDesign != "" && req.PreferredDesign != report.Design.Recommendation {
		report.Warnings = append(report.Warnings, fmt.Sprintf(
			"User override: preferred design %q replaces rule-selected %q.",
			req.PreferredDesign, report.Design.Recommendation))
		report.Design.Recommendation = req.PreferredDesign
		report.Design.ReasoningRuleID = "USER_OVERRIDE"
		report.Design.ReasoningText = "Design forced by user request."
		return
	}
	if req.RSABERequested && !strings.Contains(strings.ToLower(report.Design.Recommendation), "replicate") {
		report.Design.Recommendation = "4-way_replicate"
		report.Design.ReasoningRuleID = "RSABE_USER_REQUEST"
		report.Design.ReasoningText = "Replicate design selected because the user requested a scaled BE approach."
		report.Warnings = append(report.Warnings, "RSABE requested by user; replicate design applied.")
		if cvInfo.Value != nil && *cvInfo.Value <= 30 {
			report.Warnings = append(report.Warnings,
				"RSABE requested but CVintra is 30% or lower; scaling may not be justified.")
		}
	}
}

func (p *Pipeline) computeSampleSize(ctx context.Context, req model.PlanRequest, cvInfo model.CVInfo, cvInput *model.CVInput, report *model.FullReport, log *zap.Logger) {
	if cvInput != nil {
		det := p.calc.Calc(ctx, report.Design.Recommendation, *cvInput, req.Power, req.Alpha, req.Dropout, req.ScreenFail)
		if det.NTotal != nil && !report.DataQuality.AllowNDet {
			det.NTotal, det.NRand, det.NScreen = nil, nil, nil
			det.Warnings = append(det.Warnings, "Deterministic N withheld: data quality gate.")
		}
		report.SampleSizeDet = &det
		report.Warnings = append(report.Warnings, det.Warnings...)
	}

	needRisk := cvInfo.IsRange() || report.DataQuality.PreferNRisk
	if needRisk && cvInfo.RangeLow != nil && cvInfo.RangeHigh != nil {
		nSims := req.RiskNSims
		if nSims <= 0 {
			nSims = p.cfg.Risk.NSims
		}
		dist := req.RiskDistribution
		if dist == "" {
			dist = p.cfg.Risk.Distribution
		}
		risk, warnings := samplesize.ComputeRisk(samplesize.RiskInput{
			INN:          req.INN,
			CVInfo:       cvInfo,
			Alpha:        req.Alpha,
			Power:        req.Power,
			NSims:        nSims,
			Seed:         req.RiskSeed,
			Distribution: dist,
		})
		report.SampleSizeRisk = risk
		report.Warnings = append(report.Warnings, warnings...)
		if risk == nil {
			log.Warn("risk sample size unavailable", zap.Strings("warnings", warnings))
		}
	}
}

func (p *Pipeline) collectBlockers(req model.PlanRequest, report *model.FullReport) []string {
	if req.OutputMode != model.ModeFinal {
		return nil
	}
	var blockers []string
	detMissing := report.SampleSizeDet == nil || report.SampleSizeDet.NTotal == nil
	if req.FinalRequireSampleSize && detMissing && report.SampleSizeRisk == nil {
		blockers = append(blockers, BlockerNNotComputed)
	}
	// A range-only CV satisfies final mode unless a point estimate is
	// explicitly required; no CV at all always blocks.
	switch {
	case report.CVInfo.Value == nil && report.CVInfo.RangeLow == nil:
		blockers = append(blockers, BlockerCVAbsentCompletely)
	case req.FinalRequireCVPoint && (report.CVInfo.Value == nil || report.CVInfo.IsRange()):
		blockers = append(blockers, BlockerCVAbsent)
	}
	if req.FinalRequirePrimaryEndpoint && missingPrimary(report.PKValues) {
		blockers = append(blockers, BlockerPrimaryEndpoints)
	}
	return blockers
}

func missingPrimary(pkValues []model.PKValue) bool {
	present := map[string]bool{}
	for _, pk := range pkValues {
		present[pk.Name] = true
	}
	return !(present["Cmax"] && (present["AUC0-t"] || present["AUC0-inf"]))
}

// protocolID is BE-<inn-slug>-<yyyymmdd> unless the request names one.
func protocolID(req model.PlanRequest, now time.Time) string {
	if req.ProtocolID != "" {
		return req.ProtocolID
	}
	slug := strings.ToLower(strings.TrimSpace(req.INN))
	slug = strings.ReplaceAll(slug, " ", "-")
	return fmt.Sprintf("BE-%s-%s", slug, now.Format("20060102"))
}

// requestHash is a stable digest of the decision-relevant request
// fields, for audit correlation across reruns.
func requestHash(req model.PlanRequest) string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(req.INN)),
		req.DosageForm,
		req.Dose,
		floatPtrKey(req.ManualCV),
		strconv.FormatBool(req.CVConfirmed),
		strconv.FormatBool(req.UseFallback),
		boolPtrKey(req.NTI),
		req.PreferredDesign,
		strconv.FormatBool(req.RSABERequested),
		req.ProtocolCondition,
		strconv.FormatFloat(req.Power, 'g', -1, 64),
		strconv.FormatFloat(req.Alpha, 'g', -1, 64),
		strconv.FormatFloat(req.Dropout, 'g', -1, 64),
		strconv.FormatFloat(req.ScreenFail, 'g', -1, 64),
		string(req.OutputMode),
		strings.Join(req.SelectedSources, ","),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:8])
}

func floatPtrKey(v *float64) string {
	if v == nil {
		return "nil"
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func boolPtrKey(v *bool) string {
	if v == nil {
		return "nil"
	}
	return strconv.FormatBool(*v)
}

func hasWarning(warnings []string, code string) bool {
	for _, w := range warnings {
		if w == code {
			return true
		}
	}
	return false
}

func dedupeQuestions(questions []model.OpenQuestion) []model.OpenQuestion {
	seen := map[string]bool{}
	var out []model.OpenQuestion
	for _, q := range questions {
		key := strings.ToLower(strings.TrimSpace(q.Question))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
	}
	return out
}

func dedupeStrings(values []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
