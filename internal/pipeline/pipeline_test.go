package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/beplan/internal/cvgate"
	"github.com/ppiankov/beplan/internal/design"
	"github.com/ppiankov/beplan/internal/extract"
	"github.com/ppiankov/beplan/internal/model"
	"github.com/ppiankov/beplan/internal/quality"
	"github.com/ppiankov/beplan/internal/regcheck"
	"github.com/ppiankov/beplan/internal/samplesize"
	"github.com/ppiankov/beplan/internal/validate"
	"github.com/ppiankov/beplan/internal/variability"
	"go.uber.org/zap"
)

func nopLogger() *zap.Logger { return zap.NewNop() }

const fakeAbstract = `A two-period crossover bioequivalence study of ibuprofen 400 mg was
conducted in 24 healthy volunteers under fasting conditions. The mean Cmax was
32.4 ng/mL, AUC0-t was 215.8 ng·h/mL, and AUC0-inf was 230.1 ng·h/mL. The
half-life was 2.1 h. The 90% CI for AUC was 0.94 to 1.07 (n=24).
Intra-subject variability: CV intra 23.5%.`

type fakeSource struct {
	sources  []model.SourceCandidate
	abstract string
}

func (f *fakeSource) Search(ctx context.Context, inn string, retMax int) ([]model.SourceCandidate, error) {
	return f.sources, nil
}

func (f *fakeSource) FetchAbstract(ctx context.Context, refID string) (string, error) {
	return f.abstract, nil
}

func newTestPipeline(src *fakeSource) *Pipeline {
	cfg := model.DefaultConfig()
	trust := cvgate.NewTrustPolicy(cfg.Trust)
	estimator := variability.NewEstimator(variability.DefaultRules())
	return &Pipeline{
		cfg:       cfg,
		source:    src,
		regexExt:  extract.NewRegexExtractor(src, nil),
		validator: validate.NewValidator(validate.DefaultRules(), nil),
		gate:      cvgate.NewGate(estimator, nil, trust, nil),
		scorer:    quality.NewScorer(quality.DefaultCriteria(), trust, nil),
		engine:    design.NewEngine(design.DefaultRules(), cfg.Design.DefaultCV, nil),
		calc:      samplesize.NewCalculator(nil, nil),
		checker:   regcheck.New(nil, nil),
		log:       nopLogger(),
		now:       func() time.Time { return time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC) },
	}
}

func richSource() *fakeSource {
	return &fakeSource{
		sources: []model.SourceCandidate{{
			RefID:   "PMID:111",
			Title:   "Bioequivalence of ibuprofen in healthy volunteers under fasting conditions",
			Year:    2019,
			Species: "human",
			Feeding: "fasted",
			Tags:    []string{"BE"},
		}},
		abstract: fakeAbstract,
	}
}

func TestPlanHappyPath(t *testing.T) {
	p := newTestPipeline(richSource())

	report, err := p.Plan(context.Background(), model.PlanRequest{INN: "ibuprofen"})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if report.RunID == "" || report.RequestHash == "" {
		t.Fatal("run id and request hash must be set")
	}
	if report.ProtocolID != "BE-ibuprofen-20260315" {
		t.Fatalf("protocol id = %s", report.ProtocolID)
	}
	if report.ProtocolStatus != "Draft" {
		t.Fatalf("status = %s, want Draft", report.ProtocolStatus)
	}
	if report.CVInfo.Source != model.CVSourceReported {
		t.Fatalf("cv source = %s, want reported", report.CVInfo.Source)
	}
	if report.CVInfo.Value == nil || *report.CVInfo.Value != 23.5 {
		t.Fatalf("cv = %v, want 23.5", report.CVInfo.Value)
	}
	if report.StudyCondition != "fasted" {
		t.Fatalf("study condition = %s", report.StudyCondition)
	}
	if report.Design.Recommendation == "" {
		t.Fatal("design recommendation missing")
	}
	if report.SampleSizeDet == nil {
		t.Fatal("deterministic sample size expected for a reported CV")
	}
	if len(report.RegCheck) == 0 {
		t.Fatal("regulatory checks missing")
	}
}

func TestPlanManualCVWins(t *testing.T) {
	p := newTestPipeline(richSource())
	manual := 18.0

	report, err := p.Plan(context.Background(), model.PlanRequest{
		INN:         "ibuprofen",
		ManualCV:    &manual,
		CVConfirmed: true,
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if report.CVInfo.Source != model.CVSourceManual {
		t.Fatalf("cv source = %s, want manual; manual input must beat reported values", report.CVInfo.Source)
	}
	if *report.CVInfo.Value != 18.0 {
		t.Fatalf("cv = %v, want 18", *report.CVInfo.Value)
	}
	if report.SampleSizeDet == nil || report.SampleSizeDet.NTotal == nil {
		t.Fatal("confirmed manual CV must produce a deterministic N")
	}
}

func TestPlanEmptyINN(t *testing.T) {
	p := newTestPipeline(richSource())
	if _, err := p.Plan(context.Background(), model.PlanRequest{INN: "  "}); err == nil {
		t.Fatal("blank INN must be rejected")
	}
}

func TestPlanNoEvidenceFallsBackToRange(t *testing.T) {
	p := newTestPipeline(&fakeSource{})
	bcs := 2

	report, err := p.Plan(context.Background(), model.PlanRequest{
		INN:      "novel-compound",
		Features: model.DrugFeatures{BCSClass: &bcs},
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !report.CVInfo.IsRange() {
		t.Fatalf("cv source = %s, want range fallback", report.CVInfo.Source)
	}
	if report.SampleSizeRisk == nil {
		t.Fatal("range CV must produce a risk-based sample size")
	}
	if report.SampleSizeRisk.NTargets["0.8"] <= 0 {
		t.Fatal("risk N for the 0.8 target missing")
	}
}

func TestPlanFinalModeBlocked(t *testing.T) {
	p := newTestPipeline(&fakeSource{})

	report, err := p.Plan(context.Background(), model.PlanRequest{
		INN:                         "novel-compound",
		OutputMode:                  model.ModeFinal,
		FinalRequireSampleSize:      true,
		FinalRequirePrimaryEndpoint: true,
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if report.ProtocolStatus != "Draft" {
		t.Fatalf("status = %s; blocked final runs stay Draft", report.ProtocolStatus)
	}
	if !hasBlocker(report, BlockerPrimaryEndpoints) {
		t.Fatalf("blocker %s missing from %v", BlockerPrimaryEndpoints, report.Blockers)
	}
	// The range fallback still yields a risk-mode N, which satisfies
	// the sample-size requirement.
	if hasBlocker(report, BlockerNNotComputed) {
		t.Fatalf("risk N computed, yet %v fired", BlockerNNotComputed)
	}
	if hasBlocker(report, BlockerCVAbsent) || hasBlocker(report, BlockerCVAbsentCompletely) {
		t.Fatalf("range CV satisfies final mode without the point requirement: %v", report.Blockers)
	}
}

func hasBlocker(report *model.FullReport, code string) bool {
	for _, b := range report.Blockers {
		if b == code {
			return true
		}
	}
	return false
}

func TestPlanFinalCVPointRequiredBlocksRange(t *testing.T) {
	p := newTestPipeline(&fakeSource{})

	report, err := p.Plan(context.Background(), model.PlanRequest{
		INN:                 "novel-compound",
		OutputMode:          model.ModeFinal,
		FinalRequireCVPoint: true,
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if report.CVInfo.Source != model.CVSourceRange {
		t.Fatalf("cv source = %s, want range", report.CVInfo.Source)
	}
	if !hasBlocker(report, BlockerCVAbsent) {
		t.Fatalf("range-derived CV with the point requirement must block: %v", report.Blockers)
	}
}

func TestPlanFinalCVAbsentCompletely(t *testing.T) {
	// A derivable CI but no oracle and no approximate fallback leaves
	// the gate with neither a point value nor a range.
	src := &fakeSource{
		sources: []model.SourceCandidate{{RefID: "PMID:77", Species: "human", Tags: []string{"BE"}}},
		abstract: `A randomized 2x2 crossover study in 24 volunteers. Log-transformed
Cmax and AUC were compared. The mean Cmax was 30.1 ng/mL and AUC0-t was
200.4 ng·h/mL. The 90% CI for AUC was 0.94 to 1.07 (n=24).`,
	}
	p := newTestPipeline(src)

	report, err := p.Plan(context.Background(), model.PlanRequest{
		INN:                    "novel-compound",
		OutputMode:             model.ModeFinal,
		FinalRequireSampleSize: true,
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if report.CVInfo.Value != nil || report.CVInfo.RangeLow != nil {
		t.Fatalf("cv info = %+v, want neither point nor range", report.CVInfo)
	}
	if !hasBlocker(report, BlockerCVAbsentCompletely) {
		t.Fatalf("no point and no range must block: %v", report.Blockers)
	}
	if !hasBlocker(report, BlockerNNotComputed) {
		t.Fatalf("no deterministic and no risk N must block: %v", report.Blockers)
	}
}

func TestPlanFinalModeClean(t *testing.T) {
	p := newTestPipeline(richSource())
	manual := 22.0

	report, err := p.Plan(context.Background(), model.PlanRequest{
		INN:         "ibuprofen",
		ManualCV:    &manual,
		CVConfirmed: true,
		OutputMode:  model.ModeFinal,
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(report.Blockers) != 0 {
		t.Fatalf("unexpected blockers: %v", report.Blockers)
	}
	if report.ProtocolStatus != "Final" {
		t.Fatalf("status = %s, want Final", report.ProtocolStatus)
	}
}

func TestPlanPreferredDesignOverride(t *testing.T) {
	p := newTestPipeline(richSource())

	report, err := p.Plan(context.Background(), model.PlanRequest{
		INN:             "ibuprofen",
		PreferredDesign: "parallel group",
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if report.Design.Recommendation != "parallel group" {
		t.Fatalf("design = %s", report.Design.Recommendation)
	}
	if report.Design.ReasoningRuleID != "USER_OVERRIDE" {
		t.Fatalf("rule id = %s, want USER_OVERRIDE", report.Design.ReasoningRuleID)
	}
	found := false
	for _, w := range report.Warnings {
		if strings.Contains(w, "User override") {
			found = true
		}
	}
	if !found {
		t.Fatal("override warning missing")
	}
}

func TestPlanRSABERequest(t *testing.T) {
	p := newTestPipeline(richSource())

	report, err := p.Plan(context.Background(), model.PlanRequest{
		INN:            "ibuprofen",
		RSABERequested: true,
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if report.Design.ReasoningRuleID != "RSABE_USER_REQUEST" {
		t.Fatalf("rule id = %s, want RSABE_USER_REQUEST", report.Design.ReasoningRuleID)
	}
	if !strings.Contains(strings.ToLower(report.Design.Recommendation), "replicate") {
		t.Fatalf("design = %s, want a replicate design", report.Design.Recommendation)
	}
	lowCVWarned := false
	for _, w := range report.Warnings {
		if strings.Contains(w, "scaling may not be justified") {
			lowCVWarned = true
		}
	}
	if !lowCVWarned {
		t.Fatal("RSABE at CV 23.5% must warn that scaling may not be justified")
	}
}

func TestRequestHashStable(t *testing.T) {
	req := model.PlanRequest{INN: "Ibuprofen", Power: 0.8, Alpha: 0.05}
	if requestHash(req) != requestHash(req) {
		t.Fatal("hash must be deterministic")
	}
	other := req
	other.INN = "warfarin"
	if requestHash(req) == requestHash(other) {
		t.Fatal("different INNs must hash differently")
	}
	// Case-insensitive on INN.
	lower := req
	lower.INN = "ibuprofen"
	if requestHash(req) != requestHash(lower) {
		t.Fatal("INN casing must not change the hash")
	}
}

func TestProtocolIDExplicit(t *testing.T) {
	req := model.PlanRequest{INN: "x", ProtocolID: "BE-CUSTOM-1"}
	if got := protocolID(req, time.Now()); got != "BE-CUSTOM-1" {
		t.Fatalf("protocol id = %s", got)
	}
}

func TestApplyProtocolConditionFiltering(t *testing.T) {
	p := newTestPipeline(&fakeSource{})
	v1, v2, v3 := 1.0, 2.0, 3.0
	result := extract.Result{
		StudyCondition: "fed",
		PKValues: []model.PKValue{
			{Name: "Cmax", Value: &v1, Evidence: []model.Evidence{{Source: "PMID:1", ContextTags: map[string]bool{"fed": true}}}},
			{Name: "Cmax", Value: &v2, Evidence: []model.Evidence{{Source: "PMID:2", ContextTags: map[string]bool{"fasted": true}}}},
			{Name: "AUC0-t", Value: &v3, Evidence: []model.Evidence{{Source: "PMID:3"}}},
		},
	}
	report := &model.FullReport{}
	pkWarnings, calcNotes := p.applyProtocolCondition(model.PlanRequest{ProtocolCondition: "fasted"}, &result, report)

	if len(result.PKValues) != 2 {
		t.Fatalf("kept %d values, want 2 (fed-only dropped)", len(result.PKValues))
	}
	untaggedFlagged := false
	for _, pk := range result.PKValues {
		if pk.HasWarning(WarnConditionTaggingMissing) {
			untaggedFlagged = true
		}
	}
	if !untaggedFlagged {
		t.Fatal("untagged value must carry condition_tagging_missing")
	}
	conflict := false
	for _, w := range pkWarnings {
		if w == WarnConditionConflict {
			conflict = true
		}
	}
	if !conflict {
		t.Fatal("fed study vs fasted protocol must raise the conflict code")
	}
	noted := false
	for _, n := range calcNotes {
		if n == WarnConditionTaggingMissing {
			noted = true
		}
	}
	if !noted {
		t.Fatal("untagged evidence under a protocol condition must note condition_tagging_missing")
	}
}

func TestPlanConditionTaggingGate(t *testing.T) {
	// Untagged evidence under an explicit protocol condition must
	// degrade the quality verdict and raise the feeding question.
	src := &fakeSource{
		sources: []model.SourceCandidate{{RefID: "PMID:88", Species: "human", Tags: []string{"BE"}}},
		abstract: `A crossover study in 24 volunteers. The mean Cmax was 30.1 ng/mL
and AUC0-t was 200.4 ng·h/mL. Intra-subject variability: CV intra 23.5%.`,
	}
	p := newTestPipeline(src)

	report, err := p.Plan(context.Background(), model.PlanRequest{
		INN:               "ibuprofen",
		ProtocolCondition: "fed",
		ManualCV:          func() *float64 { v := 20.0; return &v }(),
		CVConfirmed:       true,
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if report.DataQuality.AllowNDet {
		t.Fatal("untagged evidence under a protocol condition must not allow N_det")
	}
	gated := false
	for _, r := range report.DataQuality.Reasons {
		if strings.Contains(r, "Protocol condition") {
			gated = true
		}
	}
	if !gated {
		t.Fatalf("condition-conflict gate reason missing: %v", report.DataQuality.Reasons)
	}
	asked := false
	for _, q := range report.OpenQuestions {
		if q.LinkedRuleID == "FEEDING_CONDITION_TAGGING" {
			asked = true
		}
	}
	if !asked {
		t.Fatalf("feeding tagging question missing: %+v", report.OpenQuestions)
	}
}

func TestMissingPrimary(t *testing.T) {
	v := 1.0
	if !missingPrimary([]model.PKValue{{Name: "Cmax", Value: &v}}) {
		t.Fatal("Cmax alone is incomplete")
	}
	if missingPrimary([]model.PKValue{{Name: "Cmax", Value: &v}, {Name: "AUC0-t", Value: &v}}) {
		t.Fatal("Cmax + AUC0-t is complete")
	}
}
