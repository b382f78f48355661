package cvgate

import (
	"context"
	"errors"
	"testing"

	"github.com/ppiankov/beplan/internal/model"
	"github.com/ppiankov/beplan/internal/oracle"
	"github.com/ppiankov/beplan/internal/variability"
)

func fp(v float64) *float64 { return &v }
func ip(v int) *int         { return &v }

func testPolicy() TrustPolicy {
	return NewTrustPolicy(model.DefaultConfig().Trust)
}

func newTestGate(runner oracle.Runner) *Gate {
	return NewGate(variability.NewEstimator(nil), runner, testPolicy(), nil)
}

// fakeRunner pretends PowerTOST is installed.
type fakeRunner struct {
	cv       float64
	cvErr    error
	warnings []string
}

func (f *fakeRunner) Health(ctx context.Context) oracle.Health {
	return oracle.Health{RscriptOK: true, PowerTOSTOK: true}
}

func (f *fakeRunner) SampleN(ctx context.Context, design string, cvPercent, power, alpha float64) (int, string, error) {
	return 0, "", oracle.ErrUnavailable
}

func (f *fakeRunner) CVFromCI(ctx context.Context, ciLow, ciHigh float64, n int, design string) (float64, []string, error) {
	return f.cv, f.warnings, f.cvErr
}

func TestSelectManualWins(t *testing.T) {
	g := newTestGate(nil)
	info, questions := g.Select(context.Background(), Input{
		INN:      "ibuprofen",
		ManualCV: fp(22),
		PKValues: []model.PKValue{{Name: "CVintra", Value: fp(35), Unit: "%"}},
	})
	if info.Source != model.CVSourceManual {
		t.Fatalf("source = %s, want manual", info.Source)
	}
	if *info.Value != 22 {
		t.Fatalf("value = %v, manual must beat reported", *info.Value)
	}
	if info.ConfidenceScore != 1.0 {
		t.Fatalf("score = %v, want 1.0", info.ConfidenceScore)
	}
	if !info.RequiresConfirm {
		t.Fatal("manual CV still requires confirmation")
	}
	if len(questions) != 0 {
		t.Fatalf("unexpected questions: %v", questions)
	}
}

func TestSelectReported(t *testing.T) {
	g := newTestGate(nil)
	info, _ := g.Select(context.Background(), Input{
		PKValues: []model.PKValue{{Name: "CVintra", Value: fp(28.5), Unit: "%"}},
	})
	if info.Source != model.CVSourceReported {
		t.Fatalf("source = %s, want reported", info.Source)
	}
	if *info.Value != 28.5 {
		t.Fatalf("value = %v", *info.Value)
	}
	if info.ConfidenceScore != 0.9 {
		t.Fatalf("score = %v, want 0.9", info.ConfidenceScore)
	}
	if !testPolicy().AutoTrusted(info) {
		t.Fatal("clean reported CV at 0.9 must be auto-trusted")
	}
}

func TestSelectReportedLLMPenalty(t *testing.T) {
	g := newTestGate(nil)
	info, _ := g.Select(context.Background(), Input{
		PKValues: []model.PKValue{{
			Name: "CVintra", Value: fp(28.5), Unit: "%",
			Warnings: []string{WarnLLMReview},
		}},
	})
	// Base 0.65 for LLM-extracted, minus the 0.15 review penalty.
	if info.ConfidenceScore != 0.5 {
		t.Fatalf("score = %v, want 0.5", info.ConfidenceScore)
	}
	if testPolicy().AutoTrusted(info) {
		t.Fatal("LLM-extracted CV must not be auto-trusted")
	}
}

func TestSelectReportedImplausibleSkipped(t *testing.T) {
	g := newTestGate(nil)
	pk := []model.PKValue{{Name: "CVintra", Value: fp(350), Unit: "%"}}
	info, _ := g.Select(context.Background(), Input{PKValues: pk})
	if info.Source == model.CVSourceReported {
		t.Fatal("CV of 350% must not be accepted as reported")
	}
	if !pk[0].HasWarning(WarnCVOutOfRange) {
		t.Fatal("implausible value must be tagged cv_out_of_range")
	}
}

func TestSelectDerivedFromCIWithOracle(t *testing.T) {
	g := newTestGate(&fakeRunner{cv: 24.7})
	info, questions := g.Select(context.Background(), Input{
		CIValues: []model.CIValue{{
			Param: "AUC", CILow: 0.94, CIHigh: 1.07,
			CIType: model.CITypeRatio, ConfidenceLevel: 0.90,
			N: ip(24), DesignHint: "2x2 crossover, log-transformed",
		}},
	})
	if info.Source != model.CVSourceDerivedCI {
		t.Fatalf("source = %s, want derived_from_ci", info.Source)
	}
	if info.Value == nil || *info.Value != 24.7 {
		t.Fatalf("value = %v, want oracle result", info.Value)
	}
	if info.ConfidenceScore != 0.8 {
		t.Fatalf("score = %v, want 0.8", info.ConfidenceScore)
	}
	if info.Parameter != "AUC" {
		t.Fatalf("parameter = %s", info.Parameter)
	}
	if len(questions) != 0 {
		t.Fatalf("unexpected questions: %v", questions)
	}
}

func TestSelectCIRequiresDesignHint(t *testing.T) {
	g := newTestGate(&fakeRunner{cv: 24.7})
	info, _ := g.Select(context.Background(), Input{
		CIValues: []model.CIValue{{
			Param: "AUC", CILow: 0.94, CIHigh: 1.07,
			ConfidenceLevel: 0.90, N: ip(24),
			DesignHint: "parallel group",
		}},
	})
	if info.Source == model.CVSourceDerivedCI {
		t.Fatal("CI without a 2x2 log-scale hint must not feed derivation")
	}
	if info.Source != model.CVSourceRange {
		t.Fatalf("source = %s, want range fallback", info.Source)
	}
}

func TestSelectCIRequiresN(t *testing.T) {
	g := newTestGate(&fakeRunner{cv: 24.7})
	info, _ := g.Select(context.Background(), Input{
		CIValues: []model.CIValue{{
			Param: "AUC", CILow: 0.94, CIHigh: 1.07,
			ConfidenceLevel: 0.90,
			DesignHint:      "2x2 crossover, log-transformed",
		}},
	})
	if info.Source == model.CVSourceDerivedCI {
		t.Fatal("CI without n must not feed derivation")
	}
}

func TestSelectNoOracleNoFallback(t *testing.T) {
	g := newTestGate(nil)
	info, questions := g.Select(context.Background(), Input{
		CIValues: []model.CIValue{{
			Param: "Cmax", CILow: 0.94, CIHigh: 1.07,
			ConfidenceLevel: 0.90, N: ip(24),
			DesignHint: "2x2 crossover, log-transformed",
		}},
	})
	if info.Value != nil {
		t.Fatalf("value = %v, want nil without oracle or fallback", *info.Value)
	}
	hasUnavailable := false
	for _, w := range info.Warnings {
		if w == WarnOracleUnavailable {
			hasUnavailable = true
		}
	}
	if !hasUnavailable {
		t.Fatalf("warnings = %v, want powertost_unavailable", info.Warnings)
	}
	if len(questions) != 1 || questions[0].LinkedRuleID != "CVFROMCI_POWERTOST" {
		t.Fatalf("questions = %v, want the install-PowerTOST question", questions)
	}
}

func TestSelectApproxFallback(t *testing.T) {
	g := newTestGate(nil)
	info, _ := g.Select(context.Background(), Input{
		UseFallback: true,
		CIValues: []model.CIValue{{
			Param: "AUC", CILow: 0.94, CIHigh: 1.07,
			ConfidenceLevel: 0.90, N: ip(24),
			DesignHint: "2x2 crossover, log-transformed",
		}},
	})
	if info.Value == nil {
		t.Fatal("approx fallback must produce a value")
	}
	wantWarn := map[string]bool{WarnApproxOnly: false, WarnOracleUnavailable: false}
	for _, w := range info.Warnings {
		if _, ok := wantWarn[w]; ok {
			wantWarn[w] = true
		}
	}
	for w, found := range wantWarn {
		if !found {
			t.Fatalf("warning %s missing: %v", w, info.Warnings)
		}
	}
	if info.ConfidenceScore != 0.5 {
		t.Fatalf("score = %v, want 0.5", info.ConfidenceScore)
	}
}

func TestSelectOracleDerivationError(t *testing.T) {
	g := newTestGate(&fakeRunner{cvErr: errors.New("CI too wide")})
	info, _ := g.Select(context.Background(), Input{
		CIValues: []model.CIValue{{
			Param: "AUC", CILow: 0.70, CIHigh: 1.45,
			ConfidenceLevel: 0.90, N: ip(24),
			DesignHint: "2x2 crossover, log-transformed",
		}},
	})
	if info.Value != nil {
		t.Fatal("failed derivation must not produce a value")
	}
	if info.Confidence != model.ConfidenceLow {
		t.Fatalf("confidence = %s, want low", info.Confidence)
	}
}

func TestSelectInvalidCIBounds(t *testing.T) {
	g := newTestGate(&fakeRunner{cv: 24.7})
	info, _ := g.Select(context.Background(), Input{
		CIValues: []model.CIValue{{
			Param: "AUC", CILow: 1.07, CIHigh: 0.94,
			ConfidenceLevel: 0.90, N: ip(24),
			DesignHint: "2x2 crossover, log-transformed",
		}},
	})
	if info.Value != nil {
		t.Fatal("inverted bounds must be rejected")
	}
	found := false
	for _, w := range info.Warnings {
		if w == WarnInvalidCIBounds {
			found = true
		}
	}
	if !found {
		t.Fatalf("warnings = %v, want invalid_ci_bounds", info.Warnings)
	}
}

func TestSelectSmallN(t *testing.T) {
	g := newTestGate(&fakeRunner{cv: 31.0})
	info, _ := g.Select(context.Background(), Input{
		CIValues: []model.CIValue{{
			Param: "AUC", CILow: 0.85, CIHigh: 1.18,
			ConfidenceLevel: 0.90, N: ip(4),
			DesignHint: "2x2 crossover, log-transformed",
		}},
	})
	found := false
	for _, w := range info.Warnings {
		if w == WarnSmallN {
			found = true
		}
	}
	if !found {
		t.Fatalf("warnings = %v, want small_n", info.Warnings)
	}
}

func TestSelectRangeFallback(t *testing.T) {
	g := newTestGate(nil)
	bcs := 2
	info, _ := g.Select(context.Background(), Input{
		Features: model.DrugFeatures{BCSClass: &bcs},
	})
	if info.Source != model.CVSourceRange {
		t.Fatalf("source = %s, want range", info.Source)
	}
	if !info.IsRange() {
		t.Fatal("IsRange must report true")
	}
	if info.RangeLow == nil || info.RangeHigh == nil || info.Value == nil {
		t.Fatal("range fallback must populate bounds and the mode value")
	}
	if *info.Value != *info.RangeMode {
		t.Fatal("value must equal the range mode")
	}
	if info.ConfidenceScore != 0.4 {
		t.Fatalf("score = %v, want 0.4", info.ConfidenceScore)
	}
	if testPolicy().AutoTrusted(info) {
		t.Fatal("range fallback must never be auto-trusted")
	}
}

func TestApplyPenaltiesForbid(t *testing.T) {
	p := testPolicy()
	if got := p.ApplyPenalties(0.9, []string{"ambiguous_condition"}); got != 0 {
		t.Fatalf("forbid warning must zero the score, got %v", got)
	}
	if got := p.ApplyPenalties(0.9, []string{"conflict_detected:Cmax"}); got != 0 {
		t.Fatalf("conflict_detected prefix must zero the score, got %v", got)
	}
	if got := p.ApplyPenalties(0.9, []string{"small_n"}); got != 0.9 {
		t.Fatalf("neutral warning must not discount, got %v", got)
	}
}

func TestIsDoubtful(t *testing.T) {
	p := testPolicy()
	doubtful := model.CVInfo{Warnings: []string{"multiple_values_in_source"}}
	if !p.IsDoubtful(doubtful) {
		t.Fatal("forbid code must be doubtful")
	}
	clean := model.CVInfo{Warnings: []string{WarnLLMReview}}
	if p.IsDoubtful(clean) {
		t.Fatal("LLM review alone is penalized, not doubtful")
	}
}

func TestConfidenceFor(t *testing.T) {
	if confidenceFor(0.9) != model.ConfidenceHigh {
		t.Error("0.9 must be high")
	}
	if confidenceFor(0.6) != model.ConfidenceMedium {
		t.Error("0.6 must be medium")
	}
	if confidenceFor(0.3) != model.ConfidenceLow {
		t.Error("0.3 must be low")
	}
}
