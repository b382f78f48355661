package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/beplan/internal/model"
)

const sampleAbstract = `A randomized two-period crossover bioequivalence study of ibuprofen
400 mg tablets was conducted in 24 healthy volunteers under fasting conditions.
The mean Cmax was 32.4 ng/mL and AUC0-t was 215.8 ng·h/mL. The terminal
half-life was 2.1 h. The 90% CI for AUC was 0.94 to 1.07 (n=24). The
intra-subject variability was moderate, CV intra 23.5%.`

func TestScanTextFindsPKValues(t *testing.T) {
	e := NewRegexExtractor(nil, nil)
	result := e.ScanText("PMID:111", sampleAbstract)

	byName := map[string]model.PKValue{}
	for _, pk := range result.PKValues {
		byName[pk.Name] = pk
	}

	cmax, ok := byName["Cmax"]
	if !ok || cmax.Value == nil || *cmax.Value != 32.4 {
		t.Fatalf("Cmax = %+v", cmax)
	}
	if cmax.Unit != "ng/mL" {
		t.Fatalf("Cmax unit = %q", cmax.Unit)
	}
	if len(cmax.Evidence) == 0 || cmax.Evidence[0].Source != "PMID:111" {
		t.Fatal("Cmax must carry evidence with the source id")
	}

	auc, ok := byName["AUC0-t"]
	if !ok || auc.Value == nil || *auc.Value != 215.8 {
		t.Fatalf("AUC0-t = %+v", auc)
	}

	thalf, ok := byName["t1/2"]
	if !ok || thalf.Value == nil || *thalf.Value != 2.1 {
		t.Fatalf("t1/2 = %+v", thalf)
	}
	if thalf.Unit != "h" {
		t.Fatalf("t1/2 unit = %q", thalf.Unit)
	}

	cv, ok := byName["CVintra"]
	if !ok || cv.Value == nil || *cv.Value != 23.5 {
		t.Fatalf("CVintra = %+v", cv)
	}
}

func TestScanTextFindsCI(t *testing.T) {
	e := NewRegexExtractor(nil, nil)
	result := e.ScanText("PMID:111", sampleAbstract)

	if len(result.CIValues) != 1 {
		t.Fatalf("ci values = %d, want 1", len(result.CIValues))
	}
	ci := result.CIValues[0]
	if ci.Param != "AUC" {
		t.Fatalf("param = %q, want AUC", ci.Param)
	}
	if ci.CILow != 0.94 || ci.CIHigh != 1.07 {
		t.Fatalf("bounds = [%v, %v]", ci.CILow, ci.CIHigh)
	}
	if ci.CIType != model.CITypeRatio {
		t.Fatalf("type = %s, want ratio", ci.CIType)
	}
	if ci.N == nil || *ci.N != 24 {
		t.Fatalf("n = %v, want 24", ci.N)
	}
	if ci.DesignHint != "2x2_crossover" {
		t.Fatalf("design hint = %q, want 2x2_crossover", ci.DesignHint)
	}
}

func TestScanTextInfersFullDesignHint(t *testing.T) {
	e := NewRegexExtractor(nil, nil)
	text := `A 2x2 crossover study in 18 subjects. Log-transformed Cmax and AUC
were compared; the 90% CI for AUC was 0.95 to 1.06 (n=18).`
	result := e.ScanText("PMID:222", text)

	if len(result.CIValues) != 1 {
		t.Fatalf("ci values = %d, want 1", len(result.CIValues))
	}
	if got := result.CIValues[0].DesignHint; got != "2x2_crossover; log_transformed" {
		t.Fatalf("design hint = %q", got)
	}
}

func TestInferDesignHint(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"a 2×2 cross-over trial", "2x2_crossover"},
		{"log-transformed parameters were analysed", "log_transformed"},
		{"a parallel-group study", ""},
		{"crossover design, log-transformed AUC", "2x2_crossover; log_transformed"},
	}
	for _, tc := range cases {
		if got := inferDesignHint(tc.text); got != tc.want {
			t.Errorf("inferDesignHint(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestScanTextPercentCI(t *testing.T) {
	e := NewRegexExtractor(nil, nil)
	result := e.ScanText("PMID:2", "For Cmax the 90% CI was 92.4 to 108.1.")
	if len(result.CIValues) != 1 {
		t.Fatalf("ci values = %d", len(result.CIValues))
	}
	ci := result.CIValues[0]
	if ci.CIType != model.CITypePercent {
		t.Fatalf("type = %s, want percent", ci.CIType)
	}
	if ci.Param != "Cmax" {
		t.Fatalf("param = %q, want Cmax", ci.Param)
	}
}

func TestScanTextStudyCondition(t *testing.T) {
	e := NewRegexExtractor(nil, nil)
	if got := e.ScanText("PMID:1", "conducted under fasting conditions").StudyCondition; got != "fasted" {
		t.Fatalf("condition = %q, want fasted", got)
	}
	if got := e.ScanText("PMID:1", "fed and fasted periods were compared").StudyCondition; got != "both" {
		t.Fatalf("condition = %q, want both", got)
	}
	if got := e.ScanText("PMID:1", "no food language at all").StudyCondition; got != "unknown" {
		t.Fatalf("condition = %q, want unknown", got)
	}
}

func TestScanTextAmbiguousFeedingFlagged(t *testing.T) {
	e := NewRegexExtractor(nil, nil)
	text := "Under fed and fasted dosing the Cmax was 30.1 ng/mL."
	result := e.ScanText("PMID:3", text)
	for _, pk := range result.PKValues {
		if pk.Name == "Cmax" {
			if !pk.AmbiguousCond {
				t.Fatal("fed+fasted in the same context must set AmbiguousCond")
			}
			return
		}
	}
	t.Fatal("Cmax not extracted")
}

func TestFileExtractor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.json")
	payload := `{
		"study_condition": "fasted",
		"pk_values": [
			{"name":"Cmax","value":30.5,"unit":"ng/mL","source":"PMID:9","snippet":"Cmax 30.5"},
			{"name":"CVintra","value":24.0,"unit":"%","source":"PMID:9","fed":true,"fasted":true}
		],
		"ci_values": [
			{"param":"AUC","ci_low":0.92,"ci_high":1.08,"n":24,"design_hint":"2x2 crossover log-transformed","source":"PMID:9"}
		]
	}`
	if err := os.WriteFile(path, []byte(payload), 0644); err != nil {
		t.Fatal(err)
	}

	e := &FileExtractor{Path: path}
	result, err := e.Extract(context.Background(), "ibuprofen", nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if result.StudyCondition != "fasted" {
		t.Fatalf("condition = %q", result.StudyCondition)
	}
	if len(result.PKValues) != 2 {
		t.Fatalf("pk values = %d", len(result.PKValues))
	}
	if !result.PKValues[1].AmbiguousCond {
		t.Fatal("fed+fasted entry must be ambiguous")
	}
	if len(result.CIValues) != 1 {
		t.Fatalf("ci values = %d", len(result.CIValues))
	}
	ci := result.CIValues[0]
	if ci.ConfidenceLevel != 0.90 || ci.CIType != model.CITypeRatio {
		t.Fatalf("ci defaults not applied: %+v", ci)
	}
}

func TestFileExtractorMissingFile(t *testing.T) {
	e := &FileExtractor{Path: "/nonexistent/evidence.json"}
	if _, err := e.Extract(context.Background(), "x", nil); err == nil {
		t.Fatal("missing file must error")
	}
}

func TestParseLLMPayloadTagsReview(t *testing.T) {
	raw := `{
		"pk_values":[{"name":"Cmax","value":31.0,"unit":"ng/mL","snippet":"Cmax 31.0 ng/mL"}],
		"ci_values":[{"param":"AUC","ci_low":0.93,"ci_high":1.06,"n":18,"snippet":"90% CI"}],
		"cv_intra":{"value":22.0,"snippet":"CV 22%"},
		"study_condition":"fasted"
	}`
	result, err := parseLLMPayload("PMID:5", raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(result.PKValues) != 2 {
		t.Fatalf("pk values = %d, want 2 (Cmax + CVintra)", len(result.PKValues))
	}
	for _, pk := range result.PKValues {
		if !pk.HasWarning(WarnLLMExtracted) {
			t.Fatalf("%s missing review warning", pk.Name)
		}
	}
	if len(result.CIValues) != 1 || result.CIValues[0].Warnings[0] != WarnLLMExtracted {
		t.Fatal("CI must carry the review warning")
	}
}

func TestParseLLMPayloadRejectsGarbage(t *testing.T) {
	if _, err := parseLLMPayload("PMID:5", "not json"); err == nil {
		t.Fatal("garbage payload must error")
	}
}

func TestMergeConditions(t *testing.T) {
	r := Result{StudyCondition: "fasted"}
	r.Merge(Result{StudyCondition: "fed"})
	if r.StudyCondition != "both" {
		t.Fatalf("merge fed+fasted = %q, want both", r.StudyCondition)
	}

	r = Result{StudyCondition: "unknown"}
	r.Merge(Result{StudyCondition: "fed"})
	if r.StudyCondition != "fed" {
		t.Fatalf("merge unknown+fed = %q, want fed", r.StudyCondition)
	}

	r = Result{StudyCondition: "fed"}
	r.Merge(Result{StudyCondition: "unknown"})
	if r.StudyCondition != "fed" {
		t.Fatalf("merge fed+unknown = %q, want fed", r.StudyCondition)
	}
}
