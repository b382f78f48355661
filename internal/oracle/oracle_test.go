package oracle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/ppiankov/beplan/internal/model"
)

// fakeScript writes an executable that ignores its arguments and
// prints the given stdout payload.
func fakeScript(t *testing.T, stdout string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub not portable to windows")
	}
	path := filepath.Join(t.TempDir(), "rscript")
	script := "#!/bin/sh\nprintf '%s\\n' '" + stdout + "'\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(rscript string) model.OracleConfig {
	return model.OracleConfig{
		RscriptPath: rscript,
		ScriptPath:  "runner.R",
		Timeout:     5 * time.Second,
	}
}

func TestSampleNParsesOutput(t *testing.T) {
	r := NewRscriptRunner(testConfig(fakeScript(t, `{"N_total": 28, "warnings": []}`)), nil)
	n, raw, err := r.SampleN(context.Background(), "2x2", 25, 0.80, 0.05)
	if err != nil {
		t.Fatal(err)
	}
	if n != 28 {
		t.Fatalf("n = %d, want 28", n)
	}
	if raw == "" {
		t.Fatal("raw oracle output must be preserved")
	}
}

func TestSampleNMissingBinary(t *testing.T) {
	r := NewRscriptRunner(testConfig("/nonexistent/rscript"), nil)
	_, _, err := r.SampleN(context.Background(), "2x2", 25, 0.80, 0.05)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestSampleNGarbageOutput(t *testing.T) {
	r := NewRscriptRunner(testConfig(fakeScript(t, "Error in library(PowerTOST)")), nil)
	_, _, err := r.SampleN(context.Background(), "2x2", 25, 0.80, 0.05)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable on unparseable output", err)
	}
}

func TestSampleNMissingField(t *testing.T) {
	r := NewRscriptRunner(testConfig(fakeScript(t, `{"warnings": []}`)), nil)
	_, _, err := r.SampleN(context.Background(), "2x2", 25, 0.80, 0.05)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable when N_total absent", err)
	}
}

func TestCVFromCIParsesOutput(t *testing.T) {
	r := NewRscriptRunner(testConfig(fakeScript(t, `{"cv": 24.7, "warnings": ["wide CI"]}`)), nil)
	cv, warnings, err := r.CVFromCI(context.Background(), 0.94, 1.07, 24, "2x2")
	if err != nil {
		t.Fatal(err)
	}
	if cv != 24.7 {
		t.Fatalf("cv = %v", cv)
	}
	if len(warnings) != 1 || warnings[0] != "wide CI" {
		t.Fatalf("warnings = %v", warnings)
	}
}

func TestCVFromCINoCV(t *testing.T) {
	r := NewRscriptRunner(testConfig(fakeScript(t, `{"warnings": ["CVfromCI failed"]}`)), nil)
	_, warnings, err := r.CVFromCI(context.Background(), 0.94, 1.07, 24, "2x2")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("oracle warnings must survive the error: %v", warnings)
	}
}

func TestHealthMissingBinary(t *testing.T) {
	r := NewRscriptRunner(testConfig("/nonexistent/rscript"), nil)
	h := r.Health(context.Background())
	if h.RscriptOK || h.PowerTOSTOK {
		t.Fatalf("health = %+v, want all false", h)
	}
}

func TestHealthWithStub(t *testing.T) {
	// The stub answers "OK" to everything, so both probes pass.
	r := NewRscriptRunner(testConfig(fakeScript(t, "OK")), nil)
	h := r.Health(context.Background())
	if !h.RscriptOK || !h.PowerTOSTOK {
		t.Fatalf("health = %+v, want both true", h)
	}
}
