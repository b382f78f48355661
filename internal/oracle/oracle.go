// Package oracle wraps the external statistical oracle (Rscript +
// PowerTOST) used for exact sample-size and CV-from-CI calculations.
// Availability is explicit in the API: callers probe Health before
// depending on it, and ErrUnavailable is returned instead of any
// silent best-effort result.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/beplan/internal/model"
)

// ErrUnavailable marks any failure to reach or run the oracle. The
// caller decides whether a fallback approximation is allowed.
var ErrUnavailable = errors.New("statistical oracle unavailable")

// Health is the oracle availability probe result.
type Health struct {
	RscriptOK   bool   `json:"rscript_ok"`
	PowerTOSTOK bool   `json:"powertost_ok"`
	Message     string `json:"message"`
}

// Runner is the oracle interface. Implementations must kill the
// subprocess on context timeout, never leave it running.
type Runner interface {
	Health(ctx context.Context) Health
	// SampleN returns (N_total, raw oracle output).
	SampleN(ctx context.Context, design string, cvPercent, power, alpha float64) (int, string, error)
	// CVFromCI returns (CV percent, oracle warnings).
	CVFromCI(ctx context.Context, ciLow, ciHigh float64, n int, design string) (float64, []string, error)
}

// RscriptRunner shells out to an R runner script that prints a JSON
// payload on stdout.
type RscriptRunner struct {
	cfg model.OracleConfig
	log *zap.Logger
}

// NewRscriptRunner builds a subprocess-backed runner.
func NewRscriptRunner(cfg model.OracleConfig, log *zap.Logger) *RscriptRunner {
	if log == nil {
		log = zap.NewNop()
	}
	return &RscriptRunner{cfg: cfg, log: log}
}

func (r *RscriptRunner) rscript() (string, error) {
	if r.cfg.RscriptPath != "" {
		return r.cfg.RscriptPath, nil
	}
	path, err := exec.LookPath("Rscript")
	if err != nil {
		return "", fmt.Errorf("%w: Rscript not found", ErrUnavailable)
	}
	return path, nil
}

// Health probes Rscript and the PowerTOST library.
func (r *RscriptRunner) Health(ctx context.Context) Health {
	rscript, err := r.rscript()
	if err != nil {
		return Health{Message: "Rscript not found"}
	}

	if err := r.runQuiet(ctx, rscript, "--version"); err != nil {
		return Health{Message: "Rscript --version failed"}
	}

	out, err := r.runCapture(ctx, rscript, "-e", "suppressMessages(library(PowerTOST)); cat('OK')")
	if err != nil || !strings.Contains(out, "OK") {
		return Health{RscriptOK: true, Message: "PowerTOST not available"}
	}
	return Health{RscriptOK: true, PowerTOSTOK: true, Message: "PowerTOST available"}
}

type oraclePayload struct {
	NTotal   *int     `json:"N_total"`
	CV       *float64 `json:"cv"`
	Warnings []string `json:"warnings"`
}

// SampleN asks the oracle for an exact TOST sample size.
func (r *RscriptRunner) SampleN(ctx context.Context, design string, cvPercent, power, alpha float64) (int, string, error) {
	rscript, err := r.rscript()
	if err != nil {
		return 0, "", err
	}
	out, err := r.runCapture(ctx, rscript, r.cfg.ScriptPath,
		"--design", design,
		"--cv", strconv.FormatFloat(cvPercent, 'f', -1, 64),
		"--power", strconv.FormatFloat(power, 'f', -1, 64),
		"--alpha", strconv.FormatFloat(alpha, 'f', -1, 64),
	)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var payload oraclePayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &payload); err != nil || payload.NTotal == nil {
		return 0, "", fmt.Errorf("%w: invalid oracle output", ErrUnavailable)
	}
	return *payload.NTotal, strings.TrimSpace(out), nil
}

// CVFromCI asks the oracle to back-calculate CV from a ratio CI.
func (r *RscriptRunner) CVFromCI(ctx context.Context, ciLow, ciHigh float64, n int, design string) (float64, []string, error) {
	rscript, err := r.rscript()
	if err != nil {
		return 0, nil, err
	}
	out, err := r.runCapture(ctx, rscript, r.cfg.ScriptPath,
		"--lower", strconv.FormatFloat(ciLow, 'f', -1, 64),
		"--upper", strconv.FormatFloat(ciHigh, 'f', -1, 64),
		"--n", strconv.Itoa(n),
		"--design", design,
	)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var payload oraclePayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &payload); err != nil {
		return 0, nil, fmt.Errorf("%w: invalid oracle output", ErrUnavailable)
	}
	if payload.CV == nil {
		return 0, payload.Warnings, fmt.Errorf("%w: oracle returned no CV", ErrUnavailable)
	}
	return *payload.CV, payload.Warnings, nil
}

// runCapture executes the command under the configured timeout.
// CommandContext sends SIGKILL when the context expires, so a hung
// oracle never outlives the deadline.
func (r *RscriptRunner) runCapture(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		r.log.Debug("oracle call failed", zap.String("cmd", name), zap.Error(err))
		return "", err
	}
	return string(out), nil
}

func (r *RscriptRunner) runQuiet(ctx context.Context, name string, args ...string) error {
	_, err := r.runCapture(ctx, name, args...)
	return err
}
