package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/beplan/internal/model"
)

// Renderer writes the report as JSON and as a human-readable protocol
// draft in Markdown.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// RenderReport writes the requested outputs and prints a short summary
// to stdout.
func (p *Pipeline) RenderReport(report *model.FullReport, jsonPath, mdPath string, verbose bool) error {
	r := NewRenderer()
	if jsonPath != "" {
		if err := r.RenderJSON(report, jsonPath); err != nil {
			return fmt.Errorf("render JSON: %w", err)
		}
		if verbose {
			fmt.Printf("✓ Wrote JSON: %s\n", jsonPath)
		}
	}
	if mdPath != "" {
		if err := r.RenderMarkdown(report, mdPath); err != nil {
			return fmt.Errorf("render markdown: %w", err)
		}
		if verbose {
			fmt.Printf("✓ Wrote Markdown: %s\n", mdPath)
		}
	}
	r.RenderSummary(report)
	return nil
}

func (r *Renderer) RenderJSON(report *model.FullReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

func (r *Renderer) RenderMarkdown(report *model.FullReport, path string) error {
	return os.WriteFile(path, []byte(r.Markdown(report)), 0644)
}

// Markdown builds the protocol draft text.
func (r *Renderer) Markdown(report *model.FullReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Bioequivalence Protocol %s (%s)\n\n", report.ProtocolID, report.ProtocolStatus)
	fmt.Fprintf(&b, "- INN: %s\n", report.INN)
	if report.DosageForm != "" {
		fmt.Fprintf(&b, "- Dosage form: %s\n", report.DosageForm)
	}
	if report.Dose != "" {
		fmt.Fprintf(&b, "- Dose: %s\n", report.Dose)
	}
	fmt.Fprintf(&b, "- Study condition: %s\n", report.StudyCondition)
	fmt.Fprintf(&b, "- Generated: %s\n", report.GeneratedAt.Format("2006-01-02 15:04 UTC"))
	fmt.Fprintf(&b, "- Run: %s (request %s)\n\n", report.RunID, report.RequestHash)

	if len(report.Blockers) > 0 {
		b.WriteString("## Blockers\n\n")
		for _, blocker := range report.Blockers {
			fmt.Fprintf(&b, "- %s\n", blocker)
		}
		b.WriteString("\n")
	}

	b.WriteString("## CV Decision\n\n")
	if report.CVInfo.Value != nil {
		fmt.Fprintf(&b, "- CVintra: %.1f%% (source: %s, confidence: %s)\n",
			*report.CVInfo.Value, report.CVInfo.Source, report.CVInfo.Confidence)
	} else {
		fmt.Fprintf(&b, "- CVintra: not available (source: %s)\n", report.CVInfo.Source)
	}
	if report.CVInfo.RangeLow != nil && report.CVInfo.RangeHigh != nil {
		fmt.Fprintf(&b, "- Heuristic range: %.0f–%.0f%%\n", *report.CVInfo.RangeLow, *report.CVInfo.RangeHigh)
	}
	if report.CVInfo.RequiresConfirm && !report.CVInfo.ConfirmedByUser {
		b.WriteString("- Requires human confirmation before deterministic sample size.\n")
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Data Quality\n\n- Score: %d/100 (%s)\n", report.DataQuality.Score, report.DataQuality.Level)
	for _, reason := range report.DataQuality.Reasons {
		fmt.Fprintf(&b, "- %s\n", reason)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Design\n\n- Recommendation: %s\n- Rule: %s\n- %s\n\n",
		report.Design.Recommendation, report.Design.ReasoningRuleID, report.Design.ReasoningText)

	b.WriteString("## Sample Size\n\n")
	if det := report.SampleSizeDet; det != nil {
		if det.NTotal != nil {
			fmt.Fprintf(&b, "- N total: %d, randomized: %d, screened: %d (power %.2f, alpha %.3f)\n",
				*det.NTotal, derefInt(det.NRand), derefInt(det.NScreen), det.Power, det.Alpha)
		} else {
			b.WriteString("- Deterministic N: not computed\n")
		}
		for _, w := range det.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	if risk := report.SampleSizeRisk; risk != nil {
		fmt.Fprintf(&b, "- Risk-based N (%s, %d sims, seed %d):\n", risk.CVDistribution, risk.NSims, risk.Seed)
		for _, target := range []string{"0.7", "0.8", "0.9"} {
			if n, ok := risk.NTargets[target]; ok {
				fmt.Fprintf(&b, "  - P(success) ≥ %s: N = %d\n", target, n)
			}
		}
	}
	if report.SampleSizeDet == nil && report.SampleSizeRisk == nil {
		b.WriteString("- Not computed\n")
	}
	b.WriteString("\n")

	if len(report.Sources) > 0 {
		b.WriteString("## Sources\n\n")
		for _, src := range report.Sources {
			fmt.Fprintf(&b, "- %s (%d) %s\n", src.RefID, src.Year, src.Title)
		}
		b.WriteString("\n")
	}

	if len(report.RegCheck) > 0 {
		b.WriteString("## Regulatory Checks\n\n")
		for _, item := range report.RegCheck {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", item.Status, item.RuleID, item.Message)
		}
		b.WriteString("\n")
	}

	if len(report.OpenQuestions) > 0 {
		b.WriteString("## Open Questions\n\n")
		for _, q := range report.OpenQuestions {
			fmt.Fprintf(&b, "- (%s/%s) %s\n", q.Category, q.Priority, q.Question)
		}
		b.WriteString("\n")
	}

	if len(report.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, w := range report.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	return b.String()
}

// RenderSummary prints the one-screen verdict.
func (r *Renderer) RenderSummary(report *model.FullReport) {
	fmt.Printf("\n%s — %s [%s]\n", report.ProtocolID, report.INN, report.ProtocolStatus)
	fmt.Printf("  Quality: %d/100 (%s)\n", report.DataQuality.Score, report.DataQuality.Level)
	if report.CVInfo.Value != nil {
		fmt.Printf("  CVintra: %.1f%% (%s)\n", *report.CVInfo.Value, report.CVInfo.Source)
	} else {
		fmt.Printf("  CVintra: n/a (%s)\n", report.CVInfo.Source)
	}
	fmt.Printf("  Design:  %s\n", report.Design.Recommendation)
	if report.SampleSizeDet != nil && report.SampleSizeDet.NTotal != nil {
		fmt.Printf("  N:       %d\n", *report.SampleSizeDet.NTotal)
	}
	if len(report.Blockers) > 0 {
		fmt.Printf("  Blocked: %s\n", strings.Join(report.Blockers, ", "))
	}
	fmt.Printf("  Open questions: %d\n\n", len(report.OpenQuestions))
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
