package llm

import (
	"context"
	"fmt"
	"strings"
)

// Provider is an LLM backend used for structured PK extraction from
// abstract text. Everything it returns is advisory: extracted values
// are tagged for human review and never auto-trusted downstream.
type Provider interface {
	Name() string

	// ExtractPK asks the model to pull PK parameters, CIs, and CVs out
	// of literature text as strict JSON.
	ExtractPK(ctx context.Context, req ExtractRequest) (*ExtractResponse, error)

	// IsAvailable checks that the provider is configured and reachable.
	IsAvailable(ctx context.Context) bool
}

// ExtractRequest is one extraction call over one source's text.
type ExtractRequest struct {
	INN   string
	RefID string // PMID:... identifier used for evidence provenance
	Text  string

	// Model overrides the configured model for this call.
	Model     string
	MaxTokens int
}

// ExtractResponse carries the model's raw JSON payload. Parsing into
// typed PK values happens in the extract package, so a malformed
// response degrades to zero values instead of failing the run.
type ExtractResponse struct {
	JSON       string
	Model      string
	TokensUsed int
}

// BuildPrompt constructs the strict-JSON extraction prompt. The value
// schema mirrors the typed models; the model is told to leave out
// anything it cannot quote from the text.
func BuildPrompt(inn, refID, text string) string {
	return fmt.Sprintf(`You extract pharmacokinetic data for bioequivalence planning. The drug is %q, the source is %s.

CRITICAL RULES:
1. Output ONLY a JSON object, no prose, matching this schema:
   {"pk_values":[{"name":"Cmax","value":123.4,"unit":"ng/mL","snippet":"..."}],
    "ci_values":[{"param":"AUC","ci_low":0.92,"ci_high":1.08,"level":0.90,"n":24,"design":"2x2 crossover log-transformed","snippet":"..."}],
    "cv_intra":{"value":24.0,"snippet":"..."},
    "study_condition":"fasted"}
2. Every entry MUST include a verbatim snippet from the text that contains the value.
3. Omit any field you cannot support with a quote. Never guess or compute.
4. Report CI bounds exactly as printed; use ci_low/ci_high on the ratio scale when the text gives ratios, percent when it gives percent.
5. study_condition is "fed", "fasted", "both", or omitted.

Text:
%s`, inn, refID, truncate(text, 12000))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// ExtractJSONBlock pulls the first JSON object out of a model reply
// that may be wrapped in markdown fences or prose.
func ExtractJSONBlock(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return strings.TrimSpace(s[start : end+1])
}
