package cvgate

import (
	"strings"

	"github.com/ppiankov/beplan/internal/model"
)

// Base confidence scores per CV source. Penalties apply on top.
const (
	scoreManual      = 1.0
	scoreReported    = 0.9  // direct CVintra found in text
	scoreDerivedCI   = 0.8  // exact oracle derivation
	scoreLLMReported = 0.65 // CVintra extracted by the LLM from full text
	scoreApproxCI    = 0.5  // testing-grade approximation
	scoreRange       = 0.4  // heuristic range
)

// WarnLLMReview marks values the LLM extractor produced; they carry a
// confidence penalty but are not forbidden outright.
const WarnLLMReview = "llm_extracted_requires_human_review"

// TrustPolicy decides when a CV source is too doubtful to auto-trust
// and how warnings discount its confidence score.
type TrustPolicy struct {
	cfg model.TrustConfig
}

// NewTrustPolicy wraps the configured thresholds.
func NewTrustPolicy(cfg model.TrustConfig) TrustPolicy {
	return TrustPolicy{cfg: cfg}
}

// ApplyPenalties returns the discounted confidence score. Forbid-class
// warnings zero it; the LLM-review warning subtracts a fixed penalty.
func (t TrustPolicy) ApplyPenalties(score float64, warnings []string) float64 {
	for _, w := range warnings {
		if t.isForbid(w) {
			return 0.0
		}
	}
	for _, w := range warnings {
		if w == WarnLLMReview {
			score -= t.cfg.PenaltyLLMReview
			if score < 0 {
				score = 0
			}
			break
		}
	}
	return score
}

// IsDoubtful reports whether the CV must not feed N_det without human
// confirmation, regardless of its score.
func (t TrustPolicy) IsDoubtful(info model.CVInfo) bool {
	for _, w := range info.Warnings {
		if t.isForbid(w) {
			return true
		}
	}
	return false
}

// AutoTrusted reports whether an unconfirmed CV may still be used for
// deterministic sample size.
func (t TrustPolicy) AutoTrusted(info model.CVInfo) bool {
	return info.ConfidenceScore >= t.cfg.AutoCVThreshold && !t.IsDoubtful(info)
}

func (t TrustPolicy) isForbid(warning string) bool {
	for _, f := range t.cfg.DoubtfulForbid {
		if warning == f {
			return true
		}
	}
	return t.cfg.DoubtfulPrefix != "" && strings.HasPrefix(warning, t.cfg.DoubtfulPrefix)
}

// confidenceFor maps a score onto the coarse confidence scale.
func confidenceFor(score float64) model.Confidence {
	switch {
	case score >= 0.85:
		return model.ConfidenceHigh
	case score >= 0.5:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}
