package extract

import (
	"context"

	"github.com/ppiankov/beplan/internal/model"
)

// WarnLLMExtracted marks values produced by an LLM; the trust policy
// forces human confirmation on anything carrying it.
const WarnLLMExtracted = "llm_extracted_requires_human_review"

// Result is the combined extraction output for one run.
type Result struct {
	PKValues []model.PKValue
	CIValues []model.CIValue

	// StudyCondition is fed, fasted, both, or unknown.
	StudyCondition string
}

// Extractor pulls PK evidence for an INN out of the given sources.
type Extractor interface {
	Extract(ctx context.Context, inn string, sources []model.SourceCandidate) (Result, error)
}

// Merge folds another result into r. PK and CI values concatenate;
// the study condition keeps the first definite answer and degrades to
// "both" when sources disagree.
func (r *Result) Merge(other Result) {
	r.PKValues = append(r.PKValues, other.PKValues...)
	r.CIValues = append(r.CIValues, other.CIValues...)
	switch {
	case r.StudyCondition == "" || r.StudyCondition == "unknown":
		r.StudyCondition = other.StudyCondition
	case other.StudyCondition == "" || other.StudyCondition == "unknown":
	case other.StudyCondition != r.StudyCondition:
		r.StudyCondition = "both"
	}
}
