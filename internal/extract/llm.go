package extract

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/ppiankov/beplan/internal/litsource"
	"github.com/ppiankov/beplan/internal/llm"
	"github.com/ppiankov/beplan/internal/model"
)

// LLMExtractor asks an LLM to pull structured PK data out of abstract
// text. Every value it produces carries WarnLLMExtracted, so the trust
// policy keeps a human in the loop.
type LLMExtractor struct {
	fetcher  litsource.Fetcher
	provider llm.Provider
	log      *zap.Logger
}

func NewLLMExtractor(fetcher litsource.Fetcher, provider llm.Provider, log *zap.Logger) *LLMExtractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &LLMExtractor{fetcher: fetcher, provider: provider, log: log}
}

type llmPayload struct {
	PKValues []struct {
		Name    string   `json:"name"`
		Value   *float64 `json:"value"`
		Unit    string   `json:"unit"`
		Snippet string   `json:"snippet"`
	} `json:"pk_values"`
	CIValues []struct {
		Param   string  `json:"param"`
		CILow   float64 `json:"ci_low"`
		CIHigh  float64 `json:"ci_high"`
		Level   float64 `json:"level"`
		N       *int    `json:"n"`
		Design  string  `json:"design"`
		Snippet string  `json:"snippet"`
	} `json:"ci_values"`
	CVIntra *struct {
		Value   float64 `json:"value"`
		Snippet string  `json:"snippet"`
	} `json:"cv_intra"`
	StudyCondition string `json:"study_condition"`
}

func (e *LLMExtractor) Extract(ctx context.Context, inn string, sources []model.SourceCandidate) (Result, error) {
	var result Result
	for _, src := range sources {
		text, err := e.fetcher.FetchAbstract(ctx, src.RefID)
		if err != nil {
			e.log.Warn("abstract fetch failed", zap.String("ref_id", src.RefID), zap.Error(err))
			continue
		}
		resp, err := e.provider.ExtractPK(ctx, llm.ExtractRequest{
			INN:   inn,
			RefID: src.RefID,
			Text:  text,
		})
		if err != nil {
			// LLM trouble degrades to no extra values, never a failed run.
			e.log.Warn("llm extraction failed", zap.String("ref_id", src.RefID), zap.Error(err))
			continue
		}
		part, err := parseLLMPayload(src.RefID, resp.JSON)
		if err != nil {
			e.log.Warn("llm payload malformed", zap.String("ref_id", src.RefID), zap.Error(err))
			continue
		}
		result.Merge(part)
	}
	if result.StudyCondition == "" {
		result.StudyCondition = "unknown"
	}
	return result, nil
}

func parseLLMPayload(refID, raw string) (Result, error) {
	var payload llmPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Result{}, err
	}

	var result Result
	for _, v := range payload.PKValues {
		if v.Name == "" || v.Value == nil {
			continue
		}
		pk := model.PKValue{
			Name:     v.Name,
			Value:    v.Value,
			Unit:     v.Unit,
			Evidence: []model.Evidence{{Source: refID, Snippet: v.Snippet, Location: "abstract"}},
		}
		pk.AddWarning(WarnLLMExtracted)
		result.PKValues = append(result.PKValues, pk)
	}
	if payload.CVIntra != nil && payload.CVIntra.Value > 0 {
		value := payload.CVIntra.Value
		pk := model.PKValue{
			Name:     "CVintra",
			Value:    &value,
			Unit:     "%",
			Evidence: []model.Evidence{{Source: refID, Snippet: payload.CVIntra.Snippet, Location: "abstract"}},
		}
		pk.AddWarning(WarnLLMExtracted)
		result.PKValues = append(result.PKValues, pk)
	}
	for _, v := range payload.CIValues {
		if v.CILow <= 0 || v.CIHigh <= v.CILow {
			continue
		}
		level := v.Level
		if level == 0 {
			level = 0.90
		}
		ciType := model.CITypeRatio
		if v.CILow > 10 {
			ciType = model.CITypePercent
		}
		result.CIValues = append(result.CIValues, model.CIValue{
			Param:           v.Param,
			CILow:           v.CILow,
			CIHigh:          v.CIHigh,
			CIType:          ciType,
			ConfidenceLevel: level,
			N:               v.N,
			DesignHint:      v.Design,
			Evidence:        []model.Evidence{{Source: refID, Snippet: v.Snippet, Location: "abstract"}},
			Warnings:        []string{WarnLLMExtracted},
		})
	}
	result.StudyCondition = payload.StudyCondition
	return result, nil
}
