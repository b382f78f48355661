package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ppiankov/beplan/internal/model"
)

// FileExtractor loads a prepared evidence payload from disk. Used when
// the operator already has curated values and wants a plan without any
// literature calls.
type FileExtractor struct {
	Path string
}

type filePayload struct {
	StudyCondition string        `json:"study_condition"`
	PKValues       []filePKValue `json:"pk_values"`
	CIValues       []fileCIValue `json:"ci_values"`
}

type filePKValue struct {
	Name    string   `json:"name"`
	Value   *float64 `json:"value"`
	Unit    string   `json:"unit"`
	Source  string   `json:"source"`
	Snippet string   `json:"snippet"`
	Fed     bool     `json:"fed"`
	Fasted  bool     `json:"fasted"`
}

type fileCIValue struct {
	Param      string   `json:"param"`
	CILow      float64  `json:"ci_low"`
	CIHigh     float64  `json:"ci_high"`
	CIType     string   `json:"ci_type"`
	Level      float64  `json:"level"`
	N          *int     `json:"n"`
	DesignHint string   `json:"design_hint"`
	GMR        *float64 `json:"gmr"`
	Source     string   `json:"source"`
	Snippet    string   `json:"snippet"`
}

func (e *FileExtractor) Extract(ctx context.Context, inn string, sources []model.SourceCandidate) (Result, error) {
	data, err := os.ReadFile(e.Path)
	if err != nil {
		return Result{}, fmt.Errorf("read evidence file: %w", err)
	}
	var payload filePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Result{}, fmt.Errorf("parse evidence file: %w", err)
	}

	result := Result{StudyCondition: payload.StudyCondition}
	if result.StudyCondition == "" {
		result.StudyCondition = "unknown"
	}

	for _, v := range payload.PKValues {
		pk := model.PKValue{
			Name:  v.Name,
			Value: v.Value,
			Unit:  v.Unit,
		}
		if v.Source != "" || v.Snippet != "" {
			ev := model.Evidence{Source: v.Source, Snippet: v.Snippet, Location: "file"}
			if v.Fed || v.Fasted {
				ev.ContextTags = map[string]bool{"fed": v.Fed, "fasted": v.Fasted}
			}
			pk.Evidence = []model.Evidence{ev}
		}
		pk.AmbiguousCond = v.Fed && v.Fasted
		result.PKValues = append(result.PKValues, pk)
	}

	for _, v := range payload.CIValues {
		ci := model.CIValue{
			Param:           v.Param,
			CILow:           v.CILow,
			CIHigh:          v.CIHigh,
			CIType:          model.CIType(v.CIType),
			ConfidenceLevel: v.Level,
			N:               v.N,
			DesignHint:      v.DesignHint,
			GMR:             v.GMR,
		}
		if ci.CIType == "" {
			ci.CIType = model.CITypeRatio
		}
		if ci.ConfidenceLevel == 0 {
			ci.ConfidenceLevel = 0.90
		}
		if v.Source != "" || v.Snippet != "" {
			ci.Evidence = []model.Evidence{{Source: v.Source, Snippet: v.Snippet, Location: "file"}}
		}
		result.CIValues = append(result.CIValues, ci)
	}
	return result, nil
}
