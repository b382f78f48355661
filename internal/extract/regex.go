package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/beplan/internal/litsource"
	"github.com/ppiankov/beplan/internal/model"
)

// snippetRadius is how much surrounding text is kept as evidence.
const snippetRadius = 120

var (
	cmaxPattern  = regexp.MustCompile(`(?i)\bC\s?max\b[^.;\n]{0,60}?(\d+(?:\.\d+)?)\s*(ng/mL|µg/mL|ug/mL|mg/L)`)
	aucPattern   = regexp.MustCompile(`(?i)\b(AUC(?:\s?0?[-–]?(?:t|inf|72))?)\b[^.;\n]{0,60}?(\d+(?:\.\d+)?)\s*(ng[·.*]?h/mL|µg[·.*]?h/mL|ug[·.*]?h/mL|h[·.*]?ng/mL|mg[·.*]?h/L)`)
	thalfPattern = regexp.MustCompile(`(?i)\b(?:t\s?1/2|t½|half[- ]life)\b[^.;\n]{0,60}?(\d+(?:\.\d+)?)\s*(hours|hour|hrs|hr|h|min)\b`)
	cvPattern    = regexp.MustCompile(`(?i)\bCV\s*(?:intra(?:subject)?|w|\(intra[^)]*\))?\s*(?:of|was|is|=|:)?\s*(\d+(?:\.\d+)?)\s*%`)
	ciPattern    = regexp.MustCompile(`(?i)90\s*%\s*(?:CI|confidence interval)[^0-9]{0,30}(\d+(?:\.\d+)?)\s*(?:[-–—]|to|,)\s*(\d+(?:\.\d+)?)`)
	nPattern     = regexp.MustCompile(`(?i)\bn\s*=\s*(\d+)\b`)
)

// RegexExtractor scans abstract text with deterministic patterns. It
// is the baseline extractor; the LLM extractor supplements it when
// configured.
type RegexExtractor struct {
	fetcher litsource.Fetcher
	log     *zap.Logger
}

func NewRegexExtractor(fetcher litsource.Fetcher, log *zap.Logger) *RegexExtractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &RegexExtractor{fetcher: fetcher, log: log}
}

func (e *RegexExtractor) Extract(ctx context.Context, inn string, sources []model.SourceCandidate) (Result, error) {
	var result Result
	for _, src := range sources {
		text, err := e.fetcher.FetchAbstract(ctx, src.RefID)
		if err != nil {
			// One dead source never fails the run.
			e.log.Warn("abstract fetch failed", zap.String("ref_id", src.RefID), zap.Error(err))
			continue
		}
		part := e.scan(src.RefID, text)
		result.Merge(part)
	}
	if result.StudyCondition == "" {
		result.StudyCondition = "unknown"
	}
	return result, nil
}

// ScanText runs the patterns over one source's text. Exposed so tests
// and file-backed flows can reuse the scanning without HTTP.
func (e *RegexExtractor) ScanText(refID, text string) Result {
	return e.scan(refID, text)
}

func (e *RegexExtractor) scan(refID, text string) Result {
	var result Result

	for _, m := range cmaxPattern.FindAllStringSubmatchIndex(text, -1) {
		result.PKValues = append(result.PKValues, pkFromMatch(text, refID, "Cmax", m, 2, 4))
	}
	for _, m := range aucPattern.FindAllStringSubmatchIndex(text, -1) {
		name := canonicalAUCName(text[m[2]:m[3]])
		result.PKValues = append(result.PKValues, pkFromMatch(text, refID, name, m, 4, 6))
	}
	for _, m := range thalfPattern.FindAllStringSubmatchIndex(text, -1) {
		result.PKValues = append(result.PKValues, pkFromMatch(text, refID, "t1/2", m, 2, 4))
	}
	for _, m := range cvPattern.FindAllStringSubmatchIndex(text, -1) {
		pk := pkFromMatch(text, refID, "CVintra", m, 2, -1)
		pk.Unit = "%"
		result.PKValues = append(result.PKValues, pk)
	}

	designHint := inferDesignHint(text)
	for _, m := range ciPattern.FindAllStringSubmatchIndex(text, -1) {
		low, err1 := strconv.ParseFloat(text[m[2]:m[3]], 64)
		high, err2 := strconv.ParseFloat(text[m[4]:m[5]], 64)
		if err1 != nil || err2 != nil || low >= high {
			continue
		}
		ci := model.CIValue{
			Param:           nearestCIParam(text, m[0]),
			CILow:           low,
			CIHigh:          high,
			CIType:          model.CITypeRatio,
			ConfidenceLevel: 0.90,
			DesignHint:      designHint,
			Evidence:        []model.Evidence{evidenceAt(text, refID, m[0], m[1])},
		}
		// Percent-scale bounds like 92.4-108.1.
		if low > 10 {
			ci.CIType = model.CITypePercent
		}
		if nm := nPattern.FindStringSubmatch(window(text, m[0], m[1])); nm != nil {
			if n, err := strconv.Atoi(nm[1]); err == nil && n > 0 {
				ci.N = &n
			}
		}
		tagFeeding(window(text, m[0], m[1]), &ci.AmbiguousCond, nil)
		result.CIValues = append(result.CIValues, ci)
	}

	result.StudyCondition = detectCondition(text)
	return result
}

func pkFromMatch(text, refID, name string, m []int, valueGroup, unitGroup int) model.PKValue {
	value, _ := strconv.ParseFloat(text[m[valueGroup]:m[valueGroup+1]], 64)
	pk := model.PKValue{
		Name:     name,
		Value:    &value,
		Evidence: []model.Evidence{evidenceAt(text, refID, m[0], m[1])},
	}
	if unitGroup >= 0 && m[unitGroup] >= 0 {
		pk.Unit = normalizeUnitText(text[m[unitGroup]:m[unitGroup+1]])
	}
	tagFeeding(window(text, m[0], m[1]), &pk.AmbiguousCond, pk.Evidence)
	return pk
}

func evidenceAt(text, refID string, start, end int) model.Evidence {
	lo := start - snippetRadius
	if lo < 0 {
		lo = 0
	}
	hi := end + snippetRadius
	if hi > len(text) {
		hi = len(text)
	}
	return model.Evidence{
		Source:   refID,
		Snippet:  strings.TrimSpace(text[lo:hi]),
		Location: "abstract",
	}
}

func window(text string, start, end int) string {
	lo := start - snippetRadius
	if lo < 0 {
		lo = 0
	}
	hi := end + snippetRadius
	if hi > len(text) {
		hi = len(text)
	}
	return strings.ToLower(text[lo:hi])
}

// tagFeeding records fed/fasted signals found near the value and
// flags the ambiguity when both appear in the same context.
func tagFeeding(contextText string, ambiguous *bool, evidence []model.Evidence) {
	fed := strings.Contains(contextText, "fed") || strings.Contains(contextText, "food effect")
	fasted := strings.Contains(contextText, "fasted") || strings.Contains(contextText, "fasting")
	if fed && fasted {
		*ambiguous = true
	}
	if len(evidence) > 0 && (fed || fasted) {
		if evidence[0].ContextTags == nil {
			evidence[0].ContextTags = map[string]bool{}
		}
		evidence[0].ContextTags["fed"] = fed
		evidence[0].ContextTags["fasted"] = fasted
	}
}

func detectCondition(text string) string {
	lower := strings.ToLower(text)
	fed := strings.Contains(lower, "fed") || strings.Contains(lower, "food effect")
	fasted := strings.Contains(lower, "fasted") || strings.Contains(lower, "fasting")
	switch {
	case fed && fasted:
		return "both"
	case fed:
		return "fed"
	case fasted:
		return "fasted"
	default:
		return "unknown"
	}
}

// inferDesignHint reads study-design signals out of the abstract so a
// CI can later support a CV derivation. A plain "crossover" mention is
// taken as the standard 2x2.
func inferDesignHint(text string) string {
	lower := strings.ToLower(text)
	var hints []string
	if strings.Contains(lower, "2x2") || strings.Contains(lower, "2×2") || strings.Contains(lower, "crossover") || strings.Contains(lower, "cross-over") {
		hints = append(hints, "2x2_crossover")
	}
	if strings.Contains(lower, "log") && strings.Contains(lower, "transform") {
		hints = append(hints, "log_transformed")
	}
	return strings.Join(hints, "; ")
}

// nearestCIParam attributes a CI to AUC or Cmax by the closest
// preceding mention; AUC when nothing is nearby.
func nearestCIParam(text string, ciStart int) string {
	lower := strings.ToLower(text[:ciStart])
	aucIdx := strings.LastIndex(lower, "auc")
	cmaxIdx := strings.LastIndex(lower, "cmax")
	if cmaxIdx > aucIdx {
		return "Cmax"
	}
	return "AUC"
}

func canonicalAUCName(matched string) string {
	lower := strings.ToLower(strings.ReplaceAll(matched, " ", ""))
	switch {
	case strings.Contains(lower, "inf"):
		return "AUC0-inf"
	case strings.Contains(lower, "72"):
		return "AUC0-72"
	case strings.Contains(lower, "t"):
		return "AUC0-t"
	default:
		return "AUC0-t"
	}
}

func normalizeUnitText(unit string) string {
	unit = strings.TrimSpace(unit)
	unit = strings.ReplaceAll(unit, "*", "·")
	unit = strings.ReplaceAll(unit, "ug", "µg")
	switch strings.ToLower(unit) {
	case "hrs", "hr", "hour", "hours":
		return "h"
	}
	return unit
}
