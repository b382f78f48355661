package model

// QualityLevel is the traffic-light data quality rating.
type QualityLevel string

const (
	LevelGreen  QualityLevel = "green"
	LevelYellow QualityLevel = "yellow"
	LevelRed    QualityLevel = "red"
)

// QualityComponents are the five sub-scores, each in [0,1].
type QualityComponents struct {
	Completeness  float64 `json:"completeness"`
	Traceability  float64 `json:"traceability"`
	Plausibility  float64 `json:"plausibility"`
	Consistency   float64 `json:"consistency"`
	SourceQuality float64 `json:"source_quality"`
}

// DataQuality is the combined data quality verdict for one run.
// AllowNDet gates deterministic sample-size computation; PreferNRisk
// steers callers toward the Monte-Carlo estimate.
type DataQuality struct {
	Score       int               `json:"score"` // 0..100
	Level       QualityLevel      `json:"level"`
	Components  QualityComponents `json:"components"`
	Reasons     []string          `json:"reasons,omitempty"`
	AllowNDet   bool              `json:"allow_n_det"`
	PreferNRisk bool              `json:"prefer_n_risk"`
}
