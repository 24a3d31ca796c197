// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Study score dimension labels.
const (
	DimEfficacyRigor      = "efficacy_rigor"
	DimSampleSize         = "sample_size"
	DimEndpointQuality    = "endpoint_quality"
	DimBiomarkerSupport   = "biomarker_support"
	DimResponseDefinition = "response_definition"
	DimFollowUp           = "follow_up_duration"
)

// StudyDimensions lists the six study dimensions in reporting order.
var StudyDimensions = []string{
	DimEfficacyRigor,
	DimSampleSize,
	DimEndpointQuality,
	DimBiomarkerSupport,
	DimResponseDefinition,
	DimFollowUp,
}

// StudyScore is the per-study quality score. Every dimension is in [1,10].
type StudyScore struct {
	EfficacyRigor      float64 `json:"efficacy_rigor" yaml:"efficacy_rigor"`
	SampleSize         float64 `json:"sample_size" yaml:"sample_size"`
	EndpointQuality    float64 `json:"endpoint_quality" yaml:"endpoint_quality"`
	BiomarkerSupport   float64 `json:"biomarker_support" yaml:"biomarker_support"`
	ResponseDefinition float64 `json:"response_definition" yaml:"response_definition"`
	FollowUp           float64 `json:"follow_up_duration" yaml:"follow_up_duration"`
	Total              float64 `json:"total" yaml:"total"`
}

// Dimensions returns the six dimension scores keyed by label.
func (s StudyScore) Dimensions() map[string]float64 {
	return map[string]float64{
		DimEfficacyRigor:      s.EfficacyRigor,
		DimSampleSize:         s.SampleSize,
		DimEndpointQuality:    s.EndpointQuality,
		DimBiomarkerSupport:   s.BiomarkerSupport,
		DimResponseDefinition: s.ResponseDefinition,
		DimFollowUp:           s.FollowUp,
	}
}

// Consistency labels for AggregateScore.
const (
	ConsistencyHigh     = "High"
	ConsistencyModerate = "Moderate"
	ConsistencyLow      = "Low"
	ConsistencySingle   = "Single study"
	ConsistencyNA       = "N/A"
)

// Confidence labels for AggregateScore.
const (
	ConfidenceModerate    = "Moderate"
	ConfidenceLowModerate = "Low-Moderate"
	ConfidenceLow         = "Low"
	ConfidenceVeryLow     = "Very Low"
	ConfidenceNone        = "None"
)

// StudyRef identifies one contributing study in an AggregateScore.
type StudyRef struct {
	PaperKey        string        `json:"paper_key" yaml:"paper_key"`
	Title           string        `json:"title,omitempty" yaml:"title,omitempty"`
	NPatients       int           `json:"n_patients" yaml:"n_patients"`
	ResponseRatePct *float64      `json:"response_rate_pct,omitempty" yaml:"response_rate_pct,omitempty"`
	EvidenceLevel   EvidenceLevel `json:"evidence_level" yaml:"evidence_level"`
	TotalScore      float64       `json:"total_score" yaml:"total_score"`
}

// AggregateScore is the per-canonical-disease rollup across studies.
type AggregateScore struct {
	Disease           string   `json:"disease" yaml:"disease"`
	StudyCount        int      `json:"study_count" yaml:"study_count"`
	TotalPatients     int      `json:"total_patients" yaml:"total_patients"`
	TotalResponders   int      `json:"total_responders" yaml:"total_responders"`
	PooledResponsePct *float64 `json:"pooled_response_pct,omitempty" yaml:"pooled_response_pct,omitempty"`
	ResponseMinPct    *float64 `json:"response_min_pct,omitempty" yaml:"response_min_pct,omitempty"`
	ResponseMaxPct    *float64 `json:"response_max_pct,omitempty" yaml:"response_max_pct,omitempty"`

	// Heterogeneity is the coefficient of variation of per-study rates;
	// nil when fewer than two studies report a rate.
	Heterogeneity *float64 `json:"heterogeneity_cv,omitempty" yaml:"heterogeneity_cv,omitempty"`

	Consistency string `json:"consistency" yaml:"consistency"`
	Confidence  string `json:"confidence" yaml:"confidence"`
	HasFullText bool   `json:"has_full_text" yaml:"has_full_text"`

	AverageScores map[string]float64 `json:"average_scores,omitempty" yaml:"average_scores,omitempty"`
	BestScores    map[string]float64 `json:"best_scores,omitempty" yaml:"best_scores,omitempty"`

	Studies []StudyRef `json:"studies" yaml:"studies"`
}
