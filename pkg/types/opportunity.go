// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// MarketContext carries market facts for a disease, usually shared across
// all subtypes of a parent disease.
type MarketContext struct {
	Disease string `json:"disease" yaml:"disease"`

	// ApprovedCompetitors counts approved therapies for the indication.
	ApprovedCompetitors int `json:"approved_competitors" yaml:"approved_competitors"`

	// UnmetNeed is "high", "medium", or "low".
	UnmetNeed string `json:"unmet_need" yaml:"unmet_need"`

	// Prevalence is "rare", "uncommon", or "common".
	Prevalence string `json:"prevalence" yaml:"prevalence"`

	// Default marks a context synthesized when no market data was found.
	Default bool `json:"default,omitempty" yaml:"default,omitempty"`
}

// SubScore is one labeled, weighted component of a dimension score.
type SubScore struct {
	Label  string  `json:"label" yaml:"label"`
	Value  float64 `json:"value" yaml:"value"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// DimensionScore is a weighted blend of sub-scores with its audit breakdown.
type DimensionScore struct {
	Score     float64    `json:"score" yaml:"score"`
	Breakdown []SubScore `json:"breakdown" yaml:"breakdown"`
}

// OpportunityScore is the ranked score of one (extraction, market) pair.
type OpportunityScore struct {
	ClinicalSignal    DimensionScore `json:"clinical_signal" yaml:"clinical_signal"`
	EvidenceQuality   DimensionScore `json:"evidence_quality" yaml:"evidence_quality"`
	MarketOpportunity DimensionScore `json:"market_opportunity" yaml:"market_opportunity"`
	PreprintPenalized bool           `json:"preprint_penalized,omitempty" yaml:"preprint_penalized,omitempty"`
	OverallPriority   float64        `json:"overall_priority" yaml:"overall_priority"`
}

// Opportunity is a (drug, disease) repurposing candidate backed by one
// Extraction. Score is nil until scored; Rank is 0 until ranked.
type Opportunity struct {
	Drug       string          `json:"drug" yaml:"drug"`
	Disease    string          `json:"disease" yaml:"disease"`
	Parent     string          `json:"parent_disease,omitempty" yaml:"parent_disease,omitempty"`
	Extraction *Extraction     `json:"extraction" yaml:"extraction"`
	Aggregate  *AggregateScore `json:"aggregate,omitempty" yaml:"aggregate,omitempty"`
	Market     MarketContext   `json:"market" yaml:"market"`

	Score *OpportunityScore `json:"score,omitempty" yaml:"score,omitempty"`
	Rank  int               `json:"rank" yaml:"rank"`
}

// ReviewItem is an extraction flagged for manual review because it came
// from an abstract only.
type ReviewItem struct {
	PaperKey  string `json:"paper_key" yaml:"paper_key"`
	Title     string `json:"title" yaml:"title"`
	Disease   string `json:"disease" yaml:"disease"`
	NPatients int    `json:"n_patients" yaml:"n_patients"`
	Reason    string `json:"reason" yaml:"reason"`
}
