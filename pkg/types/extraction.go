// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// EvidenceLevel classifies study design strength.
type EvidenceLevel string

const (
	EvidenceUnknown       EvidenceLevel = "unknown"
	EvidenceCaseReport    EvidenceLevel = "case_report"
	EvidenceCaseSeries    EvidenceLevel = "case_series"
	EvidenceRetrospective EvidenceLevel = "retrospective"
	EvidenceProspective   EvidenceLevel = "prospective"
	EvidenceRCT           EvidenceLevel = "rct"
	EvidenceMetaAnalysis  EvidenceLevel = "meta_analysis"
)

// Rank orders evidence levels from weakest (0) to strongest (6).
func (e EvidenceLevel) Rank() int {
	switch e {
	case EvidenceCaseReport:
		return 1
	case EvidenceCaseSeries:
		return 2
	case EvidenceRetrospective:
		return 3
	case EvidenceProspective:
		return 4
	case EvidenceRCT:
		return 5
	case EvidenceMetaAnalysis:
		return 6
	default:
		return 0
	}
}

// Valid reports whether e is one of the known levels.
func (e EvidenceLevel) Valid() bool {
	return e == EvidenceUnknown || e.Rank() > 0
}

// ExtractionMethod records how an Extraction was produced.
type ExtractionMethod string

const (
	MethodSinglePass ExtractionMethod = "single_pass"
	MethodMultiStage ExtractionMethod = "multi_stage"
)

// MetricType identifies what the efficacy numbers measure.
type MetricType string

const (
	MetricUnknown      MetricType = ""
	MetricResponseRate MetricType = "response_rate"
	MetricRemission    MetricType = "remission"
	MetricScoreChange  MetricType = "score_change"
	MetricDrugSurvival MetricType = "drug_survival"
	MetricOther        MetricType = "other"
)

// Population holds patient-population facts.
type Population struct {
	NPatients           *int   `json:"n_patients,omitempty" yaml:"n_patients,omitempty"`
	Description         string `json:"description,omitempty" yaml:"description,omitempty"`
	Severity            string `json:"severity,omitempty" yaml:"severity,omitempty"`
	PriorTreatmentLines *int   `json:"prior_treatment_lines,omitempty" yaml:"prior_treatment_lines,omitempty"`
	Refractory          bool   `json:"refractory,omitempty" yaml:"refractory,omitempty"`
}

// Treatment holds dosing facts.
type Treatment struct {
	Dose          string   `json:"dose,omitempty" yaml:"dose,omitempty"`
	Duration      string   `json:"duration,omitempty" yaml:"duration,omitempty"`
	DurationWeeks *float64 `json:"duration_weeks,omitempty" yaml:"duration_weeks,omitempty"`
}

// Efficacy holds the efficacy signal.
type Efficacy struct {
	// ResponseRateText is the response rate as written (e.g. "10/12 (83%)").
	ResponseRateText string   `json:"response_rate_text,omitempty" yaml:"response_rate_text,omitempty"`
	ResponseRatePct  *float64 `json:"response_rate_pct,omitempty" yaml:"response_rate_pct,omitempty"`
	RespondersN      *int     `json:"responders_n,omitempty" yaml:"responders_n,omitempty"`
	RespondersPct    *float64 `json:"responders_pct,omitempty" yaml:"responders_pct,omitempty"`
	PrimaryEndpoint  string   `json:"primary_endpoint,omitempty" yaml:"primary_endpoint,omitempty"`

	// ResponseCriteria is the stated definition of response (e.g. "PASI75").
	ResponseCriteria string `json:"response_criteria,omitempty" yaml:"response_criteria,omitempty"`

	Summary          string     `json:"summary,omitempty" yaml:"summary,omitempty"`
	MetricType       MetricType `json:"metric_type,omitempty" yaml:"metric_type,omitempty"`
	MetricConfidence float64    `json:"metric_confidence,omitempty" yaml:"metric_confidence,omitempty"`

	// DrugSurvivalPct holds a retention figure moved out of ResponseRatePct
	// when the metric is reclassified as drug survival.
	DrugSurvivalPct *float64 `json:"drug_survival_pct,omitempty" yaml:"drug_survival_pct,omitempty"`

	Biomarkers      []string `json:"biomarkers,omitempty" yaml:"biomarkers,omitempty"`
	BiomarkerChange bool     `json:"biomarker_change,omitempty" yaml:"biomarker_change,omitempty"`
}

// Safety holds the safety profile.
type Safety struct {
	AdverseEvents []string `json:"adverse_events,omitempty" yaml:"adverse_events,omitempty"`
	SAECount      *int     `json:"sae_count,omitempty" yaml:"sae_count,omitempty"`
	SAEPct        *float64 `json:"sae_pct,omitempty" yaml:"sae_pct,omitempty"`
	Summary       string   `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// Extraction is the structured record for one (paper, drug) pair.
type Extraction struct {
	PaperKey string `json:"paper_key" yaml:"paper_key"`
	Drug     string `json:"drug" yaml:"drug"`

	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	Year        int    `json:"year,omitempty" yaml:"year,omitempty"`
	Source      string `json:"source,omitempty" yaml:"source,omitempty"`
	HasFullText bool   `json:"has_full_text" yaml:"has_full_text"`
	IsPreprint  bool   `json:"is_preprint,omitempty" yaml:"is_preprint,omitempty"`

	Disease         string `json:"disease" yaml:"disease"`
	DiseaseSubtype  string `json:"disease_subtype,omitempty" yaml:"disease_subtype,omitempty"`
	DiseaseCategory string `json:"disease_category,omitempty" yaml:"disease_category,omitempty"`

	// RawDisease preserves the extracted label before standardization.
	RawDisease string `json:"raw_disease,omitempty" yaml:"raw_disease,omitempty"`

	// DiseaseTooBroad flags generic labels such as "adverse event".
	DiseaseTooBroad bool `json:"disease_too_broad,omitempty" yaml:"disease_too_broad,omitempty"`

	IsOffLabel bool `json:"is_off_label" yaml:"is_off_label"`
	IsRelevant bool `json:"is_relevant" yaml:"is_relevant"`

	StudyDesign   string        `json:"study_design,omitempty" yaml:"study_design,omitempty"`
	EvidenceLevel EvidenceLevel `json:"evidence_level" yaml:"evidence_level"`

	Population Population `json:"population" yaml:"population"`
	Treatment  Treatment  `json:"treatment" yaml:"treatment"`
	Efficacy   Efficacy   `json:"efficacy" yaml:"efficacy"`
	Safety     Safety     `json:"safety" yaml:"safety"`

	FollowUp      string   `json:"follow_up,omitempty" yaml:"follow_up,omitempty"`
	FollowUpWeeks *float64 `json:"follow_up_weeks,omitempty" yaml:"follow_up_weeks,omitempty"`

	KeyFindings string           `json:"key_findings,omitempty" yaml:"key_findings,omitempty"`
	Method      ExtractionMethod `json:"method" yaml:"method"`

	// Annotations records every deterministic fixup applied to this record.
	Annotations []string `json:"annotations,omitempty" yaml:"annotations,omitempty"`

	IndividualScore *float64 `json:"individual_score,omitempty" yaml:"individual_score,omitempty"`
}

// Clone returns a deep copy so fixups never touch cached data.
func (e *Extraction) Clone() *Extraction {
	if e == nil {
		return nil
	}
	c := *e
	c.Population.NPatients = cloneInt(e.Population.NPatients)
	c.Population.PriorTreatmentLines = cloneInt(e.Population.PriorTreatmentLines)
	c.Treatment.DurationWeeks = cloneFloat(e.Treatment.DurationWeeks)
	c.Efficacy.ResponseRatePct = cloneFloat(e.Efficacy.ResponseRatePct)
	c.Efficacy.RespondersN = cloneInt(e.Efficacy.RespondersN)
	c.Efficacy.RespondersPct = cloneFloat(e.Efficacy.RespondersPct)
	c.Efficacy.DrugSurvivalPct = cloneFloat(e.Efficacy.DrugSurvivalPct)
	c.Efficacy.Biomarkers = append([]string(nil), e.Efficacy.Biomarkers...)
	c.Safety.AdverseEvents = append([]string(nil), e.Safety.AdverseEvents...)
	c.Safety.SAECount = cloneInt(e.Safety.SAECount)
	c.Safety.SAEPct = cloneFloat(e.Safety.SAEPct)
	c.FollowUpWeeks = cloneFloat(e.FollowUpWeeks)
	c.Annotations = append([]string(nil), e.Annotations...)
	c.IndividualScore = cloneFloat(e.IndividualScore)
	return &c
}

// Annotate appends a fixup note unless it is already present.
func (e *Extraction) Annotate(note string) {
	for _, a := range e.Annotations {
		if a == note {
			return
		}
	}
	e.Annotations = append(e.Annotations, note)
}

// Patients returns NPatients or 0 when unknown.
func (e *Extraction) Patients() int {
	if e.Population.NPatients == nil {
		return 0
	}
	return *e.Population.NPatients
}

// IntPtr and FloatPtr build optional fields.
func IntPtr(v int) *int { return &v }

func FloatPtr(v float64) *float64 { return &v }

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
