// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the repurpose-engine pipeline.
// Discovery produces Papers, extraction produces Extractions, and the scoring
// stages produce StudyScores, AggregateScores, and OpportunityScores.
package types

import "strings"

// Paper is a candidate publication returned by a search source. A Paper is
// immutable once fetched; deduplication keeps the first-seen record and only
// widens its Source provenance.
type Paper struct {
	// ID is the primary external identifier (PubMed PMID when known).
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	// SecondaryID is the PubMed Central identifier (e.g. "PMC1234567").
	SecondaryID string `json:"secondary_id,omitempty" yaml:"secondary_id,omitempty"`

	// DOI is the bare DOI without any resolver prefix.
	DOI string `json:"doi,omitempty" yaml:"doi,omitempty"`

	Title    string `json:"title" yaml:"title"`
	Abstract string `json:"abstract" yaml:"abstract"`
	Year     int    `json:"year,omitempty" yaml:"year,omitempty"`
	Venue    string `json:"venue,omitempty" yaml:"venue,omitempty"`

	// Source names the backend(s) that returned this paper, comma-separated
	// after a dedup merge (e.g. "pubmed,openalex").
	Source string `json:"source" yaml:"source"`

	// HasFullText reports whether open full text is available.
	HasFullText bool `json:"has_full_text" yaml:"has_full_text"`

	// FullText holds the body text when it has been fetched.
	FullText string `json:"-" yaml:"-"`

	// IsPreprint marks unreviewed preprint-server records.
	IsPreprint bool `json:"is_preprint,omitempty" yaml:"is_preprint,omitempty"`

	// HighTrust marks papers reached through citation mining of a known
	// review; they bypass the keyword pre-filter.
	HighTrust bool `json:"high_trust,omitempty" yaml:"high_trust,omitempty"`

	RelevanceScore   float64 `json:"relevance_score" yaml:"relevance_score"`
	RelevanceReason  string  `json:"relevance_reason,omitempty" yaml:"relevance_reason,omitempty"`
	DiseaseHint      string  `json:"disease_hint,omitempty" yaml:"disease_hint,omitempty"`
	PatientCountHint *int    `json:"patient_count_hint,omitempty" yaml:"patient_count_hint,omitempty"`
}

// Key returns the stable identifier used for caching and checkpoints:
// the primary ID, then the secondary ID, then the DOI, then a title slug.
func (p Paper) Key() string {
	switch {
	case p.ID != "":
		return "pmid:" + p.ID
	case p.SecondaryID != "":
		return "pmcid:" + strings.ToUpper(p.SecondaryID)
	case p.DOI != "":
		return "doi:" + strings.ToLower(p.DOI)
	default:
		return "title:" + slugTitle(p.Title)
	}
}

// HasIdentifier reports whether at least one external identifier is set.
func (p Paper) HasIdentifier() bool {
	return p.ID != "" || p.SecondaryID != "" || p.DOI != ""
}

// HasSource reports whether name appears in the comma-separated Source list.
func (p Paper) HasSource(name string) bool {
	for _, s := range strings.Split(p.Source, ",") {
		if s == name {
			return true
		}
	}
	return false
}

func slugTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-':
			b.WriteByte('-')
		}
		if b.Len() >= 80 {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}

// DrugContext describes the drug under analysis.
type DrugContext struct {
	// Name is the generic drug name (e.g. "baricitinib").
	Name string `json:"name" yaml:"name" mapstructure:"name"`

	// Synonym is an optional alternate or brand name.
	Synonym string `json:"synonym,omitempty" yaml:"synonym,omitempty" mapstructure:"synonym"`

	// ApprovedIndications are excluded from opportunity discovery.
	ApprovedIndications []string `json:"approved_indications,omitempty" yaml:"approved_indications,omitempty" mapstructure:"approved_indications"`

	// Mechanism is an optional free-text mechanism of action passed to extraction.
	Mechanism string `json:"mechanism,omitempty" yaml:"mechanism,omitempty" mapstructure:"mechanism"`

	// ReviewSeeds are DOIs or PMIDs of known reviews mined for citations.
	ReviewSeeds []string `json:"review_seeds,omitempty" yaml:"review_seeds,omitempty" mapstructure:"review_seeds"`
}

// Terms returns the drug name and synonym, skipping empties.
func (d DrugContext) Terms() []string {
	terms := []string{d.Name}
	if d.Synonym != "" && !strings.EqualFold(d.Synonym, d.Name) {
		terms = append(terms, d.Synonym)
	}
	return terms
}
