// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// DiseaseTaxonomyEntry is one canonical disease in the static taxonomy.
type DiseaseTaxonomyEntry struct {
	Name      string   `json:"name" yaml:"name"`
	Category  string   `json:"category" yaml:"category"`
	Parent    string   `json:"parent,omitempty" yaml:"parent,omitempty"`
	Variants  []string `json:"variants,omitempty" yaml:"variants,omitempty"`
	Endpoints []string `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
}

// DiseaseMapping is a learned variant-to-canonical mapping persisted
// between runs.
type DiseaseMapping struct {
	VariantKey string    `json:"variant_key" yaml:"variant_key"`
	Canonical  string    `json:"canonical" yaml:"canonical"`
	Parent     string    `json:"parent,omitempty" yaml:"parent,omitempty"`
	Category   string    `json:"category,omitempty" yaml:"category,omitempty"`
	Source     string    `json:"source" yaml:"source"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// RunStatus tracks a pipeline run lifecycle.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is the persisted lifecycle record of one drug pipeline run.
type Run struct {
	ID              string    `json:"id" yaml:"id"`
	Drug            string    `json:"drug" yaml:"drug"`
	Status          RunStatus `json:"status" yaml:"status"`
	StartedAt       time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt      time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	PapersFound     int       `json:"papers_found" yaml:"papers_found"`
	PapersFiltered  int       `json:"papers_filtered" yaml:"papers_filtered"`
	PapersExtracted int       `json:"papers_extracted" yaml:"papers_extracted"`
	PapersSkipped   int       `json:"papers_skipped" yaml:"papers_skipped"`
	Opportunities   int       `json:"opportunities" yaml:"opportunities"`
	Error           string    `json:"error,omitempty" yaml:"error,omitempty"`
}
