// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/repurpose-engine/pkg/types"
)

// Snapshot is the on-disk representation of a discovery result. A saved
// snapshot lets the pipeline rerun filtering and extraction without
// re-querying the literature APIs.
type Snapshot struct {
	Query   SnapshotQuery   `yaml:"query"`
	Papers  []types.Paper   `yaml:"papers"`
	Summary SnapshotSummary `yaml:"summary"`
}

// SnapshotQuery stores the query parameters in a serializable form.
type SnapshotQuery struct {
	Drug        string   `yaml:"drug"`
	Synonym     string   `yaml:"synonym,omitempty"`
	Modifiers   []string `yaml:"modifiers,omitempty"`
	ReviewSeeds []string `yaml:"review_seeds,omitempty"`
	YearFrom    int      `yaml:"year_from,omitempty"`
}

// SnapshotSummary stores result statistics and a timestamp.
type SnapshotSummary struct {
	Total             int       `yaml:"total"`
	DuplicatesRemoved int       `yaml:"duplicates_removed"`
	Sources           []string  `yaml:"sources,omitempty"`
	BackendErrors     []string  `yaml:"backend_errors,omitempty"`
	Timestamp         time.Time `yaml:"timestamp"`
}

// WriteSnapshot saves the query and its deduplicated output to a YAML file.
func WriteSnapshot(path string, query Query, out Output) error {
	snap := Snapshot{
		Query: SnapshotQuery{
			Drug:        query.Drug,
			Synonym:     query.Synonym,
			Modifiers:   query.Modifiers,
			ReviewSeeds: query.ReviewSeeds,
			YearFrom:    query.YearFrom,
		},
		Papers: out.Papers,
		Summary: SnapshotSummary{
			Total:             len(out.Papers),
			DuplicatesRemoved: out.DupsRemoved,
			Sources:           out.Sources,
			BackendErrors:     out.BackendErrors,
			Timestamp:         time.Now().UTC(),
		},
	}

	data, err := yaml.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a previously saved snapshot from disk.
func ReadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	return &snap, nil
}

// Output rebuilds the search Output stored in the snapshot.
func (s *Snapshot) Output() Output {
	return Output{
		Papers:        s.Papers,
		DupsRemoved:   s.Summary.DuplicatesRemoved,
		Sources:       s.Summary.Sources,
		BackendErrors: s.Summary.BackendErrors,
	}
}

// ToQuery converts the stored parameters back into a Query.
func (q SnapshotQuery) ToQuery() Query {
	return Query{
		Drug:        q.Drug,
		Synonym:     q.Synonym,
		Modifiers:   q.Modifiers,
		ReviewSeeds: q.ReviewSeeds,
		YearFrom:    q.YearFrom,
	}
}
