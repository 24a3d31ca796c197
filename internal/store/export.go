// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/repurpose-engine/pkg/types"
)

// Report is the exported form of one run.
type Report struct {
	Run           types.Run           `json:"run" yaml:"run"`
	Opportunities []types.Opportunity `json:"opportunities" yaml:"opportunities"`
}

// Report loads the run and its opportunities.
func (s *Store) Report(ctx context.Context, runID string) (Report, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return Report{}, err
	}
	opps, err := s.Opportunities(ctx, runID)
	if err != nil {
		return Report{}, err
	}
	return Report{Run: run, Opportunities: opps}, nil
}

// ExportYAML writes the run report as YAML to w.
func (s *Store) ExportYAML(ctx context.Context, runID string, w io.Writer) error {
	r, err := s.Report(ctx, runID)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	return enc.Close()
}

// ExportJSON writes the run report as indented JSON to w.
func (s *Store) ExportJSON(ctx context.Context, runID string, w io.Writer) error {
	r, err := s.Report(ctx, runID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = w.Write(append(data, '\n'))
	return err
}
