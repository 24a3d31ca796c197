// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pdiddy/repurpose-engine/internal/llm"
	"github.com/pdiddy/repurpose-engine/pkg/types"
)

// dataSectionTerms pick full-text sections likely to carry outcomes when
// the sections stage fails.
var dataSectionTerms = []string{
	"result", "case", "outcome", "efficacy", "response", "patient",
	"safety", "adverse", "finding", "table",
}

// singlePass extracts the whole record from the abstract in one call.
func (o *Orchestrator) singlePass(ctx context.Context, p types.Paper, drug types.DrugContext) (*types.Extraction, error) {
	var e types.Extraction
	err := o.call(ctx, llm.ExtractRequest{
		Schema:   llm.SchemaSinglePass,
		Drug:     drug,
		Title:    p.Title,
		Document: p.Abstract,
	}, &e)
	if err != nil {
		return nil, err
	}
	e.Method = types.MethodSinglePass
	e.HasFullText = false
	return &e, nil
}

// multiStage runs the sections, efficacy and safety stages over full
// text. A failed stage leaves its part of the record empty; the paper
// fails only when every stage fails.
func (o *Orchestrator) multiStage(ctx context.Context, p types.Paper, drug types.DrugContext) (*types.Extraction, error) {
	var (
		e    types.Extraction
		errs []error
	)

	var sections struct {
		DataSections []string `json:"data_sections"`
		types.Extraction
	}
	err := o.call(ctx, llm.ExtractRequest{
		Schema:   llm.SchemaSections,
		Drug:     drug,
		Title:    p.Title,
		Document: p.FullText,
	}, &sections)
	if err != nil {
		errs = append(errs, err)
		o.logger.Warn().Err(err).Str("paper", p.Key()).Msg("sections stage failed")
		e.Annotate("sections stage failed")
	} else {
		e = sections.Extraction
		e.Efficacy = types.Efficacy{}
		e.Safety = types.Safety{}
	}

	doc := strings.Join(sections.DataSections, "\n\n")
	if strings.TrimSpace(doc) == "" {
		doc = selectDataSections(p.FullText)
	}

	var efficacy struct {
		Efficacy types.Efficacy `json:"efficacy"`
	}
	if err := o.call(ctx, llm.ExtractRequest{Schema: llm.SchemaEfficacy, Drug: drug, Title: p.Title, Document: doc}, &efficacy); err != nil {
		errs = append(errs, err)
		o.logger.Warn().Err(err).Str("paper", p.Key()).Msg("efficacy stage failed")
		e.Annotate("efficacy stage failed")
	} else {
		e.Efficacy = efficacy.Efficacy
	}

	var safety struct {
		Safety types.Safety `json:"safety"`
	}
	if err := o.call(ctx, llm.ExtractRequest{Schema: llm.SchemaSafety, Drug: drug, Title: p.Title, Document: doc}, &safety); err != nil {
		errs = append(errs, err)
		o.logger.Warn().Err(err).Str("paper", p.Key()).Msg("safety stage failed")
		e.Annotate("safety stage failed")
	} else {
		e.Safety = safety.Safety
	}

	if len(errs) == 3 {
		return nil, fmt.Errorf("%w: %w", errAllStagesFailed, errors.Join(errs...))
	}
	e.Method = types.MethodMultiStage
	e.HasFullText = true
	return &e, nil
}

// decode unmarshals a capability reply into out.
func decode(raw json.RawMessage, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", llm.ErrMalformedResponse, err)
	}
	return nil
}

// normalizeLevel maps free-form labels such as "Case Series" onto the
// EvidenceLevel vocabulary. Unrecognized labels become unknown.
func normalizeLevel(l types.EvidenceLevel) types.EvidenceLevel {
	s := strings.ToLower(strings.TrimSpace(string(l)))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	switch s {
	case "randomized_controlled_trial", "randomised_controlled_trial":
		s = string(types.EvidenceRCT)
	case "metaanalysis", "systematic_review":
		s = string(types.EvidenceMetaAnalysis)
	}
	if lvl := types.EvidenceLevel(s); lvl.Valid() {
		return lvl
	}
	return types.EvidenceUnknown
}

// section is a chunk of full text under one heading.
type section struct {
	heading string
	body    string
}

// chunkByHeadings splits text on "## " heading lines. Text before the
// first heading forms a section with an empty heading.
func chunkByHeadings(content string) []section {
	var (
		sections  []section
		heading   string
		bodyLines []string
	)
	flush := func() {
		body := strings.Join(bodyLines, "\n")
		if heading != "" || strings.TrimSpace(body) != "" {
			sections = append(sections, section{heading: heading, body: body})
		}
		bodyLines = nil
	}
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "## ") {
			flush()
			heading = strings.TrimSpace(strings.TrimPrefix(trimmed, "## "))
			continue
		}
		bodyLines = append(bodyLines, line)
	}
	flush()
	return sections
}

// selectDataSections keeps the sections whose heading names outcome data.
// When no heading matches, the whole text is returned.
func selectDataSections(fullText string) string {
	var parts []string
	for _, sec := range chunkByHeadings(fullText) {
		h := strings.ToLower(sec.heading)
		for _, t := range dataSectionTerms {
			if strings.Contains(h, t) {
				parts = append(parts, "## "+sec.heading+"\n"+sec.body)
				break
			}
		}
	}
	if len(parts) == 0 {
		return fullText
	}
	return strings.Join(parts, "\n\n")
}
