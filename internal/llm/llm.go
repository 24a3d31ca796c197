// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llm defines the classification and structured-extraction
// capability consumed by the pipeline, and its provider implementations.
// The pipeline only sees the Capability interface; providers are
// swappable through configuration.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pdiddy/repurpose-engine/pkg/types"
)

var (
	// ErrNoCapability is returned when no provider is configured.
	ErrNoCapability = errors.New("no extraction capability configured")

	// ErrMalformedResponse is returned when a provider answers with
	// something that is not the requested JSON shape.
	ErrMalformedResponse = errors.New("malformed capability response")
)

// Schema names the structured shape requested from Extract.
type Schema string

const (
	// SchemaSinglePass extracts a complete record from an abstract.
	SchemaSinglePass Schema = "single_pass"
	// SchemaSections identifies data-bearing sections and study facts in
	// full text.
	SchemaSections Schema = "sections"
	// SchemaEfficacy extracts efficacy endpoints from selected sections.
	SchemaEfficacy Schema = "efficacy"
	// SchemaSafety extracts the safety profile from selected sections.
	SchemaSafety Schema = "safety"
	// SchemaDisease maps a raw disease string to a canonical name and parent.
	SchemaDisease Schema = "disease"
)

// ClassifyItem is one paper submitted for relevance classification.
type ClassifyItem struct {
	Key      string
	Title    string
	Abstract string
}

// ClassifyRequest asks whether each item reports clinical use of the drug
// outside the excluded indications.
type ClassifyRequest struct {
	Drug       types.DrugContext
	Items      []ClassifyItem
	Exclusions []string
}

// Decision is the classifier verdict for one item.
type Decision struct {
	Key              string
	Include          bool
	Reason           string
	DiseaseHint      string
	PatientCountHint *int
	Score            float64
}

// ExtractRequest asks for a structured document in the given schema.
type ExtractRequest struct {
	Schema   Schema
	Drug     types.DrugContext
	Title    string
	Document string
}

// Classifier decides relevance for a batch of papers.
type Classifier interface {
	ClassifyBatch(ctx context.Context, req ClassifyRequest) ([]Decision, error)
}

// Extractor returns one JSON object in the requested schema.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (json.RawMessage, error)
}

// Capability is the full external service the pipeline depends on.
type Capability interface {
	Classifier
	Extractor
	Name() string
}

// Completer sends one system+user prompt pair to a model and returns the
// text of its reply.
type Completer interface {
	Provider() string
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// New builds the capability selected by cfg.Provider. A missing key or an
// unknown provider is a configuration error wrapping ErrNoCapability.
func New(cfg types.AIConfig, maxRetries int) (Capability, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: no API key for provider %q", ErrNoCapability, cfg.Provider)
	}
	var c Completer
	switch strings.ToLower(cfg.Provider) {
	case "", "anthropic":
		c = NewAnthropicCompleter(cfg)
	case "openai":
		c = NewOpenAICompleter(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrNoCapability, cfg.Provider)
	}
	return NewJSONCapability(c, maxRetries), nil
}

// ParseObject strips Markdown code fences and surrounding prose from raw
// and returns the outermost JSON object.
func ParseObject(raw string) (json.RawMessage, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrMalformedResponse)
	}
	obj := json.RawMessage(s[start : end+1])
	if !json.Valid(obj) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedResponse)
	}
	return obj, nil
}
