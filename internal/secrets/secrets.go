// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys from a directory of plain-text files.
// Each file holds one secret: the filename is the key name and the trimmed
// contents are the value. Environment variables override files.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pdiddy/repurpose-engine/internal/observability"
	"github.com/pdiddy/repurpose-engine/pkg/types"
)

// Key file names.
const (
	AnthropicAPIKey       = "anthropic-api-key"
	OpenAIAPIKey          = "openai-api-key"
	NCBIAPIKey            = "ncbi-api-key"
	SemanticScholarAPIKey = "semantic-scholar-api-key"
	OpenAlexEmail         = "openalex-email"
)

// Secrets maps key names to values.
type Secrets map[string]string

// Load reads all files in dir. A missing directory or missing files are
// not errors. Unreadable files are logged and skipped.
func Load(dir string, logger *zerolog.Logger) (Secrets, error) {
	logger = observability.OrNop(logger)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Secrets{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(Secrets)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn().Err(err).Str("secret", name).Msg("could not read secret")
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// EnvName returns the environment variable consulted for key, e.g.
// ANTHROPIC_API_KEY for anthropic-api-key.
func EnvName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// Lookup returns the environment value for key when set, else the file
// value.
func (s Secrets) Lookup(key string) (string, bool) {
	if v := strings.TrimSpace(os.Getenv(EnvName(key))); v != "" {
		return v, true
	}
	v, ok := s[key]
	return v, ok
}

// Apply fills empty credential fields of cfg. Values already set by
// config or environment win.
func (s Secrets) Apply(cfg *types.PipelineConfig) {
	fill := func(dst *string, key string) {
		if *dst != "" {
			return
		}
		if v, ok := s.Lookup(key); ok {
			*dst = v
		}
	}

	switch cfg.AI.Provider {
	case "openai":
		fill(&cfg.AI.APIKey, OpenAIAPIKey)
	default:
		fill(&cfg.AI.APIKey, AnthropicAPIKey)
	}
	fill(&cfg.Search.NCBIAPIKey, NCBIAPIKey)
	fill(&cfg.Search.SemanticScholarAPIKey, SemanticScholarAPIKey)
	fill(&cfg.Search.OpenAlexEmail, OpenAlexEmail)
}
