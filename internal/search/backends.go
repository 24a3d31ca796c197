// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"net/http"

	"github.com/pdiddy/repurpose-engine/pkg/types"
)

// Backends returns the enabled backends in their fixed merge order:
// PubMed, Europe PMC, Semantic Scholar, OpenAlex, citation mining. The
// order decides which duplicate survives dedup.
func Backends(cfg types.SearchConfig, client *http.Client) []Backend {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	var backends []Backend
	if cfg.EnablePubMed {
		backends = append(backends, &PubMedBackend{Client: client, APIKey: cfg.NCBIAPIKey})
	}
	if cfg.EnableEuropePMC {
		backends = append(backends, &EuropePMCBackend{Client: client})
	}
	if cfg.EnableSemanticScholar {
		backends = append(backends, &SemanticScholarBackend{Client: client, APIKey: cfg.SemanticScholarAPIKey})
	}
	if cfg.EnableOpenAlex {
		backends = append(backends, &OpenAlexBackend{Client: client, Email: cfg.OpenAlexEmail})
	}
	if cfg.EnableCitationMining {
		backends = append(backends, &CitationBackend{Client: client, APIKey: cfg.SemanticScholarAPIKey})
	}
	return backends
}
