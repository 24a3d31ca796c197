// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pdiddy/repurpose-engine/internal/httputil"
	"github.com/pdiddy/repurpose-engine/pkg/types"
)

// CitationBackend mines the reference lists of known review articles
// through the Semantic Scholar Graph API. References that mention the
// drug are returned as high-trust papers: they bypass the keyword gate in
// the relevance filter.
type CitationBackend struct {
	Client *http.Client
	APIKey string
}

// Name returns the backend identifier.
func (b *CitationBackend) Name() string { return "citation_mining" }

// Search fetches the references of every review seed in the query. A
// query without seeds yields no papers. A seed that fails is skipped as
// long as at least one seed succeeds.
func (b *CitationBackend) Search(ctx context.Context, query Query, cfg types.SearchConfig) ([]types.Paper, error) {
	if len(query.ReviewSeeds) == 0 {
		return nil, nil
	}
	limit := cfg.MaxResultsPerSource
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	var papers []types.Paper
	var errs []error
	for _, seed := range query.ReviewSeeds {
		refs, err := b.references(ctx, seed, limit, cfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("seed %s: %w", seed, err))
			continue
		}
		for _, p := range refs {
			if mentionsAny(p, query.Terms()) {
				papers = append(papers, p)
			}
		}
	}
	if len(papers) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	total := len(papers)
	for i := range papers {
		papers[i].RelevanceScore = positionScore(i, total)
	}
	return papers, nil
}

func (b *CitationBackend) references(ctx context.Context, seed string, limit int, cfg types.SearchConfig) ([]types.Paper, error) {
	params := url.Values{
		"fields": {semanticFields},
		"limit":  {strconv.Itoa(limit)},
	}
	reqURL := semanticAPIBase + "/paper/" + url.PathEscape(seedID(seed)) + "/references?" + params.Encode()

	h := userAgent(cfg)
	if b.APIKey != "" {
		h.Set("x-api-key", b.APIKey)
	}
	var rr semanticReferences
	if err := httputil.GetJSON(ctx, b.Client, reqURL, h, &rr); err != nil {
		return nil, err
	}

	papers := make([]types.Paper, 0, len(rr.Data))
	for _, ref := range rr.Data {
		if ref.Cited.Title == "" {
			continue
		}
		p := ref.Cited.toPaper(b.Name())
		p.HighTrust = true
		papers = append(papers, p)
	}
	return papers, nil
}

// seedID converts a seed into a Semantic Scholar paper identifier:
// DOIs become "DOI:<doi>", bare numbers become "PMID:<n>".
func seedID(seed string) string {
	s := strings.TrimSpace(seed)
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "pmid:"):
		return "PMID:" + strings.TrimSpace(s[len("pmid:"):])
	case strings.Contains(s, "10."):
		return "DOI:" + NormalizeDOI(s)
	}
	if _, err := strconv.Atoi(s); err == nil {
		return "PMID:" + s
	}
	return s
}

func mentionsAny(p types.Paper, terms []string) bool {
	text := strings.ToLower(p.Title + " " + p.Abstract)
	for _, t := range terms {
		if t != "" && strings.Contains(text, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

type semanticReferences struct {
	Data []struct {
		Cited semanticPaper `json:"citedPaper"`
	} `json:"data"`
}
