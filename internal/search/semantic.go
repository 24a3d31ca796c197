// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pdiddy/repurpose-engine/internal/httputil"
	"github.com/pdiddy/repurpose-engine/pkg/types"
)

// semanticAPIBase is the Semantic Scholar Graph API root. Declared as a
// var so tests can substitute an httptest server.
var semanticAPIBase = "https://api.semanticscholar.org/graph/v1"

const semanticFields = "title,abstract,externalIds,year,venue,isOpenAccess,publicationTypes"

// SemanticScholarBackend queries the Semantic Scholar paper search API.
type SemanticScholarBackend struct {
	Client *http.Client
	APIKey string
}

// Name returns the backend identifier.
func (b *SemanticScholarBackend) Name() string { return "semantic_scholar" }

// Search queries Semantic Scholar and returns papers in relevance order.
func (b *SemanticScholarBackend) Search(ctx context.Context, query Query, cfg types.SearchConfig) ([]types.Paper, error) {
	q := query.PlainText()
	if q == "" {
		return nil, ErrEmptyQuery
	}

	maxResults := cfg.MaxResultsPerSource
	if maxResults <= 0 {
		maxResults = 100
	}
	if maxResults > 100 {
		maxResults = 100
	}

	params := url.Values{
		"query":  {q},
		"limit":  {strconv.Itoa(maxResults)},
		"fields": {semanticFields},
	}
	if query.YearFrom > 0 {
		params.Set("year", fmt.Sprintf("%d-", query.YearFrom))
	}

	var sr semanticResponse
	if err := httputil.GetJSON(ctx, b.Client, semanticAPIBase+"/paper/search?"+params.Encode(), b.header(cfg), &sr); err != nil {
		return nil, fmt.Errorf("Semantic Scholar search: %w", err)
	}

	total := len(sr.Data)
	papers := make([]types.Paper, 0, total)
	for i, sp := range sr.Data {
		p := sp.toPaper(b.Name())
		p.RelevanceScore = positionScore(i, total)
		papers = append(papers, p)
	}
	return papers, nil
}

func (b *SemanticScholarBackend) header(cfg types.SearchConfig) http.Header {
	h := userAgent(cfg)
	if b.APIKey != "" {
		h.Set("x-api-key", b.APIKey)
	}
	return h
}

func (sp semanticPaper) toPaper(source string) types.Paper {
	p := types.Paper{
		ID:          strings.TrimSpace(sp.ExternalIDs.PubMed),
		SecondaryID: NormalizePMCID(sp.ExternalIDs.PubMedCentral),
		DOI:         NormalizeDOI(sp.ExternalIDs.DOI),
		Title:       strings.TrimSpace(sp.Title),
		Abstract:    strings.TrimSpace(sp.Abstract),
		Year:        sp.Year,
		Venue:       sp.Venue,
		Source:      source,
		HasFullText: sp.IsOpenAccess,
	}
	for _, t := range sp.PublicationTypes {
		if strings.EqualFold(t, "Preprint") {
			p.IsPreprint = true
		}
	}
	if sp.ExternalIDs.ArXiv != "" && p.ID == "" {
		p.IsPreprint = true
	}
	return p
}

// Semantic Scholar API JSON structures.
type semanticResponse struct {
	Total  int             `json:"total"`
	Offset int             `json:"offset"`
	Data   []semanticPaper `json:"data"`
}

type semanticPaper struct {
	PaperID          string              `json:"paperId"`
	Title            string              `json:"title"`
	Abstract         string              `json:"abstract"`
	Year             int                 `json:"year"`
	Venue            string              `json:"venue"`
	IsOpenAccess     bool                `json:"isOpenAccess"`
	PublicationTypes []string            `json:"publicationTypes"`
	ExternalIDs      semanticExternalIDs `json:"externalIds"`
}

type semanticExternalIDs struct {
	DOI           string `json:"DOI"`
	ArXiv         string `json:"ArXiv"`
	PubMed        string `json:"PubMed"`
	PubMedCentral string `json:"PubMedCentral"`
}
