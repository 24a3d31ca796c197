// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/pdiddy/repurpose-engine/internal/httputil"
	"github.com/pdiddy/repurpose-engine/pkg/types"
)

// openAlexSearchBase is the OpenAlex Works search endpoint. Declared as a
// var so tests can substitute an httptest server.
var openAlexSearchBase = "https://api.openalex.org/works"

// OpenAlexBackend queries the OpenAlex API.
type OpenAlexBackend struct {
	Client *http.Client
	// Email is sent as mailto parameter for polite pool access.
	Email string
}

// Name returns the backend identifier.
func (b *OpenAlexBackend) Name() string { return "openalex" }

// Search queries OpenAlex and returns papers in relevance order.
func (b *OpenAlexBackend) Search(ctx context.Context, query Query, cfg types.SearchConfig) ([]types.Paper, error) {
	searchText := query.PlainText()
	if searchText == "" {
		return nil, ErrEmptyQuery
	}

	maxResults := cfg.MaxResultsPerSource
	if maxResults <= 0 {
		maxResults = 100
	}
	if maxResults > 200 {
		maxResults = 200
	}

	params := url.Values{
		"search":   {searchText},
		"per_page": {strconv.Itoa(maxResults)},
		"page":     {"1"},
	}
	if query.YearFrom > 0 {
		params.Set("filter", fmt.Sprintf("from_publication_date:%d-01-01", query.YearFrom))
	}
	if b.Email != "" {
		params.Set("mailto", b.Email)
	}

	var oar openAlexResponse
	if err := httputil.GetJSON(ctx, b.Client, openAlexSearchBase+"?"+params.Encode(), userAgent(cfg), &oar); err != nil {
		return nil, fmt.Errorf("OpenAlex search: %w", err)
	}

	total := len(oar.Results)
	papers := make([]types.Paper, 0, total)
	for i, work := range oar.Results {
		p := types.Paper{
			ID:          lastPathSegment(work.IDs.PMID),
			SecondaryID: NormalizePMCID(lastPathSegment(work.IDs.PMCID)),
			DOI:         NormalizeDOI(work.DOI),
			Title:       strings.TrimSpace(work.Title),
			Abstract:    reconstructAbstract(work.AbstractInvertedIndex),
			Year:        work.PublicationYear,
			Venue:       work.PrimaryLocation.Source.DisplayName,
			Source:      "openalex",
			HasFullText: work.OpenAccess.IsOA,
			IsPreprint:  work.Type == "preprint",
		}
		// OpenAlex returns results sorted by relevance by default.
		p.RelevanceScore = positionScore(i, total)
		papers = append(papers, p)
	}
	return papers, nil
}

// lastPathSegment extracts the trailing identifier from an OpenAlex id URL
// (e.g. "https://pubmed.ncbi.nlm.nih.gov/12345" → "12345").
func lastPathSegment(u string) string {
	u = strings.TrimRight(strings.TrimSpace(u), "/")
	if u == "" {
		return ""
	}
	return path.Base(u)
}

// reconstructAbstract converts OpenAlex's abstract_inverted_index back to
// plain text. The inverted index maps each word to a list of positions
// where that word appears.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	var pairs []posWord
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].pos < pairs[j].pos
	})

	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.Join(words, " ")
}

// OpenAlex API JSON structures.
type openAlexResponse struct {
	Meta    openAlexMeta   `json:"meta"`
	Results []openAlexWork `json:"results"`
}

type openAlexMeta struct {
	Count   int `json:"count"`
	PerPage int `json:"per_page"`
	Page    int `json:"page"`
}

type openAlexWork struct {
	ID                    string             `json:"id"`
	Title                 string             `json:"title"`
	DOI                   string             `json:"doi"`
	Type                  string             `json:"type"`
	PublicationYear       int                `json:"publication_year"`
	IDs                   openAlexIDs        `json:"ids"`
	PrimaryLocation       openAlexLocation   `json:"primary_location"`
	AbstractInvertedIndex map[string][]int   `json:"abstract_inverted_index"`
	OpenAccess            openAlexOpenAccess `json:"open_access"`
}

type openAlexIDs struct {
	PMID  string `json:"pmid"`
	PMCID string `json:"pmcid"`
}

type openAlexLocation struct {
	Source struct {
		DisplayName string `json:"display_name"`
	} `json:"source"`
}

type openAlexOpenAccess struct {
	IsOA     bool   `json:"is_oa"`
	OAStatus string `json:"oa_status"`
	OAURL    string `json:"oa_url"`
}
