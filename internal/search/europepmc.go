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

// europePMCSearchBase is the Europe PMC REST search endpoint. Declared as
// a var so tests can substitute an httptest server.
var europePMCSearchBase = "https://www.ebi.ac.uk/europepmc/webservices/rest/search"

// EuropePMCBackend queries Europe PMC, which indexes PubMed together with
// preprint servers. Records with source "PPR" are marked as preprints.
type EuropePMCBackend struct {
	Client *http.Client
}

// Name returns the backend identifier.
func (b *EuropePMCBackend) Name() string { return "europepmc" }

// Search queries Europe PMC and returns papers in relevance order.
func (b *EuropePMCBackend) Search(ctx context.Context, query Query, cfg types.SearchConfig) ([]types.Paper, error) {
	maxResults := cfg.MaxResultsPerSource
	if maxResults <= 0 {
		maxResults = 100
	}
	if maxResults > 1000 {
		maxResults = 1000
	}

	term := query.BooleanText()
	if query.YearFrom > 0 {
		term += fmt.Sprintf(" AND PUB_YEAR:[%d TO 3000]", query.YearFrom)
	}
	params := url.Values{
		"query":      {term},
		"format":     {"json"},
		"resultType": {"core"},
		"pageSize":   {strconv.Itoa(maxResults)},
	}

	var er europePMCResponse
	if err := httputil.GetJSON(ctx, b.Client, europePMCSearchBase+"?"+params.Encode(), userAgent(cfg), &er); err != nil {
		return nil, fmt.Errorf("Europe PMC search: %w", err)
	}

	total := len(er.ResultList.Result)
	papers := make([]types.Paper, 0, total)
	for i, r := range er.ResultList.Result {
		p := types.Paper{
			ID:          strings.TrimSpace(r.PMID),
			SecondaryID: NormalizePMCID(r.PMCID),
			DOI:         NormalizeDOI(r.DOI),
			Title:       strings.TrimSpace(r.Title),
			Abstract:    stripTags(r.AbstractText),
			Venue:       strings.TrimSpace(r.JournalInfo.Journal.Title),
			Source:      "europepmc",
			IsPreprint:  r.Source == "PPR",
			HasFullText: r.IsOpenAccess == "Y" || r.InEPMC == "Y",
		}
		if y, err := strconv.Atoi(r.PubYear); err == nil {
			p.Year = y
		}
		p.RelevanceScore = positionScore(i, total)
		papers = append(papers, p)
	}
	return papers, nil
}

// stripTags removes inline markup (e.g. <i>, <sup>) from abstract text.
func stripTags(s string) string {
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '<':
			depth++
		case r == '>' && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Europe PMC JSON structures.
type europePMCResponse struct {
	HitCount   int `json:"hitCount"`
	ResultList struct {
		Result []europePMCResult `json:"result"`
	} `json:"resultList"`
}

type europePMCResult struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	PMID         string `json:"pmid"`
	PMCID        string `json:"pmcid"`
	DOI          string `json:"doi"`
	Title        string `json:"title"`
	AbstractText string `json:"abstractText"`
	PubYear      string `json:"pubYear"`
	IsOpenAccess string `json:"isOpenAccess"`
	InEPMC       string `json:"inEPMC"`
	JournalInfo  struct {
		Journal struct {
			Title string `json:"title"`
		} `json:"journal"`
	} `json:"journalInfo"`
}
