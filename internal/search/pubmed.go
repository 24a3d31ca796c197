// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pdiddy/repurpose-engine/internal/httputil"
	"github.com/pdiddy/repurpose-engine/pkg/types"
)

// E-utilities endpoints. Declared as vars so tests can substitute an
// httptest server.
var (
	pubmedSearchBase = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/esearch.fcgi"
	pubmedFetchBase  = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/efetch.fcgi"
)

// PubMedBackend queries PubMed through NCBI E-utilities: esearch for the
// PMID list, then efetch for titles and abstracts.
type PubMedBackend struct {
	Client *http.Client
	APIKey string
}

// Name returns the backend identifier.
func (b *PubMedBackend) Name() string { return "pubmed" }

// Search queries PubMed and returns papers in relevance order.
func (b *PubMedBackend) Search(ctx context.Context, query Query, cfg types.SearchConfig) ([]types.Paper, error) {
	ids, err := b.searchIDs(ctx, query, cfg)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return b.fetch(ctx, ids, cfg)
}

func (b *PubMedBackend) searchIDs(ctx context.Context, query Query, cfg types.SearchConfig) ([]string, error) {
	maxResults := cfg.MaxResultsPerSource
	if maxResults <= 0 {
		maxResults = 100
	}

	term := query.BooleanText()
	if query.YearFrom > 0 {
		term += fmt.Sprintf(" AND %d:3000[dp]", query.YearFrom)
	}
	params := url.Values{
		"db":      {"pubmed"},
		"term":    {term},
		"retmax":  {strconv.Itoa(maxResults)},
		"retmode": {"json"},
		"sort":    {"relevance"},
	}
	if b.APIKey != "" {
		params.Set("api_key", b.APIKey)
	}

	var sr pubmedSearchResponse
	if err := httputil.GetJSON(ctx, b.Client, pubmedSearchBase+"?"+params.Encode(), userAgent(cfg), &sr); err != nil {
		return nil, fmt.Errorf("PubMed esearch: %w", err)
	}
	return sr.Result.IDList, nil
}

func (b *PubMedBackend) fetch(ctx context.Context, ids []string, cfg types.SearchConfig) ([]types.Paper, error) {
	params := url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(ids, ",")},
		"retmode": {"xml"},
	}
	if b.APIKey != "" {
		params.Set("api_key", b.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pubmedFetchBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", cfg.UserAgent)

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, 0)
	if err != nil {
		return nil, fmt.Errorf("PubMed efetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("PubMed efetch returned HTTP %d", resp.StatusCode)
	}

	var set pubmedArticleSet
	if err := xml.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("parsing PubMed response: %w", err)
	}

	// efetch does not preserve esearch relevance order.
	rank := make(map[string]int, len(ids))
	for i, id := range ids {
		rank[id] = i
	}

	papers := make([]types.Paper, 0, len(set.Articles))
	for _, a := range set.Articles {
		cit := a.Citation
		p := types.Paper{
			ID:       strings.TrimSpace(cit.PMID),
			Title:    strings.TrimSpace(cit.Article.Title),
			Abstract: joinAbstract(cit.Article.Abstract),
			Venue:    strings.TrimSpace(cit.Article.Journal.Title),
			Source:   "pubmed",
		}
		if y, err := strconv.Atoi(strings.TrimSpace(cit.Article.Journal.Issue.PubDate.Year)); err == nil {
			p.Year = y
		}
		for _, aid := range a.Data.ArticleIDs {
			switch aid.IDType {
			case "pmc":
				p.SecondaryID = NormalizePMCID(aid.Value)
				p.HasFullText = true
			case "doi":
				p.DOI = NormalizeDOI(aid.Value)
			}
		}
		i, ok := rank[p.ID]
		if !ok {
			i = len(ids) - 1
		}
		p.RelevanceScore = positionScore(i, len(ids))
		papers = append(papers, p)
	}
	return papers, nil
}

// joinAbstract concatenates structured abstract sections, prefixing each
// with its label when present.
func joinAbstract(abs pubmedAbstract) string {
	var parts []string
	for _, t := range abs.Texts {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		if t.Label != "" {
			text = t.Label + ": " + text
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}

func userAgent(cfg types.SearchConfig) http.Header {
	h := http.Header{}
	if cfg.UserAgent != "" {
		h.Set("User-Agent", cfg.UserAgent)
	}
	return h
}

// E-utilities JSON and XML structures.
type pubmedSearchResponse struct {
	Result struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type pubmedArticleSet struct {
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type pubmedArticle struct {
	Citation pubmedCitation `xml:"MedlineCitation"`
	Data     pubmedData     `xml:"PubmedData"`
}

type pubmedCitation struct {
	PMID    string `xml:"PMID"`
	Article struct {
		Title    string         `xml:"ArticleTitle"`
		Abstract pubmedAbstract `xml:"Abstract"`
		Journal  struct {
			Title string `xml:"Title"`
			Issue struct {
				PubDate struct {
					Year string `xml:"Year"`
				} `xml:"PubDate"`
			} `xml:"JournalIssue"`
		} `xml:"Journal"`
	} `xml:"Article"`
}

type pubmedAbstract struct {
	Texts []pubmedAbstractText `xml:"AbstractText"`
}

type pubmedAbstractText struct {
	Label string `xml:"Label,attr"`
	Text  string `xml:",chardata"`
}

type pubmedData struct {
	ArticleIDs []pubmedArticleID `xml:"ArticleIdList>ArticleId"`
}

type pubmedArticleID struct {
	IDType string `xml:"IdType,attr"`
	Value  string `xml:",chardata"`
}
