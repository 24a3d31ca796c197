// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pdiddy/repurpose-engine/internal/httputil"
)

func init() {
	httputil.RetryBaseDelay = time.Millisecond
}

// withServer points *base at an httptest server for the test's duration.
func withServer(t *testing.T, base *string, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(h)
	old := *base
	*base = ts.URL
	t.Cleanup(func() {
		*base = old
		ts.Close()
	})
	return ts
}

// --- PubMed ---

const pubmedFetchXML = `<?xml version="1.0"?>
<PubmedArticleSet>
  <PubmedArticle>
    <MedlineCitation>
      <PMID>222</PMID>
      <Article>
        <Journal><Title>JAAD Case Reports</Title><JournalIssue><PubDate><Year>2021</Year></PubDate></JournalIssue></Journal>
        <ArticleTitle>Baricitinib for refractory alopecia areata</ArticleTitle>
        <Abstract>
          <AbstractText Label="BACKGROUND">Alopecia areata is common.</AbstractText>
          <AbstractText Label="RESULTS">Three of four patients regrew hair.</AbstractText>
        </Abstract>
      </Article>
    </MedlineCitation>
    <PubmedData>
      <ArticleIdList>
        <ArticleId IdType="pubmed">222</ArticleId>
        <ArticleId IdType="doi">10.1016/J.JDCR.2021.1</ArticleId>
        <ArticleId IdType="pmc">PMC800</ArticleId>
      </ArticleIdList>
    </PubmedData>
  </PubmedArticle>
  <PubmedArticle>
    <MedlineCitation>
      <PMID>111</PMID>
      <Article>
        <Journal><Title>Rheumatology</Title><JournalIssue><PubDate><Year>2020</Year></PubDate></JournalIssue></Journal>
        <ArticleTitle>Baricitinib in dermatomyositis</ArticleTitle>
        <Abstract><AbstractText>A case report.</AbstractText></Abstract>
      </Article>
    </MedlineCitation>
  </PubmedArticle>
</PubmedArticleSet>`

func TestPubMedSearch(t *testing.T) {
	var term, apiKey string
	withServer(t, &pubmedSearchBase, func(w http.ResponseWriter, r *http.Request) {
		term = r.URL.Query().Get("term")
		apiKey = r.URL.Query().Get("api_key")
		fmt.Fprint(w, `{"esearchresult":{"count":"2","idlist":["111","222"]}}`)
	})
	withServer(t, &pubmedFetchBase, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("id"); got != "111,222" {
			t.Errorf("efetch id = %q", got)
		}
		fmt.Fprint(w, pubmedFetchXML)
	})

	b := &PubMedBackend{Client: http.DefaultClient, APIKey: "k"}
	q := testQuery()
	q.YearFrom = 2015
	papers, err := b.Search(context.Background(), q, testCfg())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !strings.Contains(term, "baricitinib") || !strings.Contains(term, "2015:3000[dp]") {
		t.Errorf("term = %q", term)
	}
	if apiKey != "k" {
		t.Errorf("api_key = %q", apiKey)
	}
	if len(papers) != 2 {
		t.Fatalf("len = %d, want 2", len(papers))
	}

	p := papers[0]
	if p.ID != "222" || p.DOI != "10.1016/j.jdcr.2021.1" || p.SecondaryID != "PMC800" {
		t.Errorf("ids = %q %q %q", p.ID, p.DOI, p.SecondaryID)
	}
	if !p.HasFullText {
		t.Error("PMC record should be full text")
	}
	if p.Year != 2021 || p.Venue != "JAAD Case Reports" {
		t.Errorf("year/venue = %d %q", p.Year, p.Venue)
	}
	if p.Abstract != "BACKGROUND: Alopecia areata is common. RESULTS: Three of four patients regrew hair." {
		t.Errorf("abstract = %q", p.Abstract)
	}
	// 222 was second in esearch order.
	if p.RelevanceScore >= papers[1].RelevanceScore {
		t.Errorf("relevance should follow esearch order: %f vs %f", p.RelevanceScore, papers[1].RelevanceScore)
	}
}

func TestPubMedSearchNoHits(t *testing.T) {
	withServer(t, &pubmedSearchBase, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"esearchresult":{"count":"0","idlist":[]}}`)
	})
	papers, err := (&PubMedBackend{Client: http.DefaultClient}).Search(context.Background(), testQuery(), testCfg())
	if err != nil || len(papers) != 0 {
		t.Errorf("papers=%v err=%v", papers, err)
	}
}

func TestPubMedSearchHTTPError(t *testing.T) {
	withServer(t, &pubmedSearchBase, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := (&PubMedBackend{Client: http.DefaultClient}).Search(context.Background(), testQuery(), testCfg())
	if err == nil || !strings.Contains(err.Error(), "HTTP 500") {
		t.Errorf("err = %v", err)
	}
}

// --- Europe PMC ---

func TestEuropePMCSearch(t *testing.T) {
	withServer(t, &europePMCSearchBase, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "json" {
			t.Errorf("format = %q", r.URL.Query().Get("format"))
		}
		fmt.Fprint(w, `{"hitCount":2,"resultList":{"result":[
			{"id":"333","source":"MED","pmid":"333","pmcid":"PMC9","doi":"10.1/ABC","title":"Tofacitinib in sarcoidosis","abstractText":"Ten <i>patients</i> improved.","pubYear":"2019","isOpenAccess":"Y","journalInfo":{"journal":{"title":"NEJM"}}},
			{"id":"PPR1","source":"PPR","doi":"10.1101/2023.01.01","title":"A preprint","abstractText":"x","pubYear":"2023","isOpenAccess":"N"}
		]}}`)
	})

	papers, err := (&EuropePMCBackend{Client: http.DefaultClient}).Search(context.Background(), testQuery(), testCfg())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(papers) != 2 {
		t.Fatalf("len = %d", len(papers))
	}
	if papers[0].Abstract != "Ten patients improved." {
		t.Errorf("abstract = %q", papers[0].Abstract)
	}
	if !papers[0].HasFullText || papers[0].IsPreprint || papers[0].DOI != "10.1/abc" || papers[0].Venue != "NEJM" {
		t.Errorf("paper 0 = %+v", papers[0])
	}
	if !papers[1].IsPreprint || papers[1].ID != "" {
		t.Errorf("paper 1 = %+v", papers[1])
	}
}

// --- Semantic Scholar ---

func TestSemanticScholarSearch(t *testing.T) {
	var capturedReq *http.Request
	withServer(t, &semanticAPIBase, func(w http.ResponseWriter, r *http.Request) {
		capturedReq = r
		fmt.Fprint(w, `{"total":1,"data":[{"paperId":"abc","title":"Ruxolitinib in HLH","abstract":"Six patients.","year":2022,"venue":"Blood","isOpenAccess":true,"publicationTypes":["JournalArticle"],"externalIds":{"PubMed":"444","DOI":"10.1182/X","PubMedCentral":"555"}}]}`)
	})

	cfg := testCfg()
	cfg.MaxResultsPerSource = 500
	b := &SemanticScholarBackend{Client: http.DefaultClient, APIKey: "secret"}
	papers, err := b.Search(context.Background(), testQuery(), cfg)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !strings.HasSuffix(capturedReq.URL.Path, "/paper/search") {
		t.Errorf("path = %q", capturedReq.URL.Path)
	}
	if got := capturedReq.URL.Query().Get("limit"); got != "100" {
		t.Errorf("limit = %q, want capped 100", got)
	}
	if got := capturedReq.Header.Get("x-api-key"); got != "secret" {
		t.Errorf("x-api-key = %q", got)
	}
	p := papers[0]
	if p.ID != "444" || p.SecondaryID != "PMC555" || p.DOI != "10.1182/x" || !p.HasFullText || p.Source != "semantic_scholar" {
		t.Errorf("paper = %+v", p)
	}
}

func TestSemanticScholarPreprint(t *testing.T) {
	withServer(t, &semanticAPIBase, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data":[{"title":"T","externalIds":{"ArXiv":"2301.1"}}]}`)
	})
	papers, err := (&SemanticScholarBackend{Client: http.DefaultClient}).Search(context.Background(), testQuery(), testCfg())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !papers[0].IsPreprint {
		t.Error("arXiv-only record should be a preprint")
	}
}

func TestSemanticScholarEmptyQuery(t *testing.T) {
	_, err := (&SemanticScholarBackend{Client: http.DefaultClient}).Search(context.Background(), Query{}, testCfg())
	if !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("err = %v", err)
	}
}

// --- OpenAlex ---

func TestOpenAlexSearch(t *testing.T) {
	var params map[string][]string
	withServer(t, &openAlexSearchBase, func(w http.ResponseWriter, r *http.Request) {
		params = r.URL.Query()
		fmt.Fprint(w, `{"meta":{"count":1},"results":[{
			"id":"https://openalex.org/W1","title":"Apremilast in lichen planus","doi":"https://doi.org/10.1/LP",
			"type":"article","publication_year":2018,
			"ids":{"pmid":"https://pubmed.ncbi.nlm.nih.gov/666","pmcid":"https://www.ncbi.nlm.nih.gov/pmc/articles/777"},
			"primary_location":{"source":{"display_name":"JAAD"}},
			"abstract_inverted_index":{"Five":[0],"patients":[1],"responded":[2]},
			"open_access":{"is_oa":true}}]}`)
	})

	q := testQuery()
	q.YearFrom = 2010
	b := &OpenAlexBackend{Client: http.DefaultClient, Email: "me@example.org"}
	papers, err := b.Search(context.Background(), q, testCfg())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if params["mailto"][0] != "me@example.org" {
		t.Errorf("mailto = %v", params["mailto"])
	}
	if params["filter"][0] != "from_publication_date:2010-01-01" {
		t.Errorf("filter = %v", params["filter"])
	}
	p := papers[0]
	if p.ID != "666" || p.SecondaryID != "PMC777" || p.DOI != "10.1/lp" {
		t.Errorf("ids = %q %q %q", p.ID, p.SecondaryID, p.DOI)
	}
	if p.Abstract != "Five patients responded" || p.Venue != "JAAD" || !p.HasFullText || p.IsPreprint {
		t.Errorf("paper = %+v", p)
	}
}

func TestReconstructAbstract(t *testing.T) {
	idx := map[string][]int{"the": {0, 3}, "cat": {1}, "saw": {2}, "dog": {4}}
	if got := reconstructAbstract(idx); got != "the cat saw the dog" {
		t.Errorf("got %q", got)
	}
	if got := reconstructAbstract(nil); got != "" {
		t.Errorf("nil index = %q", got)
	}
}

// --- Citation mining ---

func TestCitationBackend(t *testing.T) {
	var paths []string
	withServer(t, &semanticAPIBase, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.EscapedPath())
		if strings.Contains(r.URL.Path, "PMID:1") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"data":[
			{"citedPaper":{"title":"Baricitinib in CANDLE syndrome","abstract":"","externalIds":{"PubMed":"10"}}},
			{"citedPaper":{"title":"Unrelated methotrexate trial","abstract":"","externalIds":{"PubMed":"11"}}},
			{"citedPaper":{"title":""}}
		]}`)
	})

	q := testQuery()
	q.ReviewSeeds = []string{"10.1016/j.review.1", "1"}
	papers, err := (&CitationBackend{Client: http.DefaultClient}).Search(context.Background(), q, testCfg())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(paths) != 2 {
		t.Errorf("requests = %v", paths)
	}
	if len(papers) != 1 || papers[0].ID != "10" {
		t.Fatalf("papers = %+v", papers)
	}
	if !papers[0].HighTrust || papers[0].Source != "citation_mining" {
		t.Errorf("paper = %+v", papers[0])
	}
}

func TestCitationBackendNoSeeds(t *testing.T) {
	papers, err := (&CitationBackend{Client: http.DefaultClient}).Search(context.Background(), testQuery(), testCfg())
	if err != nil || papers != nil {
		t.Errorf("papers=%v err=%v", papers, err)
	}
}

func TestCitationBackendAllSeedsFail(t *testing.T) {
	withServer(t, &semanticAPIBase, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	q := testQuery()
	q.ReviewSeeds = []string{"123"}
	_, err := (&CitationBackend{Client: http.DefaultClient}).Search(context.Background(), q, testCfg())
	if err == nil {
		t.Error("expected error when every seed fails")
	}
}

func TestSeedID(t *testing.T) {
	tests := map[string]string{
		"10.1/ABC":               "DOI:10.1/abc",
		"https://doi.org/10.1/x": "DOI:10.1/x",
		"12345":                  "PMID:12345",
		"pmid:678":               "PMID:678",
		"CorpusId:99":            "CorpusId:99",
	}
	for in, want := range tests {
		if got := seedID(in); got != want {
			t.Errorf("seedID(%q) = %q, want %q", in, got, want)
		}
	}
}
