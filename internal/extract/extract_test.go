// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pdiddy/repurpose-engine/internal/llm"
	"github.com/pdiddy/repurpose-engine/pkg/types"
)

// --- mock extractor ---

type mockExtractor struct {
	mu        sync.Mutex
	replies   map[llm.Schema]string
	errs      map[llm.Schema]error
	calls     map[llm.Schema]int
	documents map[llm.Schema]string
}

func newMock() *mockExtractor {
	return &mockExtractor{
		replies:   make(map[llm.Schema]string),
		errs:      make(map[llm.Schema]error),
		calls:     make(map[llm.Schema]int),
		documents: make(map[llm.Schema]string),
	}
}

func (m *mockExtractor) Extract(_ context.Context, req llm.ExtractRequest) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[req.Schema]++
	m.documents[req.Schema] = req.Document
	if err := m.errs[req.Schema]; err != nil {
		return nil, err
	}
	if strings.Contains(req.Title, "fail") {
		return nil, errors.New("capability unavailable")
	}
	reply, ok := m.replies[req.Schema]
	if !ok {
		return nil, fmt.Errorf("no reply for %s", req.Schema)
	}
	return json.RawMessage(reply), nil
}

func (m *mockExtractor) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

const singlePassReply = `{
  "disease": "alopecia areata", "is_off_label": true, "is_relevant": true,
  "study_design": "case series", "evidence_level": "Case Series",
  "population": {"n_patients": null, "description": "adults with severe AA"},
  "efficacy": {"response_rate_text": "10/12 (83%)", "primary_endpoint": "SALT50"}
}`

var testDrug = types.DrugContext{Name: "baricitinib", ApprovedIndications: []string{"rheumatoid arthritis"}}

func testPaper(id string) types.Paper {
	return types.Paper{ID: id, Title: "Baricitinib in alopecia " + id, Abstract: "We treated 12 patients.", Source: "pubmed", Year: 2023}
}

func newTestOrchestrator(t *testing.T, m *mockExtractor, cache Cache) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(m, cache, types.ExtractionConfig{MaxConcurrent: 2, MinFullTextChars: 50}, nil)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return o
}

func TestNewOrchestratorRequiresExtractor(t *testing.T) {
	_, err := NewOrchestrator(nil, nil, types.ExtractionConfig{}, nil)
	if !errors.Is(err, llm.ErrNoCapability) {
		t.Errorf("err = %v, want ErrNoCapability", err)
	}
}

func TestExtractSinglePass(t *testing.T) {
	m := newMock()
	m.replies[llm.SchemaSinglePass] = singlePassReply
	o := newTestOrchestrator(t, m, nil)

	e, hit, err := o.Extract(context.Background(), testPaper("1"), testDrug, true)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if hit {
		t.Error("first extraction reported a cache hit")
	}
	if e.PaperKey != "pmid:1" || e.Drug != "baricitinib" || e.Year != 2023 {
		t.Errorf("metadata = %q %q %d", e.PaperKey, e.Drug, e.Year)
	}
	if e.Method != types.MethodSinglePass || e.HasFullText {
		t.Errorf("method = %s, full text = %v", e.Method, e.HasFullText)
	}
	if e.EvidenceLevel != types.EvidenceCaseSeries {
		t.Errorf("evidence level = %s, want case_series", e.EvidenceLevel)
	}
	if e.RawDisease != "alopecia areata" {
		t.Errorf("raw disease = %q", e.RawDisease)
	}
	if got := e.Patients(); got != 12 {
		t.Errorf("n_patients = %d, want 12 from response text", got)
	}
	if e.Efficacy.ResponseRatePct == nil || *e.Efficacy.ResponseRatePct != 83.3 {
		t.Errorf("response rate = %v, want 83.3", e.Efficacy.ResponseRatePct)
	}
	if m.documents[llm.SchemaSinglePass] != "We treated 12 patients." {
		t.Errorf("document = %q, want abstract", m.documents[llm.SchemaSinglePass])
	}
}

func TestExtractCacheHitMatchesFreshExtraction(t *testing.T) {
	m := newMock()
	m.replies[llm.SchemaSinglePass] = singlePassReply
	cache := NewMemoryCache()
	o := newTestOrchestrator(t, m, cache)
	ctx := context.Background()

	fresh, _, err := o.Extract(ctx, testPaper("1"), testDrug, true)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	cached, hit, err := o.Extract(ctx, testPaper("1"), testDrug, true)
	if err != nil {
		t.Fatalf("Extract (cached): %v", err)
	}
	if !hit {
		t.Fatal("second extraction missed the cache")
	}
	if m.calls[llm.SchemaSinglePass] != 1 {
		t.Errorf("capability calls = %d, want 1", m.calls[llm.SchemaSinglePass])
	}
	if !reflect.DeepEqual(fresh, cached) {
		t.Errorf("cache hit differs from fresh extraction:\n%+v\n%+v", fresh, cached)
	}

	// The cache holds the raw record; fixups never leak into it.
	raw, _, _ := cache.Get(ctx, "baricitinib", "pmid:1")
	if raw.Population.NPatients != nil || len(raw.Annotations) != 0 {
		t.Errorf("cached record was modified: %+v", raw)
	}
}

func TestExtractCacheHitReappliesFixups(t *testing.T) {
	cache := NewMemoryCache()
	stale := &types.Extraction{
		PaperKey: "pmid:1",
		Drug:     "baricitinib",
		Disease:  "adverse event",
		Efficacy: types.Efficacy{ResponseRateText: "3/4"},
	}
	if err := cache.Put(context.Background(), "baricitinib", "pmid:1", stale); err != nil {
		t.Fatal(err)
	}
	m := newMock()
	o := newTestOrchestrator(t, m, cache)

	e, hit, err := o.Extract(context.Background(), testPaper("1"), testDrug, true)
	if err != nil || !hit {
		t.Fatalf("Extract: hit=%v err=%v", hit, err)
	}
	if m.total() != 0 {
		t.Errorf("capability called %d times on cache hit", m.total())
	}
	if !e.DiseaseTooBroad {
		t.Error("broad disease not flagged on cached record")
	}
	if e.Patients() != 4 {
		t.Errorf("n_patients = %d, want 4", e.Patients())
	}
}

func TestExtractRefreshBypassesCache(t *testing.T) {
	m := newMock()
	m.replies[llm.SchemaSinglePass] = singlePassReply
	cache := NewMemoryCache()
	o := newTestOrchestrator(t, m, cache)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, hit, err := o.Extract(ctx, testPaper("1"), testDrug, false); err != nil || hit {
			t.Fatalf("Extract: hit=%v err=%v", hit, err)
		}
	}
	if m.calls[llm.SchemaSinglePass] != 2 {
		t.Errorf("calls = %d, want 2", m.calls[llm.SchemaSinglePass])
	}
	if cache.Len() != 1 {
		t.Errorf("cache entries = %d, want 1", cache.Len())
	}
}

const fullText = `## Introduction
Background text that is long enough to pass the threshold.
## Results
Ten of twelve patients responded.
## Discussion
Commentary.`

func fullTextPaper() types.Paper {
	p := testPaper("2")
	p.HasFullText = true
	p.FullText = fullText
	return p
}

func TestExtractMultiStage(t *testing.T) {
	m := newMock()
	m.replies[llm.SchemaSections] = `{"data_sections": ["Ten of twelve patients responded."], "disease": "alopecia areata",
		"is_relevant": true, "is_off_label": true, "population": {"n_patients": 12},
		"efficacy": {"summary": "ignored"}}`
	m.replies[llm.SchemaEfficacy] = `{"efficacy": {"response_rate_text": "10/12", "response_rate_pct": 83.3}}`
	m.replies[llm.SchemaSafety] = `{"safety": {"adverse_events": ["acne"], "sae_count": 0}}`
	o := newTestOrchestrator(t, m, nil)

	e, _, err := o.Extract(context.Background(), fullTextPaper(), testDrug, true)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if e.Method != types.MethodMultiStage || !e.HasFullText {
		t.Errorf("method = %s, full text = %v", e.Method, e.HasFullText)
	}
	if e.Disease != "alopecia areata" || e.Patients() != 12 {
		t.Errorf("study facts = %q, %d", e.Disease, e.Patients())
	}
	if e.Efficacy.Summary == "ignored" {
		t.Error("efficacy from the sections stage should be replaced")
	}
	if len(e.Safety.AdverseEvents) != 1 {
		t.Errorf("safety = %+v", e.Safety)
	}
	if got := m.documents[llm.SchemaEfficacy]; got != "Ten of twelve patients responded." {
		t.Errorf("efficacy document = %q, want selected sections", got)
	}
}

func TestExtractMultiStageStageFailure(t *testing.T) {
	m := newMock()
	m.errs[llm.SchemaSections] = errors.New("timeout")
	m.replies[llm.SchemaEfficacy] = `{"efficacy": {"response_rate_pct": 50}}`
	m.replies[llm.SchemaSafety] = `not json`
	o := newTestOrchestrator(t, m, nil)

	e, _, err := o.Extract(context.Background(), fullTextPaper(), testDrug, true)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if e.Efficacy.ResponseRatePct == nil || *e.Efficacy.ResponseRatePct != 50 {
		t.Errorf("efficacy = %+v", e.Efficacy)
	}
	for _, want := range []string{"sections stage failed", "safety stage failed"} {
		if !contains(e.Annotations, want) {
			t.Errorf("annotations %v missing %q", e.Annotations, want)
		}
	}
	// Without the sections stage, heading selection picks the Results section.
	if got := m.documents[llm.SchemaEfficacy]; !strings.HasPrefix(got, "## Results") {
		t.Errorf("fallback document = %q", got)
	}
}

func TestExtractMultiStageAllFail(t *testing.T) {
	m := newMock()
	o := newTestOrchestrator(t, m, nil)
	p := fullTextPaper()
	p.Title = "fail"
	if _, _, err := o.Extract(context.Background(), p, testDrug, true); !errors.Is(err, errAllStagesFailed) {
		t.Errorf("err = %v, want errAllStagesFailed", err)
	}
}

func TestExtractShortFullTextUsesAbstract(t *testing.T) {
	m := newMock()
	m.replies[llm.SchemaSinglePass] = singlePassReply
	o := newTestOrchestrator(t, m, nil)
	p := testPaper("3")
	p.HasFullText = true
	p.FullText = "short"

	e, _, err := o.Extract(context.Background(), p, testDrug, true)
	if err != nil {
		t.Fatal(err)
	}
	if e.Method != types.MethodSinglePass {
		t.Errorf("method = %s, want single_pass", e.Method)
	}
}

func TestExtractAll(t *testing.T) {
	m := newMock()
	m.replies[llm.SchemaSinglePass] = singlePassReply
	cache := NewMemoryCache()
	o := newTestOrchestrator(t, m, cache)
	ctx := context.Background()

	// Pre-warm one entry so the batch mixes hits, fresh results and failures.
	if _, _, err := o.Extract(ctx, testPaper("1"), testDrug, true); err != nil {
		t.Fatal(err)
	}

	papers := []types.Paper{testPaper("1"), testPaper("2"), testPaper("fail"), testPaper("4")}
	var (
		mu    sync.Mutex
		calls = map[string]int{}
	)
	results, summary := o.ExtractAll(ctx, papers, testDrug, true, func(_ context.Context, r Result) error {
		mu.Lock()
		defer mu.Unlock()
		calls[r.Paper.Key()]++
		return nil
	})

	if len(results) != len(papers) {
		t.Fatalf("results = %d", len(results))
	}
	for i, r := range results {
		if r.Paper.ID != papers[i].ID {
			t.Errorf("results[%d] = %s, want input order", i, r.Paper.ID)
		}
		if calls[r.Paper.Key()] != 1 {
			t.Errorf("callback for %s fired %d times", r.Paper.Key(), calls[r.Paper.Key()])
		}
	}
	if !results[0].FromCache {
		t.Error("pre-warmed paper not served from cache")
	}
	if results[2].Err == nil || results[2].Extraction != nil {
		t.Errorf("failed paper result = %+v", results[2])
	}
	want := Summary{Extracted: 2, Cached: 1, Failed: 1}
	if summary != want {
		t.Errorf("summary = %+v, want %+v", summary, want)
	}
	if summary.Total() != 4 || !summary.HasFailures() {
		t.Errorf("Total/HasFailures = %d/%v", summary.Total(), summary.HasFailures())
	}
}

func TestExtractAllCancelled(t *testing.T) {
	m := newMock()
	m.replies[llm.SchemaSinglePass] = singlePassReply
	o := newTestOrchestrator(t, m, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fired := 0
	results, summary := o.ExtractAll(ctx, []types.Paper{testPaper("1"), testPaper("2")}, testDrug, true,
		func(context.Context, Result) error { fired++; return nil })
	if summary.Failed != 2 || fired != 2 {
		t.Errorf("failed = %d, callbacks = %d", summary.Failed, fired)
	}
	for _, r := range results {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", r.Err)
		}
	}
}

func TestSelectDataSections(t *testing.T) {
	got := selectDataSections(fullText)
	if !strings.Contains(got, "Ten of twelve") || strings.Contains(got, "Background") {
		t.Errorf("selectDataSections = %q", got)
	}
	if plain := "no headings here"; selectDataSections(plain) != plain {
		t.Error("text without headings should pass through")
	}
}

func TestNormalizeLevel(t *testing.T) {
	tests := map[types.EvidenceLevel]types.EvidenceLevel{
		"Case Series":                 types.EvidenceCaseSeries,
		"case-report":                 types.EvidenceCaseReport,
		"Randomized Controlled Trial": types.EvidenceRCT,
		"rct":                         types.EvidenceRCT,
		"":                            types.EvidenceUnknown,
		"anecdote":                    types.EvidenceUnknown,
	}
	for in, want := range tests {
		if got := normalizeLevel(in); got != want {
			t.Errorf("normalizeLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// slowExtractor holds each call open for hold and records how many calls
// overlap and when each started.
type slowExtractor struct {
	hold time.Duration

	mu       sync.Mutex
	inFlight int
	peak     int
	starts   []time.Time
}

func (s *slowExtractor) Extract(ctx context.Context, _ llm.ExtractRequest) (json.RawMessage, error) {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.peak {
		s.peak = s.inFlight
	}
	s.starts = append(s.starts, time.Now())
	s.mu.Unlock()

	select {
	case <-time.After(s.hold):
	case <-ctx.Done():
	}

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
	return json.RawMessage(singlePassReply), nil
}

func TestExtractAllBoundsConcurrency(t *testing.T) {
	ext := &slowExtractor{hold: 20 * time.Millisecond}
	o, err := NewOrchestrator(ext, nil, types.ExtractionConfig{MaxConcurrent: 2}, nil)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	papers := make([]types.Paper, 8)
	for i := range papers {
		papers[i] = testPaper(fmt.Sprint(i + 1))
	}
	_, summary := o.ExtractAll(context.Background(), papers, testDrug, false, nil)

	if summary.Extracted != len(papers) {
		t.Fatalf("extracted = %d, want %d", summary.Extracted, len(papers))
	}
	ext.mu.Lock()
	defer ext.mu.Unlock()
	if ext.peak > 2 {
		t.Errorf("peak in-flight calls = %d, want <= 2", ext.peak)
	}
	if ext.peak < 2 {
		t.Errorf("peak in-flight calls = %d, calls never overlapped", ext.peak)
	}
}

func TestExtractAllSpacesCalls(t *testing.T) {
	const delay = 20 * time.Millisecond
	ext := &slowExtractor{}
	o, err := NewOrchestrator(ext, nil, types.ExtractionConfig{MaxConcurrent: 3, InterCallDelay: delay}, nil)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	papers := []types.Paper{testPaper("1"), testPaper("2"), testPaper("3")}
	start := time.Now()
	_, summary := o.ExtractAll(context.Background(), papers, testDrug, false, nil)
	elapsed := time.Since(start)

	if summary.Extracted != 3 {
		t.Fatalf("extracted = %d, want 3", summary.Extracted)
	}
	if elapsed < 2*delay {
		t.Errorf("3 calls took %v, want at least %v", elapsed, 2*delay)
	}
	ext.mu.Lock()
	defer ext.mu.Unlock()
	if len(ext.starts) != 3 {
		t.Errorf("calls = %d, want 3", len(ext.starts))
	}
}
