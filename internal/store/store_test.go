// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/repurpose-engine/internal/filter"
	"github.com/pdiddy/repurpose-engine/pkg/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(types.StoreConfig{DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func scored(drug, disease string, priority float64) *types.Opportunity {
	return &types.Opportunity{
		Drug:       drug,
		Disease:    disease,
		Extraction: &types.Extraction{PaperKey: "pmid:" + disease, Disease: disease},
		Score:      &types.OpportunityScore{OverallPriority: priority},
		Rank:       1,
	}
}

func TestRunLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "baricitinib")
	if err != nil {
		t.Fatal(err)
	}
	if run.ID == "" || run.Status != types.RunRunning {
		t.Fatalf("unexpected run %+v", run)
	}

	run.PapersFound = 40
	run.PapersFiltered = 12
	if err := s.UpdateRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	run.PapersExtracted = 10
	run.PapersSkipped = 2
	run.Opportunities = 5
	done, err := s.CompleteRun(ctx, run)
	if err != nil {
		t.Fatal(err)
	}
	if done.FinishedAt.IsZero() {
		t.Error("FinishedAt not set")
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.RunCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.PapersFound != 40 || got.PapersExtracted != 10 || got.Opportunities != 5 {
		t.Errorf("counters not persisted: %+v", got)
	}
}

func TestFailRun(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	run, _ := s.CreateRun(ctx, "tofacitinib")
	if err := s.FailRun(ctx, run, errors.New("boom")); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetRun(ctx, run.ID)
	if got.Status != types.RunFailed || got.Error != "boom" {
		t.Errorf("got %+v", got)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := s.UpdateRun(context.Background(), types.Run{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateRun err = %v, want ErrNotFound", err)
	}
}

func TestLatestRunAndList(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	first, _ := s.CreateRun(ctx, "baricitinib")
	second, _ := s.CreateRun(ctx, "baricitinib")
	if _, err := s.CreateRun(ctx, "upadacitinib"); err != nil {
		t.Fatal(err)
	}

	latest, err := s.LatestRun(ctx, "baricitinib")
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != second.ID {
		t.Errorf("latest = %s, want %s", latest.ID, second.ID)
	}

	runs, err := s.ListRuns(ctx, "baricitinib")
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[1].ID != first.ID {
		t.Errorf("ListRuns = %+v", runs)
	}
	all, _ := s.ListRuns(ctx, "")
	if len(all) != 3 {
		t.Errorf("ListRuns all = %d, want 3", len(all))
	}
	if _, err := s.LatestRun(ctx, "none"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestExtractionCache(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "baricitinib", "pmid:1"); ok || err != nil {
		t.Fatalf("empty cache: ok=%v err=%v", ok, err)
	}

	e := &types.Extraction{
		PaperKey:      "pmid:1",
		Drug:          "baricitinib",
		RawDisease:    "DM",
		EvidenceLevel: types.EvidenceCaseSeries,
		Population:    types.Population{NPatients: types.IntPtr(12)},
		Efficacy:      types.Efficacy{ResponseRatePct: types.FloatPtr(83.3)},
	}
	if err := s.Put(ctx, "Baricitinib", "pmid:1", e); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Get(ctx, "baricitinib", "pmid:1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Patients() != 12 || *got.Efficacy.ResponseRatePct != 83.3 || got.RawDisease != "DM" {
		t.Errorf("round trip mismatch: %+v", got)
	}

	e.Population.NPatients = types.IntPtr(14)
	if err := s.Put(ctx, "baricitinib", "pmid:1", e); err != nil {
		t.Fatal(err)
	}
	got, _, _ = s.Get(ctx, "baricitinib", "pmid:1")
	if got.Patients() != 14 {
		t.Errorf("Put did not replace: n=%d", got.Patients())
	}
	if n, _ := s.CacheSize(ctx, "baricitinib"); n != 1 {
		t.Errorf("CacheSize = %d, want 1", n)
	}
}

func TestDeleteExtractions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		key := fmt.Sprintf("pmid:%d", i)
		if err := s.Put(ctx, "baricitinib", key, &types.Extraction{PaperKey: key}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.DeleteExtractions(ctx, "baricitinib", []string{"pmid:1", "pmid:3", "pmid:9"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}
	if _, ok, _ := s.Get(ctx, "baricitinib", "pmid:2"); !ok {
		t.Error("pmid:2 should remain")
	}
	if _, ok, _ := s.Get(ctx, "baricitinib", "pmid:1"); ok {
		t.Error("pmid:1 should be gone")
	}
}

func TestConcurrentPuts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("pmid:%d", i)
			if err := s.Put(ctx, "baricitinib", key, &types.Extraction{PaperKey: key}); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	if n, _ := s.CacheSize(ctx, "baricitinib"); n != 20 {
		t.Errorf("CacheSize = %d, want 20", n)
	}
}

func TestMappings(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetMapping(ctx, "dm"); ok || err != nil {
		t.Fatalf("empty: ok=%v err=%v", ok, err)
	}

	m := types.DiseaseMapping{VariantKey: "cadm", Canonical: "Amyopathic Dermatomyositis", Parent: "Dermatomyositis", Source: "capability"}
	if err := s.PutMapping(ctx, m); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.GetMapping(ctx, "cadm")
	if err != nil || !ok {
		t.Fatalf("GetMapping: ok=%v err=%v", ok, err)
	}
	if got.Canonical != m.Canonical || got.Parent != m.Parent || got.CreatedAt.IsZero() {
		t.Errorf("got %+v", got)
	}

	if err := s.PutMapping(ctx, types.DiseaseMapping{VariantKey: "aa", Canonical: "Alopecia Areata", Source: "capability"}); err != nil {
		t.Fatal(err)
	}
	all, err := s.ListMappings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].VariantKey != "aa" {
		t.Errorf("ListMappings = %+v", all)
	}
}

func TestUpsertOpportunityKeepsHigher(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	run, _ := s.CreateRun(ctx, "baricitinib")

	wrote, err := s.UpsertOpportunity(ctx, run.ID, scored("baricitinib", "Vitiligo", 6.5))
	if err != nil || !wrote {
		t.Fatalf("first upsert: wrote=%v err=%v", wrote, err)
	}
	wrote, err = s.UpsertOpportunity(ctx, run.ID, scored("baricitinib", "Vitiligo", 5.0))
	if err != nil {
		t.Fatal(err)
	}
	if wrote {
		t.Error("lower priority should not replace")
	}
	wrote, _ = s.UpsertOpportunity(ctx, run.ID, scored("baricitinib", "Vitiligo", 7.25))
	if !wrote {
		t.Error("higher priority should replace")
	}
	if _, err := s.UpsertOpportunity(ctx, run.ID, scored("baricitinib", "Morphea", 8)); err != nil {
		t.Fatal(err)
	}

	opps, err := s.Opportunities(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(opps) != 2 {
		t.Fatalf("got %d opportunities, want 2", len(opps))
	}
	if opps[0].Disease != "Morphea" || opps[1].Score.OverallPriority != 7.25 {
		t.Errorf("unexpected order or value: %+v", opps)
	}
}

func TestUpsertOpportunityRequiresScore(t *testing.T) {
	s := testStore(t)
	o := scored("baricitinib", "Vitiligo", 1)
	o.Score = nil
	if _, err := s.UpsertOpportunity(context.Background(), "r", o); err == nil {
		t.Error("expected error for unscored opportunity")
	}
}

func TestCheckpoints(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.LoadCheckpoint(ctx, "baricitinib"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	cp := filter.Checkpoint{Decisions: map[string]filter.Decision{
		"pmid:1": {Include: true, Stage: "classifier", Score: 0.9},
		"pmid:2": {Include: false, Stage: "keyword"},
	}}
	if err := s.SaveCheckpoint(ctx, "Baricitinib", cp); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadCheckpoint(ctx, "baricitinib")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Decisions) != 2 || !got.Decisions["pmid:1"].Include || got.Decisions["pmid:1"].Score != 0.9 {
		t.Errorf("got %+v", got)
	}

	if err := s.ClearCheckpoint(ctx, "baricitinib"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadCheckpoint(ctx, "baricitinib"); !errors.Is(err, ErrNotFound) {
		t.Errorf("after clear err = %v", err)
	}
}

func TestExport(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	run, _ := s.CreateRun(ctx, "baricitinib")
	s.UpsertOpportunity(ctx, run.ID, scored("baricitinib", "Vitiligo", 6.5))

	var yb bytes.Buffer
	if err := s.ExportYAML(ctx, run.ID, &yb); err != nil {
		t.Fatal(err)
	}
	var yr Report
	if err := yaml.Unmarshal(yb.Bytes(), &yr); err != nil {
		t.Fatal(err)
	}
	if yr.Run.ID != run.ID || len(yr.Opportunities) != 1 {
		t.Errorf("YAML report = %+v", yr)
	}

	var jb bytes.Buffer
	if err := s.ExportJSON(ctx, run.ID, &jb); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(jb.String(), `"overall_priority": 6.5`) {
		t.Errorf("JSON missing priority:\n%s", jb.String())
	}
	var jr Report
	if err := json.Unmarshal(jb.Bytes(), &jr); err != nil {
		t.Fatal(err)
	}

	if err := s.ExportJSON(ctx, "missing", &jb); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
