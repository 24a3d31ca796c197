// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package aggregate

import (
	"fmt"
	"math"
	"testing"

	"github.com/pdiddy/repurpose-engine/pkg/types"
)

func study(key string, n int, rate float64) *types.Extraction {
	e := &types.Extraction{PaperKey: key, Disease: "Dermatomyositis", EvidenceLevel: types.EvidenceCaseSeries}
	if n > 0 {
		e.Population.NPatients = types.IntPtr(n)
	}
	if rate >= 0 {
		e.Efficacy.ResponseRatePct = types.FloatPtr(rate)
	}
	return e
}

func TestAggregateEqualWeights(t *testing.T) {
	es := []*types.Extraction{study("a", 10, 80), study("b", 10, 20), study("c", 10, 50)}
	a := Aggregate("Dermatomyositis", es)

	if a.PooledResponsePct == nil || *a.PooledResponsePct != 50 {
		t.Errorf("pooled = %v, want 50", a.PooledResponsePct)
	}
	if a.Heterogeneity == nil || math.Abs(*a.Heterogeneity-0.6) > 1e-9 {
		t.Errorf("CV = %v, want 0.6", a.Heterogeneity)
	}
	if a.Consistency != types.ConsistencyLow {
		t.Errorf("consistency = %q, want Low", a.Consistency)
	}
	if a.StudyCount != 3 || a.TotalPatients != 30 || a.TotalResponders != 15 {
		t.Errorf("totals = %d studies, %d patients, %d responders", a.StudyCount, a.TotalPatients, a.TotalResponders)
	}
	if *a.ResponseMinPct != 20 || *a.ResponseMaxPct != 80 {
		t.Errorf("range = %v-%v", *a.ResponseMinPct, *a.ResponseMaxPct)
	}
	// Three studies and 30 patients, but inconsistent.
	if a.Confidence != types.ConfidenceLow {
		t.Errorf("confidence = %q, want Low", a.Confidence)
	}
}

func TestAggregatePatientWeighting(t *testing.T) {
	es := []*types.Extraction{study("a", 30, 90), study("b", 10, 50), study("c", 0, 10)}
	a := Aggregate("Dermatomyositis", es)
	// (30*90 + 10*50 + 1*10) / 41
	want := math.Round((2700.0+500+10)/41*10) / 10
	if *a.PooledResponsePct != want {
		t.Errorf("pooled = %v, want %v", *a.PooledResponsePct, want)
	}
}

func TestAggregateStudiesWithoutRate(t *testing.T) {
	es := []*types.Extraction{study("a", 8, 75), study("b", 4, -1)}
	a := Aggregate("Dermatomyositis", es)
	if *a.PooledResponsePct != 75 {
		t.Errorf("pooled = %v, want 75", *a.PooledResponsePct)
	}
	if a.TotalPatients != 12 || a.StudyCount != 2 {
		t.Errorf("totals = %d / %d", a.TotalPatients, a.StudyCount)
	}
	if a.Heterogeneity != nil {
		t.Errorf("CV = %v, want nil with one rate", *a.Heterogeneity)
	}
	if a.Consistency != types.ConsistencyNA {
		t.Errorf("consistency = %q", a.Consistency)
	}
	if a.Confidence != types.ConfidenceLow {
		t.Errorf("confidence = %q, want Low", a.Confidence)
	}
}

func TestAggregateEmpty(t *testing.T) {
	a := Aggregate("Vitiligo", nil)
	if a.TotalPatients != 0 || a.PooledResponsePct != nil {
		t.Errorf("empty aggregate = %+v", a)
	}
	if a.Consistency != types.ConsistencyNA || a.Confidence != types.ConfidenceNone {
		t.Errorf("labels = %q / %q", a.Consistency, a.Confidence)
	}
}

func TestAggregateSingleStudy(t *testing.T) {
	a := Aggregate("Dermatomyositis", []*types.Extraction{study("a", 1, 100)})
	if a.Consistency != types.ConsistencySingle || a.Confidence != types.ConfidenceVeryLow {
		t.Errorf("labels = %q / %q", a.Consistency, a.Confidence)
	}
	if len(a.Studies) != 1 || a.Studies[0].PaperKey != "a" {
		t.Errorf("studies = %+v", a.Studies)
	}
}

func TestConfidenceTable(t *testing.T) {
	consistent := func(fullText bool) []*types.Extraction {
		var es []*types.Extraction
		for i := 0; i < 3; i++ {
			e := study(fmt.Sprint(i), 8, 60+float64(i))
			e.HasFullText = fullText && i == 0
			es = append(es, e)
		}
		return es
	}
	if got := Aggregate("x", consistent(true)); got.Confidence != types.ConfidenceModerate || got.Consistency != types.ConsistencyHigh {
		t.Errorf("with full text = %q / %q", got.Confidence, got.Consistency)
	}
	if got := Aggregate("x", consistent(false)).Confidence; got != types.ConfidenceLowModerate {
		t.Errorf("without full text = %q", got)
	}
	if got := Aggregate("x", []*types.Extraction{study("a", 3, 50), study("b", 3, 50)}).Confidence; got != types.ConfidenceVeryLow {
		t.Errorf("two small studies = %q", got)
	}
}

func TestConsistencyThresholds(t *testing.T) {
	tests := []struct {
		cv   float64
		want string
	}{
		{0, types.ConsistencyHigh},
		{0.249, types.ConsistencyHigh},
		{0.25, types.ConsistencyModerate},
		{0.49, types.ConsistencyModerate},
		{0.5, types.ConsistencyLow},
	}
	for _, tt := range tests {
		cv := tt.cv
		if got := consistency(2, &cv); got != tt.want {
			t.Errorf("consistency(%v) = %q, want %q", tt.cv, got, tt.want)
		}
	}
}

func TestGroupByDisease(t *testing.T) {
	es := []*types.Extraction{
		{PaperKey: "1", Disease: "Vitiligo"},
		{PaperKey: "2", Disease: "Alopecia Areata"},
		{PaperKey: "3", Disease: "Vitiligo"},
		{PaperKey: "4"},
		nil,
	}
	groups := GroupByDisease(es)
	if len(groups) != 2 || groups[0].Disease != "Alopecia Areata" || len(groups[1].Extractions) != 2 {
		t.Errorf("groups = %+v", groups)
	}
	if all := AggregateAll(es); len(all) != 2 || all[1].StudyCount != 2 {
		t.Errorf("AggregateAll = %+v", all)
	}
}
