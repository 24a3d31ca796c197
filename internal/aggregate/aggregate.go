// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package aggregate rolls per-study extractions up to one evidence
// summary per canonical disease.
package aggregate

import (
	"math"
	"sort"

	"github.com/pdiddy/repurpose-engine/internal/scoring"
	"github.com/pdiddy/repurpose-engine/pkg/types"
)

// Consistency thresholds on the coefficient of variation.
const (
	highCV     = 0.25
	moderateCV = 0.50
)

// Group is the extractions sharing one canonical disease.
type Group struct {
	Disease     string
	Extractions []*types.Extraction
}

// GroupByDisease groups extractions by canonical disease, sorted by
// disease name. Extractions without a disease are skipped.
func GroupByDisease(es []*types.Extraction) []Group {
	byDisease := make(map[string][]*types.Extraction)
	for _, e := range es {
		if e == nil || e.Disease == "" {
			continue
		}
		byDisease[e.Disease] = append(byDisease[e.Disease], e)
	}
	out := make([]Group, 0, len(byDisease))
	for d, list := range byDisease {
		out = append(out, Group{Disease: d, Extractions: list})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Disease < out[j].Disease })
	return out
}

// AggregateAll aggregates every disease group.
func AggregateAll(es []*types.Extraction) []types.AggregateScore {
	groups := GroupByDisease(es)
	out := make([]types.AggregateScore, len(groups))
	for i, g := range groups {
		out[i] = Aggregate(g.Disease, g.Extractions)
	}
	return out
}

// Aggregate summarizes the studies for one disease. The pooled response
// rate is weighted by patient count (weight 1 when the count is unknown)
// over the studies that report a rate; the rest still count toward the
// study and patient totals.
func Aggregate(disease string, es []*types.Extraction) types.AggregateScore {
	a := types.AggregateScore{
		Disease:     disease,
		StudyCount:  len(es),
		Consistency: types.ConsistencyNA,
		Confidence:  types.ConfidenceNone,
		Studies:     []types.StudyRef{},
	}
	if len(es) == 0 {
		return a
	}

	var (
		rates         []float64
		weighted, sum float64
		sums          = make(map[string]float64)
		best          = make(map[string]float64)
	)
	for _, e := range es {
		n := e.Patients()
		a.TotalPatients += n
		if e.HasFullText {
			a.HasFullText = true
		}

		rate := e.Efficacy.ResponseRatePct
		switch {
		case e.Efficacy.RespondersN != nil:
			a.TotalResponders += *e.Efficacy.RespondersN
		case rate != nil && n > 0:
			a.TotalResponders += int(math.Round(float64(n) * *rate / 100))
		}
		if rate != nil {
			w := float64(n)
			if n <= 0 {
				w = 1
			}
			rates = append(rates, *rate)
			weighted += w * *rate
			sum += w
		}

		score := scoring.Score(e)
		for dim, v := range score.Dimensions() {
			sums[dim] += v
			if v > best[dim] {
				best[dim] = v
			}
		}
		a.Studies = append(a.Studies, types.StudyRef{
			PaperKey:        e.PaperKey,
			Title:           e.Title,
			NPatients:       n,
			ResponseRatePct: rate,
			EvidenceLevel:   e.EvidenceLevel,
			TotalScore:      score.Total,
		})
	}

	if len(rates) > 0 {
		a.PooledResponsePct = types.FloatPtr(round(weighted/sum, 1))
		lo, hi := rates[0], rates[0]
		for _, r := range rates[1:] {
			lo, hi = math.Min(lo, r), math.Max(hi, r)
		}
		a.ResponseMinPct, a.ResponseMaxPct = types.FloatPtr(lo), types.FloatPtr(hi)
	}
	if cv, ok := coefficientOfVariation(rates); ok {
		a.Heterogeneity = types.FloatPtr(round(cv, 3))
	}
	a.Consistency = consistency(len(es), a.Heterogeneity)
	a.Confidence = confidence(a)

	a.AverageScores = make(map[string]float64, len(sums))
	for dim, v := range sums {
		a.AverageScores[dim] = round(v/float64(len(es)), 2)
	}
	a.BestScores = best

	sort.SliceStable(a.Studies, func(i, j int) bool {
		if a.Studies[i].TotalScore != a.Studies[j].TotalScore {
			return a.Studies[i].TotalScore > a.Studies[j].TotalScore
		}
		return a.Studies[i].PaperKey < a.Studies[j].PaperKey
	})
	return a
}

// coefficientOfVariation is the sample standard deviation over the mean.
// It needs at least two values.
func coefficientOfVariation(xs []float64) (float64, bool) {
	if len(xs) < 2 {
		return 0, false
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	sd := math.Sqrt(ss / float64(len(xs)-1))
	if sd == 0 {
		return 0, true
	}
	if mean == 0 {
		return 0, false
	}
	return sd / mean, true
}

func consistency(studies int, cv *float64) string {
	switch {
	case studies == 0:
		return types.ConsistencyNA
	case studies == 1:
		return types.ConsistencySingle
	case cv == nil:
		return types.ConsistencyNA
	case *cv < highCV:
		return types.ConsistencyHigh
	case *cv < moderateCV:
		return types.ConsistencyModerate
	default:
		return types.ConsistencyLow
	}
}

func confidence(a types.AggregateScore) string {
	consistent := a.Consistency == types.ConsistencyHigh || a.Consistency == types.ConsistencyModerate
	switch {
	case a.StudyCount == 0:
		return types.ConfidenceNone
	case a.StudyCount >= 3 && a.TotalPatients >= 20 && consistent && a.HasFullText:
		return types.ConfidenceModerate
	case a.StudyCount >= 3 && a.TotalPatients >= 20 && consistent:
		return types.ConfidenceLowModerate
	case a.StudyCount >= 2 && a.TotalPatients >= 10:
		return types.ConfidenceLow
	default:
		return types.ConfidenceVeryLow
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
