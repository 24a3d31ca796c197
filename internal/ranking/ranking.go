// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ranking scores repurposing opportunities on clinical signal,
// evidence quality and market opportunity, and orders them by priority.
package ranking

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/pdiddy/repurpose-engine/internal/scoring"
	"github.com/pdiddy/repurpose-engine/pkg/types"
)

// ErrInvalidWeights is returned when a weight set does not sum to 1.
var ErrInvalidWeights = errors.New("invalid ranking weights")

// weightTolerance is the allowed deviation of a weight sum from 1.
const weightTolerance = 5e-3

// Sub-score labels.
const (
	SubResponseRate    = "response_rate"
	SubSafety          = "safety"
	SubEndpointQuality = "endpoint_quality"
	SubDurability      = "durability"

	SubSampleSize  = "sample_size"
	SubStudyDesign = "study_design"
	SubReplication = "replication"
	SubFollowUp    = "follow_up"

	SubCompetition = "competition"
	SubUnmetNeed   = "unmet_need"
	SubMarketSize  = "market_size"
)

var (
	clinicalLabels = []string{SubResponseRate, SubSafety, SubEndpointQuality, SubDurability}
	evidenceLabels = []string{SubSampleSize, SubStudyDesign, SubReplication, SubFollowUp}
	marketLabels   = []string{SubCompetition, SubUnmetNeed, SubMarketSize}
)

// Weights configures an Engine. The three top-level weights and each
// sub-weight map must sum to 1.
type Weights struct {
	Clinical float64
	Evidence float64
	Market   float64

	ClinicalSub map[string]float64
	EvidenceSub map[string]float64
	MarketSub   map[string]float64

	// PreprintPenalty multiplies the evidence score of preprints.
	PreprintPenalty float64
}

// DefaultWeights returns the standard weight set.
func DefaultWeights() Weights {
	return Weights{
		Clinical: 0.40,
		Evidence: 0.35,
		Market:   0.25,
		ClinicalSub: map[string]float64{
			SubResponseRate:    0.40,
			SubSafety:          0.25,
			SubEndpointQuality: 0.20,
			SubDurability:      0.15,
		},
		EvidenceSub: map[string]float64{
			SubSampleSize:  0.30,
			SubStudyDesign: 0.30,
			SubReplication: 0.20,
			SubFollowUp:    0.20,
		},
		MarketSub: map[string]float64{
			SubCompetition: 0.40,
			SubUnmetNeed:   0.35,
			SubMarketSize:  0.25,
		},
		PreprintPenalty: 0.85,
	}
}

// WeightsFromConfig overlays the configured top-level weights and
// preprint penalty on DefaultWeights.
func WeightsFromConfig(cfg types.ScoringConfig) Weights {
	w := DefaultWeights()
	if cfg.ClinicalWeight != 0 || cfg.EvidenceWeight != 0 || cfg.MarketWeight != 0 {
		w.Clinical, w.Evidence, w.Market = cfg.ClinicalWeight, cfg.EvidenceWeight, cfg.MarketWeight
	}
	if cfg.PreprintPenalty > 0 {
		w.PreprintPenalty = cfg.PreprintPenalty
	}
	return w
}

// Validate checks that every weight set sums to 1 within tolerance and
// names exactly the expected labels.
func (w Weights) Validate() error {
	if err := checkSum("top-level", w.Clinical+w.Evidence+w.Market); err != nil {
		return err
	}
	for _, set := range []struct {
		name    string
		weights map[string]float64
		labels  []string
	}{
		{"clinical", w.ClinicalSub, clinicalLabels},
		{"evidence", w.EvidenceSub, evidenceLabels},
		{"market", w.MarketSub, marketLabels},
	} {
		if len(set.weights) != len(set.labels) {
			return fmt.Errorf("%w: %s has %d sub-weights, want %d", ErrInvalidWeights, set.name, len(set.weights), len(set.labels))
		}
		var sum float64
		for _, l := range set.labels {
			v, ok := set.weights[l]
			if !ok {
				return fmt.Errorf("%w: %s is missing %q", ErrInvalidWeights, set.name, l)
			}
			if v < 0 {
				return fmt.Errorf("%w: %s.%s is negative", ErrInvalidWeights, set.name, l)
			}
			sum += v
		}
		if err := checkSum(set.name, sum); err != nil {
			return err
		}
	}
	if w.PreprintPenalty <= 0 || w.PreprintPenalty > 1 {
		return fmt.Errorf("%w: preprint penalty %v outside (0,1]", ErrInvalidWeights, w.PreprintPenalty)
	}
	return nil
}

func checkSum(name string, sum float64) error {
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: %s weights sum to %.4f", ErrInvalidWeights, name, sum)
	}
	return nil
}

// Engine scores and ranks opportunities.
type Engine struct {
	w Weights
}

// NewEngine validates w and creates an Engine.
func NewEngine(w Weights) (*Engine, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Engine{w: w}, nil
}

// Score computes the OpportunityScore for o. o.Extraction must be set.
func (e *Engine) Score(o *types.Opportunity) types.OpportunityScore {
	ex := o.Extraction
	if ex == nil {
		ex = &types.Extraction{}
	}
	study := scoring.Score(ex)

	clinical := blend(e.w.ClinicalSub, clinicalLabels, map[string]float64{
		SubResponseRate:    responseRateScore(ex, o.Aggregate),
		SubSafety:          safetyScore(ex),
		SubEndpointQuality: study.EndpointQuality,
		SubDurability:      durabilityScore(ex),
	})
	evidence := blend(e.w.EvidenceSub, evidenceLabels, map[string]float64{
		SubSampleSize:  sampleSizeScore(ex, o.Aggregate),
		SubStudyDesign: study.EfficacyRigor,
		SubReplication: replicationScore(o.Aggregate),
		SubFollowUp:    study.FollowUp,
	})
	market := blend(e.w.MarketSub, marketLabels, map[string]float64{
		SubCompetition: competitionScore(o.Market.ApprovedCompetitors),
		SubUnmetNeed:   levelScore(o.Market.UnmetNeed, map[string]float64{"high": 9, "medium": 6, "low": 3}),
		SubMarketSize:  levelScore(o.Market.Prevalence, map[string]float64{"common": 9, "uncommon": 6, "rare": 4}),
	})

	s := types.OpportunityScore{
		ClinicalSignal:    clinical,
		EvidenceQuality:   evidence,
		MarketOpportunity: market,
	}
	if ex.IsPreprint {
		s.EvidenceQuality.Score = round2(s.EvidenceQuality.Score * e.w.PreprintPenalty)
		s.PreprintPenalized = true
	}
	s.OverallPriority = round2(e.w.Clinical*s.ClinicalSignal.Score +
		e.w.Evidence*s.EvidenceQuality.Score +
		e.w.Market*s.MarketOpportunity.Score)
	return s
}

// Rank scores every unscored opportunity, then sorts all of them by
// priority (ties by disease, then paper) and assigns ranks from 1. The
// slice is sorted in place and returned.
func (e *Engine) Rank(opps []*types.Opportunity) []*types.Opportunity {
	for _, o := range opps {
		if o.Score == nil {
			s := e.Score(o)
			o.Score = &s
		}
	}
	sort.SliceStable(opps, func(i, j int) bool {
		a, b := opps[i], opps[j]
		if a.Score.OverallPriority != b.Score.OverallPriority {
			return a.Score.OverallPriority > b.Score.OverallPriority
		}
		if a.Disease != b.Disease {
			return a.Disease < b.Disease
		}
		return paperKey(a) < paperKey(b)
	})
	for i, o := range opps {
		o.Rank = i + 1
	}
	return opps
}

func blend(weights map[string]float64, labels []string, values map[string]float64) types.DimensionScore {
	d := types.DimensionScore{Breakdown: make([]types.SubScore, 0, len(labels))}
	var total float64
	for _, l := range labels {
		v := clamp(values[l])
		total += weights[l] * v
		d.Breakdown = append(d.Breakdown, types.SubScore{Label: l, Value: v, Weight: weights[l]})
	}
	d.Score = round2(total)
	return d
}

// responseRateScore prefers the pooled rate across studies.
func responseRateScore(ex *types.Extraction, agg *types.AggregateScore) float64 {
	rate := ex.Efficacy.ResponseRatePct
	if agg != nil && agg.PooledResponsePct != nil {
		rate = agg.PooledResponsePct
	}
	if rate == nil {
		return 2
	}
	return *rate / 10
}

func safetyScore(ex *types.Extraction) float64 {
	s := ex.Safety
	pct := s.SAEPct
	if pct == nil && s.SAECount != nil && ex.Patients() > 0 {
		pct = types.FloatPtr(float64(*s.SAECount) * 100 / float64(ex.Patients()))
	}
	switch {
	case pct != nil && *pct == 0:
		return 9
	case pct != nil && *pct < 5:
		return 8
	case pct != nil && *pct < 10:
		return 6
	case pct != nil && *pct < 20:
		return 4
	case pct != nil:
		return 2
	case s.SAECount != nil && *s.SAECount == 0:
		return 9
	case len(s.AdverseEvents) > 0 || strings.TrimSpace(s.Summary) != "":
		return 6
	default:
		return 5
	}
}

// durabilityScore rates how long patients were treated.
func durabilityScore(ex *types.Extraction) float64 {
	weeks := ex.Treatment.DurationWeeks
	if weeks == nil {
		if w, ok := scoring.ParseWeeks(ex.Treatment.Duration); ok {
			weeks = &w
		}
	}
	return scoring.DurationBand(weeks)
}

func sampleSizeScore(ex *types.Extraction, agg *types.AggregateScore) float64 {
	n := ex.Patients()
	if agg != nil && agg.TotalPatients > n {
		n = agg.TotalPatients
	}
	switch {
	case n >= 50:
		return 10
	case n >= 20:
		return 8
	case n >= 10:
		return 6
	case n >= 5:
		return 4
	case n >= 1:
		return 2
	default:
		return 1
	}
}

func replicationScore(agg *types.AggregateScore) float64 {
	if agg == nil {
		return 3
	}
	var v float64
	switch {
	case agg.StudyCount >= 5:
		v = 10
	case agg.StudyCount >= 3:
		v = 8
	case agg.StudyCount == 2:
		v = 6
	default:
		v = 3
	}
	if agg.Consistency == types.ConsistencyLow {
		v -= 2
	}
	return v
}

func competitionScore(n int) float64 {
	switch {
	case n <= 0:
		return 10
	case n == 1:
		return 8
	case n <= 3:
		return 6
	case n <= 5:
		return 4
	default:
		return 2
	}
}

func levelScore(level string, table map[string]float64) float64 {
	if v, ok := table[strings.ToLower(level)]; ok {
		return v
	}
	return 5
}

func paperKey(o *types.Opportunity) string {
	if o.Extraction == nil {
		return ""
	}
	return o.Extraction.PaperKey
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(10, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
