// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package filter selects the papers worth extracting: a cheap keyword
// gate followed by batched relevance classification.
package filter

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/repurpose-engine/internal/llm"
	"github.com/pdiddy/repurpose-engine/internal/observability"
	"github.com/pdiddy/repurpose-engine/internal/search"
	"github.com/pdiddy/repurpose-engine/pkg/types"
)

// clinicalTerms mark text that reports patients rather than mechanisms.
var clinicalTerms = []string{
	"patient", "case", "treated", "treatment", "therapy", "clinical",
	"response", "remission", "efficacy", "improvement", "improved",
	"refractory", "off-label", "cohort", "trial", "series",
}

// nonClinicalTerms mark bench and animal work.
var nonClinicalTerms = []string{
	"in vitro", "in-vitro", "mice", "murine", "mouse model", "rat model",
	"cell line", "zebrafish", "pharmacokinetic model", "docking",
}

// Decision is the recorded outcome for one paper.
type Decision struct {
	Include bool   `json:"include" yaml:"include"`
	Reason  string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Stage   string `json:"stage" yaml:"stage"`

	// Score is the classifier relevance in [0,1]; zero when not classified.
	Score            float64 `json:"score,omitempty" yaml:"score,omitempty"`
	DiseaseHint      string  `json:"disease_hint,omitempty" yaml:"disease_hint,omitempty"`
	PatientCountHint *int    `json:"patient_count_hint,omitempty" yaml:"patient_count_hint,omitempty"`
}

// Decision stages.
const (
	StageKeyword    = "keyword"
	StageClassifier = "classifier"
	StageFailOpen   = "fail_open"
)

// Checkpoint is the resumable state of a filter pass: the decision made
// for every paper key processed so far.
type Checkpoint struct {
	Decisions map[string]Decision `json:"decisions" yaml:"decisions"`
}

// CheckpointFunc persists a checkpoint. It is called every
// CheckpointEvery completed batches and once at the end.
type CheckpointFunc func(ctx context.Context, cp Checkpoint) error

// Result holds the papers that passed and run statistics.
type Result struct {
	Papers         []types.Paper
	KeywordDropped int
	Excluded       int
	FailedBatches  int
	Resumed        int
}

// Filter runs the two-stage relevance filter.
type Filter struct {
	classifier llm.Classifier
	cfg        types.FilterConfig
	logger     *zerolog.Logger
}

// New creates a Filter.
func New(classifier llm.Classifier, cfg types.FilterConfig, logger *zerolog.Logger) *Filter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	return &Filter{classifier: classifier, cfg: cfg, logger: observability.OrNop(logger)}
}

// Run filters papers for drug. Papers already decided in resume are not
// reclassified. A failed batch passes all of its papers. The returned
// papers are sorted by relevance then key.
func (f *Filter) Run(ctx context.Context, drug types.DrugContext, papers []types.Paper, resume *Checkpoint, onCheckpoint CheckpointFunc) (Result, error) {
	var res Result

	decisions := make(map[string]Decision, len(papers))
	if resume != nil {
		for k, d := range resume.Decisions {
			decisions[k] = d
		}
	}

	var pending []types.Paper
	byKey := make(map[string]types.Paper, len(papers))
	for _, p := range papers {
		key := p.Key()
		byKey[key] = p
		if _, done := decisions[key]; done {
			res.Resumed++
			continue
		}
		if !f.cfg.SkipKeywordGate && !p.HighTrust && !PassesKeywordGate(p) {
			decisions[key] = Decision{Include: false, Reason: "no clinical terms", Stage: StageKeyword}
			continue
		}
		pending = append(pending, p)
	}

	batches := chunk(pending, f.cfg.BatchSize)
	f.logger.Info().
		Str("drug", drug.Name).
		Int("papers", len(papers)).
		Int("pending", len(pending)).
		Int("batches", len(batches)).
		Int("resumed", res.Resumed).
		Msg("filtering")

	var (
		mu        sync.Mutex
		completed int
	)
	snapshot := func() Checkpoint {
		cp := Checkpoint{Decisions: make(map[string]Decision, len(decisions))}
		for k, d := range decisions {
			cp.Decisions[k] = d
		}
		return cp
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.MaxConcurrent)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			got, failed := f.classifyBatch(gctx, drug, batch, i)

			mu.Lock()
			defer mu.Unlock()
			for k, d := range got {
				decisions[k] = d
			}
			if failed {
				res.FailedBatches++
			}
			completed++
			if onCheckpoint != nil && f.cfg.CheckpointEvery > 0 && completed%f.cfg.CheckpointEvery == 0 {
				if err := onCheckpoint(context.WithoutCancel(gctx), snapshot()); err != nil {
					f.logger.Warn().Err(err).Int("batches", completed).Msg("checkpoint write failed")
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return res, err
	}
	if onCheckpoint != nil {
		if err := onCheckpoint(context.WithoutCancel(ctx), snapshot()); err != nil {
			f.logger.Warn().Err(err).Msg("final checkpoint write failed")
		}
	}

	for key, p := range byKey {
		d, ok := decisions[key]
		if !ok {
			continue
		}
		observability.FilterDecisions.WithLabelValues(outcome(d)).Inc()
		if !d.Include {
			if d.Stage == StageKeyword {
				res.KeywordDropped++
			} else {
				res.Excluded++
			}
			continue
		}
		applyDecision(&p, d)
		res.Papers = append(res.Papers, p)
	}
	search.SortByRelevance(res.Papers)
	return res, nil
}

// classifyBatch classifies one batch. On failure every paper in the batch
// passes and failed is true. Papers the classifier skipped also pass.
func (f *Filter) classifyBatch(ctx context.Context, drug types.DrugContext, batch []types.Paper, n int) (map[string]Decision, bool) {
	items := make([]llm.ClassifyItem, len(batch))
	for i, p := range batch {
		items[i] = llm.ClassifyItem{Key: p.Key(), Title: p.Title, Abstract: p.Abstract}
	}

	callCtx := ctx
	if f.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, f.cfg.CallTimeout)
		defer cancel()
	}

	out := make(map[string]Decision, len(batch))
	got, err := f.classifier.ClassifyBatch(callCtx, llm.ClassifyRequest{
		Drug:       drug,
		Items:      items,
		Exclusions: drug.ApprovedIndications,
	})
	if err != nil {
		f.logger.Warn().Err(err).Int("batch", n).Int("size", len(batch)).Msg("classification failed, passing batch")
		for _, it := range items {
			out[it.Key] = Decision{Include: true, Reason: fmt.Sprintf("classification failed: %v", err), Stage: StageFailOpen}
		}
		return out, true
	}

	for _, d := range got {
		out[d.Key] = Decision{
			Include:          d.Include,
			Reason:           d.Reason,
			Stage:            StageClassifier,
			Score:            d.Score,
			DiseaseHint:      d.DiseaseHint,
			PatientCountHint: d.PatientCountHint,
		}
	}
	for _, it := range items {
		if _, ok := out[it.Key]; !ok {
			out[it.Key] = Decision{Include: true, Reason: "no decision returned", Stage: StageFailOpen}
		}
	}
	return out, false
}

// applyDecision copies the classifier's relevance, reason and hints onto p.
func applyDecision(p *types.Paper, d Decision) {
	if d.Reason != "" {
		p.RelevanceReason = d.Reason
	}
	if d.Stage != StageClassifier {
		return
	}
	p.RelevanceScore = d.Score
	if p.DiseaseHint == "" {
		p.DiseaseHint = d.DiseaseHint
	}
	if p.PatientCountHint == nil && d.PatientCountHint != nil {
		n := *d.PatientCountHint
		p.PatientCountHint = &n
	}
}

// PassesKeywordGate reports whether p's title or abstract looks clinical.
func PassesKeywordGate(p types.Paper) bool {
	text := strings.ToLower(p.Title + " " + p.Abstract)
	clinical := false
	for _, t := range clinicalTerms {
		if strings.Contains(text, t) {
			clinical = true
			break
		}
	}
	if !clinical {
		return false
	}
	// Bench-only work mentions non-clinical models without patients.
	if !strings.Contains(text, "patient") {
		for _, t := range nonClinicalTerms {
			if strings.Contains(text, t) {
				return false
			}
		}
	}
	return true
}

func outcome(d Decision) string {
	switch {
	case d.Stage == StageFailOpen:
		return "fail_open"
	case d.Include:
		return "included"
	case d.Stage == StageKeyword:
		return "keyword_dropped"
	default:
		return "excluded"
	}
}

func chunk(papers []types.Paper, size int) [][]types.Paper {
	var out [][]types.Paper
	for i := 0; i < len(papers); i += size {
		end := i + size
		if end > len(papers) {
			end = len(papers)
		}
		out = append(out, papers[i:end])
	}
	return out
}
