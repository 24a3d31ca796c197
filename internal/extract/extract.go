// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package extract turns filtered papers into structured Extractions.
// Each paper goes through one capability call (abstract) or a three-stage
// protocol (full text), then through deterministic fixups that are
// reapplied on every read so cached records pick up normalization changes.
package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/pdiddy/repurpose-engine/internal/llm"
	"github.com/pdiddy/repurpose-engine/internal/observability"
	"github.com/pdiddy/repurpose-engine/pkg/types"
)

// Cache stores raw extractions keyed by (drug, paper key). Stored
// records are never mutated; callers clone before applying fixups.
type Cache interface {
	Get(ctx context.Context, drug, paperKey string) (*types.Extraction, bool, error)
	Put(ctx context.Context, drug, paperKey string, e *types.Extraction) error
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*types.Extraction
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*types.Extraction)}
}

func (c *MemoryCache) Get(_ context.Context, drug, paperKey string) (*types.Extraction, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[drug+"|"+paperKey]
	return e.Clone(), ok, nil
}

func (c *MemoryCache) Put(_ context.Context, drug, paperKey string, e *types.Extraction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[drug+"|"+paperKey] = e.Clone()
	return nil
}

// Len returns the number of cached records.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Result is the per-item outcome of ExtractAll. Exactly one of
// Extraction and Err is set.
type Result struct {
	Paper      types.Paper
	Extraction *types.Extraction
	Err        error
	FromCache  bool
}

// CompletionFunc is called once per item as soon as it finishes. Calls
// are serialized and receive a context that is not cancelled with the run,
// so an in-flight write always completes.
type CompletionFunc func(ctx context.Context, r Result) error

// Summary holds counts from an ExtractAll run.
type Summary struct {
	Extracted int
	Cached    int
	Failed    int
}

// Total returns the number of papers processed.
func (s Summary) Total() int {
	return s.Extracted + s.Cached + s.Failed
}

// HasFailures reports whether any papers failed.
func (s Summary) HasFailures() bool {
	return s.Failed > 0
}

// Orchestrator runs extractions against one capability with bounded
// concurrency and a fixed delay between successive calls.
type Orchestrator struct {
	extractor llm.Extractor
	cache     Cache
	cfg       types.ExtractionConfig
	limiter   *rate.Limiter
	logger    *zerolog.Logger
}

// NewOrchestrator creates an Orchestrator. A nil extractor is a
// configuration error; a nil cache selects a MemoryCache.
func NewOrchestrator(extractor llm.Extractor, cache Cache, cfg types.ExtractionConfig, logger *zerolog.Logger) (*Orchestrator, error) {
	if extractor == nil {
		return nil, llm.ErrNoCapability
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Reconcile.RatioThreshold <= 0 {
		cfg.Reconcile.RatioThreshold = 10
	}
	if cfg.Reconcile.SmallValueCeiling <= 0 {
		cfg.Reconcile.SmallValueCeiling = 10
	}
	limit := rate.Inf
	if cfg.InterCallDelay > 0 {
		limit = rate.Every(cfg.InterCallDelay)
	}
	return &Orchestrator{
		extractor: extractor,
		cache:     cache,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    observability.OrNop(logger),
	}, nil
}

// Extract returns the fixed-up Extraction for p. With useCache a cached
// record is returned without calling the capability; fixups run on both
// paths. Fresh results always replace the cached record.
func (o *Orchestrator) Extract(ctx context.Context, p types.Paper, drug types.DrugContext, useCache bool) (*types.Extraction, bool, error) {
	key := p.Key()
	if useCache {
		cached, ok, err := o.cache.Get(ctx, drug.Name, key)
		switch {
		case err != nil:
			observability.StoreErrors.WithLabelValues("cache_get").Inc()
			o.logger.Warn().Err(err).Str("paper", key).Msg("cache read failed, extracting")
		case ok:
			e := cached.Clone()
			ApplyFixups(e, p, o.cfg.Reconcile, o.logger)
			return e, true, nil
		}
	}

	raw, err := o.extractRaw(ctx, p, drug)
	if err != nil {
		return nil, false, err
	}
	if err := o.cache.Put(ctx, drug.Name, key, raw); err != nil {
		observability.StoreErrors.WithLabelValues("cache_put").Inc()
		o.logger.Warn().Err(err).Str("paper", key).Msg("cache write failed")
	}

	e := raw.Clone()
	ApplyFixups(e, p, o.cfg.Reconcile, o.logger)
	return e, false, nil
}

// ExtractAll extracts every paper with at most MaxConcurrent in flight.
// Results are returned in input order. onComplete, when set, fires once
// per paper including failures.
func (o *Orchestrator) ExtractAll(ctx context.Context, papers []types.Paper, drug types.DrugContext, useCache bool, onComplete CompletionFunc) ([]Result, Summary) {
	results := make([]Result, len(papers))
	sem := semaphore.NewWeighted(int64(o.cfg.MaxConcurrent))

	var (
		mu      sync.Mutex
		summary Summary
		wg      sync.WaitGroup
	)
	finish := func(i int, r Result) {
		mu.Lock()
		defer mu.Unlock()
		results[i] = r
		switch {
		case r.Err != nil:
			summary.Failed++
			observability.ExtractionResults.WithLabelValues("failed").Inc()
			o.logger.Warn().Err(r.Err).Str("paper", r.Paper.Key()).Msg("extraction failed")
		case r.FromCache:
			summary.Cached++
			observability.ExtractionResults.WithLabelValues("cache_hit").Inc()
		default:
			summary.Extracted++
			observability.ExtractionResults.WithLabelValues("extracted").Inc()
		}
		if onComplete != nil {
			if err := onComplete(context.WithoutCancel(ctx), r); err != nil {
				o.logger.Warn().Err(err).Str("paper", r.Paper.Key()).Msg("completion callback failed")
			}
		}
	}

	for i, p := range papers {
		i, p := i, p
		if err := sem.Acquire(ctx, 1); err != nil {
			finish(i, Result{Paper: p, Err: err})
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			e, hit, err := o.Extract(ctx, p, drug, useCache)
			finish(i, Result{Paper: p, Extraction: e, Err: err, FromCache: hit})
		}()
	}
	wg.Wait()

	o.logger.Info().
		Str("drug", drug.Name).
		Int("extracted", summary.Extracted).
		Int("cached", summary.Cached).
		Int("failed", summary.Failed).
		Msg("extraction complete")
	return results, summary
}

// extractRaw produces the unfixed record for p.
func (o *Orchestrator) extractRaw(ctx context.Context, p types.Paper, drug types.DrugContext) (*types.Extraction, error) {
	var (
		e   *types.Extraction
		err error
	)
	if p.HasFullText && p.FullText != "" && len(p.FullText) >= o.cfg.MinFullTextChars {
		e, err = o.multiStage(ctx, p, drug)
	} else {
		e, err = o.singlePass(ctx, p, drug)
	}
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", p.Key(), err)
	}

	e.PaperKey = p.Key()
	e.Drug = drug.Name
	e.Title = p.Title
	e.Year = p.Year
	e.Source = p.Source
	e.IsPreprint = p.IsPreprint
	if e.RawDisease == "" {
		e.RawDisease = e.Disease
	}
	e.EvidenceLevel = normalizeLevel(e.EvidenceLevel)
	return e, nil
}

// call waits for the throttle and issues one capability call under the
// per-call timeout.
func (o *Orchestrator) call(ctx context.Context, req llm.ExtractRequest, out any) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}
	if o.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.CallTimeout)
		defer cancel()
	}
	start := time.Now()
	raw, err := o.extractor.Extract(ctx, req)
	if err != nil {
		return err
	}
	if err := decode(raw, out); err != nil {
		return fmt.Errorf("%s: %w", req.Schema, err)
	}
	o.logger.Debug().
		Str("schema", string(req.Schema)).
		Str("title", req.Title).
		Dur("elapsed", time.Since(start)).
		Msg("capability call")
	return nil
}

var errAllStagesFailed = errors.New("all extraction stages failed")
