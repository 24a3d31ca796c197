// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline runs one drug through search, relevance filtering,
// extraction, disease standardization, scoring, aggregation and ranking,
// persisting run state and results as it goes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/repurpose-engine/internal/aggregate"
	"github.com/pdiddy/repurpose-engine/internal/disease"
	"github.com/pdiddy/repurpose-engine/internal/extract"
	"github.com/pdiddy/repurpose-engine/internal/filter"
	"github.com/pdiddy/repurpose-engine/internal/llm"
	"github.com/pdiddy/repurpose-engine/internal/observability"
	"github.com/pdiddy/repurpose-engine/internal/ranking"
	"github.com/pdiddy/repurpose-engine/internal/scoring"
	"github.com/pdiddy/repurpose-engine/internal/search"
	"github.com/pdiddy/repurpose-engine/internal/store"
	"github.com/pdiddy/repurpose-engine/pkg/types"
)

// ErrRunNotCompleted is returned when the final run-complete write fails.
// The accompanying Result is still valid.
var ErrRunNotCompleted = errors.New("run not marked complete")

// Stage names used in logs and metrics.
const (
	StageSearch      = "search"
	StageFilter      = "filter"
	StageFullText    = "fulltext"
	StageExtract     = "extract"
	StageStandardize = "standardize"
	StageScore       = "score"
	StageRank        = "rank"
)

// Store is the persistence the pipeline writes through.
type Store interface {
	extract.Cache
	disease.MappingStore

	CreateRun(ctx context.Context, drug string) (types.Run, error)
	UpdateRun(ctx context.Context, run types.Run) error
	CompleteRun(ctx context.Context, run types.Run) (types.Run, error)
	FailRun(ctx context.Context, run types.Run, cause error) error

	UpsertOpportunity(ctx context.Context, runID string, o *types.Opportunity) (bool, error)
	DeleteExtractions(ctx context.Context, drug string, paperKeys []string) (int, error)

	SaveCheckpoint(ctx context.Context, drug string, cp filter.Checkpoint) error
	LoadCheckpoint(ctx context.Context, drug string) (*filter.Checkpoint, error)
	ClearCheckpoint(ctx context.Context, drug string) error
}

var _ Store = (*store.Store)(nil)

// FullTextFetcher returns the open body text of a paper.
type FullTextFetcher interface {
	Fetch(ctx context.Context, p types.Paper) (string, error)
}

// Deps are the collaborators of a Pipeline. Capability is required.
// A nil Store runs in memory only; nil Taxonomy and Markets load the
// configured or built-in data.
type Deps struct {
	Backends   []search.Backend
	Capability llm.Capability
	Store      Store
	FullText   FullTextFetcher
	Taxonomy   *disease.Taxonomy
	Markets    *ranking.MarketBook
}

// RunOptions adjusts a single run.
type RunOptions struct {
	// Snapshot replaces the search stage with previously saved results.
	Snapshot *search.Output

	// Refresh deletes cached extractions for the filtered papers and
	// extracts them again.
	Refresh bool
}

// Result is the best-effort outcome of one drug run.
type Result struct {
	Run    types.Run
	Drug   types.DrugContext
	Search search.Output
	Filter filter.Result

	Extraction  extract.Summary
	Extractions []*types.Extraction

	Aggregates    []types.AggregateScore
	Groups        []disease.Group
	Opportunities []*types.Opportunity
	Review        []types.ReviewItem

	// Flagged lists extractions left out of scoring, each with the reason.
	Flagged []types.ReviewItem
}

// Reasons an extraction is left out of scoring.
const (
	ReasonTooBroad    = "disease label too broad"
	ReasonNoDisease   = "no disease named"
	ReasonNotRelevant = "not relevant to the drug"
	ReasonOnLabel     = "on-label use"
	ReasonApproved    = "approved indication"
)

func exclusionReason(e *types.Extraction) string {
	switch {
	case !e.IsRelevant:
		return ReasonNotRelevant
	case e.DiseaseTooBroad:
		return ReasonTooBroad
	case strings.TrimSpace(e.Disease) == "":
		return ReasonNoDisease
	case !e.IsOffLabel:
		return ReasonOnLabel
	}
	return ""
}

func flag(e *types.Extraction, reason string) types.ReviewItem {
	return types.ReviewItem{
		PaperKey:  e.PaperKey,
		Title:     e.Title,
		Disease:   e.Disease,
		NPatients: e.Patients(),
		Reason:    reason,
	}
}

// Pipeline analyzes drugs. A Pipeline holds no per-drug state between
// runs except through its Store.
type Pipeline struct {
	deps    Deps
	cfg     types.PipelineConfig
	orch    *extract.Orchestrator
	engine  *ranking.Engine
	filter  *filter.Filter
	mapping disease.MappingStore
	logger  *zerolog.Logger
}

// New validates the configuration and wires the stages. Missing
// capability and invalid ranking weights are reported here.
func New(deps Deps, cfg types.PipelineConfig, logger *zerolog.Logger) (*Pipeline, error) {
	logger = observability.OrNop(logger)
	if deps.Capability == nil {
		return nil, llm.ErrNoCapability
	}

	engine, err := ranking.NewEngine(ranking.WeightsFromConfig(cfg.Scoring))
	if err != nil {
		return nil, err
	}

	if deps.Taxonomy == nil {
		if deps.Taxonomy, err = disease.LoadTaxonomy(cfg.Scoring.TaxonomyPath); err != nil {
			return nil, fmt.Errorf("loading taxonomy: %w", err)
		}
	}
	if deps.Markets == nil {
		if deps.Markets, err = ranking.LoadMarketBook(cfg.Scoring.MarketDataPath); err != nil {
			return nil, fmt.Errorf("loading market data: %w", err)
		}
	}

	var (
		cache   extract.Cache        = extract.NewMemoryCache()
		mapping disease.MappingStore = disease.NewMemoryMappings()
	)
	if deps.Store != nil {
		cache, mapping = deps.Store, deps.Store
	}

	orch, err := extract.NewOrchestrator(deps.Capability, cache, cfg.Extraction, logger)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		deps:    deps,
		cfg:     cfg,
		orch:    orch,
		engine:  engine,
		filter:  filter.New(deps.Capability, cfg.Filter, logger),
		mapping: mapping,
		logger:  logger,
	}, nil
}

// Run analyzes one drug. It always returns a Result holding whatever was
// completed. Failures of individual sources, batches or papers are
// absorbed; a failed search setup or cancellation fails the run. When
// every stage succeeds but the run cannot be marked complete, Run
// returns the Result with ErrRunNotCompleted.
func (p *Pipeline) Run(ctx context.Context, drug types.DrugContext, opts RunOptions) (*Result, error) {
	log := p.logger.With().Str("drug", drug.Name).Logger()
	res := &Result{Drug: drug, Run: types.Run{Drug: drug.Name, Status: types.RunRunning}}
	if p.deps.Store != nil {
		run, err := p.deps.Store.CreateRun(ctx, drug.Name)
		if err != nil {
			p.storeError(&log, "create_run", err)
		} else {
			res.Run = run
		}
	}
	log = log.With().Str("run", res.Run.ID).Logger()

	if err := p.run(ctx, drug, opts, res, &log); err != nil {
		observability.RunsCompleted.WithLabelValues(string(types.RunFailed)).Inc()
		res.Run.Status = types.RunFailed
		res.Run.Error = err.Error()
		if p.deps.Store != nil && res.Run.ID != "" {
			if ferr := p.deps.Store.FailRun(context.WithoutCancel(ctx), res.Run, err); ferr != nil {
				p.storeError(&log, "fail_run", ferr)
			}
		}
		log.Error().Err(err).Msg("run failed")
		return res, err
	}

	if p.deps.Store != nil {
		run, err := p.deps.Store.CompleteRun(context.WithoutCancel(ctx), res.Run)
		if err != nil {
			observability.RunsCompleted.WithLabelValues("incomplete").Inc()
			log.Error().Err(err).Msg("could not mark run complete")
			return res, fmt.Errorf("%w: %w", ErrRunNotCompleted, err)
		}
		res.Run = run
	} else {
		res.Run.Status = types.RunCompleted
		res.Run.FinishedAt = time.Now().UTC()
	}
	observability.RunsCompleted.WithLabelValues(string(types.RunCompleted)).Inc()

	log.Info().
		Int("found", res.Run.PapersFound).
		Int("filtered", res.Run.PapersFiltered).
		Int("extracted", res.Run.PapersExtracted).
		Int("skipped", res.Run.PapersSkipped).
		Int("opportunities", res.Run.Opportunities).
		Msg("run complete")
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, drug types.DrugContext, opts RunOptions, res *Result, log *zerolog.Logger) error {
	// Search.
	done := stageTimer(StageSearch)
	if opts.Snapshot != nil {
		res.Search = *opts.Snapshot
		log.Info().Int("papers", len(res.Search.Papers)).Msg("using saved discovery snapshot")
	} else {
		out, err := search.Search(ctx, search.NewQuery(drug), p.deps.Backends, p.cfg.Search, log)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		res.Search = out
	}
	done()
	res.Run.PapersFound = len(res.Search.Papers)
	p.updateRun(ctx, log, res.Run)

	// Relevance filter, resuming from a saved checkpoint.
	done = stageTimer(StageFilter)
	resume := p.loadCheckpoint(ctx, drug.Name, log)
	fres, err := p.filter.Run(ctx, drug, res.Search.Papers, resume, p.saveCheckpoint(drug.Name))
	res.Filter = fres
	if err != nil {
		return fmt.Errorf("filter: %w", err)
	}
	done()
	if p.deps.Store != nil {
		if err := p.deps.Store.ClearCheckpoint(ctx, drug.Name); err != nil {
			p.storeError(log, "clear_checkpoint", err)
		}
	}
	papers := fres.Papers
	res.Run.PapersFiltered = len(papers)
	p.updateRun(ctx, log, res.Run)

	// Full text.
	if p.deps.FullText != nil {
		done = stageTimer(StageFullText)
		papers = p.fetchFullText(ctx, papers, log)
		done()
	}

	// Extraction.
	done = stageTimer(StageExtract)
	if opts.Refresh && p.deps.Store != nil {
		keys := make([]string, len(papers))
		for i, pp := range papers {
			keys[i] = pp.Key()
		}
		n, err := p.deps.Store.DeleteExtractions(ctx, drug.Name, keys)
		if err != nil {
			p.storeError(log, "delete_extractions", err)
		}
		log.Info().Int("deleted", n).Msg("cleared cached extractions")
	}
	results, summary := p.orch.ExtractAll(ctx, papers, drug, !opts.Refresh, func(cctx context.Context, r extract.Result) error {
		if r.Err != nil {
			res.Run.PapersSkipped++
		} else {
			res.Run.PapersExtracted++
		}
		p.updateRun(cctx, log, res.Run)
		return nil
	})
	done()
	res.Extraction = summary
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	// Standardization and relevance.
	done = stageTimer(StageStandardize)
	std := disease.NewStandardizer(p.deps.Taxonomy, p.mapping, p.deps.Capability, log)
	approved := make(map[string]bool, len(drug.ApprovedIndications))
	for _, ind := range drug.ApprovedIndications {
		approved[std.Standardize(ctx, ind).Canonical] = true
	}
	var resolutions []disease.Resolution
	parents := make(map[string]string)
	for _, r := range results {
		e := r.Extraction
		if e == nil {
			continue
		}
		if reason := exclusionReason(e); reason != "" {
			res.Flagged = append(res.Flagged, flag(e, reason))
			continue
		}
		resolution := std.Apply(ctx, e)
		if approved[e.Disease] {
			res.Flagged = append(res.Flagged, flag(e, ReasonApproved))
			continue
		}
		resolutions = append(resolutions, resolution)
		if _, ok := parents[resolution.Canonical]; !ok {
			parents[resolution.Canonical] = resolution.Parent
		}
		res.Extractions = append(res.Extractions, e)
	}
	res.Groups = disease.GroupByParent(resolutions)
	for _, f := range res.Flagged {
		observability.ExtractionsExcluded.WithLabelValues(f.Reason).Inc()
		ev := log.Debug()
		if f.Reason == ReasonTooBroad {
			ev = log.Info()
		}
		ev.Str("paper", f.PaperKey).Str("disease", f.Disease).Str("reason", f.Reason).Msg("extraction excluded from ranking")
	}
	done()

	// Per-study scores and cross-study aggregates.
	done = stageTimer(StageScore)
	scoring.ScoreAll(res.Extractions)
	res.Aggregates = aggregate.AggregateAll(res.Extractions)
	done()

	// Opportunities.
	done = stageTimer(StageRank)
	res.Opportunities = p.opportunities(drug, res.Extractions, res.Aggregates, parents)
	if p.deps.Store != nil && res.Run.ID != "" {
		for _, o := range res.Opportunities {
			if _, err := p.deps.Store.UpsertOpportunity(ctx, res.Run.ID, o); err != nil {
				p.storeError(log, "upsert_opportunity", err)
			}
		}
	}
	done()
	res.Run.Opportunities = len(res.Opportunities)
	res.Review = ReviewList(res.Extractions)
	return nil
}

// opportunities builds one scored opportunity per extraction, keeps the
// best per disease and ranks them.
// parents maps each canonical disease to the parent its resolution chose.
func (p *Pipeline) opportunities(drug types.DrugContext, es []*types.Extraction, aggs []types.AggregateScore, parents map[string]string) []*types.Opportunity {
	byDisease := make(map[string]*types.AggregateScore, len(aggs))
	for i := range aggs {
		byDisease[aggs[i].Disease] = &aggs[i]
	}

	best := make(map[string]*types.Opportunity)
	for _, e := range es {
		parent := parents[e.Disease]
		if parent == "" {
			parent = e.Disease
		}
		o := &types.Opportunity{
			Drug:       drug.Name,
			Disease:    e.Disease,
			Parent:     parent,
			Extraction: e,
			Aggregate:  byDisease[e.Disease],
			Market:     p.deps.Markets.Lookup(e.Disease, parent),
		}
		s := p.engine.Score(o)
		o.Score = &s

		cur, ok := best[e.Disease]
		if !ok || s.OverallPriority > cur.Score.OverallPriority ||
			(s.OverallPriority == cur.Score.OverallPriority && e.PaperKey < cur.Extraction.PaperKey) {
			best[e.Disease] = o
		}
	}

	out := make([]*types.Opportunity, 0, len(best))
	for _, o := range best {
		out = append(out, o)
	}
	return p.engine.Rank(out)
}

// ReviewList returns the abstract-only extractions that need manual
// review, largest population first, then by paper key.
func ReviewList(es []*types.Extraction) []types.ReviewItem {
	var items []types.ReviewItem
	for _, e := range es {
		if e.HasFullText {
			continue
		}
		items = append(items, types.ReviewItem{
			PaperKey:  e.PaperKey,
			Title:     e.Title,
			Disease:   e.Disease,
			NPatients: e.Patients(),
			Reason:    "extracted from abstract only",
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].NPatients != items[j].NPatients {
			return items[i].NPatients > items[j].NPatients
		}
		return items[i].PaperKey < items[j].PaperKey
	})
	return items
}

// fetchFullText fills FullText for papers flagged as having it. Fetch
// failures leave the paper abstract-only.
func (p *Pipeline) fetchFullText(ctx context.Context, papers []types.Paper, log *zerolog.Logger) []types.Paper {
	out := make([]types.Paper, len(papers))
	copy(out, papers)

	limit := p.cfg.Extraction.MaxConcurrent
	if limit <= 0 {
		limit = 4
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i := range out {
		i := i
		if !out[i].HasFullText || out[i].FullText != "" {
			continue
		}
		g.Go(func() error {
			text, err := p.deps.FullText.Fetch(ctx, out[i])
			if err != nil {
				log.Debug().Err(err).Str("paper", out[i].Key()).Msg("full text unavailable")
				return nil
			}
			out[i].FullText = text
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (p *Pipeline) loadCheckpoint(ctx context.Context, drug string, log *zerolog.Logger) *filter.Checkpoint {
	if p.deps.Store == nil {
		return nil
	}
	cp, err := p.deps.Store.LoadCheckpoint(ctx, drug)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.storeError(log, "load_checkpoint", err)
		}
		return nil
	}
	log.Info().Int("decisions", len(cp.Decisions)).Msg("resuming filter from checkpoint")
	return cp
}

func (p *Pipeline) saveCheckpoint(drug string) filter.CheckpointFunc {
	if p.deps.Store == nil {
		return nil
	}
	return func(ctx context.Context, cp filter.Checkpoint) error {
		return p.deps.Store.SaveCheckpoint(ctx, drug, cp)
	}
}

func (p *Pipeline) updateRun(ctx context.Context, log *zerolog.Logger, run types.Run) {
	if p.deps.Store == nil || run.ID == "" {
		return
	}
	if err := p.deps.Store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		p.storeError(log, "update_run", err)
	}
}

func (p *Pipeline) storeError(log *zerolog.Logger, op string, err error) {
	observability.StoreErrors.WithLabelValues(op).Inc()
	log.Warn().Err(err).Str("op", op).Msg("store write failed")
}

func stageTimer(stage string) func() {
	start := time.Now()
	return func() {
		observability.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}
