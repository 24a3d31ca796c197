// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/repurpose-engine/internal/llm"
	"github.com/pdiddy/repurpose-engine/internal/pipeline"
	"github.com/pdiddy/repurpose-engine/internal/search"
	"github.com/pdiddy/repurpose-engine/internal/store"
	"github.com/pdiddy/repurpose-engine/pkg/types"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <drug> [drug...]",
	Short: "Run the full repurposing pipeline for one or more drugs",
	Long: `Analyze searches, filters, extracts, standardizes, scores and ranks
repurposing opportunities for each drug. Extractions are cached in the
data directory and reused on later runs; --refresh discards the cached
rows for the papers found and extracts them again.

Several drugs run in parallel, bounded by batch.max_concurrent_drugs.`,
	RunE: runAnalyze,
}

func init() {
	addDrugFlags(analyzeCmd)
	analyzeCmd.Flags().String("from-snapshot", "", "reuse a discovery snapshot instead of searching")
	analyzeCmd.Flags().Bool("refresh", false, "re-extract papers even when cached")
	analyzeCmd.Flags().Bool("no-fulltext", false, "skip fetching open full text")
	analyzeCmd.Flags().Int("concurrency", 0, "drugs analyzed in parallel (default from config)")
	analyzeCmd.Flags().Bool("json", false, "output results as JSON")

	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if err := requireDrug(args); err != nil {
		return err
	}

	var opts pipeline.RunOptions
	opts.Refresh, _ = cmd.Flags().GetBool("refresh")
	if path, _ := cmd.Flags().GetString("from-snapshot"); path != "" {
		if len(args) > 1 {
			return fmt.Errorf("--from-snapshot applies to a single drug")
		}
		snap, err := search.ReadSnapshot(path)
		if err != nil {
			return err
		}
		out := snap.Output()
		opts.Snapshot = &out
	}

	st, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()
	noFullText, _ := cmd.Flags().GetBool("no-fulltext")

	jsonOutput, _ := cmd.Flags().GetBool("json")
	emit := func(res *pipeline.Result) error {
		if jsonOutput {
			return pipeline.FormatJSON(res, os.Stdout)
		}
		pipeline.FormatTable(res, os.Stdout)
		fmt.Fprintf(os.Stdout, "\nrun %s\n", res.Run.ID)
		return nil
	}

	if len(args) == 1 {
		deps, err := newDeps(cfg, st, !noFullText)
		if err != nil {
			return err
		}
		p, err := pipeline.New(deps, cfg, &logger)
		if err != nil {
			return err
		}
		res, err := p.Run(cmd.Context(), drugFromFlags(cmd, args[0], true), opts)
		if res != nil {
			if perr := emit(res); perr != nil {
				return perr
			}
		}
		return err
	}

	limit, _ := cmd.Flags().GetInt("concurrency")
	if limit <= 0 {
		limit = cfg.Batch.MaxConcurrentDrugs
	}
	drugs := make([]types.DrugContext, len(args))
	for i, name := range args {
		drugs[i] = drugFromFlags(cmd, name, false)
	}
	factory := func(drug types.DrugContext) (*pipeline.Pipeline, error) {
		deps, err := newDeps(cfg, st, !noFullText)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", drug.Name, err)
		}
		l := logger.With().Str("drug", drug.Name).Logger()
		return pipeline.New(deps, cfg, &l)
	}
	results, err := pipeline.RunDrugs(cmd.Context(), factory, drugs, opts, limit)
	for _, r := range results {
		if r.Result == nil {
			continue
		}
		if perr := emit(r.Result); perr != nil {
			return errors.Join(perr, err)
		}
		fmt.Fprintln(os.Stdout)
	}
	return err
}

// newDeps builds the per-run collaborators. Each call gets its own
// capability, HTTP client and backends; only the store is shared.
func newDeps(c types.PipelineConfig, st pipeline.Store, fullText bool) (pipeline.Deps, error) {
	capability, err := llm.New(c.AI, c.Extraction.MaxRetries)
	if err != nil {
		return pipeline.Deps{}, err
	}
	client := &http.Client{Timeout: c.Search.Timeout}
	deps := pipeline.Deps{
		Backends:   search.Backends(c.Search, client),
		Capability: capability,
		Store:      st,
	}
	if fullText {
		deps.FullText = &search.FullTextFetcher{Client: client, UserAgent: c.Search.UserAgent}
	}
	return deps, nil
}
