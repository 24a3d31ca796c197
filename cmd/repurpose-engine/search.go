// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/repurpose-engine/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search <drug>",
	Short: "Search literature sources for reports of off-label use",
	Long: `Search queries PubMed, Europe PMC preprints, Semantic Scholar, OpenAlex
and the reference lists of known reviews for clinical reports of a drug.
Results are deduplicated across sources and ordered by relevance.

Use --save to keep the results as a discovery snapshot that analyze can
reuse with --from-snapshot, and --csl to export them for reference managers.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	addDrugFlags(searchCmd)
	searchCmd.Flags().Int("max-results", 0, "maximum results per source (default from config)")
	searchCmd.Flags().Int("max-total", 0, "cap on deduplicated papers (0 = config value)")
	searchCmd.Flags().Int("from-year", 0, "only papers published in or after this year")
	searchCmd.Flags().String("save", "", "write a discovery snapshot YAML file")
	searchCmd.Flags().String("csl", "", "write CSL-YAML references to this file")
	searchCmd.Flags().Bool("json", false, "output results as JSON")

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if n, _ := cmd.Flags().GetInt("max-results"); n > 0 {
		cfg.Search.MaxResultsPerSource = n
	}
	if n, _ := cmd.Flags().GetInt("max-total"); n > 0 {
		cfg.Search.MaxTotalPapers = n
	}

	drug := drugFromFlags(cmd, args[0], true)
	query := search.NewQuery(drug)
	query.YearFrom, _ = cmd.Flags().GetInt("from-year")

	out, err := search.Search(cmd.Context(), query, backends(), cfg.Search, &logger)
	if err != nil {
		return err
	}

	if path, _ := cmd.Flags().GetString("save"); path != "" {
		if err := search.WriteSnapshot(path, query, out); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Saved snapshot to %s\n", path)
	}
	if path, _ := cmd.Flags().GetString("csl"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating CSL file: %w", err)
		}
		if err := search.FormatCSL(out, f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Wrote CSL references to %s\n", path)
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return search.FormatJSON(out, os.Stdout)
	}
	search.FormatTable(out, os.Stdout)
	return nil
}
