// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/repurpose-engine/internal/disease"
	"github.com/pdiddy/repurpose-engine/internal/llm"
	"github.com/pdiddy/repurpose-engine/internal/store"
)

var diseaseCmd = &cobra.Command{
	Use:   "disease <name> [name...]",
	Short: "Show how disease names are standardized",
	Long: `Disease resolves each name through the taxonomy, then the learned
mappings in the data directory, then (with --classify) the configured
model, and prints the canonical name, parent disease and resolving tier.`,
	RunE: runDisease,
}

func init() {
	diseaseCmd.Flags().Bool("classify", false, "ask the configured model about names the taxonomy does not know")
	diseaseCmd.Flags().Bool("list", false, "list the taxonomy instead of resolving names")

	rootCmd.AddCommand(diseaseCmd)
}

func runDisease(cmd *cobra.Command, args []string) error {
	tax, err := disease.LoadTaxonomy(cfg.Scoring.TaxonomyPath)
	if err != nil {
		return err
	}

	if list, _ := cmd.Flags().GetBool("list"); list {
		for _, e := range tax.Entries() {
			parent := e.Parent
			if parent == "" {
				parent = "-"
			}
			fmt.Fprintf(os.Stdout, "%-40s  %-40s  %s\n", e.Name, parent, e.Category)
		}
		fmt.Fprintf(os.Stdout, "\n%d diseases\n", tax.Len())
		return nil
	}
	if len(args) == 0 {
		return fmt.Errorf("provide at least one disease name, or --list")
	}

	st, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	var extractor llm.Extractor
	if classify, _ := cmd.Flags().GetBool("classify"); classify {
		c, err := llm.New(cfg.AI, cfg.Extraction.MaxRetries)
		if err != nil {
			return err
		}
		extractor = c
	}

	std := disease.NewStandardizer(tax, st, extractor, &logger)
	var resolutions []disease.Resolution
	fmt.Fprintf(os.Stdout, "%-36s  %-36s  %-36s  %s\n", "Name", "Canonical", "Parent", "Tier")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 125))
	for _, name := range args {
		r := std.Standardize(cmd.Context(), name)
		resolutions = append(resolutions, r)
		fmt.Fprintf(os.Stdout, "%-36s  %-36s  %-36s  %s\n", name, r.Canonical, r.Parent, r.Tier)
	}

	if len(resolutions) > 1 {
		fmt.Fprintln(os.Stdout)
		for _, g := range disease.GroupByParent(resolutions) {
			fmt.Fprintf(os.Stdout, "%s: %s\n", g.Parent, strings.Join(g.Children, ", "))
		}
	}
	return nil
}
