// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/pdiddy/repurpose-engine/internal/search"
	"github.com/pdiddy/repurpose-engine/pkg/types"
)

// addDrugFlags registers the flags describing a drug on cmd.
func addDrugFlags(cmd *cobra.Command) {
	cmd.Flags().String("synonym", "", "alternate or brand name of the drug")
	cmd.Flags().StringSlice("approved", nil, "approved indications to exclude (comma-separated)")
	cmd.Flags().String("mechanism", "", "mechanism of action passed to extraction")
	cmd.Flags().StringSlice("review-seed", nil, "DOI or PMID of a review whose references are mined")
}

// drugFromFlags builds the DrugContext for name. The descriptive flags
// apply only when a single drug is analyzed.
func drugFromFlags(cmd *cobra.Command, name string, single bool) types.DrugContext {
	drug := types.DrugContext{Name: name}
	if !single {
		return drug
	}
	drug.Synonym, _ = cmd.Flags().GetString("synonym")
	drug.ApprovedIndications, _ = cmd.Flags().GetStringSlice("approved")
	drug.Mechanism, _ = cmd.Flags().GetString("mechanism")
	drug.ReviewSeeds, _ = cmd.Flags().GetStringSlice("review-seed")
	return drug
}

func requireDrug(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("provide at least one drug name")
	}
	return nil
}

func httpClient() *http.Client {
	return &http.Client{Timeout: cfg.Search.Timeout}
}

func backends() []search.Backend {
	return search.Backends(cfg.Search, httpClient())
}
