// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/repurpose-engine/internal/store"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export persisted runs and their ranked opportunities",
	Long: `Report reads a completed run from the data directory and writes its
counters and ranked opportunities as YAML or JSON. Select the run with
--run, or the latest run of a drug with --drug. Use --list to show runs.`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().String("run", "", "run ID to export")
	reportCmd.Flags().String("drug", "", "export the latest run for this drug")
	reportCmd.Flags().String("format", "yaml", "export format: yaml or json")
	reportCmd.Flags().Bool("list", false, "list runs instead of exporting")

	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	runID, _ := cmd.Flags().GetString("run")
	drug, _ := cmd.Flags().GetString("drug")
	format, _ := cmd.Flags().GetString("format")
	list, _ := cmd.Flags().GetBool("list")

	st, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()
	ctx := cmd.Context()

	if list {
		runs, err := st.ListRuns(ctx, drug)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs found.")
			return nil
		}
		fmt.Fprintf(os.Stdout, "%-36s  %-16s  %-9s  %-20s  %-5s  %-5s  %s\n",
			"Run", "Drug", "Status", "Started", "Found", "Extr", "Opps")
		fmt.Fprintln(os.Stdout, strings.Repeat("-", 110))
		for _, r := range runs {
			fmt.Fprintf(os.Stdout, "%-36s  %-16s  %-9s  %-20s  %-5d  %-5d  %d\n",
				r.ID, r.Drug, r.Status, r.StartedAt.Format("2006-01-02 15:04:05"),
				r.PapersFound, r.PapersExtracted, r.Opportunities)
		}
		return nil
	}

	if runID == "" {
		if drug == "" {
			return fmt.Errorf("provide --run or --drug")
		}
		run, err := st.LatestRun(ctx, drug)
		if err != nil {
			return err
		}
		runID = run.ID
	}

	switch format {
	case "yaml", "":
		return st.ExportYAML(ctx, runID, os.Stdout)
	case "json":
		return st.ExportJSON(ctx, runID, os.Stdout)
	default:
		return fmt.Errorf("unsupported format %q: use yaml or json", format)
	}
}
