// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// FormatTable writes the ranked opportunities, the per-disease aggregates
// and the manual-review list as human-readable tables to w.
func FormatTable(res *Result, w io.Writer) {
	fmt.Fprintf(w, "%s: %d found, %d passed filter, %d extracted, %d skipped\n\n",
		res.Drug.Name, res.Run.PapersFound, res.Run.PapersFiltered, res.Run.PapersExtracted, res.Run.PapersSkipped)

	if len(res.Opportunities) == 0 {
		fmt.Fprintln(w, "No opportunities found.")
		return
	}

	fmt.Fprintf(w, "%-4s  %-36s  %-8s  %-8s  %-8s  %-8s  %-7s  %s\n",
		"Rank", "Disease", "Priority", "Clinical", "Evidence", "Market", "Studies", "Confidence")
	fmt.Fprintln(w, strings.Repeat("-", 110))
	for _, o := range res.Opportunities {
		studies, confidence := 1, ""
		if o.Aggregate != nil {
			studies, confidence = o.Aggregate.StudyCount, o.Aggregate.Confidence
		}
		fmt.Fprintf(w, "%-4d  %-36s  %-8.2f  %-8.2f  %-8.2f  %-8.2f  %-7d  %s\n",
			o.Rank, truncate(o.Disease, 36), o.Score.OverallPriority,
			o.Score.ClinicalSignal.Score, o.Score.EvidenceQuality.Score, o.Score.MarketOpportunity.Score,
			studies, confidence)
	}

	if len(res.Aggregates) > 0 {
		fmt.Fprintf(w, "\n%-36s  %-7s  %-8s  %-8s  %-12s  %s\n",
			"Disease", "Studies", "Patients", "Pooled%", "Consistency", "Confidence")
		fmt.Fprintln(w, strings.Repeat("-", 100))
		for _, a := range res.Aggregates {
			pooled := "-"
			if a.PooledResponsePct != nil {
				pooled = fmt.Sprintf("%.1f", *a.PooledResponsePct)
			}
			fmt.Fprintf(w, "%-36s  %-7d  %-8d  %-8s  %-12s  %s\n",
				truncate(a.Disease, 36), a.StudyCount, a.TotalPatients, pooled, a.Consistency, a.Confidence)
		}
	}

	if len(res.Review) > 0 {
		fmt.Fprintf(w, "\nNeeds manual review (abstract only):\n")
		for _, r := range res.Review {
			fmt.Fprintf(w, "  %-20s  n=%-4d  %s\n", r.PaperKey, r.NPatients, truncate(r.Title, 70))
		}
	}

	if len(res.Flagged) > 0 {
		fmt.Fprintf(w, "\nExcluded from ranking:\n")
		for _, r := range res.Flagged {
			fmt.Fprintf(w, "  %-20s  %-24s  %s\n", r.PaperKey, r.Reason, truncate(r.Title, 60))
		}
	}
}

// FormatJSON writes the opportunities, aggregates and review list as
// indented JSON to w.
func FormatJSON(res *Result, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Run           any `json:"run"`
		Opportunities any `json:"opportunities"`
		Aggregates    any `json:"aggregates"`
		Review        any `json:"manual_review"`
		Flagged       any `json:"excluded,omitempty"`
	}{res.Run, res.Opportunities, res.Aggregates, res.Review, res.Flagged})
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
