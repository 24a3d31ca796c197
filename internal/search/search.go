// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package search queries literature backends for a drug and returns a
// unified, deduplicated paper list.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/pdiddy/repurpose-engine/internal/observability"
	"github.com/pdiddy/repurpose-engine/pkg/types"
)

var (
	// ErrEmptyQuery is returned when the query names no drug.
	ErrEmptyQuery = errors.New("search query is empty: provide a drug name")

	// ErrNoBackends is returned when every backend is disabled.
	ErrNoBackends = errors.New("no search backends configured")
)

// Backend searches a single literature API.
type Backend interface {
	Name() string
	Search(ctx context.Context, query Query, cfg types.SearchConfig) ([]types.Paper, error)
}

// defaultModifiers narrow a drug query to clinical off-label reports.
var defaultModifiers = []string{"case report", "case series", "off-label", "open-label", "retrospective"}

// Query holds the search parameters for one drug.
type Query struct {
	Drug      string
	Synonym   string
	Modifiers []string

	// ReviewSeeds are DOIs or PMIDs whose reference lists are mined.
	ReviewSeeds []string

	// YearFrom restricts results to papers published in or after this year.
	YearFrom int
}

// NewQuery builds a Query for drug with the default clinical modifiers.
func NewQuery(drug types.DrugContext) Query {
	return Query{
		Drug:        strings.TrimSpace(drug.Name),
		Synonym:     strings.TrimSpace(drug.Synonym),
		Modifiers:   defaultModifiers,
		ReviewSeeds: drug.ReviewSeeds,
	}
}

// IsEmpty reports whether the query names no drug.
func (q Query) IsEmpty() bool {
	return strings.TrimSpace(q.Drug) == "" && strings.TrimSpace(q.Synonym) == ""
}

// Terms returns the drug name and synonym.
func (q Query) Terms() []string {
	var terms []string
	if q.Drug != "" {
		terms = append(terms, q.Drug)
	}
	if q.Synonym != "" && !strings.EqualFold(q.Synonym, q.Drug) {
		terms = append(terms, q.Synonym)
	}
	return terms
}

// BooleanText renders the query as `(drug OR synonym) AND ("m1" OR "m2")`
// for backends that accept boolean syntax.
func (q Query) BooleanText() string {
	drug := "(" + strings.Join(quoteAll(q.Terms()), " OR ") + ")"
	if len(q.Modifiers) == 0 {
		return drug
	}
	return drug + " AND (" + strings.Join(quoteAll(q.Modifiers), " OR ") + ")"
}

// PlainText renders the query as space-separated keywords for backends
// without boolean syntax.
func (q Query) PlainText() string {
	parts := q.Terms()
	if len(q.Modifiers) > 0 {
		parts = append(parts, q.Modifiers[0])
	}
	return strings.Join(parts, " ")
}

func quoteAll(terms []string) []string {
	out := make([]string, len(terms))
	for i, t := range terms {
		if strings.ContainsRune(t, ' ') {
			out[i] = `"` + t + `"`
		} else {
			out[i] = t
		}
	}
	return out
}

// Output holds the deduplicated papers and search statistics.
type Output struct {
	Papers      []types.Paper `json:"papers" yaml:"papers"`
	DupsRemoved int           `json:"duplicates_removed" yaml:"duplicates_removed"`

	// Sources lists backends that contributed at least one surviving paper.
	Sources       []string `json:"sources" yaml:"sources"`
	BackendErrors []string `json:"backend_errors,omitempty" yaml:"backend_errors,omitempty"`
}

// Search fans out the query to all backends concurrently, deduplicates
// the merged hits, orders them by relevance and applies the
// MaxTotalPapers cap. A failing backend contributes zero results.
func Search(ctx context.Context, query Query, backends []Backend, cfg types.SearchConfig, logger *zerolog.Logger) (Output, error) {
	logger = observability.OrNop(logger)
	if query.IsEmpty() {
		return Output{}, ErrEmptyQuery
	}
	if len(backends) == 0 {
		return Output{}, ErrNoBackends
	}

	type backendResult struct {
		papers []types.Paper
		err    error
	}

	// Results are collected per backend index so the merge order is the
	// backend order regardless of completion order.
	results := make([]backendResult, len(backends))
	var wg sync.WaitGroup
	for i, b := range backends {
		wg.Add(1)
		go func(i int, b Backend) {
			defer wg.Done()
			papers, err := b.Search(ctx, query, cfg)
			results[i] = backendResult{papers: papers, err: err}
		}(i, b)
	}
	wg.Wait()

	var all []types.Paper
	var backendErrors []string
	for i, br := range results {
		name := backends[i].Name()
		if br.err != nil {
			backendErrors = append(backendErrors, fmt.Sprintf("%s: %v", name, br.err))
			observability.SearchFailures.WithLabelValues(name).Inc()
			logger.Warn().Err(br.err).Str("backend", name).Msg("search backend failed")
			continue
		}
		observability.SearchResults.WithLabelValues(name).Add(float64(len(br.papers)))
		logger.Debug().Str("backend", name).Int("hits", len(br.papers)).Msg("search backend done")
		for _, p := range br.papers {
			if p.Source == "" {
				p.Source = name
			}
			all = append(all, p)
		}
	}

	deduped, removed := Deduplicate(all, cfg.TitleKeyLength)
	observability.DuplicatesRemoved.Add(float64(removed))
	SortByRelevance(deduped)

	if cfg.MaxTotalPapers > 0 && len(deduped) > cfg.MaxTotalPapers {
		logger.Info().Int("found", len(deduped)).Int("cap", cfg.MaxTotalPapers).Msg("truncating search results")
		deduped = deduped[:cfg.MaxTotalPapers]
	}

	return Output{
		Papers:        deduped,
		DupsRemoved:   removed,
		Sources:       contributingSources(deduped, backends),
		BackendErrors: backendErrors,
	}, nil
}

// SortByRelevance orders papers by relevance descending, then by key so
// that equal scores sort the same way on every run.
func SortByRelevance(papers []types.Paper) {
	sort.SliceStable(papers, func(i, j int) bool {
		if papers[i].RelevanceScore != papers[j].RelevanceScore {
			return papers[i].RelevanceScore > papers[j].RelevanceScore
		}
		return papers[i].Key() < papers[j].Key()
	})
}

func contributingSources(papers []types.Paper, backends []Backend) []string {
	var sources []string
	for _, b := range backends {
		for _, p := range papers {
			if p.HasSource(b.Name()) {
				sources = append(sources, b.Name())
				break
			}
		}
	}
	return sources
}

// DefaultTitleKeyLength is the normalized-title prefix used when the
// configured length is unset.
const DefaultTitleKeyLength = 100

// Deduplicate drops papers that share an identifier with an earlier paper,
// in priority order PMID, then DOI or PMCID, then normalized title. The
// title fallback only applies when one side carries no identifier. The
// first-seen paper survives and absorbs the duplicate's source tag.
// Deduplicate is idempotent: applying it to its own output removes nothing.
func Deduplicate(papers []types.Paper, titleKeyLen int) ([]types.Paper, int) {
	if titleKeyLen <= 0 {
		titleKeyLen = DefaultTitleKeyLength
	}
	seen := make(map[string]int) // dedup key → index in deduped
	var deduped []types.Paper
	removed := 0

	for _, p := range papers {
		keys := identityKeys(p)
		titleKey := ""
		if t := normalizeTitle(p.Title, titleKeyLen); t != "" {
			titleKey = "title:" + t
		}

		match := -1
		for _, k := range keys {
			if idx, ok := seen[k]; ok {
				match = idx
				break
			}
		}
		if match < 0 && titleKey != "" {
			if idx, ok := seen[titleKey]; ok && (len(keys) == 0 || !deduped[idx].HasIdentifier()) {
				match = idx
			}
		}

		if match >= 0 {
			mergeInto(&deduped[match], p)
			removed++
			for _, k := range keys {
				if _, ok := seen[k]; !ok {
					seen[k] = match
				}
			}
			continue
		}

		idx := len(deduped)
		deduped = append(deduped, p)
		for _, k := range keys {
			if _, ok := seen[k]; !ok {
				seen[k] = idx
			}
		}
		if titleKey != "" {
			if _, ok := seen[titleKey]; !ok {
				seen[titleKey] = idx
			}
		}
	}
	return deduped, removed
}

// identityKeys returns the identifier keys for p in priority order.
func identityKeys(p types.Paper) []string {
	var keys []string
	if id := strings.TrimSpace(p.ID); id != "" {
		keys = append(keys, "pmid:"+id)
	}
	if doi := NormalizeDOI(p.DOI); doi != "" {
		keys = append(keys, "doi:"+doi)
	}
	if pmc := NormalizePMCID(p.SecondaryID); pmc != "" {
		keys = append(keys, "pmcid:"+pmc)
	}
	return keys
}

// mergeInto widens dst's provenance with src. The surviving record is
// otherwise left as first seen.
func mergeInto(dst *types.Paper, src types.Paper) {
	for _, s := range strings.Split(src.Source, ",") {
		if s != "" && !dst.HasSource(s) {
			if dst.Source == "" {
				dst.Source = s
			} else {
				dst.Source += "," + s
			}
		}
	}
	if src.HighTrust {
		dst.HighTrust = true
	}
}

// NormalizeDOI lowercases a DOI and strips resolver and scheme prefixes.
func NormalizeDOI(doi string) string {
	d := strings.ToLower(strings.TrimSpace(doi))
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"} {
		d = strings.TrimPrefix(d, prefix)
	}
	return strings.TrimSpace(d)
}

// NormalizePMCID uppercases a PMC identifier and ensures the PMC prefix.
func NormalizePMCID(id string) string {
	s := strings.ToUpper(strings.TrimSpace(id))
	if s == "" {
		return ""
	}
	if !strings.HasPrefix(s, "PMC") {
		s = "PMC" + s
	}
	return s
}

// normalizeTitle returns a lowercased, punctuation-stripped version of the
// title, whitespace-collapsed and truncated to maxRunes runes.
func normalizeTitle(title string, maxRunes int) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	norm := []rune(strings.Join(strings.Fields(b.String()), " "))
	if len(norm) > maxRunes {
		norm = norm[:maxRunes]
	}
	return strings.TrimSpace(string(norm))
}

// positionScore is the position-based relevance for the i-th of total
// hits from a backend that returns results best-first.
func positionScore(i, total int) float64 {
	if total <= 1 {
		return 1.0
	}
	return 1.0 - float64(i)/float64(total-1)*0.9
}

// FormatTable writes papers as a human-readable table to w.
func FormatTable(out Output, w io.Writer) {
	if len(out.Papers) == 0 {
		fmt.Fprintln(w, "No papers found.")
		return
	}

	fmt.Fprintf(w, "%-4s  %-60s  %-4s  %-6s  %-4s  %s\n",
		"Rank", "Title", "Year", "Score", "FT", "Source")
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for i, p := range out.Papers {
		year := ""
		if p.Year > 0 {
			year = fmt.Sprintf("%d", p.Year)
		}
		ft := ""
		if p.HasFullText {
			ft = "yes"
		}
		fmt.Fprintf(w, "%-4d  %-60s  %-4s  %-6.2f  %-4s  %s\n",
			i+1, truncate(p.Title, 60), year, p.RelevanceScore, ft, p.Source)
	}

	fmt.Fprintf(w, "\n%d papers", len(out.Papers))
	if out.DupsRemoved > 0 {
		fmt.Fprintf(w, " (%d duplicates removed)", out.DupsRemoved)
	}
	fmt.Fprintln(w)
	for _, e := range out.BackendErrors {
		fmt.Fprintf(w, "warning: %s\n", e)
	}
}

// FormatJSON writes papers as indented JSON to w.
func FormatJSON(out Output, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out.Papers)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
