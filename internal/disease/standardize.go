// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package disease

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/pdiddy/repurpose-engine/internal/llm"
	"github.com/pdiddy/repurpose-engine/internal/observability"
	"github.com/pdiddy/repurpose-engine/pkg/types"
)

// Resolution tiers, in lookup order.
const (
	TierTaxonomy   = "taxonomy"
	TierMapping    = "mapping"
	TierCapability = "capability"
	TierFallback   = "fallback"
)

// MappingStore persists learned variant mappings between runs.
type MappingStore interface {
	GetMapping(ctx context.Context, variantKey string) (types.DiseaseMapping, bool, error)
	PutMapping(ctx context.Context, m types.DiseaseMapping) error
}

// MemoryMappings is an in-process MappingStore.
type MemoryMappings struct {
	mu sync.RWMutex
	m  map[string]types.DiseaseMapping
}

// NewMemoryMappings creates an empty MemoryMappings.
func NewMemoryMappings() *MemoryMappings {
	return &MemoryMappings{m: make(map[string]types.DiseaseMapping)}
}

func (s *MemoryMappings) GetMapping(_ context.Context, key string) (types.DiseaseMapping, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.m[key]
	return m, ok, nil
}

func (s *MemoryMappings) PutMapping(_ context.Context, m types.DiseaseMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[m.VariantKey] = m
	return nil
}

// Resolution is the outcome of standardizing one raw label. Parent equals
// Canonical when no coarser disease is known.
type Resolution struct {
	Raw       string `json:"raw" yaml:"raw"`
	Canonical string `json:"canonical" yaml:"canonical"`
	Parent    string `json:"parent" yaml:"parent"`
	Category  string `json:"category,omitempty" yaml:"category,omitempty"`
	Tier      string `json:"tier" yaml:"tier"`
}

// Standardizer resolves labels through the taxonomy, the mapping store,
// then the capability. Results are memoized per instance.
type Standardizer struct {
	tax       *Taxonomy
	store     MappingStore
	extractor llm.Extractor
	logger    *zerolog.Logger

	mu   sync.Mutex
	memo map[string]Resolution
}

// NewStandardizer creates a Standardizer. store and extractor may be nil,
// which disables their tiers.
func NewStandardizer(tax *Taxonomy, store MappingStore, extractor llm.Extractor, logger *zerolog.Logger) *Standardizer {
	return &Standardizer{
		tax:       tax,
		store:     store,
		extractor: extractor,
		logger:    observability.OrNop(logger),
		memo:      make(map[string]Resolution),
	}
}

// Standardize resolves raw to its canonical disease and one-hop parent.
// Canonical names are fixed points: standardizing a canonical name
// returns it unchanged.
func (s *Standardizer) Standardize(ctx context.Context, raw string) Resolution {
	key := Normalize(raw)

	s.mu.Lock()
	if r, ok := s.memo[key]; ok {
		s.mu.Unlock()
		r.Raw = raw
		return r
	}
	s.mu.Unlock()

	r := s.resolve(ctx, raw, key)
	observability.DiseaseResolutions.WithLabelValues(r.Tier).Inc()

	s.mu.Lock()
	s.memo[key] = r
	if ck := Normalize(r.Canonical); ck != "" && ck != key {
		if _, ok := s.memo[ck]; !ok {
			self := r
			self.Raw = r.Canonical
			s.memo[ck] = self
		}
	}
	s.mu.Unlock()
	return r
}

// ParentDisease returns the coarser disease sharing market data with
// name, or the canonical name itself.
func (s *Standardizer) ParentDisease(ctx context.Context, name string) string {
	return s.Standardize(ctx, name).Parent
}

// Apply standardizes e.Disease in place, keeping the raw label.
func (s *Standardizer) Apply(ctx context.Context, e *types.Extraction) Resolution {
	raw := e.RawDisease
	if raw == "" {
		raw = e.Disease
	}
	r := s.Standardize(ctx, raw)
	e.RawDisease = raw
	e.Disease = r.Canonical
	if r.Category != "" {
		e.DiseaseCategory = r.Category
	}
	return r
}

func (s *Standardizer) resolve(ctx context.Context, raw, key string) Resolution {
	if key == "" {
		return Resolution{Raw: raw, Tier: TierFallback}
	}

	if s.tax != nil {
		if entry, ok := s.tax.Lookup(raw); ok {
			return Resolution{Raw: raw, Canonical: entry.Name, Parent: parentOr(entry.Parent, entry.Name), Category: entry.Category, Tier: TierTaxonomy}
		}
	}

	if s.store != nil {
		m, ok, err := s.store.GetMapping(ctx, key)
		switch {
		case err != nil:
			observability.StoreErrors.WithLabelValues("mapping_get").Inc()
			s.logger.Warn().Err(err).Str("disease", raw).Msg("mapping lookup failed")
		case ok:
			return Resolution{Raw: raw, Canonical: m.Canonical, Parent: parentOr(m.Parent, m.Canonical), Category: m.Category, Tier: TierMapping}
		}
	}

	if s.extractor != nil {
		if r, ok := s.classify(ctx, raw); ok {
			s.learn(ctx, key, r)
			if ck := Normalize(r.Canonical); ck != key && !s.inTaxonomy(r.Canonical) {
				s.learn(ctx, ck, r)
			}
			return r
		}
	}

	name := titleCase(raw)
	return Resolution{Raw: raw, Canonical: name, Parent: name, Tier: TierFallback}
}

func (s *Standardizer) inTaxonomy(name string) bool {
	if s.tax == nil {
		return false
	}
	_, ok := s.tax.Lookup(name)
	return ok
}

// learn persists r under variantKey. The learned canonical is stored
// under its own key too, so later runs resolve it to itself.
func (s *Standardizer) learn(ctx context.Context, variantKey string, r Resolution) {
	if s.store == nil {
		return
	}
	err := s.store.PutMapping(ctx, types.DiseaseMapping{
		VariantKey: variantKey,
		Canonical:  r.Canonical,
		Parent:     r.Parent,
		Category:   r.Category,
		Source:     TierCapability,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		observability.StoreErrors.WithLabelValues("mapping_put").Inc()
		s.logger.Warn().Err(err).Str("disease", r.Raw).Msg("mapping write failed")
	}
}

// classify asks the capability for a canonical name. Names it returns are
// snapped back onto the taxonomy when they match an entry.
func (s *Standardizer) classify(ctx context.Context, raw string) (Resolution, bool) {
	obj, err := s.extractor.Extract(ctx, llm.ExtractRequest{Schema: llm.SchemaDisease, Document: raw})
	if err != nil {
		s.logger.Warn().Err(err).Str("disease", raw).Msg("disease classification failed")
		return Resolution{}, false
	}
	var reply struct {
		Canonical string `json:"canonical"`
		Parent    string `json:"parent"`
		Category  string `json:"category"`
	}
	if err := json.Unmarshal(obj, &reply); err != nil || strings.TrimSpace(reply.Canonical) == "" {
		s.logger.Warn().Str("disease", raw).Msg("disease classification returned no name")
		return Resolution{}, false
	}

	r := Resolution{Raw: raw, Canonical: strings.TrimSpace(reply.Canonical), Category: reply.Category, Tier: TierCapability}
	if s.tax != nil {
		if entry, ok := s.tax.Lookup(r.Canonical); ok {
			r.Canonical, r.Category = entry.Name, entry.Category
			r.Parent = parentOr(entry.Parent, entry.Name)
			return r, true
		}
	}
	parent := strings.TrimSpace(reply.Parent)
	if s.tax != nil && parent != "" {
		// One hop: use the taxonomy spelling of the parent, not its parent.
		if entry, ok := s.tax.Lookup(parent); ok {
			parent = entry.Name
		}
	}
	r.Parent = parentOr(parent, r.Canonical)
	return r, true
}

func parentOr(parent, name string) string {
	if parent == "" || Normalize(parent) == Normalize(name) {
		return name
	}
	return parent
}

// titleCase capitalizes each word and keeps inner capitals ("IgA").
// A Caser holds state, so each call builds its own.
func titleCase(raw string) string {
	return cases.Title(language.English, cases.NoLower).String(strings.Join(strings.Fields(raw), " "))
}

// Group is one parent disease and the canonical diseases under it.
type Group struct {
	Parent   string   `json:"parent" yaml:"parent"`
	Children []string `json:"children" yaml:"children"`
}

// GroupByParent partitions resolutions by parent. Every canonical disease
// lands in exactly one group, the first parent seen for it; a disease that
// is its own parent is listed as a child of its own group.
func GroupByParent(rs []Resolution) []Group {
	parentOf := make(map[string]string)
	var order []string
	for _, r := range rs {
		if r.Canonical == "" {
			continue
		}
		if _, ok := parentOf[r.Canonical]; ok {
			continue
		}
		parentOf[r.Canonical] = parentOr(r.Parent, r.Canonical)
		order = append(order, r.Canonical)
	}

	groups := make(map[string]*Group)
	for _, name := range order {
		p := parentOf[name]
		g, ok := groups[p]
		if !ok {
			g = &Group{Parent: p}
			groups[p] = g
		}
		g.Children = append(g.Children, name)
	}

	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		sort.Strings(g.Children)
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Parent < out[j].Parent })
	return out
}
