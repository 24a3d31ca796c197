// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ranking

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/repurpose-engine/internal/disease"
	"github.com/pdiddy/repurpose-engine/pkg/types"
)

//go:embed markets.yaml
var defaultMarkets []byte

// MarketBook looks up market context by disease, falling back to the
// parent disease so subtypes share one entry.
type MarketBook struct {
	entries map[string]types.MarketContext
}

type marketFile struct {
	Markets []types.MarketContext `yaml:"markets"`
}

// DefaultMarketBook returns the built-in market book.
func DefaultMarketBook() (*MarketBook, error) {
	return ParseMarketBook(defaultMarkets)
}

// LoadMarketBook reads a market book YAML file. An empty path returns the
// built-in book.
func LoadMarketBook(path string) (*MarketBook, error) {
	if path == "" {
		return DefaultMarketBook()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading market book %s: %w", path, err)
	}
	return ParseMarketBook(data)
}

// ParseMarketBook parses market book YAML.
func ParseMarketBook(data []byte) (*MarketBook, error) {
	var f marketFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing market book: %w", err)
	}
	b := &MarketBook{entries: make(map[string]types.MarketContext, len(f.Markets))}
	for _, m := range f.Markets {
		if m.Disease == "" {
			return nil, errors.New("market entry without a disease")
		}
		b.entries[disease.Normalize(m.Disease)] = m
	}
	return b, nil
}

// Lookup returns the context for name, then for parent, then a neutral
// default marked Default.
func (b *MarketBook) Lookup(name, parent string) types.MarketContext {
	if b != nil {
		for _, n := range []string{name, parent} {
			if m, ok := b.entries[disease.Normalize(n)]; ok && n != "" {
				m.Disease = name
				return m
			}
		}
	}
	return types.MarketContext{
		Disease:             name,
		ApprovedCompetitors: 2,
		UnmetNeed:           "medium",
		Prevalence:          "uncommon",
		Default:             true,
	}
}

// Len returns the number of entries.
func (b *MarketBook) Len() int { return len(b.entries) }
