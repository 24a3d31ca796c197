// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package disease standardizes raw disease labels to canonical names and
// resolves the coarser parent disease used to share market data.
package disease

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"go.yaml.in/yaml/v3"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/pdiddy/repurpose-engine/pkg/types"
)

//go:embed taxonomy.yaml
var defaultTaxonomy []byte

// ErrTaxonomyCycle is returned when parent links in a taxonomy loop.
var ErrTaxonomyCycle = errors.New("taxonomy parent cycle")

// taxonomyFile is the on-disk layout of a taxonomy.
type taxonomyFile struct {
	Diseases []types.DiseaseTaxonomyEntry `yaml:"diseases"`
}

// Taxonomy is the static tier of disease resolution. It is read-only
// after construction and safe for concurrent use.
type Taxonomy struct {
	entries []types.DiseaseTaxonomyEntry
	byKey   map[string]int
}

// DefaultTaxonomy returns the built-in taxonomy.
func DefaultTaxonomy() (*Taxonomy, error) {
	return ParseTaxonomy(defaultTaxonomy)
}

// LoadTaxonomy reads a taxonomy YAML file. An empty path returns the
// built-in taxonomy.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	if path == "" {
		return DefaultTaxonomy()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading taxonomy %s: %w", path, err)
	}
	return ParseTaxonomy(data)
}

// ParseTaxonomy parses and validates taxonomy YAML. Names and variants
// must resolve to a single canonical entry, and parent links must not
// form a cycle.
func ParseTaxonomy(data []byte) (*Taxonomy, error) {
	var f taxonomyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing taxonomy: %w", err)
	}

	t := &Taxonomy{byKey: make(map[string]int)}
	for _, e := range f.Diseases {
		if strings.TrimSpace(e.Name) == "" {
			return nil, errors.New("taxonomy entry without a name")
		}
		if Normalize(e.Parent) == Normalize(e.Name) {
			e.Parent = ""
		}
		idx := len(t.entries)
		t.entries = append(t.entries, e)
		for _, label := range append([]string{e.Name}, e.Variants...) {
			key := Normalize(label)
			if key == "" {
				continue
			}
			if prev, ok := t.byKey[key]; ok && prev != idx {
				return nil, fmt.Errorf("taxonomy label %q maps to both %q and %q", label, t.entries[prev].Name, e.Name)
			}
			t.byKey[key] = idx
		}
	}
	if err := t.checkCycles(); err != nil {
		return nil, err
	}
	return t, nil
}

// checkCycles follows every parent chain through known entries.
func (t *Taxonomy) checkCycles() error {
	for _, e := range t.entries {
		seen := map[string]bool{Normalize(e.Name): true}
		cur := e
		for cur.Parent != "" {
			key := Normalize(cur.Parent)
			if seen[key] {
				return fmt.Errorf("%w: %s", ErrTaxonomyCycle, e.Name)
			}
			seen[key] = true
			idx, ok := t.byKey[key]
			if !ok {
				break
			}
			cur = t.entries[idx]
		}
	}
	return nil
}

// Lookup resolves name or one of its variants to a taxonomy entry.
func (t *Taxonomy) Lookup(name string) (types.DiseaseTaxonomyEntry, bool) {
	idx, ok := t.byKey[Normalize(name)]
	if !ok {
		return types.DiseaseTaxonomyEntry{}, false
	}
	return t.entries[idx], true
}

// Entries returns the canonical entries sorted by name.
func (t *Taxonomy) Entries() []types.DiseaseTaxonomyEntry {
	out := append([]types.DiseaseTaxonomyEntry(nil), t.entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of canonical entries.
func (t *Taxonomy) Len() int { return len(t.entries) }

// Normalize returns the lookup key for a disease label: diacritics
// stripped, lowercased, apostrophes dropped, other punctuation turned
// into spaces, whitespace collapsed.
func Normalize(s string) string {
	stripped, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		stripped = s
	}
	var b strings.Builder
	for _, r := range strings.ToLower(stripped) {
		switch {
		case r == '\'' || r == '’':
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
