// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pdiddy/repurpose-engine/internal/filter"
	"github.com/pdiddy/repurpose-engine/pkg/types"
)

// Get returns the cached raw extraction for (drug, paperKey).
func (s *Store) Get(ctx context.Context, drug, paperKey string) (*types.Extraction, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM extraction_cache WHERE drug = ? AND paper_key = ?`,
		cacheDrug(drug), paperKey,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache %s: %w", paperKey, err)
	}

	var e types.Extraction
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, false, fmt.Errorf("decoding cache %s: %w", paperKey, err)
	}
	return &e, true, nil
}

// Put stores e as the cached extraction for (drug, paperKey), replacing
// any earlier row.
func (s *Store) Put(ctx context.Context, drug, paperKey string, e *types.Extraction) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding extraction %s: %w", paperKey, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extraction_cache (drug, paper_key, data, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(drug, paper_key) DO UPDATE SET data=excluded.data, created_at=excluded.created_at`,
		cacheDrug(drug), paperKey, string(data), formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("writing cache %s: %w", paperKey, err)
	}
	return nil
}

// DeleteExtractions removes the cached rows for the given paper keys and
// returns how many were deleted.
func (s *Store) DeleteExtractions(ctx context.Context, drug string, paperKeys []string) (int, error) {
	if len(paperKeys) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM extraction_cache WHERE drug = ? AND paper_key = ?`)
	if err != nil {
		return 0, fmt.Errorf("preparing delete: %w", err)
	}
	defer stmt.Close()

	var deleted int
	for _, key := range paperKeys {
		res, err := stmt.ExecContext(ctx, cacheDrug(drug), key)
		if err != nil {
			return 0, fmt.Errorf("deleting cache %s: %w", key, err)
		}
		n, _ := res.RowsAffected()
		deleted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing delete: %w", err)
	}
	return deleted, nil
}

// CacheSize returns the number of cached extractions for drug.
func (s *Store) CacheSize(ctx context.Context, drug string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM extraction_cache WHERE drug = ?`, cacheDrug(drug),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting cache: %w", err)
	}
	return n, nil
}

// Drug names are case-insensitive cache keys.
func cacheDrug(drug string) string {
	return strings.ToLower(strings.TrimSpace(drug))
}

// GetMapping returns the learned disease mapping for a normalized variant key.
func (s *Store) GetMapping(ctx context.Context, key string) (types.DiseaseMapping, bool, error) {
	var (
		m                types.DiseaseMapping
		parent, category sql.NullString
		created          string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT variant_key, canonical, parent, category, source, created_at
		 FROM disease_mappings WHERE variant_key = ?`, key,
	).Scan(&m.VariantKey, &m.Canonical, &parent, &category, &m.Source, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return types.DiseaseMapping{}, false, nil
	}
	if err != nil {
		return types.DiseaseMapping{}, false, fmt.Errorf("reading mapping %s: %w", key, err)
	}
	m.Parent = parent.String
	m.Category = category.String
	m.CreatedAt = parseTime(created)
	return m, true, nil
}

// PutMapping upserts a learned disease mapping.
func (s *Store) PutMapping(ctx context.Context, m types.DiseaseMapping) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO disease_mappings (variant_key, canonical, parent, category, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(variant_key) DO UPDATE SET
			canonical=excluded.canonical, parent=excluded.parent,
			category=excluded.category, source=excluded.source`,
		m.VariantKey, m.Canonical, m.Parent, m.Category, m.Source, formatTime(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("writing mapping %s: %w", m.VariantKey, err)
	}
	return nil
}

// ListMappings returns every learned mapping ordered by variant key.
func (s *Store) ListMappings(ctx context.Context) ([]types.DiseaseMapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT variant_key, canonical, parent, category, source, created_at
		 FROM disease_mappings ORDER BY variant_key`)
	if err != nil {
		return nil, fmt.Errorf("listing mappings: %w", err)
	}
	defer rows.Close()

	var out []types.DiseaseMapping
	for rows.Next() {
		var (
			m                types.DiseaseMapping
			parent, category sql.NullString
			created          string
		)
		if err := rows.Scan(&m.VariantKey, &m.Canonical, &parent, &category, &m.Source, &created); err != nil {
			return nil, err
		}
		m.Parent = parent.String
		m.Category = category.String
		m.CreatedAt = parseTime(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveCheckpoint replaces the filter checkpoint for drug.
func (s *Store) SaveCheckpoint(ctx context.Context, drug string, cp filter.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO discovery_checkpoints (drug, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(drug) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
		cacheDrug(drug), string(data), formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("writing checkpoint for %s: %w", drug, err)
	}
	return nil
}

// LoadCheckpoint returns the saved filter checkpoint for drug, or
// ErrNotFound.
func (s *Store) LoadCheckpoint(ctx context.Context, drug string) (*filter.Checkpoint, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM discovery_checkpoints WHERE drug = ?`, cacheDrug(drug),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint for %s: %w", drug, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint for %s: %w", drug, err)
	}

	var cp filter.Checkpoint
	if err := json.Unmarshal([]byte(data), &cp); err != nil {
		return nil, fmt.Errorf("decoding checkpoint for %s: %w", drug, err)
	}
	return &cp, nil
}

// ClearCheckpoint deletes the checkpoint for drug after a completed run.
func (s *Store) ClearCheckpoint(ctx context.Context, drug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM discovery_checkpoints WHERE drug = ?`, cacheDrug(drug),
	); err != nil {
		return fmt.Errorf("clearing checkpoint for %s: %w", drug, err)
	}
	return nil
}
