// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists pipeline state in SQLite: run lifecycle records,
// the extraction cache, learned disease mappings, ranked opportunities and
// filter checkpoints.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/repurpose-engine/pkg/types"
)

const dbFile = "repurpose.db"

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store manages the SQLite database. Writes are serialized through one
// mutex so concurrent completion callbacks never interleave; reads are
// not locked.
type Store struct {
	db  *sql.DB
	dir string

	mu  sync.Mutex
	now func() time.Time
}

// Open opens or creates the database at cfg.DataDir/repurpose.db and
// creates the schema if it does not exist.
func Open(cfg types.StoreConfig) (*Store, error) {
	dir := cfg.DataDir
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, dir: dir, now: time.Now}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			drug TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			papers_found INTEGER NOT NULL DEFAULT 0,
			papers_filtered INTEGER NOT NULL DEFAULT 0,
			papers_extracted INTEGER NOT NULL DEFAULT 0,
			papers_skipped INTEGER NOT NULL DEFAULT 0,
			opportunities INTEGER NOT NULL DEFAULT 0,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_drug ON runs(drug)`,
		`CREATE TABLE IF NOT EXISTS extraction_cache (
			drug TEXT NOT NULL,
			paper_key TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (drug, paper_key)
		)`,
		`CREATE TABLE IF NOT EXISTS disease_mappings (
			variant_key TEXT PRIMARY KEY,
			canonical TEXT NOT NULL,
			parent TEXT,
			category TEXT,
			source TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS opportunities (
			run_id TEXT NOT NULL REFERENCES runs(id),
			drug TEXT NOT NULL,
			disease TEXT NOT NULL,
			priority REAL NOT NULL,
			rank INTEGER NOT NULL,
			data TEXT NOT NULL,
			PRIMARY KEY (run_id, drug, disease)
		)`,
		`CREATE TABLE IF NOT EXISTS discovery_checkpoints (
			drug TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// CreateRun inserts a running Run for drug with a fresh ID.
func (s *Store) CreateRun(ctx context.Context, drug string) (types.Run, error) {
	run := types.Run{
		ID:        uuid.NewString(),
		Drug:      drug,
		Status:    types.RunRunning,
		StartedAt: s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, drug, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Drug, string(run.Status), formatTime(run.StartedAt),
	)
	if err != nil {
		return types.Run{}, fmt.Errorf("inserting run: %w", err)
	}
	return run, nil
}

// UpdateRun writes the status, counters and error of run.
func (s *Store) UpdateRun(ctx context.Context, run types.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, papers_found = ?, papers_filtered = ?,
			papers_extracted = ?, papers_skipped = ?, opportunities = ?, error = ?
		 WHERE id = ?`,
		string(run.Status), formatTime(run.FinishedAt), run.PapersFound, run.PapersFiltered,
		run.PapersExtracted, run.PapersSkipped, run.Opportunities, run.Error, run.ID,
	)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("updating run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

// CompleteRun marks run completed with its final counters and returns the
// stored record.
func (s *Store) CompleteRun(ctx context.Context, run types.Run) (types.Run, error) {
	run.Status = types.RunCompleted
	run.FinishedAt = s.now().UTC()
	run.Error = ""
	if err := s.UpdateRun(ctx, run); err != nil {
		return run, err
	}
	return run, nil
}

// FailRun marks run failed with cause.
func (s *Store) FailRun(ctx context.Context, run types.Run, cause error) error {
	run.Status = types.RunFailed
	run.FinishedAt = s.now().UTC()
	if cause != nil {
		run.Error = cause.Error()
	}
	return s.UpdateRun(ctx, run)
}

const runColumns = `id, drug, status, started_at, finished_at, papers_found, papers_filtered,
	papers_extracted, papers_skipped, opportunities, error`

// GetRun loads a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (types.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// LatestRun returns the most recently started run for drug.
func (s *Store) LatestRun(ctx context.Context, drug string) (types.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE drug = ? ORDER BY started_at DESC LIMIT 1`, drug)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Run{}, fmt.Errorf("run for %s: %w", drug, ErrNotFound)
	}
	return run, err
}

// ListRuns returns all runs, newest first. An empty drug lists every drug.
func (s *Store) ListRuns(ctx context.Context, drug string) ([]types.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if drug != "" {
		query += ` WHERE drug = ?`
		args = append(args, drug)
	}
	query += ` ORDER BY started_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []types.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (types.Run, error) {
	var (
		run               types.Run
		status, started   string
		finished, errText sql.NullString
	)
	err := sc.Scan(&run.ID, &run.Drug, &status, &started, &finished,
		&run.PapersFound, &run.PapersFiltered, &run.PapersExtracted,
		&run.PapersSkipped, &run.Opportunities, &errText)
	if err != nil {
		return types.Run{}, err
	}
	run.Status = types.RunStatus(status)
	run.StartedAt = parseTime(started)
	run.FinishedAt = parseTime(finished.String)
	run.Error = errText.String
	return run, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
