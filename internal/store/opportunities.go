// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pdiddy/repurpose-engine/pkg/types"
)

// UpsertOpportunity writes o under (runID, drug, disease). An existing row
// is replaced only when o has a strictly higher priority. It reports
// whether the row was written. o must be scored.
func (s *Store) UpsertOpportunity(ctx context.Context, runID string, o *types.Opportunity) (bool, error) {
	if o.Score == nil {
		return false, fmt.Errorf("opportunity %s/%s is not scored", o.Drug, o.Disease)
	}
	data, err := json.Marshal(o)
	if err != nil {
		return false, fmt.Errorf("encoding opportunity: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO opportunities (run_id, drug, disease, priority, rank, data) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, drug, disease) DO UPDATE SET
			priority=excluded.priority, rank=excluded.rank, data=excluded.data
		 WHERE excluded.priority > opportunities.priority`,
		runID, o.Drug, o.Disease, o.Score.OverallPriority, o.Rank, string(data),
	)
	if err != nil {
		return false, fmt.Errorf("upserting opportunity %s/%s: %w", o.Drug, o.Disease, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Opportunities returns the stored opportunities for a run ordered by
// priority, highest first.
func (s *Store) Opportunities(ctx context.Context, runID string) ([]types.Opportunity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM opportunities WHERE run_id = ? ORDER BY priority DESC, disease`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying opportunities: %w", err)
	}
	defer rows.Close()

	var out []types.Opportunity
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var o types.Opportunity
		if err := json.Unmarshal([]byte(data), &o); err != nil {
			return nil, fmt.Errorf("decoding opportunity: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
