package state

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/leapstack-labs/leapgraph/pkg/core"
)

// RecordLoadRun stores the totals of a graph batch load.
func (s *SQLiteStore) RecordLoadRun(lr *core.LoadRun) error {
	if err := s.ready(); err != nil {
		return err
	}
	if lr.ID == "" {
		lr.ID = generateID()
	}
	if lr.CompletedAt.IsZero() {
		lr.CompletedAt = now()
	}
	if lr.StartedAt.IsZero() {
		lr.StartedAt = lr.CompletedAt
	}

	_, err := s.db.ExecContext(ctx(),
		`INSERT INTO load_runs (id, started_at, completed_at, loaded, skipped, failed) VALUES (?, ?, ?, ?, ?, ?)`,
		lr.ID, lr.StartedAt.UTC(), lr.CompletedAt.UTC(), lr.Loaded, lr.Skipped, lr.Failed)
	if err != nil {
		return fmt.Errorf("failed to record load run: %w", err)
	}
	return nil
}

// ListRecentRuns returns the newest extraction, ETL and load runs, newest
// first, limited to limit entries in total.
func (s *SQLiteStore) ListRecentRuns(limit int) ([]*core.RunSummary, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	var out []*core.RunSummary

	rows, err := s.db.QueryContext(ctx(),
		`SELECT id, template, execution_number, status, started_at FROM extraction_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list extraction runs: %w", err)
	}
	for rows.Next() {
		r := &core.RunSummary{Kind: KindExtraction}
		var template, status string
		var n int
		if err := rows.Scan(&r.ID, &template, &n, &status, &r.StartedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan extraction run: %w", err)
		}
		r.Label = template + " #" + strconv.Itoa(n)
		r.Status = core.RunStatus(status)
		out = append(out, r)
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx(),
		`SELECT r.id, r.status, r.started_at, COUNT(sr.id)
		 FROM etl_runs r LEFT JOIN script_runs sr ON sr.run_id = r.id
		 GROUP BY r.id ORDER BY r.started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	for rows.Next() {
		r := &core.RunSummary{Kind: KindETL}
		var status string
		var scripts int
		if err := rows.Scan(&r.ID, &status, &r.StartedAt, &scripts); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Label = fmt.Sprintf("%d scripts", scripts)
		r.Status = core.RunStatus(status)
		out = append(out, r)
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx(),
		`SELECT id, started_at, loaded, skipped, failed FROM load_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list load runs: %w", err)
	}
	for rows.Next() {
		r := &core.RunSummary{Kind: KindLoad, Status: core.RunStatusCompleted}
		var loaded, skipped, failed int
		if err := rows.Scan(&r.ID, &r.StartedAt, &loaded, &skipped, &failed); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan load run: %w", err)
		}
		r.Label = fmt.Sprintf("%d loaded, %d skipped, %d failed", loaded, skipped, failed)
		if failed > 0 {
			r.Status = core.RunStatusFailed
		}
		out = append(out, r)
	}
	_ = rows.Close()

	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
