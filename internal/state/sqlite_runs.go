package state

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/leapgraph/pkg/core"
)

// CreateRun creates a new ETL run.
func (s *SQLiteStore) CreateRun() (*core.Run, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	run := &core.Run{ID: generateID(), Status: core.RunStatusRunning, StartedAt: now()}
	s.logger.Debug("creating run", slog.String("id", run.ID))

	_, err := s.db.ExecContext(ctx(),
		`INSERT INTO etl_runs (id, status, started_at) VALUES (?, ?, ?)`,
		run.ID, string(run.Status), run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(id string) (*core.Run, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	run := &core.Run{}
	var status string
	var completedAt sql.NullTime
	var errMsg sql.NullString
	err := s.db.QueryRowContext(ctx(),
		`SELECT id, status, started_at, completed_at, error FROM etl_runs WHERE id = ?`, id,
	).Scan(&run.ID, &status, &run.StartedAt, &completedAt, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	run.Status = core.RunStatus(status)
	run.CompletedAt = timePtr(completedAt)
	run.Error = errMsg.String
	return run, nil
}

// CompleteRun marks a run as completed with the given status.
func (s *SQLiteStore) CompleteRun(id string, status core.RunStatus, errMsg string) error {
	if err := s.ready(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx(),
		`UPDATE etl_runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(status), now(), nullString(errMsg), id)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return expectOne(res, "run", id)
}

// RecordScriptRun records the start of a script within a run.
func (s *SQLiteStore) RecordScriptRun(sr *core.ScriptRun) error {
	if err := s.ready(); err != nil {
		return err
	}
	if sr.ID == "" {
		sr.ID = generateID()
	}
	if sr.StartedAt.IsZero() {
		sr.StartedAt = now()
	}
	if sr.Status == "" {
		sr.Status = core.RunStatusRunning
	}

	_, err := s.db.ExecContext(ctx(),
		`INSERT INTO script_runs (id, run_id, script, status, rows_affected, started_at, error, openlineage_run_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sr.ID, sr.RunID, sr.Script, string(sr.Status), sr.RowsAffected, sr.StartedAt,
		nullString(sr.Error), nullString(sr.OpenLineageRunID))
	if err != nil {
		return fmt.Errorf("failed to record script run: %w", err)
	}
	return nil
}

// UpdateScriptRun sets the outcome of a script run.
func (s *SQLiteStore) UpdateScriptRun(id string, status core.RunStatus, rowsAffected int64, errMsg string) error {
	if err := s.ready(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx(),
		`UPDATE script_runs SET status = ?, rows_affected = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(status), rowsAffected, nullString(errMsg), now(), id)
	if err != nil {
		return fmt.Errorf("failed to update script run: %w", err)
	}
	return expectOne(res, "script run", id)
}

// SetScriptRunLineageID attaches the OpenLineage run id to a script run.
func (s *SQLiteStore) SetScriptRunLineageID(id, lineageRunID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx(),
		`UPDATE script_runs SET openlineage_run_id = ? WHERE id = ?`, nullString(lineageRunID), id)
	if err != nil {
		return fmt.Errorf("failed to update script run: %w", err)
	}
	return expectOne(res, "script run", id)
}

// GetScriptRunsForRun lists the script runs of a run in start order.
func (s *SQLiteStore) GetScriptRunsForRun(runID string) ([]*core.ScriptRun, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx(),
		`SELECT id, run_id, script, status, rows_affected, started_at, completed_at, error, openlineage_run_id
		 FROM script_runs WHERE run_id = ? ORDER BY started_at, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list script runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*core.ScriptRun
	for rows.Next() {
		sr := &core.ScriptRun{}
		var status string
		var completedAt sql.NullTime
		var errMsg, olID sql.NullString
		if err := rows.Scan(&sr.ID, &sr.RunID, &sr.Script, &status, &sr.RowsAffected,
			&sr.StartedAt, &completedAt, &errMsg, &olID); err != nil {
			return nil, fmt.Errorf("failed to scan script run: %w", err)
		}
		sr.Status = core.RunStatus(status)
		sr.CompletedAt = timePtr(completedAt)
		sr.Error = errMsg.String
		sr.OpenLineageRunID = olID.String
		out = append(out, sr)
	}
	return out, rows.Err()
}
