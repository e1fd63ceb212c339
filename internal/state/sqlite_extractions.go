package state

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/leapgraph/pkg/core"
)

// CreateExtractionRun records the start of a template execution.
func (s *SQLiteStore) CreateExtractionRun(template string, executionNumber int) (*core.ExtractionRun, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	run := &core.ExtractionRun{
		ID:              generateID(),
		Template:        template,
		ExecutionNumber: executionNumber,
		Status:          core.RunStatusRunning,
		StartedAt:       now(),
	}
	s.logger.Debug("creating extraction run", slog.String("id", run.ID), slog.String("template", template))

	_, err := s.db.ExecContext(ctx(),
		`INSERT INTO extraction_runs (id, template, execution_number, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Template, run.ExecutionNumber, string(run.Status), run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction run: %w", err)
	}
	return run, nil
}

// CompleteExtractionRun sets the final status of an extraction run.
func (s *SQLiteStore) CompleteExtractionRun(id string, status core.RunStatus) error {
	if err := s.ready(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx(),
		`UPDATE extraction_runs SET status = ?, completed_at = ? WHERE id = ?`,
		string(status), now(), id)
	if err != nil {
		return fmt.Errorf("failed to complete extraction run: %w", err)
	}
	return expectOne(res, "extraction run", id)
}

// GetExtractionRun retrieves an extraction run by ID.
func (s *SQLiteStore) GetExtractionRun(id string) (*core.ExtractionRun, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	run := &core.ExtractionRun{}
	var status string
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx(),
		`SELECT id, template, execution_number, status, started_at, completed_at FROM extraction_runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.Template, &run.ExecutionNumber, &status, &run.StartedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("extraction run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get extraction run: %w", err)
	}
	run.Status = core.RunStatus(status)
	run.CompletedAt = timePtr(completedAt)
	return run, nil
}

// RecordExtractionResult stores the outcome of one prompt.
func (s *SQLiteStore) RecordExtractionResult(result *core.ExtractionResult) error {
	if err := s.ready(); err != nil {
		return err
	}
	if result.ID == "" {
		result.ID = generateID()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = now()
	}

	_, err := s.db.ExecContext(ctx(),
		`INSERT INTO extraction_results
			(id, run_id, sql_file, sql_hash, template_hash, answer_file, prompt_tokens, answer_tokens, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.RunID, result.SQLFile, result.SQLHash, result.TemplateHash,
		nullString(result.AnswerFile), result.PromptTokens, result.AnswerTokens,
		string(result.Status), nullString(result.Error), result.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record extraction result: %w", err)
	}
	return nil
}

// GetExtractionResults lists the results of a run in insertion order.
func (s *SQLiteStore) GetExtractionResults(runID string) ([]*core.ExtractionResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx(),
		`SELECT id, run_id, sql_file, sql_hash, template_hash, answer_file, prompt_tokens, answer_tokens, status, error, created_at
		 FROM extraction_results WHERE run_id = ? ORDER BY created_at, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list extraction results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*core.ExtractionResult
	for rows.Next() {
		r := &core.ExtractionResult{}
		var status string
		var answer, errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.RunID, &r.SQLFile, &r.SQLHash, &r.TemplateHash, &answer,
			&r.PromptTokens, &r.AnswerTokens, &status, &errMsg, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan extraction result: %w", err)
		}
		r.Status = core.RunStatus(status)
		r.AnswerFile = answer.String
		r.Error = errMsg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// HasSuccessfulExtraction reports whether the SQL content was already
// extracted successfully with the template content.
func (s *SQLiteStore) HasSuccessfulExtraction(sqlHash, templateHash string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}

	var n int
	err := s.db.QueryRowContext(ctx(),
		`SELECT COUNT(*) FROM extraction_results WHERE sql_hash = ? AND template_hash = ? AND status = ?`,
		sqlHash, templateHash, string(core.RunStatusCompleted),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check extraction: %w", err)
	}
	return n > 0, nil
}

func expectOne(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
