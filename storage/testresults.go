package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gatekeeper/core"
	"gatekeeper/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TestRunSummary is the header of one stored batch of verdicts
type TestRunSummary struct {
	ID        string             `json:"run_id"`
	Kind      core.DetectionKind `json:"detection_kind"`
	CreatedAt time.Time          `json:"created_at"`
	Total     int                `json:"total"`
	Passed    int                `json:"passed"`
	Failed    int                `json:"failed"`
	Errored   int                `json:"errored"`
}

// TestRun is a summary plus its results in submission order
type TestRun struct {
	TestRunSummary
	Results []core.TestResult `json:"results"`
}

// NewTestRun assigns a fresh run id and counts verdicts by status
func NewTestRun(kind core.DetectionKind, results []core.TestResult) *TestRun {
	run := &TestRun{
		TestRunSummary: TestRunSummary{
			ID:        uuid.New().String(),
			Kind:      kind,
			CreatedAt: time.Now().UTC(),
			Total:     len(results),
		},
		Results: results,
	}
	for _, r := range results {
		switch r.Status() {
		case "PASS":
			run.Passed++
		case "ERROR":
			run.Errored++
		default:
			run.Failed++
		}
	}
	return run
}

// TestResultStorage persists the history of interpreted test runs
type TestResultStorage interface {
	SaveRun(ctx context.Context, run *TestRun) error
	GetRun(ctx context.Context, id string) (*TestRun, error)
	ListRuns(ctx context.Context, limit int) ([]TestRunSummary, error)
	DeleteRun(ctx context.Context, id string) error
}

// SQLiteTestResultStorage implements TestResultStorage on SQLite
type SQLiteTestResultStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteTestResultStorage creates a result store on an open database
func NewSQLiteTestResultStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteTestResultStorage {
	return &SQLiteTestResultStorage{sqlite: sqlite, logger: logger}
}

// SaveRun writes the run header and every result in one transaction
func (s *SQLiteTestResultStorage) SaveRun(ctx context.Context, run *TestRun) error {
	err := s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO test_runs (id, detection_kind, created_at, total, passed, failed, errored)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, string(run.Kind), run.CreatedAt.UTC().Format(time.RFC3339Nano),
			run.Total, run.Passed, run.Failed, run.Errored)
		if err != nil {
			return fmt.Errorf("failed to insert test run: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO test_results (run_id, position, test_id, name, detection_id, status, result)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare result insert: %w", err)
		}
		defer stmt.Close()

		for i, r := range run.Results {
			encoded, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("failed to encode result %s: %w", r.ID, err)
			}
			if _, err := stmt.ExecContext(ctx, run.ID, i, r.ID, r.Name, r.DetectionID, r.Status(), string(encoded)); err != nil {
				return fmt.Errorf("failed to insert result %s: %w", r.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		metrics.StorageWriteFailures.Inc()
		s.logger.Errorw("Failed to save test run", "run_id", run.ID, "error", err)
		return err
	}

	s.logger.Debugf("Saved test run %s (%d results)", run.ID, run.Total)
	return nil
}

// GetRun loads a run and its results in submission order
func (s *SQLiteTestResultStorage) GetRun(ctx context.Context, id string) (*TestRun, error) {
	row := s.sqlite.ReadDB.QueryRowContext(ctx, `
		SELECT id, detection_kind, created_at, total, passed, failed, errored
		FROM test_runs WHERE id = ?`, id)

	summary, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrResultNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load test run %s: %w", id, err)
	}

	rows, err := s.sqlite.ReadDB.QueryContext(ctx, `
		SELECT result FROM test_results WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load results for run %s: %w", id, err)
	}
	defer rows.Close()

	run := &TestRun{TestRunSummary: *summary, Results: make([]core.TestResult, 0, summary.Total)}
	for rows.Next() {
		var encoded string
		if err := rows.Scan(&encoded); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		var r core.TestResult
		if err := json.Unmarshal([]byte(encoded), &r); err != nil {
			return nil, fmt.Errorf("failed to decode stored result: %w", err)
		}
		run.Results = append(run.Results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate results: %w", err)
	}
	return run, nil
}

// ListRuns returns the newest run headers first; limit <= 0 means 50
func (s *SQLiteTestResultStorage) ListRuns(ctx context.Context, limit int) ([]TestRunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.sqlite.ReadDB.QueryContext(ctx, `
		SELECT id, detection_kind, created_at, total, passed, failed, errored
		FROM test_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list test runs: %w", err)
	}
	defer rows.Close()

	summaries := make([]TestRunSummary, 0)
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan test run: %w", err)
		}
		summaries = append(summaries, *summary)
	}
	return summaries, rows.Err()
}

// DeleteRun removes a run; its results go with it
func (s *SQLiteTestResultStorage) DeleteRun(ctx context.Context, id string) error {
	res, err := s.sqlite.WriteDB.ExecContext(ctx, `DELETE FROM test_runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete test run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrResultNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (*TestRunSummary, error) {
	var (
		summary   TestRunSummary
		kind      string
		createdAt string
	)
	if err := row.Scan(&summary.ID, &kind, &createdAt, &summary.Total, &summary.Passed, &summary.Failed, &summary.Errored); err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
	}
	summary.Kind = core.DetectionKind(kind)
	summary.CreatedAt = ts
	return &summary, nil
}
