// Package store implements the persistence gateway on SQLite. Results are
// append-only: a retry inserts a superseding row keyed by a higher attempt
// number, so the full history of every slot survives for audit while reads
// always see the current row.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"casewise/internal/logging"
	"casewise/internal/pipeline"
)

// SQLiteStore implements pipeline.Gateway on a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewSQLiteStore opens (or creates) the database at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("SQLite store ready at %s", path)
	return s, nil
}

// initialize creates the required tables.
func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cases (
		id TEXT PRIMARY KEY,
		source_text TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS task_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		case_id TEXT NOT NULL,
		task_name TEXT NOT NULL,
		status TEXT NOT NULL,
		payload TEXT,
		confidence TEXT,
		error_message TEXT,
		attempt INTEGER NOT NULL DEFAULT 1,
		produced_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(case_id, task_name, attempt)
	);
	CREATE INDEX IF NOT EXISTS idx_results_case ON task_results(case_id);
	CREATE INDEX IF NOT EXISTS idx_results_slot ON task_results(case_id, task_name);

	CREATE TABLE IF NOT EXISTS validation_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		case_id TEXT NOT NULL,
		attempt_number INTEGER NOT NULL,
		producer_output TEXT,
		verdict TEXT NOT NULL,
		remediation_hint TEXT,
		recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_validation_case ON validation_attempts(case_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateCase persists a case record, synthesizing an id when none is
// supplied. Creating an existing case returns the stored record unchanged:
// SourceText is immutable once set.
func (s *SQLiteStore) CreateCase(ctx context.Context, id, sourceText string) (pipeline.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO cases (id, source_text, status, created_at) VALUES (?, ?, ?, ?)`,
		id, sourceText, string(pipeline.CasePending), now)
	if err != nil {
		return pipeline.Case{}, fmt.Errorf("create case: %w", err)
	}

	return s.getCaseLocked(ctx, id)
}

// GetCase returns the stored case record.
func (s *SQLiteStore) GetCase(ctx context.Context, id string) (pipeline.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getCaseLocked(ctx, id)
}

func (s *SQLiteStore) getCaseLocked(ctx context.Context, id string) (pipeline.Case, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_text, status, created_at FROM cases WHERE id = ?`, id)

	var c pipeline.Case
	var status string
	if err := row.Scan(&c.ID, &c.SourceText, &status, &c.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return pipeline.Case{}, fmt.Errorf("case %s not found", id)
		}
		return pipeline.Case{}, fmt.Errorf("get case: %w", err)
	}
	c.Status = pipeline.CaseStatus(status)
	return c, nil
}

// SetCaseStatus updates the case lifecycle state.
func (s *SQLiteStore) SetCaseStatus(ctx context.Context, id string, status pipeline.CaseStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE cases SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("set case status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("case %s not found", id)
	}
	logging.StoreDebug("Case %s status -> %s", id, status)
	return nil
}

// SaveResult appends a task result row. Rows are append-immutable: a
// retry writes a new row with a higher attempt number, and a duplicate
// (case_id, task_name, attempt) is rejected by the unique constraint so
// superseded history is never destroyed.
func (s *SQLiteStore) SaveResult(ctx context.Context, r pipeline.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_results
		 (case_id, task_name, status, payload, confidence, error_message, attempt, produced_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CaseID, r.TaskName, string(r.Status), r.Payload, string(r.Confidence),
		r.ErrorMessage, r.Attempt, r.ProducedAt)
	if err != nil {
		return fmt.Errorf("save result %s/%s: %w", r.CaseID, r.TaskName, err)
	}
	logging.StoreDebug("Saved result %s/%s attempt=%d status=%s", r.CaseID, r.TaskName, r.Attempt, r.Status)
	return nil
}

// GetResult returns the current (highest-attempt) result for a slot, or
// nil if none exists.
func (s *SQLiteStore) GetResult(ctx context.Context, caseID, taskName string) (*pipeline.TaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT case_id, task_name, status, payload, confidence, error_message, attempt, produced_at
		 FROM task_results
		 WHERE case_id = ? AND task_name = ?
		 ORDER BY attempt DESC LIMIT 1`,
		caseID, taskName)

	r, err := scanResult(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get result %s/%s: %w", caseID, taskName, err)
	}
	return &r, nil
}

// ListResults returns the current result per task for a case.
func (s *SQLiteStore) ListResults(ctx context.Context, caseID string) (map[string]pipeline.TaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT r.case_id, r.task_name, r.status, r.payload, r.confidence, r.error_message, r.attempt, r.produced_at
		 FROM task_results r
		 JOIN (
			SELECT case_id, task_name, MAX(attempt) AS attempt
			FROM task_results WHERE case_id = ?
			GROUP BY case_id, task_name
		 ) cur ON r.case_id = cur.case_id AND r.task_name = cur.task_name AND r.attempt = cur.attempt`,
		caseID)
	if err != nil {
		return nil, fmt.Errorf("list results %s: %w", caseID, err)
	}
	defer rows.Close()

	results := make(map[string]pipeline.TaskResult)
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("list results %s: %w", caseID, err)
		}
		results[r.TaskName] = r
	}
	return results, rows.Err()
}

// SaveValidationAttempt appends one remediation-loop record.
func (s *SQLiteStore) SaveValidationAttempt(ctx context.Context, va pipeline.ValidationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO validation_attempts
		 (case_id, attempt_number, producer_output, verdict, remediation_hint, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		va.CaseID, va.AttemptNumber, va.ProducerOutput, string(va.Verdict), va.RemediationHint, va.RecordedAt)
	if err != nil {
		return fmt.Errorf("save validation attempt: %w", err)
	}
	return nil
}

// ListValidationAttempts returns a case's remediation records in order.
func (s *SQLiteStore) ListValidationAttempts(ctx context.Context, caseID string) ([]pipeline.ValidationAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT case_id, attempt_number, producer_output, verdict, remediation_hint, recorded_at
		 FROM validation_attempts WHERE case_id = ? ORDER BY attempt_number`,
		caseID)
	if err != nil {
		return nil, fmt.Errorf("list validation attempts: %w", err)
	}
	defer rows.Close()

	var attempts []pipeline.ValidationAttempt
	for rows.Next() {
		var va pipeline.ValidationAttempt
		var verdict string
		if err := rows.Scan(&va.CaseID, &va.AttemptNumber, &va.ProducerOutput, &verdict, &va.RemediationHint, &va.RecordedAt); err != nil {
			return nil, fmt.Errorf("list validation attempts: %w", err)
		}
		va.Verdict = pipeline.Verdict(verdict)
		attempts = append(attempts, va)
	}
	return attempts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanResult(row rowScanner) (pipeline.TaskResult, error) {
	var r pipeline.TaskResult
	var status, confidence string
	err := row.Scan(&r.CaseID, &r.TaskName, &status, &r.Payload, &confidence,
		&r.ErrorMessage, &r.Attempt, &r.ProducedAt)
	if err != nil {
		return pipeline.TaskResult{}, err
	}
	r.Status = pipeline.ResultStatus(status)
	r.Confidence = pipeline.Confidence(confidence)
	return r, nil
}
