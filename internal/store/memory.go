package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"casewise/internal/pipeline"
)

// MemoryStore is an in-memory pipeline.Gateway with the same superseding
// semantics as the SQLite store. It backs unit tests and dry runs.
type MemoryStore struct {
	mu       sync.RWMutex
	cases    map[string]pipeline.Case
	results  map[string][]pipeline.TaskResult // keyed by case_id/task_name
	attempts map[string][]pipeline.ValidationAttempt
}

// NewMemoryStore returns an empty in-memory gateway.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cases:    make(map[string]pipeline.Case),
		results:  make(map[string][]pipeline.TaskResult),
		attempts: make(map[string][]pipeline.ValidationAttempt),
	}
}

func slotKey(caseID, taskName string) string {
	return caseID + "/" + taskName
}

// CreateCase mirrors the SQLite semantics: empty id synthesizes one, and
// re-creating an existing case returns the stored record unchanged.
func (m *MemoryStore) CreateCase(_ context.Context, id, sourceText string) (pipeline.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	if c, ok := m.cases[id]; ok {
		return c, nil
	}

	c := pipeline.Case{
		ID:         id,
		SourceText: sourceText,
		Status:     pipeline.CasePending,
		CreatedAt:  time.Now().UTC(),
	}
	m.cases[id] = c
	return c, nil
}

// GetCase returns the stored case record.
func (m *MemoryStore) GetCase(_ context.Context, id string) (pipeline.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.cases[id]
	if !ok {
		return pipeline.Case{}, fmt.Errorf("case %s not found", id)
	}
	return c, nil
}

// SetCaseStatus updates the case lifecycle state.
func (m *MemoryStore) SetCaseStatus(_ context.Context, id string, status pipeline.CaseStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cases[id]
	if !ok {
		return fmt.Errorf("case %s not found", id)
	}
	c.Status = status
	m.cases[id] = c
	return nil
}

// SaveResult appends a task result row. A duplicate attempt number for
// the same slot is rejected, matching the SQLite unique constraint:
// superseding a result means writing a higher attempt, never replacing.
func (m *MemoryStore) SaveResult(_ context.Context, r pipeline.TaskResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := slotKey(r.CaseID, r.TaskName)
	for _, prior := range m.results[key] {
		if prior.Attempt == r.Attempt {
			return fmt.Errorf("result %s/%s attempt %d already exists", r.CaseID, r.TaskName, r.Attempt)
		}
	}
	m.results[key] = append(m.results[key], r)
	return nil
}

// GetResult returns the current (highest-attempt) result for a slot.
func (m *MemoryStore) GetResult(_ context.Context, caseID, taskName string) (*pipeline.TaskResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.results[slotKey(caseID, taskName)]
	if len(rows) == 0 {
		return nil, nil
	}
	cur := rows[0]
	for _, r := range rows[1:] {
		if r.Attempt > cur.Attempt {
			cur = r
		}
	}
	return &cur, nil
}

// ListResults returns the current result per task for a case.
func (m *MemoryStore) ListResults(_ context.Context, caseID string) (map[string]pipeline.TaskResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]pipeline.TaskResult)
	for _, rows := range m.results {
		for _, r := range rows {
			if r.CaseID != caseID {
				continue
			}
			if cur, ok := out[r.TaskName]; !ok || r.Attempt > cur.Attempt {
				out[r.TaskName] = r
			}
		}
	}
	return out, nil
}

// History returns every persisted row for a slot, oldest first. Test
// helper; the superseded rows are what the audit trail sees.
func (m *MemoryStore) History(caseID, taskName string) []pipeline.TaskResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.results[slotKey(caseID, taskName)]
	out := make([]pipeline.TaskResult, len(rows))
	copy(out, rows)
	return out
}

// SaveValidationAttempt appends one remediation-loop record.
func (m *MemoryStore) SaveValidationAttempt(_ context.Context, va pipeline.ValidationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[va.CaseID] = append(m.attempts[va.CaseID], va)
	return nil
}

// ListValidationAttempts returns a case's remediation records in order.
func (m *MemoryStore) ListValidationAttempts(_ context.Context, caseID string) ([]pipeline.ValidationAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]pipeline.ValidationAttempt, len(m.attempts[caseID]))
	copy(out, m.attempts[caseID])
	return out, nil
}
