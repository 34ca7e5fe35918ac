package pipeline

import (
	"context"
	"time"
)

// Gateway is the persistence boundary the orchestrator drives. Writes are
// append/idempotent: SaveResult inserts a superseding row rather than
// mutating a prior one, so concurrent task completions never contend.
// The SQLite implementation lives in internal/store; tests use an
// in-memory one.
type Gateway interface {
	// CreateCase persists a case record. An empty id means the caller has
	// no identity for the case yet; the gateway synthesizes one. Creating
	// an already-existing case returns the existing record unchanged.
	CreateCase(ctx context.Context, id, sourceText string) (Case, error)

	GetCase(ctx context.Context, id string) (Case, error)
	SetCaseStatus(ctx context.Context, id string, status CaseStatus) error

	// SaveResult durably appends a task result. The orchestrator calls
	// this before releasing any task that depends on the result.
	SaveResult(ctx context.Context, res TaskResult) error

	// GetResult returns the current (highest-attempt) result for the
	// slot, or nil if none exists.
	GetResult(ctx context.Context, caseID, taskName string) (*TaskResult, error)

	// ListResults returns the current result per task for a case.
	ListResults(ctx context.Context, caseID string) (map[string]TaskResult, error)

	SaveValidationAttempt(ctx context.Context, va ValidationAttempt) error
	ListValidationAttempts(ctx context.Context, caseID string) ([]ValidationAttempt, error)
}

// Auditor is the append-only event sink for pipeline decision points.
// Statuses travel as plain strings so sinks need no dependency on this
// package. The JSONL implementation lives in internal/logging.
type Auditor interface {
	CaseCreated(caseID string, synthesized bool)
	TaskStarted(caseID, taskName string)
	TaskCompleted(caseID, taskName, status, confidence string, elapsed time.Duration)
	TaskFailed(caseID, taskName, errMsg string)
	TaskSkipped(caseID, taskName, reason string)
	ValidationAttempt(caseID string, attempt int, verdict, hint string)
	CheckpointResolved(caseID string, accepted bool, attempts int)
	PipelineCompleted(caseID, status string, elapsed time.Duration)
}

// NopAuditor discards all events. Used when no audit sink is configured.
type NopAuditor struct{}

func (NopAuditor) CaseCreated(string, bool)                                   {}
func (NopAuditor) TaskStarted(string, string)                                 {}
func (NopAuditor) TaskCompleted(string, string, string, string, time.Duration) {}
func (NopAuditor) TaskFailed(string, string, string)                          {}
func (NopAuditor) TaskSkipped(string, string, string)                         {}
func (NopAuditor) ValidationAttempt(string, int, string, string)              {}
func (NopAuditor) CheckpointResolved(string, bool, int)                       {}
func (NopAuditor) PipelineCompleted(string, string, time.Duration)            {}
