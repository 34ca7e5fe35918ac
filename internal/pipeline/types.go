// Package pipeline implements the case evaluation pipeline: a staged
// orchestrator that fans a case out to independent analysis tasks, runs a
// bounded validation/remediation checkpoint between the grade reader and its
// auditor, synthesizes the results, and persists every intermediate result
// durably before any dependent task may run.
//
// The pipeline is used for:
//   - Evaluating a submitted application case end to end
//   - Resuming a case whose prior run crashed mid-pipeline
//   - Replaying a case against an updated stage graph
package pipeline

import (
	"time"
)

// CaseStatus represents the lifecycle state of a case.
type CaseStatus string

const (
	CasePending    CaseStatus = "pending"     // Record exists, pipeline not started
	CaseInProgress CaseStatus = "in_progress" // Pipeline running
	CaseComplete   CaseStatus = "complete"    // All required tasks success or degraded
	CasePartial    CaseStatus = "partial"     // One or more required tasks failed
)

// Case is the unit of work: one submitted application.
// SourceText is immutable once set. Every task writes only into its own
// named result slot, which is what makes intra-stage parallelism safe.
type Case struct {
	ID         string     `json:"id"`
	SourceText string     `json:"source_text"`
	Status     CaseStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ResultStatus represents the terminal state of a task result.
type ResultStatus string

const (
	ResultSuccess  ResultStatus = "success"
	ResultFailed   ResultStatus = "failed"
	ResultSkipped  ResultStatus = "skipped"  // Required dependency failed
	ResultDegraded ResultStatus = "degraded" // Produced, but lower-trust
)

// Confidence is the ordinal confidence a task attaches to its output.
type Confidence string

const (
	ConfidenceNone     Confidence = "none"
	ConfidenceLow      Confidence = "low"
	ConfidenceMedium   Confidence = "medium"
	ConfidenceHigh     Confidence = "high"
	ConfidenceVeryHigh Confidence = "very_high"
)

// TaskResult is one task's output for one case. Results are
// append-immutable: a retry inserts a superseding row with a higher Attempt
// for the same (case, task) key; prior rows stay in the audit trail.
type TaskResult struct {
	CaseID       string       `json:"case_id"`
	TaskName     string       `json:"task_name"`
	Status       ResultStatus `json:"status"`
	Payload      string       `json:"payload"` // Task-specific JSON
	Confidence   Confidence   `json:"confidence"`
	ErrorMessage string       `json:"error_message,omitempty"` // Set iff Status is failed
	Attempt      int          `json:"attempt"`
	ProducedAt   time.Time    `json:"produced_at"`
}

// Verdict is the validator's judgment of a producer's output.
type Verdict string

const (
	VerdictAccepted         Verdict = "accepted"
	VerdictNeedsRemediation Verdict = "needs_remediation"
)

// ValidationAttempt records one round of the validation/remediation loop.
type ValidationAttempt struct {
	CaseID          string    `json:"case_id"`
	AttemptNumber   int       `json:"attempt_number"`
	ProducerOutput  string    `json:"producer_output"`
	Verdict         Verdict   `json:"verdict"`
	RemediationHint string    `json:"remediation_hint,omitempty"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// CaseOutcome is what Process returns: the final case status plus the full
// per-task result set and the names of everything that did not fully
// succeed. A partial case is never silently indistinguishable from success.
type CaseOutcome struct {
	CaseID   string                `json:"case_id"`
	Status   CaseStatus            `json:"status"`
	Results  map[string]TaskResult `json:"results"`
	Failed   []string              `json:"failed,omitempty"`
	Degraded []string              `json:"degraded,omitempty"`
	Skipped  []string              `json:"skipped,omitempty"`
	Elapsed  time.Duration         `json:"elapsed"`
}

// TaskState is the coarse per-task state carried on progress events.
type TaskState string

const (
	TaskStateStarted   TaskState = "started"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateSkipped   TaskState = "skipped"
)

// Progress is a fire-and-forget event for an external display layer.
type Progress struct {
	CaseID    string    `json:"case_id"`
	TaskName  string    `json:"task_name"`
	State     TaskState `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// Superseded reports whether other is a newer result for the same slot.
func (r TaskResult) Superseded(other TaskResult) bool {
	return other.CaseID == r.CaseID && other.TaskName == r.TaskName && other.Attempt > r.Attempt
}

// Terminal reports whether the result status is a per-task terminal state.
func (s ResultStatus) Terminal() bool {
	switch s {
	case ResultSuccess, ResultFailed, ResultSkipped, ResultDegraded:
		return true
	}
	return false
}
