// Audit logging: an append-only JSON Lines trail of every pipeline
// decision point. Unlike the category loggers, the audit trail is not
// gated on debug mode; it is part of the system's contract and records
// every case regardless of configuration. Events are never mutated or
// deleted.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType enumerates the pipeline decision points.
type AuditEventType string

const (
	AuditCaseCreated        AuditEventType = "case_created"
	AuditTaskStarted        AuditEventType = "task_started"
	AuditTaskCompleted      AuditEventType = "task_completed"
	AuditTaskFailed         AuditEventType = "task_failed"
	AuditTaskSkipped        AuditEventType = "task_skipped"
	AuditValidationAttempt  AuditEventType = "validation_attempt"
	AuditCheckpointResolved AuditEventType = "checkpoint_resolved"
	AuditPipelineCompleted  AuditEventType = "pipeline_completed"
	AuditPipelinePartial    AuditEventType = "pipeline_partial"
)

// AuditEvent is one structured audit log entry.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"` // Unix milliseconds
	EventType  AuditEventType         `json:"event"`
	CaseID     string                 `json:"case_id"`
	TaskName   string                 `json:"task,omitempty"`
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Message    string                 `json:"msg"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// AuditTrail writes audit events to a daily append-only JSONL file. It
// satisfies the orchestrator's Auditor contract.
type AuditTrail struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewAuditTrail opens (or creates) the audit file for today under
// dir/audit. The file is opened append-only; concurrent pipelines share
// one trail safely.
func NewAuditTrail(dir string) (*AuditTrail, error) {
	auditDir := filepath.Join(dir, "audit")
	if err := os.MkdirAll(auditDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	path := filepath.Join(auditDir, time.Now().Format("2006-01-02")+"_audit.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &AuditTrail{file: f, path: path}, nil
}

// Path returns the audit file location.
func (a *AuditTrail) Path() string { return a.path }

// Close closes the underlying file.
func (a *AuditTrail) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// Log appends one event. Write failures are reported to stderr rather
// than returned: audit emission must never abort the pipeline.
func (a *AuditTrail) Log(event AuditEvent) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[audit] marshal failed: %v\n", err)
		return
	}
	if _, err := a.file.Write(append(data, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "[audit] write failed: %v\n", err)
	}
}

// CaseCreated records first contact with a case.
func (a *AuditTrail) CaseCreated(caseID string, synthesized bool) {
	a.Log(AuditEvent{
		EventType: AuditCaseCreated,
		CaseID:    caseID,
		Success:   true,
		Fields:    map[string]interface{}{"synthesized_id": synthesized},
		Message:   fmt.Sprintf("Case created: %s", caseID),
	})
}

// TaskStarted records a task invocation.
func (a *AuditTrail) TaskStarted(caseID, taskName string) {
	a.Log(AuditEvent{
		EventType: AuditTaskStarted,
		CaseID:    caseID,
		TaskName:  taskName,
		Success:   true,
		Message:   fmt.Sprintf("Task started: %s", taskName),
	})
}

// TaskCompleted records a task reaching a produced terminal state.
func (a *AuditTrail) TaskCompleted(caseID, taskName, status, confidence string, elapsed time.Duration) {
	a.Log(AuditEvent{
		EventType:  AuditTaskCompleted,
		CaseID:     caseID,
		TaskName:   taskName,
		Success:    true,
		DurationMs: elapsed.Milliseconds(),
		Fields:     map[string]interface{}{"status": status, "confidence": confidence},
		Message:    fmt.Sprintf("Task completed: %s (%s, confidence=%s)", taskName, status, confidence),
	})
}

// TaskFailed records a task failing after its local retries.
func (a *AuditTrail) TaskFailed(caseID, taskName, errMsg string) {
	a.Log(AuditEvent{
		EventType: AuditTaskFailed,
		CaseID:    caseID,
		TaskName:  taskName,
		Success:   false,
		Error:     errMsg,
		Message:   fmt.Sprintf("Task failed: %s: %s", taskName, errMsg),
	})
}

// TaskSkipped records a task skipped due to a failed required dependency.
func (a *AuditTrail) TaskSkipped(caseID, taskName, reason string) {
	a.Log(AuditEvent{
		EventType: AuditTaskSkipped,
		CaseID:    caseID,
		TaskName:  taskName,
		Success:   false,
		Message:   fmt.Sprintf("Task skipped: %s (%s)", taskName, reason),
		Fields:    map[string]interface{}{"reason": reason},
	})
}

// ValidationAttempt records one rejected round of the remediation loop.
func (a *AuditTrail) ValidationAttempt(caseID string, attempt int, verdict, hint string) {
	a.Log(AuditEvent{
		EventType: AuditValidationAttempt,
		CaseID:    caseID,
		Success:   false,
		Fields:    map[string]interface{}{"attempt": attempt, "verdict": verdict, "hint": hint},
		Message:   fmt.Sprintf("Validation attempt %d: %s", attempt, verdict),
	})
}

// CheckpointResolved records the checkpoint's terminal decision.
func (a *AuditTrail) CheckpointResolved(caseID string, accepted bool, attempts int) {
	a.Log(AuditEvent{
		EventType: AuditCheckpointResolved,
		CaseID:    caseID,
		Success:   accepted,
		Fields:    map[string]interface{}{"attempts": attempts},
		Message:   fmt.Sprintf("Checkpoint resolved: accepted=%v after %d remediation(s)", accepted, attempts),
	})
}

// PipelineCompleted records the case reaching its terminal status.
func (a *AuditTrail) PipelineCompleted(caseID, status string, elapsed time.Duration) {
	eventType := AuditPipelineCompleted
	success := true
	if status == "partial" {
		eventType = AuditPipelinePartial
		success = false
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		CaseID:     caseID,
		Success:    success,
		DurationMs: elapsed.Milliseconds(),
		Fields:     map[string]interface{}{"status": status},
		Message:    fmt.Sprintf("Pipeline finished: %s (%s)", caseID, status),
	})
}
