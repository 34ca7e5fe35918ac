package pipeline

import (
	"context"
)

// TaskInput is the immutable view a task receives: the case plus the
// current results of the tasks it declared as dependencies, and nothing
// else. RemediationHint is empty except when the checkpoint re-invokes a
// producer with validator feedback.
type TaskInput struct {
	Case            Case
	Upstream        map[string]TaskResult
	RemediationHint string
}

// TaskOutput is what a task run produces on success. Degraded marks an
// output built on unknown defaults for a preferred-but-missing input; the
// result is recorded as degraded rather than success.
type TaskOutput struct {
	Payload    string // Task-specific JSON
	Confidence Confidence
	Summary    string
	Degraded   bool
}

// TaskFunc is the uniform capability contract every analysis task
// satisfies. Transient-failure retries and timeouts on the external call
// live below this boundary; an error returned here is already final for
// the attempt.
type TaskFunc func(ctx context.Context, in TaskInput) (TaskOutput, error)

// TaskSpec declares one node of the stage graph: a named task, the task
// outputs it consumes, and whether the case can complete without it.
// Adding or removing a task means editing the spec list, not the
// orchestrator.
type TaskSpec struct {
	// Name is the task's stable identity and its result slot key.
	Name string

	// DependsOn lists tasks whose persisted results this task consumes.
	DependsOn []string

	// Required marks tasks whose failure forces the case to partial.
	// Dependents of a failed required task are skipped; dependents of a
	// failed optional task run with unknown defaults.
	Required bool

	// Run executes the task. Nil only in tests.
	Run TaskFunc
}

// Upstream returns the subset of results this spec declared as
// dependencies. Missing entries are simply absent from the map; tasks
// substitute documented unknown defaults for anything they merely prefer.
func (s TaskSpec) Upstream(results map[string]TaskResult) map[string]TaskResult {
	up := make(map[string]TaskResult, len(s.DependsOn))
	for _, dep := range s.DependsOn {
		if r, ok := results[dep]; ok {
			up[dep] = r
		}
	}
	return up
}
