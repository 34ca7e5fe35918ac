package pipeline_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"casewise/internal/pipeline"
	"casewise/internal/store"
)

// recordingGateway wraps the in-memory store and keeps an ordered log of
// persisted results, so tests can assert that a result was durable before
// any dependent ran.
type recordingGateway struct {
	*store.MemoryStore

	mu    sync.Mutex
	saves []savedResult

	failSave      bool
	failSaveTask  string // fail saves for this task...
	failSaveAfter int    // ...once this many of them have succeeded
}

type savedResult struct {
	TaskName string
	Status   pipeline.ResultStatus
	Attempt  int
	At       time.Time
}

func newRecordingGateway() *recordingGateway {
	return &recordingGateway{MemoryStore: store.NewMemoryStore()}
}

func (g *recordingGateway) SaveResult(ctx context.Context, r pipeline.TaskResult) error {
	g.mu.Lock()
	fail := g.failSave
	if g.failSaveTask == r.TaskName {
		prior := 0
		for _, s := range g.saves {
			if s.TaskName == r.TaskName {
				prior++
			}
		}
		fail = fail || prior >= g.failSaveAfter
	}
	if fail {
		g.mu.Unlock()
		return fmt.Errorf("gateway unavailable")
	}
	g.saves = append(g.saves, savedResult{TaskName: r.TaskName, Status: r.Status, Attempt: r.Attempt, At: time.Now()})
	g.mu.Unlock()
	return g.MemoryStore.SaveResult(ctx, r)
}

// savedBefore reports whether task a's first persisted result landed
// before task b's.
func (g *recordingGateway) savedBefore(a, b string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	ai, bi := -1, -1
	for i, s := range g.saves {
		if s.TaskName == a && ai < 0 {
			ai = i
		}
		if s.TaskName == b && bi < 0 {
			bi = i
		}
	}
	return ai >= 0 && bi >= 0 && ai < bi
}

func (g *recordingGateway) saveCount(task string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, s := range g.saves {
		if s.TaskName == task {
			n++
		}
	}
	return n
}

// recordingAuditor captures audit events as flat strings.
type recordingAuditor struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAuditor) add(format string, args ...interface{}) {
	a.mu.Lock()
	a.events = append(a.events, fmt.Sprintf(format, args...))
	a.mu.Unlock()
}

func (a *recordingAuditor) CaseCreated(caseID string, synthesized bool) {
	a.add("case_created %s synthesized=%v", caseID, synthesized)
}
func (a *recordingAuditor) TaskStarted(caseID, taskName string) {
	a.add("task_started %s", taskName)
}
func (a *recordingAuditor) TaskCompleted(caseID, taskName, status, confidence string, elapsed time.Duration) {
	a.add("task_completed %s %s", taskName, status)
}
func (a *recordingAuditor) TaskFailed(caseID, taskName, errMsg string) {
	a.add("task_failed %s", taskName)
}
func (a *recordingAuditor) TaskSkipped(caseID, taskName, reason string) {
	a.add("task_skipped %s", taskName)
}
func (a *recordingAuditor) ValidationAttempt(caseID string, attempt int, verdict, hint string) {
	a.add("validation_attempt %d %s", attempt, verdict)
}
func (a *recordingAuditor) CheckpointResolved(caseID string, accepted bool, attempts int) {
	a.add("checkpoint_resolved accepted=%v attempts=%d", accepted, attempts)
}
func (a *recordingAuditor) PipelineCompleted(caseID, status string, elapsed time.Duration) {
	a.add("pipeline_completed %s", status)
}

func (a *recordingAuditor) count(prefix string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.events {
		if len(e) >= len(prefix) && e[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

// okTask returns a task func that succeeds with a fixed payload.
func okTask(payload string) pipeline.TaskFunc {
	return func(ctx context.Context, in pipeline.TaskInput) (pipeline.TaskOutput, error) {
		return pipeline.TaskOutput{Payload: payload, Confidence: pipeline.ConfidenceHigh}, nil
	}
}

// failTask returns a task func that always errors.
func failTask(msg string) pipeline.TaskFunc {
	return func(ctx context.Context, in pipeline.TaskInput) (pipeline.TaskOutput, error) {
		return pipeline.TaskOutput{}, fmt.Errorf("%s", msg)
	}
}

// verdictTask returns a validator func that replays the given verdicts in
// order, then keeps repeating the last one.
func verdictTask(calls *int, verdicts ...pipeline.Verdict) pipeline.TaskFunc {
	i := 0
	var mu sync.Mutex
	return func(ctx context.Context, in pipeline.TaskInput) (pipeline.TaskOutput, error) {
		mu.Lock()
		v := verdicts[i]
		if i < len(verdicts)-1 {
			i++
		}
		if calls != nil {
			*calls++
		}
		mu.Unlock()

		payload, _ := json.Marshal(pipeline.ValidatorPayload{Verdict: v, Hint: "recheck row 3"})
		return pipeline.TaskOutput{Payload: string(payload), Confidence: pipeline.ConfidenceHigh}, nil
	}
}

// evalGraph builds the four-node shape most tests use:
//
//	read -> parse -> audit(validator for parse) -> summarize
func evalSpecs(parse, audit pipeline.TaskFunc) []pipeline.TaskSpec {
	return []pipeline.TaskSpec{
		{Name: "read", Required: true, Run: okTask(`{"text":"raw"}`)},
		{Name: "parse", DependsOn: []string{"read"}, Required: true, Run: parse},
		{Name: "audit", DependsOn: []string{"parse"}, Run: audit},
		{Name: "summarize", DependsOn: []string{"parse", "audit"}, Required: true, Run: okTask(`{"summary":"done"}`)},
	}
}

func mustGraph(specs []pipeline.TaskSpec) *pipeline.Graph {
	g, err := pipeline.BuildGraph(specs)
	if err != nil {
		panic(err)
	}
	return g
}
