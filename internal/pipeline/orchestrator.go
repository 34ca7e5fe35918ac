package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/sync/errgroup"

	"casewise/internal/logging"
)

// Orchestrator drives cases through the stage graph. It is safe for
// concurrent use: all per-case state lives inside Process, so independent
// cases never share mutable state.
type Orchestrator struct {
	graph   *Graph
	gateway Gateway
	auditor Auditor

	checkpointProducer  string
	checkpointValidator string
	maxRemediations     int

	taskTimeout           time.Duration
	degradedForcesPartial bool
	resume                bool

	progressChan chan<- Progress
	tracer       trace.Tracer
}

// OrchestratorConfig holds the orchestrator's collaborators and policy.
type OrchestratorConfig struct {
	Graph   *Graph
	Gateway Gateway
	Auditor Auditor

	// CheckpointProducer/Validator name the two tasks the validation/
	// remediation loop runs between. Both must exist in the graph and the
	// validator must depend on the producer.
	CheckpointProducer  string
	CheckpointValidator string
	MaxRemediations     int // remediation rounds before degrading (default 2)

	TaskTimeout time.Duration // per-task invocation timeout (default 120s)

	// DegradedForcesPartial decides whether a degraded required result
	// disqualifies the case from completing. Default false: degraded
	// results are best-effort data, not failures.
	DegradedForcesPartial bool

	// Resume makes Process skip tasks whose current persisted result is
	// already success or degraded. Failed and skipped slots re-run.
	Resume bool

	// ProgressChan receives fire-and-forget task state events. Sends
	// never block; a slow or absent consumer drops events.
	ProgressChan chan<- Progress
}

// NewOrchestrator validates the configuration and returns an orchestrator.
// Configuration errors (unknown checkpoint tasks, missing edge) are
// returned here, before any case is accepted.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Graph == nil {
		return nil, errors.New("orchestrator: stage graph required")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("orchestrator: persistence gateway required")
	}
	if cfg.Auditor == nil {
		cfg.Auditor = NopAuditor{}
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 120 * time.Second
	}
	if cfg.MaxRemediations <= 0 {
		cfg.MaxRemediations = 2
	}

	if cfg.CheckpointProducer != "" || cfg.CheckpointValidator != "" {
		prod, ok := cfg.Graph.Spec(cfg.CheckpointProducer)
		if !ok {
			return nil, fmt.Errorf("orchestrator: checkpoint producer %q not in graph", cfg.CheckpointProducer)
		}
		val, ok := cfg.Graph.Spec(cfg.CheckpointValidator)
		if !ok {
			return nil, fmt.Errorf("orchestrator: checkpoint validator %q not in graph", cfg.CheckpointValidator)
		}
		found := false
		for _, dep := range val.DependsOn {
			if dep == prod.Name {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("orchestrator: validator %q does not depend on producer %q", val.Name, prod.Name)
		}
	}

	return &Orchestrator{
		graph:                 cfg.Graph,
		gateway:               cfg.Gateway,
		auditor:               cfg.Auditor,
		checkpointProducer:    cfg.CheckpointProducer,
		checkpointValidator:   cfg.CheckpointValidator,
		maxRemediations:       cfg.MaxRemediations,
		taskTimeout:           cfg.TaskTimeout,
		degradedForcesPartial: cfg.DegradedForcesPartial,
		resume:                cfg.Resume,
		progressChan:          cfg.ProgressChan,
		tracer:                otel.Tracer("casewise/pipeline"),
	}, nil
}

// Process drives one case to a terminal status. Individual task errors
// never escape: they are embedded in the returned CaseOutcome. Only
// gateway unavailability and context cancellation abort processing.
func (o *Orchestrator) Process(ctx context.Context, caseID, sourceText string) (CaseOutcome, error) {
	start := time.Now()

	// A durable case record exists before anything runs, so every task
	// has somewhere to write even if we crash mid-pipeline.
	c, err := o.gateway.CreateCase(ctx, caseID, sourceText)
	if err != nil {
		return CaseOutcome{}, fmt.Errorf("orchestrator: create case: %w", err)
	}
	o.auditor.CaseCreated(c.ID, caseID == "")
	logging.Pipeline("Case %s accepted (%d bytes of source)", c.ID, len(c.SourceText))

	if err := o.gateway.SetCaseStatus(ctx, c.ID, CaseInProgress); err != nil {
		return CaseOutcome{}, fmt.Errorf("orchestrator: mark in_progress: %w", err)
	}
	c.Status = CaseInProgress

	results, base, err := o.seedResults(ctx, c.ID)
	if err != nil {
		return CaseOutcome{}, err
	}

	for _, stage := range o.graph.Stages() {
		if err := o.runStage(ctx, c, stage, results, base); err != nil {
			return CaseOutcome{}, err
		}
	}

	outcome := o.settle(c.ID, results, time.Since(start))
	if err := o.gateway.SetCaseStatus(ctx, c.ID, outcome.Status); err != nil {
		return CaseOutcome{}, fmt.Errorf("orchestrator: persist final status: %w", err)
	}
	o.auditor.PipelineCompleted(c.ID, string(outcome.Status), outcome.Elapsed)
	logging.Pipeline("Case %s finished %s (failed=%d degraded=%d skipped=%d)",
		c.ID, outcome.Status, len(outcome.Failed), len(outcome.Degraded), len(outcome.Skipped))

	return outcome, nil
}

// seedResults loads any already-persisted current results so a resumed
// case does not re-invoke tasks whose output is already durable. Failed
// and skipped slots are dropped from the seed: they get a fresh attempt.
// The second map carries each slot's highest persisted attempt number so
// re-runs write superseding rows instead of colliding with prior ones;
// it is populated whether or not resume is on, since results are
// append-immutable either way.
func (o *Orchestrator) seedResults(ctx context.Context, caseID string) (map[string]TaskResult, map[string]int, error) {
	results := make(map[string]TaskResult)
	base := make(map[string]int)

	persisted, err := o.gateway.ListResults(ctx, caseID)
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: load persisted results: %w", err)
	}
	for name, r := range persisted {
		base[name] = r.Attempt
		if o.resume && (r.Status == ResultSuccess || r.Status == ResultDegraded) {
			results[name] = r
		}
	}
	if len(results) > 0 {
		logging.Pipeline("Case %s resuming with %d persisted results", caseID, len(results))
	}
	return results, base, nil
}

// runStage executes one stage: skips blocked tasks, fans the rest out
// concurrently, and barrier-waits. Sibling failures never cancel each
// other; only gateway errors propagate.
func (o *Orchestrator) runStage(ctx context.Context, c Case, stage []string, results map[string]TaskResult, base map[string]int) error {
	var runnable []TaskSpec
	checkpointHere := false

	for _, name := range stage {
		spec, _ := o.graph.Spec(name)

		if _, done := results[name]; done {
			logging.PipelineDebug("Case %s: task %s already persisted, skipping", c.ID, name)
			continue
		}

		if dep, blocked := o.graph.RequiredFailureBlocks(name, results); blocked {
			skipped := TaskResult{
				CaseID:       c.ID,
				TaskName:     name,
				Status:       ResultSkipped,
				Confidence:   ConfidenceNone,
				ErrorMessage: fmt.Sprintf("required dependency %s failed", dep),
				Attempt:      base[name] + 1,
				ProducedAt:   time.Now().UTC(),
			}
			if err := o.gateway.SaveResult(ctx, skipped); err != nil {
				return fmt.Errorf("orchestrator: persist skipped result: %w", err)
			}
			results[name] = skipped
			o.auditor.TaskSkipped(c.ID, name, skipped.ErrorMessage)
			o.emitProgress(c.ID, name, TaskStateSkipped)
			continue
		}

		if name == o.checkpointValidator && o.checkpointValidator != "" {
			checkpointHere = true
			continue
		}

		runnable = append(runnable, spec)
	}

	// Fan out the stage's independent tasks and barrier-wait. Inputs are
	// snapshotted before launch: siblings never depend on each other, so
	// the results map is read-only while the group runs.
	var mu sync.Mutex
	var g errgroup.Group
	for _, spec := range runnable {
		spec := spec
		in := TaskInput{Case: c, Upstream: spec.Upstream(results)}
		g.Go(func() error {
			res, err := o.invokeTask(ctx, spec, in, base[spec.Name]+1)
			if err != nil {
				return err
			}
			mu.Lock()
			results[spec.Name] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if checkpointHere {
		// The checkpoint settles both the validator slot and, possibly,
		// a superseding producer slot.
		validator, _ := o.graph.Spec(o.checkpointValidator)
		if err := o.runCheckpoint(ctx, c, validator, results, base); err != nil {
			return err
		}
	}
	return nil
}

// runCheckpoint resolves the validation/remediation loop at the
// designated node.
func (o *Orchestrator) runCheckpoint(ctx context.Context, c Case, validator TaskSpec, results map[string]TaskResult, base map[string]int) error {
	producer, _ := o.graph.Spec(o.checkpointProducer)
	cp := NewCheckpoint(producer, validator, o.maxRemediations, o.gateway, o.auditor, o.invokeTask)
	cp.ValidatorAttemptBase = base[validator.Name]

	resolution, err := cp.Resolve(ctx, c, results)
	if err != nil {
		return err
	}
	results[producer.Name] = resolution.Producer
	if resolution.Validator.TaskName != "" {
		results[validator.Name] = resolution.Validator
	}
	return nil
}

// invokeTask runs a single task attempt with timeout and tracing, builds
// its TaskResult, and persists it durably before returning. The returned
// error is infrastructure-only; task failures come back as a failed
// TaskResult.
func (o *Orchestrator) invokeTask(ctx context.Context, spec TaskSpec, in TaskInput, attempt int) (TaskResult, error) {
	o.auditor.TaskStarted(in.Case.ID, spec.Name)
	o.emitProgress(in.Case.ID, spec.Name, TaskStateStarted)
	started := time.Now()

	ctx, span := o.tracer.Start(ctx, "task."+spec.Name,
		trace.WithAttributes(
			attribute.String("case.id", in.Case.ID),
			attribute.Int("task.attempt", attempt),
		))
	defer span.End()

	taskCtx, cancel := context.WithTimeout(ctx, o.taskTimeout)
	out, runErr := spec.Run(taskCtx, in)
	cancel()

	res := TaskResult{
		CaseID:     in.Case.ID,
		TaskName:   spec.Name,
		Attempt:    attempt,
		ProducedAt: time.Now().UTC(),
	}
	if runErr != nil {
		span.RecordError(runErr)
		res.Status = ResultFailed
		res.Confidence = ConfidenceNone
		res.ErrorMessage = runErr.Error()
	} else {
		res.Status = ResultSuccess
		if out.Degraded {
			res.Status = ResultDegraded
		}
		res.Payload = out.Payload
		res.Confidence = out.Confidence
	}

	// Immediate persistence: the result is durable before any dependent
	// becomes eligible, which is what makes crash recovery safe.
	if err := o.gateway.SaveResult(ctx, res); err != nil {
		return TaskResult{}, fmt.Errorf("orchestrator: persist result for %s: %w", spec.Name, err)
	}

	elapsed := time.Since(started)
	if runErr != nil {
		o.auditor.TaskFailed(in.Case.ID, spec.Name, res.ErrorMessage)
		o.emitProgress(in.Case.ID, spec.Name, TaskStateFailed)
		logging.Pipeline("Case %s: task %s failed after %s: %v", in.Case.ID, spec.Name, elapsed.Round(time.Millisecond), runErr)
	} else {
		o.auditor.TaskCompleted(in.Case.ID, spec.Name, string(res.Status), string(res.Confidence), elapsed)
		o.emitProgress(in.Case.ID, spec.Name, TaskStateCompleted)
		logging.PipelineDebug("Case %s: task %s completed in %s", in.Case.ID, spec.Name, elapsed.Round(time.Millisecond))
	}
	return res, nil
}

// settle derives the terminal case status from the result set.
func (o *Orchestrator) settle(caseID string, results map[string]TaskResult, elapsed time.Duration) CaseOutcome {
	outcome := CaseOutcome{
		CaseID:  caseID,
		Status:  CaseComplete,
		Results: make(map[string]TaskResult, len(results)),
		Elapsed: elapsed,
	}

	for _, name := range o.graph.Tasks() {
		r, ok := results[name]
		if !ok {
			continue
		}
		outcome.Results[name] = r
		spec, _ := o.graph.Spec(name)

		switch r.Status {
		case ResultFailed:
			outcome.Failed = append(outcome.Failed, name)
			if spec.Required {
				outcome.Status = CasePartial
			}
		case ResultSkipped:
			outcome.Skipped = append(outcome.Skipped, name)
			if spec.Required {
				outcome.Status = CasePartial
			}
		case ResultDegraded:
			outcome.Degraded = append(outcome.Degraded, name)
			if spec.Required && o.degradedForcesPartial {
				outcome.Status = CasePartial
			}
		}
	}
	return outcome
}

// emitProgress sends a progress event without ever blocking the pipeline.
func (o *Orchestrator) emitProgress(caseID, taskName string, state TaskState) {
	if o.progressChan == nil {
		return
	}
	select {
	case o.progressChan <- Progress{CaseID: caseID, TaskName: taskName, State: state, Timestamp: time.Now()}:
	default:
		// Consumer slow or absent, drop.
	}
}
