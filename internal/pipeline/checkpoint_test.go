package pipeline_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casewise/internal/pipeline"
)

// remediableParse succeeds every time and records the hints it was
// re-invoked with.
type remediableParse struct {
	mu    sync.Mutex
	hints []string
}

func (p *remediableParse) run(ctx context.Context, in pipeline.TaskInput) (pipeline.TaskOutput, error) {
	p.mu.Lock()
	p.hints = append(p.hints, in.RemediationHint)
	p.mu.Unlock()
	return pipeline.TaskOutput{Payload: `{"gpa":"3.8"}`, Confidence: pipeline.ConfidenceHigh}, nil
}

func TestCheckpoint_RejectTwiceThenAccept(t *testing.T) {
	ctx := context.Background()
	gw := newRecordingGateway()
	aud := &recordingAuditor{}
	parse := &remediableParse{}
	validatorCalls := 0

	orch := newOrchestrator(t, pipeline.OrchestratorConfig{
		Graph: mustGraph(evalSpecs(parse.run, verdictTask(&validatorCalls,
			pipeline.VerdictNeedsRemediation,
			pipeline.VerdictNeedsRemediation,
			pipeline.VerdictAccepted,
		))),
		Gateway:             gw,
		Auditor:             aud,
		CheckpointProducer:  "parse",
		CheckpointValidator: "audit",
		MaxRemediations:     2,
	})

	outcome, err := orch.Process(ctx, "case-rej", "text")
	require.NoError(t, err)

	assert.Equal(t, pipeline.CaseComplete, outcome.Status)
	assert.Equal(t, pipeline.ResultSuccess, outcome.Results["parse"].Status)
	assert.Equal(t, 3, outcome.Results["parse"].Attempt, "two remediation re-runs supersede the first attempt")
	assert.Equal(t, 3, validatorCalls)

	// First run plus two remediated runs, each carrying the hint.
	assert.Equal(t, []string{"", "recheck row 3", "recheck row 3"}, parse.hints)

	// Exactly one ValidationAttempt per rejection, none for the acceptance.
	attempts, err := gw.ListValidationAttempts(ctx, "case-rej")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, 1, attempts[0].AttemptNumber)
	assert.Equal(t, 2, attempts[1].AttemptNumber)
	for _, va := range attempts {
		assert.Equal(t, pipeline.VerdictNeedsRemediation, va.Verdict)
		assert.Equal(t, "recheck row 3", va.RemediationHint)
		assert.NotEmpty(t, va.ProducerOutput)
	}

	assert.Equal(t, 1, aud.count("checkpoint_resolved accepted=true attempts=2"))
}

func TestCheckpoint_ExhaustionDegradesProducer(t *testing.T) {
	ctx := context.Background()
	gw := newRecordingGateway()
	aud := &recordingAuditor{}
	validatorCalls := 0

	orch := newOrchestrator(t, pipeline.OrchestratorConfig{
		Graph: mustGraph(evalSpecs(okTask(`{"gpa":"?"}`),
			verdictTask(&validatorCalls, pipeline.VerdictNeedsRemediation))),
		Gateway:             gw,
		Auditor:             aud,
		CheckpointProducer:  "parse",
		CheckpointValidator: "audit",
		MaxRemediations:     2,
	})

	outcome, err := orch.Process(ctx, "case-exh", "text")
	require.NoError(t, err)

	// Bounded: max+1 validator calls, then the loop stops for good.
	assert.Equal(t, 3, validatorCalls)
	assert.Equal(t, pipeline.ResultDegraded, outcome.Results["parse"].Status, "exhaustion degrades, never fails")
	assert.Equal(t, pipeline.ConfidenceLow, outcome.Results["parse"].Confidence)
	assert.Equal(t, pipeline.CaseComplete, outcome.Status)
	assert.Contains(t, outcome.Degraded, "parse")

	// Downstream still ran on the degraded output.
	assert.Equal(t, pipeline.ResultSuccess, outcome.Results["summarize"].Status)

	attempts, err := gw.ListValidationAttempts(ctx, "case-exh")
	require.NoError(t, err)
	assert.Len(t, attempts, 2)
	assert.Equal(t, 1, aud.count("checkpoint_resolved accepted=false attempts=2"))

	// The degraded row supersedes rather than overwrites.
	assert.Equal(t, 4, gw.saveCount("parse"), "initial run, two re-runs, one degrading row")
}

func TestCheckpoint_BrokenValidatorDoesNotGate(t *testing.T) {
	gw := newRecordingGateway()
	orch := newOrchestrator(t, pipeline.OrchestratorConfig{
		Graph:               mustGraph(evalSpecs(okTask(`{"gpa":"3.8"}`), failTask("validator crashed"))),
		Gateway:             gw,
		CheckpointProducer:  "parse",
		CheckpointValidator: "audit",
	})

	outcome, err := orch.Process(context.Background(), "case-bval", "text")
	require.NoError(t, err)

	assert.Equal(t, pipeline.ResultSuccess, outcome.Results["parse"].Status, "producer output survives a validator failure")
	assert.Equal(t, pipeline.ResultFailed, outcome.Results["audit"].Status)
	assert.Equal(t, pipeline.CaseComplete, outcome.Status)

	attempts, err := gw.ListValidationAttempts(context.Background(), "case-bval")
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

func TestCheckpoint_ValidatorPersistFailureAborts(t *testing.T) {
	// Losing the gateway mid-checkpoint is an infrastructure failure, not
	// a broken validator: Process must surface it rather than resolving
	// the case complete with nothing persisted for the validator slot.
	gw := newRecordingGateway()
	gw.failSaveTask = "audit"

	orch := newOrchestrator(t, pipeline.OrchestratorConfig{
		Graph:               mustGraph(evalSpecs(okTask(`{"gpa":"3.8"}`), verdictTask(nil, pipeline.VerdictAccepted))),
		Gateway:             gw,
		CheckpointProducer:  "parse",
		CheckpointValidator: "audit",
	})

	_, err := orch.Process(context.Background(), "case-vgw", "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit")
}

func TestCheckpoint_RemediatedPersistFailureAborts(t *testing.T) {
	// The producer's first save succeeds; persisting its remediated
	// re-run fails. That must abort, not silently degrade.
	gw := newRecordingGateway()
	gw.failSaveTask = "parse"
	gw.failSaveAfter = 1

	orch := newOrchestrator(t, pipeline.OrchestratorConfig{
		Graph:               mustGraph(evalSpecs(okTask(`{"gpa":"3.8"}`), verdictTask(nil, pipeline.VerdictNeedsRemediation))),
		Gateway:             gw,
		CheckpointProducer:  "parse",
		CheckpointValidator: "audit",
	})

	_, err := orch.Process(context.Background(), "case-pgw", "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestCheckpoint_UnparseableVerdictCountsAsAcceptance(t *testing.T) {
	gw := newRecordingGateway()
	orch := newOrchestrator(t, pipeline.OrchestratorConfig{
		Graph:               mustGraph(evalSpecs(okTask(`{"gpa":"3.8"}`), okTask("the grades look fine to me"))),
		Gateway:             gw,
		CheckpointProducer:  "parse",
		CheckpointValidator: "audit",
	})

	outcome, err := orch.Process(context.Background(), "case-prose", "text")
	require.NoError(t, err)

	assert.Equal(t, pipeline.CaseComplete, outcome.Status)
	assert.Equal(t, pipeline.ResultSuccess, outcome.Results["parse"].Status)
	attempts, err := gw.ListValidationAttempts(context.Background(), "case-prose")
	require.NoError(t, err)
	assert.Empty(t, attempts, "prose that names no rejection must not spin the loop")
}

func TestCheckpoint_RemediatedRunFailureKeepsPriorOutput(t *testing.T) {
	gw := newRecordingGateway()

	// First run succeeds, the remediated re-run errors out.
	first := true
	var mu sync.Mutex
	parse := func(ctx context.Context, in pipeline.TaskInput) (pipeline.TaskOutput, error) {
		mu.Lock()
		defer mu.Unlock()
		if first {
			first = false
			return pipeline.TaskOutput{Payload: `{"gpa":"3.8"}`, Confidence: pipeline.ConfidenceHigh}, nil
		}
		return pipeline.TaskOutput{}, context.DeadlineExceeded
	}

	orch := newOrchestrator(t, pipeline.OrchestratorConfig{
		Graph:               mustGraph(evalSpecs(parse, verdictTask(nil, pipeline.VerdictNeedsRemediation))),
		Gateway:             gw,
		CheckpointProducer:  "parse",
		CheckpointValidator: "audit",
	})

	outcome, err := orch.Process(context.Background(), "case-rerun", "text")
	require.NoError(t, err)

	parseRes := outcome.Results["parse"]
	assert.Equal(t, pipeline.ResultDegraded, parseRes.Status)
	assert.Equal(t, `{"gpa":"3.8"}`, parseRes.Payload, "prior output is kept, downgraded")
	assert.Equal(t, pipeline.CaseComplete, outcome.Status)
}
