package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ValidatorPayload is the JSON shape a validator task's payload must
// follow for the checkpoint to read its verdict.
type ValidatorPayload struct {
	Verdict Verdict `json:"verdict"`
	Hint    string  `json:"hint,omitempty"`
	Notes   string  `json:"notes,omitempty"`
}

// CheckpointResolution is what the checkpoint hands back to the
// orchestrator once the loop settles.
type CheckpointResolution struct {
	Producer  TaskResult
	Validator TaskResult
	Accepted  bool
	Attempts  int // remediation rounds actually recorded
}

// Checkpoint runs the bounded bidirectional validation/remediation loop
// between a producer task and a validator task. The validator inspects the
// producer's current output; on rejection the producer is re-invoked with
// the validator's hint as targeted context, up to MaxAttempts rounds.
// Exhausting the bound tags the producer's result degraded rather than
// failed: the pipeline proceeds with best-effort data instead of stalling.
type Checkpoint struct {
	Producer    TaskSpec
	Validator   TaskSpec
	MaxAttempts int

	// ValidatorAttemptBase offsets validator attempt numbers past any
	// rows a prior run of the same case already persisted, so re-run
	// validations supersede instead of colliding.
	ValidatorAttemptBase int

	gateway Gateway
	auditor Auditor
	invoke  invokeFunc
}

// invokeFunc runs one task attempt and persists its result. Supplied by
// the orchestrator so checkpoint-driven runs share the same retry,
// timeout, and persistence path as ordinary task runs.
type invokeFunc func(ctx context.Context, spec TaskSpec, in TaskInput, attempt int) (TaskResult, error)

// NewCheckpoint wires a checkpoint between two declared tasks.
func NewCheckpoint(producer, validator TaskSpec, maxAttempts int, gw Gateway, aud Auditor, invoke invokeFunc) *Checkpoint {
	if maxAttempts <= 0 {
		maxAttempts = 2
	}
	return &Checkpoint{
		Producer:    producer,
		Validator:   validator,
		MaxAttempts: maxAttempts,
		gateway:     gw,
		auditor:     aud,
		invoke:      invoke,
	}
}

// Resolve drives the loop to a terminal state. It terminates within
// MaxAttempts+1 validator calls regardless of the validator's verdicts.
func (cp *Checkpoint) Resolve(ctx context.Context, c Case, results map[string]TaskResult) (CheckpointResolution, error) {
	producer, ok := results[cp.Producer.Name]
	if !ok {
		return CheckpointResolution{}, fmt.Errorf("checkpoint: no result for producer %q", cp.Producer.Name)
	}

	remediations := 0
	for {
		// Validator sees the case plus the producer's current output.
		upstream := cp.Validator.Upstream(results)
		upstream[cp.Producer.Name] = producer

		valRes, err := cp.invoke(ctx, cp.Validator, TaskInput{Case: c, Upstream: upstream}, cp.ValidatorAttemptBase+remediations+1)
		if err != nil {
			// invoke only errors on infrastructure failure (the persist
			// inside it); task failures come back as a failed result.
			return CheckpointResolution{}, fmt.Errorf("checkpoint: run validator %s: %w", cp.Validator.Name, err)
		}
		if valRes.Status == ResultFailed {
			// A broken validator cannot gate the pipeline. Keep the
			// producer's output as-is and resolve unaccepted.
			cp.auditor.CheckpointResolved(c.ID, false, remediations)
			return CheckpointResolution{Producer: producer, Validator: valRes, Accepted: false, Attempts: remediations}, nil
		}

		verdict, hint := parseVerdict(valRes.Payload)
		if verdict == VerdictAccepted {
			cp.auditor.CheckpointResolved(c.ID, true, remediations)
			return CheckpointResolution{Producer: producer, Validator: valRes, Accepted: true, Attempts: remediations}, nil
		}

		if remediations >= cp.MaxAttempts {
			// Bound reached without acceptance: downgrade the producer's
			// result so downstream synthesis sees it as lower-trust.
			degraded := producer
			degraded.Status = ResultDegraded
			degraded.Confidence = ConfidenceLow
			degraded.Attempt = producer.Attempt + 1
			degraded.ProducedAt = time.Now().UTC()
			if err := cp.gateway.SaveResult(ctx, degraded); err != nil {
				return CheckpointResolution{}, fmt.Errorf("checkpoint: persist degraded producer result: %w", err)
			}
			cp.auditor.CheckpointResolved(c.ID, false, remediations)
			return CheckpointResolution{Producer: degraded, Validator: valRes, Accepted: false, Attempts: remediations}, nil
		}

		remediations++
		attempt := ValidationAttempt{
			CaseID:          c.ID,
			AttemptNumber:   remediations,
			ProducerOutput:  producer.Payload,
			Verdict:         VerdictNeedsRemediation,
			RemediationHint: hint,
			RecordedAt:      time.Now().UTC(),
		}
		if err := cp.gateway.SaveValidationAttempt(ctx, attempt); err != nil {
			return CheckpointResolution{}, fmt.Errorf("checkpoint: persist validation attempt: %w", err)
		}
		cp.auditor.ValidationAttempt(c.ID, remediations, string(VerdictNeedsRemediation), hint)

		// Re-invoke the producer with the original input plus the hint.
		in := TaskInput{
			Case:            c,
			Upstream:        cp.Producer.Upstream(results),
			RemediationHint: hint,
		}
		rerun, err := cp.invoke(ctx, cp.Producer, in, producer.Attempt+1)
		if err != nil {
			return CheckpointResolution{}, fmt.Errorf("checkpoint: re-run producer %s: %w", cp.Producer.Name, err)
		}
		if rerun.Status == ResultFailed {
			// The remediated run broke; the prior output is still the best
			// available. Downgrade it and stop looping.
			degraded := producer
			degraded.Status = ResultDegraded
			degraded.Confidence = ConfidenceLow
			degraded.Attempt = rerun.Attempt + 1
			degraded.ProducedAt = time.Now().UTC()
			if err := cp.gateway.SaveResult(ctx, degraded); err != nil {
				return CheckpointResolution{}, fmt.Errorf("checkpoint: persist degraded producer result: %w", err)
			}
			cp.auditor.CheckpointResolved(c.ID, false, remediations)
			return CheckpointResolution{Producer: degraded, Validator: valRes, Accepted: false, Attempts: remediations}, nil
		}

		producer = rerun
		results[cp.Producer.Name] = producer
	}
}

// parseVerdict reads the validator payload. Anything unparseable counts
// as acceptance: a validator that cannot articulate a rejection must not
// send the loop spinning.
func parseVerdict(payload string) (Verdict, string) {
	var vp ValidatorPayload
	if err := json.Unmarshal([]byte(payload), &vp); err != nil {
		return VerdictAccepted, ""
	}
	if vp.Verdict == VerdictNeedsRemediation {
		return VerdictNeedsRemediation, vp.Hint
	}
	return VerdictAccepted, ""
}
