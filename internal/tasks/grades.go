package tasks

import (
	"context"
	"fmt"
	"strings"

	"casewise/internal/logging"
	"casewise/internal/pipeline"
)

// Course is one transcript line as the grade reader transcribed it.
type Course struct {
	Name  string `json:"name"`
	Grade string `json:"grade"`
	Level string `json:"level"`
	Term  string `json:"term"`
}

// GradesPayload is the structured transcript reading. It is the producer
// side of the grade audit checkpoint, so its shape is also what the
// auditor checks against the raw transcript.
type GradesPayload struct {
	Courses     []Course `json:"courses"`
	GPAReported string   `json:"gpa_reported"`
	GPAComputed string   `json:"gpa_computed"`
	HonorsCount int      `json:"honors_count"`
	Anomalies   []string `json:"anomalies"`
	Confidence  string   `json:"confidence"`
}

func (a *Analyzer) runGrades(ctx context.Context, in TaskInput) (TaskOutput, error) {
	transcript := in.Case.SourceText
	degraded := false
	if ex, ok := upstreamExtract(in); ok && ex.TranscriptText != "" {
		transcript = ex.TranscriptText
	} else {
		degraded = true
		logging.TaskDebug("grades case=%s reading raw packet, no extracted transcript", in.Case.ID)
	}

	var user strings.Builder
	user.WriteString("Transcript:\n")
	user.WriteString(transcript)
	if in.RemediationHint != "" {
		user.WriteString("\n\nA second reader flagged your previous reading. Correct it:\n")
		user.WriteString(in.RemediationHint)
	}

	resp, err := a.client.CompleteWithSystem(ctx, gradesSystemPrompt, user.String())
	if err != nil {
		return TaskOutput{}, fmt.Errorf("grades: %w", err)
	}

	var p GradesPayload
	if err := parseInto(resp, &p); err != nil {
		return TaskOutput{}, fmt.Errorf("grades: %w", err)
	}

	payload, err := marshalPayload(p)
	if err != nil {
		return TaskOutput{}, err
	}
	return TaskOutput{
		Payload:    payload,
		Confidence: confidenceFrom(p.Confidence),
		Summary:    fmt.Sprintf("%d courses, GPA %s", len(p.Courses), firstNonEmpty(p.GPAComputed, p.GPAReported, "unknown")),
		Degraded:   degraded,
	}, nil
}

func (a *Analyzer) runGradeAudit(ctx context.Context, in TaskInput) (TaskOutput, error) {
	reading, ok := in.Upstream[NameGrades]
	if !ok {
		return TaskOutput{}, fmt.Errorf("gradeaudit: no grade reading to audit")
	}

	transcript := in.Case.SourceText
	if ex, exOK := upstreamExtract(in); exOK && ex.TranscriptText != "" {
		transcript = ex.TranscriptText
	}

	var user strings.Builder
	user.WriteString("Original transcript:\n")
	user.WriteString(transcript)
	user.WriteString("\n\nStructured reading to audit:\n")
	user.WriteString(reading.Payload)

	resp, err := a.client.CompleteWithSystem(ctx, gradeAuditSystemPrompt, user.String())
	if err != nil {
		return TaskOutput{}, fmt.Errorf("gradeaudit: %w", err)
	}

	var p pipeline.ValidatorPayload
	if err := parseInto(resp, &p); err != nil {
		return TaskOutput{}, fmt.Errorf("gradeaudit: %w", err)
	}
	logging.TaskDebug("gradeaudit case=%s verdict=%s", in.Case.ID, p.Verdict)

	payload, err := marshalPayload(p)
	if err != nil {
		return TaskOutput{}, err
	}
	conf := pipeline.ConfidenceHigh
	if p.Verdict != pipeline.VerdictAccepted {
		conf = pipeline.ConfidenceMedium
	}
	return TaskOutput{
		Payload:    payload,
		Confidence: conf,
		Summary:    fmt.Sprintf("audit verdict %s", p.Verdict),
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
