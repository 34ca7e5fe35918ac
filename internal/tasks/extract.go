package tasks

import (
	"context"
	"fmt"

	"casewise/internal/logging"
	"casewise/internal/pipeline"
)

// ExtractPayload is the canonicalized view of the raw packet text that
// every downstream task consumes.
type ExtractPayload struct {
	ApplicantName       string   `json:"applicant_name"`
	InstitutionNames    []string `json:"institution_names"`
	TranscriptText      string   `json:"transcript_text"`
	EssayText           string   `json:"essay_text"`
	RecommendationTexts []string `json:"recommendation_texts"`
	SectionsFound       []string `json:"sections_found"`
	Confidence          string   `json:"confidence"`
}

func (a *Analyzer) runExtract(ctx context.Context, in TaskInput) (TaskOutput, error) {
	if in.Case.SourceText == "" {
		return TaskOutput{}, fmt.Errorf("case %s has no source text", in.Case.ID)
	}

	resp, err := a.client.CompleteWithSystem(ctx, extractSystemPrompt, in.Case.SourceText)
	if err != nil {
		return TaskOutput{}, fmt.Errorf("extract: %w", err)
	}

	var p ExtractPayload
	if err := parseInto(resp, &p); err != nil {
		return TaskOutput{}, fmt.Errorf("extract: %w", err)
	}
	logging.TaskDebug("extract case=%s sections=%v", in.Case.ID, p.SectionsFound)

	payload, err := marshalPayload(p)
	if err != nil {
		return TaskOutput{}, err
	}
	return TaskOutput{
		Payload:    payload,
		Confidence: confidenceFrom(p.Confidence),
		Summary:    fmt.Sprintf("extracted %d sections", len(p.SectionsFound)),
	}, nil
}

// TaskInput and TaskOutput aliases keep the task files readable.
type (
	TaskInput  = pipeline.TaskInput
	TaskOutput = pipeline.TaskOutput
)

// confidenceFrom maps a model-reported confidence string onto the ordinal
// scale, defaulting unknown strings to low rather than erroring.
func confidenceFrom(s string) pipeline.Confidence {
	switch pipeline.Confidence(s) {
	case pipeline.ConfidenceNone, pipeline.ConfidenceLow, pipeline.ConfidenceMedium,
		pipeline.ConfidenceHigh, pipeline.ConfidenceVeryHigh:
		return pipeline.Confidence(s)
	}
	return pipeline.ConfidenceLow
}

// upstreamExtract decodes the extract payload from a task's upstream set.
// The second return is false when extract is absent or unreadable; callers
// that merely prefer it substitute the raw case text.
func upstreamExtract(in TaskInput) (ExtractPayload, bool) {
	r, ok := in.Upstream[NameExtract]
	if !ok || r.Payload == "" {
		return ExtractPayload{}, false
	}
	var p ExtractPayload
	if err := parseInto(r.Payload, &p); err != nil {
		logging.TaskDebug("upstream extract unreadable case=%s: %v", in.Case.ID, err)
		return ExtractPayload{}, false
	}
	return p, true
}
