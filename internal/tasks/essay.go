package tasks

import (
	"context"
	"fmt"
)

// EssayPayload is the essay task's result payload.
type EssayPayload struct {
	Themes         []string `json:"themes"`
	WritingQuality string   `json:"writing_quality"`
	Authenticity   string   `json:"authenticity"`
	Summary        string   `json:"summary"`
	Confidence     string   `json:"confidence"`
}

func (a *Analyzer) runEssay(ctx context.Context, in TaskInput) (TaskOutput, error) {
	text := in.Case.SourceText
	degraded := true
	if ex, ok := upstreamExtract(in); ok && ex.EssayText != "" {
		text = ex.EssayText
		degraded = false
	}

	resp, err := a.client.CompleteWithSystem(ctx, essaySystemPrompt, text)
	if err != nil {
		return TaskOutput{}, fmt.Errorf("essay: %w", err)
	}

	var p EssayPayload
	if err := parseInto(resp, &p); err != nil {
		return TaskOutput{}, fmt.Errorf("essay: %w", err)
	}

	payload, err := marshalPayload(p)
	if err != nil {
		return TaskOutput{}, err
	}
	return TaskOutput{
		Payload:    payload,
		Confidence: confidenceFrom(p.Confidence),
		Summary:    fmt.Sprintf("essay %s, %s", p.WritingQuality, p.Authenticity),
		Degraded:   degraded,
	}, nil
}
