package tasks

import (
	"context"
	"fmt"
	"strings"
)

// Letter is one recommendation letter's read.
type Letter struct {
	RecommenderRole string `json:"recommender_role"`
	Strength        string `json:"strength"`
	Specifics       string `json:"specifics"`
}

// RecommendationsPayload is the recommendations task's result payload.
type RecommendationsPayload struct {
	Letters         []Letter `json:"letters"`
	OverallStrength string   `json:"overall_strength"`
	Summary         string   `json:"summary"`
	Confidence      string   `json:"confidence"`
}

func (a *Analyzer) runRecommendations(ctx context.Context, in TaskInput) (TaskOutput, error) {
	text := in.Case.SourceText
	degraded := true
	if ex, ok := upstreamExtract(in); ok && len(ex.RecommendationTexts) > 0 {
		text = strings.Join(ex.RecommendationTexts, "\n\n---\n\n")
		degraded = false
	}

	resp, err := a.client.CompleteWithSystem(ctx, recommendationsSystemPrompt, text)
	if err != nil {
		return TaskOutput{}, fmt.Errorf("recommendations: %w", err)
	}

	var p RecommendationsPayload
	if err := parseInto(resp, &p); err != nil {
		return TaskOutput{}, fmt.Errorf("recommendations: %w", err)
	}

	payload, err := marshalPayload(p)
	if err != nil {
		return TaskOutput{}, err
	}
	return TaskOutput{
		Payload:    payload,
		Confidence: confidenceFrom(p.Confidence),
		Summary:    fmt.Sprintf("%d letters, overall %s", len(p.Letters), p.OverallStrength),
		Degraded:   degraded,
	}, nil
}
