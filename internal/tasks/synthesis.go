package tasks

import (
	"context"
	"fmt"
	"strings"

	"casewise/internal/logging"
	"casewise/internal/pipeline"
)

// unavailableFacet is the documented default contribution for a facet
// whose task did not produce output. Synthesis tells the model the facet
// is missing instead of failing or letting it guess.
const unavailableFacet = "unknown - data unavailable"

// synthesisFacets are the upstream slots synthesis folds together, in the
// order they appear in the prompt.
var synthesisFacets = []string{
	NameInstitution, NameGrades, NameEssay, NameRecommendations, NameGradeAudit,
}

// SynthesisPayload is the holistic assessment of a case.
type SynthesisPayload struct {
	Strengths      []string `json:"strengths"`
	Concerns       []string `json:"concerns"`
	MissingFacets  []string `json:"missing_facets"`
	HolisticRating string   `json:"holistic_rating"`
	Rationale      string   `json:"rationale"`
	Confidence     string   `json:"confidence"`
}

func (a *Analyzer) runSynthesis(ctx context.Context, in TaskInput) (TaskOutput, error) {
	var user strings.Builder
	var missing []string
	for _, facet := range synthesisFacets {
		fmt.Fprintf(&user, "## %s\n", facet)
		r, ok := in.Upstream[facet]
		if !ok || r.Payload == "" {
			user.WriteString(unavailableFacet + "\n\n")
			missing = append(missing, facet)
			continue
		}
		if r.Status == pipeline.ResultDegraded {
			user.WriteString("(lower-trust reading)\n")
		}
		user.WriteString(r.Payload + "\n\n")
	}
	if len(missing) > 0 {
		logging.Task("synthesis case=%s missing facets: %s", in.Case.ID, strings.Join(missing, ", "))
	}

	resp, err := a.client.CompleteWithSystem(ctx, synthesisSystemPrompt, user.String())
	if err != nil {
		return TaskOutput{}, fmt.Errorf("synthesis: %w", err)
	}

	var p SynthesisPayload
	if err := parseInto(resp, &p); err != nil {
		return TaskOutput{}, fmt.Errorf("synthesis: %w", err)
	}
	// The model reports what it saw as missing; our own accounting wins.
	p.MissingFacets = missing

	payload, err := marshalPayload(p)
	if err != nil {
		return TaskOutput{}, err
	}
	return TaskOutput{
		Payload:    payload,
		Confidence: confidenceFrom(p.Confidence),
		Summary:    fmt.Sprintf("holistic rating %s", p.HolisticRating),
		Degraded:   len(missing) > 0,
	}, nil
}

// ReportPayload is the final reviewer-facing report.
type ReportPayload struct {
	ReportMarkdown string `json:"report_markdown"`
	Headline       string `json:"headline"`
	Confidence     string `json:"confidence"`
}

func (a *Analyzer) runReport(ctx context.Context, in TaskInput) (TaskOutput, error) {
	syn, ok := in.Upstream[NameSynthesis]
	if !ok || syn.Payload == "" {
		return TaskOutput{}, fmt.Errorf("report: no synthesis to report on")
	}

	resp, err := a.client.CompleteWithSystem(ctx, reportSystemPrompt, syn.Payload)
	if err != nil {
		return TaskOutput{}, fmt.Errorf("report: %w", err)
	}

	var p ReportPayload
	if err := parseInto(resp, &p); err != nil {
		return TaskOutput{}, fmt.Errorf("report: %w", err)
	}
	if p.ReportMarkdown == "" {
		return TaskOutput{}, fmt.Errorf("report: empty report body")
	}

	payload, err := marshalPayload(p)
	if err != nil {
		return TaskOutput{}, err
	}
	return TaskOutput{
		Payload:    payload,
		Confidence: confidenceFrom(p.Confidence),
		Summary:    p.Headline,
		Degraded:   syn.Status == pipeline.ResultDegraded,
	}, nil
}
