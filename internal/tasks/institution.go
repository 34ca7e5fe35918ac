package tasks

import (
	"context"
	"fmt"
	"strings"
)

// InstitutionAssessment is one school's rigor read.
type InstitutionAssessment struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Rigor string `json:"rigor"`
	Notes string `json:"notes"`
}

// InstitutionPayload is the institution task's result payload.
type InstitutionPayload struct {
	Institutions []InstitutionAssessment `json:"institutions"`
	OverallRigor string                  `json:"overall_rigor"`
	Confidence   string                  `json:"confidence"`
}

func (a *Analyzer) runInstitution(ctx context.Context, in TaskInput) (TaskOutput, error) {
	ex, ok := upstreamExtract(in)

	var user strings.Builder
	if ok && len(ex.InstitutionNames) > 0 {
		user.WriteString("Institutions named in the packet:\n")
		for _, name := range ex.InstitutionNames {
			fmt.Fprintf(&user, "- %s\n", name)
		}
		user.WriteString("\nPacket context:\n")
	}
	user.WriteString(in.Case.SourceText)

	resp, err := a.client.CompleteWithSystem(ctx, institutionSystemPrompt, user.String())
	if err != nil {
		return TaskOutput{}, fmt.Errorf("institution: %w", err)
	}

	var p InstitutionPayload
	if err := parseInto(resp, &p); err != nil {
		return TaskOutput{}, fmt.Errorf("institution: %w", err)
	}

	payload, err := marshalPayload(p)
	if err != nil {
		return TaskOutput{}, err
	}
	return TaskOutput{
		Payload:    payload,
		Confidence: confidenceFrom(p.Confidence),
		Summary:    fmt.Sprintf("%d institutions, overall rigor %s", len(p.Institutions), p.OverallRigor),
		Degraded:   !ok,
	}, nil
}
