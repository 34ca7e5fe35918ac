// Package tasks defines the analysis tasks the pipeline runs over a case.
// Each task is a registry entry: a name, the upstream outputs it consumes,
// and a run function that prompts the model and parses a structured
// payload. The orchestrator knows nothing about individual tasks; adding
// one means adding an entry here.
package tasks

import (
	"casewise/internal/llm"
	"casewise/internal/pipeline"
)

// Task names. These are the result slot keys and the stage graph node ids.
const (
	NameExtract         = "extract"
	NameInstitution     = "institution"
	NameGrades          = "grades"
	NameGradeAudit      = "gradeaudit"
	NameEssay           = "essay"
	NameRecommendations = "recommendations"
	NameSynthesis       = "synthesis"
	NameReport          = "report"
)

// CheckpointProducer and CheckpointValidator are the two tasks the
// validation/remediation loop runs between.
const (
	CheckpointProducer  = NameGrades
	CheckpointValidator = NameGradeAudit
)

// Analyzer owns the model client the tasks share.
type Analyzer struct {
	client llm.Client
}

// NewAnalyzer creates the task set's shared analyzer.
func NewAnalyzer(client llm.Client) *Analyzer {
	return &Analyzer{client: client}
}

// Specs returns the default stage graph wiring:
//
//	extract
//	  -> institution, grades, essay, recommendations   (parallel)
//	grades -> gradeaudit                               (checkpoint)
//	all of stage 2 + gradeaudit -> synthesis
//	synthesis -> report
func (a *Analyzer) Specs() []pipeline.TaskSpec {
	return []pipeline.TaskSpec{
		{
			Name:     NameExtract,
			Required: true,
			Run:      a.runExtract,
		},
		{
			Name:      NameInstitution,
			DependsOn: []string{NameExtract},
			Run:       a.runInstitution,
		},
		{
			Name:      NameGrades,
			DependsOn: []string{NameExtract},
			Required:  true,
			Run:       a.runGrades,
		},
		{
			Name:      NameEssay,
			DependsOn: []string{NameExtract},
			Run:       a.runEssay,
		},
		{
			Name:      NameRecommendations,
			DependsOn: []string{NameExtract},
			Run:       a.runRecommendations,
		},
		{
			Name:      NameGradeAudit,
			DependsOn: []string{NameExtract, NameGrades},
			Run:       a.runGradeAudit,
		},
		{
			Name: NameSynthesis,
			DependsOn: []string{
				NameInstitution, NameGrades, NameEssay, NameRecommendations, NameGradeAudit,
			},
			Required: true,
			Run:      a.runSynthesis,
		},
		{
			Name:      NameReport,
			DependsOn: []string{NameSynthesis},
			Required:  true,
			Run:       a.runReport,
		},
	}
}
