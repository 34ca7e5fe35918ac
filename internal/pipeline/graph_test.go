package pipeline_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casewise/internal/pipeline"
)

func TestBuildGraph_LayersByDependency(t *testing.T) {
	g, err := pipeline.BuildGraph([]pipeline.TaskSpec{
		{Name: "extract"},
		{Name: "grades", DependsOn: []string{"extract"}},
		{Name: "essay", DependsOn: []string{"extract"}},
		{Name: "gradeaudit", DependsOn: []string{"extract", "grades"}},
		{Name: "synthesis", DependsOn: []string{"grades", "essay", "gradeaudit"}},
	})
	require.NoError(t, err)

	want := [][]string{
		{"extract"},
		{"essay", "grades"},
		{"gradeaudit"},
		{"synthesis"},
	}
	if diff := cmp.Diff(want, g.Stages()); diff != "" {
		t.Errorf("stage layering mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildGraph_StagesAreDeterministic(t *testing.T) {
	specs := []pipeline.TaskSpec{
		{Name: "a"},
		{Name: "c", DependsOn: []string{"a"}},
		{Name: "b", DependsOn: []string{"a"}},
		{Name: "d", DependsOn: []string{"a"}},
	}

	first, err := pipeline.BuildGraph(specs)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		g, err := pipeline.BuildGraph(specs)
		require.NoError(t, err)
		assert.Equal(t, first.Stages(), g.Stages())
	}
}

func TestBuildGraph_RejectsBadWiring(t *testing.T) {
	tests := []struct {
		name  string
		specs []pipeline.TaskSpec
	}{
		{"empty", nil},
		{"empty name", []pipeline.TaskSpec{{Name: ""}}},
		{"duplicate", []pipeline.TaskSpec{{Name: "a"}, {Name: "a"}}},
		{"self dependency", []pipeline.TaskSpec{{Name: "a", DependsOn: []string{"a"}}}},
		{"unknown dependency", []pipeline.TaskSpec{{Name: "a", DependsOn: []string{"ghost"}}}},
		{"two-node cycle", []pipeline.TaskSpec{
			{Name: "a", DependsOn: []string{"b"}},
			{Name: "b", DependsOn: []string{"a"}},
		}},
		{"three-node cycle", []pipeline.TaskSpec{
			{Name: "a", DependsOn: []string{"c"}},
			{Name: "b", DependsOn: []string{"a"}},
			{Name: "c", DependsOn: []string{"b"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pipeline.BuildGraph(tt.specs)
			assert.Error(t, err)
		})
	}
}

func TestGraph_RequiredFailureBlocks(t *testing.T) {
	g := mustGraph([]pipeline.TaskSpec{
		{Name: "req", Required: true},
		{Name: "opt"},
		{Name: "down", DependsOn: []string{"req", "opt"}},
	})

	results := map[string]pipeline.TaskResult{
		"req": {TaskName: "req", Status: pipeline.ResultFailed},
		"opt": {TaskName: "opt", Status: pipeline.ResultFailed},
	}
	dep, blocked := g.RequiredFailureBlocks("down", results)
	assert.True(t, blocked)
	assert.Equal(t, "req", dep)

	// An optional failure alone never blocks.
	results["req"] = pipeline.TaskResult{TaskName: "req", Status: pipeline.ResultSuccess}
	_, blocked = g.RequiredFailureBlocks("down", results)
	assert.False(t, blocked)
}

func TestGraphOverlay_RewiresDeclaredTasks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.yaml")
	overlayYAML := `tasks:
  - name: essay
    depends_on: [extract, grades]
    required: true
`
	require.NoError(t, os.WriteFile(path, []byte(overlayYAML), 0644))

	overlay, err := pipeline.LoadGraphOverlay(path)
	require.NoError(t, err)
	require.NotNil(t, overlay)

	specs := []pipeline.TaskSpec{
		{Name: "extract"},
		{Name: "grades", DependsOn: []string{"extract"}},
		{Name: "essay", DependsOn: []string{"extract"}},
	}
	out, err := overlay.Apply(specs)
	require.NoError(t, err)

	assert.Equal(t, []string{"extract", "grades"}, out[2].DependsOn)
	assert.True(t, out[2].Required)
	// Input slice untouched.
	assert.Equal(t, []string{"extract"}, specs[2].DependsOn)
}

func TestGraphOverlay_UnknownTaskIsError(t *testing.T) {
	overlay := &pipeline.GraphOverlay{Tasks: []pipeline.NodeOverlay{{Name: "ghost"}}}
	_, err := overlay.Apply([]pipeline.TaskSpec{{Name: "extract"}})
	assert.Error(t, err)
}

func TestLoadGraphOverlay_MissingFileMeansDefaults(t *testing.T) {
	overlay, err := pipeline.LoadGraphOverlay(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Nil(t, overlay)
}
