package pipeline

import (
	"fmt"
	"sort"
)

// Graph is the static stage graph: tasks grouped into ordered stages by
// their dependency edges. It is built once at startup; unknown task
// references and cycles are configuration errors and never surface at
// runtime.
type Graph struct {
	specs  map[string]TaskSpec
	stages [][]string
}

// BuildGraph validates the task specs and topologically groups them into
// stages. Tasks whose dependencies are all satisfied by earlier stages
// land in the same stage and run concurrently.
func BuildGraph(specs []TaskSpec) (*Graph, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("stage graph: no tasks declared")
	}

	byName := make(map[string]TaskSpec, len(specs))
	for _, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("stage graph: task with empty name")
		}
		if _, dup := byName[s.Name]; dup {
			return nil, fmt.Errorf("stage graph: duplicate task %q", s.Name)
		}
		byName[s.Name] = s
	}

	for _, s := range specs {
		for _, dep := range s.DependsOn {
			if dep == s.Name {
				return nil, fmt.Errorf("stage graph: task %q depends on itself", s.Name)
			}
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("stage graph: task %q depends on unknown task %q", s.Name, dep)
			}
		}
	}

	stages, err := layer(byName)
	if err != nil {
		return nil, err
	}

	return &Graph{specs: byName, stages: stages}, nil
}

// layer performs Kahn layering: each pass collects every task whose
// dependencies are already placed. An empty pass with tasks remaining
// means a cycle.
func layer(byName map[string]TaskSpec) ([][]string, error) {
	placed := make(map[string]bool, len(byName))
	remaining := make(map[string]TaskSpec, len(byName))
	for name, s := range byName {
		remaining[name] = s
	}

	var stages [][]string
	for len(remaining) > 0 {
		var stage []string
		for name, s := range remaining {
			ready := true
			for _, dep := range s.DependsOn {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				stage = append(stage, name)
			}
		}

		if len(stage) == 0 {
			names := make([]string, 0, len(remaining))
			for name := range remaining {
				names = append(names, name)
			}
			sort.Strings(names)
			return nil, fmt.Errorf("stage graph: dependency cycle among %v", names)
		}

		sort.Strings(stage) // deterministic stage ordering
		for _, name := range stage {
			placed[name] = true
			delete(remaining, name)
		}
		stages = append(stages, stage)
	}

	return stages, nil
}

// Stages returns the ordered stage layering. The returned slices are
// shared; callers must not mutate them.
func (g *Graph) Stages() [][]string {
	return g.stages
}

// Spec returns the spec for a task name.
func (g *Graph) Spec(name string) (TaskSpec, bool) {
	s, ok := g.specs[name]
	return s, ok
}

// Tasks returns every task name in the graph, sorted.
func (g *Graph) Tasks() []string {
	names := make([]string, 0, len(g.specs))
	for name := range g.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequiredFailureBlocks reports whether the named task has a failed
// required dependency (directly or transitively through other skipped
// tasks), given the current result set.
func (g *Graph) RequiredFailureBlocks(name string, results map[string]TaskResult) (string, bool) {
	spec, ok := g.specs[name]
	if !ok {
		return "", false
	}
	for _, dep := range spec.DependsOn {
		depSpec := g.specs[dep]
		r, have := results[dep]
		if !have {
			continue
		}
		if depSpec.Required && (r.Status == ResultFailed || r.Status == ResultSkipped) {
			return dep, true
		}
	}
	return "", false
}
