package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// GraphOverlay is an optional on-disk rewiring of the default stage
// graph. It can change a task's dependency edges or required flag but
// cannot introduce task logic; unknown names are configuration errors.
type GraphOverlay struct {
	Tasks []NodeOverlay `yaml:"tasks"`
}

// NodeOverlay overrides the wiring of one declared task.
type NodeOverlay struct {
	Name      string   `yaml:"name"`
	DependsOn []string `yaml:"depends_on"`
	Required  *bool    `yaml:"required"`
}

// LoadGraphOverlay reads a YAML overlay file. A missing file is not an
// error; it simply means the default wiring applies.
func LoadGraphOverlay(path string) (*GraphOverlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("graph overlay: read %s: %w", path, err)
	}

	var overlay GraphOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("graph overlay: parse %s: %w", path, err)
	}
	return &overlay, nil
}

// Apply rewires the given specs according to the overlay and returns the
// result. The input slice is not mutated.
func (o *GraphOverlay) Apply(specs []TaskSpec) ([]TaskSpec, error) {
	if o == nil {
		return specs, nil
	}

	byName := make(map[string]int, len(specs))
	out := make([]TaskSpec, len(specs))
	copy(out, specs)
	for i, s := range out {
		byName[s.Name] = i
	}

	for _, node := range o.Tasks {
		i, ok := byName[node.Name]
		if !ok {
			return nil, fmt.Errorf("graph overlay: unknown task %q", node.Name)
		}
		if node.DependsOn != nil {
			out[i].DependsOn = node.DependsOn
		}
		if node.Required != nil {
			out[i].Required = *node.Required
		}
	}
	return out, nil
}
