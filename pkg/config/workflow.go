package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// WorkflowConfig is a declarative workflow definition: a set of tasks
// with dependency edges, loaded from YAML.
type WorkflowConfig struct {
	Name  string       `yaml:"name"`
	Tasks []TaskConfig `yaml:"tasks"`
}

// TaskConfig declares one workflow task.
type TaskConfig struct {
	ID        string   `yaml:"id"`
	Agent     string   `yaml:"agent"`
	Input     string   `yaml:"input"`
	DependsOn []string `yaml:"depends_on,omitempty"`
	NoCache   bool     `yaml:"no_cache,omitempty"`
}

// ParseWorkflow decodes and validates a workflow definition with env
// expansion applied.
func ParseWorkflow(data []byte) (*WorkflowConfig, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse workflow: %w", err)
	}

	expanded := ExpandEnvVarsInData(raw)
	encoded, err := yaml.Marshal(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode workflow: %w", err)
	}

	var wf WorkflowConfig
	if err := yaml.Unmarshal(encoded, &wf); err != nil {
		return nil, fmt.Errorf("failed to decode workflow: %w", err)
	}
	if err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}
	return &wf, nil
}

// Validate checks task identity and dependency references. Cycle
// detection is left to the graph, which rejects cyclic edges on
// insertion.
func (w *WorkflowConfig) Validate() error {
	if len(w.Tasks) == 0 {
		return fmt.Errorf("workflow has no tasks")
	}

	ids := make(map[string]bool, len(w.Tasks))
	for i, t := range w.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task #%d: id is required", i)
		}
		if t.Agent == "" {
			return fmt.Errorf("task %q: agent is required", t.ID)
		}
		if ids[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		ids[t.ID] = true
	}

	for _, t := range w.Tasks {
		for _, dep := range t.DependsOn {
			if dep == t.ID {
				return fmt.Errorf("task %q depends on itself", t.ID)
			}
			if !ids[dep] {
				return fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
		}
	}
	return nil
}
