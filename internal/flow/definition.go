// Package flow parses and validates declarative flow definitions and
// resolves which of a flow's tasks a given execution should run.
package flow

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Agent describes one agent declared by a flow definition.
type Agent struct {
	Role      string `yaml:"role" json:"role"`
	Goal      string `yaml:"goal,omitempty" json:"goal,omitempty"`
	Backstory string `yaml:"backstory,omitempty" json:"backstory,omitempty"`
}

// Task describes one unit of work declared by a flow definition. Agent
// names the role of the agent assigned to the task.
type Task struct {
	Description    string `yaml:"description" json:"description"`
	Agent          string `yaml:"agent,omitempty" json:"agent,omitempty"`
	ExpectedOutput string `yaml:"expected_output,omitempty" json:"expected_output,omitempty"`
}

// Definition is the parsed form of a flow's YAML content. It is read-only
// to everything downstream of the parser.
type Definition struct {
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Agents      []Agent `yaml:"agents,omitempty" json:"agents,omitempty"`
	Tasks       []Task  `yaml:"tasks,omitempty" json:"tasks,omitempty"`
}

// Parse decodes YAML content into a Definition. A decode error means the
// content is not even structurally a flow; validation errors beyond that
// are reported by Validate.
func Parse(yamlContent string) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal([]byte(yamlContent), &def); err != nil {
		return nil, fmt.Errorf("invalid YAML syntax: %w", err)
	}
	return &def, nil
}

// Validate checks yamlContent against the flow schema and returns whether
// it is valid along with every problem found. Structural defects are
// collected rather than short-circuited so the author sees all of them at
// once.
func Validate(yamlContent string) (bool, []string) {
	var errors []string

	var raw map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &raw); err != nil {
		return false, []string{fmt.Sprintf("invalid YAML syntax: %v", err)}
	}
	if raw == nil {
		return false, []string{"YAML must be a mapping"}
	}

	name, ok := raw["name"]
	if !ok {
		errors = append(errors, "missing required field: name")
	} else if s, isStr := name.(string); !isStr || strings.TrimSpace(s) == "" {
		errors = append(errors, "field 'name' must be a non-empty string")
	}

	if agents, ok := raw["agents"]; ok {
		errors = append(errors, validateAgents(agents)...)
	}
	if tasks, ok := raw["tasks"]; ok {
		errors = append(errors, validateTasks(tasks)...)
	}

	return len(errors) == 0, errors
}

func validateAgents(agents interface{}) []string {
	var errors []string

	list, ok := agents.([]interface{})
	if !ok {
		return []string{"field 'agents' must be a list"}
	}

	for i, item := range list {
		agent, ok := item.(map[string]interface{})
		if !ok {
			errors = append(errors, fmt.Sprintf("agent at index %d must be a mapping", i))
			continue
		}
		if _, ok := agent["role"]; !ok {
			errors = append(errors, fmt.Sprintf("agent at index %d missing required field 'role'", i))
		}
	}

	return errors
}

func validateTasks(tasks interface{}) []string {
	var errors []string

	list, ok := tasks.([]interface{})
	if !ok {
		return []string{"field 'tasks' must be a list"}
	}

	for i, item := range list {
		task, ok := item.(map[string]interface{})
		if !ok {
			errors = append(errors, fmt.Sprintf("task at index %d must be a mapping", i))
			continue
		}
		if _, ok := task["description"]; !ok {
			errors = append(errors, fmt.Sprintf("task at index %d missing required field 'description'", i))
		}
	}

	return errors
}

// AgentByRole returns the agent with the given role, or false if the
// definition declares no such agent.
func (d *Definition) AgentByRole(role string) (Agent, bool) {
	for _, a := range d.Agents {
		if a.Role == role {
			return a, true
		}
	}
	return Agent{}, false
}
