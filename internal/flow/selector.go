package flow

import "fmt"

// ResolvedTask pairs a task with the agent assigned to run it.
type ResolvedTask struct {
	Task  Task
	Agent Agent
}

// SelectTasks resolves which of a definition's tasks an execution should
// run. An empty selection means the full task list. A non-empty selection
// keeps exactly the tasks whose description matches an entry; the result
// always preserves the definition's original ordering, never the
// selection's. A task whose agent role is not declared by the definition
// is dropped with a warning instead of aborting the run.
//
// SelectTasks is a pure function: it performs no I/O and the same inputs
// always produce the same result and warnings.
func SelectTasks(def *Definition, selection []string) ([]ResolvedTask, []string) {
	var resolved []ResolvedTask
	var warnings []string

	selected := make(map[string]bool, len(selection))
	for _, desc := range selection {
		selected[desc] = true
	}

	for _, task := range def.Tasks {
		if len(selected) > 0 && !selected[task.Description] {
			continue
		}

		agent, ok := def.AgentByRole(task.Agent)
		if !ok {
			warnings = append(warnings, fmt.Sprintf(
				"task %q references undefined agent %q, skipping", task.Description, task.Agent))
			continue
		}

		resolved = append(resolved, ResolvedTask{Task: task, Agent: agent})
	}

	return resolved, warnings
}
