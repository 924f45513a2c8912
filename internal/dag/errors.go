package dag

import (
	"fmt"
	"strings"
)

// InvalidGraphError is returned for malformed task definitions, such as empty or duplicate names.
type InvalidGraphError struct {
	Task   string
	Reason string
}

func (err InvalidGraphError) Error() string {
	if err.Task == "" {
		return "invalid task graph: " + err.Reason
	}

	return fmt.Sprintf("invalid task graph: task %q: %s", err.Task, err.Reason)
}

// UnknownDependencyError is returned when a task depends on a name that is not part of the graph.
type UnknownDependencyError struct {
	Task       string
	Dependency string
}

func (err UnknownDependencyError) Error() string {
	return fmt.Sprintf("task %q depends on unknown task %q", err.Task, err.Dependency)
}

// CycleError is returned when the dependency relation is not acyclic.
// Path is a closed witness, the first and the last elements are the same task.
type CycleError struct {
	Path []string
}

func (err CycleError) Error() string {
	return "dependency cycle detected: " + strings.Join(err.Path, " -> ")
}
