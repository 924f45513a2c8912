package queue

import "github.com/datapipe-pro/datapipe/internal/dag"

// Propagator cascades a failure to every transitive dependent of the failed task.
type Propagator struct {
	graph   *dag.Graph
	tracker *Tracker
}

// NewPropagator returns a propagator working on the given graph and tracker.
func NewPropagator(graph *dag.Graph, tracker *Tracker) *Propagator {
	return &Propagator{graph: graph, tracker: tracker}
}

// Propagate walks the dependents of origin breadth first and marks each non-terminal one skipped.
// It returns the tasks it skipped, in the order they were reached. Tasks that are already terminal
// are left untouched, so calling it again for the same origin skips nothing.
func (propagator *Propagator) Propagate(origin string) []string {
	var (
		skipped []string
		visited = map[string]bool{origin: true}
		queue   = []string{origin}
	)

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, dependent := range propagator.graph.DependentsOf(current) {
			if visited[dependent] {
				continue
			}

			visited[dependent] = true
			queue = append(queue, dependent)

			if propagator.tracker.SkipIfNotTerminal(dependent) {
				skipped = append(skipped, dependent)
			}
		}
	}

	return skipped
}
