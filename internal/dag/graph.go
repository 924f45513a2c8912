// Package dag holds the immutable dependency graph of pipeline tasks.
package dag

import (
	"slices"

	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/internal/task"
)

// Graph is a validated, acyclic set of tasks. It is never modified after New returns,
// so it is safe for concurrent reads.
type Graph struct {
	index      map[string]int
	tasks      []*task.Task
	deps       [][]int
	dependents [][]int
}

// New validates the tasks and builds the graph from copies of them. Tasks keep their registration order.
func New(tasks []*task.Task) (*Graph, error) {
	g := &Graph{
		index:      make(map[string]int, len(tasks)),
		tasks:      make([]*task.Task, 0, len(tasks)),
		deps:       make([][]int, len(tasks)),
		dependents: make([][]int, len(tasks)),
	}

	for _, t := range tasks {
		if t == nil {
			return nil, errors.New(InvalidGraphError{Reason: "nil task"})
		}

		if t.Name == "" {
			return nil, errors.New(InvalidGraphError{Reason: "task with an empty name"})
		}

		if _, ok := g.index[t.Name]; ok {
			return nil, errors.New(InvalidGraphError{Task: t.Name, Reason: "duplicate task name"})
		}

		g.index[t.Name] = len(g.tasks)
		g.tasks = append(g.tasks, t.Clone())
	}

	for i, t := range g.tasks {
		for _, depName := range t.DependsOn {
			if depName == t.Name {
				return nil, errors.New(CycleError{Path: []string{t.Name, t.Name}})
			}

			dep, ok := g.index[depName]
			if !ok {
				return nil, errors.New(UnknownDependencyError{Task: t.Name, Dependency: depName})
			}

			if slices.Contains(g.deps[i], dep) {
				continue
			}

			g.deps[i] = append(g.deps[i], dep)
			g.dependents[dep] = append(g.dependents[dep], i)
		}
	}

	for i := range g.dependents {
		slices.Sort(g.dependents[i])
	}

	if path := g.findCycle(); path != nil {
		return nil, errors.New(CycleError{Path: path})
	}

	return g, nil
}

// Len returns the number of tasks.
func (g *Graph) Len() int {
	return len(g.tasks)
}

// Task returns a copy of the task with the given name, or nil.
func (g *Graph) Task(name string) *task.Task {
	if i, ok := g.index[name]; ok {
		return g.tasks[i].Clone()
	}

	return nil
}

// AllTasks returns the task names in registration order.
func (g *Graph) AllTasks() []string {
	names := make([]string, len(g.tasks))

	for i, t := range g.tasks {
		names[i] = t.Name
	}

	return names
}

// DependenciesOf returns the direct dependencies of the named task.
func (g *Graph) DependenciesOf(name string) []string {
	i, ok := g.index[name]
	if !ok {
		return nil
	}

	return g.names(g.deps[i])
}

// DependentsOf returns the tasks that directly depend on the named task, in registration order.
func (g *Graph) DependentsOf(name string) []string {
	i, ok := g.index[name]
	if !ok {
		return nil
	}

	return g.names(g.dependents[i])
}

// Roots returns the tasks without dependencies.
func (g *Graph) Roots() []string {
	var roots []string

	for i, t := range g.tasks {
		if len(g.deps[i]) == 0 {
			roots = append(roots, t.Name)
		}
	}

	return roots
}

// TopologicalOrder returns every task after all of its dependencies.
// Ties are broken by registration order, so the result is deterministic.
func (g *Graph) TopologicalOrder() []string {
	indegree := make([]int, len(g.tasks))
	for i := range g.tasks {
		indegree[i] = len(g.deps[i])
	}

	var ready []int

	for i, degree := range indegree {
		if degree == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]string, 0, len(g.tasks))

	for len(ready) > 0 {
		slices.Sort(ready)

		next := ready[0]
		ready = ready[1:]
		order = append(order, g.tasks[next].Name)

		for _, dependent := range g.dependents[next] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	return order
}

func (g *Graph) names(indices []int) []string {
	if len(indices) == 0 {
		return nil
	}

	names := make([]string, len(indices))

	for i, idx := range indices {
		names[i] = g.tasks[idx].Name
	}

	return names
}

// findCycle walks the dependency edges depth first, colouring nodes on the recursion stack.
// It returns a closed cycle path in dependency direction, or nil.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)

	color := make([]int, len(g.tasks))
	stack := make([]int, 0, len(g.tasks))

	var cycle []string

	var visit func(u int) bool
	visit = func(u int) bool {
		color[u] = gray
		stack = append(stack, u)

		for _, v := range g.deps[u] {
			switch color[v] {
			case white:
				if visit(v) {
					return true
				}
			case gray:
				start := slices.Index(stack, v)
				cycle = append(g.names(stack[start:]), g.tasks[v].Name)

				return true
			}
		}

		stack = stack[:len(stack)-1]
		color[u] = black

		return false
	}

	for i := range g.tasks {
		if color[i] == white && visit(i) {
			return cycle
		}
	}

	return nil
}
