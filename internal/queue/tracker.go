package queue

import (
	"sync"

	"github.com/datapipe-pro/datapipe/internal/dag"
	"github.com/datapipe-pro/datapipe/internal/errors"
)

// Listener is notified after every successful status change, outside of the tracker lock.
type Listener func(name string, from, to Status)

type transition struct {
	name     string
	from, to Status
}

// Tracker holds the mutable status of each task. All methods are safe for concurrent use.
type Tracker struct {
	graph     *dag.Graph
	statuses  map[string]Status
	listeners []Listener
	mu        sync.RWMutex
}

// NewTracker returns a tracker with every task of the graph pending.
func NewTracker(graph *dag.Graph, listeners ...Listener) *Tracker {
	statuses := make(map[string]Status, graph.Len())

	for _, name := range graph.AllTasks() {
		statuses[name] = StatusPending
	}

	return &Tracker{
		graph:     graph,
		statuses:  statuses,
		listeners: listeners,
	}
}

// Status returns the current status of the task.
func (tracker *Tracker) Status(name string) (Status, error) {
	tracker.mu.RLock()
	defer tracker.mu.RUnlock()

	status, ok := tracker.statuses[name]
	if !ok {
		return StatusPending, errors.New(UnknownTaskError{Task: name})
	}

	return status, nil
}

// IsReady reports whether the task is pending and every dependency has succeeded.
func (tracker *Tracker) IsReady(name string) bool {
	tracker.mu.RLock()
	defer tracker.mu.RUnlock()

	return tracker.isReady(name)
}

// ReadySet returns every ready task, in registration order, evaluated against a single consistent state.
func (tracker *Tracker) ReadySet() []string {
	tracker.mu.RLock()
	defer tracker.mu.RUnlock()

	var ready []string

	for _, name := range tracker.graph.AllTasks() {
		if tracker.isReady(name) {
			ready = append(ready, name)
		}
	}

	return ready
}

// AllTerminal reports whether every task reached succeeded, failed or skipped.
func (tracker *Tracker) AllTerminal() bool {
	tracker.mu.RLock()
	defer tracker.mu.RUnlock()

	for _, status := range tracker.statuses {
		if !status.IsTerminal() {
			return false
		}
	}

	return true
}

// Snapshot returns a copy of all statuses.
func (tracker *Tracker) Snapshot() map[string]Status {
	tracker.mu.RLock()
	defer tracker.mu.RUnlock()

	snapshot := make(map[string]Status, len(tracker.statuses))
	for name, status := range tracker.statuses {
		snapshot[name] = status
	}

	return snapshot
}

// Counts returns the number of tasks in each status.
func (tracker *Tracker) Counts() map[Status]int {
	tracker.mu.RLock()
	defer tracker.mu.RUnlock()

	counts := make(map[Status]int)
	for _, status := range tracker.statuses {
		counts[status]++
	}

	return counts
}

// MarkReady moves a pending task whose dependencies all succeeded to ready.
func (tracker *Tracker) MarkReady(name string) error {
	return tracker.transition(name, StatusReady, func(from Status) string {
		if from != StatusPending {
			return "task is not pending"
		}

		if !tracker.isReady(name) {
			return "not every dependency has succeeded"
		}

		return ""
	})
}

// MarkRunning moves a ready task to running.
func (tracker *Tracker) MarkRunning(name string) error {
	return tracker.transition(name, StatusRunning, func(from Status) string {
		if from != StatusReady {
			return "task is not ready"
		}

		return ""
	})
}

// MarkSucceeded moves a non-terminal task to succeeded.
func (tracker *Tracker) MarkSucceeded(name string) error {
	return tracker.transition(name, StatusSucceeded, nonTerminal)
}

// MarkFailed moves a non-terminal task to failed.
func (tracker *Tracker) MarkFailed(name string) error {
	return tracker.transition(name, StatusFailed, nonTerminal)
}

// MarkSkipped moves a non-terminal task to skipped.
func (tracker *Tracker) MarkSkipped(name string) error {
	return tracker.transition(name, StatusSkipped, nonTerminal)
}

// SkipIfNotTerminal marks the task skipped unless it already reached a terminal status,
// reporting whether the status changed. The check and the change are atomic.
func (tracker *Tracker) SkipIfNotTerminal(name string) bool {
	err := tracker.transition(name, StatusSkipped, nonTerminal)

	return err == nil
}

// SkipPending marks every pending task skipped and returns their names in registration order.
func (tracker *Tracker) SkipPending() []string {
	tracker.mu.Lock()

	var changes []transition

	for _, name := range tracker.graph.AllTasks() {
		if tracker.statuses[name] == StatusPending {
			tracker.statuses[name] = StatusSkipped
			changes = append(changes, transition{name: name, from: StatusPending, to: StatusSkipped})
		}
	}

	tracker.mu.Unlock()

	names := make([]string, 0, len(changes))

	for _, change := range changes {
		tracker.notify(change)
		names = append(names, change.name)
	}

	return names
}

func nonTerminal(from Status) string {
	if from.IsTerminal() {
		return "task already reached a terminal status"
	}

	return ""
}

// transition applies the change when check returns an empty reason.
func (tracker *Tracker) transition(name string, to Status, check func(from Status) string) error {
	tracker.mu.Lock()

	from, ok := tracker.statuses[name]
	if !ok {
		tracker.mu.Unlock()
		return errors.New(UnknownTaskError{Task: name})
	}

	if reason := check(from); reason != "" {
		tracker.mu.Unlock()
		return errors.New(IllegalTransitionError{Task: name, From: from, To: to, Reason: reason})
	}

	tracker.statuses[name] = to
	tracker.mu.Unlock()

	tracker.notify(transition{name: name, from: from, to: to})

	return nil
}

func (tracker *Tracker) notify(change transition) {
	for _, listener := range tracker.listeners {
		listener(change.name, change.from, change.to)
	}
}

// isReady must be called with the lock held.
func (tracker *Tracker) isReady(name string) bool {
	if tracker.statuses[name] != StatusPending {
		return false
	}

	for _, dep := range tracker.graph.DependenciesOf(name) {
		if tracker.statuses[dep] != StatusSucceeded {
			return false
		}
	}

	return true
}
