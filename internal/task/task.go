// Package task defines the unit of scheduling: a named work unit with its dependencies and retry policy.
package task

import (
	"context"
	"slices"
	"time"
)

const (
	// DefaultRetryLimit is the number of additional attempts after the first one.
	DefaultRetryLimit = 2
	// DefaultRetryDelay is the flat delay between attempts.
	DefaultRetryDelay = 30 * time.Second
)

// WorkUnit performs the task's work and classifies how it ended.
type WorkUnit func(ctx context.Context) Outcome

// Task is a node of the pipeline graph. It is immutable once the graph is built.
type Task struct {
	Unit       WorkUnit
	Name       string
	DependsOn  []string
	RetryLimit int
	RetryDelay time.Duration
}

// Option configures a Task.
type Option func(*Task)

// New returns a task with the default retry policy.
func New(name string, unit WorkUnit, opts ...Option) *Task {
	t := &Task{
		Name:       name,
		Unit:       unit,
		RetryLimit: DefaultRetryLimit,
		RetryDelay: DefaultRetryDelay,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// WithDependsOn declares the tasks that must succeed before this one runs.
func WithDependsOn(names ...string) Option {
	return func(t *Task) {
		t.DependsOn = append(t.DependsOn, names...)
	}
}

// WithRetry overrides the retry policy.
func WithRetry(limit int, delay time.Duration) Option {
	return func(t *Task) {
		t.RetryLimit = limit
		t.RetryDelay = delay
	}
}

// MaxAttempts returns the total number of invocations allowed for the task.
func (t *Task) MaxAttempts() int {
	if t.RetryLimit < 0 {
		return 1
	}

	return t.RetryLimit + 1
}

// Clone returns a copy of the task that shares no slices with it.
func (t *Task) Clone() *Task {
	clone := *t
	clone.DependsOn = slices.Clone(t.DependsOn)

	return &clone
}

func (t *Task) String() string {
	return t.Name
}
