// Package report collects data on the tasks of a pipeline run and renders it as a summary or a report file.
package report

import (
	"slices"
	"sync"
	"time"

	"github.com/datapipe-pro/datapipe/internal/queue"
	"github.com/datapipe-pro/datapipe/internal/runner/runnerpool"
	"github.com/datapipe-pro/datapipe/internal/task"
)

// Result captures the result of a task run.
type Result string

// Reason captures the reason for a task result.
type Reason string

// Cause captures the cause of a task result.
type Cause string

const (
	ResultSucceeded Result = "succeeded"
	ResultFailed    Result = "failed"
	ResultSkipped   Result = "skipped"

	ReasonRetrySucceeded Reason = "retry succeeded"
	ReasonRunError       Reason = "run error"
	ReasonAncestorError  Reason = "ancestor error"
	ReasonAborted        Reason = "aborted"
	ReasonFailFast       Reason = "fail fast"
)

// Run captures data for a single task.
type Run struct {
	Started  time.Time
	Ended    time.Time
	Reason   *Reason
	Cause    *Cause
	Name     string
	Result   Result
	Attempts int

	mu sync.RWMutex
}

// Report captures data for a report/summary. It implements runnerpool.Observer, so it can be
// attached to a run and be filled while the tasks execute.
type Report struct {
	index                map[string]*Run
	RunID                string
	Runs                 []*Run
	format               Format
	mu                   sync.RWMutex
	shouldColor          bool
	showTaskLevelSummary bool
}

// Option is a function that modifies a Report.
type Option func(*Report)

// WithColor enables colored summary output.
func WithColor(shouldColor bool) Option {
	return func(r *Report) {
		r.shouldColor = shouldColor
	}
}

// WithTaskLevelSummary lists every task with its duration in the summary.
func WithTaskLevelSummary(show bool) Option {
	return func(r *Report) {
		r.showTaskLevelSummary = show
	}
}

// WithFormat sets the format used by WriteToFile.
func WithFormat(format Format) Option {
	return func(r *Report) {
		r.format = format
	}
}

// NewReport creates a new report.
func NewReport(opts ...Option) *Report {
	r := &Report{
		index: make(map[string]*Run),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// run returns the run of the given task, creating it on first use. The caller must hold r.mu.
func (r *Report) run(name string) *Run {
	if run, ok := r.index[name]; ok {
		return run
	}

	run := &Run{Name: name}
	r.index[name] = run
	r.Runs = append(r.Runs, run)

	return run
}

// Run returns the run of the given task, or nil if the task is not in the report.
func (r *Report) Run(name string) *Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.index[name]
}

// TaskStatusChanged records the start and the end of a task.
func (r *Report) TaskStatusChanged(name string, _, to queue.Status) {
	r.mu.Lock()
	run := r.run(name)
	r.mu.Unlock()

	run.mu.Lock()
	defer run.mu.Unlock()

	now := time.Now()

	switch to {
	case queue.StatusRunning:
		run.Started = now
	case queue.StatusSucceeded:
		run.Result = ResultSucceeded
		run.Ended = now
	case queue.StatusFailed:
		run.Result = ResultFailed
		run.Ended = now
	case queue.StatusSkipped:
		run.Result = ResultSkipped

		if run.Started.IsZero() {
			run.Started = now
		}

		run.Ended = now
	case queue.StatusPending, queue.StatusReady:
	}
}

// TaskAttemptFinished counts the attempts of a task.
func (r *Report) TaskAttemptFinished(attempt task.Run) {
	r.mu.Lock()
	run := r.run(attempt.TaskName)
	r.mu.Unlock()

	run.mu.Lock()
	defer run.mu.Unlock()

	run.Attempts++

	if run.Started.IsZero() || attempt.Started.Before(run.Started) {
		run.Started = attempt.Started
	}
}

// EndRun completes the report with the final result of the pipeline: reasons, causes and the
// order of the tasks as they were registered.
func (r *Report) EndRun(result *runnerpool.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.RunID = result.RunID

	order := make(map[string]int, len(result.Tasks))

	for i, taskResult := range result.Tasks {
		order[taskResult.Name] = i

		run := r.run(taskResult.Name)
		run.mu.Lock()
		applyTaskResult(run, taskResult, result.Ended)
		run.mu.Unlock()
	}

	slices.SortStableFunc(r.Runs, func(a, b *Run) int {
		return order[a.Name] - order[b.Name]
	})
}

func applyTaskResult(run *Run, taskResult runnerpool.TaskResult, ended time.Time) {
	run.Attempts = len(taskResult.Runs)

	if len(taskResult.Runs) > 0 {
		run.Started = taskResult.Runs[0].Started
		run.Ended = taskResult.Runs[len(taskResult.Runs)-1].Ended
	}

	if run.Ended.IsZero() {
		run.Ended = ended
	}

	if run.Started.IsZero() {
		run.Started = run.Ended
	}

	var reason Reason

	switch taskResult.Status {
	case queue.StatusSucceeded:
		run.Result = ResultSucceeded

		if run.Attempts > 1 {
			reason = ReasonRetrySucceeded
		}
	case queue.StatusFailed:
		run.Result = ResultFailed
		reason = ReasonRunError

		if taskResult.Cause != nil {
			cause := Cause(taskResult.Cause.Error())
			run.Cause = &cause
		}
	case queue.StatusSkipped:
		run.Result = ResultSkipped

		switch taskResult.SkipReason {
		case runnerpool.SkipReasonDependencyFailed:
			reason = ReasonAncestorError
			cause := Cause(taskResult.FailedDependency)
			run.Cause = &cause
		case runnerpool.SkipReasonFailFast:
			reason = ReasonFailFast
		case runnerpool.SkipReasonAborted, runnerpool.SkipReasonNone:
			reason = ReasonAborted
		}
	case queue.StatusPending, queue.StatusReady, queue.StatusRunning:
	}

	if reason != "" {
		run.Reason = &reason
	}
}

// Duration returns how long the task took, from the start of its first attempt.
func (run *Run) Duration() time.Duration {
	run.mu.RLock()
	defer run.mu.RUnlock()

	if run.Ended.IsZero() {
		return 0
	}

	return run.Ended.Sub(run.Started)
}
