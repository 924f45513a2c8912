package runnerpool

import (
	"time"

	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/internal/queue"
	"github.com/datapipe-pro/datapipe/internal/task"
)

// SkipReason explains why a task never ran.
type SkipReason string

const (
	SkipReasonNone             SkipReason = ""
	SkipReasonDependencyFailed SkipReason = "dependency failed"
	SkipReasonAborted          SkipReason = "aborted"
	SkipReasonFailFast         SkipReason = "fail fast"
)

// PipelineStatus is the overall outcome of a run.
type PipelineStatus string

const (
	PipelineSucceeded PipelineStatus = "succeeded"
	PipelineFailed    PipelineStatus = "failed"
)

// TaskResult is the final state of one task.
type TaskResult struct {
	// Cause is the final failure cause of a failed task.
	Cause error
	Name  string
	// FailedDependency is the task whose failure caused this one to be skipped.
	FailedDependency string
	SkipReason       SkipReason
	Runs             []task.Run
	Status           queue.Status
}

// Result summarizes a pipeline run. Every task of the graph appears in Tasks, in registration order.
type Result struct {
	Started time.Time
	Ended   time.Time
	RunID   string
	Name    string
	Status  PipelineStatus
	Tasks   []TaskResult
}

// Task returns the result of the named task.
func (result *Result) Task(name string) (TaskResult, bool) {
	for _, taskResult := range result.Tasks {
		if taskResult.Name == name {
			return taskResult, true
		}
	}

	return TaskResult{}, false
}

// Succeeded returns the names of the tasks that succeeded.
func (result *Result) Succeeded() []string {
	return result.withStatus(queue.StatusSucceeded)
}

// Failed returns the names of the tasks that failed.
func (result *Result) Failed() []string {
	return result.withStatus(queue.StatusFailed)
}

// Skipped returns the names of the tasks that were skipped.
func (result *Result) Skipped() []string {
	return result.withStatus(queue.StatusSkipped)
}

// Duration returns the wall time of the run.
func (result *Result) Duration() time.Duration {
	return result.Ended.Sub(result.Started)
}

// Attempts returns the total number of attempts across all tasks.
func (result *Result) Attempts() int {
	var attempts int

	for _, taskResult := range result.Tasks {
		attempts += len(taskResult.Runs)
	}

	return attempts
}

// Err returns an error describing every failed and skipped task, or nil if the pipeline succeeded.
func (result *Result) Err() error {
	errs := &errors.MultiError{}

	for _, taskResult := range result.Tasks {
		switch taskResult.Status {
		case queue.StatusFailed:
			errs = errs.Append(NewTaskFailedError(taskResult.Name, taskResult.Cause))
		case queue.StatusSkipped:
			errs = errs.Append(NewTaskEarlyExitError(taskResult.Name, taskResult.FailedDependency, taskResult.SkipReason))
		case queue.StatusPending, queue.StatusReady, queue.StatusRunning, queue.StatusSucceeded:
		}
	}

	return errs.ErrorOrNil()
}

func (result *Result) withStatus(status queue.Status) []string {
	var names []string

	for _, taskResult := range result.Tasks {
		if taskResult.Status == status {
			names = append(names, taskResult.Name)
		}
	}

	return names
}
