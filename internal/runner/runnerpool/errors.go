package runnerpool

import (
	"fmt"

	"github.com/datapipe-pro/datapipe/internal/errors"
)

// TaskEarlyExitError is an error type for tasks that did not run.
type TaskEarlyExitError struct {
	Task             string
	FailedDependency string
	Reason           SkipReason
}

func (e TaskEarlyExitError) Error() string {
	if e.FailedDependency != "" {
		return fmt.Sprintf("task %s did not run due to a failure in %s", e.Task, e.FailedDependency)
	}

	return fmt.Sprintf("task %s did not run: %s", e.Task, e.Reason)
}

// NewTaskEarlyExitError creates a new TaskEarlyExitError.
func NewTaskEarlyExitError(taskName, failedDep string, reason SkipReason) error {
	return errors.New(TaskEarlyExitError{
		Task:             taskName,
		FailedDependency: failedDep,
		Reason:           reason,
	})
}

// TaskFailedError is an error type for tasks that exhausted their attempts or failed permanently.
type TaskFailedError struct {
	Err  error
	Task string
}

func (e TaskFailedError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.Task, e.Err)
}

func (e TaskFailedError) Unwrap() error {
	return e.Err
}

// NewTaskFailedError creates a new TaskFailedError.
func NewTaskFailedError(taskName string, err error) error {
	return errors.New(TaskFailedError{Task: taskName, Err: err})
}
