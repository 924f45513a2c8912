package retry

import "fmt"

// RetriesExhaustedError is the final cause of a task whose every attempt failed transiently.
type RetriesExhaustedError struct {
	Err      error
	Task     string
	Attempts int
}

func (err RetriesExhaustedError) Error() string {
	return fmt.Sprintf("task %s failed after %d attempt(s): %v", err.Task, err.Attempts, err.Err)
}

func (err RetriesExhaustedError) Unwrap() error {
	return err.Err
}

// WaitInterruptedError is the final cause of a task whose retry delay was cut short by the context.
type WaitInterruptedError struct {
	Err      error
	Cause    error
	Task     string
	Attempts int
}

func (err WaitInterruptedError) Error() string {
	return fmt.Sprintf("task %s stopped retrying after %d attempt(s): %v (last failure: %v)", err.Task, err.Attempts, err.Err, err.Cause)
}

func (err WaitInterruptedError) Unwrap() []error {
	return []error{err.Err, err.Cause}
}

// PanicError is the cause recorded when a work unit panics.
type PanicError struct {
	Err  error
	Task string
}

func (err PanicError) Error() string {
	return fmt.Sprintf("work unit of task %s panicked: %v", err.Task, err.Err)
}

func (err PanicError) Unwrap() error {
	return err.Err
}
