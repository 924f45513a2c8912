package queue

import "fmt"

// IllegalTransitionError is returned when a status change is not permitted by the task state machine.
// Seeing it at run time means the scheduler itself is broken.
type IllegalTransitionError struct {
	Task   string
	Reason string
	From   Status
	To     Status
}

func (err IllegalTransitionError) Error() string {
	msg := fmt.Sprintf("illegal transition of task %q from %s to %s", err.Task, err.From, err.To)
	if err.Reason != "" {
		msg += ": " + err.Reason
	}

	return msg
}

// UnknownTaskError is returned when the tracker is asked about a task that is not part of the graph.
type UnknownTaskError struct {
	Task string
}

func (err UnknownTaskError) Error() string {
	return fmt.Sprintf("unknown task %q", err.Task)
}
