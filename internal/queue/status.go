// Package queue tracks the run state of every task of a pipeline graph and cascades failures to dependents.
package queue

import "fmt"

// Status is the run state of a task within one pipeline run.
type Status int

const (
	StatusPending Status = iota
	StatusReady
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusSkipped
)

var statusNames = map[Status]string{
	StatusPending:   "pending",
	StatusReady:     "ready",
	StatusRunning:   "running",
	StatusSucceeded: "succeeded",
	StatusFailed:    "failed",
	StatusSkipped:   "skipped",
}

func (status Status) String() string {
	if name, ok := statusNames[status]; ok {
		return name
	}

	return fmt.Sprintf("status(%d)", int(status))
}

// IsTerminal reports whether no further transition is allowed from the status.
func (status Status) IsTerminal() bool {
	switch status {
	case StatusSucceeded, StatusFailed, StatusSkipped:
		return true
	case StatusPending, StatusReady, StatusRunning:
	}

	return false
}

// MarshalText implements encoding.TextMarshaler.
func (status Status) MarshalText() ([]byte, error) {
	return []byte(status.String()), nil
}
