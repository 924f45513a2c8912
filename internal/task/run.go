package task

import "time"

// Run records one attempt of a task. Values are never modified after creation.
type Run struct {
	Started  time.Time
	Ended    time.Time
	Cause    error
	TaskName string
	Attempt  int
	Outcome  OutcomeKind
}

// NewRun records an attempt that started at started and ended with outcome.
func NewRun(taskName string, attempt int, started time.Time, outcome Outcome) Run {
	return Run{
		TaskName: taskName,
		Attempt:  attempt,
		Started:  started,
		Ended:    time.Now(),
		Outcome:  outcome.Kind,
		Cause:    outcome.Cause,
	}
}

// Duration returns how long the attempt took.
func (run Run) Duration() time.Duration {
	return run.Ended.Sub(run.Started)
}
