package runnerpool

import (
	"github.com/datapipe-pro/datapipe/internal/queue"
	"github.com/datapipe-pro/datapipe/internal/task"
)

// Observer receives the events of a pipeline run. Methods are called from worker goroutines
// and must be safe for concurrent use.
type Observer interface {
	// TaskStatusChanged is called after every status transition.
	TaskStatusChanged(name string, from, to queue.Status)
	// TaskAttemptFinished is called as soon as an attempt of a task ends.
	TaskAttemptFinished(run task.Run)
}

// ObserverFuncs adapts plain functions to the Observer interface. Nil functions are ignored.
type ObserverFuncs struct {
	OnStatus  func(name string, from, to queue.Status)
	OnAttempt func(run task.Run)
}

// TaskStatusChanged implements Observer.
func (funcs ObserverFuncs) TaskStatusChanged(name string, from, to queue.Status) {
	if funcs.OnStatus != nil {
		funcs.OnStatus(name, from, to)
	}
}

// TaskAttemptFinished implements Observer.
func (funcs ObserverFuncs) TaskAttemptFinished(run task.Run) {
	if funcs.OnAttempt != nil {
		funcs.OnAttempt(run)
	}
}
