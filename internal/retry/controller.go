// Package retry runs a task's work unit until it succeeds, fails permanently or exhausts its attempts.
package retry

import (
	"context"
	"time"

	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/internal/task"
	"github.com/datapipe-pro/datapipe/pkg/log"
	"github.com/datapipe-pro/datapipe/telemetry"
)

// AttemptListener is notified as soon as an attempt ends.
type AttemptListener func(run task.Run)

// Result holds every attempt of a task and its final outcome, which is either a success or a permanent failure.
type Result struct {
	Final task.Outcome
	Runs  []task.Run
}

// Controller applies the retry policy of a task.
type Controller struct {
	classifier *Classifier
	listeners  []AttemptListener
}

// Option configures a Controller.
type Option func(*Controller)

// WithClassifier sets the pattern based error classifier.
func WithClassifier(classifier *Classifier) Option {
	return func(controller *Controller) {
		controller.classifier = classifier
	}
}

// WithAttemptListener adds a listener notified after every attempt.
func WithAttemptListener(listener AttemptListener) Option {
	return func(controller *Controller) {
		controller.listeners = append(controller.listeners, listener)
	}
}

// NewController returns a retry controller.
func NewController(opts ...Option) *Controller {
	controller := &Controller{}

	for _, opt := range opts {
		opt(controller)
	}

	return controller
}

// WithOptions returns a copy of the controller with the given options applied.
func (controller *Controller) WithOptions(opts ...Option) *Controller {
	clone := &Controller{
		classifier: controller.classifier,
		listeners:  append([]AttemptListener(nil), controller.listeners...),
	}

	for _, opt := range opts {
		opt(clone)
	}

	return clone
}

// Run invokes the work unit of t at most t.RetryLimit+1 times. Between transient failures it waits
// t.RetryDelay, blocking only the calling goroutine. A cancelled ctx interrupts the wait and ends the task.
func (controller *Controller) Run(ctx context.Context, l log.Logger, t *task.Task) Result {
	var (
		maxAttempts = t.MaxAttempts()
		runs        = make([]task.Run, 0, maxAttempts)
		tlm         = telemetry.TelemeterFromContext(ctx)
	)

	for attempt := 1; ; attempt++ {
		started := time.Now()
		outcome := controller.classifier.Classify(controller.invoke(ctx, t, attempt))
		run := task.NewRun(t.Name, attempt, started, outcome)

		runs = append(runs, run)
		controller.notify(run)

		tlm.Count(ctx, "task_attempts", 1, map[string]any{"task": t.Name, "outcome": outcome.Kind.String()})

		switch outcome.Kind {
		case task.Success:
			l.Debugf("Task %s succeeded on attempt %d of %d in %s", t.Name, attempt, maxAttempts, run.Duration())

			return Result{Runs: runs, Final: outcome}
		case task.PermanentFailure:
			l.Errorf("Task %s failed permanently on attempt %d of %d: %v", t.Name, attempt, maxAttempts, outcome.Cause)

			return Result{Runs: runs, Final: outcome}
		case task.TransientFailure:
		}

		if attempt >= maxAttempts {
			l.Errorf("Task %s failed after %d attempt(s): %v", t.Name, attempt, outcome.Cause)

			return Result{
				Runs:  runs,
				Final: task.Permanent(RetriesExhaustedError{Task: t.Name, Attempts: attempt, Err: outcome.Cause}),
			}
		}

		l.Warnf("Task %s encountered a transient failure: %v\nAttempt %d of %d. Waiting %s before retrying...",
			t.Name, outcome.Cause, attempt, maxAttempts, t.RetryDelay)

		select {
		case <-time.After(t.RetryDelay):
		case <-ctx.Done():
			l.Warnf("Task %s: retry wait interrupted: %v", t.Name, ctx.Err())

			return Result{
				Runs: runs,
				Final: task.Permanent(WaitInterruptedError{
					Task:     t.Name,
					Attempts: attempt,
					Err:      errors.New(ctx.Err()),
					Cause:    outcome.Cause,
				}),
			}
		}
	}
}

// invoke calls the work unit once, converting a panic into a transient failure.
func (controller *Controller) invoke(ctx context.Context, t *task.Task, attempt int) (outcome task.Outcome) {
	if t.Unit == nil {
		return task.Permanent(errors.Errorf("task %s has no work unit", t.Name))
	}

	attrs := map[string]any{
		"task":    t.Name,
		"attempt": attempt,
	}

	_ = telemetry.TelemeterFromContext(ctx).Collect(ctx, "task_attempt", attrs, func(ctx context.Context) error {
		defer errors.Recover(func(cause error) {
			outcome = task.Transient(PanicError{Task: t.Name, Err: cause})
		})

		outcome = t.Unit(ctx)

		if outcome.Kind == task.Success {
			return nil
		}

		if outcome.Cause == nil {
			return errors.Errorf("%s", outcome.Kind)
		}

		return outcome.Cause
	})

	return outcome
}

func (controller *Controller) notify(run task.Run) {
	for _, listener := range controller.listeners {
		listener(run)
	}
}
