// Package runnerpool executes a pipeline graph: it dispatches every task whose dependencies
// succeeded to a bounded worker pool, applies the retry policy and cascades failures.
package runnerpool

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/datapipe-pro/datapipe/internal/dag"
	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/internal/queue"
	"github.com/datapipe-pro/datapipe/internal/retry"
	"github.com/datapipe-pro/datapipe/internal/task"
	"github.com/datapipe-pro/datapipe/internal/worker"
	"github.com/datapipe-pro/datapipe/pkg/log"
	"github.com/datapipe-pro/datapipe/telemetry"
)

// DefaultMaxConcurrency is the default number of tasks running at the same time.
const DefaultMaxConcurrency = 8

// Controller orchestrates concurrent execution over a DAG. A Controller may run its graph
// any number of times; every Run starts from a fresh state.
type Controller struct {
	graph       *dag.Graph
	retry       *retry.Controller
	runID       string
	name        string
	observers   []Observer
	concurrency int
	failFast    bool
}

// ControllerOption is a function that modifies a Controller.
type ControllerOption func(*Controller)

// WithMaxConcurrency sets the number of tasks running at the same time.
func WithMaxConcurrency(concurrency int) ControllerOption {
	return func(dr *Controller) {
		if concurrency <= 0 {
			concurrency = 1
		}

		dr.concurrency = concurrency
	}
}

// WithRetryController sets the retry controller applied to every task.
func WithRetryController(rc *retry.Controller) ControllerOption {
	return func(dr *Controller) {
		dr.retry = rc
	}
}

// WithObservers adds observers notified of every status change and attempt.
func WithObservers(observers ...Observer) ControllerOption {
	return func(dr *Controller) {
		dr.observers = append(dr.observers, observers...)
	}
}

// WithRunID sets the identifier of the next run instead of a generated one.
func WithRunID(runID string) ControllerOption {
	return func(dr *Controller) {
		dr.runID = runID
	}
}

// WithName sets the pipeline name reported in the result.
func WithName(name string) ControllerOption {
	return func(dr *Controller) {
		dr.name = name
	}
}

// WithFailFast stops dispatching new tasks after the first failure and skips every task not yet started.
func WithFailFast(failFast bool) ControllerOption {
	return func(dr *Controller) {
		dr.failFast = failFast
	}
}

// NewController creates a new Controller for the given graph.
func NewController(graph *dag.Graph, opts ...ControllerOption) *Controller {
	dr := &Controller{
		graph:       graph,
		retry:       retry.NewController(),
		concurrency: DefaultMaxConcurrency,
	}

	for _, opt := range opts {
		opt(dr)
	}

	return dr
}

// run holds the state of one execution of the graph.
type run struct {
	ctx        context.Context
	workerCtx  context.Context
	tracker    *queue.Tracker
	propagator *queue.Propagator
	retry      *retry.Controller
	results    *xsync.MapOf[string, retry.Result]
	skips      *xsync.MapOf[string, skip]
	fatal      atomic.Pointer[error]
	failed     atomic.Bool
	readyCh    chan struct{}
}

type skip struct {
	failedDependency string
	reason           SkipReason
}

// Run executes the graph until every task is succeeded, failed or skipped.
//
// Cancelling ctx aborts the run: no further task is started, tasks that have not started are
// skipped, and tasks already running complete together with their retries. The returned error
// is not about tasks, which are reported in the Result, but about a broken scheduler state.
func (dr *Controller) Run(ctx context.Context, l log.Logger) (*Result, error) {
	runID := dr.runID
	if runID == "" {
		runID = uuid.NewString()
	}

	l = l.WithField(log.FieldKeyRunID, runID)

	result := &Result{
		RunID:   runID,
		Name:    dr.name,
		Started: time.Now(),
	}

	state := &run{
		results: xsync.NewMapOf[string, retry.Result](),
		skips:   xsync.NewMapOf[string, skip](),
		readyCh: make(chan struct{}, 1),
	}
	state.tracker = queue.NewTracker(dr.graph, dr.statusListener(l))
	state.propagator = queue.NewPropagator(dr.graph, state.tracker)
	state.retry = dr.retry.WithOptions(retry.WithAttemptListener(dr.attemptListener))

	err := telemetry.TelemeterFromContext(ctx).Collect(ctx, "pipeline_run", map[string]any{
		"run_id":      runID,
		"pipeline":    dr.name,
		"total_tasks": dr.graph.Len(),
		"concurrency": dr.concurrency,
	}, func(childCtx context.Context) error {
		state.ctx = childCtx
		state.workerCtx = context.WithoutCancel(childCtx)

		return dr.loop(state, l)
	})

	dr.collect(state, result)

	if fatal := state.fatal.Load(); fatal != nil {
		return result, *fatal
	}

	return result, err
}

func (dr *Controller) loop(state *run, l log.Logger) error {
	pool := worker.NewWorkerPool(dr.concurrency)
	done := state.ctx.Done()

	l.Debugf("Runner Pool Controller: starting with %d tasks, concurrency %d", dr.graph.Len(), pool.Size())

	for {
		if state.fatal.Load() != nil {
			l.Errorf("Runner Pool Controller: scheduler state is broken, no further tasks will be dispatched")
			pool.Stop()
			dr.skipPending(state, l, SkipReasonAborted)

			break
		}

		if dr.failFast && state.failed.Load() && !pool.IsStopping() {
			pool.Stop()
			dr.skipPending(state, l, SkipReasonFailFast)
		}

		if !pool.IsStopping() {
			dr.dispatch(state, l, pool)
		}

		if state.tracker.AllTerminal() {
			break
		}

		select {
		case <-state.readyCh:
		case <-done:
			counts := state.tracker.Counts()
			l.Warnf("Pipeline run aborted: %v, waiting for %d running tasks", context.Cause(state.ctx), counts[queue.StatusRunning]+counts[queue.StatusReady])

			done = nil

			pool.Stop()
			dr.skipPending(state, l, SkipReasonAborted)
		}
	}

	return pool.GracefulStop()
}

// dispatch marks every ready task and submits it to the pool.
func (dr *Controller) dispatch(state *run, l log.Logger, pool *worker.Pool) {
	ready := state.tracker.ReadySet()
	l.Tracef("Runner Pool Controller: found %d ready tasks, %d running", len(ready), pool.Active())

	for _, name := range ready {
		if err := state.tracker.MarkReady(name); err != nil {
			dr.setFatal(state, l, err)
			return
		}

		submitted := pool.Submit(func() error {
			return dr.runTask(state, l, name)
		})

		if !submitted && state.tracker.SkipIfNotTerminal(name) {
			state.skips.Store(name, skip{reason: SkipReasonAborted})
		}
	}
}

// runTask is executed by a pool worker for a task marked ready.
func (dr *Controller) runTask(state *run, l log.Logger, name string) (err error) {
	defer dr.signal(state)

	l = l.WithField(log.FieldKeyTask, name)

	defer errors.Recover(func(cause error) {
		dr.setFatal(state, l, cause)
		err = cause
	})

	aborted := state.ctx.Err() != nil || state.fatal.Load() != nil

	if aborted || (dr.failFast && state.failed.Load()) {
		reason := SkipReasonFailFast
		if aborted {
			reason = SkipReasonAborted
		}

		if state.tracker.SkipIfNotTerminal(name) {
			state.skips.Store(name, skip{reason: reason})
		}

		return nil
	}

	if err = state.tracker.MarkRunning(name); err != nil {
		dr.setFatal(state, l, err)
		return err
	}

	l.Infof("Task %s started", name)

	res := state.retry.Run(state.workerCtx, l, dr.graph.Task(name))
	state.results.Store(name, res)

	if res.Final.Kind == task.Success {
		if err := state.tracker.MarkSucceeded(name); err != nil {
			dr.setFatal(state, l, err)
			return err
		}

		l.Infof("Task %s succeeded after %d attempt(s)", name, len(res.Runs))

		return nil
	}

	state.failed.Store(true)

	if err := state.tracker.MarkFailed(name); err != nil {
		dr.setFatal(state, l, err)
		return err
	}

	skipped := state.propagator.Propagate(name)
	for _, dependent := range skipped {
		state.skips.Store(dependent, skip{failedDependency: name, reason: SkipReasonDependencyFailed})
	}

	if len(skipped) > 0 {
		l.Warnf("Task %s failed, skipping dependent tasks: %v", name, skipped)
	} else {
		l.Warnf("Task %s failed", name)
	}

	return nil
}

func (dr *Controller) skipPending(state *run, l log.Logger, reason SkipReason) {
	skipped := state.tracker.SkipPending()

	for _, name := range skipped {
		state.skips.Store(name, skip{reason: reason})
	}

	if len(skipped) > 0 {
		l.Warnf("Skipping tasks that have not started (%s): %v", reason, skipped)
	}
}

func (dr *Controller) setFatal(state *run, l log.Logger, err error) {
	err = errors.WithStackTrace(err)
	state.fatal.CompareAndSwap(nil, &err)

	l.Errorf("Runner Pool Controller: %v", err)
	l.Debugf("%s", errors.ErrorStack(err))

	dr.signal(state)
}

// signal wakes the scheduling loop without blocking.
func (dr *Controller) signal(state *run) {
	select {
	case state.readyCh <- struct{}{}:
	default:
	}
}

func (dr *Controller) statusListener(l log.Logger) queue.Listener {
	return func(name string, from, to queue.Status) {
		l.Tracef("Task %s: %s -> %s", name, from, to)

		for _, observer := range dr.observers {
			observer.TaskStatusChanged(name, from, to)
		}
	}
}

func (dr *Controller) attemptListener(run task.Run) {
	for _, observer := range dr.observers {
		observer.TaskAttemptFinished(run)
	}
}

func (dr *Controller) collect(state *run, result *Result) {
	snapshot := state.tracker.Snapshot()

	result.Ended = time.Now()
	result.Status = PipelineSucceeded
	result.Tasks = make([]TaskResult, 0, dr.graph.Len())

	for _, name := range dr.graph.AllTasks() {
		taskResult := TaskResult{
			Name:   name,
			Status: snapshot[name],
		}

		if res, ok := state.results.Load(name); ok {
			taskResult.Runs = res.Runs

			if res.Final.Kind != task.Success {
				taskResult.Cause = res.Final.Cause
			}
		}

		if s, ok := state.skips.Load(name); ok {
			taskResult.FailedDependency = s.failedDependency
			taskResult.SkipReason = s.reason
		}

		if taskResult.Status != queue.StatusSucceeded {
			result.Status = PipelineFailed
		}

		result.Tasks = append(result.Tasks, taskResult)
	}
}
