package runnerpool_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/datapipe-pro/datapipe/internal/dag"
	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/internal/queue"
	"github.com/datapipe-pro/datapipe/internal/runner/runnerpool"
	"github.com/datapipe-pro/datapipe/internal/task"
	"github.com/datapipe-pro/datapipe/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDelay = 5 * time.Millisecond

func testLogger() log.Logger {
	return log.New(log.WithOutput(io.Discard))
}

// recorder captures what every work unit and observer saw during a run.
type recorder struct {
	started     map[string]time.Time
	ended       map[string]time.Time
	calls       map[string]int
	transitions map[string][]queue.Status
	attempts    []task.Run
	mu          sync.Mutex
}

func newRecorder() *recorder {
	return &recorder{
		started:     map[string]time.Time{},
		ended:       map[string]time.Time{},
		calls:       map[string]int{},
		transitions: map[string][]queue.Status{},
	}
}

func (rec *recorder) unit(name string, outcomes ...task.Outcome) task.WorkUnit {
	return func(context.Context) task.Outcome {
		rec.mu.Lock()
		rec.calls[name]++
		n := rec.calls[name]

		if _, ok := rec.started[name]; !ok {
			rec.started[name] = time.Now()
		}
		rec.mu.Unlock()

		time.Sleep(time.Millisecond)

		outcome := task.Succeeded()
		if len(outcomes) > 0 {
			outcome = outcomes[min(n, len(outcomes))-1]
		}

		rec.mu.Lock()
		rec.ended[name] = time.Now()
		rec.mu.Unlock()

		return outcome
	}
}

func (rec *recorder) TaskStatusChanged(name string, _, to queue.Status) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.transitions[name] = append(rec.transitions[name], to)
}

func (rec *recorder) TaskAttemptFinished(run task.Run) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.attempts = append(rec.attempts, run)
}

// dailyPipeline builds the default eight task pipeline, with the given outcomes per task.
func dailyPipeline(t *testing.T, rec *recorder, outcomes map[string][]task.Outcome) *dag.Graph {
	t.Helper()

	deps := map[string][]string{
		"clean_merge":       {"ingest_api", "ingest_scrape", "ingest_csv"},
		"quality_check":     {"clean_merge"},
		"aggregate":         {"quality_check"},
		"load_warehouse":    {"aggregate"},
		"refresh_dashboard": {"load_warehouse"},
	}

	names := []string{
		"ingest_api", "ingest_scrape", "ingest_csv", "clean_merge",
		"quality_check", "aggregate", "load_warehouse", "refresh_dashboard",
	}

	tasks := make([]*task.Task, 0, len(names))
	for _, name := range names {
		tasks = append(tasks, task.New(name, rec.unit(name, outcomes[name]...),
			task.WithDependsOn(deps[name]...),
			task.WithRetry(task.DefaultRetryLimit, testDelay),
		))
	}

	g, err := dag.New(tasks)
	require.NoError(t, err)

	return g
}

func TestRunAllSucceed(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	g := dailyPipeline(t, rec, nil)

	result, err := runnerpool.NewController(g, runnerpool.WithObservers(rec), runnerpool.WithName("daily")).Run(t.Context(), testLogger())
	require.NoError(t, err)

	assert.Equal(t, runnerpool.PipelineSucceeded, result.Status)
	assert.Equal(t, "daily", result.Name)
	assert.NotEmpty(t, result.RunID)
	assert.Len(t, result.Succeeded(), 8)
	assert.Empty(t, result.Failed())
	assert.Empty(t, result.Skipped())
	require.NoError(t, result.Err())
	assert.Equal(t, 8, result.Attempts())

	for _, name := range g.AllTasks() {
		assert.Equal(t, 1, rec.calls[name], "%s must be invoked exactly once", name)

		for _, dep := range g.DependenciesOf(name) {
			assert.False(t, rec.started[name].Before(rec.ended[dep]), "%s started before %s ended", name, dep)
		}

		assert.Equal(t, []queue.Status{
			queue.StatusReady, queue.StatusRunning, queue.StatusSucceeded,
		}, rec.transitions[name], name)
	}
}

func TestRunIngestCSVFailure(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	g := dailyPipeline(t, rec, map[string][]task.Outcome{
		"ingest_csv": {task.Transient(fmt.Errorf("sample.csv: no such file or directory"))},
	})

	result, err := runnerpool.NewController(g, runnerpool.WithObservers(rec)).Run(t.Context(), testLogger())
	require.NoError(t, err)

	assert.Equal(t, runnerpool.PipelineFailed, result.Status)
	assert.Equal(t, []string{"ingest_api", "ingest_scrape"}, result.Succeeded())
	assert.Equal(t, []string{"ingest_csv"}, result.Failed())
	assert.Equal(t, []string{"clean_merge", "quality_check", "aggregate", "load_warehouse", "refresh_dashboard"}, result.Skipped())

	csv, ok := result.Task("ingest_csv")
	require.True(t, ok)
	require.Len(t, csv.Runs, 3)

	for i, run := range csv.Runs {
		assert.Equal(t, i+1, run.Attempt)
		assert.Equal(t, task.TransientFailure, run.Outcome)
	}

	assert.GreaterOrEqual(t, csv.Runs[1].Started.Sub(csv.Runs[0].Ended), testDelay)
	assert.GreaterOrEqual(t, csv.Runs[2].Started.Sub(csv.Runs[1].Ended), testDelay)

	for _, name := range result.Skipped() {
		skipped, _ := result.Task(name)
		assert.Empty(t, skipped.Runs, "%s must never be invoked", name)
		assert.Equal(t, "ingest_csv", skipped.FailedDependency)
		assert.Equal(t, runnerpool.SkipReasonDependencyFailed, skipped.SkipReason)
		assert.Zero(t, rec.calls[name])
	}

	err = result.Err()
	require.Error(t, err)

	var failedErr runnerpool.TaskFailedError
	require.True(t, errors.As(err, &failedErr))
	assert.Equal(t, "ingest_csv", failedErr.Task)

	var earlyExitErr runnerpool.TaskEarlyExitError
	require.True(t, errors.As(err, &earlyExitErr))
	assert.Equal(t, "ingest_csv", earlyExitErr.FailedDependency)
}

func TestRunPermanentFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	g := dailyPipeline(t, rec, map[string][]task.Outcome{
		"quality_check": {task.Permanent(fmt.Errorf("only 2 rows"))},
	})

	result, err := runnerpool.NewController(g).Run(t.Context(), testLogger())
	require.NoError(t, err)

	qc, _ := result.Task("quality_check")
	assert.Equal(t, queue.StatusFailed, qc.Status)
	assert.Len(t, qc.Runs, 1)
	assert.EqualError(t, qc.Cause, "only 2 rows")
	assert.Equal(t, []string{"aggregate", "load_warehouse", "refresh_dashboard"}, result.Skipped())
	assert.Len(t, result.Succeeded(), 4)
}

func TestRunRetryRecovers(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	g := dailyPipeline(t, rec, map[string][]task.Outcome{
		"load_warehouse": {task.Transient(fmt.Errorf("connection refused")), task.Transient(fmt.Errorf("connection refused")), task.Succeeded()},
	})

	result, err := runnerpool.NewController(g, runnerpool.WithObservers(rec)).Run(t.Context(), testLogger())
	require.NoError(t, err)

	assert.Equal(t, runnerpool.PipelineSucceeded, result.Status)

	load, _ := result.Task("load_warehouse")
	require.Len(t, load.Runs, 3)
	assert.Equal(t, task.Success, load.Runs[2].Outcome)
	assert.Len(t, rec.attempts, 10)
}

func TestRunSiblingBranchesContinue(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	tasks := []*task.Task{
		task.New("a", rec.unit("a")),
		task.New("b", rec.unit("b", task.Permanent(fmt.Errorf("boom"))), task.WithDependsOn("a")),
		task.New("c", rec.unit("c"), task.WithDependsOn("a")),
		task.New("d", rec.unit("d"), task.WithDependsOn("b")),
		task.New("e", rec.unit("e"), task.WithDependsOn("c")),
		task.New("f", rec.unit("f"), task.WithDependsOn("d", "e")),
	}

	g, err := dag.New(tasks)
	require.NoError(t, err)

	result, err := runnerpool.NewController(g).Run(t.Context(), testLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "c", "e"}, result.Succeeded())
	assert.Equal(t, []string{"b"}, result.Failed())
	assert.Equal(t, []string{"d", "f"}, result.Skipped())
}

func TestRunRetryDelayBlocksOnlyItsTask(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	tasks := []*task.Task{
		task.New("a", rec.unit("a", task.Transient(fmt.Errorf("connection reset")), task.Succeeded()),
			task.WithRetry(1, 200*time.Millisecond)),
		task.New("b", rec.unit("b")),
		task.New("c", rec.unit("c"), task.WithDependsOn("b")),
	}

	g, err := dag.New(tasks)
	require.NoError(t, err)

	result, err := runnerpool.NewController(g, runnerpool.WithMaxConcurrency(2)).Run(t.Context(), testLogger())
	require.NoError(t, err)
	assert.Equal(t, runnerpool.PipelineSucceeded, result.Status)

	a, _ := result.Task("a")
	require.Len(t, a.Runs, 2)

	c, _ := result.Task("c")
	require.Len(t, c.Runs, 1)

	assert.True(t, c.Runs[0].Ended.Before(a.Runs[1].Started), "c ended at %s, a retried at %s", c.Runs[0].Ended, a.Runs[1].Started)
}

func TestRunRespectsConcurrencyLimit(t *testing.T) {
	t.Parallel()

	const limit = 2

	var (
		current atomic.Int32
		peak    atomic.Int32
	)

	unit := func(context.Context) task.Outcome {
		n := current.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}

		time.Sleep(10 * time.Millisecond)
		current.Add(-1)

		return task.Succeeded()
	}

	tasks := make([]*task.Task, 0, 8)
	for i := range 8 {
		tasks = append(tasks, task.New(fmt.Sprintf("task-%d", i), unit))
	}

	g, err := dag.New(tasks)
	require.NoError(t, err)

	result, err := runnerpool.NewController(g, runnerpool.WithMaxConcurrency(limit)).Run(t.Context(), testLogger())
	require.NoError(t, err)

	assert.Equal(t, runnerpool.PipelineSucceeded, result.Status)
	assert.LessOrEqual(t, peak.Load(), int32(limit))
	assert.Equal(t, int32(limit), peak.Load())
}

func TestRunRootsInParallel(t *testing.T) {
	t.Parallel()

	var barrier sync.WaitGroup

	barrier.Add(3)

	unit := func(context.Context) task.Outcome {
		barrier.Done()

		waited := make(chan struct{})

		go func() {
			barrier.Wait()
			close(waited)
		}()

		select {
		case <-waited:
			return task.Succeeded()
		case <-time.After(5 * time.Second):
			return task.Permanent(fmt.Errorf("roots did not run concurrently"))
		}
	}

	g, err := dag.New([]*task.Task{
		task.New("ingest_api", unit),
		task.New("ingest_scrape", unit),
		task.New("ingest_csv", unit),
	})
	require.NoError(t, err)

	result, err := runnerpool.NewController(g, runnerpool.WithMaxConcurrency(3)).Run(t.Context(), testLogger())
	require.NoError(t, err)
	assert.Equal(t, runnerpool.PipelineSucceeded, result.Status)
}

func TestRunAbort(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())

	var unitCtxErr atomic.Value

	tasks := []*task.Task{
		task.New("ingest_api", func(unitCtx context.Context) task.Outcome {
			cancel()
			time.Sleep(20 * time.Millisecond)
			unitCtxErr.Store(fmt.Sprint(unitCtx.Err()))

			return task.Succeeded()
		}),
		task.New("clean_merge", func(context.Context) task.Outcome {
			return task.Succeeded()
		}, task.WithDependsOn("ingest_api")),
	}

	g, err := dag.New(tasks)
	require.NoError(t, err)

	var logs bytes.Buffer

	result, err := runnerpool.NewController(g).Run(ctx, log.New(log.WithOutput(&logs)))
	require.NoError(t, err)

	assert.Equal(t, runnerpool.PipelineFailed, result.Status)
	assert.Equal(t, []string{"ingest_api"}, result.Succeeded(), "in-flight task completes")
	assert.Contains(t, logs.String(), "waiting for 1 running tasks")
	assert.Equal(t, "<nil>", unitCtxErr.Load(), "work units are not cancelled by an abort")

	merge, _ := result.Task("clean_merge")
	assert.Equal(t, queue.StatusSkipped, merge.Status)
	assert.Equal(t, runnerpool.SkipReasonAborted, merge.SkipReason)
	assert.Empty(t, merge.Runs)
}

func TestRunAbortBeforeStart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	rec := newRecorder()
	g := dailyPipeline(t, rec, nil)

	result, err := runnerpool.NewController(g).Run(ctx, testLogger())
	require.NoError(t, err)

	assert.Len(t, result.Skipped(), 8)

	for _, name := range g.AllTasks() {
		assert.Zero(t, rec.calls[name])
	}
}

func TestRunFailFast(t *testing.T) {
	t.Parallel()

	slowStarted := make(chan struct{})
	release := make(chan struct{})

	tasks := []*task.Task{
		task.New("fails", func(context.Context) task.Outcome {
			<-slowStarted
			return task.Permanent(fmt.Errorf("boom"))
		}),
		task.New("slow", func(context.Context) task.Outcome {
			close(slowStarted)
			<-release

			return task.Succeeded()
		}),
		task.New("after_slow", func(context.Context) task.Outcome {
			return task.Succeeded()
		}, task.WithDependsOn("slow")),
	}

	g, err := dag.New(tasks)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	result, err := runnerpool.NewController(g, runnerpool.WithFailFast(true)).Run(t.Context(), testLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{"slow"}, result.Succeeded())
	assert.Equal(t, []string{"fails"}, result.Failed())

	afterSlow, _ := result.Task("after_slow")
	assert.Equal(t, queue.StatusSkipped, afterSlow.Status)
	assert.Equal(t, runnerpool.SkipReasonFailFast, afterSlow.SkipReason)
}

func TestRunEmptyGraph(t *testing.T) {
	t.Parallel()

	g, err := dag.New(nil)
	require.NoError(t, err)

	result, err := runnerpool.NewController(g, runnerpool.WithRunID("fixed")).Run(t.Context(), testLogger())
	require.NoError(t, err)

	assert.Equal(t, "fixed", result.RunID)
	assert.Equal(t, runnerpool.PipelineSucceeded, result.Status)
	assert.Empty(t, result.Tasks)
}

func TestRunTwiceStartsFresh(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	g := dailyPipeline(t, rec, nil)
	controller := runnerpool.NewController(g)

	first, err := controller.Run(t.Context(), testLogger())
	require.NoError(t, err)

	second, err := controller.Run(t.Context(), testLogger())
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Len(t, second.Succeeded(), 8)
	assert.Equal(t, 2, rec.calls["refresh_dashboard"])
}

func TestRunWorkUnitPanics(t *testing.T) {
	t.Parallel()

	g, err := dag.New([]*task.Task{
		task.New("panics", func(context.Context) task.Outcome {
			panic("unexpected nil")
		}, task.WithRetry(1, time.Millisecond)),
		task.New("downstream", func(context.Context) task.Outcome {
			return task.Succeeded()
		}, task.WithDependsOn("panics")),
	})
	require.NoError(t, err)

	result, err := runnerpool.NewController(g).Run(t.Context(), testLogger())
	require.NoError(t, err)

	panics, _ := result.Task("panics")
	assert.Equal(t, queue.StatusFailed, panics.Status)
	assert.Len(t, panics.Runs, 2)
	assert.Equal(t, []string{"downstream"}, result.Skipped())
}

func TestRunBrokenStateSkipsQueuedTasks(t *testing.T) {
	t.Parallel()

	rec := newRecorder()

	g, err := dag.New([]*task.Task{
		task.New("a", rec.unit("a")),
		task.New("b", rec.unit("b")),
		task.New("c", rec.unit("c")),
	})
	require.NoError(t, err)

	var broken atomic.Bool

	observer := runnerpool.ObserverFuncs{OnStatus: func(_ string, _, to queue.Status) {
		if to == queue.StatusRunning && broken.CompareAndSwap(false, true) {
			panic("observer failure")
		}
	}}

	result, err := runnerpool.NewController(g,
		runnerpool.WithMaxConcurrency(1),
		runnerpool.WithObservers(observer),
	).Run(t.Context(), testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "observer failure")

	assert.Equal(t, runnerpool.PipelineFailed, result.Status)
	assert.Empty(t, result.Succeeded())
	require.Len(t, result.Skipped(), 2)

	for _, name := range result.Skipped() {
		taskResult, _ := result.Task(name)
		assert.Equal(t, runnerpool.SkipReasonAborted, taskResult.SkipReason, name)
		assert.Zero(t, rec.calls[name], name)
	}
}
