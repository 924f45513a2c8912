package retry_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/internal/retry"
	"github.com/datapipe-pro/datapipe/internal/task"
	"github.com/datapipe-pro/datapipe/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() log.Logger {
	return log.New(log.WithOutput(io.Discard))
}

// sequence returns a work unit producing the given outcomes in order, repeating the last one.
func sequence(calls *atomic.Int32, outcomes ...task.Outcome) task.WorkUnit {
	return func(context.Context) task.Outcome {
		n := int(calls.Add(1))
		if n > len(outcomes) {
			n = len(outcomes)
		}

		return outcomes[n-1]
	}
}

func TestRunOutcomes(t *testing.T) {
	t.Parallel()

	transient := task.Transient(fmt.Errorf("connection reset"))
	permanent := task.Permanent(fmt.Errorf("missing column"))

	testCases := []struct {
		name          string
		outcomes      []task.Outcome
		retryLimit    int
		expectedCalls int
		expectedFinal task.OutcomeKind
	}{
		{"first attempt succeeds", []task.Outcome{task.Succeeded()}, 2, 1, task.Success},
		{"succeeds on second attempt", []task.Outcome{transient, task.Succeeded()}, 2, 2, task.Success},
		{"succeeds on last attempt", []task.Outcome{transient, transient, task.Succeeded()}, 2, 3, task.Success},
		{"exhausts transient retries", []task.Outcome{transient}, 2, 3, task.PermanentFailure},
		{"permanent failure is not retried", []task.Outcome{permanent}, 2, 1, task.PermanentFailure},
		{"permanent after transient", []task.Outcome{transient, permanent}, 5, 2, task.PermanentFailure},
		{"no retries", []task.Outcome{transient}, 0, 1, task.PermanentFailure},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32

			tsk := task.New("ingest_api", sequence(&calls, tc.outcomes...), task.WithRetry(tc.retryLimit, time.Millisecond))
			result := retry.NewController().Run(t.Context(), testLogger(), tsk)

			assert.Equal(t, tc.expectedCalls, int(calls.Load()))
			assert.Equal(t, tc.expectedFinal, result.Final.Kind)
			require.Len(t, result.Runs, tc.expectedCalls)

			for i, run := range result.Runs {
				assert.Equal(t, i+1, run.Attempt)
				assert.Equal(t, "ingest_api", run.TaskName)
				assert.False(t, run.Ended.Before(run.Started))
			}
		})
	}
}

func TestRunExhaustedCause(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("file not found")
	tsk := task.New("ingest_csv", func(context.Context) task.Outcome {
		return task.Transient(cause)
	}, task.WithRetry(2, time.Millisecond))

	result := retry.NewController().Run(t.Context(), testLogger(), tsk)

	var exhaustedErr retry.RetriesExhaustedError
	require.True(t, errors.As(result.Final.Cause, &exhaustedErr))
	assert.Equal(t, 3, exhaustedErr.Attempts)
	assert.ErrorIs(t, result.Final.Cause, cause)

	for _, run := range result.Runs {
		assert.Equal(t, task.TransientFailure, run.Outcome)
	}
}

func TestRunWaitsRetryDelay(t *testing.T) {
	t.Parallel()

	const delay = 40 * time.Millisecond

	var calls atomic.Int32

	tsk := task.New("scrape", sequence(&calls, task.Transient(fmt.Errorf("503")), task.Succeeded()), task.WithRetry(2, delay))
	result := retry.NewController().Run(t.Context(), testLogger(), tsk)

	require.Len(t, result.Runs, 2)
	gap := result.Runs[1].Started.Sub(result.Runs[0].Ended)
	assert.GreaterOrEqual(t, gap, delay)
}

func TestRunNoDelayAfterPermanentFailure(t *testing.T) {
	t.Parallel()

	tsk := task.New("quality_check", func(context.Context) task.Outcome {
		return task.Permanent(fmt.Errorf("negative metric_value"))
	}, task.WithRetry(2, time.Hour))

	started := time.Now()
	result := retry.NewController().Run(t.Context(), testLogger(), tsk)

	assert.Less(t, time.Since(started), time.Second)
	assert.Len(t, result.Runs, 1)
}

func TestRunRecoversPanic(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	tsk := task.New("aggregate", func(context.Context) task.Outcome {
		if calls.Add(1) == 1 {
			panic("nil map")
		}

		return task.Succeeded()
	}, task.WithRetry(1, time.Millisecond))

	result := retry.NewController().Run(t.Context(), testLogger(), tsk)

	require.Len(t, result.Runs, 2)
	assert.Equal(t, task.TransientFailure, result.Runs[0].Outcome)

	var panicErr retry.PanicError
	require.True(t, errors.As(result.Runs[0].Cause, &panicErr))
	assert.Equal(t, task.Success, result.Final.Kind)
}

func TestRunInterruptedWait(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())

	tsk := task.New("load_warehouse", func(context.Context) task.Outcome {
		cancel()
		return task.Transient(fmt.Errorf("connection refused"))
	}, task.WithRetry(2, time.Hour))

	result := retry.NewController().Run(ctx, testLogger(), tsk)

	assert.Len(t, result.Runs, 1)
	assert.Equal(t, task.PermanentFailure, result.Final.Kind)

	var interruptedErr retry.WaitInterruptedError
	require.True(t, errors.As(result.Final.Cause, &interruptedErr))
	assert.ErrorIs(t, result.Final.Cause, context.Canceled)
}

func TestRunWithoutWorkUnit(t *testing.T) {
	t.Parallel()

	result := retry.NewController().Run(t.Context(), testLogger(), task.New("empty", nil))

	assert.Equal(t, task.PermanentFailure, result.Final.Kind)
	assert.Len(t, result.Runs, 1)
}

func TestAttemptListener(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []int
	)

	controller := retry.NewController(retry.WithAttemptListener(func(run task.Run) {
		mu.Lock()
		defer mu.Unlock()

		seen = append(seen, run.Attempt)
	}))

	var calls atomic.Int32

	tsk := task.New("refresh_dashboard", sequence(&calls, task.Transient(fmt.Errorf("502"))), task.WithRetry(2, time.Millisecond))
	controller.Run(t.Context(), testLogger(), tsk)

	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestClassifier(t *testing.T) {
	t.Parallel()

	classifier, err := retry.NewClassifier(
		[]string{"(?i)permission denied", "(?i)status 4\\d\\d"},
		[]string{"status 429"},
	)
	require.NoError(t, err)

	testCases := []struct {
		name     string
		outcome  task.Outcome
		expected task.OutcomeKind
	}{
		{"success untouched", task.Succeeded(), task.Success},
		{"transient promoted", task.Transient(fmt.Errorf("open raw: Permission denied")), task.PermanentFailure},
		{"permanent kept on retryable match", task.Permanent(fmt.Errorf("status 429: too many requests")), task.PermanentFailure},
		{"retryable exempts transient", task.Transient(fmt.Errorf("GET /api: status 429")), task.TransientFailure},
		{"transient promoted by status", task.Transient(fmt.Errorf("GET /api: status 404")), task.PermanentFailure},
		{"transient untouched", task.Transient(fmt.Errorf("timeout")), task.TransientFailure},
		{"permanent untouched", task.Permanent(fmt.Errorf("bad header")), task.PermanentFailure},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.expected, classifier.Classify(tc.outcome).Kind)
		})
	}

	_, err = retry.NewClassifier([]string{"("}, nil)
	require.Error(t, err)
}

func TestClassifierKeepsPermanentFailure(t *testing.T) {
	t.Parallel()

	classifier, err := retry.NewClassifier(nil, []string{"(?i)connection refused", "(?i)i/o timeout"})
	require.NoError(t, err)

	var calls atomic.Int32

	tsk := task.New("ingest_api", sequence(&calls, task.Permanent(fmt.Errorf("status 400: connection refused"))), task.WithRetry(2, time.Millisecond))
	result := retry.NewController(retry.WithClassifier(classifier)).Run(t.Context(), testLogger(), tsk)

	assert.Equal(t, int32(1), calls.Load())
	assert.Len(t, result.Runs, 1)
	assert.Equal(t, task.PermanentFailure, result.Final.Kind)
}

func TestClassifierStopsRetries(t *testing.T) {
	t.Parallel()

	classifier, err := retry.NewClassifier([]string{"401 Unauthorized"}, nil)
	require.NoError(t, err)

	var calls atomic.Int32

	tsk := task.New("refresh_dashboard", sequence(&calls, task.Transient(fmt.Errorf("401 Unauthorized"))), task.WithRetry(2, time.Millisecond))
	result := retry.NewController(retry.WithClassifier(classifier)).Run(t.Context(), testLogger(), tsk)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, task.PermanentFailure, result.Final.Kind)
}
