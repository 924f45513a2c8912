package queue_test

import (
	"sync"
	"testing"

	"github.com/datapipe-pro/datapipe/internal/dag"
	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/internal/queue"
	"github.com/datapipe-pro/datapipe/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGraph(t *testing.T, edges map[string][]string, order ...string) *dag.Graph {
	t.Helper()

	tasks := make([]*task.Task, 0, len(order))
	for _, name := range order {
		tasks = append(tasks, task.New(name, nil, task.WithDependsOn(edges[name]...)))
	}

	g, err := dag.New(tasks)
	require.NoError(t, err)

	return g
}

func dailyGraph(t *testing.T) *dag.Graph {
	t.Helper()

	return newGraph(t, map[string][]string{
		"clean_merge":       {"ingest_api", "ingest_scrape", "ingest_csv"},
		"quality_check":     {"clean_merge"},
		"aggregate":         {"quality_check"},
		"load_warehouse":    {"aggregate"},
		"refresh_dashboard": {"load_warehouse"},
	}, "ingest_api", "ingest_scrape", "ingest_csv", "clean_merge", "quality_check", "aggregate", "load_warehouse", "refresh_dashboard")
}

func TestTrackerInitialState(t *testing.T) {
	t.Parallel()

	tracker := queue.NewTracker(dailyGraph(t))

	for name, status := range tracker.Snapshot() {
		assert.Equal(t, queue.StatusPending, status, name)
	}

	assert.Equal(t, []string{"ingest_api", "ingest_scrape", "ingest_csv"}, tracker.ReadySet())
	assert.False(t, tracker.IsReady("clean_merge"))
	assert.False(t, tracker.AllTerminal())
	assert.Equal(t, 8, tracker.Counts()[queue.StatusPending])
}

func TestTrackerLifecycle(t *testing.T) {
	t.Parallel()

	tracker := queue.NewTracker(dailyGraph(t))

	for _, root := range []string{"ingest_api", "ingest_scrape"} {
		require.NoError(t, tracker.MarkReady(root))
		require.NoError(t, tracker.MarkRunning(root))
		require.NoError(t, tracker.MarkSucceeded(root))
	}

	assert.False(t, tracker.IsReady("clean_merge"), "one ingestion is still pending")

	require.NoError(t, tracker.MarkReady("ingest_csv"))
	require.NoError(t, tracker.MarkRunning("ingest_csv"))
	require.NoError(t, tracker.MarkSucceeded("ingest_csv"))

	assert.True(t, tracker.IsReady("clean_merge"))
	assert.Equal(t, []string{"clean_merge"}, tracker.ReadySet())

	status, err := tracker.Status("ingest_csv")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusSucceeded, status)
}

func TestTrackerIllegalTransitions(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		prepare func(t *testing.T, tracker *queue.Tracker)
		apply   func(tracker *queue.Tracker) error
		name    string
		from    queue.Status
		to      queue.Status
	}{
		{
			name:  "ready with pending dependency",
			apply: func(tracker *queue.Tracker) error { return tracker.MarkReady("clean_merge") },
			from:  queue.StatusPending,
			to:    queue.StatusReady,
		},
		{
			name:  "running without ready",
			apply: func(tracker *queue.Tracker) error { return tracker.MarkRunning("ingest_api") },
			from:  queue.StatusPending,
			to:    queue.StatusRunning,
		},
		{
			name: "succeeded after failed",
			prepare: func(t *testing.T, tracker *queue.Tracker) {
				t.Helper()
				require.NoError(t, tracker.MarkFailed("ingest_api"))
			},
			apply: func(tracker *queue.Tracker) error { return tracker.MarkSucceeded("ingest_api") },
			from:  queue.StatusFailed,
			to:    queue.StatusSucceeded,
		},
		{
			name: "skipped twice",
			prepare: func(t *testing.T, tracker *queue.Tracker) {
				t.Helper()
				require.NoError(t, tracker.MarkSkipped("aggregate"))
			},
			apply: func(tracker *queue.Tracker) error { return tracker.MarkSkipped("aggregate") },
			from:  queue.StatusSkipped,
			to:    queue.StatusSkipped,
		},
		{
			name: "ready twice",
			prepare: func(t *testing.T, tracker *queue.Tracker) {
				t.Helper()
				require.NoError(t, tracker.MarkReady("ingest_api"))
			},
			apply: func(tracker *queue.Tracker) error { return tracker.MarkReady("ingest_api") },
			from:  queue.StatusReady,
			to:    queue.StatusReady,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tracker := queue.NewTracker(dailyGraph(t))
			if tc.prepare != nil {
				tc.prepare(t, tracker)
			}

			err := tc.apply(tracker)
			require.Error(t, err)

			var illegalErr queue.IllegalTransitionError
			require.True(t, errors.As(err, &illegalErr))
			assert.Equal(t, tc.from, illegalErr.From)
			assert.Equal(t, tc.to, illegalErr.To)
		})
	}
}

func TestTrackerUnknownTask(t *testing.T) {
	t.Parallel()

	tracker := queue.NewTracker(dailyGraph(t))

	_, err := tracker.Status("nope")

	var unknownErr queue.UnknownTaskError
	require.True(t, errors.As(err, &unknownErr))
	require.Error(t, tracker.MarkFailed("nope"))
}

func TestTrackerListener(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		changes []string
	)

	g := newGraph(t, map[string][]string{"b": {"a"}}, "a", "b")
	tracker := queue.NewTracker(g, func(name string, from, to queue.Status) {
		mu.Lock()
		defer mu.Unlock()

		changes = append(changes, name+":"+from.String()+"->"+to.String())
	})

	require.NoError(t, tracker.MarkReady("a"))
	require.NoError(t, tracker.MarkRunning("a"))
	require.NoError(t, tracker.MarkFailed("a"))
	require.Error(t, tracker.MarkSucceeded("a"))

	assert.Equal(t, []string{"b"}, tracker.SkipPending())
	assert.True(t, tracker.AllTerminal())
	assert.Equal(t, []string{
		"a:pending->ready",
		"a:ready->running",
		"a:running->failed",
		"b:pending->skipped",
	}, changes)
}

func TestTrackerConcurrentSkip(t *testing.T) {
	t.Parallel()

	tracker := queue.NewTracker(dailyGraph(t))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changed int
	)

	for range 16 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if tracker.SkipIfNotTerminal("refresh_dashboard") {
				mu.Lock()
				changed++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, changed)
}

func TestStatusIsTerminal(t *testing.T) {
	t.Parallel()

	terminal := map[queue.Status]bool{
		queue.StatusPending:   false,
		queue.StatusReady:     false,
		queue.StatusRunning:   false,
		queue.StatusSucceeded: true,
		queue.StatusFailed:    true,
		queue.StatusSkipped:   true,
	}

	for status, expected := range terminal {
		assert.Equal(t, expected, status.IsTerminal(), status.String())
	}
}
