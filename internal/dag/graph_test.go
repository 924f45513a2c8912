package dag_test

import (
	"bytes"
	"testing"

	"github.com/datapipe-pro/datapipe/internal/dag"
	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTask(name string, deps ...string) *task.Task {
	return task.New(name, nil, task.WithDependsOn(deps...))
}

func dailyPipeline() []*task.Task {
	return []*task.Task{
		newTask("ingest_api"),
		newTask("ingest_scrape"),
		newTask("ingest_csv"),
		newTask("clean_merge", "ingest_api", "ingest_scrape", "ingest_csv"),
		newTask("quality_check", "clean_merge"),
		newTask("aggregate", "quality_check"),
		newTask("load_warehouse", "aggregate"),
		newTask("refresh_dashboard", "load_warehouse"),
	}
}

func TestNewDailyPipeline(t *testing.T) {
	t.Parallel()

	g, err := dag.New(dailyPipeline())
	require.NoError(t, err)

	assert.Equal(t, 8, g.Len())
	assert.Equal(t, []string{"ingest_api", "ingest_scrape", "ingest_csv"}, g.Roots())
	assert.Equal(t, []string{"ingest_api", "ingest_scrape", "ingest_csv"}, g.DependenciesOf("clean_merge"))
	assert.Equal(t, []string{"clean_merge"}, g.DependentsOf("ingest_scrape"))
	assert.Empty(t, g.DependentsOf("refresh_dashboard"))
	assert.Nil(t, g.DependenciesOf("missing"))
	assert.NotNil(t, g.Task("aggregate"))
	assert.Nil(t, g.Task("missing"))
	assert.Equal(t, []string{
		"ingest_api", "ingest_scrape", "ingest_csv", "clean_merge",
		"quality_check", "aggregate", "load_warehouse", "refresh_dashboard",
	}, g.AllTasks())
}

func TestNewCopiesTasks(t *testing.T) {
	t.Parallel()

	tasks := dailyPipeline()

	g, err := dag.New(tasks)
	require.NoError(t, err)

	merge := tasks[3]
	merge.RetryLimit = 9
	merge.DependsOn[0] = "refresh_dashboard"

	got := g.Task("clean_merge")
	assert.Equal(t, task.DefaultRetryLimit, got.RetryLimit)
	assert.Equal(t, []string{"ingest_api", "ingest_scrape", "ingest_csv"}, got.DependsOn)

	got.RetryDelay = 0
	got.DependsOn[0] = "aggregate"

	assert.Equal(t, task.DefaultRetryDelay, g.Task("clean_merge").RetryDelay)
	assert.Equal(t, []string{"ingest_api", "ingest_scrape", "ingest_csv"}, g.Task("clean_merge").DependsOn)
	assert.Equal(t, []string{"ingest_api", "ingest_scrape", "ingest_csv"}, g.DependenciesOf("clean_merge"))
}

func TestTopologicalOrder(t *testing.T) {
	t.Parallel()

	g, err := dag.New([]*task.Task{
		newTask("d", "b", "c"),
		newTask("c", "a"),
		newTask("b", "a"),
		newTask("a"),
	})
	require.NoError(t, err)

	order := g.TopologicalOrder()
	require.Len(t, order, 4)

	position := make(map[string]int, len(order))
	for i, name := range order {
		position[name] = i
	}

	for _, name := range g.AllTasks() {
		for _, dep := range g.DependenciesOf(name) {
			assert.Less(t, position[dep], position[name], "%s must come after %s", name, dep)
		}
	}

	assert.Equal(t, []string{"a", "c", "b", "d"}, order)
}

func TestNewErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		check func(t *testing.T, err error)
		name  string
		tasks []*task.Task
	}{
		{
			name:  "unknown dependency",
			tasks: []*task.Task{newTask("clean_merge", "ingest_ftp")},
			check: func(t *testing.T, err error) {
				t.Helper()

				var unknownErr dag.UnknownDependencyError
				require.True(t, errors.As(err, &unknownErr))
				assert.Equal(t, "clean_merge", unknownErr.Task)
				assert.Equal(t, "ingest_ftp", unknownErr.Dependency)
			},
		},
		{
			name:  "two task cycle",
			tasks: []*task.Task{newTask("a", "b"), newTask("b", "a")},
			check: func(t *testing.T, err error) {
				t.Helper()

				var cycleErr dag.CycleError
				require.True(t, errors.As(err, &cycleErr))
				assert.Equal(t, []string{"a", "b", "a"}, cycleErr.Path)
				assert.Contains(t, err.Error(), "a -> b -> a")
			},
		},
		{
			name:  "self dependency",
			tasks: []*task.Task{newTask("a", "a")},
			check: func(t *testing.T, err error) {
				t.Helper()

				var cycleErr dag.CycleError
				require.True(t, errors.As(err, &cycleErr))
				assert.Equal(t, []string{"a", "a"}, cycleErr.Path)
			},
		},
		{
			name:  "long cycle behind a root",
			tasks: []*task.Task{newTask("root"), newTask("x", "root", "z"), newTask("y", "x"), newTask("z", "y")},
			check: func(t *testing.T, err error) {
				t.Helper()

				var cycleErr dag.CycleError
				require.True(t, errors.As(err, &cycleErr))
				assert.Equal(t, []string{"x", "z", "y", "x"}, cycleErr.Path)
			},
		},
		{
			name:  "duplicate name",
			tasks: []*task.Task{newTask("a"), newTask("a")},
			check: func(t *testing.T, err error) {
				t.Helper()

				var invalidErr dag.InvalidGraphError
				require.True(t, errors.As(err, &invalidErr))
				assert.Equal(t, "a", invalidErr.Task)
			},
		},
		{
			name:  "empty name",
			tasks: []*task.Task{newTask("")},
			check: func(t *testing.T, err error) {
				t.Helper()

				var invalidErr dag.InvalidGraphError
				require.True(t, errors.As(err, &invalidErr))
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			g, err := dag.New(tc.tasks)
			require.Error(t, err)
			assert.Nil(t, g)
			tc.check(t, err)
		})
	}
}

func TestDuplicateDependencyIsCollapsed(t *testing.T) {
	t.Parallel()

	g, err := dag.New([]*task.Task{newTask("a"), newTask("b", "a", "a")})
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, g.DependenciesOf("b"))
	assert.Equal(t, []string{"b"}, g.DependentsOf("a"))
}

func TestEmptyGraph(t *testing.T) {
	t.Parallel()

	g, err := dag.New(nil)
	require.NoError(t, err)
	assert.Zero(t, g.Len())
	assert.Empty(t, g.TopologicalOrder())
}

func TestWriteDot(t *testing.T) {
	t.Parallel()

	g, err := dag.New([]*task.Task{newTask("a"), newTask("b", "a")})
	require.NoError(t, err)

	buf := new(bytes.Buffer)
	require.NoError(t, g.WriteDot(buf))

	assert.Equal(t, "digraph {\n\t\"a\" ;\n\t\"b\" ;\n\t\"b\" -> \"a\";\n}\n", buf.String())
}
