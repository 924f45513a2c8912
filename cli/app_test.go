package cli_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/datapipe-pro/datapipe/cli"
	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/internal/report"
	"github.com/datapipe-pro/datapipe/options"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const commandPipeline = `
name: commands
defaults:
  retries: 0
  retry_delay_seconds: 0
tasks:
  - name: extract
    command: ["sh", "-c", "echo extracted"]
  - name: load
    command: ["sh", "-c", "echo loaded"]
    depends_on: [extract]
`

const failingPipeline = `
name: failing
tasks:
  - name: extract
    command: ["sh", "-c", "echo extracted"]
  - name: load
    command: ["sh", "-c", "echo warehouse unavailable >&2; exit 3"]
    depends_on: [extract]
`

type testApp struct {
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	dir    string
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	return &testApp{
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		dir:    t.TempDir(),
	}
}

func (ta *testApp) writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(ta.dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func (ta *testApp) run(t *testing.T, args ...string) error {
	t.Helper()

	opts := options.NewPipelineOptionsWithWriters(ta.stdout, ta.stderr)
	opts.DataDir = filepath.Join(ta.dir, "data")
	opts.LogFile = ""
	opts.NoColor = true

	return cli.NewApp(opts).RunContext(t.Context(), append([]string{cli.AppName}, args...))
}

func TestGraphCommand(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)

	require.NoError(t, ta.run(t, "graph"))

	out := ta.stdout.String()
	assert.Contains(t, out, "digraph {")
	assert.Contains(t, out, `"clean_merge" -> "ingest_csv";`)
	assert.Contains(t, out, `"refresh_dashboard" -> "load_warehouse";`)
}

func TestValidateCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		definition string
		wantOut    []string
		errMsg     string
	}{
		{
			name:       "valid",
			definition: commandPipeline,
			wantOut:    []string{"roots: extract\n", "extract (attempts: 1, retry delay: 0s)", "load <- extract"},
		},
		{
			name: "cycle",
			definition: `
tasks:
  - name: a
    command: ["true"]
    depends_on: [b]
  - name: b
    command: ["true"]
    depends_on: [a]
`,
			errMsg: "dependency cycle detected",
		},
		{
			name: "unknown key",
			definition: `
tasks:
  - name: a
    comand: ["true"]
`,
			errMsg: "comand",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ta := newTestApp(t)
			err := ta.run(t, "--config", ta.writeConfig(t, tt.definition), "validate")

			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)

				return
			}

			require.NoError(t, err)

			for _, want := range tt.wantOut {
				assert.Contains(t, ta.stdout.String(), want)
			}
		})
	}
}

func TestRunCommand(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)
	reportFile := filepath.Join(ta.dir, "report.csv")

	err := ta.run(t, "--config", ta.writeConfig(t, commandPipeline), "run", "--report-file", reportFile, "--run-id", "nightly")
	require.NoError(t, err)

	assert.Contains(t, ta.stdout.String(), "2 tasks")

	data, err := os.ReadFile(reportFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Name,Started,Ended,Result,Reason,Cause,Attempts")
	assert.Contains(t, string(data), "load,")
}

func TestRunCommandFailure(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)
	reportFile := filepath.Join(ta.dir, "report.json")

	err := ta.run(t, "--config", ta.writeConfig(t, failingPipeline), "run", "--retries", "1", "--retry-delay", "0s", "--report-file", reportFile)
	require.Error(t, err)
	assert.Equal(t, 1, errors.ExitCode(err))
	assert.Contains(t, err.Error(), "load")

	data, err := os.ReadFile(reportFile)
	require.NoError(t, err)

	runs, err := report.ParseJSONRuns(data)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, string(report.ResultFailed), runs[1].Result)
	assert.Equal(t, 2, runs[1].Attempts)
}

func TestLogFile(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)
	logFile := filepath.Join(ta.dir, "logs", "pipeline.log")

	require.NoError(t, ta.run(t, "--log-file", logFile, "--log-level", "debug", "--config", ta.writeConfig(t, commandPipeline), "validate"))

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Pipeline commands is valid")
	assert.NotContains(t, string(data), "\x1b[")
}

func TestInvalidLogLevel(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)

	err := ta.run(t, "--log-level", "loud", "graph")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid level")
}

func TestRunCommandExpandsHome(t *testing.T) {
	ta := newTestApp(t)
	t.Setenv("HOME", ta.dir)
	ta.writeConfig(t, commandPipeline)

	require.NoError(t, ta.run(t, "--config", "~/pipeline.yaml", "run", "--report-file", "~/reports/run.csv"))

	assert.FileExists(t, filepath.Join(ta.dir, "reports", "run.csv"))
}
