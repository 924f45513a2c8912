package stages

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/internal/task"
	"github.com/datapipe-pro/datapipe/pkg/log"
)

const (
	// exitCodeNotFound is the shell exit code of a command that does not exist.
	exitCodeNotFound = 127
	// exitCodeNotExecutable is the shell exit code of a command that cannot be executed.
	exitCodeNotExecutable = 126

	outputTailLines = 10

	// DataDirEnv is exported to every command unit.
	DataDirEnv = "DATAPIPE_DATA_DIR"
)

// CommandError is returned when a command unit exits with a non-zero code.
type CommandError struct {
	Err      error
	Command  string
	Output   string
	ExitCode int
}

func (err CommandError) Error() string {
	msg := "command " + err.Command + " failed: " + err.Err.Error()
	if err.Output != "" {
		msg += "\n" + err.Output
	}

	return msg
}

func (err CommandError) Unwrap() error {
	return err.Err
}

// Command is an external process run as a work unit.
type Command struct {
	Env     map[string]string
	Dir     string
	DataDir string
	Args    []string
}

// Unit returns a work unit that runs the command. A command that cannot be found or executed is a
// permanent failure; any other non-zero exit is transient.
func (cmd *Command) Unit(l log.Logger) task.WorkUnit {
	return task.UnitFunc(func(ctx context.Context) error {
		return cmd.Run(ctx, l)
	})
}

// Run executes the command and logs its combined output at debug level.
func (cmd *Command) Run(ctx context.Context, l log.Logger) error {
	if len(cmd.Args) == 0 {
		return task.MarkPermanent(errors.Errorf("empty command"))
	}

	name := strings.Join(cmd.Args, " ")

	proc := exec.CommandContext(ctx, cmd.Args[0], cmd.Args[1:]...)
	proc.Dir = cmd.Dir
	proc.Env = os.Environ()

	if cmd.DataDir != "" {
		if dataDir, err := filepath.Abs(cmd.DataDir); err == nil {
			proc.Env = append(proc.Env, DataDirEnv+"="+dataDir)
		}
	}

	for key, value := range cmd.Env {
		proc.Env = append(proc.Env, key+"="+value)
	}

	var output bytes.Buffer

	proc.Stdout = &output
	proc.Stderr = &output

	l.Debugf("Running command %s", name)

	err := proc.Run()

	for line := range strings.SplitSeq(strings.TrimRight(output.String(), "\n"), "\n") {
		if line != "" {
			l.Debugf("%s", line)
		}
	}

	if err == nil {
		return nil
	}

	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return task.MarkPermanent(errors.New(CommandError{Command: name, Err: err}))
	}

	cmdErr := CommandError{Command: name, Err: err, Output: tail(output.String(), outputTailLines)}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cmdErr.ExitCode = exitErr.ExitCode()

		if cmdErr.ExitCode == exitCodeNotFound || cmdErr.ExitCode == exitCodeNotExecutable {
			return task.MarkPermanent(errors.New(cmdErr))
		}
	}

	return errors.New(cmdErr)
}

func tail(output string, n int) string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	return strings.Join(lines, "\n")
}
