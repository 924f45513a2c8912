// Package cli configures the datapipe command line application.
package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/datapipe-pro/datapipe/cli/commands/graph"
	"github.com/datapipe-pro/datapipe/cli/commands/run"
	"github.com/datapipe-pro/datapipe/cli/commands/schedule"
	"github.com/datapipe-pro/datapipe/cli/commands/validate"
	"github.com/datapipe-pro/datapipe/cli/flags"
	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/internal/report"
	"github.com/datapipe-pro/datapipe/options"
	"github.com/datapipe-pro/datapipe/pkg/log"
	"github.com/datapipe-pro/datapipe/telemetry"
	"github.com/gruntwork-io/go-commons/version"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v2"
)

const AppName = "datapipe"

// App is the datapipe command line application.
type App struct {
	*cli.App
	opts    *options.PipelineOptions
	logFile io.Closer
}

// NewApp creates the datapipe CLI App.
func NewApp(opts *options.PipelineOptions) *App {
	app := &App{
		App:  cli.NewApp(),
		opts: opts,
	}

	app.Name = AppName
	app.Usage = "Runs the daily data pipeline: ingestion, cleaning, quality checks, aggregation, warehouse load and dashboard refresh."
	app.UsageText = "datapipe [global options] <command> [options]"
	app.Version = version.GetVersion()
	app.Writer = opts.Writer
	app.ErrWriter = opts.ErrWriter
	app.Flags = flags.NewGlobalFlags(opts)
	app.Commands = []*cli.Command{
		run.NewCommand(opts),
		validate.NewCommand(opts),
		graph.NewCommand(opts),
		schedule.NewCommand(opts),
	}
	app.DefaultCommand = run.CommandName
	app.Before = app.before
	app.After = app.after
	app.ExitErrHandler = func(*cli.Context, error) {}

	return app
}

// RunContext runs the application with the given arguments, the first being the program name.
func (app *App) RunContext(ctx context.Context, args []string) error {
	ctx = log.ContextWithLogger(ctx, app.opts.Logger)

	return app.App.RunContext(ctx, args)
}

func (app *App) before(cliCtx *cli.Context) error {
	opts := app.opts

	if err := expandPaths(opts); err != nil {
		return err
	}

	if err := app.setupLogger(); err != nil {
		return err
	}

	opts.Logger.Debugf("%s version %s", AppName, cliCtx.App.Version)

	tlm, err := telemetry.NewTelemeter(cliCtx.Context, AppName, cliCtx.App.Version, opts.ErrWriter, opts.Telemetry)
	if err != nil {
		return err
	}

	cliCtx.Context = telemetry.ContextWithTelemeter(cliCtx.Context, tlm)

	return nil
}

func (app *App) after(cliCtx *cli.Context) error {
	var errs *errors.MultiError

	if err := telemetry.TelemeterFromContext(cliCtx.Context).Shutdown(context.WithoutCancel(cliCtx.Context)); err != nil {
		errs = errs.Append(err)
	}

	if app.logFile != nil {
		if err := app.logFile.Close(); err != nil {
			errs = errs.Append(errors.New(err))
		}

		app.logFile = nil
	}

	return errs.ErrorOrNil()
}

func (app *App) setupLogger() error {
	opts := app.opts

	level, err := log.ParseLevel(opts.LogLevel)
	if err != nil {
		return err
	}

	formatter, err := log.ParseFormat(opts.LogFormat, !opts.NoColor && report.ShouldColor(opts.ErrWriter))
	if err != nil {
		return err
	}

	logOpts := []log.Option{log.WithLevel(level), log.WithFormatter(formatter), log.WithOutput(opts.ErrWriter)}

	if opts.LogFile != "" {
		file, err := openLogFile(opts.LogFile)
		if err != nil {
			return err
		}

		plain, err := log.ParseFormat(opts.LogFormat, false)
		if err != nil {
			return err
		}

		app.logFile = file
		logOpts = append(logOpts, log.WithHooks(NewFileHook(file, plain)))
	}

	opts.Logger.SetOptions(logOpts...)

	return nil
}

// expandPaths expands a leading ~ in the path options.
func expandPaths(opts *options.PipelineOptions) error {
	for _, path := range []*string{&opts.ConfigPath, &opts.DataDir, &opts.LogFile, &opts.ReportFile, &opts.CSVSource} {
		expanded, err := homedir.Expand(*path)
		if err != nil {
			return errors.New(err)
		}

		*path = expanded
	}

	return nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, errors.New(err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:mnd
	if err != nil {
		return nil, errors.Errorf("failed to open log file %s: %w", path, err)
	}

	return file, nil
}
