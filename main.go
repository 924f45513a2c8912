package main

import (
	"context"
	"os"

	"github.com/datapipe-pro/datapipe/cli"
	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/internal/os/signal"
	"github.com/datapipe-pro/datapipe/options"
	"github.com/datapipe-pro/datapipe/pkg/log"
)

// The main entrypoint for datapipe
func main() {
	opts := options.NewPipelineOptions()

	defer errors.Recover(checkForErrorsAndExit(opts.Logger))

	// The first interrupt aborts the run: tasks not started are skipped, running ones complete.
	ctx, stop := signal.NotifyContext(context.Background(), func(sig os.Signal) {
		opts.Logger.Errorf("Received %s again, exiting without waiting for running tasks", sig)
		os.Exit(1)
	})
	defer stop()

	app := cli.NewApp(opts)
	err := app.RunContext(ctx, os.Args)

	stop()
	checkForErrorsAndExit(opts.Logger)(err)
}

// If there is an error, display it in the console and exit with a non-zero exit code. Otherwise, exit 0.
func checkForErrorsAndExit(logger log.Logger) func(error) {
	return func(err error) {
		if err == nil {
			os.Exit(0)
		}

		logger.Error(err.Error())

		if errStack := errors.ErrorStack(err); errStack != "" {
			logger.Trace(errStack)
		}

		os.Exit(errors.ExitCode(err))
	}
}
