package run

import (
	"context"

	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/internal/pipeline"
	"github.com/datapipe-pro/datapipe/internal/runner/runnerpool"
	"github.com/datapipe-pro/datapipe/options"
)

// Run runs the pipeline once. A failed pipeline is returned as an error with exit code 1.
func Run(ctx context.Context, opts *options.PipelineOptions) error {
	result, err := pipeline.Run(ctx, opts, opts.Logger)
	if err != nil {
		return err
	}

	if result.Status == runnerpool.PipelineFailed {
		return errors.ErrorWithExitCode{Err: result.Err(), ExitCode: 1}
	}

	return nil
}
