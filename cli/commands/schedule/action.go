package schedule

import (
	"context"

	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/internal/pipeline"
	"github.com/datapipe-pro/datapipe/internal/runner/runnerpool"
	"github.com/datapipe-pro/datapipe/internal/schedule"
	"github.com/datapipe-pro/datapipe/internal/statusserver"
	"github.com/datapipe-pro/datapipe/options"
	"golang.org/x/sync/errgroup"
)

// Run loads the pipeline and runs it at every daily trigger until ctx is cancelled.
func Run(ctx context.Context, opts *options.PipelineOptions) error {
	l := opts.Logger

	p, err := pipeline.Load(opts, l)
	if err != nil {
		return err
	}

	daily, err := p.Daily(opts)
	if err != nil {
		return err
	}

	var (
		observers []runnerpool.Observer
		server    *statusserver.Server
	)

	if opts.StatusAddr != "" {
		server = statusserver.New(opts.StatusAddr, l)
		observers = append(observers, server)
	}

	runOnce := func(ctx context.Context) error {
		// Every run gets its own identifier.
		runOpts := opts.Clone()
		runOpts.RunID = ""

		result, err := p.Run(ctx, runOpts, l, observers...)
		if server != nil {
			server.Record(result)
		}

		if err != nil {
			return err
		}

		return result.Err()
	}

	errGroup, ctx := errgroup.WithContext(ctx)

	if server != nil {
		ln, err := server.Listen()
		if err != nil {
			return err
		}

		errGroup.Go(func() error {
			return server.Run(ctx, ln)
		})
	}

	errGroup.Go(func() error {
		l.Infof("Scheduling pipeline %s %s", p.Definition.Name, daily)

		if opts.RunOnStart {
			if err := runOnce(ctx); err != nil && !errors.IsContextCanceled(err) {
				l.Errorf("Pipeline run failed: %v", err)
			}
		}

		return schedule.Run(ctx, l, daily, runOnce)
	})

	return errGroup.Wait()
}
