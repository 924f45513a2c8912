// Package schedule provides the command that runs the pipeline every day.
package schedule

import (
	"github.com/datapipe-pro/datapipe/cli/flags"
	"github.com/datapipe-pro/datapipe/options"
	"github.com/urfave/cli/v2"
)

const CommandName = "schedule"

// NewCommand returns the schedule command.
func NewCommand(opts *options.PipelineOptions) *cli.Command {
	return &cli.Command{
		Name:      CommandName,
		Usage:     "Run the pipeline every day at a fixed time until interrupted.",
		UsageText: "datapipe schedule [options]",
		Description: `Waits for the daily trigger of the pipeline, 02:00 UTC unless the pipeline file or the
--at and --timezone flags say otherwise, and runs the pipeline. A failed run is logged and the
scheduler keeps waiting for the next trigger. With --status-addr the state of the current run and
the result of the last run are served over HTTP.`,
		Flags: append(flags.NewRunFlags(opts), flags.NewScheduleFlags(opts)...),
		Action: func(ctx *cli.Context) error {
			return Run(ctx.Context, opts)
		},
	}
}
