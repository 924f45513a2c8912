// Package run provides the command that runs the pipeline once.
package run

import (
	"github.com/datapipe-pro/datapipe/cli/flags"
	"github.com/datapipe-pro/datapipe/options"
	"github.com/urfave/cli/v2"
)

const CommandName = "run"

// NewCommand returns the run command.
func NewCommand(opts *options.PipelineOptions) *cli.Command {
	return &cli.Command{
		Name:      CommandName,
		Usage:     "Run the pipeline once and print a summary of the run.",
		UsageText: "datapipe run [options]",
		Description: `Runs every task of the pipeline in dependency order. Independent tasks run in parallel,
failed attempts are retried according to the retry policy of the task, and the dependents of a
failed task are skipped. The command exits with code 1 when any task failed or was skipped.`,
		Flags: flags.NewRunFlags(opts),
		Action: func(ctx *cli.Context) error {
			return Run(ctx.Context, opts)
		},
	}
}
