// Package validate provides the command that checks a pipeline definition without running it.
package validate

import (
	"github.com/datapipe-pro/datapipe/options"
	"github.com/urfave/cli/v2"
)

const CommandName = "validate"

// NewCommand returns the validate command.
func NewCommand(opts *options.PipelineOptions) *cli.Command {
	return &cli.Command{
		Name:      CommandName,
		Usage:     "Check the pipeline definition and its dependency graph.",
		UsageText: "datapipe validate [options]",
		Action: func(ctx *cli.Context) error {
			return Run(opts)
		},
	}
}
