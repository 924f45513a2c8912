// Package graph provides the command that prints the dependency graph in Graphviz DOT format.
package graph

import (
	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/internal/pipeline"
	"github.com/datapipe-pro/datapipe/options"
	"github.com/urfave/cli/v2"
)

const CommandName = "graph"

// NewCommand returns the graph command.
func NewCommand(opts *options.PipelineOptions) *cli.Command {
	return &cli.Command{
		Name:      CommandName,
		Usage:     "Print the dependency graph of the pipeline in DOT format.",
		UsageText: "datapipe graph [options] | dot -Tsvg > pipeline.svg",
		Action: func(ctx *cli.Context) error {
			return Run(opts)
		},
	}
}

// Run writes the graph of the pipeline to opts.Writer.
func Run(opts *options.PipelineOptions) error {
	p, err := pipeline.Load(opts, opts.Logger)
	if err != nil {
		return err
	}

	return errors.WithStackTrace(p.Graph.WriteDot(opts.Writer))
}
