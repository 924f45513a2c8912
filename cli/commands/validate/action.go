package validate

import (
	"fmt"
	"strings"

	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/internal/pipeline"
	"github.com/datapipe-pro/datapipe/options"
)

// Run loads the pipeline and prints the tasks that start first, then every task in the order they can start.
func Run(opts *options.PipelineOptions) error {
	p, err := pipeline.Load(opts, opts.Logger)
	if err != nil {
		return err
	}

	if roots := p.Graph.Roots(); len(roots) > 0 {
		if _, err := fmt.Fprintf(opts.Writer, "roots: %s\n", strings.Join(roots, ", ")); err != nil {
			return errors.New(err)
		}
	}

	for _, name := range p.Graph.TopologicalOrder() {
		t := p.Graph.Task(name)

		line := name
		if deps := p.Graph.DependenciesOf(name); len(deps) > 0 {
			line += " <- " + strings.Join(deps, ", ")
		}

		if _, err := fmt.Fprintf(opts.Writer, "%s (attempts: %d, retry delay: %s)\n", line, t.MaxAttempts(), t.RetryDelay); err != nil {
			return errors.New(err)
		}
	}

	opts.Logger.Infof("Pipeline %s is valid: %d tasks", p.Definition.Name, p.Graph.Len())

	return nil
}
