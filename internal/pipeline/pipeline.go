// Package pipeline turns a pipeline definition into a task graph and runs it once.
package pipeline

import (
	"context"
	"time"

	"github.com/datapipe-pro/datapipe/config"
	"github.com/datapipe-pro/datapipe/internal/dag"
	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/internal/report"
	"github.com/datapipe-pro/datapipe/internal/retry"
	"github.com/datapipe-pro/datapipe/internal/runner/runnerpool"
	"github.com/datapipe-pro/datapipe/internal/schedule"
	"github.com/datapipe-pro/datapipe/internal/stages"
	"github.com/datapipe-pro/datapipe/internal/task"
	"github.com/datapipe-pro/datapipe/options"
	"github.com/datapipe-pro/datapipe/pkg/log"
	"github.com/datapipe-pro/datapipe/telemetry"
	"github.com/gruntwork-io/go-commons/version"
	goversion "github.com/hashicorp/go-version"
)

// Pipeline is a loaded definition together with its graph.
type Pipeline struct {
	Definition *config.Pipeline
	Graph      *dag.Graph
	Classifier *retry.Classifier
}

// Load reads the definition named by opts.ConfigPath and builds its graph with the built-in stages.
func Load(opts *options.PipelineOptions, l log.Logger) (*Pipeline, error) {
	def, err := config.ReadPipeline(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	if current, err := goversion.NewVersion(version.GetVersion()); err == nil {
		if err := def.CheckVersion(current); err != nil {
			return nil, err
		}
	} else if def.RequiredVersion != "" {
		l.Debugf("Skipping required_version check, %q is not a release version", version.GetVersion())
	}

	graph, err := Build(def, stages.DefaultRegistry(opts, l), opts, l)
	if err != nil {
		return nil, err
	}

	classifier, err := retry.NewClassifier(def.Errors.Permanent, def.Errors.Retryable)
	if err != nil {
		return nil, err
	}

	return &Pipeline{Definition: def, Graph: graph, Classifier: classifier}, nil
}

// Build resolves every task of the definition to a work unit and builds the graph. Unknown units are
// collected and reported together; graph errors such as cycles are returned as they are.
func Build(def *config.Pipeline, reg *stages.Registry, opts *options.PipelineOptions, l log.Logger) (*dag.Graph, error) {
	var errs *errors.MultiError

	tasks := make([]*task.Task, 0, len(def.Tasks))

	for _, cfg := range def.Tasks {
		unit, err := resolveUnit(cfg, reg, opts, l)
		if err != nil {
			errs = errs.Append(errors.Errorf("task %s: %w", cfg.Name, err))
			continue
		}

		limit, delay := def.RetryPolicy(cfg)

		if opts.RetryLimit != options.NoRetryOverride {
			limit = opts.RetryLimit
		}

		if opts.RetryDelay >= 0 {
			delay = opts.RetryDelay
		}

		tasks = append(tasks, task.New(cfg.Name, unit,
			task.WithDependsOn(cfg.DependsOn...),
			task.WithRetry(limit, delay),
		))
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	return dag.New(tasks)
}

func resolveUnit(cfg config.TaskConfig, reg *stages.Registry, opts *options.PipelineOptions, l log.Logger) (task.WorkUnit, error) {
	if len(cfg.Command) > 0 {
		cmd := &stages.Command{
			Args:    cfg.Command,
			Env:     cfg.Env,
			Dir:     cfg.Dir,
			DataDir: opts.DataDir,
		}

		return cmd.Unit(l.WithField(log.FieldKeyTask, cfg.Name)), nil
	}

	return reg.Unit(cfg.Unit)
}

// Controller returns the execution engine for the pipeline configured by opts.
func (pipeline *Pipeline) Controller(opts *options.PipelineOptions, observers ...runnerpool.Observer) *runnerpool.Controller {
	return runnerpool.NewController(pipeline.Graph,
		runnerpool.WithName(pipeline.Definition.Name),
		runnerpool.WithRunID(opts.RunID),
		runnerpool.WithMaxConcurrency(opts.Parallelism),
		runnerpool.WithFailFast(opts.FailFast),
		runnerpool.WithRetryController(retry.NewController(retry.WithClassifier(pipeline.Classifier))),
		runnerpool.WithObservers(observers...),
	)
}

// Daily returns the trigger of the scheduler: the options override the pipeline file, which
// overrides the built-in 02:00 UTC.
func (pipeline *Pipeline) Daily(opts *options.PipelineOptions) (*schedule.Daily, error) {
	at, zone := options.DefaultScheduleAt, options.DefaultScheduleZone

	if pipeline.Definition.Schedule.At != "" {
		at = pipeline.Definition.Schedule.At
	}

	if pipeline.Definition.Schedule.Timezone != "" {
		zone = pipeline.Definition.Schedule.Timezone
	}

	if opts.ScheduleAt != "" {
		at = opts.ScheduleAt
	}

	if opts.ScheduleTimezone != "" {
		zone = opts.ScheduleTimezone
	}

	return schedule.ParseDaily(at, zone)
}

// Run runs the pipeline once. The run summary is written to opts.Writer and, when opts.ReportFile
// is set, the report to that file. Task failures are reported in the result, not as an error.
func Run(ctx context.Context, opts *options.PipelineOptions, l log.Logger, observers ...runnerpool.Observer) (*runnerpool.Result, error) {
	pipeline, err := Load(opts, l)
	if err != nil {
		return nil, err
	}

	return pipeline.Run(ctx, opts, l, observers...)
}

// Run runs the loaded pipeline once. See the package level Run.
func (pipeline *Pipeline) Run(ctx context.Context, opts *options.PipelineOptions, l log.Logger, observers ...runnerpool.Observer) (*runnerpool.Result, error) {
	lock, err := lockDataDir(opts.DataDir)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := lock.Unlock(); err != nil {
			l.Warnf("Failed to unlock %s: %v", lock.Path(), err)
		}
	}()

	r := report.NewReport(
		report.WithColor(!opts.NoColor && report.ShouldColor(opts.Writer)),
		report.WithTaskLevelSummary(opts.TaskSummary),
	)

	l.Infof("Starting pipeline %s with %d tasks", pipeline.Definition.Name, pipeline.Graph.Len())

	result, err := pipeline.Controller(opts, append([]runnerpool.Observer{r}, observers...)...).Run(ctx, l)
	if result == nil {
		return nil, err
	}

	r.EndRun(result)
	record(ctx, result)

	if summaryErr := r.WriteSummary(opts.Writer); summaryErr != nil {
		l.Warnf("Failed to write run summary: %v", summaryErr)
	}

	if opts.ReportFile != "" {
		if reportErr := r.WriteToFile(opts.ReportFile); reportErr != nil {
			err = new(errors.MultiError).Append(err, reportErr).ErrorOrNil()
		} else {
			l.Debugf("Report written to %s", opts.ReportFile)
		}
	}

	l.Infof("Pipeline %s %s in %s", pipeline.Definition.Name, result.Status, result.Duration().Round(time.Millisecond))

	return result, err
}

func record(ctx context.Context, result *runnerpool.Result) {
	tlm := telemetry.TelemeterFromContext(ctx)
	attrs := map[string]any{"pipeline": result.Name, "status": string(result.Status)}

	tlm.Count(ctx, "tasks_succeeded", int64(len(result.Succeeded())), attrs)
	tlm.Count(ctx, "tasks_failed", int64(len(result.Failed())), attrs)
	tlm.Count(ctx, "tasks_skipped", int64(len(result.Skipped())), attrs)
	tlm.Count(ctx, "task_attempts", int64(result.Attempts()), attrs)
}
