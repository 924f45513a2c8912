// Package flags defines the command line flags shared by the datapipe commands.
package flags

import (
	"strings"

	"github.com/datapipe-pro/datapipe/options"
	"github.com/datapipe-pro/datapipe/pkg/log"
	"github.com/urfave/cli/v2"
)

const (
	EnvPrefix = "DATAPIPE"

	ConfigFlagName           = "config"
	DataDirFlagName          = "data-dir"
	CSVSourceFlagName        = "csv-source"
	APIURLFlagName           = "api-url"
	ScrapeURLFlagName        = "scrape-url"
	ParallelismFlagName      = "parallelism"
	RetriesFlagName          = "retries"
	RetryDelayFlagName       = "retry-delay"
	HTTPTimeoutFlagName      = "http-timeout"
	FailFastFlagName         = "fail-fast"
	NoSQLAggregateFlagName   = "no-sql-aggregate"
	RunIDFlagName            = "run-id"
	ReportFileFlagName       = "report-file"
	TaskSummaryFlagName      = "summary-per-task"
	NoColorFlagName          = "no-color"
	LogLevelFlagName         = "log-level"
	LogFormatFlagName        = "log-format"
	LogFileFlagName          = "log-file"
	TraceExporterFlagName    = "telemetry-trace-exporter"
	TraceEndpointFlagName    = "telemetry-trace-exporter-http-endpoint"
	TraceInsecureFlagName    = "telemetry-trace-exporter-insecure-endpoint"
	TraceParentFlagName      = "telemetry-trace-parent"
	MetricExporterFlagName   = "telemetry-metric-exporter"
	MetricInsecureFlagName   = "telemetry-metric-exporter-insecure-endpoint"
	ScheduleAtFlagName       = "at"
	ScheduleTimezoneFlagName = "timezone"
	StatusAddrFlagName       = "status-addr"
	RunOnStartFlagName       = "run-on-start"

	traceParentEnvVar = "TRACEPARENT"
)

// EnvVars returns the environment variable bound to a flag, e.g. DATAPIPE_LOG_LEVEL for log-level.
func EnvVars(name string) []string {
	return []string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))}
}

// NewGlobalFlags returns the flags available to every command.
func NewGlobalFlags(opts *options.PipelineOptions) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        ConfigFlagName,
			Aliases:     []string{"c"},
			EnvVars:     EnvVars(ConfigFlagName),
			Usage:       "Pipeline definition file. The built-in eight task pipeline is used when empty.",
			Destination: &opts.ConfigPath,
		},
		&cli.StringFlag{
			Name:        DataDirFlagName,
			EnvVars:     EnvVars(DataDirFlagName),
			Usage:       "Root directory of the raw, processed and curated data.",
			Value:       opts.DataDir,
			Destination: &opts.DataDir,
		},
		&cli.StringFlag{
			Name:        LogLevelFlagName,
			EnvVars:     EnvVars(LogLevelFlagName),
			Usage:       "Sets the logging level: " + log.AllLevels.String() + ".",
			Value:       opts.LogLevel,
			Destination: &opts.LogLevel,
		},
		&cli.StringFlag{
			Name:        LogFormatFlagName,
			EnvVars:     EnvVars(LogFormatFlagName),
			Usage:       "Sets the logging format: text or json.",
			Value:       opts.LogFormat,
			Destination: &opts.LogFormat,
		},
		&cli.StringFlag{
			Name:        LogFileFlagName,
			EnvVars:     EnvVars(LogFileFlagName),
			Usage:       "Also append the logs to this file. Empty disables the file.",
			Value:       opts.LogFile,
			Destination: &opts.LogFile,
		},
		&cli.BoolFlag{
			Name:        NoColorFlagName,
			EnvVars:     EnvVars(NoColorFlagName),
			Usage:       "Disable color output.",
			Destination: &opts.NoColor,
		},
		&cli.StringFlag{
			Name:        TraceExporterFlagName,
			EnvVars:     EnvVars(TraceExporterFlagName),
			Usage:       "Trace exporter: none, console, otlpHttp, otlpGrpc or http.",
			Destination: &opts.Telemetry.TraceExporter,
		},
		&cli.StringFlag{
			Name:        TraceEndpointFlagName,
			EnvVars:     EnvVars(TraceEndpointFlagName),
			Usage:       "Endpoint of the http trace exporter.",
			Destination: &opts.Telemetry.TraceExporterHTTPEndpoint,
		},
		&cli.BoolFlag{
			Name:        TraceInsecureFlagName,
			EnvVars:     EnvVars(TraceInsecureFlagName),
			Usage:       "Send traces over plain HTTP.",
			Destination: &opts.Telemetry.TraceExporterInsecureEndpoint,
		},
		&cli.StringFlag{
			Name:        TraceParentFlagName,
			EnvVars:     append(EnvVars(TraceParentFlagName), traceParentEnvVar),
			Usage:       "Continue the trace of the caller, in W3C traceparent format.",
			Destination: &opts.Telemetry.TraceParent,
		},
		&cli.StringFlag{
			Name:        MetricExporterFlagName,
			EnvVars:     EnvVars(MetricExporterFlagName),
			Usage:       "Metric exporter: none, console, otlpHttp or grpcHttp.",
			Destination: &opts.Telemetry.MetricExporter,
		},
		&cli.BoolFlag{
			Name:        MetricInsecureFlagName,
			EnvVars:     EnvVars(MetricInsecureFlagName),
			Usage:       "Send metrics over plain HTTP.",
			Destination: &opts.Telemetry.MetricExporterInsecureEndpoint,
		},
	}
}

// NewRunFlags returns the flags of the commands that execute the pipeline.
func NewRunFlags(opts *options.PipelineOptions) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        ParallelismFlagName,
			Aliases:     []string{"j"},
			EnvVars:     EnvVars(ParallelismFlagName),
			Usage:       "Maximum number of tasks running at the same time.",
			Value:       opts.Parallelism,
			Destination: &opts.Parallelism,
		},
		&cli.IntFlag{
			Name:        RetriesFlagName,
			EnvVars:     EnvVars(RetriesFlagName),
			Usage:       "Override the number of retries of every task. Negative keeps the pipeline file value.",
			Value:       opts.RetryLimit,
			Destination: &opts.RetryLimit,
		},
		&cli.DurationFlag{
			Name:        RetryDelayFlagName,
			EnvVars:     EnvVars(RetryDelayFlagName),
			Usage:       "Override the delay between attempts of every task, e.g. 5s. Negative keeps the pipeline file value.",
			Value:       opts.RetryDelay,
			Destination: &opts.RetryDelay,
		},
		&cli.BoolFlag{
			Name:        FailFastFlagName,
			EnvVars:     EnvVars(FailFastFlagName),
			Usage:       "Stop starting tasks after the first failure.",
			Destination: &opts.FailFast,
		},
		&cli.StringFlag{
			Name:        RunIDFlagName,
			EnvVars:     EnvVars(RunIDFlagName),
			Usage:       "Identifier of the run. A random UUID is used when empty.",
			Destination: &opts.RunID,
		},
		&cli.StringFlag{
			Name:        ReportFileFlagName,
			EnvVars:     EnvVars(ReportFileFlagName),
			Usage:       "Write a report of the run to this file. The format follows the extension: .csv or .json.",
			Destination: &opts.ReportFile,
		},
		&cli.BoolFlag{
			Name:        TaskSummaryFlagName,
			EnvVars:     EnvVars(TaskSummaryFlagName),
			Usage:       "List every task in the run summary.",
			Destination: &opts.TaskSummary,
		},
		&cli.StringFlag{
			Name:        CSVSourceFlagName,
			EnvVars:     EnvVars(CSVSourceFlagName),
			Usage:       "CSV file ingested by the ingest_csv stage. The bundled sample is used when empty.",
			Destination: &opts.CSVSource,
		},
		&cli.StringFlag{
			Name:        APIURLFlagName,
			EnvVars:     EnvVars(APIURLFlagName),
			Usage:       "URL fetched by the ingest_api stage.",
			Value:       opts.APIURL,
			Destination: &opts.APIURL,
		},
		&cli.StringFlag{
			Name:        ScrapeURLFlagName,
			EnvVars:     EnvVars(ScrapeURLFlagName),
			Usage:       "URL fetched by the ingest_scrape stage.",
			Value:       opts.ScrapeURL,
			Destination: &opts.ScrapeURL,
		},
		&cli.DurationFlag{
			Name:        HTTPTimeoutFlagName,
			EnvVars:     EnvVars(HTTPTimeoutFlagName),
			Usage:       "Timeout of the HTTP requests made by the ingestion stages.",
			Value:       opts.HTTPTimeout,
			Destination: &opts.HTTPTimeout,
		},
		&cli.BoolFlag{
			Name:    NoSQLAggregateFlagName,
			EnvVars: EnvVars(NoSQLAggregateFlagName),
			Usage:   "Aggregate in process without trying the warehouse first.",
			Action: func(_ *cli.Context, value bool) error {
				opts.SQLAggregate = !value
				return nil
			},
		},
	}
}

// NewScheduleFlags returns the flags of the schedule command.
func NewScheduleFlags(opts *options.PipelineOptions) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        ScheduleAtFlagName,
			EnvVars:     EnvVars("schedule-at"),
			Usage:       "Time of day of the daily run, HH:MM. Overrides the pipeline file, default " + options.DefaultScheduleAt + ".",
			Destination: &opts.ScheduleAt,
		},
		&cli.StringFlag{
			Name:        ScheduleTimezoneFlagName,
			EnvVars:     EnvVars("schedule-timezone"),
			Usage:       "IANA time zone of the daily run. Overrides the pipeline file, default " + options.DefaultScheduleZone + ".",
			Destination: &opts.ScheduleTimezone,
		},
		&cli.StringFlag{
			Name:        StatusAddrFlagName,
			EnvVars:     EnvVars(StatusAddrFlagName),
			Usage:       "Serve the run status over HTTP on this address, e.g. :8080. Disabled when empty.",
			Destination: &opts.StatusAddr,
		},
		&cli.BoolFlag{
			Name:        RunOnStartFlagName,
			EnvVars:     EnvVars(RunOnStartFlagName),
			Usage:       "Run the pipeline once right away before waiting for the first trigger.",
			Destination: &opts.RunOnStart,
		},
	}
}
