// Package options holds the runtime settings of a pipeline run.
package options

import (
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/datapipe-pro/datapipe/pkg/env"
	"github.com/datapipe-pro/datapipe/pkg/log"
	"github.com/datapipe-pro/datapipe/telemetry"
)

const (
	DefaultParallelism  = 8
	DefaultDataDir      = "data"
	DefaultLogFile      = "logs/pipeline.log"
	DefaultLogLevel     = log.InfoLevel
	DefaultLogFormat    = "text"
	DefaultAPIURL       = "https://api.worldbank.org/v2/region?format=json"
	DefaultScrapeURL    = "https://example.com/"
	DefaultHTTPTimeout  = 20 * time.Second
	DefaultCardTimeout  = 60 * time.Second
	DefaultScheduleAt   = "02:00"
	DefaultScheduleZone = "UTC"

	// NoRetryOverride leaves the retry policy of the pipeline file in place.
	NoRetryOverride = -1
)

// PipelineOptions represents options that configure the behavior of the pipeline.
type PipelineOptions struct {
	// Writer receives the run summary.
	Writer io.Writer
	// ErrWriter receives the logs.
	ErrWriter io.Writer
	Logger    log.Logger
	Telemetry *telemetry.Options
	Warehouse *WarehouseOptions
	Metabase  *MetabaseOptions
	// ConfigPath is the pipeline definition file; empty means the built-in pipeline.
	ConfigPath string
	// DataDir is the root of the raw, processed and curated data directories.
	DataDir string
	// CSVSource is the file copied by the CSV ingestion; empty means the bundled sample.
	CSVSource  string
	APIURL     string
	ScrapeURL  string
	LogLevel   string
	LogFormat  string
	LogFile    string
	ReportFile string
	// StatusAddr is the listen address of the status server of the scheduler; empty disables it.
	StatusAddr string
	// ScheduleAt and ScheduleTimezone override the schedule of the pipeline file when set.
	ScheduleAt       string
	ScheduleTimezone string
	RunID            string
	Parallelism      int
	// RetryLimit overrides the retries of every task when not NoRetryOverride.
	RetryLimit int
	// RetryDelay overrides the retry delay of every task when not negative.
	RetryDelay  time.Duration
	HTTPTimeout time.Duration
	FailFast    bool
	NoColor     bool
	// TaskSummary lists every task in the run summary.
	TaskSummary bool
	// SQLAggregate lets the aggregation run on the warehouse before falling back to in-process aggregation.
	SQLAggregate bool
	// RunOnStart makes the scheduler run the pipeline once before waiting for the first trigger.
	RunOnStart bool
}

// WarehouseOptions are the connection settings of the Postgres warehouse.
type WarehouseOptions struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
}

// MetabaseOptions are the settings of the dashboard refresh.
type MetabaseOptions struct {
	Host          string
	User          string
	Password      string
	DashboardName string
	DashboardID   string
	CardTimeout   time.Duration
	Parallelism   int
}

// NewPipelineOptions creates a new PipelineOptions object with reasonable defaults for real usage.
func NewPipelineOptions() *PipelineOptions {
	return NewPipelineOptionsWithWriters(os.Stdout, os.Stderr)
}

// NewPipelineOptionsWithWriters creates a new PipelineOptions object with the given writers.
func NewPipelineOptionsWithWriters(stdout, stderr io.Writer) *PipelineOptions {
	return &PipelineOptions{
		Writer:       stdout,
		ErrWriter:    stderr,
		Logger:       log.New(log.WithOutput(stderr), log.WithLevel(DefaultLogLevel)),
		Telemetry:    &telemetry.Options{},
		Warehouse:    NewWarehouseOptions(),
		Metabase:     NewMetabaseOptions(),
		DataDir:      DefaultDataDir,
		APIURL:       DefaultAPIURL,
		ScrapeURL:    DefaultScrapeURL,
		LogLevel:     DefaultLogLevel.String(),
		LogFormat:    DefaultLogFormat,
		LogFile:      DefaultLogFile,
		Parallelism:  DefaultParallelism,
		RetryLimit:   NoRetryOverride,
		RetryDelay:   NoRetryOverride,
		HTTPTimeout:  DefaultHTTPTimeout,
		SQLAggregate: true,
	}
}

// NewWarehouseOptions reads the warehouse settings from the PIPELINE_PG_* environment variables.
func NewWarehouseOptions() *WarehouseOptions {
	return &WarehouseOptions{
		User:     env.GetStringEnv("PIPELINE_PG_USER", "datapipe"),
		Password: env.GetStringEnv("PIPELINE_PG_PASSWORD", "datapipe"),
		Host:     env.GetStringEnv("PIPELINE_PG_HOST", "warehouse-db"),
		Port:     env.GetIntEnv("PIPELINE_PG_PORT", 5432), //nolint:mnd
		Database: env.GetStringEnv("PIPELINE_PG_DB", "datapipe"),
	}
}

// NewMetabaseOptions reads the Metabase settings from the MB_* and DASHBOARD_* environment variables.
func NewMetabaseOptions() *MetabaseOptions {
	return &MetabaseOptions{
		Host:          env.GetStringEnv("MB_HOST", "http://metabase:3000"),
		User:          env.GetStringEnv("MB_USER", ""),
		Password:      env.GetStringEnv("MB_PASS", ""),
		DashboardName: env.GetStringEnv("DASHBOARD_NAME", ""),
		DashboardID:   env.GetStringEnv("DASHBOARD_ID", ""),
		CardTimeout:   DefaultCardTimeout,
		Parallelism:   4, //nolint:mnd
	}
}

// ConnString returns the Postgres connection URL of the warehouse.
func (opts *WarehouseOptions) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(opts.User, opts.Password),
		Host:   net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		Path:   "/" + opts.Database,
	}

	return u.String()
}

// Enabled reports whether credentials are configured for the dashboard refresh.
func (opts *MetabaseOptions) Enabled() bool {
	return opts.User != "" && opts.Password != ""
}

// RawDir returns the directory of the ingested files.
func (opts *PipelineOptions) RawDir() string {
	return filepath.Join(opts.DataDir, "raw")
}

// ProcessedDir returns the directory of the cleaned dataset.
func (opts *PipelineOptions) ProcessedDir() string {
	return filepath.Join(opts.DataDir, "processed")
}

// CuratedDir returns the directory of the aggregated dataset.
func (opts *PipelineOptions) CuratedDir() string {
	return filepath.Join(opts.DataDir, "curated")
}

// Clone performs a deep copy of the options.
func (opts *PipelineOptions) Clone() *PipelineOptions {
	clone := *opts

	telemetryOpts := *opts.Telemetry
	clone.Telemetry = &telemetryOpts

	warehouse := *opts.Warehouse
	clone.Warehouse = &warehouse

	metabase := *opts.Metabase
	clone.Metabase = &metabase

	if opts.Logger != nil {
		clone.Logger = opts.Logger.Clone()
	}

	return &clone
}
