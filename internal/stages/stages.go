// Package stages implements the work units of the daily pipeline: ingestion, cleaning, quality
// checks, aggregation, the warehouse load and the dashboard refresh.
package stages

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/internal/task"
	"github.com/datapipe-pro/datapipe/options"
	"github.com/datapipe-pro/datapipe/pkg/log"
)

// Built-in unit names.
const (
	IngestAPIUnit        = "ingest_api"
	IngestScrapeUnit     = "ingest_scrape"
	IngestCSVUnit        = "ingest_csv"
	CleanMergeUnit       = "clean_merge"
	QualityCheckUnit     = "quality_check"
	AggregateUnit        = "aggregate"
	LoadWarehouseUnit    = "load_warehouse"
	RefreshDashboardUnit = "refresh_dashboard"

	// DefaultMaxResponseSize bounds the body read from ingestion and dashboard responses.
	DefaultMaxResponseSize = 64 << 20
	maxErrorBodySize       = 4 << 10

	timestampLayout = "20060102T150405Z"
	dirPerm         = 0o755
	filePerm        = 0o644
)

// UnknownUnitError is returned when a task refers to a unit that is not registered.
type UnknownUnitError struct {
	Unit  string
	Known []string
}

func (err UnknownUnitError) Error() string {
	return fmt.Sprintf("unknown unit %q, known units: %s", err.Unit, strings.Join(err.Known, ", "))
}

// Registry maps unit names to work units.
type Registry struct {
	units map[string]task.WorkUnit
	names []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{units: make(map[string]task.WorkUnit)}
}

// Register adds or replaces the unit with the given name.
func (reg *Registry) Register(name string, unit task.WorkUnit) {
	if _, ok := reg.units[name]; !ok {
		reg.names = append(reg.names, name)
	}

	reg.units[name] = unit
}

// Unit returns the unit registered under name.
func (reg *Registry) Unit(name string) (task.WorkUnit, error) {
	unit, ok := reg.units[name]
	if !ok {
		return nil, errors.New(UnknownUnitError{Unit: name, Known: reg.Names()})
	}

	return unit, nil
}

// Names returns the registered unit names in registration order.
func (reg *Registry) Names() []string {
	return slices.Clone(reg.names)
}

// Stages runs the built-in units against the data directory and services configured in the options.
type Stages struct {
	opts            *options.PipelineOptions
	logger          log.Logger
	client          *http.Client
	now             func() time.Time
	maxResponseSize int64
}

// Option is a function that modifies Stages.
type Option func(*Stages)

// WithHTTPClient replaces the HTTP client of the ingestion and dashboard units.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Stages) {
		s.client = client
	}
}

// WithMaxResponseSize bounds the size of a response body. Larger responses fail permanently.
func WithMaxResponseSize(size int64) Option {
	return func(s *Stages) {
		s.maxResponseSize = size
	}
}

// WithClock replaces the clock used for file timestamps and warehouse time rows.
func WithClock(now func() time.Time) Option {
	return func(s *Stages) {
		s.now = now
	}
}

// New creates the built-in stages.
func New(opts *options.PipelineOptions, l log.Logger, fns ...Option) *Stages {
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = opts.HTTPTimeout

	s := &Stages{
		opts:            opts,
		logger:          l,
		client:          client,
		now:             time.Now,
		maxResponseSize: DefaultMaxResponseSize,
	}

	for _, fn := range fns {
		fn(s)
	}

	return s
}

// Register adds every built-in unit to reg.
func (s *Stages) Register(reg *Registry) {
	reg.Register(IngestAPIUnit, task.UnitFunc(s.IngestAPI))
	reg.Register(IngestScrapeUnit, task.UnitFunc(s.IngestScrape))
	reg.Register(IngestCSVUnit, task.UnitFunc(s.IngestCSV))
	reg.Register(CleanMergeUnit, task.UnitFunc(s.CleanMerge))
	reg.Register(QualityCheckUnit, task.UnitFunc(s.QualityCheck))
	reg.Register(AggregateUnit, task.UnitFunc(s.Aggregate))
	reg.Register(LoadWarehouseUnit, task.UnitFunc(s.LoadWarehouse))
	reg.Register(RefreshDashboardUnit, task.UnitFunc(s.RefreshDashboard))
}

// DefaultRegistry returns a registry holding every built-in unit.
func DefaultRegistry(opts *options.PipelineOptions, l log.Logger) *Registry {
	reg := NewRegistry()
	New(opts, l).Register(reg)

	return reg
}

func (s *Stages) timestamp() string {
	return s.now().UTC().Format(timestampLayout)
}
