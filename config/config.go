// Package config reads the declarative pipeline definition: the tasks, their dependencies and the retry policy.
package config

import (
	"bytes"
	_ "embed"
	"io"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/hashicorp/go-version"
	"gopkg.in/yaml.v3"

	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/internal/task"
)

// DefaultPipelineFile is the name of the file embedded as the default pipeline.
const DefaultPipelineFile = "default.yaml"

//go:embed default.yaml
var defaultPipeline []byte

// Pipeline is the pipeline definition file.
type Pipeline struct {
	Name            string         `yaml:"name"`
	RequiredVersion string         `yaml:"required_version"`
	Schedule        ScheduleConfig `yaml:"schedule"`
	Errors          ErrorsConfig   `yaml:"errors"`
	Tasks           []TaskConfig   `yaml:"tasks"`
	Defaults        RetryConfig    `yaml:"defaults"`
}

// ScheduleConfig is the daily trigger of the pipeline.
type ScheduleConfig struct {
	At       string `yaml:"at"`
	Timezone string `yaml:"timezone"`
}

// RetryConfig is the retry policy of a task, or of all tasks when used as defaults.
type RetryConfig struct {
	Retries           *int `yaml:"retries"`
	RetryDelaySeconds *int `yaml:"retry_delay_seconds"`
}

// ErrorsConfig lists the regular expressions that promote transient failure causes to permanent.
// A cause matching a Retryable pattern is never promoted.
type ErrorsConfig struct {
	Permanent []string `yaml:"permanent"`
	Retryable []string `yaml:"retryable"`
}

// TaskConfig is a single task entry. Exactly one of Unit and Command must be set.
type TaskConfig struct {
	Env         map[string]string `yaml:"env"`
	Name        string            `yaml:"name"`
	Unit        string            `yaml:"unit"`
	Dir         string            `yaml:"dir"`
	DependsOn   []string          `yaml:"depends_on"`
	Command     Command           `yaml:"command"`
	RetryConfig `yaml:",inline"`
}

// Default returns the built-in eight task pipeline.
func Default() *Pipeline {
	pipeline, err := Parse(DefaultPipelineFile, defaultPipeline)
	if err != nil {
		panic(err)
	}

	return pipeline
}

// DefaultBytes returns the raw content of the built-in pipeline file.
func DefaultBytes() []byte {
	return slices.Clone(defaultPipeline)
}

// ReadPipeline reads the pipeline file at path; an empty path returns the default pipeline.
func ReadPipeline(path string) (*Pipeline, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err)
	}

	return Parse(path, data)
}

// Parse decodes and validates a pipeline definition. Unknown keys are rejected.
func Parse(path string, data []byte) (*Pipeline, error) {
	pipeline := &Pipeline{}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(pipeline); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.New(ParseError{Path: path, Err: err})
	}

	if err := pipeline.Validate(); err != nil {
		return nil, err
	}

	return pipeline, nil
}

// Validate checks every task entry. Graph level problems such as cycles or unknown
// dependencies are reported when the graph is built.
func (pipeline *Pipeline) Validate() error {
	var errs *errors.MultiError

	if pipeline.RequiredVersion != "" {
		if _, err := version.NewConstraint(pipeline.RequiredVersion); err != nil {
			errs = errs.Append(errors.Errorf("invalid required_version %q: %w", pipeline.RequiredVersion, err))
		}
	}

	if err := pipeline.Defaults.validate("defaults"); err != nil {
		errs = errs.Append(err)
	}

	for i, cfg := range pipeline.Tasks {
		name := cfg.Name

		switch {
		case name == "":
			name = "#" + strconv.Itoa(i+1)
			errs = errs.Append(errors.New(InvalidTaskConfigError{Task: name, Reason: "name is required"}))
		case cfg.Unit == "" && len(cfg.Command) == 0:
			errs = errs.Append(errors.New(InvalidTaskConfigError{Task: name, Reason: "one of unit or command is required"}))
		case cfg.Unit != "" && len(cfg.Command) > 0:
			errs = errs.Append(errors.New(InvalidTaskConfigError{Task: name, Reason: "unit and command are mutually exclusive"}))
		}

		if err := cfg.validate(name); err != nil {
			errs = errs.Append(err)
		}
	}

	return errs.ErrorOrNil()
}

// CheckVersion returns an error if current does not satisfy the required_version constraint.
func (pipeline *Pipeline) CheckVersion(current *version.Version) error {
	if pipeline.RequiredVersion == "" {
		return nil
	}

	constraints, err := version.NewConstraint(pipeline.RequiredVersion)
	if err != nil {
		return errors.New(err)
	}

	if !constraints.Check(current) {
		return errors.New(InvalidVersionError{CurrentVersion: current, VersionConstraints: constraints})
	}

	return nil
}

// RetryPolicy returns the retry limit and delay of the task, falling back to the pipeline defaults
// and then to the engine defaults.
func (pipeline *Pipeline) RetryPolicy(cfg TaskConfig) (int, time.Duration) {
	limit, delay := task.DefaultRetryLimit, task.DefaultRetryDelay

	for _, retry := range []RetryConfig{pipeline.Defaults, cfg.RetryConfig} {
		if retry.Retries != nil {
			limit = *retry.Retries
		}

		if retry.RetryDelaySeconds != nil {
			delay = time.Duration(*retry.RetryDelaySeconds) * time.Second
		}
	}

	return limit, delay
}

func (retry RetryConfig) validate(name string) error {
	if retry.Retries != nil && *retry.Retries < 0 {
		return errors.New(InvalidTaskConfigError{Task: name, Reason: "retries must not be negative"})
	}

	if retry.RetryDelaySeconds != nil && *retry.RetryDelaySeconds < 0 {
		return errors.New(InvalidTaskConfigError{Task: name, Reason: "retry_delay_seconds must not be negative"})
	}

	return nil
}
