package config

import (
	"fmt"

	"github.com/hashicorp/go-version"
)

// ParseError is returned when a pipeline file cannot be decoded.
type ParseError struct {
	Err  error
	Path string
}

func (err ParseError) Error() string {
	return fmt.Sprintf("failed to parse pipeline file %s: %v", err.Path, err.Err)
}

func (err ParseError) Unwrap() error {
	return err.Err
}

// InvalidTaskConfigError is returned when a task entry is not usable.
type InvalidTaskConfigError struct {
	Task   string
	Reason string
}

func (err InvalidTaskConfigError) Error() string {
	return fmt.Sprintf("invalid task %q: %s", err.Task, err.Reason)
}

// InvalidVersionError is returned when the running datapipe does not satisfy the required_version
// of the pipeline file.
type InvalidVersionError struct {
	CurrentVersion     *version.Version
	VersionConstraints version.Constraints
}

func (err InvalidVersionError) Error() string {
	return fmt.Sprintf("datapipe %s does not satisfy required_version %s of the pipeline file", err.CurrentVersion, err.VersionConstraints)
}
