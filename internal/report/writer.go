package report

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/datapipe-pro/datapipe/internal/errors"
)

// Format is the file format of a report.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// FormatFromPath returns the report format implied by the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	}

	return "", errors.Errorf("unsupported report format %q, use a .csv or .json file", filepath.Ext(path))
}

// JSONRun represents a run in JSON format.
type JSONRun struct {
	// Started is the time when the first attempt started.
	Started time.Time `json:"Started"`
	// Ended is the time when the last attempt ended.
	Ended time.Time `json:"Ended"`
	// Reason is the reason for the run result, if any.
	Reason *string `json:"Reason,omitempty"`
	// Cause is the failure cause, or the failed dependency of a skipped task.
	Cause *string `json:"Cause,omitempty"`
	// Name is the task name.
	Name string `json:"Name"`
	// Result is the result of the run.
	Result string `json:"Result"`
	// Attempts is the number of times the work unit was invoked.
	Attempts int `json:"Attempts"`
}

// ParseJSONRuns parses a JSON report.
func ParseJSONRuns(data []byte) ([]JSONRun, error) {
	var runs []JSONRun
	if err := json.Unmarshal(data, &runs); err != nil {
		return nil, errors.Errorf("failed to parse JSON report: %w", err)
	}

	return runs, nil
}

// WriteToFile writes the report to path, in the format given by WithFormat or, if none, by the file extension.
// The file is replaced atomically.
func (r *Report) WriteToFile(path string) error {
	format := r.format
	if format == "" {
		var err error
		if format, err = FormatFromPath(path); err != nil {
			return err
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return errors.New(err)
	}

	tmpFile, err := os.CreateTemp(dir, ".datapipe-report-*")
	if err != nil {
		return errors.New(err)
	}

	defer os.Remove(tmpFile.Name()) //nolint:errcheck

	switch format {
	case FormatCSV:
		err = r.WriteCSV(tmpFile)
	case FormatJSON:
		err = r.WriteJSON(tmpFile)
	default:
		err = errors.Errorf("unsupported format: %s", format)
	}

	if err != nil {
		tmpFile.Close() //nolint:errcheck
		return errors.Errorf("failed to write report: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return errors.Errorf("failed to close report file: %w", err)
	}

	return errors.New(os.Rename(tmpFile.Name(), path))
}

// WriteCSV writes the report to a writer in CSV format.
func (r *Report) WriteCSV(w io.Writer) error {
	csvWriter := csv.NewWriter(w)

	if err := csvWriter.Write([]string{"Name", "Started", "Ended", "Result", "Reason", "Cause", "Attempts"}); err != nil {
		return err
	}

	for _, run := range r.jsonRuns() {
		reason, cause := "", ""

		if run.Reason != nil {
			reason = *run.Reason
		}

		if run.Cause != nil {
			cause = *run.Cause
		}

		err := csvWriter.Write([]string{
			run.Name,
			run.Started.Format(time.RFC3339),
			run.Ended.Format(time.RFC3339),
			run.Result,
			reason,
			cause,
			strconv.Itoa(run.Attempts),
		})
		if err != nil {
			return err
		}
	}

	csvWriter.Flush()

	return csvWriter.Error()
}

// WriteJSON writes the report to a writer in JSON format.
func (r *Report) WriteJSON(w io.Writer) error {
	jsonBytes, err := json.MarshalIndent(r.jsonRuns(), "", "  ")
	if err != nil {
		return err
	}

	jsonBytes = append(jsonBytes, '\n')

	_, err = w.Write(jsonBytes)

	return err
}

func (r *Report) jsonRuns() []JSONRun {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := make([]JSONRun, 0, len(r.Runs))

	for _, run := range r.Runs {
		run.mu.RLock()

		jsonRun := JSONRun{
			Name:     run.Name,
			Started:  run.Started,
			Ended:    run.Ended,
			Result:   string(run.Result),
			Attempts: run.Attempts,
		}

		if run.Reason != nil {
			reason := string(*run.Reason)
			jsonRun.Reason = &reason
		}

		if run.Cause != nil {
			cause := string(*run.Cause)
			jsonRun.Cause = &cause
		}

		run.mu.RUnlock()

		runs = append(runs, jsonRun)
	}

	return runs
}
