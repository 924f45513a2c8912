package stages

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"slices"

	"github.com/datapipe-pro/datapipe/internal/errors"
)

// Column names of the metric datasets.
const (
	ColumnID             = "id"
	ColumnSource         = "source"
	ColumnMetricValue    = "metric_value"
	ColumnMetricTime     = "metric_time"
	ColumnAvgMetricValue = "avg_metric_value"

	CleanedFile = "metrics_cleaned.csv"
	CuratedFile = "metrics_curated.csv"
)

// Table is a CSV file held in memory, with the header separated from the records.
type Table struct {
	Header  []string
	Records [][]string
}

// ReadTable reads a CSV file whose first record is the header.
func ReadTable(path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err)
	}
	defer file.Close() //nolint:errcheck

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Errorf("failed to read %s: %w", path, err)
	}

	if len(records) == 0 {
		return &Table{}, nil
	}

	return &Table{Header: records[0], Records: records[1:]}, nil
}

// WriteTable writes the table to path, creating the parent directory.
func WriteTable(path string, table *Table) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return errors.New(err)
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.New(err)
	}

	writer := csv.NewWriter(file)

	if err := writer.Write(table.Header); err != nil {
		file.Close() //nolint:errcheck
		return errors.New(err)
	}

	if err := writer.WriteAll(table.Records); err != nil {
		file.Close() //nolint:errcheck
		return errors.New(err)
	}

	return errors.New(file.Close())
}

// Index returns the position of the column, or -1.
func (table *Table) Index(column string) int {
	return slices.Index(table.Header, column)
}

// Value returns the field of the record in the given column, or "" when the record is short.
func (table *Table) Value(record []string, column string) string {
	i := table.Index(column)
	if i < 0 || i >= len(record) {
		return ""
	}

	return record[i]
}
