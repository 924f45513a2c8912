package stages

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/internal/task"
)

// MinQualityRows is the smallest dataset accepted by the quality check.
const MinQualityRows = 3

// timeLayouts are the accepted metric_time formats. Values without a zone are taken as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// AverageBySource is the mean metric value of one source.
type AverageBySource struct {
	Source  string
	Average float64
}

// CleanMerge concatenates every raw CSV file, normalises metric_time to UTC and drops incomplete rows.
func (s *Stages) CleanMerge(_ context.Context) error {
	files, err := filepath.Glob(filepath.Join(s.opts.RawDir(), "*.csv"))
	if err != nil {
		return errors.New(err)
	}

	if len(files) == 0 {
		return task.MarkPermanent(errors.Errorf("no CSV files found in %s", s.opts.RawDir()))
	}

	sort.Strings(files)

	merged := &Table{}
	dropped := 0

	for _, file := range files {
		table, err := ReadTable(file)
		if err != nil {
			return task.MarkPermanent(err)
		}

		for _, column := range table.Header {
			if !slices.Contains(merged.Header, column) {
				merged.Header = append(merged.Header, column)
			}
		}

		for _, record := range table.Records {
			row := make([]string, len(merged.Header))
			for i, column := range merged.Header {
				row[i] = strings.TrimSpace(table.Value(record, column))
			}

			if !normaliseRow(merged, row) {
				dropped++
				continue
			}

			merged.Records = append(merged.Records, row)
		}
	}

	// rows read before a later file added columns are missing those fields
	complete := merged.Records[:0]

	for _, row := range merged.Records {
		if len(row) == len(merged.Header) && !slices.Contains(row, "") {
			complete = append(complete, row)
		} else {
			dropped++
		}
	}

	merged.Records = complete

	path := filepath.Join(s.opts.ProcessedDir(), CleanedFile)
	if err := WriteTable(path, merged); err != nil {
		return err
	}

	s.logger.Infof("Wrote cleaned dataset to %s: %d rows from %d files, %d rows dropped", path, len(merged.Records), len(files), dropped)

	return nil
}

// normaliseRow rewrites metric_time in RFC3339 UTC and reports whether the row is complete and parsable.
func normaliseRow(table *Table, row []string) bool {
	if slices.Contains(row, "") {
		return false
	}

	if i := table.Index(ColumnMetricTime); i >= 0 {
		parsed, ok := parseMetricTime(row[i])
		if !ok {
			return false
		}

		row[i] = parsed.Format(time.RFC3339)
	}

	if i := table.Index(ColumnMetricValue); i >= 0 {
		if _, err := strconv.ParseFloat(row[i], 64); err != nil {
			return false
		}
	}

	return true
}

func parseMetricTime(value string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if parsed, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return parsed.UTC(), true
		}
	}

	return time.Time{}, false
}

// QualityCheck validates the cleaned dataset. Every violation is a permanent failure.
func (s *Stages) QualityCheck(_ context.Context) error {
	path := filepath.Join(s.opts.ProcessedDir(), CleanedFile)

	if _, err := os.Stat(path); err != nil {
		return qualityError("%s not found", CleanedFile)
	}

	table, err := ReadTable(path)
	if err != nil {
		return task.MarkPermanent(err)
	}

	var missing []string

	for _, column := range []string{ColumnID, ColumnSource, ColumnMetricValue, ColumnMetricTime} {
		if table.Index(column) < 0 {
			missing = append(missing, column)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return qualityError("missing columns [%s]", strings.Join(missing, ", "))
	}

	for _, record := range table.Records {
		if len(record) < len(table.Header) || slices.Contains(record, "") {
			return qualityError("null values present")
		}
	}

	for _, record := range table.Records {
		value, err := strconv.ParseFloat(table.Value(record, ColumnMetricValue), 64)
		if err != nil {
			return qualityError("metric_value %q is not a number", table.Value(record, ColumnMetricValue))
		}

		if value < 0 {
			return qualityError("negative metric_value detected")
		}
	}

	if len(table.Records) < MinQualityRows {
		return qualityError("not enough rows: %d, at least %d required", len(table.Records), MinQualityRows)
	}

	s.logger.Infof("Quality checks passed for %s", path)

	return nil
}

func qualityError(format string, args ...any) error {
	return task.MarkPermanent(errors.Errorf("quality check failed: "+format, args...))
}

// Aggregate averages metric_value per source into the curated dataset. It runs the query on the
// warehouse when enabled, and falls back to aggregating in process if that fails.
func (s *Stages) Aggregate(ctx context.Context) error {
	input := filepath.Join(s.opts.ProcessedDir(), CleanedFile)

	table, err := ReadTable(input)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return task.MarkPermanent(err)
		}

		return err
	}

	sources := make([]string, 0, len(table.Records))
	values := make([]float64, 0, len(table.Records))

	for _, record := range table.Records {
		value, err := strconv.ParseFloat(table.Value(record, ColumnMetricValue), 64)
		if err != nil {
			return task.MarkPermanent(errors.Errorf("invalid metric_value in %s: %w", input, err))
		}

		sources = append(sources, table.Value(record, ColumnSource))
		values = append(values, value)
	}

	var (
		averages []AverageBySource
		engine   = "warehouse"
	)

	if s.opts.SQLAggregate {
		averages, err = s.aggregateSQL(ctx, sources, values)
		if err != nil {
			s.logger.Warnf("Warehouse aggregation unavailable, falling back to in-process aggregation: %v", err)
		}
	}

	if !s.opts.SQLAggregate || err != nil {
		averages = AverageSources(sources, values)
		engine = "in-process"
	}

	curated := &Table{Header: []string{ColumnSource, ColumnAvgMetricValue}}
	for _, avg := range averages {
		curated.Records = append(curated.Records, []string{avg.Source, strconv.FormatFloat(avg.Average, 'f', -1, 64)})
	}

	output := filepath.Join(s.opts.CuratedDir(), CuratedFile)
	if err := WriteTable(output, curated); err != nil {
		return err
	}

	s.logger.Infof("Wrote curated dataset to %s using %s aggregation", output, engine)

	return nil
}

// AverageSources returns the mean value of each source, ordered by source.
func AverageSources(sources []string, values []float64) []AverageBySource {
	sums := make(map[string]float64)
	counts := make(map[string]int)

	for i, source := range sources {
		sums[source] += values[i]
		counts[source]++
	}

	averages := make([]AverageBySource, 0, len(sums))
	for source, sum := range sums {
		averages = append(averages, AverageBySource{Source: source, Average: sum / float64(counts[source])})
	}

	slices.SortFunc(averages, func(a, b AverageBySource) int {
		return strings.Compare(a.Source, b.Source)
	})

	return averages
}
