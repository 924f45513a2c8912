package stages

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/internal/task"
)

const (
	connectTimeout = 10 * time.Second

	sourceFrequency = "daily"
	metricStatusOK  = "ok"

	// pgClassSyntaxOrAccess is the SQLSTATE class of syntax errors and access rule violations.
	pgClassSyntaxOrAccess = "42"
	// pgClassInvalidAuthorization is the SQLSTATE class of rejected credentials.
	pgClassInvalidAuthorization = "28"
)

// schemaStatements create the star schema of the warehouse when it does not exist yet.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS dim_sources (
		source_id    SERIAL PRIMARY KEY,
		source_name  TEXT NOT NULL UNIQUE,
		source_type  TEXT,
		endpoint_url TEXT,
		frequency    TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS dim_time (
		time_id    SERIAL PRIMARY KEY,
		event_time TIMESTAMPTZ NOT NULL,
		event_date DATE NOT NULL,
		event_hour INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fact_metrics (
		metric_id     BIGSERIAL PRIMARY KEY,
		source_id     INTEGER NOT NULL REFERENCES dim_sources (source_id),
		time_id       INTEGER NOT NULL REFERENCES dim_time (time_id),
		metric_value  DOUBLE PRECISION NOT NULL,
		metric_status TEXT NOT NULL
	)`,
}

const aggregateQuery = `
SELECT source, AVG(metric_value)::float8
FROM unnest($1::text[], $2::float8[]) AS m (source, metric_value)
GROUP BY source
ORDER BY source`

// LoadSummary describes the rows written by one warehouse load.
type LoadSummary struct {
	SourceIDs map[string]int32
	TimeID    int32
	Facts     int64
}

// LoadWarehouse loads the curated dataset into the star schema, in a single transaction.
func (s *Stages) LoadWarehouse(ctx context.Context) error {
	path := filepath.Join(s.opts.CuratedDir(), CuratedFile)

	table, err := ReadTable(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return task.MarkPermanent(err)
		}

		return err
	}

	valueColumn := ColumnMetricValue
	if table.Index(ColumnAvgMetricValue) >= 0 {
		valueColumn = ColumnAvgMetricValue
	}

	metrics := make([]AverageBySource, 0, len(table.Records))

	for _, record := range table.Records {
		value, err := strconv.ParseFloat(table.Value(record, valueColumn), 64)
		if err != nil {
			return task.MarkPermanent(errors.Errorf("invalid %s in %s: %w", valueColumn, path, err))
		}

		metrics = append(metrics, AverageBySource{Source: table.Value(record, ColumnSource), Average: value})
	}

	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(context.WithoutCancel(ctx)) //nolint:errcheck

	summary, err := LoadMetrics(ctx, conn, s.now().UTC(), metrics)
	if err != nil {
		return classifyPgError(err)
	}

	s.logger.Infof("Loaded %d curated metrics into the warehouse star schema (time_id %d, %d sources)", summary.Facts, summary.TimeID, len(summary.SourceIDs))

	return nil
}

// LoadMetrics writes one time row, the missing source rows and one fact row per metric, in a transaction.
func LoadMetrics(ctx context.Context, conn *pgx.Conn, runTime time.Time, metrics []AverageBySource) (*LoadSummary, error) {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, errors.New(err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck

	for _, stmt := range schemaStatements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return nil, errors.Errorf("failed to create warehouse schema: %w", err)
		}
	}

	summary := &LoadSummary{SourceIDs: make(map[string]int32)}

	eventDate := time.Date(runTime.Year(), runTime.Month(), runTime.Day(), 0, 0, 0, 0, time.UTC)

	err = tx.QueryRow(ctx,
		`INSERT INTO dim_time (event_time, event_date, event_hour) VALUES ($1, $2, $3) RETURNING time_id`,
		runTime, eventDate, runTime.Hour(),
	).Scan(&summary.TimeID)
	if err != nil {
		return nil, errors.Errorf("failed to insert time row: %w", err)
	}

	sources := make([]string, 0, len(metrics))
	for _, metric := range metrics {
		if !slices.Contains(sources, metric.Source) {
			sources = append(sources, metric.Source)
		}
	}

	slices.Sort(sources)

	for _, source := range sources {
		id, err := sourceID(ctx, tx, source)
		if err != nil {
			return nil, err
		}

		summary.SourceIDs[source] = id
	}

	rows := make([][]any, 0, len(metrics))
	for _, metric := range metrics {
		rows = append(rows, []any{summary.SourceIDs[metric.Source], summary.TimeID, metric.Average, metricStatusOK})
	}

	summary.Facts, err = tx.CopyFrom(ctx,
		pgx.Identifier{"fact_metrics"},
		[]string{"source_id", "time_id", "metric_value", "metric_status"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return nil, errors.Errorf("failed to insert fact rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.New(err)
	}

	return summary, nil
}

// sourceID looks up the dimension row of the source, inserting it when missing.
func sourceID(ctx context.Context, tx pgx.Tx, source string) (int32, error) {
	var id int32

	err := tx.QueryRow(ctx, `SELECT source_id FROM dim_sources WHERE source_name = $1`, source).Scan(&id)
	if err == nil {
		return id, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, errors.Errorf("failed to look up source %s: %w", source, err)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO dim_sources (source_name, source_type, endpoint_url, frequency) VALUES ($1, $2, NULL, $3) RETURNING source_id`,
		source, source, sourceFrequency,
	).Scan(&id)
	if err != nil {
		return 0, errors.Errorf("failed to insert source %s: %w", source, err)
	}

	return id, nil
}

// aggregateSQL computes the per source averages on the warehouse.
func (s *Stages) aggregateSQL(ctx context.Context, sources []string, values []float64) ([]AverageBySource, error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close(context.WithoutCancel(ctx)) //nolint:errcheck

	rows, err := conn.Query(ctx, aggregateQuery, sources, values)
	if err != nil {
		return nil, errors.New(err)
	}

	averages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (AverageBySource, error) {
		var avg AverageBySource
		err := row.Scan(&avg.Source, &avg.Average)

		return avg, err
	})
	if err != nil {
		return nil, errors.New(err)
	}

	return averages, nil
}

func (s *Stages) connect(ctx context.Context) (*pgx.Conn, error) {
	cfg, err := pgx.ParseConfig(s.opts.Warehouse.ConnString())
	if err != nil {
		return nil, task.MarkPermanent(errors.Errorf("invalid warehouse connection settings: %w", err))
	}

	cfg.ConnectTimeout = connectTimeout

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, classifyPgError(errors.Errorf("failed to connect to warehouse %s:%d: %w", s.opts.Warehouse.Host, s.opts.Warehouse.Port, err))
	}

	return conn, nil
}

// classifyPgError marks schema and authorization errors as permanent.
func classifyPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) &&
		(strings.HasPrefix(pgErr.Code, pgClassSyntaxOrAccess) || strings.HasPrefix(pgErr.Code, pgClassInvalidAuthorization)) {
		return task.MarkPermanent(err)
	}

	return err
}
