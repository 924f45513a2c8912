package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
)

func TestNewMetricsExporter(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		expectedType any
		name         string
		exporterType string
		expectNil    bool
		expectErr    bool
	}{
		{name: "otlp http", exporterType: "otlpHttp", expectedType: (*otlpmetrichttp.Exporter)(nil)},
		{name: "grpc", exporterType: "grpcHttp", expectedType: (*otlpmetricgrpc.Exporter)(nil)},
		{name: "none", exporterType: "none", expectNil: true},
		{name: "empty", exporterType: "", expectNil: true},
		{name: "unknown", exporterType: "carrier-pigeon", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			exporter, err := NewMetricsExporter(t.Context(), io.Discard, &Options{
				MetricExporter:                 tc.exporterType,
				MetricExporterInsecureEndpoint: true,
			})

			if tc.expectErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)

			if tc.expectNil {
				assert.Nil(t, exporter)
				return
			}

			assert.IsType(t, tc.expectedType, exporter)
		})
	}
}

func TestNewTraceExporter(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		expectedType any
		opts         *Options
		name         string
		expectNil    bool
		expectErr    bool
	}{
		{name: "console", opts: &Options{TraceExporter: "console"}, expectedType: (*stdouttrace.Exporter)(nil)},
		{name: "otlp http", opts: &Options{TraceExporter: "otlpHttp"}, expectedType: (*otlptrace.Exporter)(nil)},
		{name: "http without endpoint", opts: &Options{TraceExporter: "http"}, expectErr: true},
		{name: "http", opts: &Options{TraceExporter: "http", TraceExporterHTTPEndpoint: "localhost:4318"}, expectedType: (*otlptrace.Exporter)(nil)},
		{name: "none", opts: &Options{}, expectNil: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			exporter, err := NewTraceExporter(t.Context(), io.Discard, tc.opts)

			if tc.expectErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)

			if tc.expectNil {
				assert.Nil(t, exporter)
				return
			}

			assert.IsType(t, tc.expectedType, exporter)
		})
	}
}

func TestZeroTelemeterRunsFunction(t *testing.T) {
	t.Parallel()

	tlm := TelemeterFromContext(context.Background())

	called := false
	err := tlm.Collect(t.Context(), "task_attempt", map[string]any{"task": "aggregate"}, func(context.Context) error {
		called = true
		return fmt.Errorf("failed")
	})

	require.EqualError(t, err, "failed")
	assert.True(t, called)
	tlm.Count(t.Context(), "task_attempts", 1, nil)
	require.NoError(t, tlm.Shutdown(t.Context()))
}

func TestConsoleTelemeter(t *testing.T) {
	t.Parallel()

	buf := new(bytes.Buffer)

	tlm, err := NewTelemeter(t.Context(), "datapipe", "test", buf, &Options{TraceExporter: "console"})
	require.NoError(t, err)

	ctx := ContextWithTelemeter(t.Context(), tlm)
	require.Same(t, tlm, TelemeterFromContext(ctx))

	err = TelemeterFromContext(ctx).Collect(ctx, "pipeline_run", map[string]any{"tasks": 8}, func(context.Context) error {
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, tlm.Shutdown(t.Context()))

	assert.Contains(t, buf.String(), "pipeline_run")
}

func TestParseTraceParent(t *testing.T) {
	t.Parallel()

	spanContext, err := parseTraceParent("00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	require.NoError(t, err)
	assert.True(t, spanContext.IsSampled())
	assert.True(t, spanContext.IsRemote())

	_, err = parseTraceParent("00-xyz")
	require.Error(t, err)
}

func TestCleanMetricName(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		input    string
		expected string
	}{
		{"task_attempt", "task_attempt"},
		{"task attempt:ingest_api", "task_attempt_ingest_api"},
		{"__run__", "run"},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.expected, CleanMetricName(tc.input))
		})
	}
}
