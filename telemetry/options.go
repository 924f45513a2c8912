package telemetry

// Options configures the trace and metric exporters.
type Options struct {
	// TraceExporter is one of none, console, otlpHttp, otlpGrpc or http.
	TraceExporter string
	// TraceExporterHTTPEndpoint is required by the http trace exporter.
	TraceExporterHTTPEndpoint string
	// TraceParent continues a trace started by the caller, in W3C traceparent format.
	TraceParent string
	// MetricExporter is one of none, console, otlpHttp or grpcHttp.
	MetricExporter string

	TraceExporterInsecureEndpoint  bool
	MetricExporterInsecureEndpoint bool
}
