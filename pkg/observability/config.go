package observability

import "log/slog"

// Component tags telemetry with the process role emitting it.
type Component string

const (
	ComponentServer Component = "server"
	ComponentWorker Component = "worker"
)

// Config controls telemetry initialization.
type Config struct {
	// ServiceName appears on every span, metric, and log record.
	ServiceName string

	// ServiceVersion is attached to the OTel resource when set.
	ServiceVersion string

	// Environment is the deployment environment (dev, staging, prod).
	Environment string

	// Component distinguishes the API server from the worker pool.
	Component Component

	// OTLPEndpoint is the gRPC collector address. Empty means no-op
	// tracing and metrics with zero export overhead.
	OTLPEndpoint string

	// OTLPInsecure disables TLS on the exporter connection.
	OTLPInsecure bool

	// SampleRatio is the trace sampling ratio; <= 0 samples everything.
	SampleRatio float64

	// LogLevel is the minimum level for emitted log records.
	LogLevel slog.Level

	// LogJSON switches the log output from text to JSON.
	LogJSON bool
}
