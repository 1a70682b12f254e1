package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricHTTPRequestsTotal = "loadgauge.http.requests.total"
	metricHTTPDuration      = "loadgauge.http.request.duration.seconds"
	metricTasksTotal        = "loadgauge.tasks.total"
	metricTaskDuration      = "loadgauge.task.duration.seconds"
	metricRowsIngested      = "loadgauge.ingest.rows.total"

	attrRoute  = "route"
	attrMethod = "method"
	attrCode   = "code"
	attrKind   = "kind"
	attrStatus = "status"
)

// httpBucketBoundaries covers fast status lookups through multi-second
// upload handling.
var httpBucketBoundaries = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// taskBucketBoundaries covers ingestion tasks that range from seconds
// to the hard time limit.
var taskBucketBoundaries = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 2100}

// Metrics holds the OTel instruments shared by the server and workers.
type Metrics struct {
	httpRequestsTotal metric.Int64Counter
	httpDuration      metric.Float64Histogram
	tasksTotal        metric.Int64Counter
	taskDuration      metric.Float64Histogram
	rowsIngested      metric.Int64Counter
}

// NewMetrics creates the instrument set from the given meter.
func NewMetrics(mt metric.Meter) (*Metrics, error) {
	httpTotal, err := mt.Int64Counter(metricHTTPRequestsTotal,
		metric.WithDescription("Total HTTP requests served"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricHTTPRequestsTotal, err)
	}

	httpDuration, err := mt.Float64Histogram(metricHTTPDuration,
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(httpBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricHTTPDuration, err)
	}

	tasksTotal, err := mt.Int64Counter(metricTasksTotal,
		metric.WithDescription("Total worker tasks by kind and terminal status"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricTasksTotal, err)
	}

	taskDuration, err := mt.Float64Histogram(metricTaskDuration,
		metric.WithDescription("Worker task duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(taskBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricTaskDuration, err)
	}

	rowsIngested, err := mt.Int64Counter(metricRowsIngested,
		metric.WithDescription("Request records written during ingestion"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRowsIngested, err)
	}

	return &Metrics{
		httpRequestsTotal: httpTotal,
		httpDuration:      httpDuration,
		tasksTotal:        tasksTotal,
		taskDuration:      taskDuration,
		rowsIngested:      rowsIngested,
	}, nil
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, code int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrRoute, route),
		attribute.Int(attrCode, code),
	)

	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordTask records one finished worker task.
func (m *Metrics) RecordTask(ctx context.Context, kind, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(attrKind, kind),
		attribute.String(attrStatus, status),
	)

	m.tasksTotal.Add(ctx, 1, attrs)
	m.taskDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordRowsIngested adds to the ingested row counter.
func (m *Metrics) RecordRowsIngested(ctx context.Context, count int64) {
	m.rowsIngested.Add(ctx, count)
}
