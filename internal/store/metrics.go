package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Sumatoshi-tech/loadgauge/pkg/aggregate"
)

// MetricsReader computes metrics in the database on demand. All queries
// are read-only and keyed by ingestion-job id; the formatter shapes the
// rows like the in-memory aggregators so either path is exchangeable.
type MetricsReader struct {
	conn *sqlx.DB
}

// globalRow is the scan target for the global metrics query.
type globalRow struct {
	TotalRequests int64      `db:"total_requests"`
	SuccessCount  int64      `db:"success_count"`
	ErrorCount    int64      `db:"error_count"`
	Status2xx     int64      `db:"status_2xx"`
	Status3xx     int64      `db:"status_3xx"`
	Status4xx     int64      `db:"status_4xx"`
	Status5xx     int64      `db:"status_5xx"`
	AvgResponse   *float64   `db:"avg_response"`
	MinResponse   *float64   `db:"min_response"`
	MaxResponse   *float64   `db:"max_response"`
	P50Response   *float64   `db:"p50_response"`
	P90Response   *float64   `db:"p90_response"`
	P95Response   *float64   `db:"p95_response"`
	P99Response   *float64   `db:"p99_response"`
	MinTimestamp  *time.Time `db:"min_timestamp"`
	MaxTimestamp  *time.Time `db:"max_timestamp"`
}

const globalMetricsQuery = `
	SELECT
		COUNT(*) AS total_requests,
		COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS success_count,
		COALESCE(SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END), 0) AS error_count,
		COALESCE(SUM(CASE WHEN status_code BETWEEN 200 AND 299 THEN 1 ELSE 0 END), 0) AS status_2xx,
		COALESCE(SUM(CASE WHEN status_code BETWEEN 300 AND 399 THEN 1 ELSE 0 END), 0) AS status_3xx,
		COALESCE(SUM(CASE WHEN status_code BETWEEN 400 AND 499 THEN 1 ELSE 0 END), 0) AS status_4xx,
		COALESCE(SUM(CASE WHEN status_code BETWEEN 500 AND 599 THEN 1 ELSE 0 END), 0) AS status_5xx,
		AVG(response_time_ms) AS avg_response,
		MIN(response_time_ms) AS min_response,
		MAX(response_time_ms) AS max_response,
		PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY response_time_ms) AS p50_response,
		PERCENTILE_CONT(0.9) WITHIN GROUP (ORDER BY response_time_ms) AS p90_response,
		PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY response_time_ms) AS p95_response,
		PERCENTILE_CONT(0.99) WITHIN GROUP (ORDER BY response_time_ms) AS p99_response,
		MIN("timestamp") AS min_timestamp,
		MAX("timestamp") AS max_timestamp
	FROM request_logs
	WHERE job_id = $1`

// Global computes run-wide metrics for one ingestion job. Returns nil
// when the job has no rows.
func (r *MetricsReader) Global(ctx context.Context, jobID uuid.UUID) (*aggregate.GlobalMetrics, error) {
	var row globalRow

	if err := r.conn.GetContext(ctx, &row, globalMetricsQuery, jobID); err != nil {
		return nil, fmt.Errorf("query global metrics: %w", err)
	}

	if row.TotalRequests == 0 {
		return nil, nil
	}

	return formatGlobal(row), nil
}

func formatGlobal(row globalRow) *aggregate.GlobalMetrics {
	total := float64(row.TotalRequests)
	successRate := float64(row.SuccessCount) / total

	return &aggregate.GlobalMetrics{
		TotalRequests:      row.TotalRequests,
		SuccessRate:        successRate,
		FailureRate:        1 - successRate,
		MedianResponseTime: row.P50Response,
		AvgResponseTime:    row.AvgResponse,
		P90ResponseTime:    row.P90Response,
		P95ResponseTime:    row.P95Response,
		P99ResponseTime:    row.P99Response,
		MaxResponseTime:    row.MaxResponse,
		MinResponseTime:    row.MinResponse,
		RequestStatusError: float64(row.ErrorCount) / total,
		RPS:                rpsFromSpan(row.TotalRequests, row.MinTimestamp, row.MaxTimestamp),
		Status2xx:          float64(row.Status2xx) / total,
		Status3xx:          float64(row.Status3xx) / total,
		Status4xx:          float64(row.Status4xx) / total,
		Status5xx:          float64(row.Status5xx) / total,
	}
}

// endpointRow is the scan target for the per-endpoint metrics query.
type endpointRow struct {
	globalRow

	URL           string   `db:"url"`
	AvgBlocked    *float64 `db:"avg_blocked"`
	MaxBlocked    *float64 `db:"max_blocked"`
	AvgConnecting *float64 `db:"avg_connecting"`
	MaxConnecting *float64 `db:"max_connecting"`
	AvgReceiving  *float64 `db:"avg_receiving"`
	MaxReceiving  *float64 `db:"max_receiving"`
	AvgSending    *float64 `db:"avg_sending"`
	MaxSending    *float64 `db:"max_sending"`
	AvgTLS        *float64 `db:"avg_tls"`
	MaxTLS        *float64 `db:"max_tls"`
	AvgWaiting    *float64 `db:"avg_waiting"`
	MaxWaiting    *float64 `db:"max_waiting"`
}

const endpointMetricsQuery = `
	SELECT
		url,
		COUNT(*) AS total_requests,
		COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS success_count,
		COALESCE(SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END), 0) AS error_count,
		COALESCE(SUM(CASE WHEN status_code BETWEEN 200 AND 299 THEN 1 ELSE 0 END), 0) AS status_2xx,
		COALESCE(SUM(CASE WHEN status_code BETWEEN 300 AND 399 THEN 1 ELSE 0 END), 0) AS status_3xx,
		COALESCE(SUM(CASE WHEN status_code BETWEEN 400 AND 499 THEN 1 ELSE 0 END), 0) AS status_4xx,
		COALESCE(SUM(CASE WHEN status_code BETWEEN 500 AND 599 THEN 1 ELSE 0 END), 0) AS status_5xx,
		AVG(response_time_ms) AS avg_response,
		MIN(response_time_ms) AS min_response,
		MAX(response_time_ms) AS max_response,
		PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY response_time_ms) AS p50_response,
		PERCENTILE_CONT(0.9) WITHIN GROUP (ORDER BY response_time_ms) AS p90_response,
		PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY response_time_ms) AS p95_response,
		PERCENTILE_CONT(0.99) WITHIN GROUP (ORDER BY response_time_ms) AS p99_response,
		MIN("timestamp") AS min_timestamp,
		MAX("timestamp") AS max_timestamp,
		AVG(blocked_ms) AS avg_blocked,
		MAX(blocked_ms) AS max_blocked,
		AVG(connecting_ms) AS avg_connecting,
		MAX(connecting_ms) AS max_connecting,
		AVG(receiving_ms) AS avg_receiving,
		MAX(receiving_ms) AS max_receiving,
		AVG(sending_ms) AS avg_sending,
		MAX(sending_ms) AS max_sending,
		AVG(tls_handshake_ms) AS avg_tls,
		MAX(tls_handshake_ms) AS max_tls,
		AVG(waiting_ms) AS avg_waiting,
		MAX(waiting_ms) AS max_waiting
	FROM request_logs
	WHERE job_id = $1
	GROUP BY url
	ORDER BY url`

// Endpoints computes per-endpoint metrics for one ingestion job.
func (r *MetricsReader) Endpoints(ctx context.Context, jobID uuid.UUID) ([]aggregate.EndpointMetrics, error) {
	var rows []endpointRow

	if err := r.conn.SelectContext(ctx, &rows, endpointMetricsQuery, jobID); err != nil {
		return nil, fmt.Errorf("query endpoint metrics: %w", err)
	}

	result := make([]aggregate.EndpointMetrics, 0, len(rows))
	for _, row := range rows {
		result = append(result, formatEndpoint(row))
	}

	return result, nil
}

func formatEndpoint(row endpointRow) aggregate.EndpointMetrics {
	total := float64(row.TotalRequests)
	successRate := float64(row.SuccessCount) / total

	return aggregate.EndpointMetrics{
		URL:                row.URL,
		TotalRequests:      row.TotalRequests,
		SuccessRate:        successRate,
		FailureRate:        1 - successRate,
		MedianResponseTime: row.P50Response,
		AvgResponseTime:    row.AvgResponse,
		P90ResponseTime:    row.P90Response,
		P95ResponseTime:    row.P95Response,
		P99ResponseTime:    row.P99Response,
		MaxResponseTime:    row.MaxResponse,
		MinResponseTime:    row.MinResponse,
		TailLatencyGap:     gapFrom(row.P90Response, row.P50Response),
		RequestStatusError: float64(row.ErrorCount) / total,
		RPS:                rpsFromSpan(row.TotalRequests, row.MinTimestamp, row.MaxTimestamp),
		Status2xx:          row.Status2xx,
		Status3xx:          row.Status3xx,
		Status4xx:          row.Status4xx,
		Status5xx:          row.Status5xx,
		Phases: map[string]aggregate.PhaseMetrics{
			"blocked_ms":         {Avg: row.AvgBlocked, Max: row.MaxBlocked},
			"connecting_ms":      {Avg: row.AvgConnecting, Max: row.MaxConnecting},
			"receiving_ms":       {Avg: row.AvgReceiving, Max: row.MaxReceiving},
			"sending_ms":         {Avg: row.AvgSending, Max: row.MaxSending},
			"tls_handshaking_ms": {Avg: row.AvgTLS, Max: row.MaxTLS},
			"waiting_ms":         {Avg: row.AvgWaiting, Max: row.MaxWaiting},
		},
	}
}

// TimeSeriesPoint is one bucketed sample.
type TimeSeriesPoint struct {
	Bucket time.Time `db:"bucket" json:"bucket"`
	Value  float64   `db:"value" json:"value"`
}

// RequestsPerSecond returns the per-second request rate series.
func (r *MetricsReader) RequestsPerSecond(ctx context.Context, jobID uuid.UUID) ([]TimeSeriesPoint, error) {
	const query = `
		SELECT date_trunc('second', "timestamp") AS bucket, COUNT(*)::float8 AS value
		FROM request_logs
		WHERE job_id = $1
		GROUP BY bucket
		ORDER BY bucket`

	var points []TimeSeriesPoint

	if err := r.conn.SelectContext(ctx, &points, query, jobID); err != nil {
		return nil, fmt.Errorf("query rps series: %w", err)
	}

	return points, nil
}

// LatencyPercentilePoint holds p50 and p95 for one minute bucket.
type LatencyPercentilePoint struct {
	Bucket time.Time `db:"bucket" json:"bucket"`
	P50    float64   `db:"p50" json:"p50"`
	P95    float64   `db:"p95" json:"p95"`
}

// LatencyPercentilesPerMinute returns p50/p95 latency per minute.
func (r *MetricsReader) LatencyPercentilesPerMinute(ctx context.Context, jobID uuid.UUID) ([]LatencyPercentilePoint, error) {
	const query = `
		SELECT
			date_trunc('minute', "timestamp") AS bucket,
			PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY response_time_ms) AS p50,
			PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY response_time_ms) AS p95
		FROM request_logs
		WHERE job_id = $1
		GROUP BY bucket
		ORDER BY bucket`

	var points []LatencyPercentilePoint

	if err := r.conn.SelectContext(ctx, &points, query, jobID); err != nil {
		return nil, fmt.Errorf("query latency percentile series: %w", err)
	}

	return points, nil
}

// ErrorRatePerMinute returns the share of status >= 400 per minute.
func (r *MetricsReader) ErrorRatePerMinute(ctx context.Context, jobID uuid.UUID) ([]TimeSeriesPoint, error) {
	const query = `
		SELECT
			date_trunc('minute', "timestamp") AS bucket,
			AVG(CASE WHEN status_code >= 400 THEN 1.0 ELSE 0.0 END) AS value
		FROM request_logs
		WHERE job_id = $1
		GROUP BY bucket
		ORDER BY bucket`

	var points []TimeSeriesPoint

	if err := r.conn.SelectContext(ctx, &points, query, jobID); err != nil {
		return nil, fmt.Errorf("query error rate series: %w", err)
	}

	return points, nil
}

// EndpointRank is one row of a top-N endpoint listing.
type EndpointRank struct {
	URL           string  `db:"url" json:"url"`
	TotalRequests int64   `db:"total_requests" json:"total_requests"`
	Value         float64 `db:"value" json:"value"`
}

// SlowestEndpoints returns up to limit endpoints by average latency,
// slowest first.
func (r *MetricsReader) SlowestEndpoints(ctx context.Context, jobID uuid.UUID, limit int) ([]EndpointRank, error) {
	const query = `
		SELECT url, COUNT(*) AS total_requests, AVG(response_time_ms) AS value
		FROM request_logs
		WHERE job_id = $1
		GROUP BY url
		ORDER BY value DESC
		LIMIT $2`

	var ranks []EndpointRank

	if err := r.conn.SelectContext(ctx, &ranks, query, jobID, limit); err != nil {
		return nil, fmt.Errorf("query slowest endpoints: %w", err)
	}

	return ranks, nil
}

// EndpointsByErrorRate returns endpoints ordered by error rate,
// worst first.
func (r *MetricsReader) EndpointsByErrorRate(ctx context.Context, jobID uuid.UUID) ([]EndpointRank, error) {
	const query = `
		SELECT
			url,
			COUNT(*) AS total_requests,
			AVG(CASE WHEN status_code >= 400 THEN 1.0 ELSE 0.0 END) AS value
		FROM request_logs
		WHERE job_id = $1
		GROUP BY url
		ORDER BY value DESC`

	var ranks []EndpointRank

	if err := r.conn.SelectContext(ctx, &ranks, query, jobID); err != nil {
		return nil, fmt.Errorf("query endpoint error rates: %w", err)
	}

	return ranks, nil
}

// StatusCount is one status-code histogram bucket.
type StatusCount struct {
	StatusCode int   `db:"status_code" json:"status_code"`
	Count      int64 `db:"count" json:"count"`
}

// StatusHistogram returns the status-code histogram for a job.
func (r *MetricsReader) StatusHistogram(ctx context.Context, jobID uuid.UUID) ([]StatusCount, error) {
	const query = `
		SELECT status_code, COUNT(*) AS count
		FROM request_logs
		WHERE job_id = $1
		GROUP BY status_code
		ORDER BY status_code`

	var counts []StatusCount

	if err := r.conn.SelectContext(ctx, &counts, query, jobID); err != nil {
		return nil, fmt.Errorf("query status histogram: %w", err)
	}

	return counts, nil
}

func rpsFromSpan(total int64, minTS, maxTS *time.Time) *float64 {
	if minTS == nil || maxTS == nil {
		return nil
	}

	seconds := maxTS.Sub(*minTS).Seconds()
	if seconds <= 0 {
		return nil
	}

	rps := float64(total) / seconds

	return &rps
}

func gapFrom(p90, p50 *float64) *float64 {
	if p90 == nil || p50 == nil {
		return nil
	}

	gap := *p90 - *p50

	return &gap
}
