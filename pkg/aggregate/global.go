// Package aggregate implements single-pass metric aggregation over a
// stream of canonical request records. The global aggregator summarizes
// the whole run; the endpoint aggregator keeps one accumulator per URL.
// Both are O(1) per record after warm-up and thread-confined: run one
// instance per ingestion task.
package aggregate

import (
	"math/rand"
	"time"

	"github.com/Sumatoshi-tech/loadgauge/pkg/alg/stats"
	"github.com/Sumatoshi-tech/loadgauge/pkg/schema"
)

// Status bucket boundaries.
const (
	statusBucket2xx = 200
	statusBucket3xx = 300
	statusBucket4xx = 400
	statusBucket5xx = 500
	statusBucketEnd = 600
)

// GlobalMetrics is the finalized output of a GlobalAggregator. Pointer
// fields are nil when undefined (empty stream, or zero wall-clock span
// for RPS).
type GlobalMetrics struct {
	TotalRequests      int64    `json:"total_requests"`
	SuccessRate        float64  `json:"success_rate"`
	FailureRate        float64  `json:"failure_rate"`
	MedianResponseTime *float64 `json:"median_response_time"`
	AvgResponseTime    *float64 `json:"avg_response_time"`
	P90ResponseTime    *float64 `json:"p90_response_time"`
	P95ResponseTime    *float64 `json:"p95_response_time"`
	P99ResponseTime    *float64 `json:"p99_response_time"`
	MaxResponseTime    *float64 `json:"max_response_time"`
	MinResponseTime    *float64 `json:"min_response_time"`
	RequestStatusError float64  `json:"request_status_error"`
	RPS                *float64 `json:"rps"`
	Status2xx          float64  `json:"status_2xx"`
	Status3xx          float64  `json:"status_3xx"`
	Status4xx          float64  `json:"status_4xx"`
	Status5xx          float64  `json:"status_5xx"`
}

// GlobalAggregator maintains run-wide counters, response-time moments,
// and a reservoir sample over a record stream.
type GlobalAggregator struct {
	totalRequests int64
	successCount  int64
	errorCount    int64
	statusCounts  map[int]int64
	minTimestamp  time.Time
	maxTimestamp  time.Time

	responseStats   *stats.Welford
	responseSampler *stats.Reservoir
}

// NewGlobalAggregator creates a global aggregator whose reservoir holds
// at most samplerSize values. A nil rng leaves sampling unseeded.
func NewGlobalAggregator(samplerSize int, rng *rand.Rand) *GlobalAggregator {
	return &GlobalAggregator{
		statusCounts:    make(map[int]int64),
		responseStats:   stats.NewWelford(),
		responseSampler: stats.NewReservoir(samplerSize, rng),
	}
}

// Update folds one record into the aggregate state.
func (a *GlobalAggregator) Update(record schema.Record) {
	a.totalRequests++

	if record.Success != nil && *record.Success {
		a.successCount++
	}

	if record.StatusCode >= statusBucket4xx {
		a.errorCount++
	}

	a.statusCounts[record.StatusCode]++

	if a.minTimestamp.IsZero() || record.Timestamp.Before(a.minTimestamp) {
		a.minTimestamp = record.Timestamp
	}

	if a.maxTimestamp.IsZero() || record.Timestamp.After(a.maxTimestamp) {
		a.maxTimestamp = record.Timestamp
	}

	a.responseStats.Update(record.ResponseTimeMS)
	a.responseSampler.Update(record.ResponseTimeMS)
}

// UpdateBatch folds a batch of records into the aggregate state.
func (a *GlobalAggregator) UpdateBatch(records []schema.Record) {
	for _, record := range records {
		a.Update(record)
	}
}

// Finalize computes the metric object. Returns nil when no records were
// observed, so callers can emit an empty JSON object instead of a
// null-ridden one.
func (a *GlobalAggregator) Finalize() *GlobalMetrics {
	if a.totalRequests == 0 {
		return nil
	}

	total := float64(a.totalRequests)
	successRate := float64(a.successCount) / total

	metrics := &GlobalMetrics{
		TotalRequests:      a.totalRequests,
		SuccessRate:        successRate,
		FailureRate:        1 - successRate,
		MedianResponseTime: percentileOrNil(a.responseSampler, 50),
		AvgResponseTime:    floatOrNil(a.responseStats.Mean()),
		P90ResponseTime:    percentileOrNil(a.responseSampler, 90),
		P95ResponseTime:    percentileOrNil(a.responseSampler, 95),
		P99ResponseTime:    percentileOrNil(a.responseSampler, 99),
		MaxResponseTime:    floatOrNil(a.responseStats.Max()),
		MinResponseTime:    floatOrNil(a.responseStats.Min()),
		RequestStatusError: float64(a.errorCount) / total,
		RPS:                ratePerSecond(a.totalRequests, a.minTimestamp, a.maxTimestamp),
		Status2xx:          a.bucketShare(statusBucket2xx, statusBucket3xx),
		Status3xx:          a.bucketShare(statusBucket3xx, statusBucket4xx),
		Status4xx:          a.bucketShare(statusBucket4xx, statusBucket5xx),
		Status5xx:          a.bucketShare(statusBucket5xx, statusBucketEnd),
	}

	return metrics
}

// StatusCodeCounts returns the observed status-code histogram.
func (a *GlobalAggregator) StatusCodeCounts() map[int]int64 {
	return a.statusCounts
}

func (a *GlobalAggregator) bucketShare(lo, hi int) float64 {
	var count int64

	for code, n := range a.statusCounts {
		if code >= lo && code < hi {
			count += n
		}
	}

	return float64(count) / float64(a.totalRequests)
}

// ratePerSecond computes requests per second over the observed span.
// Nil when the span is zero or negative (single instant or empty).
func ratePerSecond(total int64, minTS, maxTS time.Time) *float64 {
	if minTS.IsZero() || maxTS.IsZero() {
		return nil
	}

	seconds := maxTS.Sub(minTS).Seconds()
	if seconds <= 0 {
		return nil
	}

	rps := float64(total) / seconds

	return &rps
}

func floatOrNil(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}

	return &v
}

func percentileOrNil(r *stats.Reservoir, p float64) *float64 {
	v, ok := r.Percentile(p)
	if !ok {
		return nil
	}

	return &v
}
