package aggregate

import (
	"math/rand"
	"sort"
	"time"

	"github.com/Sumatoshi-tech/loadgauge/pkg/alg/stats"
	"github.com/Sumatoshi-tech/loadgauge/pkg/schema"
)

// latencyPhases are the per-phase latency columns an endpoint tracks
// beyond the total response time.
var latencyPhases = []string{
	"blocked_ms",
	"connecting_ms",
	"receiving_ms",
	"sending_ms",
	"tls_handshaking_ms",
	"waiting_ms",
}

// PhaseMetrics summarizes one latency phase for one endpoint.
type PhaseMetrics struct {
	Avg *float64 `json:"avg"`
	P90 *float64 `json:"p90"`
	P95 *float64 `json:"p95"`
	Max *float64 `json:"max"`
}

// EndpointMetrics is the finalized summary of a single endpoint.
type EndpointMetrics struct {
	URL                string                  `json:"url"`
	TotalRequests      int64                   `json:"total_requests"`
	SuccessRate        float64                 `json:"success_rate"`
	FailureRate        float64                 `json:"failure_rate"`
	MedianResponseTime *float64                `json:"median_response_time"`
	AvgResponseTime    *float64                `json:"avg_response_time"`
	P90ResponseTime    *float64                `json:"p90_response_time"`
	P95ResponseTime    *float64                `json:"p95_response_time"`
	P99ResponseTime    *float64                `json:"p99_response_time"`
	MaxResponseTime    *float64                `json:"max_response_time"`
	MinResponseTime    *float64                `json:"min_response_time"`
	TailLatencyGap     *float64                `json:"tail_latency_gap"`
	RequestStatusError float64                 `json:"request_status_error"`
	RPS                *float64                `json:"rps"`
	Status2xx          int64                   `json:"status_2xx"`
	Status3xx          int64                   `json:"status_3xx"`
	Status4xx          int64                   `json:"status_4xx"`
	Status5xx          int64                   `json:"status_5xx"`
	Phases             map[string]PhaseMetrics `json:"phases"`
}

// phaseAccumulator pairs moments with a sample for one latency phase.
type phaseAccumulator struct {
	moments *stats.Welford
	sampler *stats.Reservoir
}

func (p *phaseAccumulator) update(v *float64) {
	if v == nil {
		return
	}

	p.moments.Update(*v)
	p.sampler.Update(*v)
}

func (p *phaseAccumulator) finalize() PhaseMetrics {
	return PhaseMetrics{
		Avg: floatOrNil(p.moments.Mean()),
		P90: percentileOrNil(p.sampler, 90),
		P95: percentileOrNil(p.sampler, 95),
		Max: floatOrNil(p.moments.Max()),
	}
}

// endpointState is the per-URL accumulator.
type endpointState struct {
	totalRequests int64
	successCount  int64
	errorCount    int64
	bucketCounts  [4]int64
	minTimestamp  time.Time
	maxTimestamp  time.Time

	responseStats   *stats.Welford
	responseSampler *stats.Reservoir
	phases          map[string]*phaseAccumulator
}

// EndpointAggregator maintains one accumulator per canonical URL.
type EndpointAggregator struct {
	samplerSize int
	rng         *rand.Rand
	endpoints   map[string]*endpointState
}

// NewEndpointAggregator creates an endpoint aggregator. Every reservoir
// it allocates holds at most samplerSize values and shares rng, so a
// seeded source makes the whole aggregation deterministic.
func NewEndpointAggregator(samplerSize int, rng *rand.Rand) *EndpointAggregator {
	return &EndpointAggregator{
		samplerSize: samplerSize,
		rng:         rng,
		endpoints:   make(map[string]*endpointState),
	}
}

// Update folds one record into its endpoint's accumulator.
func (a *EndpointAggregator) Update(record schema.Record) {
	state, ok := a.endpoints[record.URL]
	if !ok {
		state = a.newState()
		a.endpoints[record.URL] = state
	}

	state.totalRequests++

	if record.Success != nil && *record.Success {
		state.successCount++
	}

	if record.StatusCode >= statusBucket4xx {
		state.errorCount++
	}

	if bucket, ok := statusBucketIndex(record.StatusCode); ok {
		state.bucketCounts[bucket]++
	}

	if state.minTimestamp.IsZero() || record.Timestamp.Before(state.minTimestamp) {
		state.minTimestamp = record.Timestamp
	}

	if state.maxTimestamp.IsZero() || record.Timestamp.After(state.maxTimestamp) {
		state.maxTimestamp = record.Timestamp
	}

	state.responseStats.Update(record.ResponseTimeMS)
	state.responseSampler.Update(record.ResponseTimeMS)

	state.phases["blocked_ms"].update(record.BlockedMS)
	state.phases["connecting_ms"].update(record.ConnectingMS)
	state.phases["receiving_ms"].update(record.ReceivingMS)
	state.phases["sending_ms"].update(record.SendingMS)
	state.phases["tls_handshaking_ms"].update(record.TLSHandshakeMS)
	state.phases["waiting_ms"].update(record.WaitingMS)
}

// UpdateBatch folds a batch of records.
func (a *EndpointAggregator) UpdateBatch(records []schema.Record) {
	for _, record := range records {
		a.Update(record)
	}
}

// Finalize computes per-endpoint metrics sorted by URL for stable
// output. An empty aggregator yields an empty slice.
func (a *EndpointAggregator) Finalize() []EndpointMetrics {
	urls := make([]string, 0, len(a.endpoints))
	for url := range a.endpoints {
		urls = append(urls, url)
	}

	sort.Strings(urls)

	result := make([]EndpointMetrics, 0, len(urls))
	for _, url := range urls {
		result = append(result, a.endpoints[url].finalize(url))
	}

	return result
}

func (a *EndpointAggregator) newState() *endpointState {
	state := &endpointState{
		responseStats:   stats.NewWelford(),
		responseSampler: stats.NewReservoir(a.samplerSize, a.rng),
		phases:          make(map[string]*phaseAccumulator, len(latencyPhases)),
	}

	for _, phase := range latencyPhases {
		state.phases[phase] = &phaseAccumulator{
			moments: stats.NewWelford(),
			sampler: stats.NewReservoir(a.samplerSize, a.rng),
		}
	}

	return state
}

func (s *endpointState) finalize(url string) EndpointMetrics {
	total := float64(s.totalRequests)
	successRate := float64(s.successCount) / total

	phases := make(map[string]PhaseMetrics, len(s.phases))
	for name, acc := range s.phases {
		phases[name] = acc.finalize()
	}

	return EndpointMetrics{
		URL:                url,
		TotalRequests:      s.totalRequests,
		SuccessRate:        successRate,
		FailureRate:        1 - successRate,
		MedianResponseTime: percentileOrNil(s.responseSampler, 50),
		AvgResponseTime:    floatOrNil(s.responseStats.Mean()),
		P90ResponseTime:    percentileOrNil(s.responseSampler, 90),
		P95ResponseTime:    percentileOrNil(s.responseSampler, 95),
		P99ResponseTime:    percentileOrNil(s.responseSampler, 99),
		MaxResponseTime:    floatOrNil(s.responseStats.Max()),
		MinResponseTime:    floatOrNil(s.responseStats.Min()),
		TailLatencyGap:     tailLatencyGap(s.responseSampler),
		RequestStatusError: float64(s.errorCount) / total,
		RPS:                ratePerSecond(s.totalRequests, s.minTimestamp, s.maxTimestamp),
		Status2xx:          s.bucketCounts[0],
		Status3xx:          s.bucketCounts[1],
		Status4xx:          s.bucketCounts[2],
		Status5xx:          s.bucketCounts[3],
		Phases:             phases,
	}
}

// tailLatencyGap is p90 minus p50, a quick read on how heavy the tail
// of an endpoint's latency distribution is.
func tailLatencyGap(r *stats.Reservoir) *float64 {
	p90, ok := r.Percentile(90)
	if !ok {
		return nil
	}

	p50, ok := r.Percentile(50)
	if !ok {
		return nil
	}

	gap := p90 - p50

	return &gap
}

func statusBucketIndex(code int) (int, bool) {
	if code < statusBucket2xx || code >= statusBucketEnd {
		return 0, false
	}

	return code/100 - 2, true
}
