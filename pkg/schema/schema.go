// Package schema defines the canonical request-log record produced by the
// ingestion pipeline, along with the raw-metric rename table and the
// endpoint-alias mapping applied during normalization.
package schema

import "time"

// Raw metric names emitted by the load generator that the pipeline consumes.
// Rows carrying any other metric name are dropped at the reader stage.
const (
	MetricReqDuration     = "http_req_duration"
	MetricReqBlocked      = "http_req_blocked"
	MetricReqConnecting   = "http_req_connecting"
	MetricReqTLSHandshake = "http_req_tls_handshaking"
	MetricReqSending      = "http_req_sending"
	MetricReqWaiting      = "http_req_waiting"
	MetricReqReceiving    = "http_req_receiving"
	MetricReqFailed       = "http_req_failed"
	MetricReqs            = "http_reqs"
)

// MetricsOfInterest is the set of raw metric names the readers accept.
var MetricsOfInterest = map[string]struct{}{
	MetricReqDuration:     {},
	MetricReqBlocked:      {},
	MetricReqConnecting:   {},
	MetricReqTLSHandshake: {},
	MetricReqSending:      {},
	MetricReqWaiting:      {},
	MetricReqReceiving:    {},
	MetricReqFailed:       {},
	MetricReqs:            {},
}

// RenameMap maps raw latency metric names to canonical record columns.
// http_req_failed and http_reqs are intentionally absent: the first is
// consumed to derive Success, the second is discarded.
var RenameMap = map[string]string{
	MetricReqDuration:     "response_time_ms",
	MetricReqBlocked:      "blocked_ms",
	MetricReqConnecting:   "connecting_ms",
	MetricReqTLSHandshake: "tls_handshake_ms",
	MetricReqSending:      "sending_ms",
	MetricReqWaiting:      "waiting_ms",
	MetricReqReceiving:    "receiving_ms",
}

// DefaultURLAliases maps opaque endpoint tokens in the raw url tag to full
// URLs. Tokens without a mapping pass through unchanged.
var DefaultURLAliases = map[string]string{
	"home":    "https://test.k6.io/",
	"news":    "https://test.k6.io/news.php",
	"contact": "https://test.k6.io/contact.php",
	"login":   "https://test.k6.io/login.php",
}

// RawRow is one metric measurement line from the load-generator output.
// A single HTTP request produces several raw rows sharing the same
// (Timestamp, Name, Method, URL, Status) tags, one per metric.
type RawRow struct {
	Timestamp   time.Time
	MetricName  string
	MetricValue float64
	Name        string
	Method      string
	URL         string
	Status      string
}

// Record is the pivoted one-row-per-request form consumed by the
// aggregators and the persistence layer. Latency fields other than
// ResponseTimeMS are nil when the source rows did not carry them.
type Record struct {
	Timestamp  time.Time
	URL        string
	Method     string
	StatusCode int

	// Success mirrors the generator's http_req_failed signal
	// (success when the metric is 0). Nil when the metric was absent
	// from the pivot group.
	Success *bool

	ResponseTimeMS float64
	BlockedMS      *float64
	ConnectingMS   *float64
	ReceivingMS    *float64
	SendingMS      *float64
	TLSHandshakeMS *float64
	WaitingMS      *float64
}

// Canonicalizer rewrites endpoint aliases during normalization.
type Canonicalizer struct {
	aliases map[string]string
}

// NewCanonicalizer creates a Canonicalizer over the given alias mapping.
// A nil mapping falls back to DefaultURLAliases.
func NewCanonicalizer(aliases map[string]string) *Canonicalizer {
	if aliases == nil {
		aliases = DefaultURLAliases
	}

	return &Canonicalizer{aliases: aliases}
}

// CanonicalURL resolves an endpoint token to its canonical URL.
// Unknown tokens are returned unchanged.
func (c *Canonicalizer) CanonicalURL(raw string) string {
	if mapped, ok := c.aliases[raw]; ok {
		return mapped
	}

	return raw
}

// IsMetricOfInterest reports whether the pipeline consumes the metric.
func IsMetricOfInterest(name string) bool {
	_, ok := MetricsOfInterest[name]

	return ok
}
