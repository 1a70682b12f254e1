package ingest

import (
	"sort"
	"strconv"
	"time"

	"github.com/Sumatoshi-tech/loadgauge/pkg/schema"
)

// Pivoter folds batches of raw metric rows into canonical request
// records, grouping by (timestamp, name, method, url, status) and taking
// the first occurrence of each metric within a group.
type Pivoter struct {
	canon *schema.Canonicalizer

	// DropInvalid discards records whose status or timestamp fail
	// validation instead of counting them. The choice is fixed for the
	// lifetime of one ingestion job.
	DropInvalid bool
}

// NewPivoter creates a Pivoter using the given alias canonicalizer.
func NewPivoter(canon *schema.Canonicalizer) *Pivoter {
	return &Pivoter{canon: canon}
}

// PivotResult carries the pivoted records and the count of groups that
// failed row-level validation.
type PivotResult struct {
	Records       []schema.Record
	InvalidGroups int
}

// groupKey identifies one logical HTTP request inside a batch.
type groupKey struct {
	ts     int64
	name   string
	method string
	url    string
	status string
}

// group accumulates the first-seen value of each metric for one key.
type group struct {
	order   int
	metrics map[string]float64
}

// Pivot converts one raw batch into canonical records. An empty batch
// produces an empty result. Record order follows first appearance of
// each group in the batch, so chunk-boundary behavior is deterministic.
func (p *Pivoter) Pivot(rows []schema.RawRow) PivotResult {
	if len(rows) == 0 {
		return PivotResult{}
	}

	groups := make(map[groupKey]*group)

	for _, row := range rows {
		key := groupKey{
			ts:     row.Timestamp.UnixNano(),
			name:   row.Name,
			method: row.Method,
			url:    row.URL,
			status: row.Status,
		}

		g, ok := groups[key]
		if !ok {
			g = &group{
				order:   len(groups),
				metrics: make(map[string]float64, len(schema.MetricsOfInterest)),
			}
			groups[key] = g
		}

		// First occurrence of a metric wins within a group.
		if _, seen := g.metrics[row.MetricName]; !seen {
			g.metrics[row.MetricName] = row.MetricValue
		}
	}

	keys := make([]groupKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		return groups[keys[i]].order < groups[keys[j]].order
	})

	result := PivotResult{Records: make([]schema.Record, 0, len(keys))}

	for _, key := range keys {
		record, ok := p.buildRecord(key, groups[key])
		if !ok {
			if !p.DropInvalid {
				result.InvalidGroups++
			}

			continue
		}

		result.Records = append(result.Records, record)
	}

	return result
}

// buildRecord assembles one canonical record from a pivoted group.
// Returns false when the group fails validation (non-numeric status,
// zero timestamp, or a missing duration metric).
func (p *Pivoter) buildRecord(key groupKey, g *group) (schema.Record, bool) {
	if key.ts == 0 {
		return schema.Record{}, false
	}

	statusCode, err := strconv.Atoi(key.status)
	if err != nil {
		return schema.Record{}, false
	}

	duration, ok := g.metrics[schema.MetricReqDuration]
	if !ok {
		return schema.Record{}, false
	}

	record := schema.Record{
		Timestamp:      time.Unix(0, key.ts).UTC(),
		URL:            p.canon.CanonicalURL(key.url),
		Method:         key.method,
		StatusCode:     statusCode,
		ResponseTimeMS: duration,
		BlockedMS:      optional(g.metrics, schema.MetricReqBlocked),
		ConnectingMS:   optional(g.metrics, schema.MetricReqConnecting),
		ReceivingMS:    optional(g.metrics, schema.MetricReqReceiving),
		SendingMS:      optional(g.metrics, schema.MetricReqSending),
		TLSHandshakeMS: optional(g.metrics, schema.MetricReqTLSHandshake),
		WaitingMS:      optional(g.metrics, schema.MetricReqWaiting),
	}

	// success derives from http_req_failed; absence leaves it unset
	// rather than assuming success.
	if failed, seen := g.metrics[schema.MetricReqFailed]; seen {
		success := failed == 0
		record.Success = &success
	}

	return record, true
}

func optional(metrics map[string]float64, name string) *float64 {
	v, ok := metrics[name]
	if !ok {
		return nil
	}

	return &v
}
