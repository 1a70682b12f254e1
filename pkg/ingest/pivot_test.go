package ingest_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/loadgauge/pkg/ingest"
	"github.com/Sumatoshi-tech/loadgauge/pkg/schema"
)

var pivotTS = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// requestRows builds the raw rows one HTTP request would emit.
func requestRows(ts time.Time, name, status string, duration, failed float64) []schema.RawRow {
	base := schema.RawRow{
		Timestamp: ts,
		Name:      name,
		Method:    "GET",
		URL:       name,
		Status:    status,
	}

	durationRow := base
	durationRow.MetricName = schema.MetricReqDuration
	durationRow.MetricValue = duration

	failedRow := base
	failedRow.MetricName = schema.MetricReqFailed
	failedRow.MetricValue = failed

	waitingRow := base
	waitingRow.MetricName = schema.MetricReqWaiting
	waitingRow.MetricValue = duration * 0.8

	return []schema.RawRow{durationRow, failedRow, waitingRow}
}

func TestPivoter_GroupsOneRequestIntoOneRecord(t *testing.T) {
	t.Parallel()

	pivoter := ingest.NewPivoter(schema.NewCanonicalizer(nil))

	rows := requestRows(pivotTS, "home", "200", 120, 0)
	result := pivoter.Pivot(rows)

	require.Len(t, result.Records, 1)
	assert.Zero(t, result.InvalidGroups)

	record := result.Records[0]
	assert.Equal(t, "https://test.k6.io/", record.URL, "alias must canonicalize")
	assert.Equal(t, "GET", record.Method)
	assert.Equal(t, 200, record.StatusCode)
	assert.InDelta(t, 120.0, record.ResponseTimeMS, 1e-9)
	require.NotNil(t, record.Success)
	assert.True(t, *record.Success)
	require.NotNil(t, record.WaitingMS)
	assert.InDelta(t, 96.0, *record.WaitingMS, 1e-9)
	assert.Nil(t, record.BlockedMS, "metrics absent from the group stay nil")
}

func TestPivoter_UnknownAliasPassesThrough(t *testing.T) {
	t.Parallel()

	pivoter := ingest.NewPivoter(schema.NewCanonicalizer(nil))

	result := pivoter.Pivot(requestRows(pivotTS, "checkout", "200", 50, 0))

	require.Len(t, result.Records, 1)
	assert.Equal(t, "checkout", result.Records[0].URL)
}

func TestPivoter_AbsentFailedMetricLeavesSuccessNil(t *testing.T) {
	t.Parallel()

	pivoter := ingest.NewPivoter(schema.NewCanonicalizer(nil))

	rows := requestRows(pivotTS, "home", "200", 120, 0)[:1] // duration only
	result := pivoter.Pivot(rows)

	require.Len(t, result.Records, 1)
	assert.Nil(t, result.Records[0].Success)
}

func TestPivoter_FailedRequest(t *testing.T) {
	t.Parallel()

	pivoter := ingest.NewPivoter(schema.NewCanonicalizer(nil))

	result := pivoter.Pivot(requestRows(pivotTS, "home", "500", 500, 1))

	require.Len(t, result.Records, 1)

	record := result.Records[0]
	assert.Equal(t, 500, record.StatusCode)
	require.NotNil(t, record.Success)
	assert.False(t, *record.Success)
}

func TestPivoter_FirstMetricOccurrenceWins(t *testing.T) {
	t.Parallel()

	pivoter := ingest.NewPivoter(schema.NewCanonicalizer(nil))

	rows := requestRows(pivotTS, "home", "200", 120, 0)
	duplicate := rows[0]
	duplicate.MetricValue = 999
	rows = append(rows, duplicate)

	result := pivoter.Pivot(rows)

	require.Len(t, result.Records, 1)
	assert.InDelta(t, 120.0, result.Records[0].ResponseTimeMS, 1e-9)
}

func TestPivoter_SeparateRequestsStaySeparate(t *testing.T) {
	t.Parallel()

	pivoter := ingest.NewPivoter(schema.NewCanonicalizer(nil))

	rows := requestRows(pivotTS, "home", "200", 120, 0)
	rows = append(rows, requestRows(pivotTS.Add(time.Second), "home", "200", 80, 0)...)

	result := pivoter.Pivot(rows)

	require.Len(t, result.Records, 2)
	assert.InDelta(t, 120.0, result.Records[0].ResponseTimeMS, 1e-9)
	assert.InDelta(t, 80.0, result.Records[1].ResponseTimeMS, 1e-9)
}

func TestPivoter_NonNumericStatusCounted(t *testing.T) {
	t.Parallel()

	pivoter := ingest.NewPivoter(schema.NewCanonicalizer(nil))

	rows := requestRows(pivotTS, "home", "abc", 120, 0)
	result := pivoter.Pivot(rows)

	assert.Empty(t, result.Records)
	assert.Equal(t, 1, result.InvalidGroups)
}

func TestPivoter_NonNumericStatusDroppedWhenConfigured(t *testing.T) {
	t.Parallel()

	pivoter := ingest.NewPivoter(schema.NewCanonicalizer(nil))
	pivoter.DropInvalid = true

	result := pivoter.Pivot(requestRows(pivotTS, "home", "abc", 120, 0))

	assert.Empty(t, result.Records)
	assert.Zero(t, result.InvalidGroups)
}

func TestPivoter_EmptyBatch(t *testing.T) {
	t.Parallel()

	pivoter := ingest.NewPivoter(schema.NewCanonicalizer(nil))

	result := pivoter.Pivot(nil)

	assert.Empty(t, result.Records)
	assert.Zero(t, result.InvalidGroups)
}
