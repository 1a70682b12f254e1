package ingest_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/loadgauge/pkg/ingest"
	"github.com/Sumatoshi-tech/loadgauge/pkg/schema"
)

const (
	// testChunkSize forces multiple batches from small fixtures.
	testChunkSize = 3
)

// pointLine renders one NDJSON Point line in the generator's format.
func pointLine(metric, ts string, value float64, name, status string) string {
	return fmt.Sprintf(
		`{"type":"Point","metric":%q,"data":{"time":%q,"value":%v,"tags":{"name":%q,"method":"GET","url":%q,"status":%q}}}`,
		metric, ts, value, name, name, status,
	)
}

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestJSONReader_PointFiltering(t *testing.T) {
	t.Parallel()

	lines := []string{
		pointLine(schema.MetricReqDuration, "2024-01-01T00:00:00Z", 120, "home", "200"),
		`{"type":"Metric","metric":"http_req_duration","data":{}}`,
		pointLine("iteration_duration", "2024-01-01T00:00:00Z", 500, "home", "200"),
		pointLine(schema.MetricReqFailed, "2024-01-01T00:00:00Z", 0, "home", "200"),
	}

	path := writeFixture(t, "trace.json", strings.Join(lines, "\n"))

	reader, err := ingest.OpenJSONReader(path, ingest.DefaultChunkSize)
	require.NoError(t, err)

	defer func() { require.NoError(t, reader.Close()) }()

	batch, ok := reader.Next()
	require.True(t, ok)
	require.Len(t, batch.Rows, 2, "only Point lines with metrics of interest survive")
	assert.Zero(t, batch.ParseErrors)

	assert.Equal(t, schema.MetricReqDuration, batch.Rows[0].MetricName)
	assert.InDelta(t, 120.0, batch.Rows[0].MetricValue, 1e-9)
	assert.Equal(t, "home", batch.Rows[0].URL)
	assert.Equal(t, "200", batch.Rows[0].Status)

	_, ok = reader.Next()
	assert.False(t, ok)
	assert.NoError(t, reader.Err())
}

func TestJSONReader_MalformedLineCountedNotFatal(t *testing.T) {
	t.Parallel()

	lines := []string{
		pointLine(schema.MetricReqDuration, "2024-01-01T00:00:00Z", 10, "home", "200"),
		`{this is not json`,
		pointLine(schema.MetricReqDuration, "2024-01-01T00:00:01Z", 20, "home", "200"),
	}

	path := writeFixture(t, "trace.json", strings.Join(lines, "\n"))

	reader, err := ingest.OpenJSONReader(path, ingest.DefaultChunkSize)
	require.NoError(t, err)

	defer func() { require.NoError(t, reader.Close()) }()

	batch, ok := reader.Next()
	require.True(t, ok)
	assert.Len(t, batch.Rows, 2)
	assert.Equal(t, 1, batch.ParseErrors)
	assert.NoError(t, reader.Err())
}

func TestJSONReader_ChunkBoundaries(t *testing.T) {
	t.Parallel()

	var lines []string
	for i := range 7 {
		lines = append(lines, pointLine(
			schema.MetricReqDuration,
			fmt.Sprintf("2024-01-01T00:00:%02dZ", i),
			float64(i), "home", "200",
		))
	}

	path := writeFixture(t, "trace.json", strings.Join(lines, "\n"))

	reader, err := ingest.OpenJSONReader(path, testChunkSize)
	require.NoError(t, err)

	defer func() { require.NoError(t, reader.Close()) }()

	var sizes []int

	for {
		batch, ok := reader.Next()
		if !ok {
			break
		}

		sizes = append(sizes, len(batch.Rows))
	}

	require.NoError(t, reader.Err())
	assert.Equal(t, []int{3, 3, 1}, sizes, "full chunks then the partial tail")
}

func TestJSONReader_EmptyFile(t *testing.T) {
	t.Parallel()

	path := writeFixture(t, "empty.json", "")

	reader, err := ingest.OpenJSONReader(path, testChunkSize)
	require.NoError(t, err)

	defer func() { require.NoError(t, reader.Close()) }()

	_, ok := reader.Next()
	assert.False(t, ok)
	assert.NoError(t, reader.Err())
}

func TestOpenReader_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := ingest.OpenJSONReader(filepath.Join(t.TempDir(), "nope.json"), testChunkSize)
	require.ErrorIs(t, err, ingest.ErrInputNotFound)
}

func TestOpenReader_UnsupportedExtension(t *testing.T) {
	t.Parallel()

	_, err := ingest.OpenReader("results.parquet", testChunkSize)
	require.ErrorIs(t, err, ingest.ErrUnsupportedFormat)
}
