// Package ingest implements the streaming ingestion pipeline: chunked
// readers over line-delimited JSON and CSV load-test traces, and the
// pivot stage that folds per-metric raw rows into canonical request
// records. Peak memory is bounded by the configured chunk size.
package ingest

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Sumatoshi-tech/loadgauge/pkg/schema"
)

// Sentinel errors for reader construction and iteration.
var (
	ErrInputNotFound     = errors.New("input file not found")
	ErrUnsupportedFormat = errors.New("unsupported input format")
	ErrMissingColumns    = errors.New("csv header missing required columns")
)

// DefaultChunkSize is the default number of raw rows per batch.
const DefaultChunkSize = 50000

// Batch is one bounded slice of raw rows plus the count of lines that
// failed to parse while producing it.
type Batch struct {
	Rows        []schema.RawRow
	ParseErrors int
}

// ChunkReader yields successive batches of raw rows from an input file.
// Next returns (batch, true) until the input is exhausted, then
// (zero, false). Err reports the first fatal error encountered; per-line
// parse failures are not fatal and are surfaced through Batch.ParseErrors.
// Close releases the underlying file. Re-opening the file restarts the
// sequence.
type ChunkReader interface {
	Next() (Batch, bool)
	Err() error
	Close() error
}

// OpenReader selects a reader implementation by file extension
// (".json" or ".csv") and opens it with the given chunk size.
func OpenReader(path string, chunkSize int) (ChunkReader, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return OpenJSONReader(path, chunkSize)
	case ".csv":
		return OpenCSVReader(path, chunkSize)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}
