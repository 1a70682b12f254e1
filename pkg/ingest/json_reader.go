package ingest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/Sumatoshi-tech/loadgauge/pkg/schema"
)

// pointType is the only line type that carries a measurement; other line
// types (Metric declarations) are skipped without counting as errors.
const pointType = "Point"

// maxLineBytes caps a single NDJSON line. Lines beyond this are parse
// failures, not fatal errors.
const maxLineBytes = 1 << 20

// jsonLine mirrors one line of the generator's NDJSON output.
type jsonLine struct {
	Type   string `json:"type"`
	Metric string `json:"metric"`
	Data   struct {
		Time  string   `json:"time"`
		Value float64  `json:"value"`
		Tags  jsonTags `json:"tags"`
	} `json:"data"`
}

type jsonTags struct {
	Name   string `json:"name"`
	Method string `json:"method"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

// JSONReader streams raw rows out of a line-delimited JSON trace.
// Peak heap is O(chunkSize): one batch buffer plus one line buffer.
type JSONReader struct {
	file      *os.File
	scanner   *bufio.Scanner
	chunkSize int
	err       error
	done      bool
}

// OpenJSONReader opens path for chunked NDJSON reading. A missing file is
// reported as ErrInputNotFound. Non-positive chunk sizes fall back to
// DefaultChunkSize.
func OpenJSONReader(path string, chunkSize int) (*JSONReader, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrInputNotFound, path)
		}

		return nil, fmt.Errorf("open json input: %w", err)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineBytes)

	return &JSONReader{
		file:      file,
		scanner:   scanner,
		chunkSize: chunkSize,
	}, nil
}

// Next returns the next batch of raw rows, or (zero, false) at EOF.
// Lines that fail to parse, are not Point lines, or carry metrics outside
// the set of interest never abort the scan; parse failures are counted on
// the batch.
func (r *JSONReader) Next() (Batch, bool) {
	if r.done || r.err != nil {
		return Batch{}, false
	}

	batch := Batch{Rows: make([]schema.RawRow, 0, r.chunkSize)}

	for r.scanner.Scan() {
		row, ok, parseErr := parseLine(r.scanner.Bytes())
		if parseErr != nil {
			batch.ParseErrors++

			continue
		}

		if !ok {
			continue
		}

		batch.Rows = append(batch.Rows, row)
		if len(batch.Rows) == r.chunkSize {
			return batch, true
		}
	}

	r.done = true

	if scanErr := r.scanner.Err(); scanErr != nil {
		r.err = fmt.Errorf("scan json input: %w", scanErr)

		return Batch{}, false
	}

	// Partial tail batch, or an empty final batch with trailing parse errors.
	if len(batch.Rows) > 0 || batch.ParseErrors > 0 {
		return batch, true
	}

	return Batch{}, false
}

// Err returns the first fatal error encountered during iteration.
func (r *JSONReader) Err() error {
	return r.err
}

// Close closes the underlying file.
func (r *JSONReader) Close() error {
	err := r.file.Close()
	if err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("close json input: %w", err)
	}

	return nil
}

// parseLine decodes one NDJSON line. Returns (row, true, nil) for an
// accepted Point line, (zero, false, nil) for a skipped line, and a
// non-nil error for malformed JSON or an unparseable timestamp.
func parseLine(raw []byte) (schema.RawRow, bool, error) {
	var line jsonLine

	err := json.Unmarshal(raw, &line)
	if err != nil {
		return schema.RawRow{}, false, fmt.Errorf("decode line: %w", err)
	}

	if line.Type != pointType || !schema.IsMetricOfInterest(line.Metric) {
		return schema.RawRow{}, false, nil
	}

	ts, err := time.Parse(time.RFC3339Nano, line.Data.Time)
	if err != nil {
		return schema.RawRow{}, false, fmt.Errorf("parse timestamp: %w", err)
	}

	return schema.RawRow{
		Timestamp:   ts,
		MetricName:  line.Metric,
		MetricValue: line.Data.Value,
		Name:        line.Data.Tags.Name,
		Method:      line.Data.Tags.Method,
		URL:         line.Data.Tags.URL,
		Status:      line.Data.Tags.Status,
	}, true, nil
}
