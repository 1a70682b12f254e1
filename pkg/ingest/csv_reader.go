package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/Sumatoshi-tech/loadgauge/pkg/schema"
)

// requiredColumns must all appear in the CSV header.
var requiredColumns = []string{
	"metric_name", "metric_value", "timestamp",
	"name", "method", "url", "status",
}

// CSVReader streams raw rows out of a CSV trace in chunks of at most
// chunkSize rows. Rows whose metric_name is outside the set of interest
// are dropped; rows with an unparseable value or timestamp count as parse
// failures on the batch.
type CSVReader struct {
	file      *os.File
	csv       *csv.Reader
	cols      map[string]int
	chunkSize int
	err       error
	done      bool
}

// OpenCSVReader opens path for chunked CSV reading and validates the
// header. A missing file is reported as ErrInputNotFound; a header
// missing required columns is ErrMissingColumns.
func OpenCSVReader(path string, chunkSize int) (*CSVReader, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrInputNotFound, path)
		}

		return nil, fmt.Errorf("open csv input: %w", err)
	}

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		closeErr := file.Close()

		return nil, errors.Join(fmt.Errorf("read csv header: %w", err), closeErr)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}

	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			closeErr := file.Close()

			return nil, errors.Join(fmt.Errorf("%w: %s", ErrMissingColumns, name), closeErr)
		}
	}

	return &CSVReader{
		file:      file,
		csv:       reader,
		cols:      cols,
		chunkSize: chunkSize,
	}, nil
}

// Next returns the next batch of raw rows, or (zero, false) at EOF.
func (r *CSVReader) Next() (Batch, bool) {
	if r.done || r.err != nil {
		return Batch{}, false
	}

	batch := Batch{Rows: make([]schema.RawRow, 0, r.chunkSize)}

	for {
		record, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			r.done = true

			break
		}

		if err != nil {
			// Ragged or malformed rows are per-row failures, not fatal.
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				batch.ParseErrors++

				continue
			}

			r.err = fmt.Errorf("read csv row: %w", err)

			return Batch{}, false
		}

		row, ok, rowErr := r.parseRecord(record)
		if rowErr != nil {
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

	if len(batch.Rows) > 0 || batch.ParseErrors > 0 {
		return batch, true
	}

	return Batch{}, false
}

// Err returns the first fatal error encountered during iteration.
func (r *CSVReader) Err() error {
	return r.err
}

// Close closes the underlying file.
func (r *CSVReader) Close() error {
	err := r.file.Close()
	if err != nil {
		return fmt.Errorf("close csv input: %w", err)
	}

	return nil
}

func (r *CSVReader) parseRecord(record []string) (schema.RawRow, bool, error) {
	field := func(name string) string {
		idx := r.cols[name]
		if idx >= len(record) {
			return ""
		}

		return record[idx]
	}

	metric := field("metric_name")
	if !schema.IsMetricOfInterest(metric) {
		return schema.RawRow{}, false, nil
	}

	value, err := strconv.ParseFloat(field("metric_value"), 64)
	if err != nil {
		return schema.RawRow{}, false, fmt.Errorf("parse metric_value: %w", err)
	}

	ts, err := parseCSVTimestamp(field("timestamp"))
	if err != nil {
		return schema.RawRow{}, false, err
	}

	return schema.RawRow{
		Timestamp:   ts,
		MetricName:  metric,
		MetricValue: value,
		Name:        field("name"),
		Method:      field("method"),
		URL:         field("url"),
		Status:      field("status"),
	}, true, nil
}

// parseCSVTimestamp accepts either an RFC 3339 instant or a Unix epoch
// in seconds, the two encodings the generator emits depending on version.
func parseCSVTimestamp(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts, nil
	}

	epoch, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}

	return time.Unix(epoch, 0).UTC(), nil
}
