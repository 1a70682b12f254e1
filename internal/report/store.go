package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const (
	reportFileMode = 0o600
	reportDirMode  = 0o750
)

// ErrReportMissing is returned when a report id has no file on disk.
var ErrReportMissing = errors.New("report not found")

// Generated describes one report written to disk.
type Generated struct {
	ReportID              uuid.UUID `json:"report_id"`
	ReportPath            string    `json:"report_path"`
	IngestionJobID        uuid.UUID `json:"ingestion_job_id"`
	GeneratedAt           time.Time `json:"generated_at"`
	ProcessingTimeSeconds float64   `json:"processing_time_seconds"`
}

// Store keeps rendered reports on disk, one HTML file per report id.
type Store struct {
	dir string
}

// NewStore creates the report directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, reportDirMode); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}

	return &Store{dir: dir}, nil
}

// Path returns the on-disk location for a report id.
func (s *Store) Path(id uuid.UUID) string {
	return filepath.Join(s.dir, id.String()+".html")
}

// Open returns the stored report file for serving.
func (s *Store) Open(id uuid.UUID) (*os.File, error) {
	f, err := os.Open(s.Path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("report %s: %w", id, ErrReportMissing)
		}

		return nil, fmt.Errorf("open report: %w", err)
	}

	return f, nil
}

// Generate renders the report for an ingestion job and persists it
// under a fresh report id.
func (b *Builder) Generate(ctx context.Context, ingestionJobID uuid.UUID, files *Store) (*Generated, error) {
	start := time.Now()

	var buf bytes.Buffer

	if err := b.Render(ctx, ingestionJobID, &buf); err != nil {
		return nil, err
	}

	id := uuid.New()
	path := files.Path(id)

	if writeErr := os.WriteFile(path, buf.Bytes(), reportFileMode); writeErr != nil {
		return nil, fmt.Errorf("write report file: %w", writeErr)
	}

	return &Generated{
		ReportID:              id,
		ReportPath:            path,
		IngestionJobID:        ingestionJobID,
		GeneratedAt:           time.Now().UTC(),
		ProcessingTimeSeconds: time.Since(start).Seconds(),
	}, nil
}
