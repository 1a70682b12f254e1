package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FileType is the raw trace format an ingestion job consumes.
type FileType string

const (
	FileTypeJSON FileType = "json"
	FileTypeCSV  FileType = "csv"
)

var (
	ErrUnknownFileType = errors.New("unknown file type")
	ErrRowCountSkew    = errors.New("rows ingested exceeds total rows")
)

// ParseFileType validates a raw file-type string.
func ParseFileType(raw string) (FileType, error) {
	switch FileType(raw) {
	case FileTypeJSON, FileTypeCSV:
		return FileType(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFileType, raw)
	}
}

// IngestionJob tracks one raw-trace ingestion run. Request records
// reference it through job_id and share its lifetime.
type IngestionJob struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	FileID          uuid.UUID  `db:"file_id" json:"file_id"`
	FileType        FileType   `db:"file_type" json:"file_type"`
	FileSizeMB      float64    `db:"file_size_mb" json:"file_size_mb"`
	Status          Status     `db:"status" json:"status"`
	RowsIngested    int64      `db:"rows_ingested" json:"rows_ingested"`
	TotalRows       int64      `db:"total_rows" json:"total_rows"`
	ProcessingError int64      `db:"processing_errors_count" json:"processing_errors_count"`
	StartedAt       *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinishedAt      *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	ErrorDetails    *string    `db:"error_details" json:"error_details,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// NewIngestionJob creates a pending ingestion job for an uploaded file.
func NewIngestionJob(fileID uuid.UUID, fileType FileType, fileSizeMB float64) *IngestionJob {
	return &IngestionJob{
		ID:         uuid.New(),
		FileID:     fileID,
		FileType:   fileType,
		FileSizeMB: fileSizeMB,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
}

// Start moves the ingestion job to in_progress.
func (j *IngestionJob) Start(now time.Time) error {
	if !j.Status.CanTransitionTo(StatusInProgress) {
		return fmt.Errorf("%w: %q to %q", ErrInvalidTransition, j.Status, StatusInProgress)
	}

	j.Status = StatusInProgress
	j.StartedAt = &now

	return nil
}

// Complete marks the ingestion job done. Completion requires the
// ingested count to match the total seen on the stream.
func (j *IngestionJob) Complete(now time.Time, rowsIngested, totalRows, processingErrors int64) error {
	if !j.Status.CanTransitionTo(StatusCompleted) {
		return fmt.Errorf("%w: %q to %q", ErrInvalidTransition, j.Status, StatusCompleted)
	}

	if rowsIngested != totalRows {
		return fmt.Errorf("%w: ingested %d of %d", ErrRowCountSkew, rowsIngested, totalRows)
	}

	j.Status = StatusCompleted
	j.RowsIngested = rowsIngested
	j.TotalRows = totalRows
	j.ProcessingError = processingErrors
	j.FinishedAt = &now

	return nil
}

// Fail marks the ingestion job failed with error text. Partial counts
// are kept for diagnostics. A stream that died before its length was
// known raises total_rows to the ingested count, so rows_ingested never
// exceeds total_rows on a persisted row.
func (j *IngestionJob) Fail(now time.Time, details string, rowsIngested, totalRows int64) error {
	if !j.Status.CanTransitionTo(StatusFailed) {
		return fmt.Errorf("%w: %q to %q", ErrInvalidTransition, j.Status, StatusFailed)
	}

	if totalRows < rowsIngested {
		totalRows = rowsIngested
	}

	j.Status = StatusFailed
	j.RowsIngested = rowsIngested
	j.TotalRows = totalRows
	j.FinishedAt = &now
	j.ErrorDetails = &details

	return nil
}

// Progress reports ingestion completion in [0, 1]. Zero when no rows
// have been announced yet.
func (j *IngestionJob) Progress() float64 {
	if j.TotalRows <= 0 {
		return 0
	}

	return float64(j.RowsIngested) / float64(j.TotalRows)
}
