package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Sumatoshi-tech/loadgauge/internal/jobs"
)

// IngestionJobStore persists ingestion jobs.
type IngestionJobStore struct {
	conn *sqlx.DB
}

const insertIngestionJobQuery = `
	INSERT INTO ingestion_jobs (
		id, file_id, file_type, file_size_mb, status,
		rows_ingested, total_rows, processing_errors_count,
		started_at, finished_at, error_details, created_at
	) VALUES (
		:id, :file_id, :file_type, :file_size_mb, :status,
		:rows_ingested, :total_rows, :processing_errors_count,
		:started_at, :finished_at, :error_details, :created_at
	)`

// Create inserts a new ingestion-job row.
func (s *IngestionJobStore) Create(ctx context.Context, job *jobs.IngestionJob) error {
	if _, err := s.conn.NamedExecContext(ctx, insertIngestionJobQuery, job); err != nil {
		return fmt.Errorf("insert ingestion job: %w", err)
	}

	return nil
}

// Get loads an ingestion job by id.
func (s *IngestionJobStore) Get(ctx context.Context, id uuid.UUID) (*jobs.IngestionJob, error) {
	var job jobs.IngestionJob

	err := s.conn.GetContext(ctx, &job, `SELECT * FROM ingestion_jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ingestion job %s: %w", id, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("get ingestion job: %w", err)
	}

	return &job, nil
}

const updateIngestionJobQuery = `
	UPDATE ingestion_jobs SET
		status = :status,
		rows_ingested = :rows_ingested,
		total_rows = :total_rows,
		processing_errors_count = :processing_errors_count,
		started_at = :started_at,
		finished_at = :finished_at,
		error_details = :error_details
	WHERE id = :id`

// Update writes the ingestion job's mutable fields.
func (s *IngestionJobStore) Update(ctx context.Context, job *jobs.IngestionJob) error {
	result, err := s.conn.NamedExecContext(ctx, updateIngestionJobQuery, job)
	if err != nil {
		return fmt.Errorf("update ingestion job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ingestion job: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("ingestion job %s: %w", job.ID, ErrNotFound)
	}

	return nil
}

// UpdateProgress writes the running row count so the status endpoint
// can report progress while the stream is still being consumed.
func (s *IngestionJobStore) UpdateProgress(ctx context.Context, id uuid.UUID, rowsIngested int64) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE ingestion_jobs SET rows_ingested = $1 WHERE id = $2`, rowsIngested, id)
	if err != nil {
		return fmt.Errorf("update ingestion progress: %w", err)
	}

	return nil
}

// ListByFile returns ingestion jobs for a file, newest first.
func (s *IngestionJobStore) ListByFile(ctx context.Context, fileID uuid.UUID) ([]jobs.IngestionJob, error) {
	var result []jobs.IngestionJob

	err := s.conn.SelectContext(ctx, &result,
		`SELECT * FROM ingestion_jobs WHERE file_id = $1 ORDER BY created_at DESC`, fileID)
	if err != nil {
		return nil, fmt.Errorf("list ingestion jobs by file: %w", err)
	}

	return result, nil
}
