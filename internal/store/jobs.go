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

var (
	// ErrNotFound is returned when a row lookup matches nothing.
	ErrNotFound = errors.New("not found")

	// ErrStatusConflict is returned when a compare-and-set status
	// update loses the race to a concurrent writer.
	ErrStatusConflict = errors.New("job status changed concurrently")
)

// JobStore persists orchestration jobs.
type JobStore struct {
	conn *sqlx.DB
}

const insertJobQuery = `
	INSERT INTO jobs (
		id, kind, status, file_id, report_id, ingestion_job_id,
		input, result, error_details, retry_count, can_retry,
		created_at, started_at, finished_at
	) VALUES (
		:id, :kind, :status, :file_id, :report_id, :ingestion_job_id,
		:input, :result, :error_details, :retry_count, :can_retry,
		:created_at, :started_at, :finished_at
	)`

// Create inserts a new job row.
func (s *JobStore) Create(ctx context.Context, job *jobs.Job) error {
	if _, err := s.conn.NamedExecContext(ctx, insertJobQuery, job); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	return nil
}

// Get loads a job by id.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	var job jobs.Job

	err := s.conn.GetContext(ctx, &job, `SELECT * FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	return &job, nil
}

const updateJobStatusQuery = `
	UPDATE jobs SET
		status = :status,
		result = :result,
		error_details = :error_details,
		retry_count = :retry_count,
		started_at = :started_at,
		finished_at = :finished_at
	WHERE id = :id AND status = :prev_status`

// jobStatusUpdate binds the compare-and-set predicate alongside the
// job's own columns.
type jobStatusUpdate struct {
	jobs.Job
	PrevStatus jobs.Status `db:"prev_status"`
}

// UpdateStatus writes the job's lifecycle fields in one statement,
// guarded by a compare-and-set on the status the caller transitioned
// from. Two workers holding the same redelivered task race here; the
// loser sees ErrStatusConflict instead of overwriting the winner.
func (s *JobStore) UpdateStatus(ctx context.Context, job *jobs.Job, from jobs.Status) error {
	result, err := s.conn.NamedExecContext(ctx, updateJobStatusQuery,
		jobStatusUpdate{Job: *job, PrevStatus: from})
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("job %s: %w", job.ID, ErrStatusConflict)
	}

	return nil
}

// ListByFile returns jobs referencing a file, newest first.
func (s *JobStore) ListByFile(ctx context.Context, fileID uuid.UUID) ([]jobs.Job, error) {
	var result []jobs.Job

	err := s.conn.SelectContext(ctx, &result,
		`SELECT * FROM jobs WHERE file_id = $1 ORDER BY created_at DESC`, fileID)
	if err != nil {
		return nil, fmt.Errorf("list jobs by file: %w", err)
	}

	return result, nil
}

// ListByReport returns jobs referencing a report, newest first.
func (s *JobStore) ListByReport(ctx context.Context, reportID uuid.UUID) ([]jobs.Job, error) {
	var result []jobs.Job

	err := s.conn.SelectContext(ctx, &result,
		`SELECT * FROM jobs WHERE report_id = $1 ORDER BY created_at DESC`, reportID)
	if err != nil {
		return nil, fmt.Errorf("list jobs by report: %w", err)
	}

	return result, nil
}
