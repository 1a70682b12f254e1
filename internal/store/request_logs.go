package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Sumatoshi-tech/loadgauge/internal/jobs"
	"github.com/Sumatoshi-tech/loadgauge/pkg/schema"
)

// RequestLogStore writes pivoted records. Batches land in a staging
// table tagged with their job id; a single transactional promotion
// moves them into request_logs, so metrics readers see all-or-nothing
// results per job.
type RequestLogStore struct {
	conn *sqlx.DB
}

// requestLogRow mirrors the request_logs columns.
type requestLogRow struct {
	JobID          uuid.UUID `db:"job_id"`
	Timestamp      time.Time `db:"timestamp"`
	URL            string    `db:"url"`
	Method         string    `db:"method"`
	StatusCode     int       `db:"status_code"`
	Success        *bool     `db:"success"`
	ResponseTimeMS float64   `db:"response_time_ms"`
	BlockedMS      *float64  `db:"blocked_ms"`
	ConnectingMS   *float64  `db:"connecting_ms"`
	ReceivingMS    *float64  `db:"receiving_ms"`
	SendingMS      *float64  `db:"sending_ms"`
	TLSHandshakeMS *float64  `db:"tls_handshake_ms"`
	WaitingMS      *float64  `db:"waiting_ms"`
}

const insertStagingQuery = `
	INSERT INTO request_logs_staging (
		job_id, "timestamp", url, method, status_code, success,
		response_time_ms, blocked_ms, connecting_ms, receiving_ms,
		sending_ms, tls_handshake_ms, waiting_ms
	) VALUES (
		:job_id, :timestamp, :url, :method, :status_code, :success,
		:response_time_ms, :blocked_ms, :connecting_ms, :receiving_ms,
		:sending_ms, :tls_handshake_ms, :waiting_ms
	)`

// StageBatch inserts one pivoted batch into the staging table with a
// single batched statement. Empty batches are a no-op.
func (s *RequestLogStore) StageBatch(ctx context.Context, jobID uuid.UUID, records []schema.Record) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]requestLogRow, 0, len(records))
	for _, record := range records {
		rows = append(rows, requestLogRow{
			JobID:          jobID,
			Timestamp:      record.Timestamp.UTC(),
			URL:            record.URL,
			Method:         record.Method,
			StatusCode:     record.StatusCode,
			Success:        record.Success,
			ResponseTimeMS: record.ResponseTimeMS,
			BlockedMS:      record.BlockedMS,
			ConnectingMS:   record.ConnectingMS,
			ReceivingMS:    record.ReceivingMS,
			SendingMS:      record.SendingMS,
			TLSHandshakeMS: record.TLSHandshakeMS,
			WaitingMS:      record.WaitingMS,
		})
	}

	if _, err := s.conn.NamedExecContext(ctx, insertStagingQuery, rows); err != nil {
		return fmt.Errorf("stage request logs: %w", err)
	}

	return nil
}

const promoteQuery = `
	INSERT INTO request_logs (
		job_id, "timestamp", url, method, status_code, success,
		response_time_ms, blocked_ms, connecting_ms, receiving_ms,
		sending_ms, tls_handshake_ms, waiting_ms
	)
	SELECT
		job_id, "timestamp", url, method, status_code, success,
		response_time_ms, blocked_ms, connecting_ms, receiving_ms,
		sending_ms, tls_handshake_ms, waiting_ms
	FROM request_logs_staging
	WHERE job_id = $1`

const purgeStagingQuery = `DELETE FROM request_logs_staging WHERE job_id = $1`

// Promote moves a job's staging rows into request_logs, clears the
// staging rows, and writes the terminal ingestion-job state, all in one
// transaction. The job must already carry its completed fields.
func (s *RequestLogStore) Promote(ctx context.Context, job *jobs.IngestionJob) error {
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin promote: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx, promoteQuery, job.ID); err != nil {
		return fmt.Errorf("promote staging rows: %w", err)
	}

	if _, err = tx.ExecContext(ctx, purgeStagingQuery, job.ID); err != nil {
		return fmt.Errorf("purge staging rows: %w", err)
	}

	if _, err = tx.NamedExecContext(ctx, updateIngestionJobQuery, job); err != nil {
		return fmt.Errorf("finalize ingestion job: %w", err)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("commit promote: %w", commitErr)
	}

	return nil
}

// Abort discards a job's staging rows and writes the failed
// ingestion-job state in one transaction. Promoted rows are untouched.
func (s *RequestLogStore) Abort(ctx context.Context, job *jobs.IngestionJob) error {
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin abort: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx, purgeStagingQuery, job.ID); err != nil {
		return fmt.Errorf("purge staging rows: %w", err)
	}

	if _, err = tx.NamedExecContext(ctx, updateIngestionJobQuery, job); err != nil {
		return fmt.Errorf("finalize ingestion job: %w", err)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("commit abort: %w", commitErr)
	}

	return nil
}

// PurgeStaging deletes a job's staging rows outside the promote and
// abort transactions. Leftovers from a crashed attempt would otherwise
// promote alongside the next run's rows.
func (s *RequestLogStore) PurgeStaging(ctx context.Context, jobID uuid.UUID) error {
	if _, err := s.conn.ExecContext(ctx, purgeStagingQuery, jobID); err != nil {
		return fmt.Errorf("purge staging rows: %w", err)
	}

	return nil
}

// PurgePromoted deletes a job's promoted rows. Used before a retry so
// the re-run starts from a clean slate.
func (s *RequestLogStore) PurgePromoted(ctx context.Context, jobID uuid.UUID) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM request_logs WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("purge promoted rows: %w", err)
	}

	return nil
}

// CountPromoted returns the number of promoted rows for a job.
func (s *RequestLogStore) CountPromoted(ctx context.Context, jobID uuid.UUID) (int64, error) {
	var count int64

	err := s.conn.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM request_logs WHERE job_id = $1`, jobID)
	if err != nil {
		return 0, fmt.Errorf("count promoted rows: %w", err)
	}

	return count, nil
}
