// Package jobs defines the durable job records and the typed state
// machine that governs them. Jobs are created by the HTTP layer, driven
// through their lifecycle by exactly one worker, and never deleted.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what a job does when a worker picks it up.
type Kind string

const (
	KindIngestion Kind = "ingestion"
	KindAnalysis  Kind = "analysis"
	KindQA        Kind = "qa"
)

// Status is the job lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var (
	ErrUnknownKind       = errors.New("unknown job kind")
	ErrUnknownStatus     = errors.New("unknown job status")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotRetryable      = errors.New("job is not retryable")
)

// ParseKind validates a raw kind string.
func ParseKind(raw string) (Kind, error) {
	switch Kind(raw) {
	case KindIngestion, KindAnalysis, KindQA:
		return Kind(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return Status(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
}

// Terminal reports whether the status forbids further transitions
// other than an explicit retry.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether the state machine permits moving from
// s to next. Retry (failed back to pending) is included here; callers
// enforce the retry preconditions separately.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusCompleted || next == StatusFailed
	case StatusFailed:
		return next == StatusPending
	default:
		return false
	}
}

// Job is the orchestration record. Optional references and timestamps
// are pointers so absent values survive a database round trip as NULL.
type Job struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	Kind           Kind            `db:"kind" json:"kind"`
	Status         Status          `db:"status" json:"status"`
	FileID         *uuid.UUID      `db:"file_id" json:"file_id,omitempty"`
	ReportID       *uuid.UUID      `db:"report_id" json:"report_id,omitempty"`
	IngestionJobID *uuid.UUID      `db:"ingestion_job_id" json:"ingestion_job_id,omitempty"`
	Input          json.RawMessage `db:"input" json:"input,omitempty"`
	Result         json.RawMessage `db:"result" json:"result,omitempty"`
	ErrorDetails   *string         `db:"error_details" json:"error_details,omitempty"`
	RetryCount     int             `db:"retry_count" json:"retry_count"`
	CanRetry       bool            `db:"can_retry" json:"can_retry"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	StartedAt      *time.Time      `db:"started_at" json:"started_at,omitempty"`
	FinishedAt     *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
}

// New creates a pending job of the given kind.
func New(kind Kind) *Job {
	return &Job{
		ID:        uuid.New(),
		Kind:      kind,
		Status:    StatusPending,
		CanRetry:  true,
		CreatedAt: time.Now().UTC(),
	}
}

// Start moves the job to in_progress and stamps started_at.
func (j *Job) Start(now time.Time) error {
	if err := j.transition(StatusInProgress); err != nil {
		return err
	}

	j.StartedAt = &now

	return nil
}

// Complete moves the job to completed with its result blob.
func (j *Job) Complete(now time.Time, result json.RawMessage) error {
	if err := j.transition(StatusCompleted); err != nil {
		return err
	}

	j.FinishedAt = &now
	j.Result = result

	return nil
}

// Fail moves the job to failed and records the error text.
func (j *Job) Fail(now time.Time, details string) error {
	if err := j.transition(StatusFailed); err != nil {
		return err
	}

	j.FinishedAt = &now
	j.ErrorDetails = &details

	return nil
}

// Retry moves a failed job back to pending. It requires can_retry
// unless force is set, increments the retry counter, and clears the
// previous attempt's timestamps and error text.
func (j *Job) Retry(force bool) error {
	if j.Status != StatusFailed {
		return fmt.Errorf("%w: cannot retry from %q", ErrInvalidTransition, j.Status)
	}

	if !j.CanRetry && !force {
		return ErrNotRetryable
	}

	j.Status = StatusPending
	j.RetryCount++
	j.StartedAt = nil
	j.FinishedAt = nil
	j.ErrorDetails = nil

	return nil
}

func (j *Job) transition(next Status) error {
	if !j.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %q to %q", ErrInvalidTransition, j.Status, next)
	}

	j.Status = next

	return nil
}
