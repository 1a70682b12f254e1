package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Sumatoshi-tech/loadgauge/internal/jobs"
	"github.com/Sumatoshi-tech/loadgauge/internal/queue"
	"github.com/Sumatoshi-tech/loadgauge/internal/upload"
)

const uploadMemoryLimit = 32 << 20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		s.respondError(w, http.StatusBadRequest, "expected multipart form: "+err.Error())

		return
	}

	if metaErr := upload.ValidateMetadata([]byte(r.FormValue("metadata"))); metaErr != nil {
		s.respondError(w, http.StatusUnprocessableEntity, metaErr.Error())

		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "missing file field")

		return
	}
	defer func() { _ = file.Close() }()

	meta, saveErr := s.uploads.Save(header.Filename, file)
	if saveErr != nil {
		s.respondUploadError(w, saveErr)

		return
	}

	s.logger.Info("file uploaded",
		slog.String("file_id", meta.ID.String()),
		slog.String("file_type", string(meta.FileType)),
		slog.Float64("size_mb", meta.SizeMB))

	s.respond(w, http.StatusCreated, meta)
}

func (s *Server) respondUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, upload.ErrFileTooLarge):
		s.respondError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, upload.ErrEmptyFile), errors.Is(err, upload.ErrUnsupportedType):
		s.respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("save upload", slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

type createIngestionRequest struct {
	FileID   uuid.UUID       `json:"file_id"`
	FileType string          `json:"file_type"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type createIngestionResponse struct {
	Job          *jobs.Job          `json:"job"`
	IngestionJob *jobs.IngestionJob `json:"ingestion_job"`
}

func (s *Server) handleCreateIngestion(w http.ResponseWriter, r *http.Request) {
	var req createIngestionRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())

		return
	}

	if req.FileID == uuid.Nil {
		s.respondError(w, http.StatusBadRequest, "file_id is required")

		return
	}

	fileType, err := jobs.ParseFileType(req.FileType)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())

		return
	}

	if len(req.Metadata) > 0 {
		if metaErr := upload.ValidateMetadata(req.Metadata); metaErr != nil {
			s.respondError(w, http.StatusUnprocessableEntity, metaErr.Error())

			return
		}
	}

	sizeMB, sizeErr := s.uploads.SizeMB(req.FileID, fileType)
	if sizeErr != nil {
		if errors.Is(sizeErr, upload.ErrFileMissing) {
			s.respondError(w, http.StatusNotFound, sizeErr.Error())

			return
		}

		s.logger.Error("stat upload", slog.Any("error", sizeErr))
		s.respondError(w, http.StatusInternalServerError, "internal error")

		return
	}

	ctx := r.Context()

	ingJob := jobs.NewIngestionJob(req.FileID, fileType, sizeMB)
	if createErr := s.db.IngestionJobs().Create(ctx, ingJob); createErr != nil {
		s.respondStoreError(w, createErr)

		return
	}

	input, marshalErr := json.Marshal(req)
	if marshalErr != nil {
		s.respondError(w, http.StatusInternalServerError, "internal error")

		return
	}

	job := jobs.New(jobs.KindIngestion)
	job.FileID = &req.FileID
	job.IngestionJobID = &ingJob.ID
	job.Input = input

	if createErr := s.db.Jobs().Create(ctx, job); createErr != nil {
		s.respondStoreError(w, createErr)

		return
	}

	if !s.enqueue(w, r, job) {
		return
	}

	s.respond(w, http.StatusAccepted, createIngestionResponse{Job: job, IngestionJob: ingJob})
}

type ingestionStatusResponse struct {
	*jobs.IngestionJob

	Progress float64 `json:"progress"`
}

func (s *Server) handleGetIngestion(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamUUID(r, "id")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())

		return
	}

	ingJob, getErr := s.db.IngestionJobs().Get(r.Context(), id)
	if getErr != nil {
		s.respondStoreError(w, getErr)

		return
	}

	s.respond(w, http.StatusOK, ingestionStatusResponse{
		IngestionJob: ingJob,
		Progress:     ingJob.Progress(),
	})
}

type createAnalysisRequest struct {
	IngestionJobID uuid.UUID  `json:"ingestion_job_id"`
	ReportID       *uuid.UUID `json:"report_id,omitempty"`
	Question       string     `json:"question,omitempty"`
}

// minQuestionLen keeps throwaway QA submissions out of the queue.
const minQuestionLen = 5

func (s *Server) handleCreateAnalysis(w http.ResponseWriter, r *http.Request) {
	s.createDerivedJob(w, r, jobs.KindAnalysis, false)
}

func (s *Server) handleCreateQA(w http.ResponseWriter, r *http.Request) {
	s.createDerivedJob(w, r, jobs.KindQA, true)
}

// createDerivedJob creates an analysis or QA job referencing a finished
// ingestion run.
func (s *Server) createDerivedJob(w http.ResponseWriter, r *http.Request, kind jobs.Kind, needQuestion bool) {
	var req createAnalysisRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())

		return
	}

	if req.IngestionJobID == uuid.Nil {
		s.respondError(w, http.StatusBadRequest, "ingestion_job_id is required")

		return
	}

	if needQuestion && len(strings.TrimSpace(req.Question)) < minQuestionLen {
		s.respondError(w, http.StatusBadRequest, "question must be at least 5 characters")

		return
	}

	ctx := r.Context()

	if _, getErr := s.db.IngestionJobs().Get(ctx, req.IngestionJobID); getErr != nil {
		s.respondStoreError(w, getErr)

		return
	}

	input, marshalErr := json.Marshal(req)
	if marshalErr != nil {
		s.respondError(w, http.StatusInternalServerError, "internal error")

		return
	}

	job := jobs.New(kind)
	job.IngestionJobID = &req.IngestionJobID
	job.ReportID = req.ReportID
	job.Input = input

	if createErr := s.db.Jobs().Create(ctx, job); createErr != nil {
		s.respondStoreError(w, createErr)

		return
	}

	if !s.enqueue(w, r, job) {
		return
	}

	s.respond(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamUUID(r, "id")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())

		return
	}

	job, getErr := s.db.Jobs().Get(r.Context(), id)
	if getErr != nil {
		s.respondStoreError(w, getErr)

		return
	}

	s.respond(w, http.StatusOK, job)
}

type jobListResponse struct {
	Jobs  []jobs.Job `json:"jobs"`
	Count int        `json:"count"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	fileID := r.URL.Query().Get("file_id")
	reportID := r.URL.Query().Get("report_id")

	var statusFilter jobs.Status

	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, parseErr := jobs.ParseStatus(raw)
		if parseErr != nil {
			s.respondError(w, http.StatusBadRequest, parseErr.Error())

			return
		}

		statusFilter = parsed
	}

	var (
		list []jobs.Job
		err  error
	)

	switch {
	case fileID != "" && reportID == "":
		id, parseErr := uuid.Parse(fileID)
		if parseErr != nil {
			s.respondError(w, http.StatusBadRequest, "invalid file_id")

			return
		}

		list, err = s.db.Jobs().ListByFile(r.Context(), id)
	case reportID != "" && fileID == "":
		id, parseErr := uuid.Parse(reportID)
		if parseErr != nil {
			s.respondError(w, http.StatusBadRequest, "invalid report_id")

			return
		}

		list, err = s.db.Jobs().ListByReport(r.Context(), id)
	default:
		s.respondError(w, http.StatusBadRequest, "exactly one of file_id or report_id is required")

		return
	}

	if err != nil {
		s.respondStoreError(w, err)

		return
	}

	if statusFilter != "" {
		filtered := list[:0]

		for _, job := range list {
			if job.Status == statusFilter {
				filtered = append(filtered, job)
			}
		}

		list = filtered
	}

	s.respond(w, http.StatusOK, jobListResponse{Jobs: list, Count: len(list)})
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamUUID(r, "id")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())

		return
	}

	ctx := r.Context()
	force := r.URL.Query().Get("force") == "true"

	job, getErr := s.db.Jobs().Get(ctx, id)
	if getErr != nil {
		s.respondStoreError(w, getErr)

		return
	}

	prev := job.Status

	if retryErr := job.Retry(force); retryErr != nil {
		s.respondError(w, http.StatusConflict, retryErr.Error())

		return
	}

	// A retried ingestion starts over, so promoted rows from the failed
	// attempt must not double count.
	if job.Kind == jobs.KindIngestion && job.IngestionJobID != nil {
		if resetErr := s.resetIngestion(r, *job.IngestionJobID); resetErr != nil {
			s.respondStoreError(w, resetErr)

			return
		}
	}

	if updateErr := s.db.Jobs().UpdateStatus(ctx, job, prev); updateErr != nil {
		s.respondStoreError(w, updateErr)

		return
	}

	if !s.enqueue(w, r, job) {
		return
	}

	s.logger.Info("job retried",
		slog.String("job_id", job.ID.String()),
		slog.Int("retry_count", job.RetryCount),
		slog.Bool("force", force))

	s.respond(w, http.StatusAccepted, job)
}

func (s *Server) resetIngestion(r *http.Request, ingestionJobID uuid.UUID) error {
	ctx := r.Context()

	// Both the staged and the promoted rows of the failed attempt must
	// go, or the re-run double counts them.
	if purgeErr := s.db.RequestLogs().PurgeStaging(ctx, ingestionJobID); purgeErr != nil {
		return purgeErr
	}

	if purgeErr := s.db.RequestLogs().PurgePromoted(ctx, ingestionJobID); purgeErr != nil {
		return purgeErr
	}

	ingJob, getErr := s.db.IngestionJobs().Get(ctx, ingestionJobID)
	if getErr != nil {
		return getErr
	}

	ingJob.Status = jobs.StatusPending
	ingJob.RowsIngested = 0
	ingJob.TotalRows = 0
	ingJob.ProcessingError = 0
	ingJob.StartedAt = nil
	ingJob.FinishedAt = nil
	ingJob.ErrorDetails = nil

	return s.db.IngestionJobs().Update(ctx, ingJob)
}

// enqueue hands the job to the broker. The job row is already durable;
// if the broker is down the row is marked failed so a later retry can
// pick it up, and the client gets a 503.
func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, job *jobs.Job) bool {
	ctx := r.Context()

	enqueueErr := s.broker.Enqueue(ctx, queue.NewTask(job.Kind, job.ID))
	if enqueueErr == nil {
		return true
	}

	s.logger.Error("enqueue task",
		slog.String("job_id", job.ID.String()),
		slog.Any("error", enqueueErr))

	// The job never reached a worker, so this failure is written
	// directly instead of through the pending state machine.
	prev := job.Status
	now := time.Now().UTC()
	details := "enqueue failed: " + enqueueErr.Error()
	job.Status = jobs.StatusFailed
	job.FinishedAt = &now
	job.ErrorDetails = &details

	if updateErr := s.db.Jobs().UpdateStatus(ctx, job, prev); updateErr != nil {
		s.logger.Error("mark job failed after enqueue error", slog.Any("error", updateErr))
	}

	s.respondError(w, http.StatusServiceUnavailable, "task broker unavailable")

	return false
}

func decodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}

	return nil
}
