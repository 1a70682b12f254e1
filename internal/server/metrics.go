package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/Sumatoshi-tech/loadgauge/internal/report"
)

const (
	defaultSlowestLimit = 10
	maxSlowestLimit     = 100
)

func (s *Server) handleGlobalMetrics(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamUUID(r, "id")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())

		return
	}

	global, queryErr := s.db.Metrics().Global(r.Context(), id)
	if queryErr != nil {
		s.respondStoreError(w, queryErr)

		return
	}

	if global == nil {
		s.respondError(w, http.StatusNotFound, "no request data for ingestion job")

		return
	}

	s.respond(w, http.StatusOK, global)
}

func (s *Server) handleEndpointMetrics(w http.ResponseWriter, r *http.Request) {
	s.respondQuery(w, r, func(ctx context.Context, id uuid.UUID) (any, error) {
		return s.db.Metrics().Endpoints(ctx, id)
	})
}

func (s *Server) handleRPSSeries(w http.ResponseWriter, r *http.Request) {
	s.respondQuery(w, r, func(ctx context.Context, id uuid.UUID) (any, error) {
		return s.db.Metrics().RequestsPerSecond(ctx, id)
	})
}

func (s *Server) handleLatencySeries(w http.ResponseWriter, r *http.Request) {
	s.respondQuery(w, r, func(ctx context.Context, id uuid.UUID) (any, error) {
		return s.db.Metrics().LatencyPercentilesPerMinute(ctx, id)
	})
}

func (s *Server) handleErrorRateSeries(w http.ResponseWriter, r *http.Request) {
	s.respondQuery(w, r, func(ctx context.Context, id uuid.UUID) (any, error) {
		return s.db.Metrics().ErrorRatePerMinute(ctx, id)
	})
}

func (s *Server) handleSlowestEndpoints(w http.ResponseWriter, r *http.Request) {
	limit := defaultSlowestLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, parseErr := strconv.Atoi(raw)
		if parseErr != nil || parsed < 1 || parsed > maxSlowestLimit {
			s.respondError(w, http.StatusBadRequest, "limit must be between 1 and 100")

			return
		}

		limit = parsed
	}

	s.respondQuery(w, r, func(ctx context.Context, id uuid.UUID) (any, error) {
		return s.db.Metrics().SlowestEndpoints(ctx, id, limit)
	})
}

func (s *Server) handleErrorRanking(w http.ResponseWriter, r *http.Request) {
	s.respondQuery(w, r, func(ctx context.Context, id uuid.UUID) (any, error) {
		return s.db.Metrics().EndpointsByErrorRate(ctx, id)
	})
}

func (s *Server) handleStatusHistogram(w http.ResponseWriter, r *http.Request) {
	s.respondQuery(w, r, func(ctx context.Context, id uuid.UUID) (any, error) {
		return s.db.Metrics().StatusHistogram(ctx, id)
	})
}

func (s *Server) respondQuery(w http.ResponseWriter, r *http.Request, query func(context.Context, uuid.UUID) (any, error)) {
	id, err := urlParamUUID(r, "id")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())

		return
	}

	result, queryErr := query(r.Context(), id)
	if queryErr != nil {
		s.respondStoreError(w, queryErr)

		return
	}

	s.respond(w, http.StatusOK, result)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamUUID(r, "id")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())

		return
	}

	// Rendered into a buffer first so an error mid-chart still yields a
	// clean JSON error response.
	var buf bytes.Buffer

	if renderErr := s.reports.Render(r.Context(), id, &buf); renderErr != nil {
		if errors.Is(renderErr, report.ErrNoData) {
			s.respondError(w, http.StatusNotFound, renderErr.Error())

			return
		}

		s.logger.Error("render report", slog.Any("error", renderErr))
		s.respondError(w, http.StatusInternalServerError, "internal error")

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	if _, writeErr := buf.WriteTo(w); writeErr != nil {
		s.logger.Error("write report", slog.Any("error", writeErr))
	}
}

type generateReportRequest struct {
	IngestionJobID uuid.UUID `json:"ingestion_job_id"`
}

func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	var req generateReportRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())

		return
	}

	if req.IngestionJobID == uuid.Nil {
		s.respondError(w, http.StatusBadRequest, "ingestion_job_id is required")

		return
	}

	generated, genErr := s.reports.Generate(r.Context(), req.IngestionJobID, s.reportFiles)
	if genErr != nil {
		if errors.Is(genErr, report.ErrNoData) {
			s.respondError(w, http.StatusNotFound, genErr.Error())

			return
		}

		s.logger.Error("generate report", slog.Any("error", genErr))
		s.respondError(w, http.StatusInternalServerError, "internal error")

		return
	}

	s.logger.Info("report generated",
		slog.String("report_id", generated.ReportID.String()),
		slog.String("ingestion_job_id", req.IngestionJobID.String()),
		slog.Float64("processing_time_seconds", generated.ProcessingTimeSeconds))

	s.respond(w, http.StatusCreated, generated)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamUUID(r, "id")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())

		return
	}

	f, openErr := s.reportFiles.Open(id)
	if openErr != nil {
		if errors.Is(openErr, report.ErrReportMissing) {
			s.respondError(w, http.StatusNotFound, openErr.Error())

			return
		}

		s.logger.Error("open report", slog.Any("error", openErr))
		s.respondError(w, http.StatusInternalServerError, "internal error")

		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	if _, copyErr := io.Copy(w, f); copyErr != nil {
		s.logger.Error("write report", slog.Any("error", copyErr))
	}
}
