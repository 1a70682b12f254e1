// Package server is the HTTP control plane. It accepts trace uploads,
// creates jobs and hands them to the broker, and serves metrics, QA
// answers, and rendered reports from the store. Request execution
// happens in the worker pool; handlers here never block on a job.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/loadgauge/internal/queue"
	"github.com/Sumatoshi-tech/loadgauge/internal/report"
	"github.com/Sumatoshi-tech/loadgauge/internal/store"
	"github.com/Sumatoshi-tech/loadgauge/internal/upload"
	"github.com/Sumatoshi-tech/loadgauge/pkg/observability"
)

const readHeaderTimeout = 10 * time.Second

// Options holds listener settings.
type Options struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Deps bundles the server's collaborators.
type Deps struct {
	DB      *store.DB
	Broker  *queue.Broker
	Uploads *upload.Store
	Reports *report.Store
	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *observability.Metrics

	// PromHandler serves the Prometheus scrape endpoint when set.
	PromHandler http.Handler
}

// Server routes control-plane requests.
type Server struct {
	db          *store.DB
	broker      *queue.Broker
	uploads     *upload.Store
	reports     *report.Builder
	reportFiles *report.Store
	logger      *slog.Logger
	tracer      trace.Tracer
	metrics     *observability.Metrics
	prom        http.Handler
	opts        Options
}

// New builds the server. Tracer defaults to a noop tracer when unset.
func New(deps Deps, opts Options) *Server {
	tracer := deps.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("loadgauge")
	}

	return &Server{
		db:          deps.DB,
		broker:      deps.Broker,
		uploads:     deps.Uploads,
		reports:     report.NewBuilder(deps.DB),
		reportFiles: deps.Reports,
		logger:      deps.Logger,
		tracer:      tracer,
		metrics:     deps.Metrics,
		prom:        deps.PromHandler,
		opts:        opts,
	}
}

// Router assembles the route tree. Exposed for httptest.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.Middleware(s.tracer, s.logger, s.metrics))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/health/worker", s.handleWorkerHealth)

	if s.prom != nil {
		r.Handle("/metrics", s.prom)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/uploads", s.handleUpload)

		r.Post("/ingestions", s.handleCreateIngestion)
		r.Get("/ingestions/{id}", s.handleGetIngestion)
		r.Get("/ingestions/{id}/report", s.handleReport)
		r.Route("/ingestions/{id}/metrics", func(r chi.Router) {
			r.Get("/global", s.handleGlobalMetrics)
			r.Get("/endpoints", s.handleEndpointMetrics)
			r.Get("/timeseries/rps", s.handleRPSSeries)
			r.Get("/timeseries/latency", s.handleLatencySeries)
			r.Get("/timeseries/error-rate", s.handleErrorRateSeries)
			r.Get("/slowest-endpoints", s.handleSlowestEndpoints)
			r.Get("/error-ranking", s.handleErrorRanking)
			r.Get("/status-histogram", s.handleStatusHistogram)
		})

		r.Post("/reports", s.handleGenerateReport)
		r.Get("/reports/{id}", s.handleGetReport)

		r.Post("/analyses", s.handleCreateAnalysis)
		r.Post("/qa", s.handleCreateQA)

		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Post("/jobs/{id}/retry", s.handleRetryJob)
	})

	return r
}

// Run serves until the context is canceled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("http server listening", slog.String("addr", s.opts.Addr))

	select {
	case err := <-errCh:
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}

	return nil
}

// errorBody mirrors the detail shape clients already parse.
type errorBody struct {
	Detail string `json:"detail"`
}

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if encodeErr := json.NewEncoder(w).Encode(v); encodeErr != nil {
		s.logger.Error("encode response", slog.Any("error", encodeErr))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, detail string) {
	s.respond(w, status, errorBody{Detail: detail})
}

func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, err.Error())

		return
	}

	if errors.Is(err, store.ErrStatusConflict) {
		s.respondError(w, http.StatusConflict, err.Error())

		return
	}

	s.logger.Error("store request failed", slog.Any("error", err))
	s.respondError(w, http.StatusInternalServerError, "internal error")
}

func urlParamUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", name, err)
	}

	return id, nil
}
