package server

import (
	"log/slog"
	"net/http"
)

type healthResponse struct {
	Status     string `json:"status"`
	Database   string `json:"database"`
	Broker     string `json:"broker"`
	Workers    int    `json:"workers"`
	QueueDepth int64  `json:"queue_depth"`
}

// handleHealth reports dependency reachability. Degraded dependencies
// turn the response into a 503 so orchestrators stop routing here.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := healthResponse{Status: "ok", Database: "up", Broker: "up"}

	if pingErr := s.db.Ping(ctx); pingErr != nil {
		s.logger.Warn("database unreachable", slog.Any("error", pingErr))

		resp.Status = "degraded"
		resp.Database = "down"
	}

	if pingErr := s.broker.Ping(ctx); pingErr != nil {
		s.logger.Warn("broker unreachable", slog.Any("error", pingErr))

		resp.Status = "degraded"
		resp.Broker = "down"
	} else {
		if workers, err := s.broker.LiveWorkers(ctx); err == nil {
			resp.Workers = len(workers)
		}

		if depth, err := s.broker.Depth(ctx); err == nil {
			resp.QueueDepth = depth
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}

	s.respond(w, status, resp)
}

type workerHealthResponse struct {
	Status     string   `json:"status"`
	Broker     string   `json:"broker"`
	Workers    []string `json:"workers"`
	QueueDepth int64    `json:"queue_depth"`
}

// handleWorkerHealth reports broker liveness and the workers currently
// holding a heartbeat key.
func (s *Server) handleWorkerHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if pingErr := s.broker.Ping(ctx); pingErr != nil {
		s.logger.Warn("broker unreachable", slog.Any("error", pingErr))
		s.respond(w, http.StatusServiceUnavailable, workerHealthResponse{Status: "degraded", Broker: "down"})

		return
	}

	resp := workerHealthResponse{Status: "ok", Broker: "up", Workers: []string{}}

	if workers, err := s.broker.LiveWorkers(ctx); err == nil {
		resp.Workers = workers
	}

	if depth, err := s.broker.Depth(ctx); err == nil {
		resp.QueueDepth = depth
	}

	s.respond(w, http.StatusOK, resp)
}
