package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Sumatoshi-tech/loadgauge/internal/queue"
	"github.com/Sumatoshi-tech/loadgauge/internal/store"
	"github.com/Sumatoshi-tech/loadgauge/pkg/aggregate"
)

// slowestEndpointLimit caps the top-N listing in analysis results.
const slowestEndpointLimit = 10

var ErrMissingAnalysisInput = errors.New("analysis task needs an ingestion_job_id input")

// analysisInput is the input blob for analysis and QA tasks.
type analysisInput struct {
	IngestionJobID uuid.UUID `json:"ingestion_job_id"`
	Question       string    `json:"question,omitempty"`
}

// analysisResult bundles every SQL metrics view for one ingestion job.
type analysisResult struct {
	IngestionJobID   uuid.UUID                      `json:"ingestion_job_id"`
	Global           *aggregate.GlobalMetrics       `json:"global_metrics"`
	Endpoints        []aggregate.EndpointMetrics    `json:"endpoint_metrics"`
	RPSSeries        []store.TimeSeriesPoint        `json:"rps_series"`
	LatencySeries    []store.LatencyPercentilePoint `json:"latency_series"`
	ErrorRateSeries  []store.TimeSeriesPoint        `json:"error_rate_series"`
	SlowestEndpoints []store.EndpointRank           `json:"slowest_endpoints"`
	ErrorRanking     []store.EndpointRank           `json:"error_ranking"`
	StatusHistogram  []store.StatusCount            `json:"status_histogram"`
}

// AnalysisHandler computes the full SQL metrics view of a persisted
// ingestion and stores it as the job result.
type AnalysisHandler struct {
	db *store.DB
}

// NewAnalysisHandler builds the handler.
func NewAnalysisHandler(db *store.DB) *AnalysisHandler {
	return &AnalysisHandler{db: db}
}

// Run executes one analysis task.
func (h *AnalysisHandler) Run(ctx context.Context, task queue.Task) (json.RawMessage, error) {
	input, err := loadAnalysisInput(ctx, h.db, task)
	if err != nil {
		return nil, err
	}

	result, err := h.analyze(ctx, input.IngestionJobID)
	if err != nil {
		return nil, err
	}

	payload, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		return nil, fmt.Errorf("marshal analysis result: %w", marshalErr)
	}

	return payload, nil
}

func (h *AnalysisHandler) analyze(ctx context.Context, ingestionJobID uuid.UUID) (*analysisResult, error) {
	metrics := h.db.Metrics()

	global, err := metrics.Global(ctx, ingestionJobID)
	if err != nil {
		return nil, err
	}

	endpoints, err := metrics.Endpoints(ctx, ingestionJobID)
	if err != nil {
		return nil, err
	}

	rps, err := metrics.RequestsPerSecond(ctx, ingestionJobID)
	if err != nil {
		return nil, err
	}

	latency, err := metrics.LatencyPercentilesPerMinute(ctx, ingestionJobID)
	if err != nil {
		return nil, err
	}

	errorRate, err := metrics.ErrorRatePerMinute(ctx, ingestionJobID)
	if err != nil {
		return nil, err
	}

	slowest, err := metrics.SlowestEndpoints(ctx, ingestionJobID, slowestEndpointLimit)
	if err != nil {
		return nil, err
	}

	errorRanking, err := metrics.EndpointsByErrorRate(ctx, ingestionJobID)
	if err != nil {
		return nil, err
	}

	histogram, err := metrics.StatusHistogram(ctx, ingestionJobID)
	if err != nil {
		return nil, err
	}

	return &analysisResult{
		IngestionJobID:   ingestionJobID,
		Global:           global,
		Endpoints:        endpoints,
		RPSSeries:        rps,
		LatencySeries:    latency,
		ErrorRateSeries:  errorRate,
		SlowestEndpoints: slowest,
		ErrorRanking:     errorRanking,
		StatusHistogram:  histogram,
	}, nil
}

// loadAnalysisInput resolves the input blob for analysis-style tasks,
// falling back to the job row's ingestion_job_id reference.
func loadAnalysisInput(ctx context.Context, db *store.DB, task queue.Task) (*analysisInput, error) {
	job, err := db.Jobs().Get(ctx, task.JobID)
	if err != nil {
		return nil, err
	}

	var input analysisInput

	if len(job.Input) > 0 {
		if unmarshalErr := json.Unmarshal(job.Input, &input); unmarshalErr != nil {
			return nil, fmt.Errorf("decode task input: %w", unmarshalErr)
		}
	}

	if input.IngestionJobID == uuid.Nil {
		if job.IngestionJobID == nil {
			return nil, ErrMissingAnalysisInput
		}

		input.IngestionJobID = *job.IngestionJobID
	}

	return &input, nil
}
