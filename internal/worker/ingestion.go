package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/Sumatoshi-tech/loadgauge/internal/jobs"
	"github.com/Sumatoshi-tech/loadgauge/internal/queue"
	"github.com/Sumatoshi-tech/loadgauge/internal/store"
	"github.com/Sumatoshi-tech/loadgauge/internal/upload"
	"github.com/Sumatoshi-tech/loadgauge/pkg/aggregate"
	"github.com/Sumatoshi-tech/loadgauge/pkg/ingest"
	"github.com/Sumatoshi-tech/loadgauge/pkg/observability"
	"github.com/Sumatoshi-tech/loadgauge/pkg/schema"
)

// ErrMissingIngestionJob is returned when an ingestion task's job row
// carries no ingestion-job reference.
var ErrMissingIngestionJob = errors.New("task has no ingestion job reference")

// IngestionOptions are the pipeline knobs for one handler instance.
type IngestionOptions struct {
	ChunkSize   int
	SamplerSize int
	DropInvalid bool
}

// IngestionHandler streams a raw trace file into the staging table
// while aggregating metrics in memory, then promotes everything in one
// transaction.
type IngestionHandler struct {
	db      *store.DB
	uploads *upload.Store
	canon   *schema.Canonicalizer
	logger  *slog.Logger
	metrics *observability.Metrics
	opts    IngestionOptions

	// rng seeds the reservoirs; nil keeps the global source. Tests
	// inject a fixed seed.
	rng *rand.Rand
}

// NewIngestionHandler builds the handler. Metrics and rng may be nil.
func NewIngestionHandler(
	db *store.DB,
	uploads *upload.Store,
	canon *schema.Canonicalizer,
	logger *slog.Logger,
	metrics *observability.Metrics,
	opts IngestionOptions,
	rng *rand.Rand,
) *IngestionHandler {
	return &IngestionHandler{
		db:      db,
		uploads: uploads,
		canon:   canon,
		logger:  logger,
		metrics: metrics,
		opts:    opts,
		rng:     rng,
	}
}

// ingestionResult is the job result blob for a completed ingestion.
type ingestionResult struct {
	RowsIngested     int64                       `json:"rows_ingested"`
	ProcessingErrors int64                       `json:"processing_errors_count"`
	Global           *aggregate.GlobalMetrics    `json:"global_metrics"`
	Endpoints        []aggregate.EndpointMetrics `json:"endpoint_metrics"`
}

// Run executes the ingestion pipeline for one task.
func (h *IngestionHandler) Run(ctx context.Context, task queue.Task) (json.RawMessage, error) {
	job, err := h.db.Jobs().Get(ctx, task.JobID)
	if err != nil {
		return nil, err
	}

	if job.IngestionJobID == nil {
		return nil, ErrMissingIngestionJob
	}

	ingJob, err := h.db.IngestionJobs().Get(ctx, *job.IngestionJobID)
	if err != nil {
		return nil, err
	}

	// A redelivered task arrives with the ingestion job already
	// in_progress; the original started_at is kept and the run repeats
	// from the top of the file.
	if ingJob.Status != jobs.StatusInProgress {
		if startErr := ingJob.Start(time.Now().UTC()); startErr != nil {
			return nil, startErr
		}

		if updateErr := h.db.IngestionJobs().Update(ctx, ingJob); updateErr != nil {
			return nil, updateErr
		}
	}

	result, runErr := h.ingest(ctx, ingJob)
	if runErr != nil {
		h.abort(ingJob, runErr)

		return nil, runErr
	}

	payload, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		return nil, fmt.Errorf("marshal ingestion result: %w", marshalErr)
	}

	return payload, nil
}

func (h *IngestionHandler) ingest(ctx context.Context, ingJob *jobs.IngestionJob) (*ingestionResult, error) {
	// Staging rows left by a crashed or failed attempt must not promote
	// with this run's rows.
	if purgeErr := h.db.RequestLogs().PurgeStaging(ctx, ingJob.ID); purgeErr != nil {
		return nil, purgeErr
	}

	path, err := h.uploads.Path(ingJob.FileID, ingJob.FileType)
	if err != nil {
		return nil, err
	}

	reader, err := ingest.OpenReader(path, h.opts.ChunkSize)
	if err != nil {
		return nil, err
	}

	defer func() {
		if closeErr := reader.Close(); closeErr != nil {
			h.logger.WarnContext(ctx, "close reader failed", slog.String("error", closeErr.Error()))
		}
	}()

	pivoter := ingest.NewPivoter(h.canon)
	pivoter.DropInvalid = h.opts.DropInvalid

	globalAgg := aggregate.NewGlobalAggregator(h.opts.SamplerSize, h.rng)
	endpointAgg := aggregate.NewEndpointAggregator(h.opts.SamplerSize, h.rng)

	var rowsIngested, processingErrors int64

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("ingestion interrupted: %w", ctxErr)
		}

		batch, ok := reader.Next()
		if !ok {
			break
		}

		processingErrors += int64(batch.ParseErrors)

		pivoted := pivoter.Pivot(batch.Rows)
		processingErrors += int64(pivoted.InvalidGroups)

		if stageErr := h.db.RequestLogs().StageBatch(ctx, ingJob.ID, pivoted.Records); stageErr != nil {
			return nil, stageErr
		}

		globalAgg.UpdateBatch(pivoted.Records)
		endpointAgg.UpdateBatch(pivoted.Records)

		rowsIngested += int64(len(pivoted.Records))
		ingJob.RowsIngested = rowsIngested

		if progressErr := h.db.IngestionJobs().UpdateProgress(ctx, ingJob.ID, rowsIngested); progressErr != nil {
			return nil, progressErr
		}

		if h.metrics != nil {
			h.metrics.RecordRowsIngested(ctx, int64(len(pivoted.Records)))
		}
	}

	if readErr := reader.Err(); readErr != nil {
		return nil, fmt.Errorf("read trace: %w", readErr)
	}

	if completeErr := ingJob.Complete(time.Now().UTC(), rowsIngested, rowsIngested, processingErrors); completeErr != nil {
		return nil, completeErr
	}

	if promoteErr := h.db.RequestLogs().Promote(ctx, ingJob); promoteErr != nil {
		return nil, promoteErr
	}

	return &ingestionResult{
		RowsIngested:     rowsIngested,
		ProcessingErrors: processingErrors,
		Global:           globalAgg.Finalize(),
		Endpoints:        endpointAgg.Finalize(),
	}, nil
}

// abort rolls the staging rows back and writes the failed state. Runs
// on a background context so cancellation cannot strand staging rows.
func (h *IngestionHandler) abort(ingJob *jobs.IngestionJob, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if failErr := ingJob.Fail(time.Now().UTC(), cause.Error(), ingJob.RowsIngested, ingJob.TotalRows); failErr != nil {
		h.logger.ErrorContext(ctx, "mark ingestion failed", slog.String("error", failErr.Error()))

		// The staging rows still have to go even when the state write
		// is impossible.
		if purgeErr := h.db.RequestLogs().PurgeStaging(ctx, ingJob.ID); purgeErr != nil {
			h.logger.ErrorContext(ctx, "purge staging rows", slog.String("error", purgeErr.Error()))
		}

		return
	}

	if abortErr := h.db.RequestLogs().Abort(ctx, ingJob); abortErr != nil {
		h.logger.ErrorContext(ctx, "abort ingestion", slog.String("error", abortErr.Error()))
	}
}
