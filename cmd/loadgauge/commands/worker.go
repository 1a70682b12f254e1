package commands

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/loadgauge/internal/jobs"
	"github.com/Sumatoshi-tech/loadgauge/internal/queue"
	"github.com/Sumatoshi-tech/loadgauge/internal/store"
	"github.com/Sumatoshi-tech/loadgauge/internal/upload"
	"github.com/Sumatoshi-tech/loadgauge/internal/worker"
	"github.com/Sumatoshi-tech/loadgauge/pkg/observability"
	"github.com/Sumatoshi-tech/loadgauge/pkg/schema"
)

// NewWorkerCommand builds the worker subcommand.
func NewWorkerCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the task worker pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")

	return cmd
}

func runWorker(parentCtx context.Context, configPath string) error {
	rt, err := newRuntime(configPath, observability.ComponentWorker)
	if err != nil {
		return err
	}

	defer func() { _ = rt.providers.Shutdown(context.Background()) }()

	logger := rt.providers.Logger

	softLimit, err := parseDuration("worker.soft_time_limit", rt.cfg.Worker.SoftTimeLimit)
	if err != nil {
		return err
	}

	hardLimit, err := parseDuration("worker.hard_time_limit", rt.cfg.Worker.HardTimeLimit)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, rt.cfg.Database.URL)
	if err != nil {
		return err
	}

	defer func() { _ = db.Close() }()

	broker, err := queue.NewBroker(rt.cfg.Broker.URL)
	if err != nil {
		return err
	}

	defer func() { _ = broker.Close() }()

	uploads, err := upload.NewStore(rt.cfg.Storage.UploadDir, rt.cfg.Storage.MaxFileSizeMB)
	if err != nil {
		return err
	}

	metrics, err := observability.NewMetrics(rt.providers.Meter)
	if err != nil {
		return err
	}

	pool := worker.NewPool(broker, db, logger, metrics, worker.Options{
		Count:         rt.cfg.Worker.Count,
		SoftTimeLimit: softLimit,
		HardTimeLimit: hardLimit,
	})

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	pool.Register(jobs.KindIngestion, worker.NewIngestionHandler(
		db, uploads, schema.NewCanonicalizer(nil), logger, metrics,
		worker.IngestionOptions{
			ChunkSize:   rt.cfg.Ingest.ChunkSize,
			SamplerSize: rt.cfg.Ingest.SamplerSize,
			DropInvalid: rt.cfg.Ingest.DropInvalid,
		},
		rng,
	))
	pool.Register(jobs.KindAnalysis, worker.NewAnalysisHandler(db))
	pool.Register(jobs.KindQA, worker.NewQAHandler(db))

	logger.Info("starting worker pool",
		slog.Int("count", rt.cfg.Worker.Count),
		slog.Duration("soft_time_limit", softLimit),
		slog.Duration("hard_time_limit", hardLimit))

	if runErr := pool.Run(ctx); runErr != nil {
		return runErr
	}

	logger.Info("worker pool stopped")

	return nil
}
