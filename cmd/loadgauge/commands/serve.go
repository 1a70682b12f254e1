package commands

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/loadgauge/internal/queue"
	"github.com/Sumatoshi-tech/loadgauge/internal/report"
	"github.com/Sumatoshi-tech/loadgauge/internal/server"
	"github.com/Sumatoshi-tech/loadgauge/internal/store"
	"github.com/Sumatoshi-tech/loadgauge/internal/upload"
	"github.com/Sumatoshi-tech/loadgauge/pkg/observability"
)

// NewServeCommand builds the serve subcommand.
func NewServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control plane",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")

	return cmd
}

func runServe(parentCtx context.Context, configPath string) error {
	rt, err := newRuntime(configPath, observability.ComponentServer)
	if err != nil {
		return err
	}

	defer func() { _ = rt.providers.Shutdown(context.Background()) }()

	logger := rt.providers.Logger

	shutdownTimeout, err := parseDuration("server.shutdown_timeout", rt.cfg.Server.ShutdownTimeout)
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return migrateErr
	}

	broker, err := queue.NewBroker(rt.cfg.Broker.URL)
	if err != nil {
		return err
	}

	defer func() { _ = broker.Close() }()

	uploads, err := upload.NewStore(rt.cfg.Storage.UploadDir, rt.cfg.Storage.MaxFileSizeMB)
	if err != nil {
		return err
	}

	reports, err := report.NewStore(rt.cfg.Storage.ReportDir)
	if err != nil {
		return err
	}

	// HTTP metrics are registered on the Prometheus scrape registry so
	// they show up on /metrics even without an OTLP collector.
	promProvider, promHandler, err := observability.PrometheusHandler()
	if err != nil {
		return err
	}

	metrics, err := observability.NewMetrics(promProvider.Meter(serviceName))
	if err != nil {
		return err
	}

	srv := server.New(server.Deps{
		DB:          db,
		Broker:      broker,
		Uploads:     uploads,
		Reports:     reports,
		Logger:      logger,
		Tracer:      rt.providers.Tracer,
		Metrics:     metrics,
		PromHandler: promHandler,
	}, server.Options{
		Addr:            rt.cfg.Server.Addr,
		ShutdownTimeout: shutdownTimeout,
	})

	logger.Info("starting control plane",
		slog.String("addr", rt.cfg.Server.Addr),
		slog.String("upload_dir", rt.cfg.Storage.UploadDir),
		slog.String("report_dir", rt.cfg.Storage.ReportDir))

	runErr := srv.Run(ctx)
	if runErr != nil && !errors.Is(runErr, http.ErrServerClosed) {
		return runErr
	}

	logger.Info("control plane stopped")

	return nil
}
