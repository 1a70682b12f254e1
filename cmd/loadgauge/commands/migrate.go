package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/loadgauge/internal/store"
	"github.com/Sumatoshi-tech/loadgauge/pkg/observability"
)

// NewMigrateCommand builds the migrate subcommand.
func NewMigrateCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")

	return cmd
}

func runMigrate(ctx context.Context, configPath string) error {
	rt, err := newRuntime(configPath, observability.ComponentServer)
	if err != nil {
		return err
	}

	defer func() { _ = rt.providers.Shutdown(context.Background()) }()

	db, err := store.Open(ctx, rt.cfg.Database.URL)
	if err != nil {
		return err
	}

	defer func() { _ = db.Close() }()

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return migrateErr
	}

	rt.providers.Logger.Info("migrations applied")

	return nil
}
