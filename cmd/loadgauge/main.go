// Package main provides the entry point for the loadgauge service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/loadgauge/cmd/loadgauge/commands"
	"github.com/Sumatoshi-tech/loadgauge/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "loadgauge",
		Short: "Loadgauge - load-test result ingestion and analysis service",
		Long: `Loadgauge ingests raw load-test output, computes request metrics,
and serves analysis over HTTP.

Commands:
  serve     Run the HTTP control plane
  worker    Run the task worker pool
  migrate   Apply database migrations`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewWorkerCommand())
	rootCmd.AddCommand(commands.NewMigrateCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "loadgauge %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
