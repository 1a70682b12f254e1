// Package commands implements the loadgauge CLI subcommands.
package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Sumatoshi-tech/loadgauge/internal/config"
	"github.com/Sumatoshi-tech/loadgauge/pkg/observability"
	"github.com/Sumatoshi-tech/loadgauge/pkg/version"
)

const serviceName = "loadgauge"

// runtime bundles the pieces every subcommand wires up the same way.
type runtime struct {
	cfg       *config.Config
	providers observability.Providers
}

func newRuntime(configPath string, component observability.Component) (*runtime, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	providers, err := observability.Init(observability.Config{
		ServiceName:    serviceName,
		ServiceVersion: version.Version,
		Environment:    cfg.Telemetry.Environment,
		Component:      component,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		LogLevel:       parseLogLevel(cfg.Telemetry.LogLevel),
		LogJSON:        cfg.Telemetry.LogJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	return &runtime{cfg: cfg, providers: providers}, nil
}

func parseLogLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}

	return level
}

func parseDuration(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}

	return d, nil
}
