package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".loadgauge"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for loadgauge settings.
const envPrefix = "LOADGAUGE"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// LoadConfig loads configuration from file, env vars, and defaults.
// A .env file in the working directory is folded into the environment
// first. If configPath is non-empty, it is used as the explicit config
// file path; otherwise the config file is searched in CWD and $HOME.
// Missing config and .env files are not errors; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("server.addr", DefaultServerAddr)
	viperCfg.SetDefault("server.shutdown_timeout", DefaultShutdownTimeout)

	viperCfg.SetDefault("database.url", DefaultDatabaseURL)
	viperCfg.SetDefault("broker.url", DefaultBrokerURL)

	viperCfg.SetDefault("storage.upload_dir", DefaultUploadDir)
	viperCfg.SetDefault("storage.report_dir", DefaultReportDir)
	viperCfg.SetDefault("storage.max_file_size_mb", DefaultMaxFileSizeMB)

	viperCfg.SetDefault("ingest.chunk_size", DefaultChunkSize)
	viperCfg.SetDefault("ingest.sampler_size", DefaultSamplerSize)
	viperCfg.SetDefault("ingest.drop_invalid", false)

	viperCfg.SetDefault("worker.count", DefaultWorkerCount)
	viperCfg.SetDefault("worker.soft_time_limit", DefaultSoftTimeLimit)
	viperCfg.SetDefault("worker.hard_time_limit", DefaultHardTimeLimit)

	viperCfg.SetDefault("telemetry.environment", DefaultEnvironment)
	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.otlp_insecure", true)
	viperCfg.SetDefault("telemetry.sample_ratio", DefaultSampleRatio)
	viperCfg.SetDefault("telemetry.log_level", DefaultLogLevel)
	viperCfg.SetDefault("telemetry.log_json", true)
}
