package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/loadgauge/internal/config"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, config.DefaultServerAddr, cfg.Server.Addr)
	assert.Equal(t, config.DefaultChunkSize, cfg.Ingest.ChunkSize)
	assert.Equal(t, config.DefaultSamplerSize, cfg.Ingest.SamplerSize)
	assert.Equal(t, config.DefaultWorkerCount, cfg.Worker.Count)
	assert.False(t, cfg.Ingest.DropInvalid)
}

func TestLoadConfig_FromFile(t *testing.T) {
	content := []byte("server:\n  addr: \":9000\"\ningest:\n  chunk_size: 1000\n")
	path := filepath.Join(t.TempDir(), "loadgauge.yaml")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 1000, cfg.Ingest.ChunkSize)
	assert.Equal(t, config.DefaultSamplerSize, cfg.Ingest.SamplerSize, "unset keys keep defaults")
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("LOADGAUGE_WORKER_COUNT", "8")

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Worker.Count)
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	content := []byte("worker:\n  count: 0\n")
	path := filepath.Join(t.TempDir(), "loadgauge.yaml")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	_, err := config.LoadConfig(path)
	require.ErrorIs(t, err, config.ErrInvalidWorkerCount)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
