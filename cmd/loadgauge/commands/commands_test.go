package commands

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("not-a-level"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel(""))
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	d, err := parseDuration("worker.soft_time_limit", "1800s")
	require.NoError(t, err)
	assert.Equal(t, "30m0s", d.String())

	_, err = parseDuration("worker.soft_time_limit", "soon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker.soft_time_limit")
}

func TestCommandsHaveConfigFlag(t *testing.T) {
	t.Parallel()

	assert.NotNil(t, NewServeCommand().Flags().Lookup("config"))
	assert.NotNil(t, NewWorkerCommand().Flags().Lookup("config"))
	assert.NotNil(t, NewMigrateCommand().Flags().Lookup("config"))
}
