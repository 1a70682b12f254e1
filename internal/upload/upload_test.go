package upload_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/loadgauge/internal/jobs"
	"github.com/Sumatoshi-tech/loadgauge/internal/upload"
)

const testMaxFileSizeMB = 1

func newStore(t *testing.T) *upload.Store {
	t.Helper()

	store, err := upload.NewStore(t.TempDir(), testMaxFileSizeMB)
	require.NoError(t, err)

	return store
}

func TestStore_SaveAndPath(t *testing.T) {
	t.Parallel()

	store := newStore(t)

	meta, err := store.Save("results.json", strings.NewReader(`{"type":"Point"}`))
	require.NoError(t, err)

	assert.Equal(t, jobs.FileTypeJSON, meta.FileType)
	assert.Equal(t, "results.json", meta.Name)
	assert.Positive(t, meta.SizeMB)

	path, err := store.Path(meta.ID, meta.FileType)
	require.NoError(t, err)
	assert.Contains(t, path, meta.ID.String())
}

func TestStore_SaveCSV(t *testing.T) {
	t.Parallel()

	store := newStore(t)

	meta, err := store.Save("trace.CSV", strings.NewReader("metric_name,metric_value\n"))
	require.NoError(t, err)
	assert.Equal(t, jobs.FileTypeCSV, meta.FileType, "extension match is case-insensitive")
}

func TestStore_SaveRejectsUnsupportedExtension(t *testing.T) {
	t.Parallel()

	store := newStore(t)

	_, err := store.Save("results.parquet", strings.NewReader("data"))
	require.ErrorIs(t, err, upload.ErrUnsupportedType)
}

func TestStore_SaveRejectsEmptyFile(t *testing.T) {
	t.Parallel()

	store := newStore(t)

	_, err := store.Save("results.json", strings.NewReader(""))
	require.ErrorIs(t, err, upload.ErrEmptyFile)
}

func TestStore_SaveRejectsOversizedFile(t *testing.T) {
	t.Parallel()

	store := newStore(t)

	huge := strings.NewReader(strings.Repeat("x", 2<<20))
	_, err := store.Save("results.json", huge)
	require.ErrorIs(t, err, upload.ErrFileTooLarge)
}

func TestStore_PathMissingFile(t *testing.T) {
	t.Parallel()

	store := newStore(t)

	meta, err := store.Save("results.json", strings.NewReader("{}"))
	require.NoError(t, err)

	_, err = store.Path(meta.ID, jobs.FileTypeCSV)
	require.ErrorIs(t, err, upload.ErrFileMissing, "wrong extension misses the stored file")
}

func TestValidateMetadata(t *testing.T) {
	t.Parallel()

	require.NoError(t, upload.ValidateMetadata(nil), "metadata is optional")
	require.NoError(t, upload.ValidateMetadata([]byte(`{"test_name":"spike test","environment":"staging"}`)))

	err := upload.ValidateMetadata([]byte(`{"environment":"staging"}`))
	require.ErrorIs(t, err, upload.ErrInvalidMetadata, "test_name is required")

	err = upload.ValidateMetadata([]byte(`{"test_name":"x","extra":true}`))
	require.ErrorIs(t, err, upload.ErrInvalidMetadata, "unknown keys rejected")

	err = upload.ValidateMetadata([]byte(`{not json`))
	require.ErrorIs(t, err, upload.ErrInvalidMetadata)
}
