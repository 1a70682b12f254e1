// Package upload stores raw trace files on disk and validates the
// metadata submitted with them.
package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Sumatoshi-tech/loadgauge/internal/jobs"
)

const (
	bytesPerMB = 1 << 20

	uploadFileMode = 0o600
	uploadDirMode  = 0o750
)

var (
	ErrFileTooLarge    = errors.New("file exceeds size limit")
	ErrEmptyFile       = errors.New("file is empty")
	ErrUnsupportedType = errors.New("unsupported file extension")
	ErrFileMissing     = errors.New("stored file not found")
)

// FileMeta describes one stored upload.
type FileMeta struct {
	ID         uuid.UUID     `json:"id"`
	Name       string        `json:"name"`
	FileType   jobs.FileType `json:"file_type"`
	SizeMB     float64       `json:"size_mb"`
	UploadedAt time.Time     `json:"uploaded_at"`
}

// Store persists uploads under a root directory, one file per id.
type Store struct {
	dir      string
	maxBytes int64
}

// NewStore creates the upload directory if needed.
func NewStore(dir string, maxFileSizeMB float64) (*Store, error) {
	if err := os.MkdirAll(dir, uploadDirMode); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	return &Store{
		dir:      dir,
		maxBytes: int64(maxFileSizeMB * bytesPerMB),
	}, nil
}

// Save streams an upload to disk. The stored name is a fresh UUID with
// the original extension, so client names never touch the filesystem.
func (s *Store) Save(name string, r io.Reader) (*FileMeta, error) {
	fileType, err := fileTypeOf(name)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	path := s.path(id, fileType)

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, uploadFileMode)
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}

	written, copyErr := io.Copy(dst, io.LimitReader(r, s.maxBytes+1))

	if closeErr := dst.Close(); copyErr == nil {
		copyErr = closeErr
	}

	if copyErr != nil {
		_ = os.Remove(path)

		return nil, fmt.Errorf("write upload file: %w", copyErr)
	}

	if written == 0 {
		_ = os.Remove(path)

		return nil, ErrEmptyFile
	}

	if written > s.maxBytes {
		_ = os.Remove(path)

		return nil, fmt.Errorf("%w: %d MB limit", ErrFileTooLarge, s.maxBytes/bytesPerMB)
	}

	return &FileMeta{
		ID:         id,
		Name:       filepath.Base(name),
		FileType:   fileType,
		SizeMB:     float64(written) / bytesPerMB,
		UploadedAt: time.Now().UTC(),
	}, nil
}

// Path returns the on-disk location of a stored file.
func (s *Store) Path(id uuid.UUID, fileType jobs.FileType) (string, error) {
	path := s.path(id, fileType)

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("file %s: %w", id, ErrFileMissing)
		}

		return "", fmt.Errorf("stat upload file: %w", err)
	}

	return path, nil
}

// SizeMB returns the stored size of a file in megabytes.
func (s *Store) SizeMB(id uuid.UUID, fileType jobs.FileType) (float64, error) {
	info, err := os.Stat(s.path(id, fileType))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("file %s: %w", id, ErrFileMissing)
		}

		return 0, fmt.Errorf("stat upload file: %w", err)
	}

	return float64(info.Size()) / bytesPerMB, nil
}

func (s *Store) path(id uuid.UUID, fileType jobs.FileType) string {
	return filepath.Join(s.dir, id.String()+"."+string(fileType))
}

func fileTypeOf(name string) (jobs.FileType, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")

	fileType, err := jobs.ParseFileType(ext)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, filepath.Ext(name))
	}

	return fileType, nil
}
