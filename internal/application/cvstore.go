package application

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrFileTooLarge = errors.New("uploaded file exceeds the size limit")

var allowedCVExtensions = map[string]bool{
	".pdf": true,
	".txt": true,
	".md":  true,
}

// CVStore keeps uploaded CVs on the local filesystem under uuid names.
type CVStore struct {
	dir      string
	maxBytes int64
}

func NewCVStore(dir string, maxUploadMB int) *CVStore {
	if maxUploadMB <= 0 {
		maxUploadMB = 10
	}
	return &CVStore{dir: dir, maxBytes: int64(maxUploadMB) << 20}
}

// MaxBytes is the upload size limit.
func (s *CVStore) MaxBytes() int64 { return s.maxBytes }

// Save copies r into a new file and returns its path. The original name
// only contributes its extension.
func (s *CVStore) Save(originalName string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if !allowedCVExtensions[ext] {
		return "", fmt.Errorf("unsupported cv file type %q", ext)
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return "", fmt.Errorf("create cv dir: %w", err)
	}

	path := filepath.Join(s.dir, uuid.New().String()+ext)
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("create cv file: %w", err)
	}

	n, err := io.Copy(out, io.LimitReader(r, s.maxBytes+1))
	closeErr := out.Close()
	if err == nil && n > s.maxBytes {
		err = ErrFileTooLarge
	}
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// Remove deletes a stored CV. A missing file is not an error.
func (s *CVStore) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
