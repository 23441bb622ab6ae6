package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Compile-time check that LocalUploader implements Uploader.
var _ Uploader = (*LocalUploader)(nil)

// LocalUploader writes artifacts to a local directory and returns URLs under
// a configured base. Intended for development; swap for S3 in production.
type LocalUploader struct {
	dir     string
	baseURL string
}

// NewLocalUploader creates a LocalUploader rooted at dir. Returned URLs are
// baseURL + "/" + key.
func NewLocalUploader(dir, baseURL string) (*LocalUploader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalUploader{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Upload writes the artifact to disk and returns its URL.
func (l *LocalUploader) Upload(_ context.Context, data []byte, key, _ string) (string, error) {
	// Keys may contain path separators; keep only the base name on disk.
	name := filepath.Base(key)
	path := filepath.Join(l.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return l.baseURL + "/" + name, nil
}
