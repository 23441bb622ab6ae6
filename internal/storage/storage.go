// Package storage provides object storage for generated artifacts.
// It defines the Uploader port and implementations for S3 and local disk.
package storage

import (
	"context"
	"errors"
)

// ErrUploadFailed is returned when an artifact cannot be stored.
var ErrUploadFailed = errors.New("storage: upload failed")

// Uploader stores an artifact under key and returns a publicly reachable URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, key, contentType string) (url string, err error)
}
