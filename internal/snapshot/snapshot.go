// Package snapshot persists per-task debug snapshots to disk.
// Snapshots are a debugging artifact only; the in-memory task registry
// remains the system of record.
package snapshot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Writer writes one JSON snapshot file per task into a fixed directory.
// Each write replaces the previous snapshot for that task.
type Writer struct {
	dir    string
	logger *slog.Logger
}

// NewWriter creates a snapshot writer rooted at dir, creating it if needed.
func NewWriter(dir string, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}
	return &Writer{dir: dir, logger: logger}, nil
}

// envelope wraps the task payload with a save timestamp.
type envelope struct {
	SavedAt string `json:"saved_at"`
	Task    any    `json:"task"`
}

// Save writes the snapshot for taskID. Failures are logged, not returned:
// a broken debug artifact must never fail a task mutation.
func (w *Writer) Save(taskID string, payload any) {
	data, err := json.MarshalIndent(envelope{
		SavedAt: time.Now().Format(time.RFC3339),
		Task:    payload,
	}, "", "  ")
	if err != nil {
		w.logger.Warn("snapshot marshal failed",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		return
	}

	path := filepath.Join(w.dir, taskID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		w.logger.Warn("snapshot write failed",
			slog.String("task_id", taskID),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// Remove deletes the snapshot file for taskID, if present.
func (w *Writer) Remove(taskID string) {
	path := filepath.Join(w.dir, taskID+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		w.logger.Warn("snapshot remove failed",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}
