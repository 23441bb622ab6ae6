package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestWriter_SaveAndRemove(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(filepath.Join(dir, "tasks"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w.Save("task-1", map[string]string{"status": "pending"})

	path := filepath.Join(dir, "tasks", "task-1.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected snapshot file: %v", err)
	}

	var env struct {
		SavedAt string          `json:"saved_at"`
		Task    json.RawMessage `json:"task"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("snapshot is not valid JSON: %v", err)
	}
	if env.SavedAt == "" {
		t.Error("expected saved_at to be set")
	}

	w.Remove("task-1")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected snapshot file to be removed")
	}
}

func TestWriter_SaveOverwrites(t *testing.T) {
	w, err := NewWriter(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w.Save("task-2", map[string]int{"progress": 10})
	w.Save("task-2", map[string]int{"progress": 50})

	data, err := os.ReadFile(filepath.Join(w.dir, "task-2.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var env struct {
		Task map[string]int `json:"task"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Task["progress"] != 50 {
		t.Errorf("expected latest snapshot, got progress=%d", env.Task["progress"])
	}
}

func TestWriter_RemoveMissingIsQuiet(t *testing.T) {
	w, err := NewWriter(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Must not panic or error.
	w.Remove("never-saved")
}
