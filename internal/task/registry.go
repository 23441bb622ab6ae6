package task

import (
	"log/slog"
	"sync"

	"github.com/sellcast/digitalhuman-api/internal/apperr"
	"github.com/sellcast/digitalhuman-api/internal/snapshot"
	"github.com/sellcast/digitalhuman-api/internal/task/id"
)

// ErrRunInProgress is raised when a second background run is requested for a
// task whose run is still active.
var ErrRunInProgress = apperr.New(apperr.CodeInvalidRequest, "generation is already running for this task")

// Registry is the in-memory task store and the only mutation path. Every
// mutation goes through a typed closure under the task's lock and is followed
// by a debug snapshot write, so external observers always see a consistent
// record. Concurrent access to different tasks never blocks.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	snapshots *snapshot.Writer
	logger    *slog.Logger
}

type entry struct {
	mu      sync.Mutex
	task    *Task
	running bool
}

// NewRegistry creates an empty registry. snapshots may be nil to disable
// debug snapshot writing.
func NewRegistry(snapshots *snapshot.Writer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries:   make(map[string]*entry),
		snapshots: snapshots,
		logger:    logger,
	}
}

// Create registers a new pending task and returns a copy of it.
func (r *Registry) Create() *Task {
	t := New(id.Generate())

	r.mu.Lock()
	r.entries[t.ID] = &entry{task: t}
	r.mu.Unlock()

	r.writeSnapshot(t)
	return t.Clone()
}

// Get returns a copy of the task, or TASK_NOT_FOUND.
func (r *Registry) Get(taskID string) (*Task, error) {
	e, err := r.entry(taskID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task.Clone(), nil
}

// Update applies a typed mutation under the task's lock, writes the debug
// snapshot, and returns a copy of the mutated task.
func (r *Registry) Update(taskID string, mutate func(*Task)) (*Task, error) {
	e, err := r.entry(taskID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	mutate(e.task)
	updated := e.task.Clone()
	e.mu.Unlock()

	r.writeSnapshot(updated)
	return updated, nil
}

// Fail routes a stage failure into the task record: status becomes FAILED,
// the current step label is cleared, and the error pair is set. This is the
// only path that writes the error slot.
func (r *Registry) Fail(taskID, code, message string) {
	if _, err := r.Update(taskID, func(t *Task) {
		t.Status = StatusFailed
		t.CurrentStep = ""
		t.Error = message
		t.ErrorCode = code
	}); err != nil {
		r.logger.Warn("failing unknown task", slog.String("task_id", taskID), slog.String("code", code))
	}
}

// Delete removes the task and its debug snapshot.
func (r *Registry) Delete(taskID string) error {
	r.mu.Lock()
	_, ok := r.entries[taskID]
	delete(r.entries, taskID)
	r.mu.Unlock()

	if !ok {
		return apperr.Newf(apperr.CodeTaskNotFound, "task %s not found", taskID)
	}
	if r.snapshots != nil {
		r.snapshots.Remove(taskID)
	}
	return nil
}

// AcquireRun claims the task's single background run slot. It returns a
// release function on success and ErrRunInProgress when a run is already
// active, so at most one background sequence ever drives a task.
func (r *Registry) AcquireRun(taskID string) (func(), error) {
	e, err := r.entry(taskID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil, ErrRunInProgress
	}
	e.running = true

	return func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}, nil
}

func (r *Registry) entry(taskID string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[taskID]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.Newf(apperr.CodeTaskNotFound, "task %s not found", taskID)
	}
	return e, nil
}

func (r *Registry) writeSnapshot(t *Task) {
	if r.snapshots == nil {
		return
	}
	r.snapshots.Save(t.ID, t)
}
