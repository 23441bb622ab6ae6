package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/shlex"
	"github.com/google/uuid"

	"github.com/sellcast/digitalhuman-api/internal/apperr"
)

const (
	defaultRunnerCmd  = "python3 -m comfy_runner"
	minRunTimeout     = 30 * time.Second
	runtimeProbeLimit = 30 * time.Second
)

var ErrRunnerCmdEmpty = errors.New("comfy: runner command is empty")

// execFunc runs one subprocess and returns its stdout and stderr. Replaced in
// tests so runs never spawn a real runtime.
type execFunc func(ctx context.Context, dir string, env []string, argv []string) (stdout, stderr []byte, err error)

// Runner executes workflows through a local subprocess runtime. The runtime
// owns shared model state, so Run serializes: an in-process mutex guards this
// instance and a file lock guards against sibling processes.
type Runner struct {
	basePath string
	argv     []string
	timeout  time.Duration
	logger   *slog.Logger
	execute  execFunc
	fileLock *flock.Flock

	runMu sync.Mutex

	probeMu sync.Mutex
	probed  bool

	stagedMu sync.Mutex
	staged   map[string][]byte

	runsMu sync.Mutex
	runs   map[string]runEntry
}

type runEntry struct {
	files  []FileMeta
	runDir string
}

// NewRunner builds a local runner from config. The base installation is not
// touched until the first Run so construction stays cheap.
func NewRunner(cfg Config, logger *slog.Logger) (*Runner, error) {
	cmdLine := strings.TrimSpace(cfg.RunnerCmd)
	if cmdLine == "" {
		cmdLine = defaultRunnerCmd
	}
	argv, err := shlex.Split(cmdLine)
	if err != nil {
		return nil, fmt.Errorf("comfy: parsing runner command: %w", err)
	}
	if len(argv) == 0 {
		return nil, ErrRunnerCmdEmpty
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout < minRunTimeout {
		timeout = minRunTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		basePath: strings.TrimSpace(cfg.BasePath),
		argv:     argv,
		timeout:  timeout,
		logger:   logger,
		execute:  runSubprocess,
		fileLock: flock.New(filepath.Join(os.TempDir(), "digitalhuman-comfy-runner.lock")),
		staged:   make(map[string][]byte),
		runs:     make(map[string]runEntry),
	}, nil
}

// LoadWorkflow reads a workflow document from disk, tolerating a UTF-8 BOM.
func LoadWorkflow(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(CodeWorkflowError, fmt.Sprintf("workflow file not found: %s", path), err)
	}
	data = []byte(strings.TrimPrefix(string(data), "\ufeff"))
	if !json.Valid(data) {
		return nil, apperr.New(CodeWorkflowError, fmt.Sprintf("workflow JSON decode failed: %s", path))
	}
	return data, nil
}

// StageFile registers input bytes for the next Run under a collision-free
// name and returns that name for use in workflow node fields.
func (r *Runner) StageFile(data []byte, filename string) string {
	safe := filepath.Base(filename)
	if safe == "" || safe == "." || safe == string(filepath.Separator) {
		safe = "input.bin"
	}
	name := uuid.New().String() + "_" + safe

	r.stagedMu.Lock()
	r.staged[name] = data
	r.stagedMu.Unlock()
	return name
}

// resolveBasePath returns the first candidate directory containing main.py:
// the configured path, then the bundled third_party default.
func (r *Runner) resolveBasePath() (string, error) {
	candidates := make([]string, 0, 2)
	if r.basePath != "" {
		candidates = append(candidates, r.basePath)
	}
	candidates = append(candidates, filepath.Join("third_party", "ComfyUI"))

	for _, candidate := range candidates {
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(abs, "main.py")); err == nil {
			return abs, nil
		}
	}
	return "", apperr.New(CodeWorkflowError,
		"ComfyUI main.py not found. Please set COMFY_BASE_PATH to a valid ComfyUI directory.")
}

// verifyRuntime probes the interpreter for the torch stack once. Only success
// is cached; a failed probe is retried on the next run.
func (r *Runner) verifyRuntime(ctx context.Context) error {
	r.probeMu.Lock()
	defer r.probeMu.Unlock()
	if r.probed {
		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, runtimeProbeLimit)
	defer cancel()

	argv := []string{r.argv[0], "-c", "import torch, torchaudio"}
	stdout, stderr, err := r.execute(probeCtx, "", nil, argv)
	if err != nil {
		reason := lastLine(stderr)
		if reason == "" {
			reason = lastLine(stdout)
		}
		if reason == "" {
			reason = err.Error()
		}
		return apperr.New(CodeWorkflowError, "PyTorch runtime unavailable: "+reason)
	}

	r.probed = true
	return nil
}

// Run translates the workflow if needed, materializes staged inputs into a
// fresh temp directory, and executes the runner subprocess. It returns a run
// ID whose outputs stay readable until Cleanup. Staged files are consumed
// whether or not the run succeeds.
func (r *Runner) Run(ctx context.Context, workflow []byte) (string, error) {
	defer r.clearStaged()

	base, err := r.resolveBasePath()
	if err != nil {
		return "", err
	}
	if err := r.verifyRuntime(ctx); err != nil {
		return "", err
	}

	prompt := workflow
	if !IsAPIPrompt(workflow) {
		translated, err := WorkflowToPrompt(workflow)
		if err != nil {
			return "", err
		}
		prompt, err = json.Marshal(translated)
		if err != nil {
			return "", apperr.Wrap(CodeWorkflowError, "workflow encode failed", err)
		}
	}

	runID := uuid.New().String()
	runDir, err := os.MkdirTemp("", "comfy_local_run_")
	if err != nil {
		return "", apperr.Wrap(CodeWorkflowError, "creating run directory", err)
	}
	cleanupDir := true
	defer func() {
		if cleanupDir {
			os.RemoveAll(runDir)
		}
	}()

	promptPath := filepath.Join(runDir, "workflow_api.json")
	outputDir := filepath.Join(runDir, "output")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", apperr.Wrap(CodeWorkflowError, "creating output directory", err)
	}
	if err := os.WriteFile(promptPath, prompt, 0o644); err != nil {
		return "", apperr.Wrap(CodeWorkflowError, "writing workflow document", err)
	}

	inputPaths, err := r.materializeStaged(runDir)
	if err != nil {
		return "", err
	}

	argv := append(append([]string{}, r.argv...),
		"--workflow", promptPath,
		"--output", outputDir,
	)
	for _, p := range inputPaths {
		argv = append(argv, "--input", p)
	}

	env := append(os.Environ(), "COMFY_BASE_PATH="+base+string(os.PathSeparator))

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.runMu.Lock()
	lockErr := r.fileLock.Lock()
	start := time.Now()
	stdout, stderr, execErr := r.execute(runCtx, base, env, argv)
	if lockErr == nil {
		r.fileLock.Unlock()
	}
	r.runMu.Unlock()

	if execErr != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return "", apperr.New(CodeQueueTimeout, "local workflow execution timed out")
		}
		reason := lastLine(stderr)
		if reason == "" {
			reason = execErr.Error()
		}
		return "", apperr.New(CodeWorkflowError, "local workflow execution failed: "+reason)
	}

	r.logger.Info("local workflow run finished",
		slog.String("run_id", runID),
		slog.Duration("elapsed", time.Since(start)),
	)

	files := collectOutputs(stdout, outputDir)

	r.runsMu.Lock()
	r.runs[runID] = runEntry{files: files, runDir: runDir}
	r.runsMu.Unlock()

	cleanupDir = false
	return runID, nil
}

// Outputs returns the files produced by a finished run.
func (r *Runner) Outputs(runID string) ([]FileMeta, error) {
	r.runsMu.Lock()
	entry, ok := r.runs[runID]
	r.runsMu.Unlock()
	if !ok {
		return nil, apperr.New(CodeQueueTimeout, "run result not found, run_id="+runID)
	}
	return entry.files, nil
}

// ReadFile loads the bytes of one run output.
func (r *Runner) ReadFile(meta FileMeta) ([]byte, error) {
	if meta.AbsPath == "" {
		return nil, apperr.New(CodeWorkflowError, "output file metadata missing path")
	}
	data, err := os.ReadFile(meta.AbsPath)
	if err != nil {
		return nil, apperr.Wrap(CodeWorkflowError, "output file not found: "+meta.AbsPath, err)
	}
	return data, nil
}

// Cleanup removes the temp directory of a run and forgets its outputs. It is
// a no-op for unknown IDs so callers may defer it unconditionally.
func (r *Runner) Cleanup(runID string) {
	r.runsMu.Lock()
	entry, ok := r.runs[runID]
	delete(r.runs, runID)
	r.runsMu.Unlock()
	if !ok {
		return
	}
	if entry.runDir != "" {
		if err := os.RemoveAll(entry.runDir); err != nil {
			r.logger.Warn("removing run directory", slog.String("run_id", runID), slog.Any("error", err))
		}
	}
}

// PickAudioFile selects the first audio-like output by filename extension.
// A single output of any kind is accepted, since single-output runs are
// assumed to contain the wanted artifact.
func PickAudioFile(files []FileMeta) (FileMeta, bool) {
	for _, f := range files {
		if hasExtension(f.Filename, []string{".mp3", ".wav", ".flac", ".m4a", ".ogg"}) {
			return f, true
		}
	}
	if len(files) == 1 {
		return files[0], true
	}
	return FileMeta{}, false
}

// PickVideoFile selects the first video-like output by filename extension.
func PickVideoFile(files []FileMeta) (FileMeta, bool) {
	for _, f := range files {
		if hasExtension(f.Filename, []string{".mp4", ".mov", ".webm", ".mkv"}) {
			return f, true
		}
	}
	return FileMeta{}, false
}

func hasExtension(name string, extensions []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func (r *Runner) materializeStaged(runDir string) ([]string, error) {
	r.stagedMu.Lock()
	defer r.stagedMu.Unlock()

	paths := make([]string, 0, len(r.staged))
	for name, content := range r.staged {
		path := filepath.Join(runDir, name)
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return nil, apperr.Wrap(CodeWorkflowError, "writing staged input "+name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (r *Runner) clearStaged() {
	r.stagedMu.Lock()
	r.staged = make(map[string][]byte)
	r.stagedMu.Unlock()
}

// collectOutputs prefers the file list declared on stdout and falls back to
// walking the output directory when the runner declares nothing.
func collectOutputs(stdout []byte, outputDir string) []FileMeta {
	var declared []string
	var result runResult
	if err := json.Unmarshal(stdout, &result); err == nil {
		declared = result.FilePaths
	}

	if len(declared) == 0 {
		filepath.WalkDir(outputDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			declared = append(declared, path)
			return nil
		})
	}

	files := make([]FileMeta, 0, len(declared))
	for _, p := range declared {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(outputDir, p)
		}
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		files = append(files, FileMeta{Filename: filepath.Base(abs), AbsPath: abs})
	}
	return files
}

func runSubprocess(ctx context.Context, dir string, env []string, argv []string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return []byte(stdout.String()), []byte(stderr.String()), err
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
