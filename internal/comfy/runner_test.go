package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sellcast/digitalhuman-api/internal/apperr"
)

func newTestRunner(t *testing.T, basePath string) *Runner {
	t.Helper()
	r, err := NewRunner(Config{BasePath: basePath, RunnerCmd: "python3 -m comfy_runner"}, nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r
}

func newComfyInstall(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.py"), []byte("# entry"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

// stubExec dispatches the runtime probe and run invocations separately. The
// probe is recognized by its "-c" argument.
func stubExec(probe, run execFunc) execFunc {
	return func(ctx context.Context, dir string, env []string, argv []string) ([]byte, []byte, error) {
		if len(argv) >= 2 && argv[1] == "-c" {
			if probe == nil {
				return nil, nil, nil
			}
			return probe(ctx, dir, env, argv)
		}
		return run(ctx, dir, env, argv)
	}
}

func TestNewRunner_BadCommandLine(t *testing.T) {
	_, err := NewRunner(Config{RunnerCmd: `python3 "unterminated`}, nil)
	if err == nil {
		t.Fatal("expected parse error for unterminated quote")
	}
}

func TestStageFile(t *testing.T) {
	r := newTestRunner(t, "")

	name := r.StageFile([]byte("data"), "../../etc/passwd")
	if strings.Contains(name, "/") || !strings.HasSuffix(name, "_passwd") {
		t.Errorf("staged name not sanitized: %s", name)
	}

	other := r.StageFile([]byte("data"), "voice.wav")
	if name == other {
		t.Error("staged names must be unique")
	}
	if !strings.HasSuffix(other, "_voice.wav") {
		t.Errorf("original filename not preserved: %s", other)
	}
}

func TestRun_MissingInstallation(t *testing.T) {
	r := newTestRunner(t, filepath.Join(t.TempDir(), "nowhere"))

	_, err := r.Run(context.Background(), []byte(`{"1": {"class_type": "X", "inputs": {}}}`))
	if apperr.CodeOf(err, "") != CodeWorkflowError {
		t.Fatalf("expected %s, got %v", CodeWorkflowError, err)
	}
}

func TestRun_RuntimeProbeFailure(t *testing.T) {
	r := newTestRunner(t, newComfyInstall(t))
	r.execute = stubExec(
		func(ctx context.Context, dir string, env []string, argv []string) ([]byte, []byte, error) {
			return nil, []byte("Traceback (most recent call last):\nModuleNotFoundError: No module named 'torch'"), errors.New("exit status 1")
		},
		func(ctx context.Context, dir string, env []string, argv []string) ([]byte, []byte, error) {
			t.Fatal("run must not execute when the probe fails")
			return nil, nil, nil
		},
	)

	_, err := r.Run(context.Background(), []byte(`{"1": {"class_type": "X", "inputs": {}}}`))
	if apperr.CodeOf(err, "") != CodeWorkflowError {
		t.Fatalf("expected %s, got %v", CodeWorkflowError, err)
	}
	if msg := apperr.MessageOf(err); !strings.Contains(msg, "No module named 'torch'") {
		t.Errorf("probe failure should surface the stderr tail, got %q", msg)
	}
	if r.probed {
		t.Error("failed probe must not be cached as success")
	}
}

func TestRun_Success(t *testing.T) {
	base := newComfyInstall(t)
	r := newTestRunner(t, base)

	stagedName := r.StageFile([]byte("wav bytes"), "ref.wav")

	var gotDir string
	var gotArgv []string
	r.execute = stubExec(nil, func(ctx context.Context, dir string, env []string, argv []string) ([]byte, []byte, error) {
		gotDir = dir
		gotArgv = argv

		outputDir := flagValue(argv, "--output")
		promptPath := flagValue(argv, "--workflow")

		doc, err := os.ReadFile(promptPath)
		if err != nil {
			return nil, nil, err
		}
		var prompt map[string]PromptNode
		if err := json.Unmarshal(doc, &prompt); err != nil {
			return nil, nil, err
		}
		if _, ok := prompt["1"]; !ok {
			return nil, nil, fmt.Errorf("prompt missing node 1: %s", doc)
		}

		inputPath := flagValue(argv, "--input")
		if inputPath == "" {
			return nil, nil, errors.New("staged input not passed to runner")
		}
		if data, err := os.ReadFile(inputPath); err != nil || string(data) != "wav bytes" {
			return nil, nil, fmt.Errorf("staged input not materialized: %v", err)
		}

		resultPath := filepath.Join(outputDir, "result.wav")
		if err := os.WriteFile(resultPath, []byte("audio"), 0o644); err != nil {
			return nil, nil, err
		}
		stdout, _ := json.Marshal(runResult{FilePaths: []string{resultPath}})
		return stdout, nil, nil
	})

	runID, err := r.Run(context.Background(), []byte(`{"1": {"class_type": "LoadAudio", "inputs": {}}}`))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gotDir != base {
		t.Errorf("subprocess dir = %s, want %s", gotDir, base)
	}
	if gotArgv[0] != "python3" {
		t.Errorf("unexpected argv: %v", gotArgv)
	}
	if !strings.Contains(flagValue(gotArgv, "--input"), stagedName) {
		t.Errorf("staged name missing from argv: %v", gotArgv)
	}

	files, err := r.Outputs(runID)
	if err != nil {
		t.Fatalf("Outputs: %v", err)
	}
	if len(files) != 1 || files[0].Filename != "result.wav" {
		t.Fatalf("unexpected outputs: %v", files)
	}

	data, err := r.ReadFile(files[0])
	if err != nil || string(data) != "audio" {
		t.Fatalf("ReadFile = %q, %v", data, err)
	}

	// Staged inputs are consumed by the run.
	r.stagedMu.Lock()
	remaining := len(r.staged)
	r.stagedMu.Unlock()
	if remaining != 0 {
		t.Errorf("staged files not cleared after run: %d left", remaining)
	}

	r.Cleanup(runID)
	if _, err := os.Stat(files[0].AbsPath); !os.IsNotExist(err) {
		t.Error("Cleanup must remove the run directory")
	}
	if _, err := r.Outputs(runID); apperr.CodeOf(err, "") != CodeQueueTimeout {
		t.Errorf("expected %s after cleanup, got %v", CodeQueueTimeout, err)
	}
}

func TestRun_FallsBackToOutputDirWalk(t *testing.T) {
	r := newTestRunner(t, newComfyInstall(t))
	r.execute = stubExec(nil, func(ctx context.Context, dir string, env []string, argv []string) ([]byte, []byte, error) {
		outputDir := flagValue(argv, "--output")
		nested := filepath.Join(outputDir, "audio")
		if err := os.MkdirAll(nested, 0o755); err != nil {
			return nil, nil, err
		}
		if err := os.WriteFile(filepath.Join(nested, "out.flac"), []byte("x"), 0o644); err != nil {
			return nil, nil, err
		}
		return []byte("not json"), nil, nil
	})

	runID, err := r.Run(context.Background(), []byte(`{"1": {"class_type": "X", "inputs": {}}}`))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	t.Cleanup(func() { r.Cleanup(runID) })

	files, err := r.Outputs(runID)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Filename != "out.flac" {
		t.Fatalf("unexpected outputs: %v", files)
	}
}

func TestRun_Timeout(t *testing.T) {
	r := newTestRunner(t, newComfyInstall(t))
	r.timeout = 50 * time.Millisecond
	r.execute = stubExec(nil, func(ctx context.Context, dir string, env []string, argv []string) ([]byte, []byte, error) {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	})

	_, err := r.Run(context.Background(), []byte(`{"1": {"class_type": "X", "inputs": {}}}`))
	if apperr.CodeOf(err, "") != CodeQueueTimeout {
		t.Fatalf("expected %s, got %v", CodeQueueTimeout, err)
	}
}

func TestRun_FailureRemovesRunDir(t *testing.T) {
	r := newTestRunner(t, newComfyInstall(t))
	var runDir string
	r.execute = stubExec(nil, func(ctx context.Context, dir string, env []string, argv []string) ([]byte, []byte, error) {
		runDir = filepath.Dir(flagValue(argv, "--workflow"))
		return nil, []byte("boom"), errors.New("exit status 2")
	})

	_, err := r.Run(context.Background(), []byte(`{"1": {"class_type": "X", "inputs": {}}}`))
	if apperr.CodeOf(err, "") != CodeWorkflowError {
		t.Fatalf("expected %s, got %v", CodeWorkflowError, err)
	}
	if runDir == "" {
		t.Fatal("stub never ran")
	}
	if _, statErr := os.Stat(runDir); !os.IsNotExist(statErr) {
		t.Error("failed run must not leak its temp directory")
	}
}

func TestRun_NeverOverlaps(t *testing.T) {
	r := newTestRunner(t, newComfyInstall(t))
	r.probed = true

	var active, maxActive int32
	r.execute = stubExec(nil, func(ctx context.Context, dir string, env []string, argv []string) ([]byte, []byte, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			seen := atomic.LoadInt32(&maxActive)
			if n <= seen || atomic.CompareAndSwapInt32(&maxActive, seen, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return []byte("{}"), nil, nil
	})

	done := make(chan string, 4)
	for i := 0; i < 4; i++ {
		go func() {
			runID, err := r.Run(context.Background(), []byte(`{"1": {"class_type": "X", "inputs": {}}}`))
			if err != nil {
				t.Errorf("Run: %v", err)
			}
			done <- runID
		}()
	}
	for i := 0; i < 4; i++ {
		if runID := <-done; runID != "" {
			r.Cleanup(runID)
		}
	}

	if got := atomic.LoadInt32(&maxActive); got != 1 {
		t.Errorf("subprocess executions overlapped: max concurrent = %d", got)
	}
}

func TestLoadWorkflow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wf.json")
	if err := os.WriteFile(path, []byte("\ufeff{\"nodes\": []}"), 0o644); err != nil {
		t.Fatal(err)
	}

	data, err := LoadWorkflow(path)
	if err != nil {
		t.Fatalf("LoadWorkflow: %v", err)
	}
	if !json.Valid(data) || strings.HasPrefix(string(data), "\ufeff") {
		t.Errorf("BOM not stripped: %q", data)
	}

	if _, err := LoadWorkflow(filepath.Join(dir, "missing.json")); apperr.CodeOf(err, "") != CodeWorkflowError {
		t.Errorf("expected %s for missing file, got %v", CodeWorkflowError, err)
	}
}

func TestPickAudioFile(t *testing.T) {
	files := []FileMeta{
		{Filename: "frame.png"},
		{Filename: "speech.WAV"},
	}
	got, ok := PickAudioFile(files)
	if !ok || got.Filename != "speech.WAV" {
		t.Fatalf("PickAudioFile = %v, %v", got, ok)
	}

	single := []FileMeta{{Filename: "unknown.bin"}}
	if got, ok := PickAudioFile(single); !ok || got.Filename != "unknown.bin" {
		t.Error("single output should be accepted regardless of extension")
	}

	if _, ok := PickAudioFile(nil); ok {
		t.Error("no outputs should yield no match")
	}
}

func TestPickVideoFile(t *testing.T) {
	files := []FileMeta{{Filename: "talk.mp4"}, {Filename: "talk.wav"}}
	got, ok := PickVideoFile(files)
	if !ok || got.Filename != "talk.mp4" {
		t.Fatalf("PickVideoFile = %v, %v", got, ok)
	}

	if _, ok := PickVideoFile([]FileMeta{{Filename: "only.png"}}); ok {
		t.Error("video picker must not fall back to a single non-matching output")
	}
}

func flagValue(argv []string, flag string) string {
	for i, arg := range argv {
		if arg == flag && i+1 < len(argv) {
			return argv[i+1]
		}
	}
	return ""
}
