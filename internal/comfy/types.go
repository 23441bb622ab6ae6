// Package comfy executes ComfyUI workflows through a local subprocess runner.
// The runner is a single shared runtime, so runs are serialized with an
// in-process mutex plus a cross-process file lock.
package comfy

// Application error codes raised by this package.
const (
	CodeWorkflowError = "COMFY_WORKFLOW_ERROR"
	CodeQueueTimeout  = "COMFY_QUEUE_TIMEOUT"
)

// FileMeta describes one file produced by a local run. AbsPath stays valid
// until Cleanup is called for the owning run.
type FileMeta struct {
	Filename string
	AbsPath  string
}

// Config holds the local runner configuration.
type Config struct {
	// BasePath is the ComfyUI installation directory. Empty selects the
	// bundled third_party default.
	BasePath string
	// RunnerCmd is the shell-style command line that launches the runner,
	// e.g. "python3 -m comfy_runner".
	RunnerCmd string
	// TimeoutSec is the hard per-run execution timeout. Values below 30 are
	// clamped to 30.
	TimeoutSec int
}

// runResult is the JSON document the runner prints on stdout.
type runResult struct {
	FilePaths  []string `json:"file_paths"`
	TextOutput []string `json:"text_output"`
}
