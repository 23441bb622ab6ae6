// Package tts produces cloned speech for a task's voice script. Two engines
// are available: the remote MegaTTS3 workflow on the job queue, and a local
// runner executing the same workflow on this machine.
package tts

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Application error codes raised by this package.
const (
	CodeReferenceAudioRequired = "MEGA_TTS3_REFERENCE_AUDIO_REQUIRED"
	CodeGenerationFailed       = "MEGA_TTS3_FAILED"
	CodeGenerationTimeout      = "MEGA_TTS3_TIMEOUT"
)

// Workflow node bindings for the MegaTTS3 graph.
const (
	textNodeID      = "13"
	textFieldName   = "multi_line_prompt"
	refAudioNodeID  = "28"
	refAudioField   = "audio"
	runNodeID       = "33"
	unloadModelFlag = "unload_model"
)

// Result is one finished speech generation.
type Result struct {
	AudioBytes []byte
	Filename   string
	// JobID identifies the provider-side run for bookkeeping; empty for
	// engines that have no such handle.
	JobID string
}

// Generator turns script text plus a voice reference sample into audio.
type Generator interface {
	GenerateAudio(ctx context.Context, text string, referenceAudio []byte, referenceFilename string) (Result, error)
}

// resolveReference applies the configured default reference sample when the
// caller supplied none. Returns the effective bytes and filename.
func resolveReference(referenceAudio []byte, referenceFilename, defaultPath string) ([]byte, string) {
	if referenceAudio != nil {
		return referenceAudio, referenceFilename
	}
	defaultPath = strings.TrimSpace(defaultPath)
	if defaultPath == "" {
		return nil, referenceFilename
	}
	data, err := os.ReadFile(defaultPath)
	if err != nil {
		return nil, referenceFilename
	}
	return data, filepath.Base(defaultPath)
}

// filenameFromURL extracts the base filename of a download URL, falling back
// to a stable default for opaque URLs.
func filenameFromURL(fileURL, fallback string) string {
	parsed, err := url.Parse(fileURL)
	if err != nil {
		return fallback
	}
	if name := filepath.Base(parsed.Path); name != "" && name != "." && name != "/" {
		return name
	}
	return fallback
}
