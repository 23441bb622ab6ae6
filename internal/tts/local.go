package tts

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sellcast/digitalhuman-api/internal/apperr"
	"github.com/sellcast/digitalhuman-api/internal/comfy"
)

// LocalGenerator runs the MegaTTS3 workflow on the in-process local runner
// instead of the remote queue. The workflow document is loaded from disk on
// every call so edits take effect without a restart.
type LocalGenerator struct {
	runner               *comfy.Runner
	workflowPath         string
	defaultReferencePath string
}

var _ Generator = (*LocalGenerator)(nil)

// NewLocalGenerator builds the local engine around a shared runner.
func NewLocalGenerator(runner *comfy.Runner, workflowPath, defaultReferencePath string) *LocalGenerator {
	return &LocalGenerator{
		runner:               runner,
		workflowPath:         workflowPath,
		defaultReferencePath: defaultReferencePath,
	}
}

// GenerateAudio stages the reference sample, injects text and sample into the
// workflow prompt, and executes it locally. The run's temp directory is
// always cleaned up before returning.
func (g *LocalGenerator) GenerateAudio(ctx context.Context, text string, referenceAudio []byte, referenceFilename string) (Result, error) {
	finalText := strings.TrimSpace(text)
	if finalText == "" {
		return Result{}, apperr.New(CodeGenerationFailed, "Text is empty; cannot generate audio.")
	}

	referenceAudio, referenceFilename = resolveReference(referenceAudio, referenceFilename, g.defaultReferencePath)
	if referenceAudio == nil {
		return Result{}, apperr.New(CodeReferenceAudioRequired, "reference audio is required for voice cloning")
	}

	doc, err := comfy.LoadWorkflow(g.workflowPath)
	if err != nil {
		return Result{}, err
	}
	var prompt map[string]comfy.PromptNode
	if comfy.IsAPIPrompt(doc) {
		if err := json.Unmarshal(doc, &prompt); err != nil {
			return Result{}, apperr.Wrap(comfy.CodeWorkflowError, "workflow JSON decode failed", err)
		}
	} else {
		prompt, err = comfy.WorkflowToPrompt(doc)
		if err != nil {
			return Result{}, err
		}
	}

	stagedName := g.runner.StageFile(referenceAudio, referenceFilename)

	if err := comfy.SetPromptInput(prompt, textNodeID, textFieldName, finalText); err != nil {
		return Result{}, err
	}
	if err := comfy.SetPromptInput(prompt, refAudioNodeID, refAudioField, stagedName); err != nil {
		return Result{}, err
	}
	if err := comfy.SetPromptInput(prompt, runNodeID, unloadModelFlag, false); err != nil {
		return Result{}, err
	}

	promptDoc, err := json.Marshal(prompt)
	if err != nil {
		return Result{}, apperr.Wrap(comfy.CodeWorkflowError, "workflow encode failed", err)
	}

	runID, err := g.runner.Run(ctx, promptDoc)
	if err != nil {
		return Result{}, err
	}
	defer g.runner.Cleanup(runID)

	files, err := g.runner.Outputs(runID)
	if err != nil {
		return Result{}, err
	}
	audioFile, ok := comfy.PickAudioFile(files)
	if !ok {
		return Result{}, apperr.Newf(CodeGenerationFailed, "local speech run produced no audio output, runId=%s", runID)
	}

	audioBytes, err := g.runner.ReadFile(audioFile)
	if err != nil {
		return Result{}, err
	}

	return Result{
		AudioBytes: audioBytes,
		Filename:   audioFile.Filename,
		JobID:      runID,
	}, nil
}
