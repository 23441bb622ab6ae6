package tts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sellcast/digitalhuman-api/internal/apperr"
	"github.com/sellcast/digitalhuman-api/internal/runninghub"
)

// queue is the slice of the job queue client this engine needs.
type queue interface {
	Upload(ctx context.Context, fileBytes []byte, filename, fileType string) (string, error)
	CreateJob(ctx context.Context, workflowRef string, nodes []runninghub.NodeInfo) (runninghub.CreatedJob, error)
	WaitForOutputs(ctx context.Context, jobID string, timeoutSec int) ([]runninghub.OutputFile, error)
	Download(ctx context.Context, fileURL string, timeout time.Duration) ([]byte, error)
}

// RemoteGenerator runs the MegaTTS3 workflow on the remote job queue.
type RemoteGenerator struct {
	queue                queue
	workflowRef          string
	waitTimeoutSec       int
	defaultReferencePath string
}

var _ Generator = (*RemoteGenerator)(nil)

// NewRemoteGenerator builds the remote engine. waitTimeoutSec of zero means
// wait indefinitely for the queue to finish.
func NewRemoteGenerator(client *runninghub.Client, workflowRef string, waitTimeoutSec int, defaultReferencePath string) *RemoteGenerator {
	return &RemoteGenerator{
		queue:                client,
		workflowRef:          workflowRef,
		waitTimeoutSec:       waitTimeoutSec,
		defaultReferencePath: defaultReferencePath,
	}
}

// GenerateAudio uploads the reference sample, injects the script text and
// sample into the workflow, and waits for the queue to deliver the audio.
func (g *RemoteGenerator) GenerateAudio(ctx context.Context, text string, referenceAudio []byte, referenceFilename string) (Result, error) {
	finalText := strings.TrimSpace(text)
	if finalText == "" {
		return Result{}, apperr.New(CodeGenerationFailed, "Text is empty; cannot generate audio.")
	}

	referenceAudio, referenceFilename = resolveReference(referenceAudio, referenceFilename, g.defaultReferencePath)
	if referenceAudio == nil {
		return Result{}, apperr.New(CodeReferenceAudioRequired, "reference audio is required for voice cloning")
	}

	uploadedName, err := g.queue.Upload(ctx, referenceAudio, referenceFilename, "input")
	if err != nil {
		return Result{}, err
	}

	nodes := []runninghub.NodeInfo{
		{NodeID: textNodeID, FieldName: textFieldName, FieldValue: finalText},
		{NodeID: refAudioNodeID, FieldName: refAudioField, FieldValue: uploadedName},
		{NodeID: runNodeID, FieldName: unloadModelFlag, FieldValue: false},
	}

	created, err := g.queue.CreateJob(ctx, g.workflowRef, nodes)
	if err != nil {
		return Result{}, err
	}

	outputs, err := g.queue.WaitForOutputs(ctx, created.JobID, g.waitTimeoutSec)
	if err != nil {
		return Result{}, err
	}

	audioOutput, ok := runninghub.PickAudioOutput(outputs)
	if !ok {
		return Result{}, apperr.Newf(CodeGenerationFailed, "speech workflow produced no audio output, jobId=%s", created.JobID)
	}
	fileURL := strings.TrimSpace(audioOutput.FileURL)
	if fileURL == "" {
		return Result{}, apperr.Newf(CodeGenerationFailed, "speech output missing fileUrl, jobId=%s", created.JobID)
	}

	audioBytes, err := g.queue.Download(ctx, fileURL, 0)
	if err != nil {
		return Result{}, err
	}

	return Result{
		AudioBytes: audioBytes,
		Filename:   filenameFromURL(fileURL, fmt.Sprintf("tts_output_%s.flac", created.JobID)),
		JobID:      created.JobID,
	}, nil
}
