// Package video renders the talking-head clip by injecting runtime inputs
// into the Infinitetalk workflow and executing it on the remote job queue.
package video

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/sellcast/digitalhuman-api/internal/apperr"
	"github.com/sellcast/digitalhuman-api/internal/runninghub"
)

// CodeGenerationFailed is the application error code for video stage failures.
const CodeGenerationFailed = "VIDEO_GENERATION_FAILED"

// Duration modes for the rendered clip.
const (
	DurationFollowAudio = "follow_audio"
	DurationFixed       = "fixed"
)

// Workflow node bindings for the Infinitetalk graph.
const (
	imageNodeID       = "133"
	audioNodeID       = "125"
	promptNodeID      = "205"
	embedsNodeID      = "194"
	aspectRatioNodeID = "204"

	aspectRatioFitMode = "crop"
	defaultPromptText  = "person speaking naturally"
	fps                = 25

	downloadTimeout = 600 * time.Second
)

var platformAspectRatios = map[string]string{
	"tiktok":    "9:16",
	"instagram": "1:1",
}

// AspectRatioForPlatform maps a delivery platform to the clip's aspect ratio.
// Unsupported platforms are a request error.
func AspectRatioForPlatform(platform string) (string, error) {
	ratio, ok := platformAspectRatios[strings.ToLower(strings.TrimSpace(platform))]
	if !ok {
		return "", apperr.Newf(apperr.CodeInvalidRequest, "unsupported platform: %s", platform)
	}
	return ratio, nil
}

// Input carries everything the workflow needs for one render.
type Input struct {
	ImageBytes    []byte
	ImageFilename string
	AudioBytes    []byte
	AudioFilename string
	// PromptText describes the on-camera action; empty falls back to a
	// neutral speaking prompt.
	PromptText string
	Platform   string
	// DurationMode is DurationFollowAudio or DurationFixed.
	DurationMode     string
	FixedDurationSec int
}

// Result is one finished render.
type Result struct {
	VideoBytes         []byte
	Filename           string
	JobID              string
	AspectRatioApplied string
}

// queue is the slice of the job queue client this package needs.
type queue interface {
	Upload(ctx context.Context, fileBytes []byte, filename, fileType string) (string, error)
	CreateJob(ctx context.Context, workflowRef string, nodes []runninghub.NodeInfo) (runninghub.CreatedJob, error)
	WaitForOutputs(ctx context.Context, jobID string, timeoutSec int) ([]runninghub.OutputFile, error)
	Download(ctx context.Context, fileURL string, timeout time.Duration) ([]byte, error)
}

// Generator executes Infinitetalk renders on the remote queue.
type Generator struct {
	queue       queue
	workflowRef string
}

// NewGenerator builds a video generator over the queue client.
func NewGenerator(client *runninghub.Client, workflowRef string) *Generator {
	return &Generator{queue: client, workflowRef: workflowRef}
}

// GenerateVideo uploads the still frame and speech audio, binds them into the
// workflow, and waits without a deadline for the render to finish. In fixed
// duration mode the frame count is pinned to the requested length at 25 fps;
// otherwise the workflow follows the audio duration.
func (g *Generator) GenerateVideo(ctx context.Context, in Input) (Result, error) {
	aspectRatio, err := AspectRatioForPlatform(in.Platform)
	if err != nil {
		return Result{}, err
	}

	uploadedImage, err := g.queue.Upload(ctx, in.ImageBytes, in.ImageFilename, "input")
	if err != nil {
		return Result{}, err
	}
	uploadedAudio, err := g.queue.Upload(ctx, in.AudioBytes, in.AudioFilename, "input")
	if err != nil {
		return Result{}, err
	}

	promptText := strings.TrimSpace(in.PromptText)
	if promptText == "" {
		promptText = defaultPromptText
	}

	nodes := []runninghub.NodeInfo{
		{NodeID: imageNodeID, FieldName: "image", FieldValue: uploadedImage},
		{NodeID: audioNodeID, FieldName: "audio", FieldValue: uploadedAudio},
		{NodeID: promptNodeID, FieldName: "text", FieldValue: promptText},
		{NodeID: aspectRatioNodeID, FieldName: "aspect_ratio", FieldValue: aspectRatio},
		{NodeID: aspectRatioNodeID, FieldName: "fit", FieldValue: aspectRatioFitMode},
	}
	if in.DurationMode == DurationFixed {
		nodes = append(nodes, runninghub.NodeInfo{
			NodeID:     embedsNodeID,
			FieldName:  "num_frames",
			FieldValue: fixedNumFrames(in.FixedDurationSec),
		})
	}

	created, err := g.queue.CreateJob(ctx, g.workflowRef, nodes)
	if err != nil {
		return Result{}, err
	}

	outputs, err := g.queue.WaitForOutputs(ctx, created.JobID, 0)
	if err != nil {
		return Result{}, err
	}

	videoOutput, ok := runninghub.PickVideoOutput(outputs)
	if !ok {
		return Result{}, apperr.Newf(CodeGenerationFailed, "render produced no video output, jobId=%s", created.JobID)
	}
	fileURL := strings.TrimSpace(videoOutput.FileURL)
	if fileURL == "" {
		return Result{}, apperr.Newf(CodeGenerationFailed, "render output missing fileUrl, jobId=%s", created.JobID)
	}

	videoBytes, err := g.queue.Download(ctx, fileURL, downloadTimeout)
	if err != nil {
		return Result{}, err
	}

	return Result{
		VideoBytes:         videoBytes,
		Filename:           filenameFromURL(fileURL, fmt.Sprintf("render_%s.mp4", created.JobID)),
		JobID:              created.JobID,
		AspectRatioApplied: aspectRatio,
	}, nil
}

func fixedNumFrames(fixedDurationSec int) int {
	if fixedDurationSec == 0 {
		fixedDurationSec = 12
	}
	if fixedDurationSec < 1 {
		fixedDurationSec = 1
	}
	return fixedDurationSec * fps
}

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
