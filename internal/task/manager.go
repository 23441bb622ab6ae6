package task

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/sellcast/digitalhuman-api/internal/apperr"
	"github.com/sellcast/digitalhuman-api/internal/llm"
	"github.com/sellcast/digitalhuman-api/internal/tts"
	"github.com/sellcast/digitalhuman-api/internal/video"
)

// Application error codes raised by the orchestration layer.
const (
	CodeUploadFailed           = "UPLOAD_FAILED"
	CodeScriptInputRequired    = "SCRIPT_INPUT_REQUIRED"
	CodeScriptGenerationFailed = "SCRIPT_GENERATION_FAILED"
	CodeInvalidLanguage        = "INVALID_LANGUAGE"
	CodeScriptRequired         = "SCRIPT_REQUIRED"
	CodeAudioRequired          = "AUDIO_REQUIRED"
	CodePortraitImageRequired  = "PORTRAIT_IMAGE_REQUIRED"
	CodeSceneImageRequired     = "SCENE_IMAGE_REQUIRED"
	CodeVideoGenerationFailed  = video.CodeGenerationFailed
)

// Progress waypoints for each stage of the pipeline.
const (
	progressUploading    = 10
	progressUploaded     = 30
	progressScriptStart  = 35
	progressScriptDone   = 50
	progressImageStart   = 55
	progressAudioStart   = 60
	progressImageDone    = 70
	progressAudioReady   = 72
	progressAudioPrep    = 73
	progressVideoStart   = 80
	progressCompleted    = 100
	maxSceneImages       = 2
	materialTimestampFmt = "20060102_150405"
)

// Uploader stores a binary artifact and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, key, contentType string) (string, error)
}

// ScriptGenerator writes voice scripts and image prompt briefs.
type ScriptGenerator interface {
	GenerateVoiceScript(ctx context.Context, productName, sellingPoints, language string) (string, error)
	GenerateModelPrompt(ctx context.Context) (llm.ModelPrompt, error)
}

// ImageGenerator renders the model still frame.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string, referenceImages []string, platform string) (string, error)
}

// VideoGenerator renders the talking-head clip.
type VideoGenerator interface {
	GenerateVideo(ctx context.Context, in video.Input) (video.Result, error)
}

// DurationProber measures audio duration; it reports 0 when unmeasurable.
type DurationProber interface {
	Duration(ctx context.Context, audioBytes []byte, filename string) float64
}

// Manager drives the pipeline stages over the task registry. Synchronous
// stages (upload, script, audio) run on the caller; the image→video sequence
// runs as one supervised background goroutine per task.
type Manager struct {
	registry *Registry
	uploader Uploader
	scripts  ScriptGenerator
	images   ImageGenerator
	speech   tts.Generator
	videos   VideoGenerator
	prober   DurationProber

	httpClient    *http.Client
	logger        *slog.Logger
	ttsTimeoutSec int
}

// Deps collects the manager's collaborators.
type Deps struct {
	Registry *Registry
	Uploader Uploader
	Scripts  ScriptGenerator
	Images   ImageGenerator
	Speech   tts.Generator
	Videos   VideoGenerator
	Prober   DurationProber
	// HTTPClient downloads intermediate artifacts; nil gets a default with a
	// 120s timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
	// TTSTimeoutSec bounds one audio generation; zero means unbounded.
	TTSTimeoutSec int
}

// NewManager wires a Manager from its dependencies.
func NewManager(deps Deps) *Manager {
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry:      deps.Registry,
		uploader:      deps.Uploader,
		scripts:       deps.Scripts,
		images:        deps.Images,
		speech:        deps.Speech,
		videos:        deps.Videos,
		prober:        deps.Prober,
		httpClient:    httpClient,
		logger:        logger,
		ttsTimeoutSec: deps.TTSTimeoutSec,
	}
}

// CreateTask registers a new pending task.
func (m *Manager) CreateTask() *Task {
	return m.registry.Create()
}

// GetTask returns a copy of the task record.
func (m *Manager) GetTask(taskID string) (*Task, error) {
	return m.registry.Get(taskID)
}

// DeleteTask removes the task and its debug snapshot.
func (m *Manager) DeleteTask(taskID string) error {
	return m.registry.Delete(taskID)
}

// Material is one uploaded binary input.
type Material struct {
	Data     []byte
	Filename string
}

// UploadMaterials stores up to two scene images and an optional portrait in
// object storage and records their URLs on the task.
func (m *Manager) UploadMaterials(ctx context.Context, taskID string, scenes []Material, portrait *Material) (sceneURLs []string, portraitURL string, err error) {
	if _, err := m.registry.Get(taskID); err != nil {
		return nil, "", err
	}

	if _, err := m.registry.Update(taskID, func(t *Task) {
		t.Status = StatusUploading
		t.CurrentStep = "uploading materials"
		t.Progress = progressUploading
		t.Error = ""
		t.ErrorCode = ""
	}); err != nil {
		return nil, "", err
	}

	timestamp := time.Now().Format(materialTimestampFmt)

	if len(scenes) > maxSceneImages {
		scenes = scenes[:maxSceneImages]
	}
	for i, scene := range scenes {
		key := fmt.Sprintf("scene_%s_%s_%d_%s", timestamp, taskID, i, safeFilename(scene.Filename, "scene.jpg"))
		url, uploadErr := m.uploader.Upload(ctx, scene.Data, key, contentTypeFor(scene.Filename, "image/jpeg"))
		if uploadErr != nil {
			return nil, "", m.failStage(taskID, uploadErr, CodeUploadFailed)
		}
		sceneURLs = append(sceneURLs, url)
	}

	if portrait != nil {
		key := fmt.Sprintf("portrait_%s_%s_%s", timestamp, taskID, safeFilename(portrait.Filename, "portrait.jpg"))
		portraitURL, err = m.uploader.Upload(ctx, portrait.Data, key, contentTypeFor(portrait.Filename, "image/jpeg"))
		if err != nil {
			return nil, "", m.failStage(taskID, err, CodeUploadFailed)
		}
	}

	if _, err := m.registry.Update(taskID, func(t *Task) {
		t.SceneImages = sceneURLs
		t.PortraitImage = portraitURL
		t.Progress = progressUploaded
		t.CurrentStep = "materials uploaded"
	}); err != nil {
		return nil, "", err
	}
	return sceneURLs, portraitURL, nil
}

// ScriptResult is the synchronous outcome of script generation.
type ScriptResult struct {
	VoiceText    string
	PersonPrompt string
	ActionText   string
}

// GenerateScript writes the voice script for the task. It always replaces
// any prior script, so re-invocation is safe.
func (m *Manager) GenerateScript(ctx context.Context, taskID, productName, sellingPoints, language string) (ScriptResult, error) {
	if _, err := m.registry.Get(taskID); err != nil {
		return ScriptResult{}, err
	}

	lang := Language(language)
	if !lang.IsValid() {
		return ScriptResult{}, apperr.Newf(CodeInvalidLanguage, "unsupported language: %s", language)
	}

	productName = strings.TrimSpace(productName)
	sellingPoints = strings.TrimSpace(sellingPoints)
	if productName == "" && sellingPoints == "" {
		return ScriptResult{}, apperr.New(CodeScriptInputRequired, "product name and selling points cannot both be empty")
	}

	if _, err := m.registry.Update(taskID, func(t *Task) {
		t.Status = StatusGeneratingScript
		t.CurrentStep = "generating script"
		t.Progress = progressScriptStart
		t.ProductName = productName
		t.CoreSellingPoints = sellingPoints
		t.Language = lang
		t.ScriptMode = ScriptModeLLM
		t.Error = ""
		t.ErrorCode = ""
	}); err != nil {
		return ScriptResult{}, err
	}

	voiceText, err := m.scripts.GenerateVoiceScript(ctx, productName, sellingPoints, language)
	if err != nil {
		return ScriptResult{}, m.failStage(taskID, err, CodeScriptGenerationFailed)
	}

	updated, err := m.registry.Update(taskID, func(t *Task) {
		t.VoiceText = voiceText
		t.Progress = progressScriptDone
		t.CurrentStep = "script generated"
	})
	if err != nil {
		return ScriptResult{}, err
	}

	return ScriptResult{
		VoiceText:    voiceText,
		PersonPrompt: updated.PersonPrompt,
		ActionText:   updated.ActionText,
	}, nil
}

// AudioResult is the synchronous outcome of audio generation.
type AudioResult struct {
	TaskID           string
	AudioURL         string
	AudioDurationSec float64
	TTSEngineUsed    TTSEngine
}

// GenerateAudio runs the speech stage: it resolves the effective script text
// (an override flips the task to manual mode), submits the cloning job, and
// on success uploads the audio and marks the task AUDIO_READY. A configured
// overall timeout fails the task with the timeout code while the abandoned
// submission is drained in the background.
func (m *Manager) GenerateAudio(ctx context.Context, taskID, language string, voiceTextOverride *string, referenceAudio []byte, referenceFilename string) (AudioResult, error) {
	t, err := m.registry.Get(taskID)
	if err != nil {
		return AudioResult{}, err
	}

	lang := t.Language
	if language != "" {
		lang = Language(language)
		if !lang.IsValid() {
			return AudioResult{}, apperr.Newf(CodeInvalidLanguage, "unsupported language: %s", language)
		}
	}

	if voiceTextOverride != nil {
		patched := strings.TrimSpace(*voiceTextOverride)
		if patched == "" {
			return AudioResult{}, apperr.New(tts.CodeGenerationFailed, "edited script text cannot be empty")
		}
		if t, err = m.registry.Update(taskID, func(t *Task) {
			t.VoiceText = patched
			if t.ScriptMode != ScriptModeLLM {
				t.ScriptMode = ScriptModeManual
			}
		}); err != nil {
			return AudioResult{}, err
		}
	}

	text := strings.TrimSpace(t.VoiceText)
	if text == "" {
		return AudioResult{}, apperr.New(tts.CodeGenerationFailed, "task has no script yet; generate a script first")
	}

	if _, err := m.registry.Update(taskID, func(t *Task) {
		t.Status = StatusGeneratingAudio
		t.CurrentStep = "generating audio"
		t.Progress = progressAudioStart
		t.Language = lang
		t.Error = ""
		t.ErrorCode = ""
	}); err != nil {
		return AudioResult{}, err
	}

	result, err := m.generateSpeechBounded(ctx, text, referenceAudio, referenceFilename)
	if err != nil {
		return AudioResult{}, m.failStage(taskID, err, tts.CodeGenerationFailed)
	}

	duration := m.prober.Duration(ctx, result.AudioBytes, result.Filename)

	audioKey := fmt.Sprintf("audio_%s_%s_%s", time.Now().Format(materialTimestampFmt), taskID, safeFilename(result.Filename, "audio.mp3"))
	audioURL, err := m.uploader.Upload(ctx, result.AudioBytes, audioKey, contentTypeFor(result.Filename, "audio/mpeg"))
	if err != nil {
		return AudioResult{}, m.failStage(taskID, err, tts.CodeGenerationFailed)
	}

	if _, err := m.registry.Update(taskID, func(t *Task) {
		t.Status = StatusAudioReady
		t.CurrentStep = "audio ready"
		t.Progress = progressAudioReady
		t.AudioURL = audioURL
		t.FinalAudioURL = audioURL
		t.AudioDurationSec = duration
		t.TTSEngineUsed = TTSEngineMegaTTS3
		t.AudioSource = AudioSourceExistingGenerated
		t.AudioJobID = result.JobID
	}); err != nil {
		return AudioResult{}, err
	}

	return AudioResult{
		TaskID:           taskID,
		AudioURL:         audioURL,
		AudioDurationSec: duration,
		TTSEngineUsed:    TTSEngineMegaTTS3,
	}, nil
}

// generateSpeechBounded runs the speech engine under the configured overall
// timeout. On expiry the in-flight submission is cancelled and drained so its
// late outcome never surfaces as an unhandled failure.
func (m *Manager) generateSpeechBounded(ctx context.Context, text string, referenceAudio []byte, referenceFilename string) (tts.Result, error) {
	if m.ttsTimeoutSec <= 0 {
		return m.speech.GenerateAudio(ctx, text, referenceAudio, referenceFilename)
	}

	type outcome struct {
		result tts.Result
		err    error
	}

	genCtx, cancel := context.WithCancel(ctx)
	ch := make(chan outcome, 1)
	go func() {
		result, err := m.speech.GenerateAudio(genCtx, text, referenceAudio, referenceFilename)
		ch <- outcome{result: result, err: err}
	}()

	timer := time.NewTimer(time.Duration(m.ttsTimeoutSec) * time.Second)
	defer timer.Stop()

	select {
	case out := <-ch:
		cancel()
		return out.result, out.err
	case <-timer.C:
		cancel()
		go func() {
			out := <-ch
			if out.err != nil {
				m.logger.Debug("drained timed-out speech job", slog.String("error", out.err.Error()))
			}
		}()
		return tts.Result{}, apperr.Newf(tts.CodeGenerationTimeout,
			"speech generation exceeded %ds; set the timeout to 0 to wait indefinitely", m.ttsTimeoutSec)
	case <-ctx.Done():
		cancel()
		go func() { <-ch }()
		return tts.Result{}, ctx.Err()
	}
}

// StartGeneration validates the video request and launches the detached
// image→video sequence. At most one background run is active per task; a
// concurrent start is rejected instead of racing.
func (m *Manager) StartGeneration(ctx context.Context, taskID, platform, durationMode string, fixedDurationSec *int) error {
	t, err := m.registry.Get(taskID)
	if err != nil {
		return err
	}

	if strings.TrimSpace(t.VoiceText) == "" {
		return apperr.New(CodeScriptRequired, "generate a script before starting video generation")
	}
	if t.FinalAudioURL == "" {
		return apperr.New(CodeAudioRequired, "generate audio before starting video generation")
	}

	platformEnum := Platform(platform)
	if !platformEnum.IsValid() {
		return apperr.Newf(apperr.CodeInvalidRequest, "invalid platform: %s", platform)
	}
	modeEnum := DurationMode(durationMode)
	if !modeEnum.IsValid() {
		return apperr.New(apperr.CodeInvalidRequest, "invalid duration_mode; expected follow_audio or fixed")
	}

	fixedSec := 0
	if modeEnum == DurationFixed {
		if fixedDurationSec == nil {
			return apperr.New(apperr.CodeInvalidRequest, "fixed duration mode requires fixed_duration_sec")
		}
		fixedSec = *fixedDurationSec
		if fixedSec <= 0 {
			return apperr.New(apperr.CodeInvalidRequest, "fixed_duration_sec must be greater than 0")
		}
	}

	release, err := m.registry.AcquireRun(taskID)
	if err != nil {
		return err
	}

	if _, err := m.registry.Update(taskID, func(t *Task) {
		t.Platform = platformEnum
		t.DurationMode = modeEnum
		t.FixedDurationSec = fixedSec
		t.Error = ""
		t.ErrorCode = ""
	}); err != nil {
		release()
		return err
	}

	// The run outlives the request; failures are funneled into the fail path
	// and observed via polling.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer release()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("generation run panicked", slog.String("task_id", taskID), slog.Any("panic", r))
				m.registry.Fail(taskID, CodeVideoGenerationFailed, fmt.Sprintf("internal error: %v", r))
			}
		}()
		if err := m.runGeneration(runCtx, taskID); err != nil {
			m.registry.Fail(taskID, apperr.CodeOf(err, CodeVideoGenerationFailed), apperr.MessageOf(err))
		}
	}()
	return nil
}

// runGeneration is the detached image→video sequence. It never re-runs the
// audio stage; it only reads the already stored audio URL.
func (m *Manager) runGeneration(ctx context.Context, taskID string) error {
	t, err := m.registry.Update(taskID, func(t *Task) {
		t.Status = StatusGeneratingImage
		t.CurrentStep = "generating model image"
		t.Progress = progressImageStart
	})
	if err != nil {
		return err
	}

	if t.PortraitImage == "" {
		return apperr.New(CodePortraitImageRequired, "portrait image is required to render the first frame")
	}
	primaryScene := ""
	if len(t.SceneImages) > 0 {
		primaryScene = strings.TrimSpace(t.SceneImages[0])
	}
	if primaryScene == "" {
		return apperr.New(CodeSceneImageRequired, "at least one scene image is required to render the first frame")
	}

	prompts, err := m.scripts.GenerateModelPrompt(ctx)
	if err != nil {
		return err
	}
	if t, err = m.registry.Update(taskID, func(t *Task) {
		t.PersonPrompt = prompts.PersonPrompt
		t.ActionText = prompts.ActionText
	}); err != nil {
		return err
	}

	referenceImages := []string{t.PortraitImage}
	for _, sceneURL := range t.SceneImages {
		if trimmed := strings.TrimSpace(sceneURL); trimmed != "" {
			referenceImages = append(referenceImages, trimmed)
		}
	}

	modelImageURL, err := m.images.GenerateImage(ctx, t.PersonPrompt, referenceImages, string(t.Platform))
	if err != nil {
		return err
	}

	if t, err = m.registry.Update(taskID, func(t *Task) {
		t.ModelImageURL = modelImageURL
		t.Progress = progressImageDone
	}); err != nil {
		return err
	}

	if _, err = m.registry.Update(taskID, func(t *Task) {
		t.CurrentStep = "preparing audio"
		t.Progress = progressAudioPrep
	}); err != nil {
		return err
	}
	if t.FinalAudioURL == "" {
		return apperr.New(CodeAudioRequired, "generate audio before starting video generation")
	}

	if t, err = m.registry.Update(taskID, func(t *Task) {
		t.Status = StatusGeneratingVideo
		t.CurrentStep = "generating digital human video"
		t.Progress = progressVideoStart
	}); err != nil {
		return err
	}

	imageBytes, err := m.download(ctx, t.ModelImageURL)
	if err != nil {
		return err
	}
	audioBytes, err := m.download(ctx, t.FinalAudioURL)
	if err != nil {
		return err
	}

	rendered, err := m.videos.GenerateVideo(ctx, video.Input{
		ImageBytes:       imageBytes,
		ImageFilename:    fmt.Sprintf("model_%s.jpg", taskID),
		AudioBytes:       audioBytes,
		AudioFilename:    fmt.Sprintf("audio_%s.mp3", taskID),
		PromptText:       t.ActionText,
		Platform:         string(t.Platform),
		DurationMode:     string(t.DurationMode),
		FixedDurationSec: t.FixedDurationSec,
	})
	if err != nil {
		return err
	}

	videoKey := fmt.Sprintf("video_%s_%s_%s", time.Now().Format(materialTimestampFmt), taskID, safeFilename(rendered.Filename, "video.mp4"))
	videoURL, err := m.uploader.Upload(ctx, rendered.VideoBytes, videoKey, "video/mp4")
	if err != nil {
		return err
	}

	_, err = m.registry.Update(taskID, func(t *Task) {
		t.Status = StatusCompleted
		t.CurrentStep = "completed"
		t.Progress = progressCompleted
		t.VideoURL = videoURL
		t.VideoJobID = rendered.JobID
		t.AspectRatioApplied = rendered.AspectRatioApplied
		t.Error = ""
		t.ErrorCode = ""
	})
	return err
}

// failStage routes a synchronous stage failure into the fail path and
// returns the coded error to the caller.
func (m *Manager) failStage(taskID string, err error, fallbackCode string) error {
	code := apperr.CodeOf(err, fallbackCode)
	message := apperr.MessageOf(err)
	m.registry.Fail(taskID, code, message)
	if code == fallbackCode {
		return apperr.Wrap(code, message, err)
	}
	return err
}

func (m *Manager) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.Wrap(CodeVideoGenerationFailed, "creating artifact download request", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(CodeVideoGenerationFailed, fmt.Sprintf("downloading artifact %s", url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Newf(CodeVideoGenerationFailed, "artifact download returned status %d: %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}

func safeFilename(name, fallback string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return fallback
	}
	return base
}

func contentTypeFor(filename, fallback string) string {
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		return ct
	}
	return fallback
}
