// Package task owns the digital-human generation pipeline: the task record
// and its state machine, the in-memory registry, and the stage orchestration
// that sequences script, audio, image and video generation.
package task

// Status represents the current state of a pipeline task.
type Status string

const (
	// StatusPending indicates a freshly created task with no materials yet.
	StatusPending Status = "pending"
	// StatusUploading indicates materials are being uploaded to storage.
	StatusUploading Status = "uploading"
	// StatusGeneratingScript indicates the voice script is being written.
	StatusGeneratingScript Status = "generating_script"
	// StatusGeneratingImage indicates the model still frame is being rendered.
	StatusGeneratingImage Status = "generating_image"
	// StatusGeneratingAudio indicates cloned speech is being generated.
	StatusGeneratingAudio Status = "generating_audio"
	// StatusAudioReady indicates speech finished and the task can start video
	// generation.
	StatusAudioReady Status = "audio_ready"
	// StatusGeneratingVideo indicates the talking-head render is in flight.
	StatusGeneratingVideo Status = "generating_video"
	// StatusCompleted indicates the full pipeline finished.
	StatusCompleted Status = "completed"
	// StatusFailed indicates a stage failed; the error slot carries the code.
	StatusFailed Status = "failed"
)

// IsTerminal reports whether no further stage may run for this status.
// Failed tasks may still be re-driven by the caller after fixing inputs.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Language is the script output language.
type Language string

const (
	LanguageZH Language = "zh"
	LanguageEN Language = "en"
)

// IsValid returns true if the language is supported.
func (l Language) IsValid() bool {
	return l == LanguageZH || l == LanguageEN
}

// Platform is the delivery platform, which drives the aspect ratio.
type Platform string

const (
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
)

// IsValid returns true if the platform is supported.
func (p Platform) IsValid() bool {
	return p == PlatformTikTok || p == PlatformInstagram
}

// ScriptMode records how the voice text was produced.
type ScriptMode string

const (
	ScriptModeLLM    ScriptMode = "llm"
	ScriptModeManual ScriptMode = "manual"
)

// DurationMode selects how the clip length is derived.
type DurationMode string

const (
	DurationFollowAudio DurationMode = "follow_audio"
	DurationFixed       DurationMode = "fixed"
)

// IsValid returns true if the duration mode is supported.
func (d DurationMode) IsValid() bool {
	return d == DurationFollowAudio || d == DurationFixed
}

// TTSEngine identifies the speech backend that produced the audio.
type TTSEngine string

// TTSEngineMegaTTS3 is the MegaTTS3 voice-cloning workflow.
const TTSEngineMegaTTS3 TTSEngine = "mega_tts3"

// AudioSource records where the final audio came from.
type AudioSource string

const (
	AudioSourceAuto              AudioSource = "auto"
	AudioSourceExistingGenerated AudioSource = "existing_generated"
)

// Task is the unit of work for one digital-human video.
type Task struct {
	ID          string  `json:"task_id"`
	Status      Status  `json:"status"`
	Progress    float64 `json:"progress"`
	CurrentStep string  `json:"current_step"`
	Error       string  `json:"error,omitempty"`
	ErrorCode   string  `json:"error_code,omitempty"`

	SceneImages   []string `json:"scene_images"`
	PortraitImage string   `json:"portrait_image,omitempty"`

	ProductName       string     `json:"product_name"`
	CoreSellingPoints string     `json:"core_selling_points"`
	Language          Language   `json:"language"`
	ScriptMode        ScriptMode `json:"script_mode"`
	VoiceText         string     `json:"voice_text"`
	PersonPrompt      string     `json:"person_prompt"`
	ActionText        string     `json:"action_text"`

	Platform         Platform     `json:"platform"`
	DurationMode     DurationMode `json:"duration_mode"`
	FixedDurationSec int          `json:"fixed_duration_sec,omitempty"`

	TTSEngineUsed    TTSEngine   `json:"tts_engine_used,omitempty"`
	AudioSource      AudioSource `json:"audio_source"`
	AudioURL         string      `json:"audio_url,omitempty"`
	FinalAudioURL    string      `json:"final_audio_url,omitempty"`
	AudioDurationSec float64     `json:"audio_duration_sec,omitempty"`

	ModelImageURL      string `json:"model_image_url,omitempty"`
	VideoURL           string `json:"video_url,omitempty"`
	VideoProvider      string `json:"video_provider"`
	AudioJobID         string `json:"audio_job_id,omitempty"`
	VideoJobID         string `json:"video_job_id,omitempty"`
	AspectRatioApplied string `json:"aspect_ratio_applied,omitempty"`
}

// New creates an empty pending task.
func New(id string) *Task {
	return &Task{
		ID:            id,
		Status:        StatusPending,
		Language:      LanguageZH,
		ScriptMode:    ScriptModeManual,
		Platform:      PlatformTikTok,
		DurationMode:  DurationFollowAudio,
		AudioSource:   AudioSourceAuto,
		VideoProvider: "infinitetalk",
	}
}

// Clone returns a deep copy so callers can never mutate registry state.
func (t *Task) Clone() *Task {
	clone := *t
	clone.SceneImages = append([]string(nil), t.SceneImages...)
	return &clone
}

// ResultBundle is the artifact view exposed by the status query. It is only
// present once the audio stage has finished.
type ResultBundle struct {
	VideoURL           string      `json:"video_url,omitempty"`
	AudioURL           string      `json:"audio_url,omitempty"`
	ModelImageURL      string      `json:"model_image_url,omitempty"`
	FinalAudioURL      string      `json:"final_audio_url,omitempty"`
	AudioDurationSec   float64     `json:"audio_duration_sec,omitempty"`
	TTSEngineUsed      TTSEngine   `json:"tts_engine_used,omitempty"`
	AudioSource        AudioSource `json:"audio_source"`
	VideoProvider      string      `json:"video_provider"`
	AspectRatioApplied string      `json:"aspect_ratio_applied,omitempty"`
	AudioJobID         string      `json:"audio_job_id,omitempty"`
	VideoJobID         string      `json:"video_job_id,omitempty"`
}

// Result returns the artifact bundle, or nil while no artifact is ready.
// The video URL is withheld until the task has actually completed.
func (t *Task) Result() *ResultBundle {
	if t.Status != StatusAudioReady && t.Status != StatusCompleted {
		return nil
	}
	bundle := &ResultBundle{
		AudioURL:           t.AudioURL,
		ModelImageURL:      t.ModelImageURL,
		FinalAudioURL:      t.FinalAudioURL,
		AudioDurationSec:   t.AudioDurationSec,
		TTSEngineUsed:      t.TTSEngineUsed,
		AudioSource:        t.AudioSource,
		VideoProvider:      t.VideoProvider,
		AspectRatioApplied: t.AspectRatioApplied,
		AudioJobID:         t.AudioJobID,
		VideoJobID:         t.VideoJobID,
	}
	if t.Status == StatusCompleted {
		bundle.VideoURL = t.VideoURL
	}
	return bundle
}
