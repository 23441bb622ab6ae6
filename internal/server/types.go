// Package server provides the HTTP surface of the digital-human API:
// handlers, middleware, routes, and DTOs separated from domain types.
package server

import "github.com/sellcast/digitalhuman-api/internal/task"

// UploadMaterialsResponse is returned after storing task materials.
type UploadMaterialsResponse struct {
	TaskID        string   `json:"task_id"`
	SceneImages   []string `json:"scene_images"`
	PortraitImage string   `json:"portrait_image,omitempty"`
	Status        string   `json:"status"`
	Progress      float64  `json:"progress"`
}

// GenerateScriptRequest carries the validated form fields of the script
// endpoint.
type GenerateScriptRequest struct {
	TaskID            string `validate:"required"`
	ProductName       string
	CoreSellingPoints string
	Language          string `validate:"required,oneof=zh en"`
}

// GenerateScriptResponse is returned after script generation.
type GenerateScriptResponse struct {
	TaskID       string `json:"task_id"`
	VoiceText    string `json:"voice_text"`
	PersonPrompt string `json:"person_prompt,omitempty"`
	ActionText   string `json:"action_text,omitempty"`
}

// GenerateAudioResponse is returned after speech generation.
type GenerateAudioResponse struct {
	TaskID           string  `json:"task_id"`
	AudioURL         string  `json:"audio_url"`
	AudioDurationSec float64 `json:"audio_duration_sec"`
	TTSEngineUsed    string  `json:"tts_engine_used"`
}

// StartGenerationRequest carries the validated form fields of the video
// start endpoint.
type StartGenerationRequest struct {
	TaskID       string `validate:"required"`
	Platform     string `validate:"required,oneof=tiktok instagram"`
	DurationMode string `validate:"required,oneof=follow_audio fixed"`
}

// StartGenerationResponse acknowledges a launched background run.
type StartGenerationResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// StatusResponse is the polling view of a task.
type StatusResponse struct {
	TaskID      string             `json:"task_id"`
	Status      string             `json:"status"`
	Progress    float64            `json:"progress"`
	CurrentStep string             `json:"current_step"`
	Error       string             `json:"error,omitempty"`
	ErrorCode   string             `json:"error_code,omitempty"`
	Result      *task.ResultBundle `json:"result"`
}

// DeleteResponse acknowledges a removed task.
type DeleteResponse struct {
	TaskID  string `json:"task_id"`
	Deleted bool   `json:"deleted"`
}

// ConfigOption is one selectable value in a config listing.
type ConfigOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	// Code is the stable error code for programmatic handling.
	Code string `json:"code"`
	// Message is the human-readable error message.
	Message string `json:"message"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}
