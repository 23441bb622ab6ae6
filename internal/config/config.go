// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrRunningHubAPIKeyRequired is returned when RUNNINGHUB_API_KEY is not set.
	ErrRunningHubAPIKeyRequired = errors.New("config: RUNNINGHUB_API_KEY is required")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8013" json:"port"`

	// RunningHub workflow API settings
	RunningHubBaseURL          string  `env:"RUNNINGHUB_BASE_URL, default=https://www.runninghub.cn" json:"runninghub_base_url"`
	RunningHubAPIKey           string  `env:"RUNNINGHUB_API_KEY, required" json:"-"` // Masked in JSON
	RunningHubAudioWorkflow    string  `env:"RUNNINGHUB_AUDIO_WORKFLOW_ID" json:"runninghub_audio_workflow_id"`
	RunningHubVideoWorkflow    string  `env:"RUNNINGHUB_VIDEO_WORKFLOW_ID" json:"runninghub_video_workflow_id"`
	RunningHubPollIntervalSec  float64 `env:"RUNNINGHUB_POLL_INTERVAL_SEC, default=5" json:"runninghub_poll_interval_sec"`
	RunningHubAudioTimeoutSec  int     `env:"RUNNINGHUB_AUDIO_TIMEOUT_SEC, default=0" json:"runninghub_audio_timeout_sec"`
	RunningHubVideoTimeoutSec  int     `env:"RUNNINGHUB_VIDEO_TIMEOUT_SEC, default=0" json:"runninghub_video_timeout_sec"`
	RunningHubUploadTimeoutSec int     `env:"RUNNINGHUB_UPLOAD_TIMEOUT_SEC, default=120" json:"runninghub_upload_timeout_sec"`
	RunningHubInstanceType     string  `env:"RUNNINGHUB_INSTANCE_TYPE" json:"runninghub_instance_type,omitempty"`
	RunningHubPersonalQueue    bool    `env:"RUNNINGHUB_USE_PERSONAL_QUEUE, default=false" json:"runninghub_use_personal_queue"`
	RunningHubWebhookURL       string  `env:"RUNNINGHUB_WEBHOOK_URL" json:"runninghub_webhook_url,omitempty"`

	// OpenAI-compatible chat completion settings
	OpenAIBaseURL string `env:"OPENAI_BASE_URL, default=https://api.openai.com/v1" json:"openai_base_url"`
	OpenAIAPIKey  string `env:"OPENAI_API_KEY" json:"-"` // Masked in JSON
	OpenAIModel   string `env:"OPENAI_MODEL, default=gpt-4" json:"openai_model"`

	// Ark image generation settings
	ArkBaseURL        string `env:"ARK_BASE_URL, default=https://ark.ap-southeast.bytepluses.com" json:"ark_base_url"`
	ArkAPIKey         string `env:"ARK_API_KEY" json:"-"` // Masked in JSON
	SeedreamModel     string `env:"SEEDREAM_MODEL, default=seedream-4-0-250828" json:"seedream_model"`
	SeedreamSize      string `env:"SEEDREAM_SIZE, default=2k" json:"seedream_size"`
	SeedreamWatermark bool   `env:"SEEDREAM_WATERMARK, default=true" json:"seedream_watermark"`

	// TTS settings
	TTSEngine                string `env:"TTS_ENGINE, default=runninghub" json:"tts_engine"` // "runninghub" or "local"
	TTSGenerationTimeoutSec  int    `env:"TTS_GENERATION_TIMEOUT_SEC, default=0" json:"tts_generation_timeout_sec"`
	TTSDefaultReferenceAudio string `env:"TTS_DEFAULT_REFERENCE_AUDIO" json:"tts_default_reference_audio,omitempty"`
	MegaTTSLocalWorkflowPath string `env:"MEGATTS_LOCAL_WORKFLOW_PATH" json:"megatts_local_workflow_path,omitempty"`

	// Local workflow runner settings
	ComfyBasePath   string `env:"COMFY_BASE_PATH" json:"comfy_base_path,omitempty"`
	ComfyRunnerCmd  string `env:"COMFY_RUNNER_CMD, default=python3 -m comfy_runner" json:"comfy_runner_cmd"`
	ComfyTimeoutSec int    `env:"COMFY_TIMEOUT_SEC, default=900" json:"comfy_timeout_sec"`

	// Debug snapshot settings
	SnapshotDir string `env:"SNAPSHOT_DIR, default=./debug/tasks" json:"snapshot_dir"`

	// Local artifact storage, used when S3 is not configured
	LocalStorageDir string `env:"LOCAL_STORAGE_DIR, default=./storage/artifacts" json:"local_storage_dir"`
	PublicBaseURL   string `env:"PUBLIC_BASE_URL, default=http://localhost:8013/files" json:"public_base_url"`

	// Optional S3 settings for artifact storage
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// FFmpeg settings
	FFmpegPath string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		if strings.Contains(err.Error(), "RUNNINGHUB_API_KEY") {
			return nil, ErrRunningHubAPIKeyRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.RunningHubAPIKey == "" {
		return ErrRunningHubAPIKeyRequired
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, RunningHubBaseURL: %s, AudioWorkflow: %s, VideoWorkflow: %s, TTSEngine: %s, SnapshotDir: %s, S3Bucket: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.RunningHubBaseURL,
		c.RunningHubAudioWorkflow,
		c.RunningHubVideoWorkflow,
		c.TTSEngine,
		c.SnapshotDir,
		c.S3Bucket,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
