package config

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("RUNNINGHUB_API_KEY", "test-key")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8013, cfg.Port)
	assert.Equal(t, "https://www.runninghub.cn", cfg.RunningHubBaseURL)
	assert.Equal(t, 5.0, cfg.RunningHubPollIntervalSec)
	assert.Equal(t, 0, cfg.RunningHubAudioTimeoutSec)
	assert.Equal(t, 120, cfg.RunningHubUploadTimeoutSec)
	assert.Equal(t, "runninghub", cfg.TTSEngine)
	assert.Equal(t, 0, cfg.TTSGenerationTimeoutSec)
	assert.Equal(t, 900, cfg.ComfyTimeoutSec)
	assert.Equal(t, "python3 -m comfy_runner", cfg.ComfyRunnerCmd)
	assert.Equal(t, "./debug/tasks", cfg.SnapshotDir)
	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_MissingAPIKey(t *testing.T) {
	t.Setenv("RUNNINGHUB_API_KEY", "")

	_, err := Load()
	assert.ErrorIs(t, err, ErrRunningHubAPIKeyRequired)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("TTS_ENGINE", "local")
	t.Setenv("RUNNINGHUB_VIDEO_WORKFLOW_ID", "2021102605702795266")
	t.Setenv("S3_BUCKET", "artifacts")
	t.Setenv("S3_REGION", "eu-west-1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "local", cfg.TTSEngine)
	assert.Equal(t, "2021102605702795266", cfg.RunningHubVideoWorkflow)
	assert.True(t, cfg.S3Enabled())
}

func TestS3Enabled(t *testing.T) {
	cfg := &Config{}
	assert.False(t, cfg.S3Enabled())

	cfg.S3Bucket = "bucket"
	assert.False(t, cfg.S3Enabled())

	cfg.S3Region = "us-east-1"
	assert.True(t, cfg.S3Enabled())
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	assert.ErrorIs(t, cfg.Validate(), ErrRunningHubAPIKeyRequired)

	cfg.RunningHubAPIKey = "key"
	assert.NoError(t, cfg.Validate())
}

func TestString_MasksSecrets(t *testing.T) {
	cfg := &Config{
		RunningHubAPIKey:   "super-secret",
		AWSSecretAccessKey: "aws-secret",
		OpenAIAPIKey:       "openai-secret",
		ArkAPIKey:          "ark-secret",
	}

	s := cfg.String()
	assert.False(t, strings.Contains(s, "super-secret"))
	assert.False(t, strings.Contains(s, "aws-secret"))
	assert.False(t, strings.Contains(s, "openai-secret"))
	assert.False(t, strings.Contains(s, "ark-secret"))
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.in))
		})
	}
}
