// Package bootstrap wires the application dependencies from configuration.
package bootstrap

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sellcast/digitalhuman-api/internal/ark"
	"github.com/sellcast/digitalhuman-api/internal/audio"
	"github.com/sellcast/digitalhuman-api/internal/comfy"
	"github.com/sellcast/digitalhuman-api/internal/config"
	"github.com/sellcast/digitalhuman-api/internal/llm"
	"github.com/sellcast/digitalhuman-api/internal/runninghub"
	"github.com/sellcast/digitalhuman-api/internal/snapshot"
	"github.com/sellcast/digitalhuman-api/internal/storage"
	"github.com/sellcast/digitalhuman-api/internal/task"
	"github.com/sellcast/digitalhuman-api/internal/tts"
	"github.com/sellcast/digitalhuman-api/internal/video"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Manager *task.Manager
	// LocalFilesDir is set when artifacts are stored on local disk and should
	// be served by the HTTP server; empty when S3 is used.
	LocalFilesDir string
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	uploader, localFilesDir, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	snapshots, err := snapshot.NewWriter(cfg.SnapshotDir, logger)
	if err != nil {
		return nil, fmt.Errorf("create snapshot writer: %w", err)
	}

	hubClient, err := runninghub.NewClient(cfg.RunningHubBaseURL,
		runninghub.WithAPIKey(cfg.RunningHubAPIKey),
		runninghub.WithPollInterval(time.Duration(cfg.RunningHubPollIntervalSec*float64(time.Second))),
		runninghub.WithUploadTimeout(time.Duration(cfg.RunningHubUploadTimeoutSec)*time.Second),
		runninghub.WithInstanceType(cfg.RunningHubInstanceType),
		runninghub.WithWebhookURL(cfg.RunningHubWebhookURL),
		runninghub.WithPersonalQueue(cfg.RunningHubPersonalQueue),
	)
	if err != nil {
		return nil, fmt.Errorf("create RunningHub client: %w", err)
	}

	llmClient, err := llm.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIModel,
		llm.WithAPIKey(cfg.OpenAIAPIKey),
	)
	if err != nil {
		return nil, fmt.Errorf("create LLM client: %w", err)
	}

	arkClient, err := ark.NewClient(cfg.ArkBaseURL, cfg.SeedreamModel,
		ark.WithAPIKey(cfg.ArkAPIKey),
		ark.WithSize(cfg.SeedreamSize),
		ark.WithWatermark(cfg.SeedreamWatermark),
	)
	if err != nil {
		return nil, fmt.Errorf("create Ark client: %w", err)
	}

	speech, err := initSpeech(cfg, hubClient, logger)
	if err != nil {
		return nil, err
	}

	manager := task.NewManager(task.Deps{
		Registry:      task.NewRegistry(snapshots, logger),
		Uploader:      uploader,
		Scripts:       llmClient,
		Images:        arkClient,
		Speech:        speech,
		Videos:        video.NewGenerator(hubClient, cfg.RunningHubVideoWorkflow),
		Prober:        audio.NewProber(cfg.FFmpegPath),
		Logger:        logger,
		TTSTimeoutSec: cfg.TTSGenerationTimeoutSec,
	})

	return &Dependencies{
		Manager:       manager,
		LocalFilesDir: localFilesDir,
	}, nil
}

// initSpeech selects the speech backend: the hosted workflow queue or the
// local workflow runner.
func initSpeech(cfg *config.Config, hubClient *runninghub.Client, logger *slog.Logger) (tts.Generator, error) {
	switch cfg.TTSEngine {
	case "local":
		runner, err := comfy.NewRunner(comfy.Config{
			BasePath:   cfg.ComfyBasePath,
			RunnerCmd:  cfg.ComfyRunnerCmd,
			TimeoutSec: cfg.ComfyTimeoutSec,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create local workflow runner: %w", err)
		}
		logger.Info("local TTS engine configured",
			slog.String("workflow_path", cfg.MegaTTSLocalWorkflowPath),
		)
		return tts.NewLocalGenerator(runner, cfg.MegaTTSLocalWorkflowPath, cfg.TTSDefaultReferenceAudio), nil
	default:
		return tts.NewRemoteGenerator(hubClient, cfg.RunningHubAudioWorkflow,
			cfg.RunningHubAudioTimeoutSec, cfg.TTSDefaultReferenceAudio), nil
	}
}

// initStorage creates the artifact storage backend based on configuration.
// The second return value is the local directory to serve over HTTP, or
// empty when S3 handles delivery.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Uploader, string, error) {
	if cfg.S3Enabled() {
		s3Uploader, err := storage.NewS3Uploader(storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, "", fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Uploader, "", nil
	}

	localUploader, err := storage.NewLocalUploader(cfg.LocalStorageDir, cfg.PublicBaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("dir", cfg.LocalStorageDir),
		slog.String("base_url", cfg.PublicBaseURL),
	)
	return localUploader, cfg.LocalStorageDir, nil
}
