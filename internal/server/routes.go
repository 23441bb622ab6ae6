package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// StaticFilesDir, when set, is served under /files/ so locally stored
	// artifacts are reachable over HTTP.
	StaticFilesDir string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("POST /api/digital-human/upload-materials", h.UploadMaterials)
	mux.HandleFunc("POST /api/digital-human/generate-script", h.GenerateScript)
	mux.HandleFunc("POST /api/digital-human/generate-audio", h.GenerateAudio)
	mux.HandleFunc("POST /api/digital-human/start-generation", h.StartGeneration)

	mux.HandleFunc("GET /api/digital-human/status/{task_id}", h.Status)
	mux.HandleFunc("GET /api/digital-human/result/{task_id}", h.Result)
	mux.HandleFunc("GET /api/digital-human/debug/{task_id}", h.Debug)
	mux.HandleFunc("GET /api/digital-human/task/{task_id}", h.GetTask)
	mux.HandleFunc("DELETE /api/digital-human/task/{task_id}", h.DeleteTask)

	mux.HandleFunc("GET /api/config/languages", h.Languages)
	mux.HandleFunc("GET /api/config/platforms", h.Platforms)

	if cfg.StaticFilesDir != "" {
		mux.Handle("GET /files/", http.StripPrefix("/files/", http.FileServer(http.Dir(cfg.StaticFilesDir))))
	}

	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
