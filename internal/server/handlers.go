package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sellcast/digitalhuman-api/internal/apperr"
	"github.com/sellcast/digitalhuman-api/internal/task"
)

// maxUploadBytes bounds one multipart request held in memory.
const maxUploadBytes = 64 << 20

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	manager   *task.Manager
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(manager *task.Manager, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		manager:   manager,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Service: "digital-human-api"})
}

// UploadMaterials handles POST /api/digital-human/upload-materials.
// An unknown or absent task_id starts a fresh task, so the upload is always
// the entry point of a run.
func (h *Handlers) UploadMaterials(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest, "expected a multipart form upload")
		return
	}

	taskID := strings.TrimSpace(r.FormValue("task_id"))
	if taskID != "" {
		if _, err := h.manager.GetTask(taskID); err != nil {
			taskID = ""
		}
	}
	if taskID == "" {
		taskID = h.manager.CreateTask().ID
	}

	sceneHeaders := r.MultipartForm.File["scene_images"]
	if len(sceneHeaders) == 0 {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest, "at least one scene image is required")
		return
	}

	var scenes []task.Material
	for _, fh := range sceneHeaders {
		material, err := readMaterial(fh)
		if err != nil {
			writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest, "reading scene image: "+err.Error())
			return
		}
		scenes = append(scenes, material)
	}

	var portrait *task.Material
	if headers := r.MultipartForm.File["portrait_image"]; len(headers) > 0 {
		material, err := readMaterial(headers[0])
		if err != nil {
			writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest, "reading portrait image: "+err.Error())
			return
		}
		portrait = &material
	}

	sceneURLs, portraitURL, err := h.manager.UploadMaterials(r.Context(), taskID, scenes, portrait)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}

	current, err := h.manager.GetTask(taskID)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}

	h.logger.Info("materials uploaded",
		slog.String("task_id", taskID),
		slog.Int("scene_count", len(sceneURLs)),
		slog.Bool("portrait", portraitURL != ""),
	)

	writeJSON(w, http.StatusOK, UploadMaterialsResponse{
		TaskID:        taskID,
		SceneImages:   sceneURLs,
		PortraitImage: portraitURL,
		Status:        string(current.Status),
		Progress:      current.Progress,
	})
}

// GenerateScript handles POST /api/digital-human/generate-script.
func (h *Handlers) GenerateScript(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}

	req := GenerateScriptRequest{
		TaskID:            strings.TrimSpace(r.FormValue("task_id")),
		ProductName:       r.FormValue("product_name"),
		CoreSellingPoints: r.FormValue("core_selling_points"),
		Language:          formValueDefault(r, "language", "zh"),
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest, err.Error())
		return
	}

	result, err := h.manager.GenerateScript(r.Context(), req.TaskID, req.ProductName, req.CoreSellingPoints, req.Language)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, GenerateScriptResponse{
		TaskID:       req.TaskID,
		VoiceText:    result.VoiceText,
		PersonPrompt: result.PersonPrompt,
		ActionText:   result.ActionText,
	})
}

// GenerateAudio handles POST /api/digital-human/generate-audio. The request
// may carry an edited script and a reference audio sample for voice cloning.
func (h *Handlers) GenerateAudio(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}

	taskID := strings.TrimSpace(r.FormValue("task_id"))
	if taskID == "" {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest, "task_id is required")
		return
	}

	var voiceTextOverride *string
	if values, ok := r.Form["voice_text"]; ok && len(values) > 0 {
		voiceTextOverride = &values[0]
	}

	var referenceAudio []byte
	referenceFilename := ""
	if r.MultipartForm != nil {
		if headers := r.MultipartForm.File["reference_audio"]; len(headers) > 0 {
			material, err := readMaterial(headers[0])
			if err != nil {
				writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest, "reading reference audio: "+err.Error())
				return
			}
			referenceAudio = material.Data
			referenceFilename = material.Filename
		}
	}

	result, err := h.manager.GenerateAudio(r.Context(), taskID, r.FormValue("language"), voiceTextOverride, referenceAudio, referenceFilename)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, GenerateAudioResponse{
		TaskID:           result.TaskID,
		AudioURL:         result.AudioURL,
		AudioDurationSec: result.AudioDurationSec,
		TTSEngineUsed:    string(result.TTSEngineUsed),
	})
}

// StartGeneration handles POST /api/digital-human/start-generation.
func (h *Handlers) StartGeneration(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}

	req := StartGenerationRequest{
		TaskID:       strings.TrimSpace(r.FormValue("task_id")),
		Platform:     formValueDefault(r, "platform", "tiktok"),
		DurationMode: formValueDefault(r, "duration_mode", "follow_audio"),
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest, err.Error())
		return
	}

	var fixedSec *int
	if raw := strings.TrimSpace(r.FormValue("fixed_duration_sec")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest, "fixed_duration_sec must be an integer")
			return
		}
		fixedSec = &parsed
	}

	if err := h.manager.StartGeneration(r.Context(), req.TaskID, req.Platform, req.DurationMode, fixedSec); err != nil {
		h.writeAppError(w, r, err)
		return
	}

	h.logger.Info("generation started",
		slog.String("task_id", req.TaskID),
		slog.String("platform", req.Platform),
		slog.String("duration_mode", req.DurationMode),
	)

	writeJSON(w, http.StatusAccepted, StartGenerationResponse{
		TaskID:  req.TaskID,
		Status:  string(task.StatusGeneratingImage),
		Message: "generation started; poll the status endpoint for progress",
	})
}

// Status handles GET /api/digital-human/status/{task_id}.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	t, ok := h.taskFromPath(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		TaskID:      t.ID,
		Status:      string(t.Status),
		Progress:    t.Progress,
		CurrentStep: t.CurrentStep,
		Error:       t.Error,
		ErrorCode:   t.ErrorCode,
		Result:      t.Result(),
	})
}

// Result handles GET /api/digital-human/result/{task_id}. It returns only
// the artifact bundle and rejects tasks that have not produced one yet.
func (h *Handlers) Result(w http.ResponseWriter, r *http.Request) {
	t, ok := h.taskFromPath(w, r)
	if !ok {
		return
	}

	bundle := t.Result()
	if bundle == nil {
		writeError(w, http.StatusBadRequest, "RESULT_NOT_READY", "task has not produced a result yet")
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

// Debug handles GET /api/digital-human/debug/{task_id} and returns the full
// task record as stored.
func (h *Handlers) Debug(w http.ResponseWriter, r *http.Request) {
	t, ok := h.taskFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// GetTask handles GET /api/digital-human/task/{task_id}.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	t, ok := h.taskFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// DeleteTask handles DELETE /api/digital-human/task/{task_id}.
func (h *Handlers) DeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	if err := h.manager.DeleteTask(taskID); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{TaskID: taskID, Deleted: true})
}

// Languages handles GET /api/config/languages.
func (h *Handlers) Languages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []ConfigOption{
		{Value: string(task.LanguageZH), Label: "中文"},
		{Value: string(task.LanguageEN), Label: "English"},
	})
}

// Platforms handles GET /api/config/platforms.
func (h *Handlers) Platforms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []ConfigOption{
		{Value: string(task.PlatformTikTok), Label: "TikTok"},
		{Value: string(task.PlatformInstagram), Label: "Instagram"},
	})
}

func (h *Handlers) taskFromPath(w http.ResponseWriter, r *http.Request) (*task.Task, bool) {
	taskID := r.PathValue("task_id")
	t, err := h.manager.GetTask(taskID)
	if err != nil {
		h.writeAppError(w, r, err)
		return nil, false
	}
	return t, true
}

// writeAppError maps a coded error onto the HTTP envelope. Unknown tasks map
// to 404, any other coded failure to 400, and uncoded errors to 500.
func (h *Handlers) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		h.logger.Error("unhandled error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	status := http.StatusBadRequest
	if ae.Code == apperr.CodeTaskNotFound {
		status = http.StatusNotFound
	}
	writeError(w, status, ae.Code, ae.Message)
}

// parseForm accepts both urlencoded and multipart bodies; only the latter
// can carry file parts.
func parseForm(w http.ResponseWriter, r *http.Request) bool {
	contentType := r.Header.Get("Content-Type")
	var err error
	if strings.HasPrefix(contentType, "multipart/form-data") {
		err = r.ParseMultipartForm(maxUploadBytes)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest, "malformed form body")
		return false
	}
	return true
}

func formValueDefault(r *http.Request, key, fallback string) string {
	if v := strings.TrimSpace(r.FormValue(key)); v != "" {
		return v
	}
	return fallback
}

func readMaterial(fh *multipart.FileHeader) (task.Material, error) {
	file, err := fh.Open()
	if err != nil {
		return task.Material{}, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return task.Material{}, err
	}
	return task.Material{Data: data, Filename: fh.Filename}, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
