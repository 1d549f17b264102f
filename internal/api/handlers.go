package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bobarin/talkinghead/internal/db"
	"github.com/bobarin/talkinghead/internal/gallery"
	"github.com/bobarin/talkinghead/internal/handle"
	"github.com/bobarin/talkinghead/internal/history"
	"github.com/bobarin/talkinghead/internal/models"
	"github.com/bobarin/talkinghead/internal/pipeline"
	"github.com/bobarin/talkinghead/internal/services"
	"github.com/bobarin/talkinghead/internal/task"
)

// EventFeed returns the most recent stage events.
type EventFeed interface {
	Recent(ctx context.Context, n int) ([]models.StageEvent, error)
}

type Handler struct {
	pipeline *pipeline.Controller
	gallery  *gallery.Manager
	history  *history.Manager
	handles  *handle.Registry
	events   EventFeed // nil when REDIS_URL is not set
	logger   *zap.Logger

	// Background jobs run on ctx, not on the request context.
	ctx    context.Context
	cancel context.CancelFunc
	jobs   sync.WaitGroup
}

func NewHandler(ctrl *pipeline.Controller, gal *gallery.Manager, hist *history.Manager, reg *handle.Registry, feed EventFeed, logger *zap.Logger) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		pipeline: ctrl,
		gallery:  gal,
		history:  hist,
		handles:  reg,
		events:   feed,
		logger:   logger.Named("api"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Shutdown cancels background jobs and waits for them to return.
func (h *Handler) Shutdown() {
	h.cancel()
	h.jobs.Wait()
}

// spawn runs a validated job in the background and answers 202 with the
// stage it entered.
func (h *Handler) spawn(w http.ResponseWriter, name string, job pipeline.Job) {
	h.jobs.Add(1)
	go func() {
		defer h.jobs.Done()
		if err := job(h.ctx); err != nil && !task.IsAbort(err) {
			h.logger.Warn("background job failed", zap.String("job", name), zap.Error(err))
		}
	}()
	respondJSON(w, http.StatusAccepted, h.pipeline.Snapshot())
}

// GetPipeline handles GET /v1/pipeline
func (h *Handler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.pipeline.Snapshot())
}

type scriptRequest struct {
	Script    string   `json:"script"`
	StyleTags []string `json:"style_tags"`
}

// SetScript handles PUT /v1/pipeline/script
func (h *Handler) SetScript(w http.ResponseWriter, r *http.Request) {
	var req scriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.pipeline.SetScript(req.Script, req.StyleTags); err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.pipeline.Snapshot())
}

// EnhanceScript handles POST /v1/pipeline/enhance
func (h *Handler) EnhanceScript(w http.ResponseWriter, r *http.Request) {
	script, err := h.pipeline.EnhanceScript(r.Context())
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"script": script})
}

// GeneratePreviews handles POST /v1/pipeline/previews
func (h *Handler) GeneratePreviews(w http.ResponseWriter, r *http.Request) {
	job, err := h.pipeline.StartPreviews()
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.spawn(w, "previews", job)
}

type voiceRequest struct {
	VoiceID string `json:"voice_id"`
}

// SelectVoice handles PUT /v1/pipeline/voice
func (h *Handler) SelectVoice(w http.ResponseWriter, r *http.Request) {
	var req voiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VoiceID == "" {
		respondError(w, http.StatusBadRequest, "voice_id is required")
		return
	}
	if err := h.pipeline.SelectVoice(req.VoiceID); err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.pipeline.Snapshot())
}

// GenerateFullAudio handles POST /v1/pipeline/audio
func (h *Handler) GenerateFullAudio(w http.ResponseWriter, r *http.Request) {
	job, err := h.pipeline.StartFullAudio()
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.spawn(w, "full_audio", job)
}

type gestureRequest struct {
	GestureDescription string `json:"gesture_description"`
}

// EditGesture handles PUT /v1/pipeline/gestures/{index}
func (h *Handler) EditGesture(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid gesture index")
		return
	}
	var req gestureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.pipeline.EditGesture(index, req.GestureDescription); err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.pipeline.Snapshot())
}

type keyframesRequest struct {
	Indices []int `json:"indices"`
}

// GenerateKeyframes handles POST /v1/pipeline/keyframes
// An empty body renders a keyframe for every planned gesture.
func (h *Handler) GenerateKeyframes(w http.ResponseWriter, r *http.Request) {
	var req keyframesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	job, err := h.pipeline.StartKeyframes(req.Indices)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.spawn(w, "keyframes", job)
}

type expressiveRequest struct {
	Intensity   models.ExpressionIntensity `json:"intensity"`
	Orientation models.VideoOrientation    `json:"orientation"`
}

// GenerateExpressiveImage handles POST /v1/pipeline/expressive
func (h *Handler) GenerateExpressiveImage(w http.ResponseWriter, r *http.Request) {
	req := expressiveRequest{Intensity: models.IntensityExpressive, Orientation: models.OrientationPortrait}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	switch req.Intensity {
	case models.IntensityNeutral, models.IntensityExpressive, models.IntensityVeryExpressive:
	default:
		respondError(w, http.StatusBadRequest, "Invalid intensity. Allowed: Neutral, Expressive, Very Expressive")
		return
	}
	switch req.Orientation {
	case models.OrientationLandscape, models.OrientationPortrait, models.OrientationSquare:
	default:
		respondError(w, http.StatusBadRequest, "Invalid orientation. Allowed: Landscape (16:9), Portrait (9:16), Square (1:1)")
		return
	}

	asset, err := h.pipeline.GenerateExpressiveImage(r.Context(), req.Intensity, req.Orientation)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, asset)
}

// GenerateVideo handles POST /v1/pipeline/video
func (h *Handler) GenerateVideo(w http.ResponseWriter, r *http.Request) {
	job, err := h.pipeline.StartVideo()
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.spawn(w, "video", job)
}

// Cancel handles POST /v1/pipeline/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	if !h.pipeline.Cancel() {
		respondError(w, http.StatusConflict, "No video generation in progress")
		return
	}
	respondJSON(w, http.StatusOK, h.pipeline.Snapshot())
}

// Reset handles POST /v1/pipeline/reset
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.Reset(); err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.pipeline.Snapshot())
}

// ListEvents handles GET /v1/pipeline/events
// Query params:
//   - limit: number of most recent events (default 50, max 200)
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		respondError(w, http.StatusServiceUnavailable, "Event feed is not configured")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 200 {
		limit = 200
	}

	events, err := h.events.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to read stage events", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to read events")
		return
	}
	respondJSON(w, http.StatusOK, events)
}

// respondErr maps controller and store errors onto HTTP statuses.
func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	var validation *pipeline.ValidationError
	var svc *services.ServiceError
	var tooLarge *http.MaxBytesError

	switch {
	case errors.As(err, &validation),
		errors.Is(err, gallery.ErrNotImage),
		errors.Is(err, services.ErrVoiceSampleTooLarge),
		errors.Is(err, services.ErrVoiceSampleType):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &tooLarge):
		respondError(w, http.StatusRequestEntityTooLarge, "Upload is too large")
	case errors.Is(err, pipeline.ErrBusy), errors.Is(err, pipeline.ErrInvalidStage):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, gallery.ErrUnknownImage),
		errors.Is(err, history.ErrUnknownVideo),
		errors.Is(err, handle.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &svc):
		status := http.StatusBadGateway
		switch svc.Kind {
		case services.KindQuotaExceeded:
			status = http.StatusTooManyRequests
		case services.KindInvalidInput:
			status = http.StatusUnprocessableEntity
		}
		respondError(w, status, svc.Error())
	case errors.Is(err, db.ErrUnavailable):
		h.logger.Error("asset store unavailable", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "Asset store is unavailable")
	default:
		h.logger.Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
