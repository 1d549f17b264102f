package api

import (
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds settings for the API router.
// Passed from main.go so the router can configure CORS and auth from env vars.
type RouterConfig struct {
	// BackendAPIKey is the key that must be provided in X-API-Key or Authorization: Bearer <key>.
	// If empty, auth middleware is skipped (development mode).
	BackendAPIKey string

	// CorsAllowedOrigins is a comma-separated list of allowed origins.
	// If empty, defaults to "*" (development mode).
	CorsAllowedOrigins string
}

func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (applied to all routes including /health)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg.CorsAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "Range"},
		ExposedHeaders:   []string{"Content-Range", "Accept-Ranges"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check, public
	r.Get("/health", h.Health)

	r.Route("/v1", func(r chi.Router) {
		// Blob URLs end up in <img>, <audio> and <video> tags, which cannot
		// send the API key. Handle ids are random and short-lived.
		r.Get("/blobs/{id}", h.GetBlob)

		// Everything else is protected by API key auth
		r.Group(func(r chi.Router) {
			if cfg.BackendAPIKey != "" {
				r.Use(APIKeyAuth(cfg.BackendAPIKey, h.logger))
			}

			// Pipeline
			r.Get("/pipeline", h.GetPipeline)
			r.Put("/pipeline/script", h.SetScript)
			r.Post("/pipeline/enhance", h.EnhanceScript)
			r.Post("/pipeline/previews", h.GeneratePreviews)
			r.Put("/pipeline/voice", h.SelectVoice)
			r.Post("/pipeline/audio", h.GenerateFullAudio)
			r.Put("/pipeline/gestures/{index}", h.EditGesture)
			r.Post("/pipeline/keyframes", h.GenerateKeyframes)
			r.Post("/pipeline/expressive", h.GenerateExpressiveImage)
			r.Post("/pipeline/video", h.GenerateVideo)
			r.Post("/pipeline/cancel", h.Cancel)
			r.Post("/pipeline/reset", h.Reset)
			r.Get("/pipeline/events", h.ListEvents)

			// Voices
			r.Get("/voices", h.ListVoices)
			r.Post("/voices/clone", h.CloneVoice)

			// Gallery
			r.Get("/images", h.ListImages)
			r.Post("/images", h.UploadImage)
			r.Delete("/images", h.ClearImages)
			r.Post("/images/{id}/select", h.SelectImage)
			r.Delete("/images/{id}", h.DeleteImage)

			// Video history
			r.Get("/videos", h.ListVideos)
			r.Delete("/videos", h.ClearVideos)
			r.Post("/videos/{id}/select", h.SelectVideo)
			r.Delete("/videos/{id}", h.DeleteVideo)
		})
	})

	return r
}

// allowedOrigins restricts CORS to the configured origins, or allows all
// when none are configured (dev mode).
func allowedOrigins(csv string) []string {
	var origins []string
	for _, o := range strings.Split(csv, ",") {
		if s := strings.TrimSpace(o); s != "" {
			origins = append(origins, s)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
