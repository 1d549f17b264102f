package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bobarin/talkinghead/internal/api"
	"github.com/bobarin/talkinghead/internal/config"
	"github.com/bobarin/talkinghead/internal/db"
	"github.com/bobarin/talkinghead/internal/events"
	"github.com/bobarin/talkinghead/internal/gallery"
	"github.com/bobarin/talkinghead/internal/handle"
	"github.com/bobarin/talkinghead/internal/history"
	"github.com/bobarin/talkinghead/internal/pipeline"
	"github.com/bobarin/talkinghead/internal/services"
	"github.com/bobarin/talkinghead/internal/task"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// No logger yet; the config decides which one to build.
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	logger.Info("starting talkinghead API", zap.String("env", cfg.AppEnv))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Asset store: Postgres when configured, otherwise process memory
	var store db.Store
	if cfg.DatabaseURL != "" {
		database := db.New(cfg.DatabaseURL, logger)
		defer database.Close()
		store = database
		logger.Info("using Postgres asset store")
	} else {
		store = db.NewMemory()
		logger.Warn("DATABASE_URL not set, assets are kept in memory and lost on restart")
	}

	// Stage event feed (optional)
	var (
		observer pipeline.StageObserver
		feed     api.EventFeed
	)
	if cfg.RedisURL != "" {
		pub, err := events.New(cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		defer pub.Close()
		go pub.Run(ctx)
		observer, feed = pub, pub
		logger.Info("publishing stage events to Redis")
	}

	// Initialize services
	ffmpegSvc := services.NewFFmpegService(cfg.FFmpegTempDir, logger)
	openaiSvc := services.NewOpenAIService(cfg.OpenAIKey, cfg.OpenAIModel, logger)
	geminiSvc := services.NewGeminiService(cfg.GeminiKey, cfg.ImageEditModel, cfg.VoiceAnalysisModel, logger)
	veoSvc, err := services.NewVeoService(ctx, cfg.GeminiKey, cfg.VideoModel, logger)
	if err != nil {
		logger.Fatal("failed to create Veo client", zap.Error(err))
	}

	var ttsSvc services.TTSService
	switch cfg.TTSProvider {
	case "elevenlabs":
		ttsSvc = services.NewElevenLabsService(cfg.ElevenLabsKey, logger)
	default:
		ttsSvc = services.NewGoogleTTSService(cfg.GoogleTTSKey, cfg.Voices, logger)
	}
	logger.Info("services ready",
		zap.String("tts", cfg.TTSProvider), zap.String("video_model", cfg.VideoModel), zap.Int("voices", len(cfg.Voices)))

	// Gallery and history share one handle registry
	handles := handle.NewRegistry()
	gal := gallery.NewManager(store, handles, logger)
	hist := history.NewManager(store, handles, logger)

	loadWithRetry(ctx, logger, "gallery", gal.Load)
	loadWithRetry(ctx, logger, "video history", hist.Load)

	ctrl := pipeline.New(pipeline.Deps{
		Speech:     services.NewSpeechService(ttsSvc, ffmpegSvc),
		Writer:     openaiSvc,
		Images:     geminiSvc,
		Voices:     geminiSvc,
		Video:      veoSvc,
		Thumbnails: ffmpegSvc,
		Audio:      store,
		Gallery:    gal,
		History:    hist,
		Handles:    handles,
		Observer:   observer,
	}, pipeline.Options{
		Catalog:         cfg.Voices,
		PollInterval:    cfg.VideoPollInterval,
		MaxPollDuration: cfg.VideoMaxPollDuration,
	}, logger)

	// Create API handler
	handler := api.NewHandler(ctrl, gal, hist, handles, feed, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		logger.Info("API key authentication enabled")
	} else {
		logger.Warn("no BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		logger.Info("API server listening", zap.String("port", cfg.APIPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	// Stop in-flight generation, then drop every display handle
	handler.Shutdown()
	ctrl.Close()
	gal.Close()
	hist.Close()
	stop()

	logger.Info("server exited")
}

// loadWithRetry loads once in the foreground. On failure the service starts
// empty and the load is retried in the background, 5s apart growing to one
// minute, until it succeeds. Each attempt is bounded to 30s.
func loadWithRetry(ctx context.Context, logger *zap.Logger, name string, load func(context.Context) error) {
	attempt := func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return load(attemptCtx)
	}
	err := attempt(ctx)
	if err == nil {
		return
	}
	logger.Error("failed to load "+name+", starting empty", zap.Error(err))

	go func() {
		if err := task.Sleep(ctx, 5*time.Second); err != nil {
			return
		}
		err := task.Retry(ctx, 5*time.Second, time.Minute, attempt, func(n int, err error) {
			logger.Warn("retrying "+name+" load", zap.Int("attempt", n), zap.Error(err))
		})
		if err == nil {
			logger.Info(name + " loaded after store recovery")
		}
	}()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Development() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
