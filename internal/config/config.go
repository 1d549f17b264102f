package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/bobarin/talkinghead/internal/models"
)

type Config struct {
	// Server
	APIPort            string
	AppEnv             string
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database (empty = in-memory store, nothing survives a restart)
	DatabaseURL string

	// Redis (empty = no stage event feed)
	RedisURL string

	// OpenAI (script enhancement and gesture planning)
	OpenAIKey   string
	OpenAIModel string

	// Gemini (image edits, voice analysis) and Veo (video generation)
	GeminiKey          string
	ImageEditModel     string
	VoiceAnalysisModel string
	VideoModel         string

	// TTS
	TTSProvider      string // "google" or "elevenlabs"
	GoogleTTSKey     string
	ElevenLabsKey    string
	VoiceCatalogPath string // YAML voice catalog (empty = built-in catalog)

	// Media
	FFmpegTempDir string

	// Video polling
	VideoPollInterval    time.Duration
	VideoMaxPollDuration time.Duration // 0 = poll until done

	Voices []models.CatalogVoice
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:              getEnv("API_PORT", "8080"),
		AppEnv:               getEnv("APP_ENV", "production"),
		BackendAPIKey:        getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:   getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		RedisURL:             getEnv("REDIS_URL", ""),
		OpenAIKey:            getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:          getEnv("OPENAI_MODEL", "gpt-5-mini"),
		GeminiKey:            getEnv("GEMINI_API_KEY", ""),
		ImageEditModel:       getEnv("IMAGE_EDIT_MODEL", "gemini-2.5-flash-image-preview"),
		VoiceAnalysisModel:   getEnv("VOICE_ANALYSIS_MODEL", "gemini-2.5-flash"),
		VideoModel:           getEnv("VIDEO_MODEL", "veo-2.0-generate-001"),
		TTSProvider:          strings.ToLower(getEnv("TTS_PROVIDER", "google")),
		GoogleTTSKey:         getEnv("GOOGLE_TTS_API_KEY", ""),
		ElevenLabsKey:        getEnv("ELEVENLABS_API_KEY", ""),
		VoiceCatalogPath:     getEnv("VOICE_CATALOG_PATH", ""),
		FFmpegTempDir:        getEnv("FFMPEG_TEMP_DIR", "/tmp/talkinghead"),
		VideoPollInterval:    getEnvDuration("VIDEO_POLL_INTERVAL", 10*time.Second),
		VideoMaxPollDuration: getEnvDuration("VIDEO_MAX_POLL_DURATION", 0),
	}

	// Validate required fields
	if cfg.OpenAIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	if cfg.GeminiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}

	switch cfg.TTSProvider {
	case "google":
		// The Gemini key works for Cloud TTS when the API is enabled on the same project.
		if cfg.GoogleTTSKey == "" {
			cfg.GoogleTTSKey = cfg.GeminiKey
		}
	case "elevenlabs":
		if cfg.ElevenLabsKey == "" {
			return nil, fmt.Errorf("ELEVENLABS_API_KEY is required when TTS_PROVIDER=elevenlabs")
		}
		// The built-in catalog names Google voices.
		if cfg.VoiceCatalogPath == "" {
			return nil, fmt.Errorf("VOICE_CATALOG_PATH is required when TTS_PROVIDER=elevenlabs")
		}
	default:
		return nil, fmt.Errorf("unknown TTS_PROVIDER %q (want google or elevenlabs)", cfg.TTSProvider)
	}

	if cfg.VideoPollInterval <= 0 {
		return nil, fmt.Errorf("VIDEO_POLL_INTERVAL must be positive")
	}

	voices, err := LoadVoices(cfg.VoiceCatalogPath)
	if err != nil {
		return nil, err
	}
	cfg.Voices = voices

	return cfg, nil
}

// Development reports whether APP_ENV selects development mode.
func (c *Config) Development() bool {
	return c.AppEnv == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs := getEnvInt(key, -1); secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
