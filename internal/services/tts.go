package services

import "context"

// ---------------------------------------------------------------------------
// TTSService: common interface for text-to-speech providers
// Google Cloud TTS and ElevenLabs both implement it so the speech service
// can use whichever is configured without knowing the underlying provider.
// ---------------------------------------------------------------------------

// TTSResponse is the common response type from any TTS provider.
type TTSResponse struct {
	AudioData []byte
	MimeType  string // "audio/mpeg"
	Format    string // file extension understood by ffprobe: "mp3", "wav", ...
}

// TTSService is the interface that any TTS provider must implement.
type TTSService interface {
	// GenerateSpeech converts text to audio spoken by voiceName.
	// Providers do not report durations; callers measure the audio.
	GenerateSpeech(ctx context.Context, text, voiceName string) (*TTSResponse, error)
}
