package services

import (
	"context"
	"fmt"
)

// DurationProber measures encoded media.
type DurationProber interface {
	ProbeDuration(ctx context.Context, data []byte, ext string) (float64, error)
}

var _ DurationProber = (*FFmpegService)(nil)

// Speech is synthesized narration with its measured duration.
type Speech struct {
	Audio       []byte
	MimeType    string
	DurationSec float64
}

// SpeechService pairs a TTS provider with a decoder that measures the result.
// The measured duration is the timing ground truth for the whole pipeline.
type SpeechService struct {
	provider TTSService
	prober   DurationProber
}

func NewSpeechService(provider TTSService, prober DurationProber) *SpeechService {
	return &SpeechService{provider: provider, prober: prober}
}

func (s *SpeechService) SynthesizeSpeech(ctx context.Context, text, voiceName string) (*Speech, error) {
	const op = "Audio generation"

	resp, err := s.provider.GenerateSpeech(ctx, text, voiceName)
	if err != nil {
		return nil, Classify(op, err)
	}

	duration, err := s.prober.ProbeDuration(ctx, resp.AudioData, resp.Format)
	if err != nil {
		return nil, Classify(op, fmt.Errorf("failed to measure audio duration: %w", err))
	}

	return &Speech{Audio: resp.AudioData, MimeType: resp.MimeType, DurationSec: duration}, nil
}
