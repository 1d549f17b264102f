package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bobarin/talkinghead/internal/models"
)

// ---------------------------------------------------------------------------
// Google Cloud Text-to-Speech Service
// Uses the v1 REST API (text:synthesize) with the curated Studio/Wavenet
// voices of the catalog. Audio comes back base64-encoded as MP3.
// ---------------------------------------------------------------------------

const googleTTSBaseURL = "https://texttospeech.googleapis.com"

type GoogleTTSService struct {
	apiKey  string
	baseURL string
	genders map[string]models.Gender
	client  *http.Client
	logger  *zap.Logger
}

// Ensure GoogleTTSService implements TTSService at compile time.
var _ TTSService = (*GoogleTTSService)(nil)

// NewGoogleTTSService creates a TTS client. The catalog supplies the gender
// sent as ssmlGender for each voice.
func NewGoogleTTSService(apiKey string, catalog []models.CatalogVoice, logger *zap.Logger) *GoogleTTSService {
	genders := make(map[string]models.Gender, len(catalog))
	for _, v := range catalog {
		genders[v.Name] = v.Gender
	}
	return &GoogleTTSService{
		apiKey:  apiKey,
		baseURL: googleTTSBaseURL,
		genders: genders,
		client:  &http.Client{Timeout: 90 * time.Second},
		logger:  logger.Named("google_tts"),
	}
}

type googleTTSRequest struct {
	Input       googleTTSInput       `json:"input"`
	Voice       googleTTSVoice       `json:"voice"`
	AudioConfig googleTTSAudioConfig `json:"audioConfig"`
}

type googleTTSInput struct {
	Text string `json:"text"`
}

type googleTTSVoice struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name"`
	SSMLGender   string `json:"ssmlGender"`
}

type googleTTSAudioConfig struct {
	AudioEncoding string `json:"audioEncoding"`
}

type googleTTSResponse struct {
	AudioContent string `json:"audioContent"`
}

// languageCode derives "en-US" from a voice name like "en-US-Studio-O".
func languageCode(voiceName string) string {
	parts := strings.SplitN(voiceName, "-", 3)
	if len(parts) < 2 {
		return voiceName
	}
	return parts[0] + "-" + parts[1]
}

func (s *GoogleTTSService) GenerateSpeech(ctx context.Context, text, voiceName string) (*TTSResponse, error) {
	gender := "FEMALE"
	if s.genders[voiceName] == models.GenderMale {
		gender = "MALE"
	}

	reqBody := googleTTSRequest{
		Input: googleTTSInput{Text: text},
		Voice: googleTTSVoice{
			LanguageCode: languageCode(voiceName),
			Name:         voiceName,
			SSMLGender:   gender,
		},
		AudioConfig: googleTTSAudioConfig{AudioEncoding: "MP3"},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text:synthesize?key=%s", s.baseURL, s.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create TTS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	s.logger.Debug("generating speech", zap.String("voice", voiceName), zap.Int("text_len", len(text)))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("TTS request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read TTS response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{Provider: "Google TTS", Status: resp.StatusCode, Body: string(body)}
	}

	var ttsResp googleTTSResponse
	if err := json.Unmarshal(body, &ttsResp); err != nil {
		return nil, fmt.Errorf("failed to decode TTS response: %w", err)
	}
	if ttsResp.AudioContent == "" {
		return nil, fmt.Errorf("no audio content in TTS response")
	}

	audio, err := base64.StdEncoding.DecodeString(ttsResp.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio content: %w", err)
	}

	return &TTSResponse{AudioData: audio, MimeType: "audio/mpeg", Format: "mp3"}, nil
}
