package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bobarin/talkinghead/internal/models"
)

const (
	geminiBaseURL             = "https://generativelanguage.googleapis.com"
	defaultImageEditModel     = "gemini-2.5-flash-image-preview"
	defaultVoiceAnalysisModel = "gemini-2.5-flash"

	// MaxVoiceSampleBytes bounds uploaded voice samples.
	MaxVoiceSampleBytes = 10 << 20
)

var (
	ErrVoiceSampleTooLarge = errors.New("voice sample exceeds the 10MB limit")
	ErrVoiceSampleType     = errors.New("voice sample must be an audio file")
)

// GeminiService edits portrait images and describes voice samples through the
// Gemini generateContent REST endpoint.
type GeminiService struct {
	apiKey     string
	baseURL    string
	imageModel string
	textModel  string
	client     *http.Client
	logger     *zap.Logger
}

func NewGeminiService(apiKey, imageModel, textModel string, logger *zap.Logger) *GeminiService {
	if imageModel == "" {
		imageModel = defaultImageEditModel
	}
	if textModel == "" {
		textModel = defaultVoiceAnalysisModel
	}
	return &GeminiService{
		apiKey:     apiKey,
		baseURL:    geminiBaseURL,
		imageModel: imageModel,
		textModel:  textModel,
		client:     &http.Client{Timeout: 300 * time.Second},
		logger:     logger.Named("gemini"),
	}
}

// Gemini API request/response structures
type GeminiGenerateContentRequest struct {
	Contents         []GeminiContent         `json:"contents"`
	GenerationConfig *GeminiGenerationConfig `json:"generationConfig,omitempty"`
}

type GeminiGenerationConfig struct {
	ResponseModalities []string           `json:"responseModalities,omitempty"`
	ImageConfig        *GeminiImageConfig `json:"imageConfig,omitempty"`
}

type GeminiImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

type GeminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *GeminiInlineData `json:"inlineData,omitempty"`
}

type GeminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type GeminiGenerateContentResponse struct {
	Candidates []GeminiCandidate `json:"candidates"`
}

type GeminiCandidate struct {
	Content GeminiContent `json:"content"`
}

// GeneratedImage is an edited still returned by the image model.
type GeneratedImage struct {
	Data     []byte
	MimeType string
}

func expressionText(intensity models.ExpressionIntensity) string {
	switch intensity {
	case models.IntensityNeutral:
		return "a neutral, calm expression"
	case models.IntensityExpressive:
		return "an expressive and engaging look"
	case models.IntensityVeryExpressive:
		return "a very expressive and highly animated look"
	default:
		return "an engaging look"
	}
}

// GenerateExpressiveImage re-renders the portrait with a speaking expression.
// The person, clothing and background must stay unchanged; only the face and
// head posture may move.
func (s *GeminiService) GenerateExpressiveImage(ctx context.Context, image []byte, mimeType, script string, intensity models.ExpressionIntensity, orientation models.VideoOrientation) (*GeneratedImage, error) {
	const op = "Expressive image generation"

	prompt := fmt.Sprintf(`Based on the provided image, regenerate it to show the person with %s as if they are about to speak the following script: "%s". Make them look natural and ready to speak. Render the final image in a %s aspect ratio. Do not change the person, their clothing, or the background. Only adjust their facial expression and slight head posture for a natural speaking look.`,
		expressionText(intensity), script, orientation.AspectRatio())

	img, err := s.editImage(ctx, image, mimeType, prompt, orientation.AspectRatio())
	if err != nil {
		return nil, Classify(op, err)
	}
	return img, nil
}

// GenerateGestureKeyframe renders the subject performing one planned gesture.
// Only hands and arms may change.
func (s *GeminiService) GenerateGestureKeyframe(ctx context.Context, image []byte, mimeType string, gesture models.GestureInstruction) (*GeneratedImage, error) {
	const op = "Keyframe generation"

	prompt := fmt.Sprintf(`Edit the provided image so the person is performing this gesture: %s. The gesture emphasises the words "%s". Change only the hands and arms. Keep the face, expression, clothing, background, framing and lighting exactly as they are.`,
		gesture.GestureDescription, gesture.KeyPhrase)

	img, err := s.editImage(ctx, image, mimeType, prompt, "")
	if err != nil {
		return nil, Classify(op, err)
	}
	return img, nil
}

// AnalyzeVoiceSample returns a short description of the speaker's voice,
// usable as a narration descriptor. Oversized or non-audio samples are
// rejected before anything is uploaded.
func (s *GeminiService) AnalyzeVoiceSample(ctx context.Context, audio []byte, mimeType string) (string, error) {
	const op = "Voice analysis"

	if len(audio) > MaxVoiceSampleBytes {
		return "", ErrVoiceSampleTooLarge
	}
	if !strings.HasPrefix(mimeType, "audio/") {
		return "", ErrVoiceSampleType
	}

	reqBody := GeminiGenerateContentRequest{
		Contents: []GeminiContent{{
			Role: "user",
			Parts: []GeminiPart{
				{InlineData: &GeminiInlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(audio)}},
				{Text: "Listen to this voice sample and describe the speaker's voice in one short phrase suitable for a narration prompt, such as 'a warm, low-pitched male voice with a slight Irish accent'. Describe gender, pitch, tone, pace and accent. Return only the phrase."},
			},
		}},
	}

	resp, err := s.doGenerateContent(ctx, s.textModel, reqBody)
	if err != nil {
		return "", Classify(op, err)
	}

	text := strings.TrimSpace(responseText(resp))
	if text == "" {
		return "", integrityError(op, "gemini returned no voice description")
	}
	return strings.Trim(text, `"'`), nil
}

func (s *GeminiService) editImage(ctx context.Context, image []byte, mimeType, prompt, aspectRatio string) (*GeneratedImage, error) {
	genConfig := &GeminiGenerationConfig{ResponseModalities: []string{"TEXT", "IMAGE"}}
	if aspectRatio != "" {
		genConfig.ImageConfig = &GeminiImageConfig{AspectRatio: aspectRatio}
	}

	reqBody := GeminiGenerateContentRequest{
		Contents: []GeminiContent{{
			Role: "user",
			Parts: []GeminiPart{
				{InlineData: &GeminiInlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(image)}},
				{Text: prompt},
			},
		}},
		GenerationConfig: genConfig,
	}

	resp, err := s.doGenerateContent(ctx, s.imageModel, reqBody)
	if err != nil {
		return nil, err
	}

	var textParts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.InlineData != nil && part.InlineData.Data != "" {
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, &ServiceError{Op: "image decode", Kind: KindUnknown, Err: fmt.Errorf("failed to decode base64 image: %w", err)}
			}
			mime := part.InlineData.MimeType
			if mime == "" {
				mime = "image/png"
			}
			return &GeneratedImage{Data: data, MimeType: mime}, nil
		}
		if part.Text != "" {
			textParts = append(textParts, part.Text)
		}
	}

	if len(textParts) > 0 {
		s.logger.Warn("gemini returned text instead of image", zap.String("text", truncateString(textParts[0], 200)))
	}
	return nil, &ServiceError{Op: "image edit", Kind: KindInvalidInput, Err: fmt.Errorf("no image data found in response")}
}

func (s *GeminiService) doGenerateContent(ctx context.Context, model string, reqBody GeminiGenerateContentRequest) (*GeminiGenerateContentResponse, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", s.baseURL, model, s.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{Provider: "gemini", Status: resp.StatusCode, Body: truncateString(string(bodyBytes), 500)}
	}

	var geminiResp GeminiGenerateContentResponse
	if err := json.Unmarshal(bodyBytes, &geminiResp); err != nil {
		return nil, &ServiceError{Op: "gemini", Kind: KindUnknown, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if len(geminiResp.Candidates) == 0 {
		// Prompts blocked by safety filters come back without candidates.
		return nil, &ServiceError{Op: "gemini", Kind: KindInvalidInput, Err: fmt.Errorf("no candidates in response")}
	}

	return &geminiResp, nil
}

func responseText(resp *GeminiGenerateContentResponse) string {
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String()
}
