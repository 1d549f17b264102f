package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/bobarin/talkinghead/internal/models"
)

const (
	defaultOpenAIModel = "gpt-5-mini"
	// Planned gestures must echo the peak they belong to within this tolerance.
	peakTolerance = 0.01
)

type OpenAIService struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

func NewOpenAIService(apiKey, model string, logger *zap.Logger) *OpenAIService {
	return newOpenAIService(openai.DefaultConfig(apiKey), model, logger)
}

func newOpenAIService(cfg openai.ClientConfig, model string, logger *zap.Logger) *OpenAIService {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIService{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger.Named("openai"),
	}
}

// EnhanceScript rewrites the script for spoken delivery. It never returns
// partial text: any failure yields an error.
func (s *OpenAIService) EnhanceScript(ctx context.Context, script string) (string, error) {
	const op = "Script enhancement"

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are an expert copywriter specializing in video scripts. Rewrite the user's text to be more engaging, clear, and concise for a talking head video. Keep the original meaning. Return only the revised script text, without explanations or preamble.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: script,
			},
		},
		Temperature: 1.0,
	})
	if err != nil {
		return "", Classify(op, fmt.Errorf("openai request failed: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", integrityError(op, "no response from openai")
	}

	improved := strings.TrimSpace(resp.Choices[0].Message.Content)
	if improved == "" {
		return "", integrityError(op, "openai returned an empty script")
	}
	return improved, nil
}

type gesturePlan struct {
	Gestures []models.GestureInstruction `json:"gestures"`
}

type segmentPrompt struct {
	ID      int     `json:"id"`
	Text    string  `json:"text"`
	PeakSec float64 `json:"peakSec"`
}

// PlanGestures asks for one gesture per segment. The reply must contain
// exactly one instruction per segment, in order, each echoing its segment's
// peakSec; anything else is rejected as a malformed plan.
func (s *OpenAIService) PlanGestures(ctx context.Context, script string, segments []models.AudioTimingSegment, styleTags []string) ([]models.GestureInstruction, error) {
	const op = "Gesture planning"

	if len(segments) == 0 {
		return []models.GestureInstruction{}, nil
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: buildGestureSystemPrompt(styleTags),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildGestureUserPrompt(script, segments),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 1.0,
	})
	if err != nil {
		return nil, Classify(op, fmt.Errorf("openai request failed: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, integrityError(op, "no response from openai")
	}

	rawContent := resp.Choices[0].Message.Content

	var plan gesturePlan
	if err := json.Unmarshal([]byte(rawContent), &plan); err != nil {
		s.logger.Warn("gesture plan parse failed", zap.Error(err), zap.String("raw", truncateString(rawContent, 2000)))
		return nil, integrityError(op, "failed to parse gesture plan: %w", err)
	}

	if len(plan.Gestures) != len(segments) {
		s.logger.Warn("gesture count mismatch",
			zap.Int("gestures", len(plan.Gestures)), zap.Int("segments", len(segments)))
		return nil, integrityError(op, "expected %d gestures, got %d", len(segments), len(plan.Gestures))
	}

	for i := range plan.Gestures {
		g := &plan.Gestures[i]
		if math.Abs(g.TimeSec-segments[i].PeakSec) > peakTolerance {
			return nil, integrityError(op, "gesture %d timeSec %.3f does not match segment peak %.3f", i, g.TimeSec, segments[i].PeakSec)
		}
		// Pin to the exact peak so later lookups by peakSec are exact.
		g.TimeSec = segments[i].PeakSec
		if strings.TrimSpace(g.GestureDescription) == "" {
			return nil, integrityError(op, "gesture %d has no description", i)
		}
	}

	s.logger.Info("gesture plan generated", zap.Int("gestures", len(plan.Gestures)))
	return plan.Gestures, nil
}

func buildGestureSystemPrompt(styleTags []string) string {
	var b strings.Builder
	b.WriteString(`You are a presentation coach planning hand and arm gestures for a talking head video.
You receive the script split into timed segments. For EVERY segment, return exactly one gesture, in the same order.

Respond with JSON of the form:
{"gestures": [{"key_phrase": "...", "gesture_description": "...", "timeSec": 0.0}]}

Rules:
- key_phrase: the words in the segment the gesture emphasises.
- gesture_description: one short sentence describing a natural, subtle hand or arm movement.
- timeSec: copy the segment's peakSec value exactly. Do not round or recompute it.
- Never add, merge, or skip segments.`)
	if len(styleTags) > 0 {
		b.WriteString("\n\nDelivery style: ")
		b.WriteString(strings.Join(styleTags, ", "))
		b.WriteString(". Let the gestures match this style.")
	}
	return b.String()
}

func buildGestureUserPrompt(script string, segments []models.AudioTimingSegment) string {
	prompts := make([]segmentPrompt, len(segments))
	for i, seg := range segments {
		prompts[i] = segmentPrompt{ID: seg.ID, Text: seg.Text, PeakSec: seg.PeakSec}
	}
	segJSON, _ := json.MarshalIndent(prompts, "", "  ")
	return fmt.Sprintf("Script:\n%s\n\nSegments:\n%s", script, segJSON)
}
