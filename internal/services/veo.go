package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/bobarin/talkinghead/internal/models"
)

// ---------------------------------------------------------------------------
// Veo Video Generation Service
// Uses the Google Gen AI SDK to animate the portrait into a narrated video.
// Generation is a long-running operation: start it, poll it by name until it
// reports done, then download the video it references.
// ---------------------------------------------------------------------------

const defaultVeoModel = "veo-2.0-generate-001"

const noDownloadLink = "video generation completed, but no download link was found"

// VideoRequest is everything the video model needs for one talking head.
type VideoRequest struct {
	Image           []byte
	MimeType        string
	Script          string
	VoiceDescriptor string
	StyleTags       []string
	Gestures        []models.GestureInstruction
	AspectRatio     string
}

// Operation is the opaque handle of a running generation.
type Operation struct {
	Name        string
	Done        bool
	DownloadRef string // set once Done
}

type VeoService struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewVeoService creates a Veo client. The Gemini API key works for Veo too.
func NewVeoService(ctx context.Context, apiKey, model string, logger *zap.Logger) (*VeoService, error) {
	if model == "" {
		model = defaultVeoModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &VeoService{
		client: client,
		model:  model,
		logger: logger.Named("veo"),
	}, nil
}

// buildVeoPrompt composes the narration instruction with the delivery style
// and the timed gesture plan.
func buildVeoPrompt(req VideoRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Narrate the following script in %s: %q", req.VoiceDescriptor, req.Script)

	if len(req.StyleTags) > 0 {
		fmt.Fprintf(&b, "\n\nDelivery style: %s.", strings.Join(req.StyleTags, ", "))
	}

	if len(req.Gestures) > 0 {
		b.WriteString("\n\nGestures (perform each at the given time):")
		for _, g := range req.Gestures {
			fmt.Fprintf(&b, "\n- At %.2fs, on %q: %s", g.TimeSec, g.KeyPhrase, g.GestureDescription)
		}
	}

	b.WriteString("\n\nKeep the person's identity, clothing and background unchanged. The lips must move in sync with the narration.")
	return b.String()
}

// StartVideoGeneration submits the request and returns the operation handle.
func (s *VeoService) StartVideoGeneration(ctx context.Context, req VideoRequest) (*Operation, error) {
	const op = "Video generation"

	config := &genai.GenerateVideosConfig{
		NumberOfVideos:   1,
		PersonGeneration: "allow_adult",
	}
	if req.AspectRatio != "" {
		config.AspectRatio = req.AspectRatio
	}

	prompt := buildVeoPrompt(req)
	s.logger.Info("starting video generation",
		zap.String("model", s.model), zap.Int("prompt_len", len(prompt)), zap.Int("image_size", len(req.Image)))

	operation, err := s.client.Models.GenerateVideos(ctx, s.model, prompt, &genai.Image{
		ImageBytes: req.Image,
		MIMEType:   req.MimeType,
	}, config)
	if err != nil {
		return nil, Classify(op, fmt.Errorf("failed to start video generation: %w", err))
	}

	s.logger.Info("operation started", zap.String("operation", operation.Name))
	return toOperation(op, operation)
}

// PollOperation refreshes the operation by name.
func (s *VeoService) PollOperation(ctx context.Context, current *Operation) (*Operation, error) {
	const op = "Video status check"

	operation, err := s.client.Operations.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: current.Name}, nil)
	if err != nil {
		return nil, Classify(op, fmt.Errorf("failed to poll operation: %w", err))
	}

	s.logger.Debug("poll", zap.String("operation", operation.Name), zap.Bool("done", operation.Done))
	return toOperation(op, operation)
}

// DownloadVideo fetches the generated MP4.
func (s *VeoService) DownloadVideo(ctx context.Context, ref string) ([]byte, error) {
	const op = "Video download"

	uri := genai.NewDownloadURIFromVideo(&genai.Video{URI: ref})
	videoBytes, err := s.client.Files.Download(ctx, uri, nil)
	if err != nil {
		return nil, Classify(op, fmt.Errorf("failed to download generated video: %w", err))
	}
	if len(videoBytes) == 0 {
		return nil, integrityError(op, "downloaded video is empty (0 bytes)")
	}

	s.logger.Info("video downloaded", zap.Int("bytes", len(videoBytes)))
	return videoBytes, nil
}

func toOperation(op string, operation *genai.GenerateVideosOperation) (*Operation, error) {
	out := &Operation{Name: operation.Name, Done: operation.Done}
	if !operation.Done {
		return out, nil
	}

	// Operation-level errors (e.g. invalid request, quota exceeded)
	if len(operation.Error) > 0 {
		errJSON, _ := json.Marshal(operation.Error)
		return nil, Classify(op, fmt.Errorf("video generation operation failed: %s", errJSON))
	}
	if operation.Response == nil {
		return nil, integrityError(op, noDownloadLink)
	}

	// Videos blocked by Responsible AI filters
	if operation.Response.RAIMediaFilteredCount > 0 {
		reasons := "unknown"
		if len(operation.Response.RAIMediaFilteredReasons) > 0 {
			reasons = strings.Join(operation.Response.RAIMediaFilteredReasons, ", ")
		}
		return nil, &ServiceError{Op: op, Kind: KindInvalidInput, Err: fmt.Errorf("video blocked by safety filters: %s", reasons)}
	}

	if len(operation.Response.GeneratedVideos) == 0 ||
		operation.Response.GeneratedVideos[0].Video == nil ||
		operation.Response.GeneratedVideos[0].Video.URI == "" {
		return nil, integrityError(op, noDownloadLink)
	}

	out.DownloadRef = operation.Response.GeneratedVideos[0].Video.URI
	return out, nil
}
