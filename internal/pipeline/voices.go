package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bobarin/talkinghead/internal/db"
	"github.com/bobarin/talkinghead/internal/fingerprint"
	"github.com/bobarin/talkinghead/internal/models"
)

// Voices lists the catalog followed by the cloned voices.
func (c *Controller) Voices() []models.VoiceOption {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.VoiceOption, 0, len(c.catalog)+len(c.cloned))
	for _, v := range c.catalog {
		out = append(out, models.ToOption(v))
	}
	for _, v := range c.cloned {
		out = append(out, models.ToOption(v))
	}
	return out
}

func (c *Controller) findVoice(id string) models.Voice {
	for _, v := range c.catalog {
		if v.VoiceID() == id {
			return v
		}
	}
	for _, v := range c.cloned {
		if v.VoiceID() == id {
			return v
		}
	}
	return nil
}

// StartPreviews validates the inputs, pins the selected image as the source
// of the attempt and moves to VOICE_PREVIEWS.
func (c *Controller) StartPreviews() (Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stage != models.StageIdle {
		if c.stage.Busy() {
			return nil, ErrBusy
		}
		return nil, wrongStage("generate voice previews", c.stage)
	}
	if strings.TrimSpace(c.script) == "" {
		return nil, invalid("script", "please enter a script first")
	}
	src, ok := c.gallery.Selection()
	if !ok {
		return nil, invalid("image", "please select a source image first")
	}
	if len(c.catalog) == 0 {
		return nil, invalid("voice", "no voices are configured")
	}

	c.source = &src
	token := c.token
	text := fingerprint.FirstSentence(c.script)
	c.setStage(models.StageVoicePreviews)

	return func(ctx context.Context) error {
		return c.runPreviews(ctx, token, text)
	}, nil
}

// GeneratePreviews synthesizes the first sentence in every catalog voice.
// Either every preview succeeds or the attempt fails.
func (c *Controller) GeneratePreviews(ctx context.Context) error {
	job, err := c.StartPreviews()
	if err != nil {
		return err
	}
	return job(ctx)
}

func (c *Controller) runPreviews(ctx context.Context, token uint64, text string) error {
	const label = "Voice preview generation"

	hash := fingerprint.Of(text, nil)
	assets := make([]*models.AudioAsset, len(c.catalog))

	g, gctx := errgroup.WithContext(ctx)
	for i, v := range c.catalog {
		g.Go(func() error {
			asset, err := c.cachedSpeech(gctx, text, hash, v.Name, models.AudioScopePreview)
			if err != nil {
				return fmt.Errorf("%s: %w", v.DisplayName, err)
			}
			assets[i] = asset
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return c.fail(token, label, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != token {
		return nil
	}
	c.previews = make([]*audioClip, len(assets))
	for i, a := range assets {
		c.previews[i] = &audioClip{asset: a, handle: c.handles.Acquire(a.Data, audioMimeType)}
	}
	if c.voice == nil {
		c.voice = c.catalog[0]
	}
	c.setStage(models.StageVoiceSelected)
	return nil
}

// cachedSpeech returns the stored audio for the key, synthesizing and
// storing it on a miss.
func (c *Controller) cachedSpeech(ctx context.Context, text, textHash, voiceName string, scope models.AudioScope) (*models.AudioAsset, error) {
	key := fingerprint.AudioKey(textHash, voiceName, scope)

	asset, err := c.audio.GetAudio(ctx, key)
	if err == nil {
		c.logger.Debug("audio cache hit", zap.String("key", key))
		return asset, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("failed to read audio cache: %w", err)
	}

	speech, err := c.speech.SynthesizeSpeech(ctx, text, voiceName)
	if err != nil {
		return nil, err
	}

	asset = &models.AudioAsset{
		ID:          key,
		VoiceName:   voiceName,
		Scope:       scope,
		TextHash:    textHash,
		Data:        speech.Audio,
		DurationSec: speech.DurationSec,
		CreatedAt:   c.now(),
	}
	if err := c.audio.PutAudio(ctx, asset); err != nil {
		return nil, fmt.Errorf("failed to cache audio: %w", err)
	}
	c.logger.Info("audio synthesized",
		zap.String("key", key), zap.Float64("duration_sec", asset.DurationSec))
	return asset, nil
}

// SelectVoice records the chosen voice. Only allowed in VOICE_SELECTED.
func (c *Controller) SelectVoice(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stage != models.StageVoiceSelected {
		return wrongStage("select a voice", c.stage)
	}
	v := c.findVoice(id)
	if v == nil {
		return invalid("voice", "unknown voice "+id)
	}
	c.voice = v
	return nil
}

// CloneVoice analyses a voice sample and adds the result to the voice list.
// The display name defaults to the sample's file name and the base voice,
// used for timing audio, to the first catalog voice.
func (c *Controller) CloneVoice(ctx context.Context, sample []byte, mimeType, sampleLabel, displayName, baseVoice string) (models.ClonedVoice, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = strings.TrimSuffix(sampleLabel, filepath.Ext(sampleLabel))
	}
	if displayName == "" {
		return models.ClonedVoice{}, invalid("display_name", "please provide a name for the voice")
	}

	c.mu.Lock()
	if baseVoice == "" && len(c.catalog) > 0 {
		baseVoice = c.catalog[0].Name
	}
	_, isCatalog := c.findVoice(baseVoice).(models.CatalogVoice)
	c.mu.Unlock()
	if !isCatalog {
		return models.ClonedVoice{}, invalid("base_voice", "base voice must be a catalog voice")
	}

	descriptor, err := c.analyzer.AnalyzeVoiceSample(ctx, sample, mimeType)
	if err != nil {
		return models.ClonedVoice{}, err
	}

	voice := models.ClonedVoice{
		ID:                uuid.New().String(),
		DisplayName:       displayName,
		PromptDescriptor:  descriptor,
		SourceSampleLabel: sampleLabel,
		BaseVoice:         baseVoice,
	}

	c.mu.Lock()
	c.cloned = append(c.cloned, voice)
	c.mu.Unlock()

	c.logger.Info("voice cloned", zap.String("id", voice.ID), zap.String("base_voice", baseVoice))
	return voice, nil
}

// EnhanceScript rewrites the script in place. Only allowed in IDLE; a failure
// leaves the script untouched.
func (c *Controller) EnhanceScript(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.stage != models.StageIdle {
		c.mu.Unlock()
		return "", wrongStage("enhance the script", c.stage)
	}
	script := c.script
	c.mu.Unlock()

	if strings.TrimSpace(script) == "" {
		return "", invalid("script", "please enter a script first")
	}

	improved, err := c.writer.EnhanceScript(ctx, script)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stage != models.StageIdle {
		return "", ErrBusy
	}
	c.script = improved
	return improved, nil
}

// GenerateExpressiveImage edits the selected image so the subject looks
// ready to speak the script, and adds the result to the gallery.
func (c *Controller) GenerateExpressiveImage(ctx context.Context, intensity models.ExpressionIntensity, orientation models.VideoOrientation) (models.ImageAsset, error) {
	c.mu.Lock()
	if c.stage != models.StageIdle {
		c.mu.Unlock()
		return models.ImageAsset{}, wrongStage("generate an expressive image", c.stage)
	}
	script := c.script
	c.mu.Unlock()

	src, ok := c.gallery.Selection()
	if !ok {
		return models.ImageAsset{}, invalid("image", "please select a source image first")
	}
	if strings.TrimSpace(script) == "" {
		return models.ImageAsset{}, invalid("script", "please enter a script first")
	}

	img, err := c.images.GenerateExpressiveImage(ctx, src.Data, src.MimeType, script, intensity, orientation)
	if err != nil {
		return models.ImageAsset{}, err
	}
	asset, err := c.gallery.AddGenerated(ctx, img.Data, img.MimeType, nil, nil)
	if err != nil {
		return models.ImageAsset{}, err
	}

	c.mu.Lock()
	c.orientation = orientation
	c.mu.Unlock()
	return asset, nil
}
