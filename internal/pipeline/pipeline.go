// Package pipeline drives one talking-head generation attempt from voice
// previews to a saved video. The Controller owns the stage, the transient
// artifacts of the attempt and the display handles derived from them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bobarin/talkinghead/internal/gallery"
	"github.com/bobarin/talkinghead/internal/handle"
	"github.com/bobarin/talkinghead/internal/history"
	"github.com/bobarin/talkinghead/internal/models"
	"github.com/bobarin/talkinghead/internal/services"
	"github.com/bobarin/talkinghead/internal/task"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultSaveTimeout  = 2 * time.Minute
	maxStyleTags        = 5
	audioMimeType       = "audio/mpeg"
	videoMimeType       = "video/mp4"
)

type SpeechSynthesizer interface {
	SynthesizeSpeech(ctx context.Context, text, voiceName string) (*services.Speech, error)
}

type ScriptWriter interface {
	EnhanceScript(ctx context.Context, script string) (string, error)
	PlanGestures(ctx context.Context, script string, segments []models.AudioTimingSegment, styleTags []string) ([]models.GestureInstruction, error)
}

type ImageEditor interface {
	GenerateExpressiveImage(ctx context.Context, image []byte, mimeType, script string, intensity models.ExpressionIntensity, orientation models.VideoOrientation) (*services.GeneratedImage, error)
	GenerateGestureKeyframe(ctx context.Context, image []byte, mimeType string, gesture models.GestureInstruction) (*services.GeneratedImage, error)
}

type VoiceAnalyzer interface {
	AnalyzeVoiceSample(ctx context.Context, audio []byte, mimeType string) (string, error)
}

type VideoGenerator interface {
	StartVideoGeneration(ctx context.Context, req services.VideoRequest) (*services.Operation, error)
	PollOperation(ctx context.Context, op *services.Operation) (*services.Operation, error)
	DownloadVideo(ctx context.Context, ref string) ([]byte, error)
}

type Thumbnailer interface {
	Thumbnail(ctx context.Context, video []byte) (string, error)
}

// AudioCache is the audio namespace of the asset store.
type AudioCache interface {
	GetAudio(ctx context.Context, key string) (*models.AudioAsset, error)
	PutAudio(ctx context.Context, a *models.AudioAsset) error
}

// StageObserver is told about every stage transition. It is called with the
// controller lock held and must not block.
type StageObserver interface {
	StageChanged(ev models.StageEvent)
}

var (
	_ SpeechSynthesizer = (*services.SpeechService)(nil)
	_ ScriptWriter      = (*services.OpenAIService)(nil)
	_ ImageEditor       = (*services.GeminiService)(nil)
	_ VoiceAnalyzer     = (*services.GeminiService)(nil)
	_ VideoGenerator    = (*services.VeoService)(nil)
	_ Thumbnailer       = (*services.FFmpegService)(nil)
)

// Deps are the collaborators of a Controller. Observer is optional.
type Deps struct {
	Speech     SpeechSynthesizer
	Writer     ScriptWriter
	Images     ImageEditor
	Voices     VoiceAnalyzer
	Video      VideoGenerator
	Thumbnails Thumbnailer
	Audio      AudioCache
	Gallery    *gallery.Manager
	History    *history.Manager
	Handles    *handle.Registry
	Observer   StageObserver
}

type Options struct {
	Catalog         []models.CatalogVoice
	PollInterval    time.Duration // defaults to 10s
	MaxPollDuration time.Duration // zero polls until the operation is done
}

// Job is a validated long-running trigger, ready to run.
type Job func(ctx context.Context) error

type audioClip struct {
	asset  *models.AudioAsset
	handle *handle.Handle
}

type Controller struct {
	speech   SpeechSynthesizer
	writer   ScriptWriter
	images   ImageEditor
	analyzer VoiceAnalyzer
	video    VideoGenerator
	thumbs   Thumbnailer
	audio    AudioCache
	gallery  *gallery.Manager
	history  *history.Manager
	handles  *handle.Registry
	observer StageObserver
	logger   *zap.Logger
	now      func() time.Time

	catalog      []models.CatalogVoice
	pollInterval time.Duration
	maxPoll      time.Duration
	saveTimeout  time.Duration // bounds the history write of a finished video

	runner task.Runner

	mu          sync.Mutex
	stage       models.Stage
	errMsg      string
	token       uint64 // bumped by every reset; stale work must not commit
	videoRun    uint64
	canceledRun uint64
	script      string
	tags        []string
	orientation models.VideoOrientation
	cloned      []models.ClonedVoice

	// Attempt state, cleared by reset.
	source    *models.ImageAsset
	previews  []*audioClip
	voice     models.Voice
	fullAudio *audioClip
	analysis  *models.AudioAnalysis
	gestures  []models.GestureInstruction
}

func New(deps Deps, opts Options, logger *zap.Logger) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &Controller{
		speech:       deps.Speech,
		writer:       deps.Writer,
		images:       deps.Images,
		analyzer:     deps.Voices,
		video:        deps.Video,
		thumbs:       deps.Thumbnails,
		audio:        deps.Audio,
		gallery:      deps.Gallery,
		history:      deps.History,
		handles:      deps.Handles,
		observer:     deps.Observer,
		logger:       logger.Named("pipeline"),
		now:          time.Now,
		catalog:      opts.Catalog,
		pollInterval: opts.PollInterval,
		maxPoll:      opts.MaxPollDuration,
		saveTimeout:  defaultSaveTimeout,
		stage:        models.StageIdle,
		tags:         []string{},
	}
}

// AudioView is a playable audio artifact.
type AudioView struct {
	VoiceName   string  `json:"voice_name"`
	URL         string  `json:"url"`
	DurationSec float64 `json:"duration_sec"`
}

// Snapshot is what the presentation layer renders.
type Snapshot struct {
	Stage         models.Stage                `json:"stage"`
	Error         string                      `json:"error,omitempty"`
	Script        string                      `json:"script"`
	StyleTags     []string                    `json:"style_tags"`
	SourceImageID string                      `json:"source_image_id,omitempty"`
	SelectedVoice *models.VoiceOption         `json:"selected_voice,omitempty"`
	Previews      []AudioView                 `json:"previews"`
	FullAudio     *AudioView                  `json:"full_audio,omitempty"`
	Analysis      *models.AudioAnalysis       `json:"analysis,omitempty"`
	Gestures      []models.GestureInstruction `json:"gestures"`
	ActiveVideo   *history.Video              `json:"active_video,omitempty"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		Stage:     c.stage,
		Error:     c.errMsg,
		Script:    c.script,
		StyleTags: slices.Clone(c.tags),
		Previews:  make([]AudioView, 0, len(c.previews)),
		Gestures:  slices.Clone(c.gestures),
	}
	if snap.Gestures == nil {
		snap.Gestures = []models.GestureInstruction{}
	}
	if c.source != nil {
		snap.SourceImageID = c.source.ID
	}
	if c.voice != nil {
		opt := models.ToOption(c.voice)
		snap.SelectedVoice = &opt
	}
	for _, p := range c.previews {
		snap.Previews = append(snap.Previews, audioView(p))
	}
	if c.fullAudio != nil {
		v := audioView(c.fullAudio)
		snap.FullAudio = &v
	}
	if c.analysis != nil {
		a := *c.analysis
		snap.Analysis = &a
	}
	c.mu.Unlock()

	if snap.SourceImageID == "" {
		if sel, ok := c.gallery.Selection(); ok {
			snap.SourceImageID = sel.ID
		}
	}
	if v, ok := c.history.Active(); ok {
		snap.ActiveVideo = &v
	}
	return snap
}

func audioView(clip *audioClip) AudioView {
	return AudioView{VoiceName: clip.asset.VoiceName, URL: clip.handle.URL(), DurationSec: clip.asset.DurationSec}
}

// SetScript replaces the script and style tags. Any change outside IDLE
// resets the attempt.
func (c *Controller) SetScript(script string, tags []string) error {
	normalized, err := normalizeTags(tags)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if script == c.script && slices.Equal(normalized, c.tags) {
		return nil
	}
	if err := c.onInputChanged(); err != nil {
		return err
	}
	c.script = script
	c.tags = normalized
	return nil
}

// SelectImage changes the source image. Outside IDLE this resets the attempt
// unless id is already the attempt's pinned source; the gallery selection may
// have moved on since the source was pinned.
func (c *Controller) SelectImage(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stage.Busy() {
		if c.source != nil && c.source.ID == id {
			return nil
		}
		return ErrBusy
	}
	if err := c.gallery.Select(id); err != nil {
		return err
	}
	if c.source != nil && c.source.ID == id {
		return nil
	}
	return c.onInputChanged()
}

// UploadImage adds a user image to the gallery, which selects it.
func (c *Controller) UploadImage(ctx context.Context, data []byte, mimeType string) (models.ImageAsset, error) {
	c.mu.Lock()
	busy := c.stage.Busy()
	c.mu.Unlock()
	if busy {
		return models.ImageAsset{}, ErrBusy
	}

	asset, err := c.gallery.AddUploaded(ctx, data, mimeType)
	if err != nil {
		return models.ImageAsset{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// The stage may have turned busy while the upload was persisted; the
	// upload still lands in the gallery and the attempt is left alone.
	if !c.stage.Busy() && c.stage != models.StageIdle {
		c.resetLocked()
	}
	return asset, nil
}

// Reset abandons the current attempt. A video run in flight is canceled;
// other in-flight stages cannot be interrupted.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stage.Busy() && !c.stage.Video() {
		return ErrBusy
	}
	c.resetLocked()
	return nil
}

// Close tears the controller down and releases every handle it owns.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runner.Cancel()
	c.token++
	c.releaseAttempt()
}

// onInputChanged is the transition taken when the script, the tags or the
// source image change.
func (c *Controller) onInputChanged() error {
	if c.stage.Busy() {
		return ErrBusy
	}
	if c.stage != models.StageIdle {
		c.resetLocked()
	}
	return nil
}

func (c *Controller) resetLocked() {
	if c.stage.Video() {
		c.runner.Cancel()
	}
	c.token++
	c.releaseAttempt()
	c.setStage(models.StageIdle)
}

func (c *Controller) releaseAttempt() {
	for _, p := range c.previews {
		c.releaseClip(p)
	}
	if c.fullAudio != nil {
		c.releaseClip(c.fullAudio)
	}
	c.source = nil
	c.previews = nil
	c.voice = nil
	c.fullAudio = nil
	c.analysis = nil
	c.gestures = nil
	c.errMsg = ""
}

func (c *Controller) releaseClip(clip *audioClip) {
	if err := clip.handle.Release(); err != nil {
		c.logger.Warn("audio handle release failed", zap.String("id", clip.asset.ID), zap.Error(err))
	}
}

// setStage must be called with c.mu held.
func (c *Controller) setStage(next models.Stage) {
	prev := c.stage
	c.stage = next
	if next != models.StageError {
		c.errMsg = ""
	}
	if prev == next {
		return
	}

	c.logger.Info("stage changed", zap.String("from", string(prev)), zap.String("to", string(next)))
	if c.observer != nil {
		c.observer.StageChanged(models.StageEvent{
			Stage:     next,
			Previous:  prev,
			Error:     c.errMsg,
			Timestamp: c.now(),
		})
	}
}

// failLocked records a failure. Cancellations end in CANCELED, everything
// else in ERROR with a message naming the stage that failed.
func (c *Controller) failLocked(label string, err error) {
	if task.IsAbort(err) {
		c.setStage(models.StageCanceled)
		return
	}
	var te *thumbnailError
	if errors.As(err, &te) {
		c.errMsg = te.Error()
	} else {
		c.errMsg = label + " failed: " + err.Error()
	}
	c.logger.Error("stage failed", zap.String("stage", string(c.stage)), zap.Error(err))
	c.setStage(models.StageError)
}

// advance moves a non-video attempt to the next stage unless it was reset.
func (c *Controller) advance(token uint64, next models.Stage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != token {
		return task.ErrSuperseded
	}
	c.setStage(next)
	return nil
}

// fail records err for a non-video attempt unless it was reset meanwhile.
func (c *Controller) fail(token uint64, label string, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == token {
		c.failLocked(label, err)
	}
	if task.IsAbort(err) {
		return err
	}
	return fmt.Errorf("%s failed: %w", label, err)
}

func normalizeTags(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	if len(out) > maxStyleTags {
		return nil, invalid("style_tags", "at most 5 style tags are allowed")
	}
	return out, nil
}
