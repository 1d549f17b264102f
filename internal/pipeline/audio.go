package pipeline

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/bobarin/talkinghead/internal/fingerprint"
	"github.com/bobarin/talkinghead/internal/models"
	"github.com/bobarin/talkinghead/internal/task"
	"github.com/bobarin/talkinghead/internal/timing"
)

// chain carries the artifacts of the full-audio chain between hops.
type chain struct {
	token    uint64
	script   string
	tags     []string
	voice    models.Voice
	audio    *models.AudioAsset
	analysis models.AudioAnalysis
	gestures []models.GestureInstruction
}

// hop is one automatic step after full audio. Each hop runs in its own stage
// and is the single point a failure is attributed to.
type hop struct {
	stage models.Stage
	label string
	run   func(ctx context.Context, ch *chain) error
}

func (c *Controller) audioHops() []hop {
	return []hop{
		{models.StageAudioFull, "Full audio generation", c.synthesizeFull},
		{models.StageAudioAnalysis, "Audio analysis", c.analyzeAudio},
		{models.StageGesturePlanning, "Gesture planning", c.planGestures},
	}
}

// StartFullAudio validates the selection and moves to AUDIO_FULL.
func (c *Controller) StartFullAudio() (Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stage != models.StageVoiceSelected {
		if c.stage.Busy() {
			return nil, ErrBusy
		}
		return nil, wrongStage("generate full audio", c.stage)
	}
	if c.voice == nil {
		return nil, invalid("voice", "please select a voice first")
	}
	if strings.TrimSpace(c.script) == "" {
		return nil, invalid("script", "please enter a script first")
	}

	ch := &chain{
		token:  c.token,
		script: c.script,
		tags:   slices.Clone(c.tags),
		voice:  c.voice,
	}
	c.setStage(models.StageAudioFull)

	return func(ctx context.Context) error {
		return c.runChain(ctx, ch)
	}, nil
}

// GenerateFullAudio synthesizes the whole script, derives its timing and
// plans gestures. A non-empty plan stops in GESTURE_EDITING for review;
// an empty one goes straight to DONE.
func (c *Controller) GenerateFullAudio(ctx context.Context) error {
	job, err := c.StartFullAudio()
	if err != nil {
		return err
	}
	return job(ctx)
}

func (c *Controller) runChain(ctx context.Context, ch *chain) error {
	for i, h := range c.audioHops() {
		if i > 0 {
			if err := c.advance(ch.token, h.stage); err != nil {
				return nil
			}
		}
		if err := context.Cause(ctx); err != nil {
			return c.fail(ch.token, h.label, err)
		}
		if err := h.run(ctx, ch); err != nil {
			return c.fail(ch.token, h.label, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != ch.token {
		return nil
	}
	c.analysis = &ch.analysis
	c.gestures = ch.gestures
	if len(ch.gestures) == 0 {
		c.setStage(models.StageDone)
	} else {
		c.setStage(models.StageGestureEditing)
	}
	return nil
}

func (c *Controller) synthesizeFull(ctx context.Context, ch *chain) error {
	hash := fingerprint.Of(ch.script, ch.tags)
	asset, err := c.cachedSpeech(ctx, ch.script, hash, ch.voice.SynthesisVoice(), models.AudioScopeFull)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != ch.token {
		return task.ErrSuperseded
	}
	if c.fullAudio != nil {
		c.releaseClip(c.fullAudio)
	}
	c.fullAudio = &audioClip{asset: asset, handle: c.handles.Acquire(asset.Data, audioMimeType)}
	ch.audio = asset
	return nil
}

func (c *Controller) analyzeAudio(ctx context.Context, ch *chain) error {
	ch.analysis = timing.Analyze(ch.audio.DurationSec, ch.script)
	c.logger.Info("audio analyzed",
		zap.Float64("total_sec", ch.analysis.TotalSec), zap.Int("segments", len(ch.analysis.Segments)))
	return nil
}

func (c *Controller) planGestures(ctx context.Context, ch *chain) error {
	if len(ch.analysis.Segments) == 0 {
		ch.gestures = []models.GestureInstruction{}
		return nil
	}
	plan, err := c.writer.PlanGestures(ctx, ch.script, ch.analysis.Segments, ch.tags)
	if err != nil {
		return err
	}
	if err := checkPlan(plan, ch.analysis.Segments); err != nil {
		return err
	}
	ch.gestures = plan
	return nil
}

// checkPlan enforces one gesture per segment, each timed exactly at a
// segment peak.
func checkPlan(plan []models.GestureInstruction, segments []models.AudioTimingSegment) error {
	if len(plan) != len(segments) {
		return fmt.Errorf("gesture plan has %d instructions for %d segments", len(plan), len(segments))
	}
	for i, g := range plan {
		if !slices.ContainsFunc(segments, func(s models.AudioTimingSegment) bool { return s.PeakSec == g.TimeSec }) {
			return fmt.Errorf("gesture %d at %.3fs does not match any segment peak", i, g.TimeSec)
		}
	}
	return nil
}

// EditGesture replaces the description of one planned gesture. It does not
// change the stage.
func (c *Controller) EditGesture(index int, description string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stage != models.StageGestureEditing {
		return wrongStage("edit gestures", c.stage)
	}
	if index < 0 || index >= len(c.gestures) {
		return invalid("index", fmt.Sprintf("gesture %d does not exist", index))
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return invalid("gesture_description", "gesture description cannot be empty")
	}
	c.gestures[index].GestureDescription = description
	return nil
}

// StartKeyframes moves to KEYFRAME_GEN for the given gesture indices, or for
// every gesture when none are given.
func (c *Controller) StartKeyframes(indices []int) (Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stage != models.StageGestureEditing {
		if c.stage.Busy() {
			return nil, ErrBusy
		}
		return nil, wrongStage("generate keyframes", c.stage)
	}
	if len(indices) == 0 {
		for i := range c.gestures {
			indices = append(indices, i)
		}
	}
	var wanted []int
	for _, i := range indices {
		if i < 0 || i >= len(c.gestures) {
			return nil, invalid("index", fmt.Sprintf("gesture %d does not exist", i))
		}
		if !slices.Contains(wanted, i) {
			wanted = append(wanted, i)
		}
	}

	token := c.token
	src := *c.source
	gestures := slices.Clone(c.gestures)
	c.setStage(models.StageKeyframeGen)

	return func(ctx context.Context) error {
		return c.runKeyframes(ctx, token, src, gestures, wanted)
	}, nil
}

// GenerateKeyframes renders example stills of planned gestures into the
// gallery, then returns to GESTURE_EDITING.
func (c *Controller) GenerateKeyframes(ctx context.Context, indices ...int) error {
	job, err := c.StartKeyframes(indices)
	if err != nil {
		return err
	}
	return job(ctx)
}

func (c *Controller) runKeyframes(ctx context.Context, token uint64, src models.ImageAsset, gestures []models.GestureInstruction, indices []int) error {
	const label = "Keyframe generation"

	for _, i := range indices {
		if err := context.Cause(ctx); err != nil {
			return c.fail(token, label, err)
		}
		g := gestures[i]
		img, err := c.images.GenerateGestureKeyframe(ctx, src.Data, src.MimeType, g)
		if err != nil {
			return c.fail(token, label, err)
		}
		frameID := fmt.Sprintf("KF_%d", i+1)
		timeSec := g.TimeSec
		if _, err := c.gallery.AddGenerated(ctx, img.Data, img.MimeType, &frameID, &timeSec); err != nil {
			return c.fail(token, label, err)
		}
	}

	c.advance(token, models.StageGestureEditing)
	return nil
}
