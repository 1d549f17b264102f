package pipeline

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bobarin/talkinghead/internal/models"
	"github.com/bobarin/talkinghead/internal/services"
	"github.com/bobarin/talkinghead/internal/task"
)

// videoRun identifies one generate-video attempt.
type videoRun struct {
	id     uint64
	token  uint64
	script string
}

// StartVideo validates the inputs and moves to VIDEO_START. Starting while a
// video run is in flight supersedes it.
func (c *Controller) StartVideo() (Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.stage == models.StageVoiceSelected, c.stage == models.StageGestureEditing,
		c.stage == models.StageDone, c.stage.Video():
	case c.stage.Busy():
		return nil, ErrBusy
	default:
		return nil, wrongStage("generate a video", c.stage)
	}
	if c.source == nil {
		return nil, invalid("image", "please select a source image first")
	}
	if c.voice == nil {
		return nil, invalid("voice", "please select a voice first")
	}
	if len(c.gestures) > 0 && c.fullAudio == nil {
		return nil, invalid("audio", "please generate the full audio first")
	}

	req := services.VideoRequest{
		Image:           c.source.Data,
		MimeType:        c.source.MimeType,
		Script:          c.script,
		VoiceDescriptor: c.voice.Descriptor(),
		StyleTags:       slices.Clone(c.tags),
		Gestures:        slices.Clone(c.gestures),
	}
	// Veo renders landscape or portrait only.
	if c.orientation == models.OrientationLandscape || c.orientation == models.OrientationPortrait {
		req.AspectRatio = c.orientation.AspectRatio()
	}

	c.videoRun++
	run := videoRun{id: c.videoRun, token: c.token, script: c.script}
	c.setStage(models.StageVideoStart)

	return func(ctx context.Context) error {
		return c.runVideo(ctx, run, req)
	}, nil
}

// GenerateVideo renders, downloads and saves the talking-head video.
func (c *Controller) GenerateVideo(ctx context.Context) error {
	job, err := c.StartVideo()
	if err != nil {
		return err
	}
	return job(ctx)
}

// Cancel aborts the video run in flight. It reports whether there was one.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stage.Video() {
		return false
	}
	c.canceledRun = c.videoRun
	c.runner.Cancel()
	return true
}

func (c *Controller) runVideo(ctx context.Context, run videoRun, req services.VideoRequest) error {
	var committed bool
	err := c.runner.Run(ctx, func(ctx context.Context) error {
		var err error
		committed, err = c.produceVideo(ctx, run, req)
		return err
	})
	if committed {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != run.token || c.videoRun != run.id {
		// Reset or superseded; the newer owner of the stage reports.
		return task.ErrSuperseded
	}
	if err == nil {
		err = task.ErrCanceled
	}
	c.failLocked("Video generation", err)
	if task.IsAbort(err) {
		c.logger.Info("video generation canceled", zap.Uint64("run", run.id))
		return err
	}
	return fmt.Errorf("video generation failed: %w", err)
}

// checkRun reports why run may no longer make progress, if it may not.
func (c *Controller) checkRun(ctx context.Context, run videoRun) error {
	if err := context.Cause(ctx); err != nil {
		return err
	}
	if c.canceledRun == run.id {
		return task.ErrCanceled
	}
	if c.token != run.token || c.videoRun != run.id {
		return task.ErrSuperseded
	}
	return nil
}

func (c *Controller) videoStage(ctx context.Context, run videoRun, stage models.Stage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRun(ctx, run); err != nil {
		return err
	}
	c.setStage(stage)
	return nil
}

// produceVideo is the body of one video run. It checks for cancellation
// around every suspension point and reports whether the video was saved.
func (c *Controller) produceVideo(ctx context.Context, run videoRun, req services.VideoRequest) (bool, error) {
	if err := c.videoStage(ctx, run, models.StageVideoStart); err != nil {
		return false, err
	}

	op, err := c.video.StartVideoGeneration(ctx, req)
	if err != nil {
		return false, err
	}
	if err := c.videoStage(ctx, run, models.StageVideoRender); err != nil {
		return false, err
	}
	c.logger.Info("video rendering", zap.String("operation", op.Name), zap.Uint64("run", run.id))

	started := c.now()
	for !op.Done {
		if c.maxPoll > 0 && c.now().Sub(started) >= c.maxPoll {
			return false, fmt.Errorf("video generation did not finish within %s", c.maxPoll)
		}
		if err := task.Sleep(ctx, c.pollInterval); err != nil {
			return false, err
		}
		if op, err = c.video.PollOperation(ctx, op); err != nil {
			return false, err
		}
		if err := context.Cause(ctx); err != nil {
			return false, err
		}
	}

	if err := c.videoStage(ctx, run, models.StageVideoDownload); err != nil {
		return false, err
	}
	data, err := c.video.DownloadVideo(ctx, op.DownloadRef)
	if err != nil {
		return false, err
	}
	if err := context.Cause(ctx); err != nil {
		return false, err
	}

	// The handle belongs to the history once the item is saved; until then
	// this run releases it on every exit path.
	h := c.handles.Acquire(data, videoMimeType)
	saved := false
	defer func() {
		if saved {
			return
		}
		if err := h.Release(); err != nil {
			c.logger.Warn("video handle release failed", zap.Error(err))
		}
	}()

	thumb, err := c.thumbs.Thumbnail(ctx, data)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return false, cause
		}
		return false, &thumbnailError{err: err}
	}

	c.mu.Lock()
	err = c.checkRun(ctx, run)
	c.mu.Unlock()
	if err != nil {
		return false, err
	}

	// The history write runs without c.mu held. It is bounded by saveTimeout,
	// not by ctx.
	item := models.VideoHistoryItem{
		ID:        uuid.New().String(),
		Video:     data,
		Thumbnail: thumb,
		Script:    run.script,
		Timestamp: c.now(),
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.saveTimeout)
	defer cancel()
	if err := c.history.Add(saveCtx, item, h); err != nil {
		return false, err
	}
	saved = true

	c.mu.Lock()
	if err := c.checkRun(ctx, run); err != nil {
		c.mu.Unlock()
		// Canceled, superseded or reset while saving: the video is discarded.
		if derr := c.history.Delete(saveCtx, item.ID); derr != nil {
			c.logger.Warn("failed to discard video saved by an abandoned run",
				zap.String("id", item.ID), zap.Error(derr))
		}
		return false, err
	}
	defer c.mu.Unlock()
	c.setStage(models.StageDone)
	c.logger.Info("video saved", zap.String("id", item.ID), zap.Int("bytes", len(data)))
	return true, nil
}
