package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bobarin/talkinghead/internal/db"
	"github.com/bobarin/talkinghead/internal/history"
	"github.com/bobarin/talkinghead/internal/models"
	"github.com/bobarin/talkinghead/internal/task"
)

// readyForVideo brings the harness to GESTURE_EDITING and records how many
// handles are live at that point.
func readyForVideo(t *testing.T, h *harness) int {
	t.Helper()
	h.ready(t, "Welcome. This is great!")
	h.toGestureEditing(t)
	return h.reg.Live()
}

func TestCancelDuringRender(t *testing.T) {
	h := newHarness(t)
	h.video.pollsToDone = -1
	baseline := readyForVideo(t, h)

	done := make(chan error, 1)
	go func() { done <- h.ctrl.GenerateVideo(context.Background()) }()
	h.events.waitFor(t, models.StageVideoRender)

	if !h.ctrl.Cancel() {
		t.Fatal("expected an in-flight run to cancel")
	}
	err := <-done
	if !errors.Is(err, task.ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}

	if h.stage() != models.StageCanceled {
		t.Fatalf("expected CANCELED, got %s", h.stage())
	}
	if len(h.history.Items()) != 0 {
		t.Error("no history item may be created")
	}
	if persisted, _ := h.store.ListVideos(context.Background()); len(persisted) != 0 {
		t.Error("no video may be persisted")
	}
	if h.reg.Live() != baseline {
		t.Errorf("expected %d live handles, got %d", baseline, h.reg.Live())
	}
	if h.ctrl.Cancel() {
		t.Error("a finished run cannot be canceled again")
	}
}

func TestCancelReleasesDownloadedVideo(t *testing.T) {
	h := newHarness(t)
	h.thumbs.block = true
	baseline := readyForVideo(t, h)

	done := make(chan error, 1)
	go func() { done <- h.ctrl.GenerateVideo(context.Background()) }()
	h.events.waitFor(t, models.StageVideoDownload)

	// Wait until the downloaded video holds a handle.
	deadline := time.Now().Add(2 * time.Second)
	for h.reg.Live() == baseline {
		if time.Now().After(deadline) {
			t.Fatal("video handle never acquired")
		}
		time.Sleep(time.Millisecond)
	}

	h.ctrl.Cancel()
	if err := <-done; !task.IsAbort(err) {
		t.Fatalf("expected a cancellation, got %v", err)
	}
	if h.stage() != models.StageCanceled {
		t.Fatalf("expected CANCELED, got %s", h.stage())
	}
	if h.reg.Live() != baseline {
		t.Errorf("downloaded video handle must be released, %d live vs %d", h.reg.Live(), baseline)
	}
	if len(h.history.Items()) != 0 {
		t.Error("canceled video must not be saved")
	}
	h.assertNoDoubleRelease(t)
}

func TestThumbnailFailure(t *testing.T) {
	h := newHarness(t)
	h.thumbs.err = errors.New("ffmpeg failed: exit status 1")
	baseline := readyForVideo(t, h)

	if err := h.ctrl.GenerateVideo(context.Background()); err == nil {
		t.Fatal("expected failure")
	}
	snap := h.ctrl.Snapshot()
	if snap.Stage != models.StageError || !strings.Contains(snap.Error, "created but could not be prepared for display") {
		t.Fatalf("unexpected %s %q", snap.Stage, snap.Error)
	}
	if h.reg.Live() != baseline {
		t.Errorf("unsaved video handle must be released")
	}
	if len(h.history.Items()) != 0 {
		t.Error("a video without a thumbnail is not saved")
	}
}

func TestSecondRunSupersedesFirst(t *testing.T) {
	h := newHarness(t)
	h.video.pollsToDone = -1
	h.video.doneOnStart = map[int]bool{2: true}
	readyForVideo(t, h)

	first := make(chan error, 1)
	go func() { first <- h.ctrl.GenerateVideo(context.Background()) }()
	h.events.waitFor(t, models.StageVideoRender)

	if err := h.ctrl.GenerateVideo(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if err := <-first; !errors.Is(err, task.ErrSuperseded) {
		t.Fatalf("first run must be superseded, got %v", err)
	}

	if h.stage() != models.StageDone {
		t.Fatalf("expected DONE, got %s", h.stage())
	}
	items := h.history.Items()
	if len(items) != 1 || !strings.Contains(string(items[0].Video), "operations/2") {
		t.Fatalf("only the second run may complete, got %+v", items)
	}
	h.assertNoDoubleRelease(t)
}

func TestPollBound(t *testing.T) {
	h := newHarness(t)
	h.video.pollsToDone = -1
	h.ctrl.maxPoll = 20 * time.Millisecond
	readyForVideo(t, h)

	if err := h.ctrl.GenerateVideo(context.Background()); err == nil {
		t.Fatal("expected the poll bound to fail the run")
	}
	snap := h.ctrl.Snapshot()
	if snap.Stage != models.StageError || !strings.Contains(snap.Error, "did not finish") {
		t.Fatalf("unexpected %s %q", snap.Stage, snap.Error)
	}
}

func TestResetDuringRender(t *testing.T) {
	h := newHarness(t)
	h.video.pollsToDone = -1
	readyForVideo(t, h)

	done := make(chan error, 1)
	go func() { done <- h.ctrl.GenerateVideo(context.Background()) }()
	h.events.waitFor(t, models.StageVideoRender)

	if err := h.ctrl.Reset(); err != nil {
		t.Fatal(err)
	}
	<-done

	snap := h.ctrl.Snapshot()
	if snap.Stage != models.StageIdle || snap.FullAudio != nil || len(snap.Gestures) != 0 {
		t.Fatalf("expected a clean IDLE, got %+v", snap)
	}
	if h.reg.Live() != 1 {
		t.Errorf("only the gallery image should hold a handle, got %d", h.reg.Live())
	}
	h.assertNoDoubleRelease(t)
}

func TestVideoFromVoiceSelectedWithoutGestures(t *testing.T) {
	h := newHarness(t)
	h.ready(t, "Hello world.")
	if err := h.ctrl.GeneratePreviews(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.GenerateVideo(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.stage() != models.StageDone || len(h.video.requests[0].Gestures) != 0 {
		t.Fatalf("unexpected %s", h.stage())
	}
}

// slowVideoStore holds PutVideo until released or until the write's context
// ends.
type slowVideoStore struct {
	*db.Memory
	entered chan struct{}
	release chan struct{}
}

func (s *slowVideoStore) PutVideo(ctx context.Context, item *models.VideoHistoryItem) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Memory.PutVideo(ctx, item)
}

func (h *harness) withSlowHistory() *slowVideoStore {
	store := &slowVideoStore{Memory: h.store, entered: make(chan struct{}, 1), release: make(chan struct{})}
	h.history = history.NewManager(store, h.reg, zap.NewNop())
	h.ctrl.history = h.history
	return store
}

func TestSlowHistoryWriteDoesNotBlockController(t *testing.T) {
	h := newHarness(t)
	store := h.withSlowHistory()
	baseline := readyForVideo(t, h)

	done := make(chan error, 1)
	go func() { done <- h.ctrl.GenerateVideo(context.Background()) }()
	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("video was never saved")
	}

	answered := make(chan bool, 1)
	go func() {
		h.ctrl.Snapshot()
		answered <- h.ctrl.Cancel()
	}()
	select {
	case ok := <-answered:
		if !ok {
			t.Fatal("the run should still be cancelable while saving")
		}
	case <-time.After(time.Second):
		t.Fatal("Snapshot and Cancel blocked while the video was being saved")
	}

	close(store.release)
	if err := <-done; !task.IsAbort(err) {
		t.Fatalf("expected a cancellation, got %v", err)
	}
	if h.stage() != models.StageCanceled {
		t.Fatalf("expected CANCELED, got %s", h.stage())
	}
	if len(h.history.Items()) != 0 {
		t.Error("a video saved by a canceled run must be discarded")
	}
	if persisted, _ := h.store.ListVideos(context.Background()); len(persisted) != 0 {
		t.Error("the discarded video must be removed from the store")
	}
	if h.reg.Live() != baseline {
		t.Errorf("expected %d live handles, got %d", baseline, h.reg.Live())
	}
	h.assertNoDoubleRelease(t)
}

func TestHistoryWriteTimeout(t *testing.T) {
	h := newHarness(t)
	h.withSlowHistory()
	h.ctrl.saveTimeout = 20 * time.Millisecond
	baseline := readyForVideo(t, h)

	err := h.ctrl.GenerateVideo(context.Background())
	if err == nil || task.IsAbort(err) {
		t.Fatalf("expected a save failure, got %v", err)
	}
	snap := h.ctrl.Snapshot()
	if snap.Stage != models.StageError || !strings.Contains(snap.Error, "Video generation failed") {
		t.Fatalf("unexpected %s %q", snap.Stage, snap.Error)
	}
	if len(h.history.Items()) != 0 {
		t.Error("an unsaved video must not appear in history")
	}
	if h.reg.Live() != baseline {
		t.Errorf("unsaved video handle must be released")
	}
}
