package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bobarin/talkinghead/internal/db"
	"github.com/bobarin/talkinghead/internal/gallery"
	"github.com/bobarin/talkinghead/internal/handle"
	"github.com/bobarin/talkinghead/internal/history"
	"github.com/bobarin/talkinghead/internal/models"
	"github.com/bobarin/talkinghead/internal/services"
)

var testCatalog = []models.CatalogVoice{
	{Name: "V1", DisplayName: "Voice One", Gender: models.GenderFemale, PromptDescriptor: "a warm female voice"},
	{Name: "V2", DisplayName: "Voice Two", Gender: models.GenderMale, PromptDescriptor: "a deep male voice"},
}

type fakeSpeech struct {
	mu       sync.Mutex
	calls    map[string]int // "text|voice"
	duration float64
	failFor  string // voice name that fails
	gate     chan struct{}
}

func (f *fakeSpeech) SynthesizeSpeech(ctx context.Context, text, voiceName string) (*services.Speech, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[text+"|"+voiceName]++
	if voiceName == f.failFor {
		return nil, &services.ServiceError{Op: "Audio generation", Kind: services.KindQuotaExceeded, Err: errors.New("429")}
	}
	return &services.Speech{Audio: []byte(text + voiceName), MimeType: "audio/mpeg", DurationSec: f.duration}, nil
}

func (f *fakeSpeech) count(text, voice string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[text+"|"+voice]
}

type fakeWriter struct {
	mu       sync.Mutex
	planned  int
	badPlan  bool
	enhanced string
}

func (f *fakeWriter) EnhanceScript(ctx context.Context, script string) (string, error) {
	if f.enhanced == "" {
		return "", &services.ServiceError{Op: "Script enhancement", Kind: services.KindTransient, Err: errors.New("timeout")}
	}
	return f.enhanced, nil
}

func (f *fakeWriter) PlanGestures(ctx context.Context, script string, segments []models.AudioTimingSegment, styleTags []string) ([]models.GestureInstruction, error) {
	f.mu.Lock()
	f.planned++
	f.mu.Unlock()
	out := make([]models.GestureInstruction, 0, len(segments))
	for _, s := range segments {
		out = append(out, models.GestureInstruction{KeyPhrase: s.Text, GestureDescription: "Open palms", TimeSec: s.PeakSec})
	}
	if f.badPlan && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

type fakeImages struct {
	mu        sync.Mutex
	keyframes []models.GestureInstruction
}

func (f *fakeImages) GenerateExpressiveImage(ctx context.Context, image []byte, mimeType, script string, intensity models.ExpressionIntensity, orientation models.VideoOrientation) (*services.GeneratedImage, error) {
	return &services.GeneratedImage{Data: []byte("expressive"), MimeType: "image/png"}, nil
}

func (f *fakeImages) GenerateGestureKeyframe(ctx context.Context, image []byte, mimeType string, gesture models.GestureInstruction) (*services.GeneratedImage, error) {
	f.mu.Lock()
	f.keyframes = append(f.keyframes, gesture)
	f.mu.Unlock()
	return &services.GeneratedImage{Data: []byte("keyframe"), MimeType: "image/png"}, nil
}

type fakeAnalyzer struct{}

func (fakeAnalyzer) AnalyzeVoiceSample(ctx context.Context, audio []byte, mimeType string) (string, error) {
	return "a bright, fast-paced female voice", nil
}

// fakeVideo finishes an operation once polled pollsToDone times. A negative
// value never finishes. doneOnStart lists start calls (1-based) that finish
// immediately.
type fakeVideo struct {
	mu          sync.Mutex
	starts      int
	polls       int
	pollsToDone int
	doneOnStart map[int]bool
	requests    []services.VideoRequest
}

func (f *fakeVideo) StartVideoGeneration(ctx context.Context, req services.VideoRequest) (*services.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.requests = append(f.requests, req)
	op := &services.Operation{Name: fmt.Sprintf("operations/%d", f.starts)}
	if f.doneOnStart[f.starts] {
		op.Done = true
		op.DownloadRef = "https://files/" + op.Name
	}
	return op, nil
}

func (f *fakeVideo) PollOperation(ctx context.Context, op *services.Operation) (*services.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	next := *op
	if f.pollsToDone >= 0 && f.polls >= f.pollsToDone {
		next.Done = true
		next.DownloadRef = "https://files/" + op.Name
	}
	return &next, nil
}

func (f *fakeVideo) DownloadVideo(ctx context.Context, ref string) ([]byte, error) {
	return []byte("mp4:" + ref), nil
}

type fakeThumbs struct {
	err   error
	block bool
}

func (f *fakeThumbs) Thumbnail(ctx context.Context, video []byte) (string, error) {
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	return "data:image/jpeg;base64,AAAA", nil
}

// recorder collects stage events without blocking the controller.
type recorder struct {
	mu     sync.Mutex
	events []models.StageEvent
	ch     chan models.Stage
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan models.Stage, 256)}
}

func (r *recorder) StageChanged(ev models.StageEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	select {
	case r.ch <- ev.Stage:
	default:
	}
}

func (r *recorder) stages() []models.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Stage, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Stage
	}
	return out
}

func (r *recorder) waitFor(t *testing.T, stage models.Stage) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-r.ch:
			if s == stage {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", stage)
		}
	}
}

type harness struct {
	ctrl     *Controller
	store    *db.Memory
	reg      *handle.Registry
	speech   *fakeSpeech
	writer   *fakeWriter
	images   *fakeImages
	video    *fakeVideo
	thumbs   *fakeThumbs
	events   *recorder
	gallery  *gallery.Manager
	history  *history.Manager
	logs     *observer.ObservedLogs
	imageIDs []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	h := &harness{
		store:  db.NewMemory(),
		reg:    handle.NewRegistry(),
		speech: &fakeSpeech{duration: 4.0},
		writer: &fakeWriter{},
		images: &fakeImages{},
		video:  &fakeVideo{pollsToDone: 2},
		thumbs: &fakeThumbs{},
		events: newRecorder(),
		logs:   logs,
	}
	h.gallery = gallery.NewManager(h.store, h.reg, logger)
	h.history = history.NewManager(h.store, h.reg, logger)
	h.ctrl = New(Deps{
		Speech:     h.speech,
		Writer:     h.writer,
		Images:     h.images,
		Voices:     fakeAnalyzer{},
		Video:      h.video,
		Thumbnails: h.thumbs,
		Audio:      h.store,
		Gallery:    h.gallery,
		History:    h.history,
		Handles:    h.reg,
		Observer:   h.events,
	}, Options{Catalog: testCatalog, PollInterval: time.Millisecond}, logger)
	return h
}

// ready uploads a portrait and sets the script.
func (h *harness) ready(t *testing.T, script string, tags ...string) {
	t.Helper()
	img, err := h.ctrl.UploadImage(context.Background(), []byte("jpeg-512x512"), "image/jpeg")
	if err != nil {
		t.Fatalf("UploadImage: %v", err)
	}
	h.imageIDs = append(h.imageIDs, img.ID)
	if err := h.ctrl.SetScript(script, tags); err != nil {
		t.Fatalf("SetScript: %v", err)
	}
}

// toGestureEditing runs previews and full audio.
func (h *harness) toGestureEditing(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := h.ctrl.GeneratePreviews(ctx); err != nil {
		t.Fatalf("GeneratePreviews: %v", err)
	}
	if err := h.ctrl.GenerateFullAudio(ctx); err != nil {
		t.Fatalf("GenerateFullAudio: %v", err)
	}
}

func (h *harness) stage() models.Stage {
	return h.ctrl.Snapshot().Stage
}

func (h *harness) assertNoDoubleRelease(t *testing.T) {
	t.Helper()
	if n := h.logs.FilterMessageSnippet("release failed").Len(); n != 0 {
		t.Errorf("expected no failed releases, got %d", n)
	}
}
