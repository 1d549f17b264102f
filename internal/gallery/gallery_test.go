package gallery

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bobarin/talkinghead/internal/db"
	"github.com/bobarin/talkinghead/internal/handle"
	"github.com/bobarin/talkinghead/internal/models"
	"github.com/bobarin/talkinghead/internal/task"
)

func newTestManager(t *testing.T, store ImageStore) (*Manager, *handle.Registry) {
	t.Helper()
	reg := handle.NewRegistry()
	m := NewManager(store, reg, zap.NewNop())
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return m, reg
}

func TestLoadSelectsNewest(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemory()
	base := time.Now()
	store.PutImage(ctx, &models.ImageAsset{ID: "old", Data: []byte("a"), MimeType: "image/png", CreatedAt: base.Add(-time.Hour)})
	store.PutImage(ctx, &models.ImageAsset{ID: "new", Data: []byte("b"), MimeType: "image/png", CreatedAt: base})

	m, reg := newTestManager(t, store)
	if _, ok := m.Selection(); ok {
		t.Fatal("nothing should be selected before load")
	}
	if err := m.Load(ctx); err != nil {
		t.Fatal(err)
	}
	sel, ok := m.Selection()
	if !ok || sel.ID != "new" {
		t.Fatalf("expected newest selected, got %+v", sel)
	}
	if reg.Live() != 2 {
		t.Errorf("expected one handle per asset, got %d", reg.Live())
	}

	// Reloading keeps handles for assets still present and releases the rest.
	store.DeleteImage(ctx, "old")
	if err := m.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if reg.Live() != 1 || len(m.Images()) != 1 {
		t.Errorf("expected 1 live handle and image, got %d and %d", reg.Live(), len(m.Images()))
	}
}

func TestAddUploadedAndGenerated(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemory()
	m, reg := newTestManager(t, store)

	if _, err := m.AddUploaded(ctx, []byte("x"), "text/plain"); !errors.Is(err, ErrNotImage) {
		t.Fatalf("expected ErrNotImage, got %v", err)
	}

	up, err := m.AddUploaded(ctx, []byte("jpeg"), "image/jpeg")
	if err != nil {
		t.Fatal(err)
	}
	frame := "KF_1"
	at := 3.1
	gen, err := m.AddGenerated(ctx, []byte("png"), "image/png", &frame, &at)
	if err != nil {
		t.Fatal(err)
	}

	images := m.Images()
	if len(images) != 2 || images[0].ID != gen.ID || images[1].ID != up.ID {
		t.Fatalf("expected newest first, got %+v", images)
	}
	if !images[0].Selected || images[1].Selected {
		t.Error("new item should be auto-selected")
	}
	if images[0].Kind != models.ImageKindGenerated || *images[0].FrameID != "KF_1" {
		t.Errorf("generated metadata lost: %+v", images[0].ImageAsset)
	}
	if reg.Live() != 2 {
		t.Errorf("expected 2 live handles, got %d", reg.Live())
	}

	persisted, _ := store.ListImages(ctx)
	if len(persisted) != 2 {
		t.Errorf("expected both images persisted, got %d", len(persisted))
	}

	if err := m.Select(up.ID); err != nil {
		t.Fatal(err)
	}
	if sel, _ := m.Selection(); sel.ID != up.ID {
		t.Error("select did not change selection")
	}
	if err := m.Select("missing"); !errors.Is(err, ErrUnknownImage) {
		t.Errorf("expected ErrUnknownImage, got %v", err)
	}
}

func TestDeleteReselectsNewest(t *testing.T) {
	ctx := context.Background()
	m, reg := newTestManager(t, db.NewMemory())

	first, _ := m.AddUploaded(ctx, []byte("1"), "image/png")
	second, _ := m.AddUploaded(ctx, []byte("2"), "image/png")
	third, _ := m.AddUploaded(ctx, []byte("3"), "image/png")
	m.Select(third.ID)

	if err := m.Delete(ctx, third.ID); err != nil {
		t.Fatal(err)
	}
	if sel, _ := m.Selection(); sel.ID != second.ID {
		t.Errorf("expected %s selected, got %s", second.ID, sel.ID)
	}
	if reg.Live() != 2 {
		t.Errorf("deleted image handle not released")
	}
	if err := m.Delete(ctx, third.ID); !errors.Is(err, ErrUnknownImage) {
		t.Errorf("expected ErrUnknownImage, got %v", err)
	}
	_ = first
}

func TestRemoveAll(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemory()
	m, reg := newTestManager(t, store)
	m.AddUploaded(ctx, []byte("1"), "image/png")
	m.AddUploaded(ctx, []byte("2"), "image/png")

	if err := m.RemoveAll(ctx); err != nil {
		t.Fatal(err)
	}
	if len(m.Images()) != 0 {
		t.Error("in-memory set not empty")
	}
	if persisted, _ := store.ListImages(ctx); len(persisted) != 0 {
		t.Error("persisted namespace not empty")
	}
	if reg.Live() != 0 {
		t.Errorf("expected no live handles, got %d", reg.Live())
	}
	if _, ok := m.Selection(); ok {
		t.Error("selection should be cleared")
	}
}

type failingStore struct{ *db.Memory }

func (failingStore) PutImage(ctx context.Context, img *models.ImageAsset) error {
	return db.ErrUnavailable
}

func TestAddDoesNotLeakOnPersistFailure(t *testing.T) {
	m, reg := newTestManager(t, failingStore{db.NewMemory()})
	if _, err := m.AddUploaded(context.Background(), []byte("1"), "image/png"); !errors.Is(err, db.ErrUnavailable) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if reg.Live() != 0 || len(m.Images()) != 0 {
		t.Error("failed add must not leave handles or items behind")
	}
}

func TestCloseKeepsStore(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemory()
	m, reg := newTestManager(t, store)
	m.AddUploaded(ctx, []byte("1"), "image/png")

	m.Close()
	if reg.Live() != 0 {
		t.Error("close must release handles")
	}
	if persisted, _ := store.ListImages(ctx); len(persisted) != 1 {
		t.Error("close must not touch the store")
	}
}

// recoveringStore fails its first listing, like a database that is still
// starting up.
type recoveringStore struct {
	*db.Memory
	failures int
}

func (s *recoveringStore) ListImages(ctx context.Context) ([]models.ImageAsset, error) {
	if s.failures > 0 {
		s.failures--
		return nil, db.ErrUnavailable
	}
	return s.Memory.ListImages(ctx)
}

func TestLoadRetriedAfterStoreRecovers(t *testing.T) {
	ctx := context.Background()
	store := &recoveringStore{Memory: db.NewMemory(), failures: 1}
	store.Memory.PutImage(ctx, &models.ImageAsset{ID: "kept", Data: []byte("a"), MimeType: "image/png", CreatedAt: time.Now()})
	m, reg := newTestManager(t, store)

	err := task.Retry(ctx, time.Millisecond, time.Millisecond, m.Load, func(attempt int, err error) {
		if !errors.Is(err, db.ErrUnavailable) {
			t.Errorf("attempt %d: unexpected error %v", attempt, err)
		}
		if len(m.Images()) != 0 {
			t.Error("a failed load must leave the gallery empty")
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if sel, ok := m.Selection(); !ok || sel.ID != "kept" {
		t.Fatalf("persisted image should be loaded and selected, got %+v", sel)
	}
	if reg.Live() != 1 {
		t.Errorf("expected one live handle, got %d", reg.Live())
	}
}
