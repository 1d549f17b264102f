// Package gallery owns the in-memory set of image assets, the current
// selection and one display handle per asset.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bobarin/talkinghead/internal/handle"
	"github.com/bobarin/talkinghead/internal/models"
)

var (
	ErrNotImage     = errors.New("uploaded file is not an image")
	ErrUnknownImage = errors.New("image not in gallery")
)

// ImageStore is the slice of the asset store the gallery persists through.
type ImageStore interface {
	PutImage(ctx context.Context, img *models.ImageAsset) error
	ListImages(ctx context.Context) ([]models.ImageAsset, error)
	DeleteImage(ctx context.Context, id string) error
	ClearImages(ctx context.Context) error
}

// Image is the presentation view of one asset.
type Image struct {
	models.ImageAsset
	URL      string `json:"url"`
	Selected bool   `json:"selected"`
}

type entry struct {
	asset  models.ImageAsset
	handle *handle.Handle
}

type Manager struct {
	store  ImageStore
	reg    *handle.Registry
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	items    []*entry // newest first
	selected string
}

func NewManager(store ImageStore, reg *handle.Registry, logger *zap.Logger) *Manager {
	return &Manager{
		store:  store,
		reg:    reg,
		logger: logger.Named("gallery"),
		now:    time.Now,
	}
}

// Load replaces the in-memory set with the persisted one. Handles of assets
// still present are kept; the rest are released.
func (m *Manager) Load(ctx context.Context) error {
	assets, err := m.store.ListImages(ctx)
	if err != nil {
		return fmt.Errorf("failed to load images: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing := make(map[string]*entry, len(m.items))
	for _, e := range m.items {
		existing[e.asset.ID] = e
	}

	items := make([]*entry, 0, len(assets))
	for _, a := range assets {
		if e, ok := existing[a.ID]; ok {
			delete(existing, a.ID)
			e.asset = a
			items = append(items, e)
			continue
		}
		items = append(items, &entry{asset: a, handle: m.reg.Acquire(a.Data, a.MimeType)})
	}
	for _, e := range existing {
		m.release(e)
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].asset.CreatedAt.After(items[j].asset.CreatedAt) })
	m.items = items

	if m.indexOf(m.selected) < 0 {
		m.selected = ""
		if len(m.items) > 0 {
			m.selected = m.items[0].asset.ID
		}
	}
	return nil
}

// AddUploaded persists a user upload and selects it.
func (m *Manager) AddUploaded(ctx context.Context, data []byte, mimeType string) (models.ImageAsset, error) {
	if !strings.HasPrefix(mimeType, "image/") {
		return models.ImageAsset{}, ErrNotImage
	}
	return m.add(ctx, models.ImageAsset{
		ID:       uuid.New().String(),
		Kind:     models.ImageKindUploaded,
		Data:     data,
		MimeType: mimeType,
	})
}

// AddGenerated persists an AI-produced image and selects it. Keyframes carry
// the frame label and the gesture time they depict.
func (m *Manager) AddGenerated(ctx context.Context, data []byte, mimeType string, frameID *string, timeSec *float64) (models.ImageAsset, error) {
	return m.add(ctx, models.ImageAsset{
		ID:       uuid.New().String(),
		Kind:     models.ImageKindGenerated,
		Data:     data,
		MimeType: mimeType,
		FrameID:  frameID,
		TimeSec:  timeSec,
	})
}

func (m *Manager) add(ctx context.Context, asset models.ImageAsset) (models.ImageAsset, error) {
	asset.CreatedAt = m.now()
	if err := m.store.PutImage(ctx, &asset); err != nil {
		return models.ImageAsset{}, fmt.Errorf("failed to save image: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e := &entry{asset: asset, handle: m.reg.Acquire(asset.Data, asset.MimeType)}
	// Insert ahead of anything not newer, so equal timestamps put the new item first.
	i := sort.Search(len(m.items), func(i int) bool { return !m.items[i].asset.CreatedAt.After(asset.CreatedAt) })
	m.items = append(m.items, nil)
	copy(m.items[i+1:], m.items[i:])
	m.items[i] = e
	m.selected = asset.ID

	m.logger.Info("image added", zap.String("id", asset.ID), zap.String("kind", string(asset.Kind)))
	return asset, nil
}

func (m *Manager) Select(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexOf(id) < 0 {
		return ErrUnknownImage
	}
	m.selected = id
	return nil
}

// Selection returns the selected asset, if any.
func (m *Manager) Selection() (models.ImageAsset, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(m.selected)
	if i < 0 {
		return models.ImageAsset{}, false
	}
	return m.items[i].asset, true
}

// Images lists the gallery newest first.
func (m *Manager) Images() []Image {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Image, len(m.items))
	for i, e := range m.items {
		out[i] = Image{ImageAsset: e.asset, URL: e.handle.URL(), Selected: e.asset.ID == m.selected}
	}
	return out
}

// Delete removes one asset from the store and the gallery. Deleting the
// selection selects the newest remaining asset.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	if m.indexOf(id) < 0 {
		m.mu.Unlock()
		return ErrUnknownImage
	}
	m.mu.Unlock()

	if err := m.store.DeleteImage(ctx, id); err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(id)
	if i < 0 {
		return nil
	}
	m.release(m.items[i])
	m.items = append(m.items[:i], m.items[i+1:]...)
	if m.selected == id {
		m.selected = ""
		if len(m.items) > 0 {
			m.selected = m.items[0].asset.ID
		}
	}
	return nil
}

// RemoveAll clears persisted and in-memory images and releases every handle.
func (m *Manager) RemoveAll(ctx context.Context) error {
	if err := m.store.ClearImages(ctx); err != nil {
		return fmt.Errorf("failed to clear images: %w", err)
	}
	m.Close()
	return nil
}

// Close releases every handle and empties the in-memory set. Persisted
// assets are untouched.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.items {
		m.release(e)
	}
	m.items = nil
	m.selected = ""
}

func (m *Manager) release(e *entry) {
	if err := e.handle.Release(); err != nil {
		m.logger.Warn("image handle release failed", zap.String("id", e.asset.ID), zap.Error(err))
	}
}

func (m *Manager) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i, e := range m.items {
		if e.asset.ID == id {
			return i
		}
	}
	return -1
}
