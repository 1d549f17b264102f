// Package history keeps the list of finished videos and which one is shown.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/bobarin/talkinghead/internal/handle"
	"github.com/bobarin/talkinghead/internal/models"
)

var ErrUnknownVideo = errors.New("video not in history")

type VideoStore interface {
	PutVideo(ctx context.Context, item *models.VideoHistoryItem) error
	ListVideos(ctx context.Context) ([]models.VideoHistoryItem, error)
	DeleteVideo(ctx context.Context, id string) error
	ClearVideos(ctx context.Context) error
}

// Video is the presentation view of one history item.
type Video struct {
	models.VideoHistoryItem
	URL    string `json:"url"`
	Active bool   `json:"active"`
}

type entry struct {
	item   models.VideoHistoryItem
	handle *handle.Handle
}

type Manager struct {
	store  VideoStore
	reg    *handle.Registry
	logger *zap.Logger

	mu     sync.Mutex
	items  []*entry // newest first
	active string
}

func NewManager(store VideoStore, reg *handle.Registry, logger *zap.Logger) *Manager {
	return &Manager{store: store, reg: reg, logger: logger.Named("history")}
}

// Load replaces the in-memory list with the persisted one. Nothing is made
// active by loading.
func (m *Manager) Load(ctx context.Context) error {
	items, err := m.store.ListVideos(ctx)
	if err != nil {
		return fmt.Errorf("failed to load video history: %w", err)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Timestamp.After(items[j].Timestamp) })

	m.mu.Lock()
	defer m.mu.Unlock()

	old := make(map[string]*entry, len(m.items))
	for _, e := range m.items {
		old[e.item.ID] = e
	}
	entries := make([]*entry, 0, len(items))
	for _, it := range items {
		if e, ok := old[it.ID]; ok {
			delete(old, it.ID)
			e.item = it
			entries = append(entries, e)
			continue
		}
		entries = append(entries, &entry{item: it, handle: m.reg.Acquire(it.Video, "video/mp4")})
	}
	for _, e := range old {
		m.release(e)
	}
	m.items = entries
	if m.indexOf(m.active) < 0 {
		m.active = ""
	}
	return nil
}

// Add persists a finished video, prepends it and makes it active. On success
// the history owns h; on failure the caller keeps it. A nil h makes Add
// acquire its own.
func (m *Manager) Add(ctx context.Context, item models.VideoHistoryItem, h *handle.Handle) error {
	if err := m.store.PutVideo(ctx, &item); err != nil {
		return fmt.Errorf("failed to save video: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if h == nil {
		h = m.reg.Acquire(item.Video, "video/mp4")
	}
	m.items = append([]*entry{{item: item, handle: h}}, m.items...)
	m.active = item.ID
	m.logger.Info("video added to history", zap.String("id", item.ID))
	return nil
}

func (m *Manager) Select(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexOf(id) < 0 {
		return ErrUnknownVideo
	}
	m.active = id
	return nil
}

func (m *Manager) Active() (Video, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(m.active)
	if i < 0 {
		return Video{}, false
	}
	return m.view(m.items[i]), true
}

func (m *Manager) Items() []Video {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Video, len(m.items))
	for i, e := range m.items {
		out[i] = m.view(e)
	}
	return out
}

// Delete removes one item. Deleting the active item makes the newest
// remaining one active.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	known := m.indexOf(id) >= 0
	m.mu.Unlock()
	if !known {
		return ErrUnknownVideo
	}

	if err := m.store.DeleteVideo(ctx, id); err != nil {
		return fmt.Errorf("failed to delete video: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(id)
	if i < 0 {
		return nil
	}
	m.release(m.items[i])
	m.items = append(m.items[:i], m.items[i+1:]...)
	if m.active == id {
		m.active = ""
		if len(m.items) > 0 {
			m.active = m.items[0].item.ID
		}
	}
	return nil
}

func (m *Manager) Clear(ctx context.Context) error {
	if err := m.store.ClearVideos(ctx); err != nil {
		return fmt.Errorf("failed to clear video history: %w", err)
	}
	m.Close()
	return nil
}

// Close releases every handle. Persisted items are untouched.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.items {
		m.release(e)
	}
	m.items = nil
	m.active = ""
}

func (m *Manager) view(e *entry) Video {
	return Video{VideoHistoryItem: e.item, URL: e.handle.URL(), Active: e.item.ID == m.active}
}

func (m *Manager) release(e *entry) {
	if err := e.handle.Release(); err != nil {
		m.logger.Warn("video handle release failed", zap.String("id", e.item.ID), zap.Error(err))
	}
}

func (m *Manager) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i, e := range m.items {
		if e.item.ID == id {
			return i
		}
	}
	return -1
}
