package db

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bobarin/talkinghead/internal/models"
)

// Memory is a process-local Store. Nothing survives a restart; it backs
// tests and development runs without DATABASE_URL.
type Memory struct {
	mu     sync.RWMutex
	images map[string]models.ImageAsset
	audio  map[string]models.AudioAsset
	videos map[string]models.VideoHistoryItem
}

func NewMemory() *Memory {
	return &Memory{
		images: make(map[string]models.ImageAsset),
		audio:  make(map[string]models.AudioAsset),
		videos: make(map[string]models.VideoHistoryItem),
	}
}

func (m *Memory) PutImage(ctx context.Context, img *models.ImageAsset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[img.ID] = *img
	return nil
}

func (m *Memory) ListImages(ctx context.Context) ([]models.ImageAsset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ImageAsset, 0, len(m.images))
	for _, img := range m.images {
		out = append(out, img)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) GetImage(ctx context.Context, id string) (*models.ImageAsset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	img, ok := m.images[id]
	if !ok {
		return nil, fmt.Errorf("image %s: %w", id, ErrNotFound)
	}
	return &img, nil
}

func (m *Memory) DeleteImage(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.images, id)
	return nil
}

func (m *Memory) ClearImages(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images = make(map[string]models.ImageAsset)
	return nil
}

func (m *Memory) PutAudio(ctx context.Context, a *models.AudioAsset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audio[a.ID] = *a
	return nil
}

func (m *Memory) GetAudio(ctx context.Context, key string) (*models.AudioAsset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.audio[key]
	if !ok {
		return nil, fmt.Errorf("audio %s: %w", key, ErrNotFound)
	}
	return &a, nil
}

func (m *Memory) ListAudio(ctx context.Context) ([]models.AudioAsset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AudioAsset, 0, len(m.audio))
	for _, a := range m.audio {
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DeleteAudio(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.audio, key)
	return nil
}

func (m *Memory) ClearAudio(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audio = make(map[string]models.AudioAsset)
	return nil
}

func (m *Memory) PutVideo(ctx context.Context, v *models.VideoHistoryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos[v.ID] = *v
	return nil
}

func (m *Memory) ListVideos(ctx context.Context) ([]models.VideoHistoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.VideoHistoryItem, 0, len(m.videos))
	for _, v := range m.videos {
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *Memory) GetVideo(ctx context.Context, id string) (*models.VideoHistoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.videos[id]
	if !ok {
		return nil, fmt.Errorf("video %s: %w", id, ErrNotFound)
	}
	return &v, nil
}

func (m *Memory) DeleteVideo(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.videos, id)
	return nil
}

func (m *Memory) ClearVideos(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos = make(map[string]models.VideoHistoryItem)
	return nil
}
