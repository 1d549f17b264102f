// Package handle provides revocable, process-local references to binary
// data, served to the front-end under /v1/blobs/{id} while they are live.
package handle

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrReleased = errors.New("handle already released")
	ErrNotFound = errors.New("handle not found")
)

// Registry tracks every live handle.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Handle is owned by exactly one component, which must Release it once.
type Handle struct {
	id       string
	mimeType string
	data     []byte
	reg      *Registry

	mu       sync.Mutex
	released bool
}

// Acquire registers data and returns a new live handle for it.
func (r *Registry) Acquire(data []byte, mimeType string) *Handle {
	h := &Handle{
		id:       uuid.New().String(),
		mimeType: mimeType,
		data:     data,
		reg:      r,
	}
	r.mu.Lock()
	r.handles[h.id] = h
	r.mu.Unlock()
	return h
}

// Open returns the bytes and MIME type behind a live handle.
func (r *Registry) Open(id string) ([]byte, string, error) {
	r.mu.RLock()
	h, ok := r.handles[id]
	r.mu.RUnlock()
	if !ok {
		return nil, "", ErrNotFound
	}
	return h.data, h.mimeType, nil
}

// Live counts handles that have not been released.
func (r *Registry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

func (h *Handle) ID() string       { return h.id }
func (h *Handle) MimeType() string { return h.mimeType }
func (h *Handle) URL() string      { return "/v1/blobs/" + h.id }

// Release revokes the handle. A second call returns ErrReleased.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrReleased
	}
	h.released = true

	h.reg.mu.Lock()
	delete(h.reg.handles, h.id)
	h.reg.mu.Unlock()
	h.data = nil
	return nil
}

// Released reports whether Release has been called.
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}
