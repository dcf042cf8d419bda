package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps saved documents in memory. It outlives any one Store,
// which makes it useful for exercising restart behavior.
type MemoryBackend struct {
	mu    sync.Mutex
	docs    map[string]Document
	saves   int
	saveErr error
}

// NewMemoryBackend creates an empty memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string]Document)}
}

func (m *MemoryBackend) LoadAll(ctx context.Context) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Document, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryBackend) Save(ctx context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.docs[doc.ID] = doc.Clone()
	m.saves++
	return nil
}

func (m *MemoryBackend) Close() error { return nil }

// Saves returns how many writes the backend has received.
func (m *MemoryBackend) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// FailSaves makes every later Save return err. A nil err restores saving.
func (m *MemoryBackend) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// Saved returns the backend's copy of a document.
func (m *MemoryBackend) Saved(id string) (Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	return d.Clone(), ok
}
