package storage

import (
	"fmt"
	"sync"
)

// MemoryBackend is a thread-safe in-memory backend backed by sync.RWMutex.
// Blobs are copied on the way in and out.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		blobs: make(map[string][]byte),
	}
}

func (m *MemoryBackend) Size(name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[name]
	if !ok {
		return 0, fmt.Errorf("size %q: %w", name, ErrNotFound)
	}
	return int64(len(data)), nil
}

func (m *MemoryBackend) Read(name string, maxLen int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[name]
	if !ok {
		return nil, fmt.Errorf("read %q: %w", name, ErrNotFound)
	}
	return append([]byte(nil), truncate(data, maxLen)...), nil
}

func (m *MemoryBackend) Write(name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blobs[name] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryBackend) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[name]; !ok {
		return fmt.Errorf("remove %q: %w", name, ErrNotFound)
	}
	delete(m.blobs, name)
	return nil
}
