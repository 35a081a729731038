package credstore

import (
	"context"
	"sync"
)

// MemoryBackend keeps values in process memory. Nothing survives a restart.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]map[string]string
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		values: make(map[string]map[string]string),
	}
}

// Set implements Backend.
func (b *MemoryBackend) Set(_ context.Context, service, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setLocked(service, key, value)
	return nil
}

func (b *MemoryBackend) setLocked(service, key, value string) {
	entries, ok := b.values[service]
	if !ok {
		entries = make(map[string]string)
		b.values[service] = entries
	}
	entries[key] = value
}

// SetMany implements BatchSetter.
func (b *MemoryBackend) SetMany(_ context.Context, service string, values map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, value := range values {
		b.setLocked(service, key, value)
	}
	return nil
}

// Get implements Backend.
func (b *MemoryBackend) Get(_ context.Context, service, key string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	value, ok := b.values[service][key]
	return value, ok, nil
}

// Delete implements Backend.
func (b *MemoryBackend) Delete(_ context.Context, service, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.values[service], key)
	return nil
}
