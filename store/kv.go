package store

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by KV.Get when the key is absent.
var ErrNotFound = errors.New("key not found")

// KV is the string key space behind tab-scoped and durable client storage.
// Values are plain strings; structured values are JSON-encoded by callers.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Toucher is implemented by stores whose keys expire. Touch pushes the expiry
// of every named key forward, whether or not it was just written.
type Toucher interface {
	Touch(ctx context.Context, keys ...string) error
}

// Touch refreshes keys on kv when it expires them, and is a no-op otherwise.
func Touch(ctx context.Context, kv KV, keys ...string) error {
	if t, ok := kv.(Toucher); ok {
		return t.Touch(ctx, keys...)
	}
	return nil
}

// MemoryKV is a process-local KV used when no backing store is configured.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored keys.
func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Scoped prefixes every key, giving a tab its own namespace in a shared KV.
type Scoped struct {
	kv     KV
	prefix string
}

func NewScoped(kv KV, prefix string) *Scoped {
	return &Scoped{kv: kv, prefix: prefix}
}

func (s *Scoped) Get(ctx context.Context, key string) (string, error) {
	return s.kv.Get(ctx, s.prefix+key)
}

func (s *Scoped) Set(ctx context.Context, key, value string) error {
	return s.kv.Set(ctx, s.prefix+key, value)
}

func (s *Scoped) Delete(ctx context.Context, key string) error {
	return s.kv.Delete(ctx, s.prefix+key)
}

func (s *Scoped) Touch(ctx context.Context, keys ...string) error {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.prefix + k
	}
	return Touch(ctx, s.kv, prefixed...)
}
