package storage

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/uuid"
)

var (
	_ Backend = (*MemoryBackend)(nil)
	_ Watcher = (*MemoryBackend)(nil)
)

// SharedMemory is an in-process store that several MemoryBackend handles can
// open, each standing in for one browsing context over the same storage.
type SharedMemory struct {
	mu       sync.RWMutex
	data     map[string][]byte
	watchers map[uint64]memoryWatcher
	nextID   uint64
}

type memoryWatcher struct {
	origin string
	fn     func(Change)
}

func NewSharedMemory() *SharedMemory {
	return &SharedMemory{
		data:     make(map[string][]byte),
		watchers: make(map[uint64]memoryWatcher),
	}
}

// Open returns a new handle with its own origin id.
func (s *SharedMemory) Open() *MemoryBackend {
	return &MemoryBackend{shared: s, origin: uuid.NewString()}
}

// MemoryBackend is one handle onto a SharedMemory.
type MemoryBackend struct {
	shared *SharedMemory
	origin string
}

// NewMemoryBackend returns a handle onto a fresh, private SharedMemory.
func NewMemoryBackend() *MemoryBackend {
	return NewSharedMemory().Open()
}

func (b *MemoryBackend) Origin() string {
	return b.origin
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.shared.mu.RLock()
	defer b.shared.mu.RUnlock()
	v, ok := b.shared.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (b *MemoryBackend) GetMulti(_ context.Context, keys ...string) (map[string][]byte, error) {
	b.shared.mu.RLock()
	defer b.shared.mu.RUnlock()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := b.shared.data[k]; ok {
			out[k] = bytes.Clone(v)
		}
	}
	return out, nil
}

func (b *MemoryBackend) SetMulti(_ context.Context, entries map[string][]byte) error {
	keys := make([]string, 0, len(entries))
	b.shared.mu.Lock()
	for k, v := range entries {
		cp := make([]byte, len(v))
		copy(cp, v)
		b.shared.data[k] = cp
		keys = append(keys, k)
	}
	b.shared.mu.Unlock()
	b.shared.notify(Change{Origin: b.origin, Keys: keys})
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	b.shared.mu.Lock()
	for _, k := range keys {
		delete(b.shared.data, k)
	}
	b.shared.mu.Unlock()
	b.shared.notify(Change{Origin: b.origin, Keys: keys})
	return nil
}

func (b *MemoryBackend) CompareAndSwap(_ context.Context, key string, old, value []byte) (bool, error) {
	b.shared.mu.Lock()
	cur, ok := b.shared.data[key]
	if !ok || !bytes.Equal(cur, old) {
		b.shared.mu.Unlock()
		return false, nil
	}
	b.shared.data[key] = bytes.Clone(value)
	b.shared.mu.Unlock()
	b.shared.notify(Change{Origin: b.origin, Keys: []string{key}})
	return true, nil
}

// Watch registers fn for changes made through other handles. fn runs on the
// writer's goroutine after the write has landed.
func (b *MemoryBackend) Watch(_ context.Context, fn func(Change)) (func(), error) {
	b.shared.mu.Lock()
	b.shared.nextID++
	id := b.shared.nextID
	b.shared.watchers[id] = memoryWatcher{origin: b.origin, fn: fn}
	b.shared.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.shared.mu.Lock()
			delete(b.shared.watchers, id)
			b.shared.mu.Unlock()
		})
	}, nil
}

func (s *SharedMemory) notify(change Change) {
	s.mu.RLock()
	targets := make([]func(Change), 0, len(s.watchers))
	for _, w := range s.watchers {
		if w.origin != change.Origin {
			targets = append(targets, w.fn)
		}
	}
	s.mu.RUnlock()
	for _, fn := range targets {
		fn(change)
	}
}
