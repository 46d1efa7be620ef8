package storage

import (
	"context"
	"encoding/json"

	"github.com/jrsteele09/storefront-session/autherr"
	"github.com/rs/zerolog/log"
)

// Manager gives typed access to the Backend and owns a fixed set of keys.
// Nothing is cached; every Get and Load reads the backend.
type Manager struct {
	backend Backend
	owned   []string
}

// NewManager creates a Manager owning the given keys. Clear removes exactly
// these keys and nothing else.
func NewManager(backend Backend, owned ...string) *Manager {
	return &Manager{backend: backend, owned: owned}
}

func (m *Manager) Backend() Backend {
	return m.backend
}

// Set serializes value and writes it under key.
func Set[T any](ctx context.Context, m *Manager, key string, value T) error {
	return m.SetAll(ctx, map[string]any{key: value})
}

// SetAll serializes and writes all entries in one backend operation. A
// returned error means nothing was persisted.
func (m *Manager) SetAll(ctx context.Context, entries map[string]any) error {
	raw := make(map[string][]byte, len(entries))
	for key, value := range entries {
		b, err := json.Marshal(value)
		if err != nil {
			log.Err(err).Str("key", key).Msg("failed to serialize storage value")
			return autherr.NewStorage("Storage operation failed", err)
		}
		raw[key] = b
	}
	if err := m.backend.SetMulti(ctx, raw); err != nil {
		log.Err(err).Msg("failed to write storage")
		return autherr.NewStorage("Storage operation failed", err)
	}
	return nil
}

// Get reads and deserializes key. A missing key is reported as absent. A value
// that fails to parse is removed and reported as absent. A backend read
// failure is returned as a storage error and nothing is removed, so callers
// can tell an outage apart from an empty store.
func Get[T any](ctx context.Context, m *Manager, key string) (T, bool, error) {
	var zero T
	raw, ok, err := m.backend.Get(ctx, key)
	if err != nil {
		log.Err(err).Str("key", key).Msg("failed to read storage")
		return zero, false, autherr.NewStorage("Storage operation failed", err)
	}
	if !ok {
		return zero, false, nil
	}
	value, ok := decode[T](ctx, m, key, raw)
	return value, ok, nil
}

// Snapshot holds the raw values of several keys read in one backend call.
type Snapshot struct {
	m   *Manager
	raw map[string][]byte
}

// Load reads keys in one backend operation.
func (m *Manager) Load(ctx context.Context, keys ...string) (Snapshot, error) {
	raw, err := m.backend.GetMulti(ctx, keys...)
	if err != nil {
		log.Err(err).Strs("keys", keys).Msg("failed to read storage")
		return Snapshot{}, autherr.NewStorage("Storage operation failed", err)
	}
	return Snapshot{m: m, raw: raw}, nil
}

// Raw returns the serialized value of key as it was read.
func (s Snapshot) Raw(key string) ([]byte, bool) {
	v, ok := s.raw[key]
	return v, ok
}

// Decode deserializes key from a snapshot with the same rules as Get.
func Decode[T any](ctx context.Context, s Snapshot, key string) (T, bool) {
	raw, ok := s.raw[key]
	if !ok {
		var zero T
		return zero, false
	}
	return decode[T](ctx, s.m, key, raw)
}

func decode[T any](ctx context.Context, m *Manager, key string, raw []byte) (T, bool) {
	var value T
	if len(raw) == 0 {
		return value, false
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("corrupt storage value removed")
		m.Remove(ctx, key)
		var zero T
		return zero, false
	}
	return value, true
}

// Swap serializes value and writes it under key only if the key still holds
// old, the raw bytes from an earlier Load. It reports whether the write
// happened.
func Swap[T any](ctx context.Context, m *Manager, key string, old []byte, value T) (bool, error) {
	b, err := json.Marshal(value)
	if err != nil {
		log.Err(err).Str("key", key).Msg("failed to serialize storage value")
		return false, autherr.NewStorage("Storage operation failed", err)
	}
	swapped, err := m.backend.CompareAndSwap(ctx, key, old, b)
	if err != nil {
		log.Err(err).Str("key", key).Msg("failed to write storage")
		return false, autherr.NewStorage("Storage operation failed", err)
	}
	return swapped, nil
}

// Remove deletes key, logging rather than returning failures.
func (m *Manager) Remove(ctx context.Context, key string) {
	if err := m.backend.Delete(ctx, key); err != nil {
		log.Err(err).Str("key", key).Msg("failed to remove storage key")
	}
}

// Clear removes every owned key.
func (m *Manager) Clear(ctx context.Context) error {
	if len(m.owned) == 0 {
		return nil
	}
	if err := m.backend.Delete(ctx, m.owned...); err != nil {
		log.Err(err).Msg("failed to clear storage")
		return autherr.NewStorage("Failed to clear storage", err)
	}
	return nil
}
