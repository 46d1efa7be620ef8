package storage

import "context"

// Backend is the raw persistent key-value store underneath the Manager. It
// plays the role a browser's local storage plays for a web client: values are
// opaque serialized strings and every read goes to the store.
type Backend interface {
	// Get returns the raw value for key and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// GetMulti reads several keys in one operation, so the result is a
	// consistent view of them. Missing keys are absent from the map.
	GetMulti(ctx context.Context, keys ...string) (map[string][]byte, error)

	// SetMulti writes every entry or none of them.
	SetMulti(ctx context.Context, entries map[string][]byte) error

	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// CompareAndSwap writes value under key only if the key currently holds
	// old. A missing key never matches.
	CompareAndSwap(ctx context.Context, key string, old, value []byte) (bool, error)
}

// Change describes a write made through another handle to the same store.
type Change struct {
	Origin string
	Keys   []string
}

// Watcher is implemented by backends that can be shared by several
// independent contexts (processes, windows). Watch delivers changes made by
// other handles only, never the caller's own writes.
type Watcher interface {
	Watch(ctx context.Context, fn func(Change)) (stop func(), err error)
}

// Closer is implemented by backends holding connections or goroutines.
type Closer interface {
	Close() error
}
