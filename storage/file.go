package storage

import (
	"bytes"
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	_ Backend = (*FileBackend)(nil)
	_ Watcher = (*FileBackend)(nil)
)

// DefaultPollInterval is how often FileBackend.Watch checks for writes made by
// other processes.
const DefaultPollInterval = 500 * time.Millisecond

// FileBackend keeps every key in a single JSON document on disk, replaced
// atomically on each write. When a key is given the document is sealed with
// XChaCha20-Poly1305.
type FileBackend struct {
	path         string
	aead         cipher.AEAD
	pollInterval time.Duration

	mu   sync.Mutex
	seen [sha256.Size]byte
}

type FileOption func(*FileBackend)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) FileOption {
	return func(f *FileBackend) { f.pollInterval = d }
}

// NewFileBackend opens (or prepares to create) the document at path. key may
// be nil for a plaintext document, otherwise it must be 32 bytes.
func NewFileBackend(path string, key []byte, opts ...FileOption) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "NewFileBackend os.MkdirAll")
	}
	f := &FileBackend{
		path:         path,
		pollInterval: DefaultPollInterval,
	}
	if len(key) > 0 {
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, errors.Wrap(err, "NewFileBackend chacha20poly1305.NewX")
		}
		f.aead = aead
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *FileBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return nil, false, err
	}
	v, ok := doc[key]
	if !ok {
		return nil, false, nil
	}
	return []byte(v), true, nil
}

func (f *FileBackend) GetMulti(_ context.Context, keys ...string) (map[string][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := doc[k]; ok {
			out[k] = []byte(v)
		}
	}
	return out, nil
}

func (f *FileBackend) SetMulti(_ context.Context, entries map[string][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	for k, v := range entries {
		doc[k] = string(v)
	}
	return f.store(doc)
}

func (f *FileBackend) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	for _, k := range keys {
		delete(doc, k)
	}
	return f.store(doc)
}

// CompareAndSwap is atomic across handles in this process. A second process
// replacing the document between the read and the rename is not detected.
func (f *FileBackend) CompareAndSwap(_ context.Context, key string, old, value []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return false, err
	}
	cur, ok := doc[key]
	if !ok || cur != string(old) {
		return false, nil
	}
	doc[key] = string(value)
	if err := f.store(doc); err != nil {
		return false, err
	}
	return true, nil
}

// Watch polls the document and calls fn when its content changes through a
// write this handle did not make. Keys is nil because the poll cannot tell
// which keys changed.
func (f *FileBackend) Watch(ctx context.Context, fn func(Change)) (func(), error) {
	f.mu.Lock()
	f.seen = f.digest()
	f.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(f.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.mu.Lock()
				current := f.digest()
				changed := current != f.seen
				f.seen = current
				f.mu.Unlock()
				if changed {
					fn(Change{})
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (f *FileBackend) digest() [sha256.Size]byte {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return [sha256.Size]byte{}
	}
	return sha256.Sum256(raw)
}

// load reads the whole document. A missing file is an empty document; an
// unreadable one is logged and treated as empty so the next write replaces it.
func (f *FileBackend) load() (map[string]string, error) {
	doc := map[string]string{}
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "FileBackend os.ReadFile")
	}
	if len(raw) == 0 {
		return doc, nil
	}
	plain, err := f.open(raw)
	if err == nil {
		err = json.Unmarshal(plain, &doc)
	}
	if err != nil {
		log.Warn().Err(err).Str("path", f.path).Msg("unreadable storage document discarded")
		return map[string]string{}, nil
	}
	return doc, nil
}

func (f *FileBackend) store(doc map[string]string) error {
	plain, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "FileBackend json.Marshal")
	}
	raw, err := f.seal(plain)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".storage-*")
	if err != nil {
		return errors.Wrap(err, "FileBackend os.CreateTemp")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return errors.Wrap(err, "FileBackend tmp.Write")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "FileBackend tmp.Close")
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return errors.Wrap(err, "FileBackend os.Rename")
	}
	f.seen = sha256.Sum256(raw)
	return nil
}

func (f *FileBackend) seal(plain []byte) ([]byte, error) {
	if f.aead == nil {
		return plain, nil
	}
	nonce := make([]byte, f.aead.NonceSize(), f.aead.NonceSize()+len(plain)+f.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "FileBackend rand.Read")
	}
	return f.aead.Seal(nonce, nonce, plain, nil), nil
}

func (f *FileBackend) open(raw []byte) ([]byte, error) {
	if f.aead == nil {
		if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
			return nil, errors.New("document is not plaintext json")
		}
		return raw, nil
	}
	if len(raw) < f.aead.NonceSize() {
		return nil, errors.New("sealed document too short")
	}
	nonce, ciphertext := raw[:f.aead.NonceSize()], raw[f.aead.NonceSize():]
	return f.aead.Open(nil, nonce, ciphertext, nil)
}
