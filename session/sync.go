package session

import (
	"context"
	"slices"

	"github.com/jrsteele09/storefront-session/broadcast"
	"github.com/jrsteele09/storefront-session/storage"
	"github.com/rs/zerolog/log"
)

var ownedKeys = []string{KeyTokens, KeyUser, KeyTimestamp}

// Start listens for session changes made by other contexts sharing the store
// and republishes them on the bus as Storage events. It is a no-op for
// backends that cannot be shared.
func (m *Manager) Start(ctx context.Context) error {
	watcher, ok := m.store.Backend().(storage.Watcher)
	if !ok {
		return nil
	}
	m.watchLock.Lock()
	defer m.watchLock.Unlock()
	if m.stopWatch != nil {
		return nil
	}
	stop, err := watcher.Watch(ctx, func(c storage.Change) {
		if !touchesSession(c.Keys) {
			return
		}
		log.Debug().Str("origin", c.Origin).Strs("keys", c.Keys).Msg("session changed elsewhere")
		m.bus.Publish(broadcast.Event{Name: broadcast.Storage, Keys: c.Keys})
	})
	if err != nil {
		return err
	}
	m.stopWatch = stop
	return nil
}

// Close stops the cross-context listener and closes the store when it holds
// resources.
func (m *Manager) Close() error {
	m.watchLock.Lock()
	if m.stopWatch != nil {
		m.stopWatch()
		m.stopWatch = nil
	}
	m.watchLock.Unlock()
	if c, ok := m.store.Backend().(storage.Closer); ok {
		return c.Close()
	}
	return nil
}

// touchesSession is true when keys is unknown (empty) or names an owned key.
func touchesSession(keys []string) bool {
	if len(keys) == 0 {
		return true
	}
	for _, k := range keys {
		if slices.Contains(ownedKeys, k) {
			return true
		}
	}
	return false
}
