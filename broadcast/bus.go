package broadcast

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Signal names other components subscribe to.
const (
	// AuthChange fires after this context mutated the session record.
	AuthChange = "authChange"
	// Storage fires when another context changed the shared store.
	Storage = "storage"
)

// Event is delivered to subscribers. Keys is set for Storage events when the
// backend can tell which keys changed.
type Event struct {
	Name string
	Keys []string
}

// Handler reacts to an event. It should re-derive state from storage rather
// than trust anything it cached.
type Handler func(Event)

// Bus is an in-process publish/subscribe hub. Handlers run synchronously on
// the publisher's goroutine, in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers []subscription
	nextID   uint64
}

type subscription struct {
	id uint64
	fn Handler
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.handlers {
		if s.id == id {
			b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every current subscriber. A panicking handler is
// logged and does not stop delivery to the rest.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	targets := make([]Handler, len(b.handlers))
	for i, s := range b.handlers {
		targets[i] = s.fn
	}
	b.mu.RUnlock()

	for _, fn := range targets {
		deliver(fn, ev)
	}
}

func deliver(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", ev.Name).Msg("session change handler panicked")
		}
	}()
	fn(ev)
}
