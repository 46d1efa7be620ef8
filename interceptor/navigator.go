package interceptor

import (
	"net/url"
	"sync"

	"github.com/rs/zerolog/log"
)

// Navigator is the UI surface the invalidation hook redirects.
type Navigator interface {
	CurrentPath() string
	Navigate(target string)
}

// MemoryNavigator tracks a current location in memory. Navigate moves to the
// target's path and records every target in History.
type MemoryNavigator struct {
	mu      sync.Mutex
	current string
	history []string
}

func NewMemoryNavigator(initialPath string) *MemoryNavigator {
	if initialPath == "" {
		initialPath = "/"
	}
	return &MemoryNavigator{current: initialPath}
}

func (n *MemoryNavigator) CurrentPath() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// SetPath moves to path without recording a navigation.
func (n *MemoryNavigator) SetPath(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.current = path
}

func (n *MemoryNavigator) Navigate(target string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.history = append(n.history, target)
	if u, err := url.Parse(target); err == nil && u.Path != "" {
		n.current = u.Path
	} else {
		n.current = target
	}
	log.Info().Str("target", target).Msg("navigating")
}

// History returns every target passed to Navigate.
func (n *MemoryNavigator) History() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.history))
	copy(out, n.history)
	return out
}
