package rate

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Config holds limiter tuning parameters.
type Config struct {
	// Window is the default window length for keys without an override.
	Window time.Duration
	// MaxHits is the number of hits admitted per window. Values < 1 mean 1.
	MaxHits int
	// Overrides sets a per-key window length.
	Overrides map[string]time.Duration
}

type window struct {
	opened time.Time
	hits   int
}

// Limiter enforces fixed-window budgets per key in memory.
type Limiter struct {
	clock  clockwork.Clock
	config Config

	mu      sync.Mutex
	windows map[string]*window
}

// New creates a [Limiter]. A nil clock uses the real clock.
func New(clock clockwork.Clock, cfg Config) *Limiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.MaxHits < 1 {
		cfg.MaxHits = 1
	}
	overrides := make(map[string]time.Duration, len(cfg.Overrides))
	for k, v := range cfg.Overrides {
		overrides[k] = v
	}
	cfg.Overrides = overrides

	return &Limiter{
		clock:   clock,
		config:  cfg,
		windows: make(map[string]*window),
	}
}

// Check records a hit for key and returns ErrRateLimited when the current
// window is already full.
func (l *Limiter) Check(key string) error {
	if l.Allow(key) {
		return nil
	}
	return ErrRateLimited
}

// Allow records a hit for key and reports whether it was admitted.
func (l *Limiter) Allow(key string) bool {
	length := l.windowFor(key)
	if length <= 0 {
		return true
	}

	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.opened) >= length {
		l.windows[key] = &window{opened: now, hits: 1}
		l.pruneLocked(now)
		return true
	}
	if w.hits >= l.config.MaxHits {
		return false
	}
	w.hits++
	return true
}

// Reset forgets the window for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.windows, key)
	l.mu.Unlock()
}

func (l *Limiter) windowFor(key string) time.Duration {
	if d, ok := l.config.Overrides[key]; ok {
		return d
	}
	return l.config.Window
}

// pruneLocked drops windows that closed long ago so the map stays bounded by
// the number of live keys.
func (l *Limiter) pruneLocked(now time.Time) {
	if len(l.windows) < 64 {
		return
	}
	for k, w := range l.windows {
		if now.Sub(w.opened) >= l.windowFor(k) {
			delete(l.windows, k)
		}
	}
}
