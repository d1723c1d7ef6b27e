package notice

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Rare-Specie/authkeeper/internal/rate"
	"github.com/jonboulle/clockwork"
)

// Level is the severity a host UI should render a notice with.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Category groups notices for debouncing. Notices in the same category are
// shown at most once per window.
type Category string

const (
	CategoryLogin              Category = "login"
	CategorySessionExpired     Category = "session_expired"
	CategoryInvalidCredentials Category = "invalid_credentials"
	CategoryLoggedOut          Category = "logged_out"
	CategoryLoginRequired      Category = "login_required"
	CategoryForbidden          Category = "forbidden"
	CategoryBadRequest         Category = "bad_request"
	CategoryNotFound           Category = "not_found"
	CategoryServerError        Category = "server_error"
	CategoryRequestFailed      Category = "request_failed"
	CategoryNetwork            Category = "network"
	CategoryRecovery           Category = "recovery"
	CategoryRefresh            Category = "refresh"
	CategoryProfile            Category = "profile"
	CategoryPassword           Category = "password"
	CategoryNavigation         Category = "navigation"
)

// Notice is one message for the user.
type Notice struct {
	Level    Level
	Category Category
	Message  string
}

// Notifier receives notices that passed the gate.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(Notice)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notice) { f(n) }

// Discard drops every notice.
var Discard Notifier = NotifierFunc(func(Notice) {})

// Gate debounces notices per category before forwarding them.
type Gate struct {
	target  Notifier
	limiter *rate.Limiter
	logger  *slog.Logger

	mu         sync.Mutex
	suppressed map[Category]uint64
}

// GateConfig tunes a [Gate].
type GateConfig struct {
	// Window is the debounce window for categories without an override.
	Window time.Duration
	// Overrides sets per-category windows.
	Overrides map[Category]time.Duration
}

// NewGate returns a gate forwarding to target. Nil target discards, nil clock
// uses the real clock and nil logger discards.
func NewGate(target Notifier, clock clockwork.Clock, cfg GateConfig, logger *slog.Logger) *Gate {
	if target == nil {
		target = Discard
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	overrides := make(map[string]time.Duration, len(cfg.Overrides))
	for k, v := range cfg.Overrides {
		overrides[string(k)] = v
	}
	return &Gate{
		target: target,
		limiter: rate.New(clock, rate.Config{
			Window:    cfg.Window,
			MaxHits:   1,
			Overrides: overrides,
		}),
		logger:     logger,
		suppressed: make(map[Category]uint64),
	}
}

// Emit forwards n unless its category is inside the debounce window. It
// reports whether n was delivered.
func (g *Gate) Emit(n Notice) bool {
	if g == nil {
		return false
	}
	if !g.limiter.Allow(string(n.Category)) {
		g.mu.Lock()
		g.suppressed[n.Category]++
		g.mu.Unlock()
		g.logger.Debug("authkeeper: notice suppressed", "category", n.Category)
		return false
	}
	g.deliver(n)
	return true
}

// Force forwards n regardless of the window and restarts the category window.
func (g *Gate) Force(n Notice) {
	if g == nil {
		return
	}
	g.limiter.Reset(string(n.Category))
	g.limiter.Allow(string(n.Category))
	g.deliver(n)
}

// Suppressed returns how many notices of c were dropped by the gate.
func (g *Gate) Suppressed(c Category) uint64 {
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.suppressed[c]
}

func (g *Gate) deliver(n Notice) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("authkeeper: notifier panicked", "category", n.Category, "panic", r)
		}
	}()
	g.target.Notify(n)
}

// Recorder is a [Notifier] that keeps every notice it receives. It is safe
// for concurrent use and is mainly useful for hosts that poll.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

// Notify appends n.
func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

// Notices returns a copy of everything recorded so far.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Count returns how many notices of category c were recorded.
func (r *Recorder) Count(c Category) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, x := range r.notices {
		if x.Category == c {
			n++
		}
	}
	return n
}

// Drain returns and forgets everything recorded so far.
func (r *Recorder) Drain() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.notices
	r.notices = nil
	return out
}
