package gatekeeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Rare-Specie/authkeeper/model"
	"github.com/Rare-Specie/authkeeper/notice"
	"github.com/jonboulle/clockwork"
)

// Session is the controller surface the gatekeeper drives.
type Session interface {
	Phase(ctx context.Context) model.Phase
	// AwaitInit runs init, or waits for the one in flight, and reports
	// whether the session ended ready.
	AwaitInit(ctx context.Context) bool
	CheckTokenRefresh(ctx context.Context) bool
	ClearState(ctx context.Context)
	User() *model.UserProfile
	HasStoredToken() bool
}

// Recoverer is the snapshot recovery surface the gatekeeper drives.
type Recoverer interface {
	IsRecovering() bool
	NeedsRecovery(ctx context.Context) bool
	WaitForRecovery(ctx context.Context, timeout time.Duration) bool
	RestoreWithin(ctx context.Context, wait time.Duration) bool
}

// Action is what the router should do with a navigation.
type Action int

const (
	ActionAllow Action = iota
	ActionRedirect
	// ActionError means deciding failed; the router shows Notice and stays.
	ActionError
)

func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionRedirect:
		return "redirect"
	case ActionError:
		return "error"
	default:
		return "unknown"
	}
}

// Navigation is one routing attempt.
type Navigation struct {
	From Route
	To   Route
}

// Decision is the single final outcome of a navigation.
type Decision struct {
	Action Action
	// Target is the redirect path. Empty unless Action is ActionRedirect.
	Target string
	// Notice is shown to the user, or nil.
	Notice *notice.Notice
	// FailedOpen is set when the decision was skipped because another one
	// was running.
	FailedOpen bool
	// Reason is a short machine-readable cause for logs and metrics.
	Reason string
}

// Config tunes a [Gatekeeper].
type Config struct {
	LoginPath   string
	LandingPath string
	// ReleaseGrace delays releasing the re-entrancy lock. Values below
	// 100ms are raised to 100ms.
	ReleaseGrace time.Duration
	// RecoveryWait bounds waiting on or running a snapshot restore.
	RecoveryWait time.Duration
	// InitTimeout bounds the init a navigation waits on.
	InitTimeout time.Duration
}

const minReleaseGrace = 100 * time.Millisecond

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		LoginPath:    "/",
		LandingPath:  "/main",
		ReleaseGrace: 150 * time.Millisecond,
		RecoveryWait: 2 * time.Second,
		InitTimeout:  5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LoginPath == "" {
		c.LoginPath = d.LoginPath
	}
	if c.LandingPath == "" {
		c.LandingPath = d.LandingPath
	}
	if c.ReleaseGrace < minReleaseGrace {
		c.ReleaseGrace = minReleaseGrace
	}
	if c.RecoveryWait <= 0 {
		c.RecoveryWait = d.RecoveryWait
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = d.InitTimeout
	}
	return c
}

// Option configures a [Gatekeeper].
type Option func(*Gatekeeper)

// WithClock sets the clock for the release grace.
func WithClock(c clockwork.Clock) Option {
	return func(g *Gatekeeper) {
		if c != nil {
			g.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gatekeeper) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithNotices routes decision notices through n.
func WithNotices(n *notice.Gate) Option {
	return func(g *Gatekeeper) { g.notices = n }
}

// WithObserver calls fn after every decision.
func WithObserver(fn func(Navigation, Decision)) Option {
	return func(g *Gatekeeper) { g.observer = fn }
}

// Gatekeeper admits or redirects navigations.
type Gatekeeper struct {
	session  Session
	recovery Recoverer
	cfg      Config
	clock    clockwork.Clock
	logger   *slog.Logger
	notices  *notice.Gate
	observer func(Navigation, Decision)

	lock reentryLock
	bg   sync.WaitGroup
}

// New returns a gatekeeper over session. recovery may be nil when
// snapshots are disabled.
func New(session Session, recovery Recoverer, cfg Config, opts ...Option) *Gatekeeper {
	g := &Gatekeeper{
		session:  session,
		recovery: recovery,
		cfg:      cfg.withDefaults(),
		clock:    clockwork.NewRealClock(),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.lock.clock = g.clock
	return g
}

// Config returns the effective configuration.
func (g *Gatekeeper) Config() Config { return g.cfg }

// Busy reports whether a decision holds the re-entrancy lock.
func (g *Gatekeeper) Busy() bool { return g.lock.isHeld() }

// Reset force-releases the re-entrancy lock. Routers call it from their
// global error hook.
func (g *Gatekeeper) Reset() { g.lock.reset() }

// Wait blocks until background refreshes and recoveries started by
// decisions have finished.
func (g *Gatekeeper) Wait() { g.bg.Wait() }

// Decide returns the decision for nav. It never blocks on the re-entrancy
// lock: a navigation arriving while another decision runs is allowed.
func (g *Gatekeeper) Decide(ctx context.Context, nav Navigation) Decision {
	gen, ok := g.lock.tryAcquire()
	if !ok {
		d := Decision{Action: ActionAllow, FailedOpen: true, Reason: "reentrant"}
		g.logger.Debug("authkeeper: navigation failed open", "to", nav.To.Path)
		g.observe(nav, d)
		return d
	}
	defer g.lock.releaseAfter(gen, g.cfg.ReleaseGrace)

	d := g.collapse(nav, g.decide(ctx, nav))
	if d.Notice != nil {
		g.notices.Emit(*d.Notice)
	}
	g.logger.Debug("authkeeper: navigation decided",
		"from", nav.From.Path, "to", nav.To.Path,
		"action", d.Action.String(), "target", d.Target, "reason", d.Reason)
	g.observe(nav, d)
	return d
}

// Resolve is [Gatekeeper.Decide] with panic recovery. A panic becomes an
// [ActionError] decision with a "page failed to load" notice.
func (g *Gatekeeper) Resolve(ctx context.Context, nav Navigation) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("authkeeper: navigation panicked", "to", nav.To.Path, "panic", r)
			n := notice.Notice{Level: notice.LevelError, Category: notice.CategoryNavigation, Message: "page failed to load"}
			g.notices.Emit(n)
			d = Decision{Action: ActionError, Notice: &n, Reason: "panic"}
			g.observe(nav, d)
		}
	}()
	return g.Decide(ctx, nav)
}

func (g *Gatekeeper) decide(ctx context.Context, nav Navigation) Decision {
	phase := g.session.Phase(ctx)

	if !nav.To.RequiresAuth {
		switch phase {
		case model.PhaseReady, model.PhaseUninitialized:
			return g.redirect(g.cfg.LandingPath, nil, "authenticated")
		}
		if phase == model.PhaseAnonymous && g.session.HasStoredToken() {
			g.backgroundRecover()
		}
		return Decision{Action: ActionAllow, Reason: "public"}
	}

	switch phase {
	case model.PhaseReady:
		g.backgroundRefresh()
		return g.admit(nav)

	case model.PhaseUninitialized:
		if g.awaitInit(ctx) {
			return g.admit(nav)
		}
		g.session.ClearState(ctx)
		return g.redirect(g.cfg.LoginPath, loginRequired(), "init_failed")

	default:
		if g.recover(ctx) {
			return g.admit(nav)
		}
		var n *notice.Notice
		if nav.To.Path != g.cfg.LoginPath {
			n = loginRequired()
		}
		return g.redirect(g.cfg.LoginPath, n, "anonymous")
	}
}

// recover tries an in-flight restore, then a fresh restore, then a plain
// init, and reports whether the session became ready.
func (g *Gatekeeper) recover(ctx context.Context) bool {
	if g.recovery != nil {
		switch {
		case g.recovery.IsRecovering():
			g.recovery.WaitForRecovery(ctx, g.cfg.RecoveryWait)
		case g.recovery.NeedsRecovery(ctx):
			g.recovery.RestoreWithin(ctx, g.cfg.RecoveryWait)
		}
		if g.session.Phase(ctx) == model.PhaseReady {
			return true
		}
	}
	if !g.session.HasStoredToken() {
		return false
	}
	return g.awaitInit(ctx)
}

func (g *Gatekeeper) awaitInit(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.InitTimeout)
	defer cancel()
	return g.session.AwaitInit(ctx)
}

func (g *Gatekeeper) admit(nav Navigation) Decision {
	if len(nav.To.Roles) == 0 {
		return Decision{Action: ActionAllow, Reason: "authenticated"}
	}
	var role model.Role
	if u := g.session.User(); u != nil {
		role = u.Role
	}
	if nav.To.Permits(role) {
		return Decision{Action: ActionAllow, Reason: "authorized"}
	}
	return g.redirect(g.cfg.LandingPath, &notice.Notice{
		Level:    notice.LevelWarning,
		Category: notice.CategoryForbidden,
		Message:  "you do not have permission to view this page",
	}, "forbidden")
}

func (g *Gatekeeper) redirect(target string, n *notice.Notice, reason string) Decision {
	return Decision{Action: ActionRedirect, Target: target, Notice: n, Reason: reason}
}

// collapse turns a redirect onto the target itself into an allow, so the
// router never loops login to login.
func (g *Gatekeeper) collapse(nav Navigation, d Decision) Decision {
	if d.Action == ActionRedirect && d.Target == nav.To.Path {
		d.Action = ActionAllow
		d.Target = ""
		d.Notice = nil
	}
	return d
}

func (g *Gatekeeper) backgroundRefresh() {
	g.background("refresh", func(ctx context.Context) {
		g.session.CheckTokenRefresh(ctx)
	})
}

func (g *Gatekeeper) backgroundRecover() {
	g.background("recover", func(ctx context.Context) {
		g.recover(ctx)
	})
}

func (g *Gatekeeper) background(name string, fn func(ctx context.Context)) {
	g.bg.Add(1)
	go func() {
		defer g.bg.Done()
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error("authkeeper: background navigation task panicked", "task", name, "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.InitTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (g *Gatekeeper) observe(nav Navigation, d Decision) {
	if g.observer != nil {
		g.observer(nav, d)
	}
}

func loginRequired() *notice.Notice {
	return &notice.Notice{
		Level:    notice.LevelWarning,
		Category: notice.CategoryLoginRequired,
		Message:  "please log in",
	}
}
