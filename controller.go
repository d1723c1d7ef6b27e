package authkeeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Rare-Specie/authkeeper/credential"
	"github.com/Rare-Specie/authkeeper/notice"
	"github.com/Rare-Specie/authkeeper/snapshot"
	"github.com/jonboulle/clockwork"
)

// Controller is the authoritative session state machine. Every "am I logged
// in" question funnels through it. All methods are safe for concurrent use.
//
// Construct it with [Builder].
type Controller struct {
	cfg      Config
	backend  Backend
	store    *credential.Store
	recovery *snapshot.Recovery
	notices  *notice.Gate
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *Metrics
	events   *eventBus

	mu               sync.Mutex
	token            string
	user             *UserProfile
	initialized      bool
	authenticating   bool
	initCount        int
	initIdle         chan struct{}
	profileFetchedAt time.Time
	path             string

	refreshMu     sync.Mutex
	lastRefreshAt time.Time

	monitorMu   sync.Mutex
	monitorStop chan struct{}
	monitorWG   sync.WaitGroup

	closed atomic.Bool
}

/*
====================================
ACCESSORS
====================================
*/

// Store returns the credential store.
func (c *Controller) Store() *credential.Store { return c.store }

// Recovery returns the snapshot recovery, or nil when snapshots are disabled.
func (c *Controller) Recovery() *snapshot.Recovery { return c.recovery }

// Notices returns the notice gate shared by every component.
func (c *Controller) Notices() *notice.Gate { return c.notices }

// Metrics returns the controller metrics.
func (c *Controller) Metrics() *Metrics { return c.metrics }

// MetricsSnapshot returns a copy of every counter and histogram.
func (c *Controller) MetricsSnapshot() MetricsSnapshot { return c.metrics.Snapshot() }

// SessionGauges reports the phase and the remaining credential lifetime.
// Unlike [Controller.Phase] it never evicts an expired credential, so a
// metrics scrape does not change session state.
func (c *Controller) SessionGauges() SessionGauges {
	remaining := c.store.Remaining()

	c.mu.Lock()
	defer c.mu.Unlock()
	g := SessionGauges{Phase: PhaseAnonymous, Remaining: remaining}
	switch {
	case c.authenticating:
		g.Phase = PhaseAuthenticating
	case c.token == "" || remaining <= 0:
	case c.initialized && c.user != nil:
		g.Phase = PhaseReady
	default:
		g.Phase = PhaseUninitialized
	}
	return g
}

// Config returns the effective configuration.
func (c *Controller) Config() Config { return c.cfg }

// Clock returns the clock every component runs on.
func (c *Controller) Clock() clockwork.Clock { return c.clock }

// Logger returns the controller logger.
func (c *Controller) Logger() *slog.Logger { return c.logger }

// IsAuthenticated reports whether the state holds a token and the
// credential store still considers it valid.
func (c *Controller) IsAuthenticated(ctx context.Context) bool {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	return token != "" && c.store.Valid(ctx)
}

// IsInitialized reports whether the profile was confirmed by the backend.
func (c *Controller) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// IsInitializing reports whether an Init is in flight.
func (c *Controller) IsInitializing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initCount > 0
}

// Token returns the credential when it is still valid, or "". An expired
// credential is evicted by the call.
func (c *Controller) Token(ctx context.Context) string {
	return c.store.Token(ctx)
}

// HasStoredToken reports whether the credential store holds any token,
// valid or not.
func (c *Controller) HasStoredToken() bool {
	return c.store.HasToken()
}

// User returns a copy of the cached profile, or nil.
func (c *Controller) User() *UserProfile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user.Clone()
}

// Role returns the cached profile role, or "".
func (c *Controller) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return ""
	}
	return c.user.Role
}

// IsAdmin reports whether the signed-in user is an administrator.
func (c *Controller) IsAdmin() bool { return c.Role() == RoleAdmin }

// IsTeacher reports whether the signed-in user is a teacher.
func (c *Controller) IsTeacher() bool { return c.Role() == RoleTeacher }

// IsStudent reports whether the signed-in user is a student.
func (c *Controller) IsStudent() bool { return c.Role() == RoleStudent }

// SetPath records the route the user is on. It is saved in snapshots and
// consulted by the monitor.
func (c *Controller) SetPath(path string) {
	c.mu.Lock()
	c.path = path
	c.mu.Unlock()
}

// Path returns the last recorded route.
func (c *Controller) Path() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// Phase returns the lifecycle phase.
func (c *Controller) Phase(ctx context.Context) Phase {
	c.mu.Lock()
	authenticating := c.authenticating
	token := c.token
	ready := c.initialized && c.user != nil
	c.mu.Unlock()

	switch {
	case authenticating:
		return PhaseAuthenticating
	case token == "" || !c.store.Valid(ctx):
		return PhaseAnonymous
	case ready:
		return PhaseReady
	default:
		return PhaseUninitialized
	}
}

// State returns a copy of the controller state.
func (c *Controller) State(ctx context.Context) State {
	phase := c.Phase(ctx)

	c.mu.Lock()
	s := State{
		Token:        c.token,
		User:         c.user.Clone(),
		Initialized:  c.initialized,
		Initializing: c.initCount > 0,
		Phase:        phase,
	}
	c.mu.Unlock()

	c.refreshMu.Lock()
	s.LastRefreshAt = c.lastRefreshAt
	c.refreshMu.Unlock()

	s.Authenticated = s.Token != "" && c.store.Valid(ctx)
	return s
}

/*
====================================
LOGIN / LOGOUT
====================================
*/

// Login authenticates against the backend. On success the token is stored
// with the full TTL, the returned profile is adopted and the session is
// ready. On failure the error is returned as is and no session state is
// touched apart from evicting an already invalid credential.
func (c *Controller) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	if c.closed.Load() {
		return nil, ErrControllerClosed
	}

	c.mu.Lock()
	if c.authenticating {
		c.mu.Unlock()
		return nil, ErrLoginInProgress
	}
	c.authenticating = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.authenticating = false
		c.mu.Unlock()
	}()

	resp, err := c.backend.Login(ctx, req)
	if err == nil && (resp == nil || resp.Token == "") {
		err = fmt.Errorf("%w: login response without token", ErrBackendUnavailable)
	}
	if err != nil {
		c.store.Valid(ctx)
		c.metrics.Inc(MetricLoginFailure)
		c.emit(ctx, Event{Type: EventLoginFailed, Username: req.Username, Error: err.Error()})
		c.logger.Info("authkeeper: login failed", "username", req.Username, "error", err)
		return nil, err
	}

	now := c.clock.Now()
	user := resp.User
	c.mu.Lock()
	c.store.SetWithProfile(ctx, resp.Token, c.cfg.Credential.TTL, "", &user)
	c.authenticating = false
	c.token = resp.Token
	c.user = user.Clone()
	c.initialized = true
	c.profileFetchedAt = now
	c.mu.Unlock()

	c.refreshMu.Lock()
	c.lastRefreshAt = now
	c.refreshMu.Unlock()

	if c.recovery != nil {
		c.recovery.StartAutoSave()
	}
	c.metrics.Inc(MetricLoginSuccess)
	c.emit(ctx, Event{Type: EventLogin, Success: true})
	c.notices.Emit(notice.Notice{Level: notice.LevelSuccess, Category: notice.CategoryLogin, Message: "login successful"})
	c.logger.Info("authkeeper: login succeeded", "user_id", user.ID, "role", user.Role)

	return &LoginResponse{Token: resp.Token, User: user}, nil
}

// Logout ends the session. The server call is best effort and never fails
// the logout; local state is always cleared.
func (c *Controller) Logout(ctx context.Context, opts LogoutOptions) {
	token := c.store.Peek().Token
	if token == "" {
		c.mu.Lock()
		token = c.token
		c.mu.Unlock()
	}
	if token != "" && !opts.SkipServerCall {
		if err := c.backend.Logout(ctx, token); err != nil {
			c.logger.Info("authkeeper: server logout failed", "error", err)
		}
	}

	snapshotUser := c.User()
	if c.clearState(ctx) {
		c.metrics.Inc(MetricLogout)
		ev := Event{Type: EventLogout, Success: true}
		if snapshotUser != nil {
			ev.UserID = snapshotUser.ID
			ev.Username = snapshotUser.Username
		}
		c.emit(ctx, ev)
	}
	c.StopMonitor()
	if c.recovery != nil {
		c.recovery.StopAutoSave()
	}
	c.notices.Emit(notice.Notice{Level: notice.LevelSuccess, Category: notice.CategoryLoggedOut, Message: "logged out safely"})
}

// ClearState wipes the token, profile, initialized flag and snapshot. It
// is idempotent and emits a state event only when something was cleared.
func (c *Controller) ClearState(ctx context.Context) {
	if c.clearState(ctx) {
		c.emit(ctx, Event{Type: EventStateCleared, Success: true})
	}
}

// ExpireSession clears the session and shows the debounced "session
// expired" notice.
func (c *Controller) ExpireSession(ctx context.Context) {
	if !c.clearState(ctx) {
		return
	}
	c.metrics.Inc(MetricSessionExpired)
	c.emit(ctx, Event{Type: EventSessionExpired})
	c.notices.Emit(notice.Notice{
		Level:    notice.LevelWarning,
		Category: notice.CategorySessionExpired,
		Message:  "session expired, please log in again",
	})
	c.logger.Info("authkeeper: session expired")
}

func (c *Controller) clearState(ctx context.Context) bool {
	c.mu.Lock()
	changed := c.token != "" || c.user != nil || c.initialized || c.store.HasToken()
	c.token = ""
	c.user = nil
	c.initialized = false
	c.profileFetchedAt = time.Time{}
	c.store.Clear(ctx)
	c.mu.Unlock()

	c.refreshMu.Lock()
	c.lastRefreshAt = time.Time{}
	c.refreshMu.Unlock()

	if c.recovery != nil {
		c.recovery.Clear(ctx)
	}
	if changed {
		c.metrics.Inc(MetricStateCleared)
	}
	return changed
}

/*
====================================
INITIALIZATION
====================================
*/

// Init confirms the stored credential with the backend. It returns true
// right away when already initialized. While another Init runs it returns
// false without fetching. Without a valid token, or when the profile fetch
// fails, the state is cleared and Init returns false.
func (c *Controller) Init(ctx context.Context) bool {
	return c.init(ctx, false)
}

// ForceInit is [Controller.Init] that refetches even when initialized or
// while another Init runs.
func (c *Controller) ForceInit(ctx context.Context) bool {
	return c.init(ctx, true)
}

// AwaitInit runs Init and, when another Init is already in flight, waits
// for it instead of giving up. It reports whether the session ended ready.
func (c *Controller) AwaitInit(ctx context.Context) bool {
	if c.Init(ctx) {
		return true
	}
	c.mu.Lock()
	idle := c.initIdle
	c.mu.Unlock()
	if idle != nil {
		select {
		case <-idle:
		case <-ctx.Done():
			return false
		}
	}
	return c.Phase(ctx) == PhaseReady
}

func (c *Controller) init(ctx context.Context, force bool) (ok bool) {
	if c.closed.Load() {
		return false
	}

	c.mu.Lock()
	if !force && c.initialized && c.token != "" {
		c.mu.Unlock()
		if c.store.Valid(ctx) {
			return true
		}
		c.mu.Lock()
	}
	if c.initCount > 0 && !force {
		c.mu.Unlock()
		c.metrics.Inc(MetricInitContended)
		return false
	}
	if c.initCount == 0 {
		c.initIdle = make(chan struct{})
	}
	c.initCount++
	c.mu.Unlock()

	start := c.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("authkeeper: init panicked", "panic", r)
			c.clearState(ctx)
			ok = false
		}
		c.metrics.Observe(MetricInitLatency, c.clock.Since(start))
		if ok {
			c.metrics.Inc(MetricInitSuccess)
		} else {
			c.metrics.Inc(MetricInitFailure)
		}

		c.mu.Lock()
		c.initCount--
		if c.initCount == 0 {
			close(c.initIdle)
		}
		c.mu.Unlock()
	}()

	token := c.store.Token(ctx)
	if token == "" {
		c.ClearState(ctx)
		return false
	}

	c.mu.Lock()
	c.token = token
	needCached := c.user == nil
	c.mu.Unlock()
	if needCached {
		if cached := c.store.LoadProfile(ctx); cached != nil {
			c.mu.Lock()
			if c.user == nil && c.token == token {
				c.user = cached
			}
			c.mu.Unlock()
		}
	}

	profile, err := c.backend.Profile(ctx, token)
	if err == nil && (profile == nil || profile.ID == "") {
		err = fmt.Errorf("%w: empty profile", ErrBackendUnavailable)
	}
	if err != nil {
		c.logger.Info("authkeeper: init profile fetch failed", "error", err)
		c.emit(ctx, Event{Type: EventInitFailed, Error: err.Error()})
		c.ClearState(ctx)
		return false
	}

	c.mu.Lock()
	if c.token != token {
		// Logged out or logged in as someone else while the fetch ran.
		c.mu.Unlock()
		return false
	}
	c.user = profile.Clone()
	c.initialized = true
	c.profileFetchedAt = c.clock.Now()
	c.store.SaveProfile(ctx, profile)
	c.mu.Unlock()

	if c.recovery != nil {
		c.recovery.StartAutoSave()
	}
	c.emit(ctx, Event{Type: EventInitialized, Success: true})
	return true
}

// AdoptSnapshot pushes a recovered token and profile into the store and
// state. The session stays uninitialized until Init confirms it.
func (c *Controller) AdoptSnapshot(ctx context.Context, token string, user *UserProfile) {
	if token == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.SetWithProfile(ctx, token, c.cfg.Credential.TTL, "", user)
	c.token = token
	if user != nil {
		c.user = user.Clone()
	}
}

/*
====================================
REFRESH / VALIDATION
====================================
*/

// CheckTokenRefresh extends the credential to the full TTL when it is
// inside the refresh threshold and no extension happened in the debounce
// window. It never fails; false means nothing was extended.
func (c *Controller) CheckTokenRefresh(ctx context.Context) (extended bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("authkeeper: token refresh panicked", "panic", r)
			extended = false
		}
	}()

	if !c.store.NeedsRefresh(0) {
		return false
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	now := c.clock.Now()
	if !c.lastRefreshAt.IsZero() && now.Sub(c.lastRefreshAt) < c.cfg.Controller.RefreshDebounce {
		return false
	}
	if !c.store.Extend(ctx) {
		return false
	}
	c.lastRefreshAt = now
	c.metrics.Inc(MetricTokenExtended)
	c.emit(ctx, Event{Type: EventTokenExtended, Success: true})
	return true
}

// ValidateToken asks the backend whether the token is still accepted and
// backfills a missing profile. A rejected token expires the session.
func (c *Controller) ValidateToken(ctx context.Context) bool {
	token := c.store.Token(ctx)
	if token == "" {
		c.ClearState(ctx)
		return false
	}
	if err := c.backend.Verify(ctx, token); err != nil {
		c.metrics.Inc(MetricValidateFailure)
		c.logger.Info("authkeeper: token verification failed", "error", err)
		c.ExpireSession(ctx)
		return false
	}

	c.mu.Lock()
	current := c.token == token
	missing := c.user == nil
	c.mu.Unlock()
	if !current {
		return false
	}
	if missing {
		c.refreshProfile(ctx, token)
	}
	return true
}

// ManualRefresh verifies the token with the backend, extends it to the full
// TTL and refetches the profile.
func (c *Controller) ManualRefresh(ctx context.Context) bool {
	token := c.store.Token(ctx)
	if token == "" {
		return false
	}
	if err := c.backend.Verify(ctx, token); err != nil {
		c.metrics.Inc(MetricValidateFailure)
		c.ExpireSession(ctx)
		return false
	}
	if c.store.Extend(ctx) {
		c.refreshMu.Lock()
		c.lastRefreshAt = c.clock.Now()
		c.refreshMu.Unlock()
		c.metrics.Inc(MetricTokenExtended)
		c.emit(ctx, Event{Type: EventTokenExtended, Success: true, Metadata: map[string]string{"source": "manual"}})
	}
	c.refreshProfile(ctx, token)
	c.notices.Force(notice.Notice{Level: notice.LevelSuccess, Category: notice.CategoryRefresh, Message: "session refreshed"})
	return true
}

/*
====================================
PROFILE / PASSWORD
====================================
*/

// FetchProfile loads the profile from the backend and adopts it. Errors are
// returned to the caller after an error notice.
func (c *Controller) FetchProfile(ctx context.Context) (*UserProfile, error) {
	token := c.store.Token(ctx)
	if token == "" {
		return nil, ErrNotAuthenticated
	}
	profile, err := c.backend.Profile(ctx, token)
	if err == nil && profile == nil {
		err = fmt.Errorf("%w: empty profile", ErrBackendUnavailable)
	}
	if err != nil {
		c.metrics.Inc(MetricProfileRefreshFailure)
		c.notices.Emit(notice.Notice{Level: notice.LevelError, Category: notice.CategoryProfile, Message: "failed to load user profile"})
		return nil, err
	}
	if !c.adoptProfile(ctx, token, profile) {
		return nil, ErrNotAuthenticated
	}
	return profile.Clone(), nil
}

// ChangePassword updates the password through the backend.
func (c *Controller) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	token := c.store.Token(ctx)
	if token == "" {
		return ErrNotAuthenticated
	}
	err := c.backend.UpdatePassword(ctx, token, PasswordChange{OldPassword: oldPassword, NewPassword: newPassword})
	if err != nil {
		c.notices.Emit(notice.Notice{Level: notice.LevelError, Category: notice.CategoryPassword, Message: "password change failed"})
		return err
	}
	c.metrics.Inc(MetricPasswordChanged)
	c.emit(ctx, Event{Type: EventPasswordChanged, Success: true})
	c.notices.Force(notice.Notice{Level: notice.LevelSuccess, Category: notice.CategoryPassword, Message: "password changed"})
	return nil
}

// refreshProfile fetches the profile and adopts it. Errors are logged and
// otherwise ignored.
func (c *Controller) refreshProfile(ctx context.Context, token string) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Controller.RequestTimeout)
	defer cancel()

	profile, err := c.backend.Profile(ctx, token)
	if err != nil || profile == nil {
		c.metrics.Inc(MetricProfileRefreshFailure)
		c.logger.Debug("authkeeper: profile refresh failed", "error", err)
		return
	}
	c.adoptProfile(ctx, token, profile)
}

// adoptProfile installs a fetched profile, but only while token is still
// the session's token. A fetch that finishes after a logout or a re-login
// is discarded and adoptProfile returns false.
func (c *Controller) adoptProfile(ctx context.Context, token string, profile *UserProfile) bool {
	c.mu.Lock()
	if token == "" || c.token != token {
		c.mu.Unlock()
		c.logger.Debug("authkeeper: discarding profile for a replaced session")
		return false
	}
	c.user = profile.Clone()
	c.initialized = true
	c.profileFetchedAt = c.clock.Now()
	// Saved under mu so clearState cannot run between the adopt and the write.
	c.store.SaveProfile(ctx, profile)
	c.mu.Unlock()

	c.metrics.Inc(MetricProfileRefresh)
	c.emit(ctx, Event{Type: EventProfileUpdated, Success: true})
	return true
}

/*
====================================
EVENTS / LIFECYCLE
====================================
*/

// Subscribe returns a channel of state-change events and a cancel func.
// Events are dropped for a subscriber whose buffer is full. Nothing is
// delivered when events are disabled.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	return c.events.subscribe(buffer)
}

// DroppedEvents returns how many events were lost to a full queue or a
// full subscriber.
func (c *Controller) DroppedEvents() uint64 {
	return c.events.Dropped()
}

// CoalescedEvents returns how many repeated logout, cleared or expired
// events were folded into an earlier one.
func (c *Controller) CoalescedEvents() uint64 {
	return c.events.Coalesced()
}

func (c *Controller) emit(ctx context.Context, ev Event) {
	if !c.events.enabled() {
		return
	}
	ev.Timestamp = c.clock.Now()
	if ev.Phase == "" {
		ev.Phase = c.Phase(ctx).String()
	}
	if ev.UserID == "" {
		if u := c.User(); u != nil {
			ev.UserID = u.ID
			ev.Username = u.Username
		}
	}
	if c.recovery != nil {
		ev.InstanceID = c.recovery.InstanceID()
	}
	c.events.Emit(ctx, ev)
}

// Close stops the monitor, every timer and the event bus. The
// persisted credential is kept for the next start.
func (c *Controller) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.StopMonitor()
	if c.recovery != nil {
		c.recovery.Close()
	}
	c.store.Close()
	c.events.Close()
	return nil
}
