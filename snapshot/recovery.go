package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Rare-Specie/authkeeper/model"
	"github.com/Rare-Specie/authkeeper/notice"
	"github.com/Rare-Specie/authkeeper/storage"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// Config tunes a [Recovery].
type Config struct {
	// TTL is how long a snapshot stays usable.
	TTL time.Duration
	// RestoreWait bounds how long [Recovery.Restore] callers wait.
	RestoreWait time.Duration
	// InitTimeout bounds the controller init run inside a restore.
	InitTimeout time.Duration
	// AutoSaveInterval is the period of the autosave ticker.
	AutoSaveInterval time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		TTL:              time.Hour,
		RestoreWait:      5 * time.Second,
		InitTimeout:      5 * time.Second,
		AutoSaveInterval: time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	if c.RestoreWait <= 0 {
		c.RestoreWait = d.RestoreWait
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = d.InitTimeout
	}
	if c.AutoSaveInterval <= 0 {
		c.AutoSaveInterval = d.AutoSaveInterval
	}
	return c
}

// Credentials is the read side of the credential store.
type Credentials interface {
	Token(ctx context.Context) string
	Valid(ctx context.Context) bool
	HasToken() bool
}

// Controller is the part of the session controller a restore drives.
type Controller interface {
	IsInitialized() bool
	IsAuthenticated(ctx context.Context) bool
	User() *model.UserProfile
	Path() string
	// AwaitInit confirms the session with the backend, or waits for a
	// confirmation already in flight.
	AwaitInit(ctx context.Context) bool
	// AdoptSnapshot pushes a recovered token and profile into the
	// controller and credential store.
	AdoptSnapshot(ctx context.Context, token string, user *model.UserProfile)
}

// Option configures a [Recovery].
type Option func(*Recovery)

// WithClock sets the clock.
func WithClock(c clockwork.Clock) Option {
	return func(r *Recovery) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recovery) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithNotices routes user-facing recovery notices through g.
func WithNotices(g *notice.Gate) Option {
	return func(r *Recovery) { r.notices = g }
}

// Recovery saves and restores session snapshots.
type Recovery struct {
	backend    storage.Backend
	creds      Credentials
	cfg        Config
	clock      clockwork.Clock
	logger     *slog.Logger
	notices    *notice.Gate
	instanceID string

	group singleflight.Group

	mu       sync.Mutex
	ctrl     Controller
	active   int
	idle     chan struct{}
	observer func(ok bool, elapsed time.Duration)
	autoStop chan struct{}
	wg       sync.WaitGroup
}

// New returns a [Recovery]. [Recovery.Attach] must be called before
// restoring.
func New(backend storage.Backend, creds Credentials, cfg Config, opts ...Option) *Recovery {
	if backend == nil {
		backend = storage.NewMemory()
	}
	idle := make(chan struct{})
	close(idle)
	r := &Recovery{
		backend:    backend,
		creds:      creds,
		cfg:        cfg.withDefaults(),
		clock:      clockwork.NewRealClock(),
		logger:     slog.New(slog.DiscardHandler),
		instanceID: uuid.NewString(),
		idle:       idle,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach binds the controller a restore drives.
func (r *Recovery) Attach(c Controller) {
	r.mu.Lock()
	r.ctrl = c
	r.mu.Unlock()
}

// SetObserver registers a callback run after every restore attempt.
func (r *Recovery) SetObserver(fn func(ok bool, elapsed time.Duration)) {
	r.mu.Lock()
	r.observer = fn
	r.mu.Unlock()
}

// InstanceID identifies this process in the snapshots it writes.
func (r *Recovery) InstanceID() string { return r.instanceID }

// Config returns the effective configuration.
func (r *Recovery) Config() Config { return r.cfg }

func (r *Recovery) controller() Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctrl
}

// Save writes the current session. Without a valid token the snapshot is
// removed instead.
func (r *Recovery) Save(ctx context.Context) {
	ctrl := r.controller()
	if ctrl == nil {
		return
	}
	token := r.creds.Token(ctx)
	if token == "" {
		r.Clear(ctx)
		return
	}
	data, err := Encode(Snapshot{
		CapturedAt:  r.clock.Now(),
		Token:       token,
		User:        ctrl.User(),
		Path:        ctrl.Path(),
		Initialized: ctrl.IsInitialized(),
		InstanceID:  r.instanceID,
	})
	if err != nil {
		r.logger.Warn("authkeeper: snapshot encode failed", "error", err)
		return
	}
	if err := r.backend.SetMulti(ctx, map[string]string{Key: string(data)}); err != nil {
		r.logger.Warn("authkeeper: snapshot save failed", "error", err)
	}
}

// Load returns the stored snapshot. A stale or invalid snapshot is removed
// and reported as absent; the error tells which.
func (r *Recovery) Load(ctx context.Context) (*Snapshot, error) {
	raw, ok, err := r.backend.Get(ctx, Key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	snap, err := Decode([]byte(raw))
	if err != nil {
		r.Clear(ctx)
		return nil, err
	}
	if snap.Stale(r.clock.Now(), r.cfg.TTL) {
		r.Clear(ctx)
		return nil, ErrStale
	}
	return &snap, nil
}

// ErrStale is returned by [Recovery.Load] for snapshots older than the TTL.
var ErrStale = errors.New("session snapshot expired")

// Clear removes the snapshot.
func (r *Recovery) Clear(ctx context.Context) {
	if err := r.backend.Delete(ctx, Key); err != nil {
		r.logger.Warn("authkeeper: snapshot clear failed", "error", err)
	}
}

// NeedsRecovery reports whether the controller is uninitialized while a
// token is stored, or a valid credential has no profile loaded.
func (r *Recovery) NeedsRecovery(ctx context.Context) bool {
	ctrl := r.controller()
	if ctrl == nil {
		return false
	}
	if !ctrl.IsInitialized() && r.creds.HasToken() {
		return true
	}
	return r.creds.Valid(ctx) && ctrl.User() == nil
}

// IsRecovering reports whether a restore is in flight.
func (r *Recovery) IsRecovering() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active > 0
}

// WaitForRecovery blocks until no restore is in flight, timeout elapses or
// ctx ends. It reports whether recovery finished.
func (r *Recovery) WaitForRecovery(ctx context.Context, timeout time.Duration) bool {
	r.mu.Lock()
	idle := r.idle
	r.mu.Unlock()

	timer := r.clock.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-idle:
		return true
	case <-timer.Chan():
		return false
	case <-ctx.Done():
		return false
	}
}

func (r *Recovery) enter() {
	r.mu.Lock()
	if r.active == 0 {
		r.idle = make(chan struct{})
	}
	r.active++
	r.mu.Unlock()
}

func (r *Recovery) leave() {
	r.mu.Lock()
	r.active--
	if r.active == 0 {
		close(r.idle)
	}
	r.mu.Unlock()
}

// Restore runs [Recovery.RestoreWithin] with the configured wait.
func (r *Recovery) Restore(ctx context.Context) bool {
	return r.RestoreWithin(ctx, r.cfg.RestoreWait)
}

// RestoreWithin recovers the session from the snapshot. Concurrent callers
// share one restore; each waits at most wait and reports false on timeout.
// The result is whether the controller ended up authenticated.
func (r *Recovery) RestoreWithin(ctx context.Context, wait time.Duration) bool {
	r.enter()
	defer r.leave()

	ch := r.group.DoChan("restore", func() (interface{}, error) {
		r.enter()
		defer r.leave()
		ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.InitTimeout)
		defer cancel()
		return r.restore(ictx), nil
	})

	timer := r.clock.NewTimer(wait)
	defer timer.Stop()
	select {
	case res := <-ch:
		ok, _ := res.Val.(bool)
		return ok
	case <-timer.Chan():
		r.logger.Info("authkeeper: restore wait timed out", "wait", wait)
		return false
	case <-ctx.Done():
		return false
	}
}

func (r *Recovery) restore(ctx context.Context) (ok bool) {
	start := r.clock.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("authkeeper: restore panicked", "panic", p)
			r.Clear(ctx)
			ok = false
		}
		r.mu.Lock()
		observer := r.observer
		r.mu.Unlock()
		if observer != nil {
			observer(ok, r.clock.Since(start))
		}
	}()

	ctrl := r.controller()
	if ctrl == nil {
		return false
	}

	snap, err := r.Load(ctx)
	if err != nil {
		r.logger.Info("authkeeper: snapshot discarded", "error", err)
		return false
	}
	if snap == nil {
		return false
	}

	if snap.Token != "" && !ctrl.IsInitialized() {
		current := r.creds.Token(ctx)
		switch {
		case current == "":
			ctrl.AdoptSnapshot(ctx, snap.Token, snap.User)
		case current != snap.Token:
			// The durable credential is newer than the snapshot.
			r.logger.Debug("authkeeper: snapshot token superseded by stored credential")
		}
		if !ctrl.AwaitInit(ctx) {
			if ctx.Err() != nil {
				r.Clear(ctx)
			}
			return false
		}
	}
	return ctrl.IsAuthenticated(ctx)
}

// AutoRecover restores the session when [Recovery.NeedsRecovery] says so and
// tells the user how it went.
func (r *Recovery) AutoRecover(ctx context.Context) bool {
	ctrl := r.controller()
	if ctrl == nil {
		return false
	}
	if !r.NeedsRecovery(ctx) {
		return ctrl.IsAuthenticated(ctx)
	}

	r.notices.Emit(notice.Notice{Level: notice.LevelInfo, Category: notice.CategoryRecovery, Message: "restoring login state..."})
	if r.Restore(ctx) {
		r.notices.Force(notice.Notice{Level: notice.LevelSuccess, Category: notice.CategoryRecovery, Message: "login state restored"})
		return true
	}
	r.notices.Force(notice.Notice{Level: notice.LevelWarning, Category: notice.CategoryRecovery, Message: "could not restore login state, please log in again"})
	return false
}

// StartAutoSave saves the snapshot every AutoSaveInterval while the session
// is authenticated. Calling it again while running is a no-op.
func (r *Recovery) StartAutoSave() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.autoStop != nil {
		return
	}
	stop := make(chan struct{})
	r.autoStop = stop
	r.wg.Add(1)
	go r.autoSave(stop)
}

// StopAutoSave stops the autosave ticker.
func (r *Recovery) StopAutoSave() {
	r.mu.Lock()
	if r.autoStop != nil {
		close(r.autoStop)
		r.autoStop = nil
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Recovery) autoSave(stop <-chan struct{}) {
	defer r.wg.Done()
	ticker := r.clock.NewTicker(r.cfg.AutoSaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			r.saveTick()
		}
	}
}

func (r *Recovery) saveTick() {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("authkeeper: autosave panicked", "panic", p)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctrl := r.controller()
	if ctrl == nil || !ctrl.IsAuthenticated(ctx) {
		return
	}
	r.Save(ctx)
}

// Close stops background work.
func (r *Recovery) Close() {
	r.StopAutoSave()
}
