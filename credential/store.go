package credential

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Rare-Specie/authkeeper/model"
	"github.com/Rare-Specie/authkeeper/storage"
	"github.com/jonboulle/clockwork"
)

// Storage keys. They are written and cleared together.
const (
	KeyToken   = "token"
	KeyExpiry  = "token_expiry"
	KeyRefresh = "token_refresh"
	KeyProfile = "user_info"
)

// ExpiryLayout is the persisted format of token_expiry (ISO-8601 with ms).
const ExpiryLayout = "2006-01-02T15:04:05.000Z07:00"

// Config tunes a [Store].
type Config struct {
	// TTL is the validity window granted on login and on every extension.
	TTL time.Duration
	// RefreshThreshold is the default window for [Store.NeedsRefresh].
	RefreshThreshold time.Duration
	// RefreshLead is how long before expiry the self-refresh fires.
	RefreshLead time.Duration
	// MinRefreshDelay is the floor for the self-refresh delay.
	MinRefreshDelay time.Duration
	// LivenessInterval is the period of the liveness check.
	LivenessInterval time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		TTL:              24 * time.Hour,
		RefreshThreshold: 10 * time.Minute,
		RefreshLead:      5 * time.Minute,
		MinRefreshDelay:  time.Minute,
		LivenessInterval: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	if c.RefreshThreshold <= 0 {
		c.RefreshThreshold = d.RefreshThreshold
	}
	if c.RefreshLead < 0 {
		c.RefreshLead = d.RefreshLead
	}
	if c.MinRefreshDelay <= 0 {
		c.MinRefreshDelay = d.MinRefreshDelay
	}
	if c.LivenessInterval <= 0 {
		c.LivenessInterval = d.LivenessInterval
	}
	return c
}

// Credential is a token with its absolute expiry.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// ValidAt reports whether c is usable at now.
func (c Credential) ValidAt(now time.Time) bool {
	return c.Token != "" && now.Before(c.ExpiresAt)
}

// ExpiryInspector reads an expiry embedded in the token itself. When it
// reports one earlier than now+ttl, the store uses it instead.
type ExpiryInspector interface {
	ExpiresAt(token string) (time.Time, bool)
}

// Hooks are invoked outside the store lock from timer goroutines.
type Hooks struct {
	// OnExpired runs when the liveness check finds a present token expired.
	OnExpired func()
	// OnExtended runs after a background self-refresh extended the expiry.
	OnExtended func(Credential)
}

// Option configures a [Store].
type Option func(*Store)

// WithClock sets the clock used for expiry and timers.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithInspector caps local expiry at the token's own exp claim.
func WithInspector(i ExpiryInspector) Option {
	return func(s *Store) { s.inspector = i }
}

// Store is the credential store. It is safe for concurrent use.
type Store struct {
	backend   storage.Backend
	cfg       Config
	clock     clockwork.Clock
	logger    *slog.Logger
	inspector ExpiryInspector

	mu           sync.Mutex
	cred         Credential
	refreshToken string
	refreshTimer clockwork.Timer
	stopLiveness chan struct{}
	hooks        Hooks
	closed       bool

	wg sync.WaitGroup
}

// New returns a store over backend. Call [Store.Load] to pick up a persisted
// credential.
func New(backend storage.Backend, cfg Config, opts ...Option) *Store {
	if backend == nil {
		backend = storage.NewMemory()
	}
	s := &Store{
		backend: backend,
		cfg:     cfg.withDefaults(),
		clock:   clockwork.NewRealClock(),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetHooks replaces the timer hooks.
func (s *Store) SetHooks(h Hooks) {
	s.mu.Lock()
	s.hooks = h
	s.mu.Unlock()
}

// Config returns the effective configuration.
func (s *Store) Config() Config { return s.cfg }

// Load reads the persisted credential. A missing half or an unparsable expiry
// clears what is stored. An expired pair is kept in memory so the next
// validity read evicts it. A valid pair gets its timers scheduled for the
// remaining time.
func (s *Store) Load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, hasToken, err := s.backend.Get(ctx, KeyToken)
	if err != nil {
		s.logger.Warn("authkeeper: credential load failed", "error", err)
		return
	}
	rawExpiry, hasExpiry, err := s.backend.Get(ctx, KeyExpiry)
	if err != nil {
		s.logger.Warn("authkeeper: credential load failed", "error", err)
		return
	}
	if !hasToken && !hasExpiry {
		return
	}
	if !hasToken || !hasExpiry || token == "" {
		s.logger.Info("authkeeper: discarding partial credential")
		s.clearLocked(ctx)
		return
	}
	expiresAt, err := time.Parse(ExpiryLayout, rawExpiry)
	if err != nil {
		if expiresAt, err = time.Parse(time.RFC3339Nano, rawExpiry); err != nil {
			s.logger.Info("authkeeper: discarding credential with malformed expiry", "value", rawExpiry)
			s.clearLocked(ctx)
			return
		}
	}

	refresh, _, err := s.backend.Get(ctx, KeyRefresh)
	if err != nil {
		s.logger.Warn("authkeeper: refresh token load failed", "error", err)
	}

	s.cred = Credential{Token: token, ExpiresAt: expiresAt}
	s.refreshToken = refresh

	if s.cred.ValidAt(s.clock.Now()) {
		s.scheduleLocked()
	}
}

// Set stores token valid for ttl (the configured TTL when ttl <= 0). An
// empty token clears the store. refreshToken is persisted when non-empty.
func (s *Store) Set(ctx context.Context, token string, ttl time.Duration, refreshToken string) {
	s.SetWithProfile(ctx, token, ttl, refreshToken, nil)
}

// SetWithProfile is [Store.Set] that also writes the cached profile in the
// same storage write.
func (s *Store) SetWithProfile(ctx context.Context, token string, ttl time.Duration, refreshToken string, profile *model.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token == "" {
		s.clearLocked(ctx)
		return
	}
	s.setLocked(ctx, token, ttl, refreshToken, profile)
}

func (s *Store) setLocked(ctx context.Context, token string, ttl time.Duration, refreshToken string, profile *model.UserProfile) {
	if ttl <= 0 {
		ttl = s.cfg.TTL
	}
	now := s.clock.Now()
	expiresAt := now.Add(ttl)
	if s.inspector != nil {
		if exp, ok := s.inspector.ExpiresAt(token); ok && exp.Before(expiresAt) {
			expiresAt = exp
		}
	}

	s.cred = Credential{Token: token, ExpiresAt: expiresAt}
	if refreshToken != "" {
		s.refreshToken = refreshToken
	}

	values := map[string]string{
		KeyToken:  token,
		KeyExpiry: expiresAt.UTC().Format(ExpiryLayout),
	}
	if refreshToken != "" {
		values[KeyRefresh] = refreshToken
	}
	if profile != nil {
		if b, err := json.Marshal(profile); err == nil {
			values[KeyProfile] = string(b)
		}
	}
	if err := s.backend.SetMulti(ctx, values); err != nil {
		s.logger.Warn("authkeeper: credential persist failed", "error", err)
	}

	if s.cred.ValidAt(now) {
		s.scheduleLocked()
	}
}

// Token returns the token if valid. An invalid credential is cleared.
func (s *Store) Token(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evictLocked(ctx) {
		return ""
	}
	return s.cred.Token
}

// Valid reports whether the credential is valid. An invalid credential is
// cleared.
func (s *Store) Valid(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.evictLocked(ctx) && s.cred.Token != ""
}

// evictLocked clears a present but invalid credential and reports whether
// it did.
func (s *Store) evictLocked(ctx context.Context) bool {
	if s.cred.Token == "" {
		return false
	}
	if s.cred.ValidAt(s.clock.Now()) {
		return false
	}
	s.logger.Debug("authkeeper: evicting expired credential")
	s.clearLocked(ctx)
	return true
}

// Peek returns the in-memory credential without evicting it.
func (s *Store) Peek() Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred
}

// HasToken reports whether any token is held, valid or not.
func (s *Store) HasToken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred.Token != ""
}

// RefreshToken returns the stored refresh token, if any.
func (s *Store) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshToken
}

// Remaining returns the time left before expiry, never negative.
func (s *Store) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remainingLocked(s.clock.Now())
}

func (s *Store) remainingLocked(now time.Time) time.Duration {
	if s.cred.Token == "" {
		return 0
	}
	r := s.cred.ExpiresAt.Sub(now)
	if r < 0 {
		return 0
	}
	return r
}

// NeedsRefresh reports whether 0 < remaining < threshold. A threshold <= 0
// uses the configured RefreshThreshold.
func (s *Store) NeedsRefresh(threshold time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needsRefreshLocked(s.clock.Now(), threshold)
}

func (s *Store) needsRefreshLocked(now time.Time, threshold time.Duration) bool {
	if threshold <= 0 {
		threshold = s.cfg.RefreshThreshold
	}
	r := s.remainingLocked(now)
	return r > 0 && r < threshold
}

// Extend re-sets a valid token with the full TTL. It reports whether the
// expiry moved. This is a local extension only.
func (s *Store) Extend(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evictLocked(ctx) || s.cred.Token == "" {
		return false
	}
	before := s.cred.ExpiresAt
	s.setLocked(ctx, s.cred.Token, s.cfg.TTL, "", nil)
	return s.cred.ExpiresAt.After(before)
}

// RefreshIfNeeded extends the credential when it is valid and inside the
// refresh threshold.
func (s *Store) RefreshIfNeeded(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if !s.cred.ValidAt(now) || !s.needsRefreshLocked(now, 0) {
		return false
	}
	before := s.cred.ExpiresAt
	s.setLocked(ctx, s.cred.Token, s.cfg.TTL, "", nil)
	return s.cred.ExpiresAt.After(before)
}

// Clear erases the credential, refresh token and cached profile and stops
// both timers. Calling it again is a no-op apart from the storage delete.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked(ctx)
}

func (s *Store) clearLocked(ctx context.Context) {
	s.cred = Credential{}
	s.refreshToken = ""
	s.stopTimersLocked()
	if err := s.backend.Delete(ctx, KeyToken, KeyExpiry, KeyRefresh, KeyProfile); err != nil {
		s.logger.Warn("authkeeper: credential clear failed", "error", err)
	}
}

// SaveProfile writes the cached profile. A nil profile removes it.
func (s *Store) SaveProfile(ctx context.Context, p *model.UserProfile) {
	if p == nil {
		if err := s.backend.Delete(ctx, KeyProfile); err != nil {
			s.logger.Warn("authkeeper: profile clear failed", "error", err)
		}
		return
	}
	b, err := json.Marshal(p)
	if err != nil {
		s.logger.Warn("authkeeper: profile encode failed", "error", err)
		return
	}
	if err := s.backend.SetMulti(ctx, map[string]string{KeyProfile: string(b)}); err != nil {
		s.logger.Warn("authkeeper: profile persist failed", "error", err)
	}
}

// LoadProfile returns the cached profile. A corrupt entry is deleted and
// reported as absent.
func (s *Store) LoadProfile(ctx context.Context) *model.UserProfile {
	raw, ok, err := s.backend.Get(ctx, KeyProfile)
	if err != nil {
		s.logger.Warn("authkeeper: profile load failed", "error", err)
		return nil
	}
	if !ok || raw == "" {
		return nil
	}
	var p model.UserProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil || p.ID == "" {
		s.logger.Info("authkeeper: discarding corrupt cached profile")
		if err := s.backend.Delete(ctx, KeyProfile); err != nil {
			s.logger.Warn("authkeeper: profile clear failed", "error", err)
		}
		return nil
	}
	return &p
}

// Close stops all timers and waits for the liveness goroutine. The
// credential itself is left in place.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.stopTimersLocked()
	s.mu.Unlock()
	s.wg.Wait()
}
