package authkeeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Rare-Specie/authkeeper/credential"
	"github.com/Rare-Specie/authkeeper/jwt"
	"github.com/Rare-Specie/authkeeper/notice"
	"github.com/Rare-Specie/authkeeper/snapshot"
	"github.com/Rare-Specie/authkeeper/storage"
	"github.com/jonboulle/clockwork"
)

// Builder assembles a [Controller] and the components it owns.
//
// Builder instances are configured during initialization and used once.
type Builder struct {
	config Config

	backend   Backend
	durable   storage.Backend
	session   storage.Backend
	clock     clockwork.Clock
	logger    *slog.Logger
	notifier  notice.Notifier
	sink      EventSink
	inspector credential.ExpiryInspector

	built bool
}

// New returns a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithBackend sets the school-manager API client. Required.
func (b *Builder) WithBackend(backend Backend) *Builder {
	b.backend = backend
	return b
}

// WithDurableStorage sets where the credential survives restarts. Without
// it the credential lives in memory only.
func (b *Builder) WithDurableStorage(s storage.Backend) *Builder {
	b.durable = s
	return b
}

// WithSessionStorage sets where session snapshots are kept. Snapshots are
// meant to outlive a reload but not the host session, so this is usually a
// shorter-lived store than the durable one.
func (b *Builder) WithSessionStorage(s storage.Backend) *Builder {
	b.session = s
	return b
}

// WithClock sets the clock shared by every timer. Tests pass a fake clock.
func (b *Builder) WithClock(c clockwork.Clock) *Builder {
	b.clock = c
	return b
}

// WithLogger sets the structured logger.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithNotifier sets the sink for user-facing notices.
func (b *Builder) WithNotifier(n notice.Notifier) *Builder {
	b.notifier = n
	return b
}

// WithEventSink sets the state-change event sink.
func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.sink = sink
	return b
}

// WithInspector overrides the token expiry inspector used when
// RespectTokenExpiry is set.
func (b *Builder) WithInspector(i credential.ExpiryInspector) *Builder {
	b.inspector = i
	return b
}

// WithMetricsEnabled toggles counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the init latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, loads the persisted credential and
// returns a ready controller. Build performs storage reads but no backend
// calls; run [Controller.Init] or a snapshot restore afterwards.
func (b *Builder) Build(ctx context.Context) (*Controller, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}
	if b.backend == nil {
		return nil, ErrBackendRequired
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	durable := b.durable
	if durable == nil {
		durable = storage.NewMemory()
	}
	session := b.session
	if session == nil {
		session = storage.NewMemory()
	}

	gate := notice.NewGate(b.notifier, clock, notice.GateConfig{
		Window: cfg.Notice.Window,
		Overrides: map[notice.Category]time.Duration{
			notice.CategorySessionExpired: cfg.Notice.SessionExpiredWindow,
		},
	}, logger)

	storeOpts := []credential.Option{
		credential.WithClock(clock),
		credential.WithLogger(logger),
	}
	if cfg.Credential.RespectTokenExpiry {
		inspector := b.inspector
		if inspector == nil {
			in, err := jwt.NewInspector(jwt.Config{SigningMethod: jwt.MethodNone})
			if err != nil {
				return nil, fmt.Errorf("authkeeper: token inspector: %w", err)
			}
			inspector = in
		}
		storeOpts = append(storeOpts, credential.WithInspector(inspector))
	}
	store := credential.New(durable, cfg.Credential.store(), storeOpts...)
	store.Load(ctx)

	c := &Controller{
		cfg:     cfg,
		backend: b.backend,
		store:   store,
		notices: gate,
		clock:   clock,
		logger:  logger,
		metrics: NewMetrics(cfg.Metrics),
		events:  newEventBus(cfg.Events, clock, logger, b.sink),
	}
	if cred := store.Peek(); cred.ValidAt(clock.Now()) {
		c.token = cred.Token
	}

	store.SetHooks(credential.Hooks{
		OnExpired: func() {
			c.ExpireSession(context.Background())
		},
		OnExtended: func(credential.Credential) {
			c.refreshMu.Lock()
			c.lastRefreshAt = clock.Now()
			c.refreshMu.Unlock()
			c.metrics.Inc(MetricTokenExtended)
			c.emit(context.Background(), Event{Type: EventTokenExtended, Success: true, Metadata: map[string]string{"source": "timer"}})
		},
	})

	if cfg.Snapshot.Enabled {
		rec := snapshot.New(session, store, cfg.Snapshot.recovery(),
			snapshot.WithClock(clock),
			snapshot.WithLogger(logger),
			snapshot.WithNotices(gate),
		)
		rec.Attach(c)
		rec.SetObserver(func(ok bool, elapsed time.Duration) {
			if ok {
				c.metrics.Inc(MetricRestoreSuccess)
			} else {
				c.metrics.Inc(MetricRestoreFailure)
			}
			c.emit(context.Background(), Event{
				Type:     EventRestored,
				Success:  ok,
				Metadata: map[string]string{"elapsed": elapsed.String()},
			})
		})
		c.recovery = rec
	}

	b.built = true
	logger.Debug("authkeeper: controller built", "has_token", c.token != "", "snapshots", cfg.Snapshot.Enabled)
	return c, nil
}
