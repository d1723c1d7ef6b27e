package authkeeper

import (
	"errors"
	"strings"
	"time"

	"github.com/Rare-Specie/authkeeper/credential"
	"github.com/Rare-Specie/authkeeper/snapshot"
)

// Config holds every tunable of the session lifecycle. Sections mirror the
// components they configure.
type Config struct {
	Credential CredentialConfig
	Snapshot   SnapshotConfig
	Controller ControllerConfig
	Gatekeeper GatekeeperConfig
	Notice     NoticeConfig
	Events     EventsConfig
	Metrics    MetricsConfig
}

/*
====================================
CREDENTIAL CONFIG
====================================
*/

// CredentialConfig configures the credential store.
type CredentialConfig struct {
	// TTL is granted on login and on every local extension.
	TTL              time.Duration
	RefreshThreshold time.Duration
	RefreshLead      time.Duration
	MinRefreshDelay  time.Duration
	LivenessInterval time.Duration
	// RespectTokenExpiry caps the local expiry at the JWT exp claim when the
	// backend issues JWTs.
	RespectTokenExpiry bool
}

/*
====================================
SNAPSHOT CONFIG
====================================
*/

// SnapshotConfig configures reload recovery.
type SnapshotConfig struct {
	Enabled          bool
	TTL              time.Duration
	RestoreWait      time.Duration
	InitTimeout      time.Duration
	AutoSaveInterval time.Duration
}

/*
====================================
CONTROLLER CONFIG
====================================
*/

// ControllerConfig configures the session controller.
type ControllerConfig struct {
	// RefreshDebounce is the minimum gap between two local extensions
	// triggered through CheckTokenRefresh.
	RefreshDebounce time.Duration
	// ProfileRefreshInterval is how stale the profile may get before
	// maintenance refetches it.
	ProfileRefreshInterval time.Duration
	// MonitorInterval is the period of the background monitor.
	MonitorInterval time.Duration
	// ExpiryWarningThreshold is the remaining time under which a failed
	// refresh produces a warning notice.
	ExpiryWarningThreshold time.Duration
	// LoginPath is the public login route.
	LoginPath string
	// RequestTimeout bounds each backend call made by background work.
	RequestTimeout time.Duration
}

/*
====================================
GATEKEEPER CONFIG
====================================
*/

// GatekeeperConfig configures navigation decisions.
type GatekeeperConfig struct {
	// LandingPath is where authenticated users land.
	LandingPath string
	// ReleaseGrace delays releasing the re-entrancy lock.
	ReleaseGrace time.Duration
	// RecoveryWait bounds restore and init during navigation.
	RecoveryWait time.Duration
}

/*
====================================
NOTICE CONFIG
====================================
*/

// NoticeConfig configures user-facing notice debouncing.
type NoticeConfig struct {
	Window               time.Duration
	SessionExpiredWindow time.Duration
}

/*
====================================
EVENTS CONFIG
====================================
*/

// EventsConfig configures asynchronous state-change events.
type EventsConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool

	// CoalesceWindow folds a repeated logout, cleared or expired event
	// into the previous one of the same type. Zero disables folding.
	CoalesceWindow time.Duration
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig configures in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Credential: CredentialConfig{
			TTL:              24 * time.Hour,
			RefreshThreshold: 10 * time.Minute,
			RefreshLead:      5 * time.Minute,
			MinRefreshDelay:  time.Minute,
			LivenessInterval: 30 * time.Second,
		},
		Snapshot: SnapshotConfig{
			Enabled:          true,
			TTL:              time.Hour,
			RestoreWait:      5 * time.Second,
			InitTimeout:      5 * time.Second,
			AutoSaveInterval: time.Minute,
		},
		Controller: ControllerConfig{
			RefreshDebounce:        time.Minute,
			ProfileRefreshInterval: 5 * time.Minute,
			MonitorInterval:        30 * time.Second,
			ExpiryWarningThreshold: 5 * time.Minute,
			LoginPath:              "/",
			RequestTimeout:         10 * time.Second,
		},
		Gatekeeper: GatekeeperConfig{
			LandingPath:  "/main",
			ReleaseGrace: 150 * time.Millisecond,
			RecoveryWait: 2 * time.Second,
		},
		Notice: NoticeConfig{
			Window:               3 * time.Second,
			SessionExpiredWindow: 5 * time.Second,
		},
		Events: EventsConfig{
			Enabled:        true,
			BufferSize:     64,
			DropIfFull:     true,
			CoalesceWindow: time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func (c CredentialConfig) store() credential.Config {
	return credential.Config{
		TTL:              c.TTL,
		RefreshThreshold: c.RefreshThreshold,
		RefreshLead:      c.RefreshLead,
		MinRefreshDelay:  c.MinRefreshDelay,
		LivenessInterval: c.LivenessInterval,
	}
}

func (c SnapshotConfig) recovery() snapshot.Config {
	return snapshot.Config{
		TTL:              c.TTL,
		RestoreWait:      c.RestoreWait,
		InitTimeout:      c.InitTimeout,
		AutoSaveInterval: c.AutoSaveInterval,
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	// Credential
	if c.Credential.TTL <= 0 {
		return errors.New("Credential TTL must be > 0")
	}
	if c.Credential.RefreshThreshold <= 0 || c.Credential.RefreshThreshold >= c.Credential.TTL {
		return errors.New("Credential RefreshThreshold must be > 0 and < TTL")
	}
	if c.Credential.RefreshLead < 0 || c.Credential.RefreshLead >= c.Credential.TTL {
		return errors.New("Credential RefreshLead must be >= 0 and < TTL")
	}
	if c.Credential.MinRefreshDelay <= 0 {
		return errors.New("Credential MinRefreshDelay must be > 0")
	}
	if c.Credential.LivenessInterval <= 0 {
		return errors.New("Credential LivenessInterval must be > 0")
	}

	// Snapshot
	if c.Snapshot.Enabled {
		if c.Snapshot.TTL <= 0 {
			return errors.New("Snapshot TTL must be > 0")
		}
		if c.Snapshot.RestoreWait <= 0 || c.Snapshot.InitTimeout <= 0 {
			return errors.New("Snapshot RestoreWait and InitTimeout must be > 0")
		}
		if c.Snapshot.AutoSaveInterval <= 0 {
			return errors.New("Snapshot AutoSaveInterval must be > 0")
		}
	}

	// Controller
	if c.Controller.RefreshDebounce < 0 {
		return errors.New("Controller RefreshDebounce must be >= 0")
	}
	if c.Controller.ProfileRefreshInterval <= 0 {
		return errors.New("Controller ProfileRefreshInterval must be > 0")
	}
	if c.Controller.MonitorInterval <= 0 {
		return errors.New("Controller MonitorInterval must be > 0")
	}
	if c.Controller.RequestTimeout <= 0 {
		return errors.New("Controller RequestTimeout must be > 0")
	}
	if !strings.HasPrefix(c.Controller.LoginPath, "/") {
		return errors.New("Controller LoginPath must start with /")
	}

	// Gatekeeper
	if !strings.HasPrefix(c.Gatekeeper.LandingPath, "/") {
		return errors.New("Gatekeeper LandingPath must start with /")
	}
	if c.Gatekeeper.LandingPath == c.Controller.LoginPath {
		return errors.New("Gatekeeper LandingPath must differ from LoginPath")
	}
	if c.Gatekeeper.ReleaseGrace < 100*time.Millisecond {
		return errors.New("Gatekeeper ReleaseGrace must be >= 100ms")
	}
	if c.Gatekeeper.RecoveryWait <= 0 {
		return errors.New("Gatekeeper RecoveryWait must be > 0")
	}

	// Notice
	if c.Notice.Window < 0 || c.Notice.SessionExpiredWindow < 0 {
		return errors.New("Notice windows must be >= 0")
	}

	// Events
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return errors.New("Events BufferSize must be > 0 when enabled")
	}
	if c.Events.CoalesceWindow < 0 {
		return errors.New("Events CoalesceWindow must be >= 0")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Enabled")
	}

	return nil
}
