package gatekeeper

import (
	"github.com/Rare-Specie/authkeeper"
)

// ForController returns a gatekeeper wired to c: its config, clock,
// logger, notice gate, snapshot recovery and navigation metrics.
func ForController(c *authkeeper.Controller, opts ...Option) *Gatekeeper {
	cfg := c.Config()
	gcfg := Config{
		LoginPath:    cfg.Controller.LoginPath,
		LandingPath:  cfg.Gatekeeper.LandingPath,
		ReleaseGrace: cfg.Gatekeeper.ReleaseGrace,
		RecoveryWait: cfg.Gatekeeper.RecoveryWait,
		InitTimeout:  cfg.Snapshot.InitTimeout,
	}

	var rec Recoverer
	if r := c.Recovery(); r != nil {
		rec = r
	}

	metrics := c.Metrics()
	base := []Option{
		WithClock(c.Clock()),
		WithLogger(c.Logger()),
		WithNotices(c.Notices()),
		WithObserver(func(nav Navigation, d Decision) {
			switch {
			case d.FailedOpen:
				metrics.Inc(authkeeper.MetricNavigationFailOpen)
			case d.Action == ActionError:
				metrics.Inc(authkeeper.MetricNavigationError)
			case d.Action == ActionRedirect:
				metrics.Inc(authkeeper.MetricNavigationRedirected)
			default:
				metrics.Inc(authkeeper.MetricNavigationAllowed)
			}
			if d.Action != ActionRedirect {
				c.SetPath(nav.To.Path)
			}
		}),
	}
	return New(c, rec, gcfg, append(base, opts...)...)
}
