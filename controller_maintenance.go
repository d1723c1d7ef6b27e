package authkeeper

import (
	"context"

	"github.com/Rare-Specie/authkeeper/notice"
)

// HandleVisibility reacts to the host becoming hidden or visible. Hiding
// saves a snapshot so a reload can restore the session. Becoming visible
// runs a maintenance pass.
func (c *Controller) HandleVisibility(ctx context.Context, visible bool) {
	if !visible {
		if c.recovery != nil {
			c.recovery.Save(ctx)
		}
		return
	}
	c.maintain(ctx)
}

// HandleFocus runs a maintenance pass when the host regains focus.
func (c *Controller) HandleFocus(ctx context.Context) {
	c.maintain(ctx)
}

// BeforeUnload saves a snapshot while the host is shutting down.
func (c *Controller) BeforeUnload(ctx context.Context) {
	if c.recovery != nil {
		c.recovery.Save(ctx)
	}
}

// Maintain runs one maintenance pass: an invalid credential expires the
// session, a credential near expiry is extended, and a stale profile is
// refetched quietly.
func (c *Controller) Maintain(ctx context.Context) {
	c.maintain(ctx)
}

// maintain never lets a panic reach the caller: visibility, focus and the
// monitor all run it on behalf of the host.
func (c *Controller) maintain(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("authkeeper: maintenance pass panicked", "panic", r)
		}
	}()
	if c.closed.Load() {
		return
	}
	if c.recovery != nil && c.recovery.IsRecovering() {
		return
	}

	c.mu.Lock()
	token := c.token
	initialized := c.initialized
	fetchedAt := c.profileFetchedAt
	c.mu.Unlock()

	if token == "" && !c.store.HasToken() {
		return
	}
	if !c.store.Valid(ctx) {
		c.ExpireSession(ctx)
		return
	}

	if c.store.NeedsRefresh(0) && !c.CheckTokenRefresh(ctx) {
		if c.store.Remaining() <= c.cfg.Controller.ExpiryWarningThreshold {
			c.notices.Emit(notice.Notice{
				Level:    notice.LevelWarning,
				Category: notice.CategoryRefresh,
				Message:  "session is about to expire",
			})
		}
	}

	if !initialized || token == "" {
		return
	}
	if fetchedAt.IsZero() || c.clock.Since(fetchedAt) >= c.cfg.Controller.ProfileRefreshInterval {
		c.refreshProfile(ctx, token)
	}
}

// StartMonitor starts the periodic maintenance ticker. Ticks are skipped
// while the user is on the login route. Calling it twice is a no-op.
func (c *Controller) StartMonitor() {
	c.monitorMu.Lock()
	defer c.monitorMu.Unlock()
	if c.monitorStop != nil || c.closed.Load() {
		return
	}
	stop := make(chan struct{})
	c.monitorStop = stop
	c.monitorWG.Add(1)
	go c.monitor(stop)
}

// StopMonitor stops the ticker and waits for an in-flight pass.
func (c *Controller) StopMonitor() {
	c.monitorMu.Lock()
	stop := c.monitorStop
	c.monitorStop = nil
	c.monitorMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	c.monitorWG.Wait()
}

func (c *Controller) monitor(stop <-chan struct{}) {
	defer c.monitorWG.Done()
	ticker := c.clock.NewTicker(c.cfg.Controller.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if c.Path() == c.cfg.Controller.LoginPath {
				continue
			}
			c.monitorPass()
		}
	}
}

func (c *Controller) monitorPass() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Controller.RequestTimeout)
	defer cancel()
	c.maintain(ctx)
}
