package credential

import (
	"context"
	"time"
)

// scheduleLocked arms the one-shot self-refresh for the current credential
// and makes sure the liveness ticker runs.
func (s *Store) scheduleLocked() {
	if s.closed {
		return
	}
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
	}
	delay := s.remainingLocked(s.clock.Now()) - s.cfg.RefreshLead
	if delay < s.cfg.MinRefreshDelay {
		delay = s.cfg.MinRefreshDelay
	}
	s.refreshTimer = s.clock.AfterFunc(delay, func() { s.tick("refresh") })

	if s.stopLiveness == nil {
		stop := make(chan struct{})
		s.stopLiveness = stop
		s.wg.Add(1)
		go s.liveness(stop)
	}
}

func (s *Store) stopTimersLocked() {
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
	if s.stopLiveness != nil {
		close(s.stopLiveness)
		s.stopLiveness = nil
	}
}

func (s *Store) liveness(stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := s.clock.NewTicker(s.cfg.LivenessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			s.tick("liveness")
		}
	}
}

// tick is the shared body of the self-refresh timer and the liveness check:
// an expired credential is cleared and reported, one inside the refresh
// threshold is extended to the full TTL.
func (s *Store) tick(source string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("authkeeper: credential tick panicked", "source", source, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.mu.Lock()
	if s.closed || s.cred.Token == "" {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	if !s.cred.ValidAt(now) {
		s.logger.Info("authkeeper: credential expired", "source", source)
		s.clearLocked(ctx)
		onExpired := s.hooks.OnExpired
		s.mu.Unlock()
		if onExpired != nil {
			onExpired()
		}
		return
	}
	if !s.needsRefreshLocked(now, 0) {
		s.mu.Unlock()
		return
	}
	s.setLocked(ctx, s.cred.Token, s.cfg.TTL, "", nil)
	cred := s.cred
	onExtended := s.hooks.OnExtended
	s.mu.Unlock()

	s.logger.Debug("authkeeper: credential extended", "source", source, "expires_at", cred.ExpiresAt)
	if onExtended != nil {
		onExtended(cred)
	}
}
