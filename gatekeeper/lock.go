package gatekeeper

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// reentryLock is an advisory, fail-open lock. Holders release it after a
// grace delay; a release only applies to the generation that scheduled it,
// so a forced Reset is never undone by a stale timer.
type reentryLock struct {
	clock clockwork.Clock

	mu   sync.Mutex
	held bool
	gen  uint64
}

func (l *reentryLock) tryAcquire() (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return 0, false
	}
	l.held = true
	l.gen++
	return l.gen, true
}

func (l *reentryLock) releaseAfter(gen uint64, grace time.Duration) {
	if grace <= 0 {
		l.release(gen)
		return
	}
	l.clock.AfterFunc(grace, func() { l.release(gen) })
}

func (l *reentryLock) release(gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen == gen {
		l.held = false
	}
}

func (l *reentryLock) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.gen++
}

func (l *reentryLock) isHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}
