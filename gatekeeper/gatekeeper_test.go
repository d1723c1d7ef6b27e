package gatekeeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Rare-Specie/authkeeper/model"
	"github.com/Rare-Specie/authkeeper/notice"
	"github.com/jonboulle/clockwork"
)

type fakeSession struct {
	mu           sync.Mutex
	phase        model.Phase
	user         *model.UserProfile
	stored       bool
	initResult   bool
	initEntered  chan struct{}
	initRelease  chan struct{}
	panicOnPhase bool

	initCalls    int
	refreshCalls int
	clearCalls   int
}

func (s *fakeSession) Phase(context.Context) model.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicOnPhase {
		panic("phase exploded")
	}
	return s.phase
}

func (s *fakeSession) AwaitInit(ctx context.Context) bool {
	s.mu.Lock()
	s.initCalls++
	entered, release := s.initEntered, s.initRelease
	s.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return false
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initResult {
		s.phase = model.PhaseReady
	}
	return s.initResult
}

func (s *fakeSession) CheckTokenRefresh(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshCalls++
	return false
}

func (s *fakeSession) ClearState(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearCalls++
	s.phase = model.PhaseAnonymous
	s.stored = false
	s.user = nil
}

func (s *fakeSession) User() *model.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user.Clone()
}

func (s *fakeSession) HasStoredToken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stored
}

func (s *fakeSession) counts() (initCalls, refreshCalls, clearCalls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initCalls, s.refreshCalls, s.clearCalls
}

type fakeRecovery struct {
	session    *fakeSession
	recovering bool
	needs      bool
	succeed    bool

	mu       sync.Mutex
	waits    int
	restores int
}

func (r *fakeRecovery) IsRecovering() bool                 { return r.recovering }
func (r *fakeRecovery) NeedsRecovery(context.Context) bool { return r.needs }

func (r *fakeRecovery) WaitForRecovery(context.Context, time.Duration) bool {
	r.mu.Lock()
	r.waits++
	r.mu.Unlock()
	r.finish()
	return true
}

func (r *fakeRecovery) RestoreWithin(context.Context, time.Duration) bool {
	r.mu.Lock()
	r.restores++
	r.mu.Unlock()
	r.finish()
	return r.succeed
}

func (r *fakeRecovery) finish() {
	if !r.succeed {
		return
	}
	r.session.mu.Lock()
	r.session.phase = model.PhaseReady
	r.session.user = &model.UserProfile{ID: "u1", Role: model.RoleTeacher}
	r.session.mu.Unlock()
}

var (
	loginRoute   = Route{Path: "/", Name: "login"}
	landingRoute = Route{Path: "/main", Name: "main", RequiresAuth: true}
	gradesRoute  = Route{Path: "/main/grades/input", Name: "grade-input", RequiresAuth: true, Roles: []model.Role{model.RoleAdmin, model.RoleTeacher}}
)

func newTestGatekeeper(s Session, rec Recoverer) (*Gatekeeper, *notice.Recorder, clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	notices := &notice.Recorder{}
	gate := notice.NewGate(notices, clock, notice.GateConfig{Window: 3 * time.Second}, nil)
	g := New(s, rec, DefaultConfig(), WithClock(clock), WithNotices(gate))
	return g, notices, clock
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name       string
		session    *fakeSession
		nav        Navigation
		wantAction Action
		wantTarget string
		wantNotice notice.Category
		wantClear  int
	}{
		{
			name:       "ready enters protected route",
			session:    &fakeSession{phase: model.PhaseReady, user: &model.UserProfile{ID: "u1", Role: model.RoleStudent}},
			nav:        Navigation{From: loginRoute, To: landingRoute},
			wantAction: ActionAllow,
		},
		{
			name:       "uninitialized waits for init",
			session:    &fakeSession{phase: model.PhaseUninitialized, stored: true, initResult: true},
			nav:        Navigation{From: loginRoute, To: landingRoute},
			wantAction: ActionAllow,
		},
		{
			name:       "failed init clears and redirects",
			session:    &fakeSession{phase: model.PhaseUninitialized, stored: true},
			nav:        Navigation{From: loginRoute, To: landingRoute},
			wantAction: ActionRedirect,
			wantTarget: "/",
			wantNotice: notice.CategoryLoginRequired,
			wantClear:  1,
		},
		{
			name:       "anonymous without token goes to login",
			session:    &fakeSession{phase: model.PhaseAnonymous},
			nav:        Navigation{From: loginRoute, To: landingRoute},
			wantAction: ActionRedirect,
			wantTarget: "/",
			wantNotice: notice.CategoryLoginRequired,
		},
		{
			name:       "anonymous with stored token recovers through init",
			session:    &fakeSession{phase: model.PhaseAnonymous, stored: true, initResult: true},
			nav:        Navigation{From: loginRoute, To: landingRoute},
			wantAction: ActionAllow,
		},
		{
			name:       "authenticated user never sees login",
			session:    &fakeSession{phase: model.PhaseReady},
			nav:        Navigation{From: landingRoute, To: loginRoute},
			wantAction: ActionRedirect,
			wantTarget: "/main",
		},
		{
			name:       "anonymous user sees login",
			session:    &fakeSession{phase: model.PhaseAnonymous},
			nav:        Navigation{To: loginRoute},
			wantAction: ActionAllow,
		},
		{
			name:       "role outside route roles is sent to landing",
			session:    &fakeSession{phase: model.PhaseReady, user: &model.UserProfile{ID: "u2", Role: model.RoleStudent}},
			nav:        Navigation{From: landingRoute, To: gradesRoute},
			wantAction: ActionRedirect,
			wantTarget: "/main",
			wantNotice: notice.CategoryForbidden,
		},
		{
			name:       "staff role enters grade input",
			session:    &fakeSession{phase: model.PhaseReady, user: &model.UserProfile{ID: "u3", Role: model.RoleTeacher}},
			nav:        Navigation{From: landingRoute, To: gradesRoute},
			wantAction: ActionAllow,
		},
		{
			name:       "redirect onto the target collapses to allow",
			session:    &fakeSession{phase: model.PhaseReady},
			nav:        Navigation{To: Route{Path: "/main"}},
			wantAction: ActionAllow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, notices, _ := newTestGatekeeper(tt.session, nil)
			d := g.Decide(context.Background(), tt.nav)
			g.Wait()

			if d.Action != tt.wantAction || d.Target != tt.wantTarget {
				t.Fatalf("got %s %q, want %s %q (reason %s)", d.Action, d.Target, tt.wantAction, tt.wantTarget, d.Reason)
			}
			if tt.wantNotice != "" {
				if d.Notice == nil || d.Notice.Category != tt.wantNotice {
					t.Fatalf("expected %s notice, got %+v", tt.wantNotice, d.Notice)
				}
				if notices.Count(tt.wantNotice) != 1 {
					t.Fatalf("expected notice to be delivered once, got %v", notices.Notices())
				}
			} else if d.Notice != nil {
				t.Fatalf("unexpected notice %+v", d.Notice)
			}
			if _, _, clears := tt.session.counts(); clears != tt.wantClear {
				t.Fatalf("expected %d clears, got %d", tt.wantClear, clears)
			}
		})
	}
}

func TestReadySessionRefreshesInBackground(t *testing.T) {
	s := &fakeSession{phase: model.PhaseReady}
	g, _, _ := newTestGatekeeper(s, nil)

	g.Decide(context.Background(), Navigation{To: landingRoute})
	g.Wait()

	if _, refreshes, _ := s.counts(); refreshes != 1 {
		t.Fatalf("expected one background refresh, got %d", refreshes)
	}
}

func TestAnonymousPublicRouteRecoversInBackground(t *testing.T) {
	s := &fakeSession{phase: model.PhaseAnonymous, stored: true, initResult: true}
	g, _, _ := newTestGatekeeper(s, nil)

	d := g.Decide(context.Background(), Navigation{To: loginRoute})
	if d.Action != ActionAllow {
		t.Fatalf("public route must not wait on recovery, got %s", d.Action)
	}
	g.Wait()
	if inits, _, _ := s.counts(); inits != 1 {
		t.Fatalf("expected background init, got %d calls", inits)
	}
}

func TestAnonymousUsesSnapshotRecovery(t *testing.T) {
	s := &fakeSession{phase: model.PhaseAnonymous}
	rec := &fakeRecovery{session: s, needs: true, succeed: true}
	g, _, _ := newTestGatekeeper(s, rec)

	d := g.Decide(context.Background(), Navigation{From: loginRoute, To: landingRoute})
	if d.Action != ActionAllow {
		t.Fatalf("expected restored session to enter, got %s %q", d.Action, d.Target)
	}
	if rec.restores != 1 || rec.waits != 0 {
		t.Fatalf("expected one restore, got restores=%d waits=%d", rec.restores, rec.waits)
	}
}

func TestAnonymousWaitsForRunningRecovery(t *testing.T) {
	s := &fakeSession{phase: model.PhaseAnonymous}
	rec := &fakeRecovery{session: s, recovering: true, succeed: true}
	g, _, _ := newTestGatekeeper(s, rec)

	d := g.Decide(context.Background(), Navigation{To: landingRoute})
	if d.Action != ActionAllow {
		t.Fatalf("expected allow after waiting, got %s", d.Action)
	}
	if rec.waits != 1 || rec.restores != 0 {
		t.Fatalf("expected to wait, not restore: waits=%d restores=%d", rec.waits, rec.restores)
	}
}

func TestFailedRecoveryRedirectsToLogin(t *testing.T) {
	s := &fakeSession{phase: model.PhaseAnonymous}
	rec := &fakeRecovery{session: s, needs: true}
	g, _, _ := newTestGatekeeper(s, rec)

	d := g.Decide(context.Background(), Navigation{To: landingRoute})
	if d.Action != ActionRedirect || d.Target != "/" {
		t.Fatalf("expected login redirect, got %s %q", d.Action, d.Target)
	}
	if inits, _, _ := s.counts(); inits != 0 {
		t.Fatalf("no stored token, init must not run: %d", inits)
	}
}

func TestConcurrentNavigationFailsOpen(t *testing.T) {
	s := &fakeSession{
		phase:       model.PhaseUninitialized,
		stored:      true,
		initResult:  true,
		initEntered: make(chan struct{}),
		initRelease: make(chan struct{}),
	}
	g, _, clock := newTestGatekeeper(s, nil)

	first := make(chan Decision, 1)
	go func() {
		first <- g.Decide(context.Background(), Navigation{To: landingRoute})
	}()
	<-s.initEntered

	d := g.Decide(context.Background(), Navigation{To: gradesRoute})
	if d.Action != ActionAllow || !d.FailedOpen {
		t.Fatalf("expected fail-open allow, got %+v", d)
	}

	close(s.initRelease)
	if got := <-first; got.Action != ActionAllow {
		t.Fatalf("first decision: %+v", got)
	}
	if !g.Busy() {
		t.Fatal("lock must be held during the release grace")
	}

	clock.BlockUntil(1)
	clock.Advance(150 * time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for g.Busy() {
		if time.Now().After(deadline) {
			t.Fatal("lock was not released after the grace delay")
		}
		time.Sleep(time.Millisecond)
	}

	if d := g.Decide(context.Background(), Navigation{To: landingRoute}); d.FailedOpen {
		t.Fatal("navigation after release must be decided normally")
	}
}

func TestResetReleasesLockAndIgnoresStaleTimer(t *testing.T) {
	s := &fakeSession{phase: model.PhaseReady}
	g, _, clock := newTestGatekeeper(s, nil)

	g.Decide(context.Background(), Navigation{To: landingRoute})
	g.Reset()
	if g.Busy() {
		t.Fatal("reset must release the lock")
	}

	gen, ok := g.lock.tryAcquire()
	if !ok {
		t.Fatal("expected to acquire after reset")
	}
	clock.BlockUntil(1)
	clock.Advance(time.Second)
	time.Sleep(10 * time.Millisecond)
	if !g.Busy() {
		t.Fatal("stale release timer must not free a newer holder")
	}
	g.lock.release(gen)
	g.Wait()
}

func TestResolveRecoversPanic(t *testing.T) {
	s := &fakeSession{panicOnPhase: true}
	g, notices, _ := newTestGatekeeper(s, nil)

	d := g.Resolve(context.Background(), Navigation{To: landingRoute})
	if d.Action != ActionError {
		t.Fatalf("expected error decision, got %s", d.Action)
	}
	if notices.Count(notice.CategoryNavigation) != 1 {
		t.Fatalf("expected a page failed to load notice, got %v", notices.Notices())
	}
}

func TestConfigGraceFloor(t *testing.T) {
	g := New(&fakeSession{}, nil, Config{ReleaseGrace: 10 * time.Millisecond})
	if got := g.Config().ReleaseGrace; got != 100*time.Millisecond {
		t.Fatalf("expected grace to be raised to 100ms, got %v", got)
	}
}

func TestObserverSeesEveryDecision(t *testing.T) {
	var mu sync.Mutex
	var seen []Decision
	g := New(&fakeSession{phase: model.PhaseAnonymous}, nil, DefaultConfig(),
		WithClock(clockwork.NewFakeClock()),
		WithObserver(func(_ Navigation, d Decision) {
			mu.Lock()
			seen = append(seen, d)
			mu.Unlock()
		}))

	g.Decide(context.Background(), Navigation{To: landingRoute})
	g.Decide(context.Background(), Navigation{To: landingRoute})

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0].Action != ActionRedirect || !seen[1].FailedOpen {
		t.Fatalf("unexpected observed decisions %+v", seen)
	}
}
