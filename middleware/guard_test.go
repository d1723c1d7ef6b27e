package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/Rare-Specie/authkeeper/gatekeeper"
	"github.com/Rare-Specie/authkeeper/model"
	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
)

type staticSession struct {
	phase model.Phase
	role  model.Role
}

func (s staticSession) Phase(context.Context) model.Phase { return s.phase }
func (s staticSession) AwaitInit(context.Context) bool    { return false }
func (s staticSession) CheckTokenRefresh(context.Context) bool {
	return false
}
func (s staticSession) ClearState(context.Context) {}
func (s staticSession) User() *model.UserProfile {
	if s.phase != model.PhaseReady {
		return nil
	}
	return &model.UserProfile{ID: "u1", Role: s.role}
}
func (s staticSession) HasStoredToken() bool { return false }

func newRouter(s gatekeeper.Session) http.Handler {
	gk := gatekeeper.New(s, nil, gatekeeper.DefaultConfig(), gatekeeper.WithClock(clockwork.NewFakeClock()))
	r := chi.NewRouter()
	r.Use(Guard(gk, gatekeeper.DefaultRoutes()))
	ok := func(w http.ResponseWriter, r *http.Request) {
		d, _ := DecisionFromContext(r.Context())
		_, _ = w.Write([]byte(d.Reason))
	}
	r.Get("/", ok)
	r.Get("/main", ok)
	r.Get("/main/admin/users", ok)
	return r
}

func TestGuardRedirectsAnonymousToLogin(t *testing.T) {
	h := newRouter(staticSession{phase: model.PhaseAnonymous})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/main", nil))

	if rr.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", rr.Code)
	}
	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	if loc.Path != "/" || loc.Query().Get(NoticeParam) != "please log in" {
		t.Fatalf("unexpected location %q", loc)
	}
}

func TestGuardAdmitsReadySession(t *testing.T) {
	h := newRouter(staticSession{phase: model.PhaseReady, role: model.RoleAdmin})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/main/admin/users", nil))

	if rr.Code != http.StatusOK || rr.Body.String() != "authorized" {
		t.Fatalf("expected admitted request, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestRequireRouteUsesFixedRoute(t *testing.T) {
	gk := gatekeeper.New(staticSession{phase: model.PhaseReady, role: model.RoleStudent}, nil,
		gatekeeper.DefaultConfig(), gatekeeper.WithClock(clockwork.NewFakeClock()))
	h := RequireRoute(gk, gatekeeper.Route{Path: "/main/admin", RequiresAuth: true, Roles: []model.Role{model.RoleAdmin}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("student must not reach admin handler")
		}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/anything", nil))
	if rr.Code != http.StatusFound || rr.Header().Get("Location") == "" {
		t.Fatalf("expected redirect to landing, got %d", rr.Code)
	}
}

func TestGuardWithoutGatekeeper(t *testing.T) {
	h := Guard(nil, gatekeeper.DefaultRoutes())(http.NotFoundHandler())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/main", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}
