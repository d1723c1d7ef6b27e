package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rare-Specie/authkeeper/notice"
	"github.com/jonboulle/clockwork"
)

type fakeSession struct {
	mu          sync.Mutex
	token       string
	initialized bool

	inits    int
	refresh  int
	clears   int
	expiries int
}

func (s *fakeSession) Token(context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *fakeSession) HasStoredToken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != ""
}

func (s *fakeSession) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *fakeSession) Init(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inits++
	s.initialized = true
	return true
}

func (s *fakeSession) CheckTokenRefresh(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh++
	return false
}

func (s *fakeSession) ClearState(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	s.token = ""
	s.initialized = false
}

func (s *fakeSession) ExpireSession(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiries++
	s.token = ""
	s.initialized = false
}

type backend struct {
	mu      sync.Mutex
	status  map[string]int
	body    map[string]string
	headers []http.Header
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.headers = append(b.headers, r.Header.Clone())
	status, ok := b.status[r.URL.Path]
	body := b.body[r.URL.Path]
	b.mu.Unlock()
	if !ok {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func (b *backend) lastHeader() http.Header {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.headers[len(b.headers)-1]
}

func newClient(t *testing.T, s Session, b *backend) (*http.Client, string, *notice.Recorder) {
	t.Helper()
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	rec := &notice.Recorder{}
	gate := notice.NewGate(rec, clockwork.NewFakeClock(), notice.GateConfig{
		Window:    3 * time.Second,
		Overrides: map[notice.Category]time.Duration{notice.CategorySessionExpired: 5 * time.Second},
	}, nil)
	client := &http.Client{Transport: New(srv.Client().Transport, s, WithNotices(gate))}
	return client, srv.URL + "/api", rec
}

func get(t *testing.T, c *http.Client, url string) *http.Response {
	t.Helper()
	resp, err := c.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAttachesBearerAndWarmsUp(t *testing.T) {
	s := &fakeSession{token: "T1"}
	b := &backend{}
	c, base, _ := newClient(t, s, b)

	get(t, c, base+"/students")

	h := b.lastHeader()
	if got := h.Get("Authorization"); got != "Bearer T1" {
		t.Fatalf("expected bearer token, got %q", got)
	}
	if h.Get(HeaderRequestID) == "" {
		t.Fatal("expected a request id")
	}
	if s.inits != 1 || s.refresh != 1 {
		t.Fatalf("expected init and refresh check, got inits=%d refresh=%d", s.inits, s.refresh)
	}
}

func TestLoginRequestIsNotAuthenticated(t *testing.T) {
	s := &fakeSession{token: "stale"}
	b := &backend{}
	c, base, _ := newClient(t, s, b)

	resp, err := c.Post(base+"/auth/login", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	resp.Body.Close()

	if got := b.lastHeader().Get("Authorization"); got != "" {
		t.Fatalf("login must not carry a token, got %q", got)
	}
	if s.inits != 0 || s.refresh != 0 {
		t.Fatal("login must not warm up the session")
	}
}

func TestUnauthorizedClassification(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		wantCategory notice.Category
		wantClears   int
		wantExpiries int
	}{
		{name: "login", path: "/auth/login", wantCategory: notice.CategoryInvalidCredentials},
		{name: "logout", path: "/auth/logout", wantClears: 1},
		{name: "profile", path: "/user/profile", wantCategory: notice.CategorySessionExpired, wantExpiries: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSession{token: "T1", initialized: true}
			b := &backend{status: map[string]int{"/api" + tt.path: http.StatusUnauthorized}}
			c, base, rec := newClient(t, s, b)

			resp := get(t, c, base+tt.path)
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("status must pass through, got %d", resp.StatusCode)
			}
			if s.clears != tt.wantClears || s.expiries != tt.wantExpiries {
				t.Fatalf("clears=%d expiries=%d, want %d/%d", s.clears, s.expiries, tt.wantClears, tt.wantExpiries)
			}
			// The session itself emits the expired notice.
			if tt.wantCategory == notice.CategoryInvalidCredentials && rec.Count(tt.wantCategory) != 1 {
				t.Fatalf("expected one %s notice, got %v", tt.wantCategory, rec.Notices())
			}
			if tt.path == "/auth/logout" && len(rec.Notices()) != 0 {
				t.Fatalf("logout 401 must be silent, got %v", rec.Notices())
			}
		})
	}
}

func TestErrorNoticesUseServerMessageAndDebounce(t *testing.T) {
	s := &fakeSession{}
	b := &backend{
		status: map[string]int{"/api/grades": http.StatusBadRequest, "/api/boom": http.StatusInternalServerError},
		body:   map[string]string{"/api/grades": `{"message":"score must be 0-100"}`},
	}
	c, base, rec := newClient(t, s, b)

	for i := 0; i < 3; i++ {
		resp := get(t, c, base+"/grades")
		data, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(data), "score must be") {
			t.Fatalf("body must stay readable, got %q", data)
		}
	}
	get(t, c, base+"/boom")

	notices := rec.Notices()
	if len(notices) != 2 {
		t.Fatalf("expected one notice per category, got %v", notices)
	}
	if notices[0].Category != notice.CategoryBadRequest || notices[0].Message != "score must be 0-100" {
		t.Fatalf("unexpected bad request notice %+v", notices[0])
	}
	if notices[1].Category != notice.CategoryServerError || notices[1].Message != "internal server error" {
		t.Fatalf("unexpected server error notice %+v", notices[1])
	}
}

type failingTransport struct{ err error }

func (f failingTransport) RoundTrip(*http.Request) (*http.Response, error) { return nil, f.err }

func TestNetworkErrorNotice(t *testing.T) {
	rec := &notice.Recorder{}
	gate := notice.NewGate(rec, clockwork.NewFakeClock(), notice.GateConfig{Window: time.Second}, nil)

	var outcomes []Outcome
	it := New(failingTransport{err: errors.New("connection refused")}, &fakeSession{},
		WithNotices(gate),
		WithObserver(func(o Outcome) { outcomes = append(outcomes, o) }))

	req := httptest.NewRequest(http.MethodGet, "http://backend/api/courses", nil)
	if _, err := it.RoundTrip(req); err == nil {
		t.Fatal("expected transport error")
	}
	if rec.Count(notice.CategoryNetwork) != 1 {
		t.Fatalf("expected network notice, got %v", rec.Notices())
	}
	if len(outcomes) != 1 || outcomes[0].Category != notice.CategoryNetwork {
		t.Fatalf("unexpected outcomes %+v", outcomes)
	}
	if req.Header.Get(HeaderRequestID) != "" {
		t.Fatal("original request must not be mutated")
	}
}
