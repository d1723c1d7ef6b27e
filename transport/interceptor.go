package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Rare-Specie/authkeeper/notice"
	"github.com/google/uuid"
)

// HeaderRequestID carries a per-request correlation id.
const HeaderRequestID = "X-Request-ID"

// maxErrorBody bounds how much of an error response is read to find a
// server message.
const maxErrorBody = 64 << 10

// Session is the controller surface the interceptor drives.
type Session interface {
	Token(ctx context.Context) string
	HasStoredToken() bool
	IsInitialized() bool
	Init(ctx context.Context) bool
	CheckTokenRefresh(ctx context.Context) bool
	ClearState(ctx context.Context)
	ExpireSession(ctx context.Context)
}

// Config names the endpoints that get special 401 handling. Paths match
// as suffixes so a base path such as /api is allowed.
type Config struct {
	LoginPath  string
	LogoutPath string
}

// DefaultConfig returns the school-manager endpoints.
func DefaultConfig() Config {
	return Config{
		LoginPath:  "/auth/login",
		LogoutPath: "/auth/logout",
	}
}

// Outcome is what the interceptor concluded about one response.
type Outcome struct {
	Endpoint string
	Status   int
	Category notice.Category
	Elapsed  time.Duration
	Err      error
}

// Option configures an [Interceptor].
type Option func(*Interceptor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Interceptor) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithNotices routes failure notices through g.
func WithNotices(g *notice.Gate) Option {
	return func(i *Interceptor) { i.notices = g }
}

// WithConfig overrides the endpoint config.
func WithConfig(cfg Config) Option {
	return func(i *Interceptor) {
		if cfg.LoginPath != "" {
			i.cfg.LoginPath = cfg.LoginPath
		}
		if cfg.LogoutPath != "" {
			i.cfg.LogoutPath = cfg.LogoutPath
		}
	}
}

// WithObserver calls fn after every round trip.
func WithObserver(fn func(Outcome)) Option {
	return func(i *Interceptor) { i.observer = fn }
}

// Interceptor is an [http.RoundTripper] bound to a session.
type Interceptor struct {
	base     http.RoundTripper
	session  Session
	cfg      Config
	logger   *slog.Logger
	notices  *notice.Gate
	observer func(Outcome)
	now      func() time.Time
}

// New wraps base. A nil base uses [http.DefaultTransport].
func New(base http.RoundTripper, session Session, opts ...Option) *Interceptor {
	if base == nil {
		base = http.DefaultTransport
	}
	i := &Interceptor{
		base:    base,
		session: session,
		cfg:     DefaultConfig(),
		logger:  slog.New(slog.DiscardHandler),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// RoundTrip implements [http.RoundTripper].
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	out := req.Clone(ctx)
	if out.Header.Get(HeaderRequestID) == "" {
		out.Header.Set(HeaderRequestID, uuid.NewString())
	}

	endpoint := out.URL.Path
	isLogin := i.is(endpoint, i.cfg.LoginPath)
	isLogout := i.is(endpoint, i.cfg.LogoutPath)

	if !isLogin {
		if !isLogout {
			i.warmUp(ctx)
		}
		if out.Header.Get("Authorization") == "" {
			if token := i.session.Token(ctx); token != "" {
				out.Header.Set("Authorization", "Bearer "+token)
			}
		}
	}

	start := i.now()
	resp, err := i.base.RoundTrip(out)
	outcome := Outcome{Endpoint: endpoint, Elapsed: i.now().Sub(start)}

	if err != nil {
		outcome.Err = err
		if !errors.Is(err, context.Canceled) {
			outcome.Category = notice.CategoryNetwork
			i.notices.Emit(notice.Notice{
				Level:    notice.LevelError,
				Category: notice.CategoryNetwork,
				Message:  "network error, please check your connection",
			})
		}
		i.logger.Info("authkeeper: request failed", "endpoint", endpoint, "request_id", out.Header.Get(HeaderRequestID), "error", err)
		i.observe(outcome)
		return nil, err
	}

	outcome.Status = resp.StatusCode
	if resp.StatusCode >= http.StatusBadRequest {
		outcome.Category = i.classify(ctx, resp, isLogin, isLogout)
		i.logger.Info("authkeeper: request rejected",
			"endpoint", endpoint,
			"status", resp.StatusCode,
			"request_id", out.Header.Get(HeaderRequestID),
			"category", outcome.Category)
	}
	i.observe(outcome)
	return resp, nil
}

// warmUp initializes a session that has a token but no confirmed profile
// and extends a token close to expiry. Neither blocks on contention.
func (i *Interceptor) warmUp(ctx context.Context) {
	if !i.session.HasStoredToken() {
		return
	}
	if !i.session.IsInitialized() {
		i.session.Init(ctx)
	}
	i.session.CheckTokenRefresh(ctx)
}

func (i *Interceptor) classify(ctx context.Context, resp *http.Response, isLogin, isLogout bool) notice.Category {
	if resp.StatusCode == http.StatusUnauthorized {
		switch {
		case isLogin:
			i.notices.Force(notice.Notice{
				Level:    notice.LevelError,
				Category: notice.CategoryInvalidCredentials,
				Message:  "invalid username or password",
			})
			return notice.CategoryInvalidCredentials
		case isLogout:
			i.session.ClearState(ctx)
			return notice.CategoryLoggedOut
		default:
			// ExpireSession shows the debounced "session expired" notice.
			i.session.ExpireSession(ctx)
			return notice.CategorySessionExpired
		}
	}

	msg := serverMessage(resp)
	var n notice.Notice
	switch {
	case resp.StatusCode == http.StatusBadRequest:
		n = notice.Notice{Category: notice.CategoryBadRequest, Message: "invalid request parameters"}
	case resp.StatusCode == http.StatusForbidden:
		n = notice.Notice{Category: notice.CategoryForbidden, Message: "you do not have permission to access this resource"}
	case resp.StatusCode == http.StatusNotFound:
		n = notice.Notice{Category: notice.CategoryNotFound, Message: "the requested resource does not exist"}
	case resp.StatusCode >= http.StatusInternalServerError:
		n = notice.Notice{Category: notice.CategoryServerError, Message: "internal server error"}
	default:
		n = notice.Notice{Category: notice.CategoryRequestFailed, Message: "request failed, please try again later"}
	}
	n.Level = notice.LevelError
	if msg != "" {
		n.Message = msg
	}
	i.notices.Emit(n)
	return n.Category
}

// serverMessage returns the message or error field of a JSON error body
// and leaves resp.Body readable for the caller.
func serverMessage(resp *http.Response) string {
	if resp.Body == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil || len(data) == 0 {
		return ""
	}

	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &body) != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}

func (i *Interceptor) is(path, endpoint string) bool {
	return endpoint != "" && strings.HasSuffix(strings.TrimSuffix(path, "/"), endpoint)
}

func (i *Interceptor) observe(o Outcome) {
	if i.observer != nil {
		i.observer(o)
	}
}
