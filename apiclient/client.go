package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Rare-Specie/authkeeper"
)

const (
	PathLogin    = "/auth/login"
	PathLogout   = "/auth/logout"
	PathVerify   = "/auth/verify"
	PathProfile  = "/user/profile"
	PathPassword = "/user/password"
)

// StatusError is a non-2xx response.
type StatusError struct {
	Status   int
	Endpoint string
	// Message is the server's message or error field, if any.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Endpoint, e.Status)
}

// Unwrap maps the status to an authkeeper sentinel.
func (e *StatusError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized && e.Endpoint == PathLogin:
		return authkeeper.ErrInvalidCredentials
	case e.Status == http.StatusUnauthorized:
		return authkeeper.ErrSessionExpired
	case e.Status == http.StatusForbidden:
		return authkeeper.ErrForbidden
	case e.Status == http.StatusBadRequest:
		return authkeeper.ErrBadRequest
	case e.Status == http.StatusNotFound:
		return authkeeper.ErrNotFound
	case e.Status >= http.StatusInternalServerError:
		return authkeeper.ErrBackendUnavailable
	}
	return nil
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. Pass one built by
// transport.NewClient to route calls through the session interceptor.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client calls the backend over HTTP.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

// New returns a client rooted at baseURL, for example
// "https://school.example/api".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("apiclient: base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("apiclient: base url %q must be http or https", baseURL)
	}
	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetHTTPClient swaps the HTTP client after construction. The controller
// and the interceptor depend on each other, so the interceptor-backed
// client is usually installed once the controller exists.
func (c *Client) SetHTTPClient(h *http.Client) {
	if h != nil {
		c.http = h
	}
}

// Login implements authkeeper.Backend.
func (c *Client) Login(ctx context.Context, req authkeeper.LoginRequest) (*authkeeper.LoginResponse, error) {
	var out authkeeper.LoginResponse
	if err := c.do(ctx, http.MethodPost, PathLogin, "", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout implements authkeeper.Backend.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, PathLogout, token, nil, nil)
}

// Verify implements authkeeper.Backend.
func (c *Client) Verify(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodGet, PathVerify, token, nil, nil)
}

// Profile implements authkeeper.Backend.
func (c *Client) Profile(ctx context.Context, token string) (*authkeeper.UserProfile, error) {
	var out authkeeper.UserProfile
	if err := c.do(ctx, http.MethodGet, PathProfile, token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdatePassword implements authkeeper.Backend.
func (c *Client) UpdatePassword(ctx context.Context, token string, req authkeeper.PasswordChange) error {
	return c.do(ctx, http.MethodPut, PathPassword, token, req, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("apiclient: encode %s: %w", endpoint, err)
		}
		body = bytes.NewReader(data)
	}

	u := *c.base
	u.Path = c.base.Path + endpoint
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("apiclient: %s: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", authkeeper.ErrBackendUnavailable, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %s: read body: %v", authkeeper.ErrBackendUnavailable, endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{Status: resp.StatusCode, Endpoint: endpoint, Message: messageOf(data)}
		c.logger.Debug("authkeeper: backend rejected request", "endpoint", endpoint, "status", resp.StatusCode)
		return serr
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: decode: %v", authkeeper.ErrBackendUnavailable, endpoint, err)
	}
	return nil
}

func messageOf(data []byte) string {
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
