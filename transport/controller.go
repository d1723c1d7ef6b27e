package transport

import (
	"net/http"

	"github.com/Rare-Specie/authkeeper"
)

// ForController returns an interceptor over base bound to c, sharing its
// logger and notice gate.
func ForController(c *authkeeper.Controller, base http.RoundTripper, opts ...Option) *Interceptor {
	defaults := []Option{
		WithLogger(c.Logger()),
		WithNotices(c.Notices()),
	}
	return New(base, c, append(defaults, opts...)...)
}

// NewClient returns an [http.Client] whose transport is bound to c.
func NewClient(c *authkeeper.Controller, base http.RoundTripper, opts ...Option) *http.Client {
	return &http.Client{
		Transport: ForController(c, base, opts...),
		Timeout:   c.Config().Controller.RequestTimeout,
	}
}
