package storage

import (
	"context"
	"errors"
)

// ErrUnavailable wraps every backend I/O failure.
var ErrUnavailable = errors.New("storage unavailable")

// Backend is a string key/value store.
type Backend interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// SetMulti writes every pair or none of them.
	SetMulti(ctx context.Context, values map[string]string) error
	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}
