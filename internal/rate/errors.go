package rate

import "errors"

// ErrRateLimited is returned when a key has exhausted its window budget.
var ErrRateLimited = errors.New("rate limited")
