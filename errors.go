package authkeeper

import "errors"

var (
	// ErrInvalidCredentials is returned by Login when the backend rejects the
	// username, password or role.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotAuthenticated is returned by operations that need a valid token
	// when none is held.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrSessionExpired is returned when the backend no longer accepts the
	// held token.
	ErrSessionExpired = errors.New("session expired")
	// ErrForbidden is returned when the backend refuses an authenticated call.
	ErrForbidden = errors.New("forbidden")
	// ErrBadRequest is returned when the backend rejects a request payload.
	ErrBadRequest = errors.New("bad request")
	// ErrNotFound is returned when the backend reports a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrBackendUnavailable wraps transport failures and 5xx responses.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrLoginInProgress is returned when Login is called while another
	// login is in flight.
	ErrLoginInProgress = errors.New("login already in progress")
	// ErrControllerClosed is returned after Close.
	ErrControllerClosed = errors.New("controller closed")
	// ErrBackendRequired is returned by Build when no backend is configured.
	ErrBackendRequired = errors.New("backend required")
	// ErrBuilderUsed is returned when Build is called twice.
	ErrBuilderUsed = errors.New("builder already used")
)
