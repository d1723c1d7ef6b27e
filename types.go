package authkeeper

import (
	"context"
	"time"

	"github.com/Rare-Specie/authkeeper/model"
)

// Value types shared with the component packages.
type (
	Role           = model.Role
	UserProfile    = model.UserProfile
	LoginRequest   = model.LoginRequest
	LoginResponse  = model.LoginResponse
	PasswordChange = model.PasswordChange
	Phase          = model.Phase
)

const (
	RoleAdmin   = model.RoleAdmin
	RoleTeacher = model.RoleTeacher
	RoleStudent = model.RoleStudent

	PhaseAnonymous      = model.PhaseAnonymous
	PhaseAuthenticating = model.PhaseAuthenticating
	PhaseUninitialized  = model.PhaseUninitialized
	PhaseReady          = model.PhaseReady
)

// Backend is the school-manager REST API as the controller sees it.
// Implementations report HTTP failures through errors that match the
// package sentinels with errors.Is (ErrInvalidCredentials, ErrSessionExpired,
// ErrForbidden, ErrBackendUnavailable, ...).
type Backend interface {
	// Login calls POST /auth/login.
	Login(ctx context.Context, req LoginRequest) (*LoginResponse, error)
	// Logout calls POST /auth/logout.
	Logout(ctx context.Context, token string) error
	// Verify calls GET /auth/verify.
	Verify(ctx context.Context, token string) error
	// Profile calls GET /user/profile.
	Profile(ctx context.Context, token string) (*UserProfile, error)
	// UpdatePassword calls PUT /user/password.
	UpdatePassword(ctx context.Context, token string, req PasswordChange) error
}

// State is a point-in-time copy of the controller state. Authenticated is
// derived from the token and credential validity when State is called.
type State struct {
	Token         string
	User          *UserProfile
	Authenticated bool
	Initialized   bool
	Initializing  bool
	LastRefreshAt time.Time
	Phase         Phase
}

// LogoutOptions tunes [Controller.Logout].
type LogoutOptions struct {
	// SkipServerCall clears local state without calling POST /auth/logout.
	SkipServerCall bool
}
