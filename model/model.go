// Package model holds the value types shared by every authkeeper component:
// the user profile returned by the school-manager backend, the login and
// password payloads, and the controller lifecycle phase.
//
// # What this package must NOT do
//
//   - Import any other authkeeper package.
//   - Perform I/O.
package model

import "strings"

// Role is the account role assigned by the backend.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Valid reports whether r is one of the roles the backend issues.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	}
	return false
}

// ParseRole normalizes s and returns the matching role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

// UserProfile is the backend's view of the signed-in account. It is cached
// next to the credential for warm starts and is always advisory: callers must
// tolerate a stale or missing profile while a fetch is in flight.
type UserProfile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Role      Role   `json:"role"`
	Name      string `json:"name"`
	Class     string `json:"class,omitempty"`
	StudentID string `json:"studentId,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// Clone returns a copy of p, or nil when p is nil.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	out := *p
	return &out
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

// LoginResponse is the body returned by POST /auth/login.
type LoginResponse struct {
	Token string      `json:"token"`
	User  UserProfile `json:"user"`
}

// PasswordChange is the body of PUT /user/password.
type PasswordChange struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// Phase is the controller's position in the session lifecycle.
type Phase int

const (
	// PhaseAnonymous means no usable token is held.
	PhaseAnonymous Phase = iota
	// PhaseAuthenticating means a login request is in flight.
	PhaseAuthenticating
	// PhaseUninitialized means a valid token is held but the profile has not
	// been confirmed by the backend yet.
	PhaseUninitialized
	// PhaseReady means the token is valid and the profile is confirmed.
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseAnonymous:
		return "anonymous"
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseUninitialized:
		return "authenticated-uninitialized"
	case PhaseReady:
		return "authenticated-ready"
	default:
		return "unknown"
	}
}
