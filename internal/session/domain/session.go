package domain

import (
	"time"

	userdomain "identity-control-plane/internal/user/domain"
)

// Session represents a long-lived login session. Exactly one refresh token is
// live per session; rotating it overwrites RefreshTokenHash in place while the
// session id persists across refreshes.
type Session struct {
	ID               string
	UserID           string
	DeviceName       string // empty for impersonation sessions
	RefreshTokenHash string // SHA-256 hash of the current refresh token
	CreatedAt        time.Time
	UpdatedAt        time.Time // bumped on every rotation; drives refresh expiry
}

// Login is the result of creating or refreshing a session. RefreshToken is the
// only place the raw token ever appears.
type Login struct {
	User         userdomain.User
	Session      Session
	AccessToken  string
	RefreshToken string
}
