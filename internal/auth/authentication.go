// Package auth implements access-token issuance and verification, password
// and refresh-token authentication, and the authorization predicates exposed
// to feature services.
package auth

// Authentication is the transient identity decoded from a verified access
// token. It is never persisted.
type Authentication struct {
	UserID           string
	SessionID        string
	RefreshTokenHash string
	Admin            bool
	EmailVerified    bool
}

// EnsureAdmin fails with ErrNotAdmin unless the caller is an administrator.
func (a *Authentication) EnsureAdmin() error {
	if !a.Admin {
		return ErrNotAdmin
	}
	return nil
}

// EnsureSelfOrAdmin fails with ErrNotSelfOrAdmin unless the caller is the
// target user or an administrator.
func (a *Authentication) EnsureSelfOrAdmin(userID string) error {
	if a.UserID != userID && !a.Admin {
		return ErrNotSelfOrAdmin
	}
	return nil
}

// EnsureEmailVerified fails with ErrEmailNotVerified unless the caller's
// email address is verified.
func (a *Authentication) EnsureEmailVerified() error {
	if !a.EmailVerified {
		return ErrEmailNotVerified
	}
	return nil
}
