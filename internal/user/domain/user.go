package domain

import (
	"errors"
	"strings"
	"time"
)

// User is the core user entity. Owned by the persistence layer; the identity
// core references users by id everywhere else.
type User struct {
	ID            string
	Name          string
	Email         string // empty when the user has no email address
	EmailVerified bool
	Enabled       bool
	Admin         bool
	PasswordHash  string // empty when the user has no password credential
	LastLogin     *time.Time
	CreatedAt     time.Time
}

// HasPassword reports whether a password credential exists for the user.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

// NormalizeIdentifier canonicalizes a submitted user name or email address
// for lookups and failed-login counter keys.
func NormalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
