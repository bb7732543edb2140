package domain

import "time"

// TotpDevice is a user's TOTP authenticator. At most one device exists per
// user; it is created disabled and enabled after the first valid code.
type TotpDevice struct {
	UserID    string
	Secret    string // base32-encoded shared secret
	Enabled   bool
	CreatedAt time.Time
}

// Authentication is the MFA assertion presented during login: a TOTP code,
// a recovery code, or neither.
type Authentication struct {
	TotpCode     string
	RecoveryCode string
}

// Empty reports whether no assertion was presented.
func (a Authentication) Empty() bool {
	return a.TotpCode == "" && a.RecoveryCode == ""
}
