package security

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
)

const (
	refreshTokenBytes = 48
	totpSecretBytes   = 20
	recoveryCodeBytes = 20
)

// recoveryCodeAlphabet avoids easily confused characters (0/O, 1/I/L).
const recoveryCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewRefreshToken returns a fresh high-entropy opaque refresh token,
// base64url-encoded without padding.
func NewRefreshToken() (string, error) {
	raw := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// NewTotpSecret returns a fresh TOTP secret as raw bytes plus its base32
// encoding for authenticator enrollment.
func NewTotpSecret() ([]byte, string, error) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return raw, enc.EncodeToString(raw), nil
}

// NewRecoveryCode returns a single-use recovery code in the form
// XXXX-XXXX-XXXX-XXXX-XXXX drawn from a 32-character alphabet.
func NewRecoveryCode() (string, error) {
	raw := make([]byte, recoveryCodeBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	out := make([]byte, 0, recoveryCodeBytes+recoveryCodeBytes/4-1)
	for i, b := range raw {
		if i > 0 && i%4 == 0 {
			out = append(out, '-')
		}
		out = append(out, recoveryCodeAlphabet[int(b)%len(recoveryCodeAlphabet)])
	}
	return string(out), nil
}
