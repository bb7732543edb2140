package mfa

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashRecoveryCode returns a SHA-256 hash of the normalized recovery code,
// hex-encoded. Codes are normalized to upper case with separators stripped so
// user re-entry is forgiving.
func HashRecoveryCode(code string) string {
	h := sha256.Sum256([]byte(normalizeRecoveryCode(code)))
	return hex.EncodeToString(h[:])
}

// RecoveryCodeEqual compares the presented code's hash with the stored hash
// in constant time.
func RecoveryCodeEqual(presented, storedHash string) bool {
	presentedHash := HashRecoveryCode(presented)
	return subtle.ConstantTimeCompare([]byte(presentedHash), []byte(storedHash)) == 1
}

func normalizeRecoveryCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	return strings.ReplaceAll(s, "-", "")
}
