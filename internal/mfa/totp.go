// Package mfa implements TOTP and recovery-code verification plus the MFA
// enrollment lifecycle (initialize, enable, disable).
package mfa

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// TotpConfig tunes code generation. Zero values fall back to RFC 6238
// defaults (6 digits, 30s period) with a one-step skew window.
type TotpConfig struct {
	Issuer string
	Digits int
	Period int
	Skew   int
}

// Totp validates time-based one-time codes against a base32 shared secret.
type Totp struct {
	config TotpConfig
	now    func() time.Time
}

// NewTotp returns a Totp engine for the given config.
func NewTotp(cfg TotpConfig) *Totp {
	if cfg.Digits <= 0 {
		cfg.Digits = 6
	}
	if cfg.Period <= 0 {
		cfg.Period = 30
	}
	if cfg.Skew <= 0 {
		cfg.Skew = 1
	}
	return &Totp{config: cfg, now: time.Now}
}

// Verify reports whether code is valid for the secret within the configured
// clock-skew window. Malformed codes verify false without error.
func (t *Totp) Verify(secretBase32, code string) (bool, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != t.config.Digits || !isDigits(trimmed) {
		return false, nil
	}

	secret, err := decodeSecret(secretBase32)
	if err != nil {
		return false, err
	}

	baseCounter := t.now().Unix() / int64(t.config.Period)
	for step := -t.config.Skew; step <= t.config.Skew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		generated := hotpCode(secret, uint64(counter), t.config.Digits)
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

// ProvisionURI returns the otpauth:// URI encoding the secret for
// authenticator-app enrollment.
func (t *Totp) ProvisionURI(secretBase32, account string) string {
	label := url.PathEscape(t.config.Issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", t.config.Issuer)
	v.Set("period", strconv.Itoa(t.config.Period))
	v.Set("digits", strconv.Itoa(t.config.Digits))
	v.Set("algorithm", "SHA1")

	return "otpauth://totp/" + label + "?" + v.Encode()
}

func decodeSecret(secretBase32 string) ([]byte, error) {
	s := strings.ToUpper(strings.TrimRight(secretBase32, "="))
	secret, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid totp secret: %w", err)
	}
	if len(secret) == 0 {
		return nil, errors.New("empty totp secret")
	}
	return secret, nil
}

func hotpCode(secret []byte, counter uint64, digits int) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, bin%mod)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
