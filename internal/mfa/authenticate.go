package mfa

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"identity-control-plane/internal/mfa/domain"
	"identity-control-plane/internal/mfa/repository"
)

// ErrFailed is returned when the presented assertion matches neither the TOTP
// device nor the stored recovery code.
var ErrFailed = errors.New("mfa authentication failed")

// AuthenticateResult distinguishes a normal TOTP match from a recovery-code
// match, which obliges the caller to disable MFA and regenerate recovery
// material.
type AuthenticateResult int

const (
	// AuthenticateOk means a valid TOTP code was presented.
	AuthenticateOk AuthenticateResult = iota
	// AuthenticateReset means the recovery code was consumed; the caller must
	// disable MFA for the user.
	AuthenticateReset
)

// Authenticator verifies MFA assertions. It never mutates state: consuming a
// recovery code (disabling MFA) is a separate write owned by the caller so
// verify and disable stay independently transactional.
type Authenticator struct {
	repo repository.Repository
	totp *Totp
}

// NewAuthenticator returns an Authenticator over the given repository and TOTP engine.
func NewAuthenticator(repo repository.Repository, totp *Totp) *Authenticator {
	return &Authenticator{repo: repo, totp: totp}
}

// Authenticate checks the presented assertion for the user. TOTP is tried
// first; on miss the recovery code is compared against the stored hash.
func (a *Authenticator) Authenticate(ctx context.Context, tx pgx.Tx, userID string, cmd domain.Authentication) (AuthenticateResult, error) {
	if cmd.TotpCode != "" {
		device, err := a.repo.GetTotpDevice(ctx, tx, userID)
		if err != nil {
			return 0, fmt.Errorf("load totp device: %w", err)
		}
		if device != nil && device.Enabled {
			ok, err := a.totp.Verify(device.Secret, cmd.TotpCode)
			if err != nil {
				return 0, fmt.Errorf("verify totp code: %w", err)
			}
			if ok {
				return AuthenticateOk, nil
			}
		}
	}

	if cmd.RecoveryCode != "" {
		storedHash, err := a.repo.GetRecoveryCodeHash(ctx, tx, userID)
		if err != nil {
			return 0, fmt.Errorf("load recovery code hash: %w", err)
		}
		if storedHash != "" && RecoveryCodeEqual(cmd.RecoveryCode, storedHash) {
			return AuthenticateReset, nil
		}
	}

	return 0, ErrFailed
}
