package mfa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"identity-control-plane/internal/mfa/domain"
	"identity-control-plane/internal/mfa/repository"
	"identity-control-plane/internal/security"
)

// Sentinel errors for the enrollment lifecycle.
var (
	ErrAlreadyEnabled = errors.New("mfa is already enabled")
	ErrNotInitialized = errors.New("mfa has not been initialized")
	ErrInvalidCode    = errors.New("invalid totp code")
)

// Enrollment is the result of Initialize: the secret to load into an
// authenticator app, both raw and as a provisioning URI.
type Enrollment struct {
	Secret       string
	ProvisionURI string
}

// Service owns the MFA enrollment lifecycle. All methods run on a
// caller-owned transaction handle.
type Service struct {
	repo repository.Repository
	totp *Totp
	now  func() time.Time
}

// NewService returns an MFA lifecycle service.
func NewService(repo repository.Repository, totp *Totp) *Service {
	return &Service{repo: repo, totp: totp, now: time.Now}
}

// Initialize creates (or re-creates) a disabled TOTP device for the user and
// returns the fresh secret for enrollment. Fails with ErrAlreadyEnabled when
// an enabled device exists.
func (s *Service) Initialize(ctx context.Context, tx pgx.Tx, userID, account string) (*Enrollment, error) {
	device, err := s.repo.GetTotpDevice(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if device != nil && device.Enabled {
		return nil, ErrAlreadyEnabled
	}

	_, secret, err := security.NewTotpSecret()
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}

	if err := s.repo.CreateTotpDevice(ctx, tx, &domain.TotpDevice{
		UserID:    userID,
		Secret:    secret,
		Enabled:   false,
		CreatedAt: s.now().UTC(),
	}); err != nil {
		return nil, err
	}

	return &Enrollment{
		Secret:       secret,
		ProvisionURI: s.totp.ProvisionURI(secret, account),
	}, nil
}

// Enable validates the first code against the user's disabled device, enables
// it, and stores a fresh recovery code. The plaintext recovery code is
// returned exactly once.
func (s *Service) Enable(ctx context.Context, tx pgx.Tx, userID, code string) (string, error) {
	device, err := s.repo.GetTotpDevice(ctx, tx, userID)
	if err != nil {
		return "", err
	}
	if device == nil {
		return "", ErrNotInitialized
	}
	if device.Enabled {
		return "", ErrAlreadyEnabled
	}

	ok, err := s.totp.Verify(device.Secret, code)
	if err != nil {
		return "", fmt.Errorf("verify totp code: %w", err)
	}
	if !ok {
		return "", ErrInvalidCode
	}

	if err := s.repo.EnableTotpDevice(ctx, tx, userID); err != nil {
		return "", err
	}

	recoveryCode, err := security.NewRecoveryCode()
	if err != nil {
		return "", fmt.Errorf("generate recovery code: %w", err)
	}
	if err := s.repo.SetRecoveryCodeHash(ctx, tx, userID, HashRecoveryCode(recoveryCode)); err != nil {
		return "", err
	}

	return recoveryCode, nil
}

// Disable removes the user's TOTP device and recovery-code hash. Used for
// explicit disable and after a recovery-code login.
func (s *Service) Disable(ctx context.Context, tx pgx.Tx, userID string) error {
	if err := s.repo.DeleteTotpDevicesByUser(ctx, tx, userID); err != nil {
		return err
	}
	return s.repo.DeleteRecoveryCodeHash(ctx, tx, userID)
}
