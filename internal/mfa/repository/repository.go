package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"identity-control-plane/internal/mfa/domain"
)

// Repository defines persistence for TOTP devices and recovery-code hashes
// over an injected transaction handle.
type Repository interface {
	GetTotpDevice(ctx context.Context, tx pgx.Tx, userID string) (*domain.TotpDevice, error)
	CreateTotpDevice(ctx context.Context, tx pgx.Tx, d *domain.TotpDevice) error
	EnableTotpDevice(ctx context.Context, tx pgx.Tx, userID string) error
	DeleteTotpDevicesByUser(ctx context.Context, tx pgx.Tx, userID string) error

	// GetRecoveryCodeHash returns the stored hash, or "" when none exists.
	GetRecoveryCodeHash(ctx context.Context, tx pgx.Tx, userID string) (string, error)
	SetRecoveryCodeHash(ctx context.Context, tx pgx.Tx, userID, hash string) error
	DeleteRecoveryCodeHash(ctx context.Context, tx pgx.Tx, userID string) error
}
