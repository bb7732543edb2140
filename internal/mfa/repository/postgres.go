package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"identity-control-plane/internal/mfa/domain"
)

// PostgresRepository persists MFA state in Postgres via an injected pgx.Tx.
type PostgresRepository struct{}

// NewPostgresRepository returns an MFA repository.
func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

// GetTotpDevice returns the user's TOTP device, or nil if none exists.
func (r *PostgresRepository) GetTotpDevice(ctx context.Context, tx pgx.Tx, userID string) (*domain.TotpDevice, error) {
	var d domain.TotpDevice
	err := tx.QueryRow(ctx, `
		SELECT user_id, secret, enabled, created_at FROM mfa_totp_devices WHERE user_id = $1
	`, userID).Scan(&d.UserID, &d.Secret, &d.Enabled, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query totp device: %w", err)
	}
	return &d, nil
}

// CreateTotpDevice persists the device, replacing any previous one for the user.
func (r *PostgresRepository) CreateTotpDevice(ctx context.Context, tx pgx.Tx, d *domain.TotpDevice) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO mfa_totp_devices (user_id, secret, enabled, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET secret = $2, enabled = $3, created_at = $4
	`, d.UserID, d.Secret, d.Enabled, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert totp device: %w", err)
	}
	return nil
}

// EnableTotpDevice marks the user's device enabled.
func (r *PostgresRepository) EnableTotpDevice(ctx context.Context, tx pgx.Tx, userID string) error {
	_, err := tx.Exec(ctx, `UPDATE mfa_totp_devices SET enabled = TRUE WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("enable totp device: %w", err)
	}
	return nil
}

// DeleteTotpDevicesByUser removes the user's TOTP device if present.
func (r *PostgresRepository) DeleteTotpDevicesByUser(ctx context.Context, tx pgx.Tx, userID string) error {
	_, err := tx.Exec(ctx, `DELETE FROM mfa_totp_devices WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete totp devices: %w", err)
	}
	return nil
}

// GetRecoveryCodeHash returns the stored recovery-code hash, or "" when none exists.
func (r *PostgresRepository) GetRecoveryCodeHash(ctx context.Context, tx pgx.Tx, userID string) (string, error) {
	var hash string
	err := tx.QueryRow(ctx, `SELECT code_hash FROM mfa_recovery_codes WHERE user_id = $1`, userID).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("query recovery code hash: %w", err)
	}
	return hash, nil
}

// SetRecoveryCodeHash stores the hash, replacing any previous one.
func (r *PostgresRepository) SetRecoveryCodeHash(ctx context.Context, tx pgx.Tx, userID, hash string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO mfa_recovery_codes (user_id, code_hash) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET code_hash = $2
	`, userID, hash)
	if err != nil {
		return fmt.Errorf("set recovery code hash: %w", err)
	}
	return nil
}

// DeleteRecoveryCodeHash removes the stored hash if present.
func (r *PostgresRepository) DeleteRecoveryCodeHash(ctx context.Context, tx pgx.Tx, userID string) error {
	_, err := tx.Exec(ctx, `DELETE FROM mfa_recovery_codes WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete recovery code hash: %w", err)
	}
	return nil
}
