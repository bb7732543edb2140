package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"identity-control-plane/internal/session/domain"
)

const sessionColumns = `id, user_id, device_name, refresh_token_hash, created_at, updated_at`

// PostgresRepository persists sessions in Postgres via an injected pgx.Tx.
type PostgresRepository struct{}

// NewPostgresRepository returns a session repository.
func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

// Get returns the session for id, or nil if not found.
func (r *PostgresRepository) Get(ctx context.Context, tx pgx.Tx, id string) (*domain.Session, error) {
	row := tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// GetByRefreshTokenHash returns the session holding the given refresh-token
// hash, or nil if none does. The unique index on refresh_token_hash guarantees
// at most one match.
func (r *PostgresRepository) GetByRefreshTokenHash(ctx context.Context, tx pgx.Tx, hash string) (*domain.Session, error) {
	row := tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE refresh_token_hash = $1`, hash)
	return scanSession(row)
}

// ListByUser returns all sessions owned by the user, newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, tx pgx.Tx, userID string) ([]*domain.Session, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Create persists the session. The session must have ID and RefreshTokenHash set.
func (r *PostgresRepository) Create(ctx context.Context, tx pgx.Tx, s *domain.Session) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO sessions (id, user_id, device_name, refresh_token_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		s.ID, s.UserID, sql.NullString{String: s.DeviceName, Valid: s.DeviceName != ""},
		s.RefreshTokenHash, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// UpdateRefreshTokenHash performs the rotation write. The update is keyed by
// session id AND the hash being replaced: under READ COMMITTED a racing
// refresh re-evaluates the predicate after the winner commits, finds the hash
// already replaced, and observes zero rows. Deletes lose the same way.
func (r *PostgresRepository) UpdateRefreshTokenHash(ctx context.Context, tx pgx.Tx, id, oldHash, newHash string, at time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE sessions SET refresh_token_hash = $3, updated_at = $4
		WHERE id = $1 AND refresh_token_hash = $2
	`, id, oldHash, newHash, at)
	if err != nil {
		return false, fmt.Errorf("rotate refresh token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes the session and reports whether it existed.
func (r *PostgresRepository) Delete(ctx context.Context, tx pgx.Tx, id string) (bool, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteByUser removes every session owned by the user and returns the
// refresh-token hashes of the deleted rows.
func (r *PostgresRepository) DeleteByUser(ctx context.Context, tx pgx.Tx, userID string) ([]string, error) {
	rows, err := tx.Query(ctx, `
		DELETE FROM sessions WHERE user_id = $1 RETURNING refresh_token_hash
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("delete sessions by user: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	var deviceName sql.NullString
	err := row.Scan(&s.ID, &s.UserID, &deviceName, &s.RefreshTokenHash, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query session: %w", err)
	}
	s.DeviceName = deviceName.String
	return &s, nil
}
