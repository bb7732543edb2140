package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"identity-control-plane/internal/user/domain"
)

const userColumns = `id, name, email, email_verified, enabled, admin, password_hash, last_login, created_at`

// PostgresRepository persists users in Postgres via an injected pgx.Tx.
type PostgresRepository struct{}

// NewPostgresRepository returns a user repository.
func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, tx pgx.Tx, id string) (*domain.User, error) {
	row := tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByNameOrEmail resolves a user by case-normalized name or email.
// Returns nil when no user matches.
func (r *PostgresRepository) GetByNameOrEmail(ctx context.Context, tx pgx.Tx, identifier string) (*domain.User, error) {
	ident := domain.NormalizeIdentifier(identifier)
	row := tx.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE LOWER(name) = $1 OR LOWER(email) = $1
	`, ident)
	return scanUser(row)
}

// Create persists the user. The user must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, tx pgx.Tx, u *domain.User) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO users (id, name, email, email_verified, enabled, admin, password_hash, last_login, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		u.ID, u.Name, nullString(u.Email), u.EmailVerified, u.Enabled, u.Admin,
		nullString(u.PasswordHash), nullTime(u.LastLogin), u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// UpdateLastLogin sets the user's last-login timestamp.
func (r *PostgresRepository) UpdateLastLogin(ctx context.Context, tx pgx.Tx, id string, at time.Time) error {
	_, err := tx.Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	var email, passwordHash sql.NullString
	var lastLogin sql.NullTime
	err := row.Scan(&u.ID, &u.Name, &email, &u.EmailVerified, &u.Enabled, &u.Admin, &passwordHash, &lastLogin, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.Email = email.String
	u.PasswordHash = passwordHash.String
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLogin = &t
	}
	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
