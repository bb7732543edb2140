package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"identity-control-plane/internal/session/domain"
)

// Repository defines persistence for sessions over an injected transaction handle.
type Repository interface {
	Get(ctx context.Context, tx pgx.Tx, id string) (*domain.Session, error)
	GetByRefreshTokenHash(ctx context.Context, tx pgx.Tx, hash string) (*domain.Session, error)
	ListByUser(ctx context.Context, tx pgx.Tx, userID string) ([]*domain.Session, error)
	Create(ctx context.Context, tx pgx.Tx, s *domain.Session) error
	// UpdateRefreshTokenHash replaces oldHash with newHash for the session and
	// bumps updated_at. Returns false when the session no longer exists or the
	// stored hash is no longer oldHash, which is how a lost rotation race
	// surfaces.
	UpdateRefreshTokenHash(ctx context.Context, tx pgx.Tx, id, oldHash, newHash string, at time.Time) (bool, error)
	// Delete removes the session and reports whether it existed.
	Delete(ctx context.Context, tx pgx.Tx, id string) (bool, error)
	// DeleteByUser removes every session owned by the user and returns the
	// refresh-token hashes of the deleted rows for invalidation.
	DeleteByUser(ctx context.Context, tx pgx.Tx, userID string) ([]string, error)
}
