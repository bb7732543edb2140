package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"identity-control-plane/internal/user/domain"
)

// Repository defines persistence for users. Every method runs on the
// transaction handle supplied by the caller; the repository never opens its
// own connection.
type Repository interface {
	GetByID(ctx context.Context, tx pgx.Tx, id string) (*domain.User, error)
	GetByNameOrEmail(ctx context.Context, tx pgx.Tx, identifier string) (*domain.User, error)
	Create(ctx context.Context, tx pgx.Tx, u *domain.User) error
	UpdateLastLogin(ctx context.Context, tx pgx.Tx, id string, at time.Time) error
}
