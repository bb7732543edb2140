// Package db provides Postgres connectivity and transaction handles for the identity core.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Database begins transactions for the identity core. Repositories never open
// connections themselves; every operation runs on a pgx.Tx owned by the caller,
// who commits or rolls back.
type Database interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres implements Database over a pgxpool.Pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// Open connects a pool using the given DSN and verifies connectivity.
// Caller must call Close when done.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

// Begin starts a new transaction.
func (p *Postgres) Begin(ctx context.Context) (pgx.Tx, error) {
	return p.pool.Begin(ctx)
}

// Ping verifies pool connectivity. Used by readiness probes.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the underlying pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
