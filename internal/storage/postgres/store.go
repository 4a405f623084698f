// Package postgres implements every repository interface the services
// package depends on (jobs.Repository, auth.AgentLookup, wallet's address
// and deposit/withdrawal repositories, deadline.JobStore) against a single
// pgxpool.Pool, following the teacher's one-struct-per-concern constructor
// injection pattern.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps the connection pool shared by every repository in this
// package. Each repository is a thin method set over the same pool rather
// than a separate connection, since pgxpool already multiplexes safely
// across goroutines.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pgxpool against dsn. Callers are responsible for closing
// the returned pool at shutdown.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}
