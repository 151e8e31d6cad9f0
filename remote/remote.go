// Package remote implements the authoritative Postgres store. It is only
// reachable when online and authenticated; inserts issue the canonical UUIDs
// that the sync engine maps back onto local records.
package remote

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// Store implements the remote store over a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the remote store.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "creating connection pool")
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
