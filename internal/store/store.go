// Package store is the persistence layer against the shared Postgres
// instance: lock-avoiding migrations, parcel selection, GREATEST-based batch
// updates, county-scoped percentile SQL, conviction fetch/flush, the
// best-effort vacancy audit, and the filtered read query.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Conn is the querying surface the store needs. Satisfied by pgxpool.Pool,
// pgx.Conn, and pgxmock.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store wraps a connection with the parcel persistence operations.
type Store struct {
	db Conn
}

// New wraps an existing connection or pool.
func New(db Conn) *Store {
	return &Store{db: db}
}

// NewPool creates a long-lived pooled store for the query surface. Batch
// passes use Dial instead: the managed host drops connections idle for
// more than about a minute, so each flush gets a fresh one.
func NewPool(ctx context.Context, connString string, maxConns, minConns int32) (*Store, func(), error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: parse config")
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 45 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, eris.Wrap(err, "store: ping")
	}
	return &Store{db: pool}, pool.Close, nil
}

// Dial opens one short-lived connection. Callers must invoke the returned
// close func on every exit path.
func Dial(ctx context.Context, connString string) (*Store, func(), error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: connect")
	}
	closeFn := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}
	return &Store{db: conn}, closeFn, nil
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.db.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "store: ping")
}
