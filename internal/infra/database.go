package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresHandle is the lazily dialed PostgreSQL pool shared by the process.
type PostgresHandle = Handle[*pgxpool.Pool]

// NewPostgresPool configures and returns a PostgreSQL connection pool.
func NewPostgresPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, fmt.Errorf("database url is required")
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// NewPostgresHandle returns a handle that opens a pool for url on first use.
// Closing a retired pool waits for its acquired connections to be returned.
func NewPostgresHandle(url string) *PostgresHandle {
	return NewHandle("postgres",
		func(ctx context.Context) (*pgxpool.Pool, error) { return NewPostgresPool(ctx, url) },
		func(ctx context.Context, p *pgxpool.Pool) error { return p.Ping(ctx) },
		func(p *pgxpool.Pool) error {
			p.Close()
			return nil
		},
	)
}
