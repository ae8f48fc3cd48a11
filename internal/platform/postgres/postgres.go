package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"ssogate/internal/platform/config"
)

// Pool wraps a pgx connection pool with health checking.
type Pool struct {
	*pgxpool.Pool
}

// New opens a pool from cfg and verifies connectivity.
// Returns nil if the URL is empty (Postgres not configured).
func New(ctx context.Context, cfg config.Postgres) (*Pool, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

// Health checks if the database is reachable.
func (p *Pool) Health(ctx context.Context) error {
	return p.Ping(ctx)
}
