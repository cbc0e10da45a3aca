package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ApplicationName identifies receiver connections in pg_stat_activity.
const ApplicationName = "hca-fhir-receive"

const connectTimeout = 5 * time.Second

// PoolConfig sizes the receiver's connection pool.
type PoolConfig struct {
	URL      string
	MaxConns int32
	MinConns int32
}

// ParsePoolConfig applies the receiver's settings on top of the URL's own.
// Session time zone is pinned to UTC so last_updated round-trips unchanged
// into Last-Modified headers; an application_name in the URL wins.
func ParsePoolConfig(pc PoolConfig) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(pc.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		if pc.MinConns > cfg.MaxConns {
			return nil, fmt.Errorf("DB_MIN_CONNS %d exceeds DB_MAX_CONNS %d", pc.MinConns, cfg.MaxConns)
		}
		cfg.MinConns = pc.MinConns
	}

	params := cfg.ConnConfig.RuntimeParams
	if _, ok := params["application_name"]; !ok {
		params["application_name"] = ApplicationName
	}
	params["timezone"] = "UTC"
	return cfg, nil
}

// NewPool connects and pings within a bounded time.
func NewPool(ctx context.Context, pc PoolConfig) (*pgxpool.Pool, error) {
	cfg, err := ParsePoolConfig(pc)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
