// Package database owns the postgres connection pool behind the durable
// account catalog, plus the startup migration path.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Config sizes the connection pool. The catalog workload is small hot
// reads plus occasional management writes, so the defaults stay modest.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Pool wraps the *sql.DB handle the catalog store and health probe share.
type Pool struct {
	db  *sql.DB
	cfg Config
}

// New opens and pings the pool. The URL is required; the caller decides
// whether postgres is in play, not this package.
func New(cfg Config) (*Pool, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL not configured")
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck // best-effort cleanup on init failure
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{db: db, cfg: cfg}, nil
}

// DB exposes the underlying handle for the catalog store and Migrate.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Health reports whether the database answers a ping. Registered with the
// readiness probe when the postgres backend is active.
func (p *Pool) Health(ctx context.Context) error {
	if p == nil || p.db == nil {
		return fmt.Errorf("database not configured")
	}
	return p.db.PingContext(ctx)
}

func (p *Pool) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// Stats feeds the periodic pool-stats log line in the server.
func (p *Pool) Stats() sql.DBStats {
	if p == nil || p.db == nil {
		return sql.DBStats{}
	}
	return p.db.Stats()
}
