package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

const pingTimeout = 10 * time.Second

// Connection wraps a pooled *sql.DB with the loader's configuration. The
// ledger and the bulk merge adapter share one Connection; each run's data
// writes still happen inside a single dedicated transaction.
type Connection struct {
	db     *sql.DB
	config *Config
}

// NewConnection opens a connection pool and verifies reachability with a
// bounded ping.
func NewConnection(config *Config) (*Connection, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", config.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Connection{db: db, config: config}, nil
}

// DB exposes the underlying pool.
func (c *Connection) DB() *sql.DB {
	return c.db
}

// Close closes the connection pool. Safe to call multiple times.
func (c *Connection) Close() error {
	if c.db != nil {
		return c.db.Close()
	}

	return nil
}
