// Package postgres is the durable run ledger. Attempt bookkeeping is
// transactional so concurrent slots can never allocate conflicting
// attempt numbers or resurrect a terminal run.
package postgres

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx via database/sql
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // classic driver, selectable via config
	"github.com/pressly/goose/v3"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Driver   string `yaml:"driver"` // pgx (default) or postgres
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Ledger implements storage.Ledger on PostgreSQL.
type Ledger struct {
	db *sqlx.DB
}

// Open connects, configures the pool, and pings.
func Open(ctx context.Context, cfg Config) (*Ledger, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "pgx"
	}

	db, err := sqlx.Open(driver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Migrate applies goose migrations from the given directory.
func (l *Ledger) Migrate(dir string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(l.db.DB, dir); err != nil {
		return fmt.Errorf("failed to migrate db: %w", err)
	}
	return nil
}

// Health checks if the database is reachable.
func (l *Ledger) Health(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close closes the connection pool.
func (l *Ledger) Close() error {
	return l.db.Close()
}
