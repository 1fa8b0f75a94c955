// Package postgres implements the durable side of spec §6.3: Flow
// Definitions keyed by (id, version), and the append-only Flow Run / Flow
// Run Step store the State Machine Engine writes through. It is the
// backing store behind pkg/flowdef.Store and pkg/flowrun.Store once a
// deployment needs more than the in-memory fixtures the engine's own
// tests use.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver used by golang-migrate
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds connection-pool settings for the durable store (spec §6.4
// "database.postgresDsn" plus pool tuning).
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Client wraps a pgxpool.Pool. FlowStore and RunStore are thin views over
// the same pool; nothing in this package holds its own connection.
type Client struct {
	Pool *pgxpool.Pool
}

// NewClient connects, applies pending migrations, and returns a ready
// Client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := runMigrations(cfg.DSN); err != nil {
		pool.Close()
		return nil, err
	}

	return &Client{Pool: pool}, nil
}

// Close releases the pool.
func (c *Client) Close() { c.Pool.Close() }

// runMigrations applies every embedded *.up.sql migration using
// golang-migrate's iofs source, the same embed-and-apply-on-boot pattern
// the teacher uses for its Ent schema migrations, adapted from an Ent
// driver to golang-migrate's own postgres driver since this store talks
// pgx/v5 directly instead of through an ORM.
func runMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	defer source.Close()

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
