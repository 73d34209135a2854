// Package database owns the connection pool and the schema lifecycle.
//
// Two drivers are supported: pgx (postgres) for networked deployments and
// modernc sqlite for embedded single-file deployments. The schema is created
// and upgraded through embedded goose migrations, one directory per dialect.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/upwatch/upwatch/internal/config"
	"github.com/upwatch/upwatch/internal/stats"
)

//go:embed migrations
var migrationsFS embed.FS

// DB wraps the sql pool with the query helpers the rest of the engine uses.
type DB struct {
	pool   *sql.DB
	driver string
	logger *slog.Logger
	stats  *stats.Registry
}

// Open connects using the configured driver and verifies connectivity.
func Open(cfg *config.DatabaseConfig, logger *slog.Logger, st *stats.Registry) (*DB, error) {
	driverName := ""
	switch cfg.Driver {
	case "postgres":
		driverName = "pgx"
	case "sqlite":
		driverName = "sqlite"
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}

	pool, err := sql.Open(driverName, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// The sqlite driver serializes writers; a single connection avoids
		// SQLITE_BUSY under concurrent pipeline transactions.
		pool.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			pool.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			pool.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetimeMinutes > 0 {
			pool.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established", "driver", cfg.Driver)

	return &DB{
		pool:   pool,
		driver: cfg.Driver,
		logger: logger.With("component", "database"),
		stats:  st,
	}, nil
}

// Migrate creates missing tables and applies pending upgrade scripts in
// ascending order, then records the new schema version.
func (d *DB) Migrate() error {
	goose.SetBaseFS(migrationsFS)

	dialect := "postgres"
	dir := "migrations/postgres"
	if d.driver == "sqlite" {
		dialect = "sqlite3"
		dir = "migrations/sqlite"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	if err := goose.Up(d.pool, dir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, _, err := FetchScalar[string](context.Background(), d, "select version from version")
	if err != nil {
		return err
	}
	d.logger.Info("database schema ready", "schema_version", version)
	return nil
}

// Close releases the connection pool.
func (d *DB) Close() error {
	return d.pool.Close()
}

// Driver reports the configured driver name ("postgres" or "sqlite").
func (d *DB) Driver() string {
	return d.driver
}
