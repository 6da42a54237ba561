// Package storage provides the durable record store for tasks, page records
// and prompts, backed by SQLite or Postgres, plus an in-memory implementation.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical/page-pipeline/internal/config"
)

// Open connects to the configured database, applies pool settings and pings it.
func Open(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	driverName, err := sqlDriverName(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}

	if cfg.Database.Driver == "sqlite" {
		if dir := filepath.Dir(cfg.Database.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(driverName, cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Database.Driver, err)
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.SQLite.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.Database.SQLite.MaxOpenConns)
		}
	case "postgres":
		pg := cfg.Database.Postgres
		db.SetMaxOpenConns(pg.MaxOpenConns)
		db.SetMaxIdleConns(pg.MaxIdleConns)
		db.SetConnMaxLifetime(pg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", cfg.Database.Driver, err)
	}

	return db, nil
}

func sqlDriverName(driver string) (string, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return "sqlite3", nil
	case "postgres", "postgresql":
		return "postgres", nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Connect opens the configured database and applies pending migrations.
func Connect(ctx context.Context, cfg *config.Config) (*SQLStore, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if _, err := NewMigrator(db, cfg.Database.Driver).Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return NewSQLStore(db), nil
}
