package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"phaseline/internal/migrate"
	"phaseline/internal/store"
)

const defaultDBName = "phaseline.db"

// Config selects the storage backend once at startup. Backend is "sqlite"
// (default) or "postgres"; DSN applies to postgres, Workspace to sqlite.
type Config struct {
	Backend   string
	DSN       string
	Workspace string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".phaseline", defaultDBName)
}

// EnsureWorkspace creates the workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, ".phaseline")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Path returns the sqlite db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}

// Open opens the configured backend, runs its migrations, and returns the
// matching store implementation.
func Open(cfg Config) (store.Store, error) {
	switch cfg.Backend {
	case "", "sqlite":
		return openSQLite(cfg.Workspace)
	case "postgres":
		return openPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want sqlite or postgres)", cfg.Backend)
	}
}

func openSQLite(workspace string) (store.Store, error) {
	if _, err := EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", dbPath(workspace))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return store.NewSQLite(conn), nil
}

func openPostgres(dsn string) (store.Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres backend requires a dsn")
	}
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	pg := store.NewPostgres(conn)
	if err := pg.Migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return pg, nil
}
