package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const defaultDBName = "unr.db"

type Config struct {
	Driver    string
	DSN       string
	Workspace string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".unr", defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, ".unr")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the configured database. SQLite is opened inside the workspace
// with foreign keys on; pgx uses the DSN as given.
func Open(cfg Config) (*sql.DB, error) {
	switch cfg.Driver {
	case "", "sqlite":
		if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
			return nil, err
		}
		dsn := cfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath(cfg.Workspace))
		}
		return sql.Open("sqlite", dsn)
	case "pgx":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("dsn required for driver pgx")
		}
		return sql.Open("pgx", cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported driver %s", cfg.Driver)
	}
}

// Placeholder returns the bind variable format of the driver.
func Placeholder(driver string) squirrel.PlaceholderFormat {
	if driver == "pgx" {
		return squirrel.Dollar
	}
	return squirrel.Question
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}
