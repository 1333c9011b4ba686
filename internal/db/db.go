package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB with swcache-specific helpers.
type DB struct {
	*sql.DB
	path string
}

// Open creates or opens a SQLite database at the given path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	d := &DB{DB: sqlDB, path: path}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return d, nil
}

// OpenMemory creates an in-memory SQLite database (useful for testing).
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}
	// Every pooled connection to :memory: would see its own empty database.
	sqlDB.SetMaxOpenConns(1)

	d := &DB{DB: sqlDB, path: ":memory:"}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return d, nil
}

// Path returns the file the database was opened from.
func (d *DB) Path() string { return d.path }

// migrate runs all schema migrations.
func (d *DB) migrate() error {
	_, err := d.Exec(schema)
	return err
}

// schema contains the full database schema. New tables are added here.
const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS cache_generations (
    name TEXT PRIMARY KEY,
    seq INTEGER NOT NULL,
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_generations_seq ON cache_generations(seq);

CREATE TABLE IF NOT EXISTS cache_entries (
    generation TEXT NOT NULL REFERENCES cache_generations(name) ON DELETE CASCADE,
    key TEXT NOT NULL,
    status INTEGER NOT NULL,
    response_type TEXT NOT NULL DEFAULT 'basic',
    headers TEXT NOT NULL DEFAULT '{}',
    body BLOB NOT NULL,
    compressed INTEGER NOT NULL DEFAULT 0,
    digest TEXT NOT NULL DEFAULT '',
    stored_at TEXT NOT NULL DEFAULT '',
    PRIMARY KEY(generation, key)
);

CREATE INDEX IF NOT EXISTS idx_entries_generation ON cache_entries(generation);

CREATE TABLE IF NOT EXISTS cache_events (
    id TEXT PRIMARY KEY,
    timestamp TEXT NOT NULL,
    action TEXT NOT NULL,
    generation TEXT NOT NULL DEFAULT '',
    worker TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    paths TEXT NOT NULL DEFAULT '[]',
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_timestamp ON cache_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_generation ON cache_events(generation);
`
