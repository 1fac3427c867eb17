package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS history (
	id            TEXT PRIMARY KEY,
	url           TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	format_id     TEXT NOT NULL DEFAULT '',
	output_path   TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	file_size     INTEGER,
	duration      REAL,
	thumbnail     TEXT NOT NULL DEFAULT '',
	file_type     TEXT NOT NULL DEFAULT '',
	date_added    INTEGER NOT NULL,
	downloaded_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_history_status ON history(status);
CREATE INDEX IF NOT EXISTS idx_history_date_added ON history(date_added);
`

// Open opens (creating if needed) the SQLite database at path and applies the schema.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers, which is all a desktop client needs
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{`PRAGMA busy_timeout = 5000`, `PRAGMA journal_mode = WAL`} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to configure database: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}
