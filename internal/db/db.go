package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Open creates or opens a SQLite database at the given path with WAL mode
// and foreign keys enabled. ":memory:" is accepted for tests.
func Open(dbPath string) (*sql.DB, error) {
	// The pragmas ride on the DSN so every pooled connection gets them;
	// foreign_keys in particular is per-connection state. WAL keeps analyzer
	// reads off the ingest cycle's write lock.
	const params = "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	var dsn string
	if dbPath == ":memory:" {
		dsn = "file::memory:" + params + "&cache=shared"
	} else {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
		dsn = "file:" + dbPath + params
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if dbPath == ":memory:" {
		// A shared-cache memory db disappears when its last connection
		// closes; pin the pool to one so it lives for the test.
		db.SetMaxOpenConns(1)
	}

	return db, nil
}

// Migrate runs the schema creation SQL. Safe to call multiple times due to IF NOT EXISTS.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Record schema version 1 if not already present.
	_, err := db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (1)`)
	if err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}

	return nil
}
