// Package db manages the embedded libsql database backing job and
// item records.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/tursodatabase/go-libsql"
)

// Connect opens (creating if needed) an embedded libsql database at
// path, with WAL journaling for concurrent readers while the runner
// writes.
func Connect(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %s: %w", dir, err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		file, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("create database file %s: %w", path, err)
		}
		file.Close()
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL&_synchronous=NORMAL", path)
	conn, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql connection: %w", err)
	}

	var one int
	if err := conn.QueryRow("SELECT 1").Scan(&one); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database connectivity check failed: %w", err)
	}

	return conn, nil
}
