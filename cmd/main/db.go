package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// openDB opens the request log database, creating its parent directory, and
// checks that the connection works.
func openDB(driver, dataSource string) (*sql.DB, error) {
	path, _, _ := strings.Cut(strings.TrimPrefix(dataSource, "file:"), "?")
	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, dataSource)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// setupSchemas creates every table the server uses.
func setupSchemas(db *sql.DB) error {
	if err := setupAuthSchema(db); err != nil {
		return fmt.Errorf("auth schema: %w", err)
	}
	if err := setupStatsSchema(db); err != nil {
		return fmt.Errorf("stats schema: %w", err)
	}
	return nil
}
