// Package db persists the matchmaker's server and address records in SQLite.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Database is a single-connection SQLite handle. Writes are serialized
// through mu; reads go straight to the pool.
type Database struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func pragmasFor(path string) []string {
	p := []string{"PRAGMA foreign_keys=ON"}
	if path != MemoryPath {
		p = append(p, "PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000")
	}
	return p
}

// NewDatabase opens the database at path, creating its directory first.
// MemoryPath yields a fresh database that lives as long as the handle.
func NewDatabase(path string) (*Database, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	// An in-memory database is private to the connection that made it.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	for _, pragma := range pragmasFor(path) {
		if _, err := conn.Exec(pragma); err != nil {
			log.Warn().Err(err).Str("pragma", pragma).Msg("sqlite pragma rejected")
		}
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping database %s: %w", path, err)
	}

	log.Info().Str("path", path).Msg("database opened")
	return &Database{db: conn, path: path}, nil
}

// Path is the location passed to NewDatabase.
func (d *Database) Path() string { return d.path }

func (d *Database) Close() error { return d.db.Close() }

// Exec runs a statement that returns no rows.
func (d *Database) Exec(query string, args ...any) (sql.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Exec(query, args...)
}

func (d *Database) Query(query string, args ...any) (*sql.Rows, error) {
	return d.db.Query(query, args...)
}

func (d *Database) QueryRow(query string, args ...any) *sql.Row {
	return d.db.QueryRow(query, args...)
}

// Transaction runs fn inside a transaction, committing when fn returns nil
// and rolling back otherwise.
func (d *Database) Transaction(fn func(tx *sql.Tx) error) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				log.Warn().Err(rbErr).Msg("transaction rollback failed")
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
