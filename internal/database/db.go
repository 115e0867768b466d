// Copyright (c) 2025, the PixelStudio contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package database provides the SQLite persistence layer for licenses,
// activations, and the validation audit log.
//
// WRITE CONCURRENCY MODEL:
//
// Single writer connection with a read-only reader pool:
//   - writerConn: one connection (SetMaxOpenConns=1) for all writes
//   - readerPool: read-only connection pool for concurrent reads
//   - BeginWrite: uses writerConn, fully serialized by writerMu
//   - WAL mode allows concurrent readers during writes
//
// Serializing write transactions this way makes the activate flow's
// limit-check-then-insert atomic per license without SQLITE_BUSY errors:
// two concurrent activations cannot both pass the counter check.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const connectionSetupTimeout = 5 * time.Second

type DB struct {
	writerConn *sql.DB
	readerPool *sql.DB

	// writerConn has a single connection, but BeginTx does not queue and
	// fails with "cannot start a transaction within a transaction". This
	// mutex serializes write transactions properly.
	writerMu sync.Mutex

	logger zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Tx wraps a write transaction and releases the writer mutex when the
// transaction completes.
type Tx struct {
	*sql.Tx
	unlockOnce sync.Once
	unlock     func()
}

// Commit commits the transaction and releases the writer mutex on success.
// On failure the transaction remains active; the caller must Rollback.
func (t *Tx) Commit() error {
	err := t.Tx.Commit()
	if err == nil {
		t.unlockOnce.Do(t.unlock)
	}
	return err
}

// Rollback rolls back the transaction and always releases the writer
// mutex; ErrTxDone after a successful commit is harmless.
func (t *Tx) Rollback() error {
	err := t.Tx.Rollback()
	t.unlockOnce.Do(t.unlock)
	return err
}

var connectionPragmas = []struct {
	stmt          string
	allowReadOnly bool
}{
	{stmt: "PRAGMA journal_mode = WAL", allowReadOnly: false},
	{stmt: "PRAGMA synchronous = NORMAL", allowReadOnly: false},
	{stmt: "PRAGMA foreign_keys = ON", allowReadOnly: true},
	{stmt: "PRAGMA busy_timeout = 5000", allowReadOnly: true},
}

func applyConnectionPragmas(ctx context.Context, conn *sql.DB, readOnly bool) error {
	for _, pragma := range connectionPragmas {
		if readOnly && !pragma.allowReadOnly {
			continue
		}
		if _, err := conn.ExecContext(ctx, pragma.stmt); err != nil {
			return fmt.Errorf("apply connection pragma %q: %w", pragma.stmt, err)
		}
	}
	return nil
}

// New opens (creating if necessary) the license database at databasePath
// and runs pending migrations.
func New(databasePath string, logger zerolog.Logger) (*DB, error) {
	logger = logger.With().Str("component", "database").Logger()

	dir := filepath.Dir(databasePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	writerConn, err := sql.Open("sqlite", databasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open writer connection at %s: %w", databasePath, err)
	}

	// Single connection serializes all writes.
	writerConn.SetMaxOpenConns(1)
	writerConn.SetMaxIdleConns(1)
	writerConn.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
	defer cancel()
	if err := applyConnectionPragmas(ctx, writerConn, false); err != nil {
		writerConn.Close()
		return nil, err
	}

	readerPool, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", databasePath))
	if err != nil {
		writerConn.Close()
		return nil, fmt.Errorf("failed to open reader pool at %s: %w", databasePath, err)
	}
	readerPool.SetMaxIdleConns(5)
	readerPool.SetConnMaxLifetime(0)

	db := &DB{
		writerConn: writerConn,
		readerPool: readerPool,
		logger:     logger,
	}

	if err := db.migrate(); err != nil {
		writerConn.Close()
		readerPool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := applyConnectionPragmas(ctx, readerPool, true); err != nil {
		writerConn.Close()
		readerPool.Close()
		return nil, err
	}

	logger.Debug().Str("path", databasePath).Msg("database initialized")

	return db, nil
}

// ExecContext routes writes to the writer connection.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db.writerMu.Lock()
	defer db.writerMu.Unlock()
	return db.writerConn.ExecContext(ctx, query, args...)
}

// QueryContext routes reads to the reader pool.
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.readerPool.QueryContext(ctx, query, args...)
}

// QueryRowContext routes reads to the reader pool.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.readerPool.QueryRowContext(ctx, query, args...)
}

// BeginWrite starts a serialized write transaction. The writer mutex is
// held until Commit or Rollback.
func (db *DB) BeginWrite(ctx context.Context) (*Tx, error) {
	db.writerMu.Lock()

	tx, err := db.writerConn.BeginTx(ctx, nil)
	if err != nil {
		db.writerMu.Unlock()
		return nil, err
	}

	return &Tx{Tx: tx, unlock: db.writerMu.Unlock}, nil
}

// Close shuts down both connection pools. Safe to call more than once.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		if err := db.readerPool.Close(); err != nil {
			db.closeErr = err
		}
		if err := db.writerConn.Close(); err != nil {
			db.closeErr = err
		}
	})
	return db.closeErr
}

// migrate applies embedded schema migrations in lexical order, tracking
// the applied set in schema_migrations.
func (db *DB) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := db.writerConn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(entries)

	for _, entry := range entries {
		name := filepath.Base(entry)

		var applied int
		if err := db.writerConn.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM schema_migrations WHERE name = ?", name).Scan(&applied); err != nil {
			return err
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(entry)
		if err != nil {
			return err
		}

		tx, err := db.writerConn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (name) VALUES (?)", name); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}

		db.logger.Debug().Str("migration", name).Msg("applied migration")
	}

	return nil
}
