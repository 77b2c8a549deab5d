// ABOUTME: SQLite persistence using modernc.org/sqlite with automatic schema creation.
// ABOUTME: Holds conversations, their messages, and the persona definitions.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateSession is returned when creating a conversation whose id is
// already taken.
var ErrDuplicateSession = errors.New("conversation already exists")

// SQLiteStore persists conversations, messages, and personas in one SQLite
// file. Safe for concurrent use; writes go through database/sql's pool.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path. The schema is
// created if it doesn't exist and parent directories are created as needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps readers (console, API) unblocked while session loops write
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS personas (
			name          TEXT PRIMARY KEY,
			display_name  TEXT NOT NULL,
			system_prompt TEXT NOT NULL,
			traits        TEXT NOT NULL DEFAULT '[]',
			avatar_color  TEXT NOT NULL,
			temperature   REAL NOT NULL,
			target_length INTEGER NOT NULL,
			max_tokens    INTEGER NOT NULL DEFAULT 0,
			provider      TEXT NOT NULL DEFAULT '',
			model         TEXT NOT NULL DEFAULT '',
			updated_at    TEXT NOT NULL,

			CHECK (temperature >= 0.0 AND temperature <= 2.0),
			CHECK (target_length > 0)
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id            TEXT PRIMARY KEY,
			topic         TEXT NOT NULL DEFAULT '',
			participants  TEXT NOT NULL,
			status        TEXT NOT NULL DEFAULT 'idle',
			status_reason TEXT,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,

			CHECK (status IN ('idle', 'running', 'stopping', 'stopped'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated
			ON conversations(updated_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id              INTEGER PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			seq             INTEGER NOT NULL,
			speaker         TEXT NOT NULL,
			content         TEXT NOT NULL,
			provider        TEXT NOT NULL DEFAULT '',
			latency_ms      INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,

			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,
			UNIQUE (conversation_id, seq),
			CHECK (seq > 0),
			CHECK (latency_ms >= 0)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so check first
	migrations := []struct {
		check  string // Query to check if migration is needed
		apply  string // Query to apply the migration
		table  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('messages') WHERE name = 'latency_ms'`,
			apply:  `ALTER TABLE messages ADD COLUMN latency_ms INTEGER NOT NULL DEFAULT 0`,
			table:  "messages",
			column: "latency_ms",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('conversations') WHERE name = 'status_reason'`,
			apply:  `ALTER TABLE conversations ADD COLUMN status_reason TEXT`,
			table:  "conversations",
			column: "status_reason",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			// Column already exists, skip
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Ping verifies the database is reachable. Readiness checks use it.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString maps "" to NULL for nullable text columns.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
