// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides schema creation, the purge janitor, and shared scan helpers

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	// now is replaceable in tests to simulate TTL expiry
	now func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Single connection: SQLite allows one writer at a time, and a single
	// connection keeps our multi-statement transactions serialized.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS pause_state (
			contact_id TEXT PRIMARY KEY,
			reason     TEXT NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT
		);

		CREATE TABLE IF NOT EXISTS rate_counters (
			contact_id   TEXT PRIMARY KEY,
			count        INTEGER NOT NULL,
			window_start TEXT NOT NULL,
			expires_at   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS pairing_pending (
			contact_id      TEXT PRIMARY KEY,
			phone_number    TEXT NOT NULL,
			display_name    TEXT,
			profile_pic_url TEXT,
			channel_id      TEXT,
			first_message   TEXT,
			requested_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_pending_requested
			ON pairing_pending(requested_at DESC);

		CREATE TABLE IF NOT EXISTS pairing_approved (
			contact_id   TEXT PRIMARY KEY,
			phone_number TEXT NOT NULL,
			display_name TEXT,
			channel_id   TEXT,
			approved_at  TEXT NOT NULL,
			approved_by  TEXT NOT NULL,
			tier         TEXT NOT NULL,
			notes        TEXT,

			CHECK (tier IN ('trusted', 'standard', 'restricted'))
		);

		CREATE INDEX IF NOT EXISTS idx_approved_at
			ON pairing_approved(approved_at DESC);

		CREATE TABLE IF NOT EXISTS pairing_denied (
			contact_id   TEXT PRIMARY KEY,
			phone_number TEXT NOT NULL,
			display_name TEXT,
			denied_at    TEXT NOT NULL,
			denied_by    TEXT NOT NULL,
			reason       TEXT,
			expires_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_denied_expires
			ON pairing_denied(expires_at);

		CREATE TABLE IF NOT EXISTS linked_groups (
			phone         TEXT PRIMARY KEY,
			linked_at     TEXT NOT NULL,
			last_activity TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS linked_contacts (
			phone        TEXT NOT NULL,
			channel_id   TEXT NOT NULL,
			contact_id   TEXT NOT NULL,
			display_name TEXT,

			PRIMARY KEY (phone, channel_id, contact_id),
			FOREIGN KEY (phone) REFERENCES linked_groups(phone)
		);

		CREATE TABLE IF NOT EXISTS linked_index (
			contact_id TEXT PRIMARY KEY,
			phone      TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS history_contacts (
			contact_id TEXT PRIMARY KEY,
			expires_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS history_messages (
			contact_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			type       TEXT NOT NULL,
			timestamp  TEXT NOT NULL,

			PRIMARY KEY (contact_id, message_id),
			CHECK (role IN ('user', 'assistant')),
			CHECK (type IN ('incoming', 'outgoing', 'fromMe'))
		);

		CREATE INDEX IF NOT EXISTS idx_history_contact_ts
			ON history_messages(contact_id, timestamp DESC);

		CREATE TABLE IF NOT EXISTS queue_messages (
			id           TEXT PRIMARY KEY,
			message_id   TEXT NOT NULL,
			contact_id   TEXT NOT NULL,
			contact_name TEXT NOT NULL,
			content      TEXT NOT NULL,
			timestamp    TEXT NOT NULL,
			has_media    INTEGER NOT NULL DEFAULT 0,
			type         TEXT NOT NULL,
			enqueued_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_queue_enqueued
			ON queue_messages(enqueued_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// PurgeExpired removes denial records, pauses, counters and history whose
// TTL has elapsed. Intended to run periodically; all deletes are idempotent.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) error {
	now := s.timestamp()

	purges := []struct {
		name  string
		query string
	}{
		{"denied", `DELETE FROM pairing_denied WHERE expires_at <= ?`},
		{"pauses", `DELETE FROM pause_state WHERE expires_at IS NOT NULL AND expires_at <= ?`},
		{"counters", `DELETE FROM rate_counters WHERE expires_at <= ?`},
		{"history", `DELETE FROM history_messages WHERE contact_id IN (
			SELECT contact_id FROM history_contacts WHERE expires_at <= ?)`},
		{"history contacts", `DELETE FROM history_contacts WHERE expires_at <= ?`},
	}

	for _, p := range purges {
		result, err := s.db.ExecContext(ctx, p.query, now)
		if err != nil {
			return fmt.Errorf("purging expired %s: %w", p.name, err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			s.logger.Debug("purged expired records", "kind", p.name, "count", n)
		}
	}

	return nil
}

// RunJanitor periodically purges expired records until ctx is cancelled.
func (s *SQLiteStore) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.PurgeExpired(ctx); err != nil {
				s.logger.Error("purging expired records", "error", err)
			}
		}
	}
}

// timestamp formats the current time for storage. RFC3339 in UTC compares
// lexicographically, so expiry checks can be plain string comparisons.
func (s *SQLiteStore) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored timestamp %q: %w", v, err)
	}
	return t, nil
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

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
