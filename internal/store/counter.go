// ABOUTME: Fixed-window rate counters with atomic increment and window reset
// ABOUTME: One UPSERT performs increment-or-reset so concurrent checks never race

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// IncrementCounter atomically increments the contact's window counter and
// returns the post-increment count. If the current window has expired, the
// counter resets to 1 and a new window starts. Increment and conditional
// window reset happen in a single statement; there is no separate
// read-modify-write step for concurrent calls to race against.
func (s *SQLiteStore) IncrementCounter(ctx context.Context, contactID string, window time.Duration) (int, error) {
	now := s.now().UTC()
	nowStr := formatTime(now)
	expStr := formatTime(now.Add(window))

	var count int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rate_counters (contact_id, count, window_start, expires_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(contact_id) DO UPDATE SET
			count        = CASE WHEN rate_counters.expires_at <= excluded.window_start THEN 1 ELSE rate_counters.count + 1 END,
			window_start = CASE WHEN rate_counters.expires_at <= excluded.window_start THEN excluded.window_start ELSE rate_counters.window_start END,
			expires_at   = CASE WHEN rate_counters.expires_at <= excluded.window_start THEN excluded.expires_at ELSE rate_counters.expires_at END
		RETURNING count
	`, contactID, nowStr, expStr).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("incrementing counter: %w", err)
	}

	return count, nil
}

// GetCounter returns the contact's current window count without
// incrementing. Expired or missing counters report zero.
func (s *SQLiteStore) GetCounter(ctx context.Context, contactID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count FROM rate_counters
		WHERE contact_id = ? AND expires_at > ?
	`, contactID, s.timestamp()).Scan(&count)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying counter: %w", err)
	}
	return count, nil
}

// ResetCounter deletes the contact's window counter. Resetting a missing
// counter is a no-op.
func (s *SQLiteStore) ResetCounter(ctx context.Context, contactID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rate_counters WHERE contact_id = ?`, contactID); err != nil {
		return fmt.Errorf("resetting counter: %w", err)
	}
	return nil
}
