// ABOUTME: Conversation history persistence with dedup, size cap and rolling TTL
// ABOUTME: Insert, trim and TTL refresh share one transaction per append

package store

import (
	"context"
	"fmt"
	"time"
)

// AddHistoryMessage appends a message to the contact's log. The message id
// is the dedup key: re-adding an id that already exists for the contact is
// a no-op returning false. A successful insert trims the log to the newest
// maxMessages entries and refreshes the contact's TTL, all in one
// transaction so concurrent appends cannot interleave.
func (s *SQLiteStore) AddHistoryMessage(ctx context.Context, contactID string, msg *HistoryMessage, maxMessages int, ttl time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO history_messages (contact_id, message_id, role, content, type, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, contactID, msg.ID, msg.Role, msg.Content, msg.Type, formatTime(msg.Timestamp))
	if err != nil {
		return false, fmt.Errorf("inserting history message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		// Duplicate message id for this contact
		return false, nil
	}

	if maxMessages > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM history_messages
			WHERE contact_id = ? AND message_id NOT IN (
				SELECT message_id FROM history_messages
				WHERE contact_id = ?
				ORDER BY timestamp DESC, message_id DESC
				LIMIT ?
			)
		`, contactID, contactID, maxMessages)
		if err != nil {
			return false, fmt.Errorf("trimming history: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO history_contacts (contact_id, expires_at)
		VALUES (?, ?)
		ON CONFLICT(contact_id) DO UPDATE SET expires_at = excluded.expires_at
	`, contactID, formatTime(s.now().Add(ttl)))
	if err != nil {
		return false, fmt.Errorf("refreshing history TTL: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing history append: %w", err)
	}

	return true, nil
}

// GetHistory returns the newest messages for a contact, newest first.
// Expired history reads as empty. If limit is 0 or negative, a default of
// 50 is used.
func (s *SQLiteStore) GetHistory(ctx context.Context, contactID string, limit int) ([]*HistoryMessage, error) {
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.message_id, m.role, m.content, m.type, m.timestamp
		FROM history_messages m
		JOIN history_contacts c ON c.contact_id = m.contact_id
		WHERE m.contact_id = ? AND c.expires_at > ?
		ORDER BY m.timestamp DESC, m.message_id DESC
		LIMIT ?
	`, contactID, s.timestamp(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	return scanHistoryRows(rows)
}

// GetHistoryByTimeRange returns messages with from <= timestamp < to,
// newest first, bounded by limit.
func (s *SQLiteStore) GetHistoryByTimeRange(ctx context.Context, contactID string, from, to time.Time, limit int) ([]*HistoryMessage, error) {
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.message_id, m.role, m.content, m.type, m.timestamp
		FROM history_messages m
		JOIN history_contacts c ON c.contact_id = m.contact_id
		WHERE m.contact_id = ? AND c.expires_at > ?
			AND m.timestamp >= ? AND m.timestamp < ?
		ORDER BY m.timestamp DESC, m.message_id DESC
		LIMIT ?
	`, contactID, s.timestamp(), formatTime(from), formatTime(to), limit)
	if err != nil {
		return nil, fmt.Errorf("querying history range: %w", err)
	}
	defer rows.Close()

	return scanHistoryRows(rows)
}

// GetHistoryCount returns the number of stored messages for a contact.
// Expired history counts as zero.
func (s *SQLiteStore) GetHistoryCount(ctx context.Context, contactID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM history_messages m
		JOIN history_contacts c ON c.contact_id = m.contact_id
		WHERE m.contact_id = ? AND c.expires_at > ?
	`, contactID, s.timestamp()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting history: %w", err)
	}
	return count, nil
}

type historyRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanHistoryRows(rows historyRows) ([]*HistoryMessage, error) {
	var out []*HistoryMessage
	for rows.Next() {
		var msg HistoryMessage
		var ts string
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &msg.Type, &ts); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, err
		}
		msg.Timestamp = t
		out = append(out, &msg)
	}
	return out, rows.Err()
}
