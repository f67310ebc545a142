// ABOUTME: Append-only downstream message queue persistence
// ABOUTME: Admitted messages land here for the response-generation consumer

package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// EnqueueMessage appends a normalized payload to the downstream queue.
// An id is assigned when the message doesn't carry one.
func (s *SQLiteStore) EnqueueMessage(ctx context.Context, msg *QueuedMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = s.now().UTC()
	}

	hasMedia := 0
	if msg.HasMedia {
		hasMedia = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_messages
			(id, message_id, contact_id, contact_name, content, timestamp, has_media, type, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.MessageID, msg.ContactID, msg.ContactName, msg.Content,
		formatTime(msg.Timestamp), hasMedia, msg.Type, formatTime(msg.EnqueuedAt))
	if err != nil {
		return fmt.Errorf("enqueuing message: %w", err)
	}

	s.logger.Debug("enqueued message", "queue_id", msg.ID)
	return nil
}

// ListQueue returns queued messages in enqueue order, oldest first.
// If limit is 0 or negative, a default of 50 is used.
func (s *SQLiteStore) ListQueue(ctx context.Context, limit int) ([]*QueuedMessage, error) {
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, contact_id, contact_name, content, timestamp, has_media, type, enqueued_at
		FROM queue_messages
		ORDER BY enqueued_at ASC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying queue: %w", err)
	}
	defer rows.Close()

	var out []*QueuedMessage
	for rows.Next() {
		var m QueuedMessage
		var ts, enqueuedAt string
		var hasMedia int
		if err := rows.Scan(&m.ID, &m.MessageID, &m.ContactID, &m.ContactName, &m.Content,
			&ts, &hasMedia, &m.Type, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("scanning queue row: %w", err)
		}
		m.HasMedia = hasMedia != 0
		if m.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if m.EnqueuedAt, err = parseTime(enqueuedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
