// ABOUTME: Cross-channel contact linking persistence keyed by phone number
// ABOUTME: Maintains linked groups, per-channel entries and the reverse index

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// UpsertLinkedContact adds a (channelID, contactID) entry to the linked
// group for the phone, creating the group if needed, or updates the display
// name of an existing entry. The reverse index row for the contact is
// maintained in the same transaction.
func (s *SQLiteStore) UpsertLinkedContact(ctx context.Context, phone, channelID, contactID, displayName string) error {
	now := s.timestamp()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO linked_groups (phone, linked_at, last_activity)
		VALUES (?, ?, ?)
		ON CONFLICT(phone) DO UPDATE SET last_activity = excluded.last_activity
	`, phone, now, now)
	if err != nil {
		return fmt.Errorf("upserting linked group: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO linked_contacts (phone, channel_id, contact_id, display_name)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(phone, channel_id, contact_id) DO UPDATE SET
			display_name = excluded.display_name
	`, phone, channelID, contactID, nullString(displayName))
	if err != nil {
		return fmt.Errorf("upserting linked contact: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO linked_index (contact_id, phone)
		VALUES (?, ?)
		ON CONFLICT(contact_id) DO UPDATE SET phone = excluded.phone
	`, contactID, phone)
	if err != nil {
		return fmt.Errorf("upserting reverse index: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing link: %w", err)
	}

	s.logger.Debug("linked contact", "channel", channelID)
	return nil
}

// GetLinkedContact retrieves the linked group for a phone number.
// Returns ErrNotFound if no group exists.
func (s *SQLiteStore) GetLinkedContact(ctx context.Context, phone string) (*LinkedContact, error) {
	groups, err := s.GetLinkedContactsBatch(ctx, []string{phone})
	if err != nil {
		return nil, err
	}
	lc, ok := groups[phone]
	if !ok {
		return nil, ErrNotFound
	}
	return lc, nil
}

// GetLinkedContactsBatch retrieves linked groups for many phone numbers in
// a single query. Phones with no group are absent from the result map.
func (s *SQLiteStore) GetLinkedContactsBatch(ctx context.Context, phones []string) (map[string]*LinkedContact, error) {
	result := make(map[string]*LinkedContact, len(phones))
	if len(phones) == 0 {
		return result, nil
	}

	placeholders := strings.Repeat("?,", len(phones))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(phones))
	for i, p := range phones {
		args[i] = p
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT g.phone, g.linked_at, g.last_activity, c.channel_id, c.contact_id, c.display_name
		FROM linked_groups g
		JOIN linked_contacts c ON c.phone = g.phone
		WHERE g.phone IN (%s)
		ORDER BY g.phone, c.channel_id
	`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("querying linked contacts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var phone, linkedAt, lastActivity, channelID, contactID string
		var displayName sql.NullString
		if err := rows.Scan(&phone, &linkedAt, &lastActivity, &channelID, &contactID, &displayName); err != nil {
			return nil, fmt.Errorf("scanning linked contact row: %w", err)
		}

		lc, ok := result[phone]
		if !ok {
			lc = &LinkedContact{Phone: phone}
			if lc.LinkedAt, err = parseTime(linkedAt); err != nil {
				return nil, err
			}
			if lc.LastActivity, err = parseTime(lastActivity); err != nil {
				return nil, err
			}
			result[phone] = lc
		}
		lc.Channels = append(lc.Channels, LinkedEntry{
			ChannelID:   channelID,
			ContactID:   contactID,
			DisplayName: displayName.String,
		})
	}

	return result, rows.Err()
}

// PhoneForContact resolves a contact id to its linked phone number via the
// reverse index. Returns ErrNotFound if the contact is not linked.
func (s *SQLiteStore) PhoneForContact(ctx context.Context, contactID string) (string, error) {
	var phone string
	err := s.db.QueryRowContext(ctx, `SELECT phone FROM linked_index WHERE contact_id = ?`, contactID).Scan(&phone)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying reverse index: %w", err)
	}
	return phone, nil
}

// UnlinkContact removes one channel entry from the linked group. The group
// itself is deleted only when it becomes empty; the reverse-index row for
// the contact is always deleted.
func (s *SQLiteStore) UnlinkContact(ctx context.Context, phone, channelID, contactID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM linked_contacts WHERE phone = ? AND channel_id = ? AND contact_id = ?
	`, phone, channelID, contactID)
	if err != nil {
		return fmt.Errorf("deleting linked contact: %w", err)
	}

	var remaining int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM linked_contacts WHERE phone = ?`, phone).Scan(&remaining)
	if err != nil {
		return fmt.Errorf("counting remaining entries: %w", err)
	}
	if remaining == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM linked_groups WHERE phone = ?`, phone); err != nil {
			return fmt.Errorf("deleting empty group: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM linked_index WHERE contact_id = ?`, contactID); err != nil {
		return fmt.Errorf("deleting reverse index: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing unlink: %w", err)
	}

	s.logger.Debug("unlinked contact", "channel", channelID, "group_empty", remaining == 0)
	return nil
}
