// ABOUTME: Pause state persistence for per-contact auto-reply suspension
// ABOUTME: Covers the global kill switch and timed or indefinite pauses

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/2389/hearth-gateway/internal/logutil"
)

// SetPause writes a pause record for the contact. A ttl of zero means the
// pause is indefinite. Overwrites any existing pause for the same contact.
func (s *SQLiteStore) SetPause(ctx context.Context, contactID, reason string, ttl time.Duration) error {
	now := s.now().UTC()
	var expiresAt any
	if ttl > 0 {
		expiresAt = formatTime(now.Add(ttl))
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pause_state (contact_id, reason, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(contact_id) DO UPDATE SET
			reason = excluded.reason,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, contactID, reason, formatTime(now), expiresAt)
	if err != nil {
		return fmt.Errorf("setting pause: %w", err)
	}

	s.logger.Debug("pause set", "contact", logutil.MaskContactID(contactID), "reason", reason, "indefinite", ttl <= 0)
	return nil
}

// ClearPause removes the pause record for the contact. Returns whether a
// record existed.
func (s *SQLiteStore) ClearPause(ctx context.Context, contactID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM pause_state WHERE contact_id = ?`, contactID)
	if err != nil {
		return false, fmt.Errorf("clearing pause: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}

	if rows > 0 {
		s.logger.Debug("pause cleared", "contact", logutil.MaskContactID(contactID))
	}
	return rows > 0, nil
}

// IsPaused reports whether automated replies are suspended for the contact.
// The global kill switch is checked before the per-contact record. Expired
// pauses are treated as absent.
func (s *SQLiteStore) IsPaused(ctx context.Context, contactID string) (bool, string, error) {
	if contactID != PauseAll {
		paused, reason, err := s.isPausedOne(ctx, PauseAll)
		if err != nil {
			return false, "", err
		}
		if paused {
			return true, reason, nil
		}
	}
	return s.isPausedOne(ctx, contactID)
}

func (s *SQLiteStore) isPausedOne(ctx context.Context, contactID string) (bool, string, error) {
	var reason string
	err := s.db.QueryRowContext(ctx, `
		SELECT reason FROM pause_state
		WHERE contact_id = ? AND (expires_at IS NULL OR expires_at > ?)
	`, contactID, s.timestamp()).Scan(&reason)

	if err == sql.ErrNoRows {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("querying pause state: %w", err)
	}
	return true, reason, nil
}

// GetPause retrieves the pause record for a contact.
// Returns ErrNotFound if no active pause exists.
func (s *SQLiteStore) GetPause(ctx context.Context, contactID string) (*PauseRecord, error) {
	var rec PauseRecord
	var createdAt string
	var expiresAt sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT contact_id, reason, created_at, expires_at FROM pause_state
		WHERE contact_id = ? AND (expires_at IS NULL OR expires_at > ?)
	`, contactID, s.timestamp()).Scan(&rec.ContactID, &rec.Reason, &createdAt, &expiresAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying pause: %w", err)
	}

	rec.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t, err := parseTime(expiresAt.String)
		if err != nil {
			return nil, err
		}
		rec.ExpiresAt = &t
	}

	return &rec, nil
}
