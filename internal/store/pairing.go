// ABOUTME: Pairing (admission control) state machine persistence
// ABOUTME: Transitions run inside transactions so pending/approved/denied stay mutually exclusive

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreatePairingRequest persists a new pending request unless the contact is
// already approved, still inside a denial cooldown, or already pending. The
// refusal is returned as a typed reason, not an error; err is reserved for
// store failures. The tri-state check and the insert share one transaction
// so concurrent first messages cannot double-create a request.
func (s *SQLiteStore) CreatePairingRequest(ctx context.Context, req *PairingRequest) (RefusalReason, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RefusalNone, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int

	err = tx.QueryRowContext(ctx, `SELECT 1 FROM pairing_approved WHERE contact_id = ?`, req.ContactID).Scan(&exists)
	if err != nil && err != sql.ErrNoRows {
		return RefusalNone, fmt.Errorf("checking approved state: %w", err)
	}
	if err == nil {
		return RefusalAlreadyApproved, nil
	}

	err = tx.QueryRowContext(ctx, `
		SELECT 1 FROM pairing_denied WHERE contact_id = ? AND expires_at > ?
	`, req.ContactID, s.timestamp()).Scan(&exists)
	if err != nil && err != sql.ErrNoRows {
		return RefusalNone, fmt.Errorf("checking denied state: %w", err)
	}
	if err == nil {
		return RefusalDeniedCooldown, nil
	}

	requestedAt := req.RequestedAt
	if requestedAt.IsZero() {
		requestedAt = s.now()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pairing_pending
			(contact_id, phone_number, display_name, profile_pic_url, channel_id, first_message, requested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, req.ContactID, req.PhoneNumber, nullString(req.DisplayName), nullString(req.ProfilePicURL),
		nullString(req.ChannelID), nullString(req.FirstMessage), formatTime(requestedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return RefusalAlreadyPending, nil
		}
		return RefusalNone, fmt.Errorf("inserting pairing request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return RefusalNone, fmt.Errorf("committing pairing request: %w", err)
	}

	s.logger.Debug("created pairing request", "channel", req.ChannelID)
	return RefusalNone, nil
}

// GetPairingRequest retrieves a pending request by contact id.
// Returns ErrNotFound if no pending request exists.
func (s *SQLiteStore) GetPairingRequest(ctx context.Context, contactID string) (*PairingRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT contact_id, phone_number, display_name, profile_pic_url, channel_id, first_message, requested_at
		FROM pairing_pending WHERE contact_id = ?
	`, contactID)
	return scanPairingRequest(row.Scan)
}

// ApproveContact promotes a contact to approved, merging display-name and
// profile info from any pending request, and deletes the pending and denied
// rows in the same transaction. Approval is permanent until revoked.
func (s *SQLiteStore) ApproveContact(ctx context.Context, contactID, approvedBy, tier, notes string) (*ApprovedContact, error) {
	if tier == "" {
		tier = TierStandard
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	approved := &ApprovedContact{
		ContactID:  contactID,
		ApprovedAt: s.now().UTC(),
		ApprovedBy: approvedBy,
		Tier:       tier,
		Notes:      notes,
	}

	// Merge profile info from the pending request, when one exists.
	pending, err := scanPairingRequest(tx.QueryRowContext(ctx, `
		SELECT contact_id, phone_number, display_name, profile_pic_url, channel_id, first_message, requested_at
		FROM pairing_pending WHERE contact_id = ?
	`, contactID).Scan)
	if err != nil && err != ErrNotFound {
		return nil, fmt.Errorf("loading pending request: %w", err)
	}
	if pending != nil {
		approved.PhoneNumber = pending.PhoneNumber
		approved.DisplayName = pending.DisplayName
		approved.ChannelID = pending.ChannelID
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pairing_approved
			(contact_id, phone_number, display_name, channel_id, approved_at, approved_by, tier, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(contact_id) DO UPDATE SET
			approved_at = excluded.approved_at,
			approved_by = excluded.approved_by,
			tier = excluded.tier,
			notes = excluded.notes
	`, approved.ContactID, approved.PhoneNumber, nullString(approved.DisplayName),
		nullString(approved.ChannelID), formatTime(approved.ApprovedAt), approved.ApprovedBy,
		approved.Tier, nullString(approved.Notes))
	if err != nil {
		return nil, fmt.Errorf("inserting approved contact: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pairing_pending WHERE contact_id = ?`, contactID); err != nil {
		return nil, fmt.Errorf("deleting pending request: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pairing_denied WHERE contact_id = ?`, contactID); err != nil {
		return nil, fmt.Errorf("deleting denied record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing approval: %w", err)
	}

	s.logger.Debug("approved contact", "tier", tier, "approved_by", approvedBy)
	return approved, nil
}

// DenyContact writes a denial record with the given cooldown and deletes the
// pending request in the same transaction. After the cooldown elapses the
// contact may submit a new pairing request.
func (s *SQLiteStore) DenyContact(ctx context.Context, contactID, deniedBy, reason string, cooldown time.Duration) (*DeniedContact, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	denied := &DeniedContact{
		ContactID: contactID,
		DeniedAt:  s.now().UTC(),
		DeniedBy:  deniedBy,
		Reason:    reason,
	}
	denied.ExpiresAt = denied.DeniedAt.Add(cooldown)

	pending, err := scanPairingRequest(tx.QueryRowContext(ctx, `
		SELECT contact_id, phone_number, display_name, profile_pic_url, channel_id, first_message, requested_at
		FROM pairing_pending WHERE contact_id = ?
	`, contactID).Scan)
	if err != nil && err != ErrNotFound {
		return nil, fmt.Errorf("loading pending request: %w", err)
	}
	if pending != nil {
		denied.PhoneNumber = pending.PhoneNumber
		denied.DisplayName = pending.DisplayName
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pairing_denied
			(contact_id, phone_number, display_name, denied_at, denied_by, reason, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(contact_id) DO UPDATE SET
			denied_at = excluded.denied_at,
			denied_by = excluded.denied_by,
			reason = excluded.reason,
			expires_at = excluded.expires_at
	`, denied.ContactID, denied.PhoneNumber, nullString(denied.DisplayName),
		formatTime(denied.DeniedAt), denied.DeniedBy, nullString(denied.Reason),
		formatTime(denied.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("inserting denied contact: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pairing_pending WHERE contact_id = ?`, contactID); err != nil {
		return nil, fmt.Errorf("deleting pending request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing denial: %w", err)
	}

	s.logger.Debug("denied contact", "denied_by", deniedBy)
	return denied, nil
}

// RevokeApproval deletes the approved record. Pending or denied state is not
// resurrected. Returns ErrNotFound if the contact was not approved.
func (s *SQLiteStore) RevokeApproval(ctx context.Context, contactID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM pairing_approved WHERE contact_id = ?`, contactID)
	if err != nil {
		return fmt.Errorf("revoking approval: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.logger.Debug("revoked approval")
	return nil
}

// GetApprovedContact retrieves an approved contact by id.
// Returns ErrNotFound if the contact is not approved.
func (s *SQLiteStore) GetApprovedContact(ctx context.Context, contactID string) (*ApprovedContact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT contact_id, phone_number, display_name, channel_id, approved_at, approved_by, tier, notes
		FROM pairing_approved WHERE contact_id = ?
	`, contactID)
	return scanApprovedContact(row.Scan)
}

// GetDeniedContact retrieves an active denial record by contact id.
// Expired denials are treated as absent. Returns ErrNotFound otherwise.
func (s *SQLiteStore) GetDeniedContact(ctx context.Context, contactID string) (*DeniedContact, error) {
	var d DeniedContact
	var displayName, reason sql.NullString
	var deniedAt, expiresAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT contact_id, phone_number, display_name, denied_at, denied_by, reason, expires_at
		FROM pairing_denied WHERE contact_id = ? AND expires_at > ?
	`, contactID, s.timestamp()).Scan(
		&d.ContactID, &d.PhoneNumber, &displayName, &deniedAt, &d.DeniedBy, &reason, &expiresAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying denied contact: %w", err)
	}

	d.DisplayName = displayName.String
	d.Reason = reason.String
	if d.DeniedAt, err = parseTime(deniedAt); err != nil {
		return nil, err
	}
	if d.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	return &d, nil
}

// IsContactApproved reports whether an approved record exists.
func (s *SQLiteStore) IsContactApproved(ctx context.Context, contactID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM pairing_approved WHERE contact_id = ?`, contactID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying approved state: %w", err)
	}
	return true, nil
}

// IsContactDenied reports whether the contact is inside a denial cooldown.
func (s *SQLiteStore) IsContactDenied(ctx context.Context, contactID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM pairing_denied WHERE contact_id = ? AND expires_at > ?
	`, contactID, s.timestamp()).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying denied state: %w", err)
	}
	return true, nil
}

// ListPendingRequests returns pending requests sorted by request time
// descending. If limit is 0 or negative, a default of 50 is used.
func (s *SQLiteStore) ListPendingRequests(ctx context.Context, limit, offset int) ([]*PairingRequest, error) {
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT contact_id, phone_number, display_name, profile_pic_url, channel_id, first_message, requested_at
		FROM pairing_pending
		ORDER BY requested_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying pending requests: %w", err)
	}
	defer rows.Close()

	var out []*PairingRequest
	for rows.Next() {
		req, err := scanPairingRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// ListApprovedContacts returns approved contacts sorted by approval time
// descending. If limit is 0 or negative, a default of 50 is used.
func (s *SQLiteStore) ListApprovedContacts(ctx context.Context, limit, offset int) ([]*ApprovedContact, error) {
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT contact_id, phone_number, display_name, channel_id, approved_at, approved_by, tier, notes
		FROM pairing_approved
		ORDER BY approved_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying approved contacts: %w", err)
	}
	defer rows.Close()

	var out []*ApprovedContact
	for rows.Next() {
		ac, err := scanApprovedContact(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, ac)
	}
	return out, rows.Err()
}

func scanPairingRequest(scan func(dest ...any) error) (*PairingRequest, error) {
	var req PairingRequest
	var displayName, profilePic, channelID, firstMessage sql.NullString
	var requestedAt string

	err := scan(&req.ContactID, &req.PhoneNumber, &displayName, &profilePic, &channelID, &firstMessage, &requestedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning pairing request: %w", err)
	}

	req.DisplayName = displayName.String
	req.ProfilePicURL = profilePic.String
	req.ChannelID = channelID.String
	req.FirstMessage = firstMessage.String
	if req.RequestedAt, err = parseTime(requestedAt); err != nil {
		return nil, err
	}
	return &req, nil
}

func scanApprovedContact(scan func(dest ...any) error) (*ApprovedContact, error) {
	var ac ApprovedContact
	var displayName, channelID, notes sql.NullString
	var approvedAt string

	err := scan(&ac.ContactID, &ac.PhoneNumber, &displayName, &channelID, &approvedAt, &ac.ApprovedBy, &ac.Tier, &notes)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning approved contact: %w", err)
	}

	ac.DisplayName = displayName.String
	ac.ChannelID = channelID.String
	ac.Notes = notes.String
	if ac.ApprovedAt, err = parseTime(approvedAt); err != nil {
		return nil, err
	}
	return &ac, nil
}

// nullString returns nil for empty strings, otherwise the string itself
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}
