// ABOUTME: Tests for cross-channel linked contact persistence
// ABOUTME: Covers group upserts, reverse index, batch reads and unlink semantics

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertLinkedContact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertLinkedContact(ctx, "+15551234567", "whatsapp", "1555@c.us", "Alice"))
	require.NoError(t, s.UpsertLinkedContact(ctx, "+15551234567", "telegram", "tg_42", "Alice T"))

	lc, err := s.GetLinkedContact(ctx, "+15551234567")
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", lc.Phone)
	require.Len(t, lc.Channels, 2)

	phone, err := s.PhoneForContact(ctx, "tg_42")
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", phone)
}

func TestUpsertLinkedContact_UpdatesDisplayName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertLinkedContact(ctx, "+15551234567", "whatsapp", "1555@c.us", "Alice"))
	require.NoError(t, s.UpsertLinkedContact(ctx, "+15551234567", "whatsapp", "1555@c.us", "Alice Updated"))

	lc, err := s.GetLinkedContact(ctx, "+15551234567")
	require.NoError(t, err)
	require.Len(t, lc.Channels, 1, "re-linking the same pair does not duplicate the entry")
	assert.Equal(t, "Alice Updated", lc.Channels[0].DisplayName)
}

func TestGetLinkedContact_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetLinkedContact(context.Background(), "+19990000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetLinkedContactsBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertLinkedContact(ctx, "+15551111111", "whatsapp", "w1", ""))
	require.NoError(t, s.UpsertLinkedContact(ctx, "+15552222222", "whatsapp", "w2", ""))
	require.NoError(t, s.UpsertLinkedContact(ctx, "+15552222222", "telegram", "t2", ""))

	groups, err := s.GetLinkedContactsBatch(ctx, []string{"+15551111111", "+15552222222", "+15553333333"})
	require.NoError(t, err)
	require.Len(t, groups, 2, "unknown phones are absent, not errors")
	assert.Len(t, groups["+15551111111"].Channels, 1)
	assert.Len(t, groups["+15552222222"].Channels, 2)

	empty, err := s.GetLinkedContactsBatch(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPhoneForContact_NotLinked(t *testing.T) {
	s := newTestStore(t)

	_, err := s.PhoneForContact(context.Background(), "stranger")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnlinkContact_KeepsNonEmptyGroup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertLinkedContact(ctx, "+15551234567", "whatsapp", "w1", ""))
	require.NoError(t, s.UpsertLinkedContact(ctx, "+15551234567", "telegram", "t1", ""))

	require.NoError(t, s.UnlinkContact(ctx, "+15551234567", "telegram", "t1"))

	lc, err := s.GetLinkedContact(ctx, "+15551234567")
	require.NoError(t, err)
	require.Len(t, lc.Channels, 1)
	assert.Equal(t, "w1", lc.Channels[0].ContactID)

	// Reverse index for the unlinked contact is gone
	_, err = s.PhoneForContact(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)

	phone, err := s.PhoneForContact(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", phone)
}

func TestUnlinkContact_DeletesEmptyGroup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertLinkedContact(ctx, "+15551234567", "whatsapp", "w1", ""))
	require.NoError(t, s.UnlinkContact(ctx, "+15551234567", "whatsapp", "w1"))

	_, err := s.GetLinkedContact(ctx, "+15551234567")
	assert.ErrorIs(t, err, ErrNotFound)
}
