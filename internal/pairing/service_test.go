// ABOUTME: Tests for the pairing service over a real SQLite store
// ABOUTME: Covers event publication, policy accessors and state transitions

package pairing

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/hearth-gateway/internal/events"
	"github.com/2389/hearth-gateway/internal/store"
)

func newTestService(t *testing.T, cfg Config) (*Service, *events.Broadcaster) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	b := events.NewBroadcaster(nil)
	t.Cleanup(b.Close)
	return NewService(st, b, b, cfg, nil), b
}

func testRequest(contactID string) *store.PairingRequest {
	return &store.PairingRequest{
		ContactID:    contactID,
		ChannelID:    "whatsapp",
		DisplayName:  "Alice",
		PhoneNumber:  "+15551234567",
		FirstMessage: "hi there",
	}
}

func TestCreateRequest_PublishesPairingEvent(t *testing.T) {
	svc, b := newTestService(t, Config{})
	ch, _ := b.Subscribe(context.Background(), events.TopicPairing)

	reason, err := svc.CreateRequest(context.Background(), testRequest("c1"))
	require.NoError(t, err)
	assert.Equal(t, store.RefusalNone, reason)

	select {
	case evt := <-ch:
		assert.Equal(t, events.EventPairingRequest, evt.Name)
		payload := evt.Payload.(map[string]any)
		assert.Equal(t, "c1", payload["contactId"])
		assert.Equal(t, "pending", payload["state"])
	case <-time.After(time.Second):
		t.Fatal("no pairing event published")
	}
}

type captureEmitter struct {
	names []string
}

func (c *captureEmitter) Emit(name string, payload any) { c.names = append(c.names, name) }

func TestPairingEventsReachEmitSink(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	em := &captureEmitter{}
	svc := NewService(st, nil, em, Config{}, nil)
	ctx := context.Background()

	_, err = svc.CreateRequest(ctx, testRequest("c1"))
	require.NoError(t, err)
	_, err = svc.Approve(ctx, "c1", "admin", "", "")
	require.NoError(t, err)

	assert.Equal(t, []string{events.EventPairingRequest, events.EventPairingRequest}, em.names,
		"both the request and the approval announce to observers")
}

func TestCreateRequest_RefusalPublishesNothing(t *testing.T) {
	svc, b := newTestService(t, Config{})
	ctx := context.Background()

	reason, err := svc.CreateRequest(ctx, testRequest("c1"))
	require.NoError(t, err)
	require.Equal(t, store.RefusalNone, reason)

	ch, _ := b.Subscribe(ctx, events.TopicPairing)
	reason, err = svc.CreateRequest(ctx, testRequest("c1"))
	require.NoError(t, err)
	assert.Equal(t, store.RefusalAlreadyPending, reason)
	assert.Empty(t, ch, "refused request must not announce")
}

func TestApprove_ThenIsApproved(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()

	_, err := svc.CreateRequest(ctx, testRequest("c1"))
	require.NoError(t, err)

	approved, err := svc.Approve(ctx, "c1", "admin", "", "")
	require.NoError(t, err)
	assert.Equal(t, store.TierStandard, approved.Tier)
	assert.Equal(t, "Alice", approved.DisplayName, "pending profile info is merged")

	ok, err := svc.IsApproved(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.Pending(ctx, "c1")
	assert.ErrorIs(t, err, store.ErrNotFound, "approval consumes the pending request")
}

func TestDeny_UsesConfiguredCooldown(t *testing.T) {
	svc, _ := newTestService(t, Config{DenialCooldown: 2 * time.Hour})
	ctx := context.Background()

	denied, err := svc.Deny(ctx, "c1", "admin", "spam")
	require.NoError(t, err)
	assert.WithinDuration(t, denied.DeniedAt.Add(2*time.Hour), denied.ExpiresAt, time.Second)

	ok, err := svc.IsDenied(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	reason, err := svc.CreateRequest(ctx, testRequest("c1"))
	require.NoError(t, err)
	assert.Equal(t, store.RefusalDeniedCooldown, reason)
}

func TestRevoke(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()

	_, err := svc.Approve(ctx, "c1", "admin", store.TierTrusted, "")
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, "c1"))

	ok, err := svc.IsApproved(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)

	err = svc.Revoke(ctx, "c1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHasConversationHistory(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	svc := NewService(st, nil, nil, Config{}, nil)
	ctx := context.Background()

	has, err := svc.HasConversationHistory(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = st.AddHistoryMessage(ctx, "c1", &store.HistoryMessage{
		ID:        "m1",
		Role:      store.RoleUser,
		Type:      store.TypeIncoming,
		Content:   "hello",
		Timestamp: time.Now(),
	}, 100, 7*24*time.Hour)
	require.NoError(t, err)

	has, err = svc.HasConversationHistory(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestConfigAccessors(t *testing.T) {
	svc, _ := newTestService(t, Config{
		AutoApproveExisting: true,
		AutoReplyUnknown:    "An operator will approve you shortly.",
	})
	assert.True(t, svc.AutoApproveExisting())
	assert.Equal(t, "An operator will approve you shortly.", svc.AutoReplyUnknown())

	svc2, _ := newTestService(t, Config{})
	assert.False(t, svc2.AutoApproveExisting())
	assert.Empty(t, svc2.AutoReplyUnknown())
}

func TestListPending_NewestFirst(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()

	for _, id := range []string{"c1", "c2", "c3"} {
		req := testRequest(id)
		_, err := svc.CreateRequest(ctx, req)
		require.NoError(t, err)
	}

	pending, err := svc.ListPending(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 3)
}
