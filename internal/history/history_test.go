// ABOUTME: Tests for the history service wrapper
// ABOUTME: Verifies defaults, idempotent adds and error swallowing

package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/hearth-gateway/internal/store"
)

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewService(st, cfg, nil)
}

func msg(id, content string) *store.HistoryMessage {
	return &store.HistoryMessage{
		ID:        id,
		Role:      store.RoleUser,
		Type:      store.TypeIncoming,
		Content:   content,
		Timestamp: time.Now(),
	}
}

func TestAdd_IdempotentByMessageID(t *testing.T) {
	svc := newTestService(t, Config{})
	ctx := context.Background()

	assert.True(t, svc.Add(ctx, "c1", msg("m1", "hello")))
	assert.False(t, svc.Add(ctx, "c1", msg("m1", "hello again")))
	assert.Equal(t, 1, svc.Count(ctx, "c1"))
}

func TestAdd_TrimsToCap(t *testing.T) {
	svc := newTestService(t, Config{MaxMessages: 3})
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		m := msg("m"+string(rune('0'+i)), "text")
		m.Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.True(t, svc.Add(ctx, "c1", m))
	}

	assert.Equal(t, 3, svc.Count(ctx, "c1"))
	recent := svc.Recent(ctx, "c1", 10)
	require.Len(t, recent, 3)
	assert.Equal(t, "m4", recent[0].ID, "newest first")
}

func TestRecent_EmptyContact(t *testing.T) {
	svc := newTestService(t, Config{})
	assert.Empty(t, svc.Recent(context.Background(), "nobody", 10))
}

func TestRange(t *testing.T) {
	svc := newTestService(t, Config{})
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		m := msg("m"+string(rune('0'+i)), "text")
		m.Timestamp = base.Add(time.Duration(i) * time.Hour)
		require.True(t, svc.Add(ctx, "c1", m))
	}

	// [from, to) keeps m1 and m2, excludes m3 at the upper bound
	got := svc.Range(ctx, "c1", base.Add(time.Hour), base.Add(3*time.Hour), 10)
	require.Len(t, got, 2)
	assert.Equal(t, "m2", got[0].ID)
	assert.Equal(t, "m1", got[1].ID)
}

type failingHistoryStore struct{}

func (failingHistoryStore) AddHistoryMessage(context.Context, string, *store.HistoryMessage, int, time.Duration) (bool, error) {
	return false, errors.New("disk full")
}
func (failingHistoryStore) GetHistory(context.Context, string, int) ([]*store.HistoryMessage, error) {
	return nil, errors.New("disk full")
}
func (failingHistoryStore) GetHistoryByTimeRange(context.Context, string, time.Time, time.Time, int) ([]*store.HistoryMessage, error) {
	return nil, errors.New("disk full")
}
func (failingHistoryStore) GetHistoryCount(context.Context, string) (int, error) {
	return 0, errors.New("disk full")
}

func TestService_SwallowsStoreErrors(t *testing.T) {
	svc := NewService(failingHistoryStore{}, Config{}, nil)
	ctx := context.Background()

	assert.False(t, svc.Add(ctx, "c1", msg("m1", "x")))
	assert.Nil(t, svc.Recent(ctx, "c1", 10))
	assert.Nil(t, svc.Range(ctx, "c1", time.Now().Add(-time.Hour), time.Now(), 10))
	assert.Zero(t, svc.Count(ctx, "c1"))
}

func TestNewService_Defaults(t *testing.T) {
	svc := NewService(failingHistoryStore{}, Config{}, nil)
	cfg := svc.Config()
	assert.Equal(t, DefaultMaxMessages, cfg.MaxMessages)
	assert.Equal(t, DefaultTTL, cfg.TTL)
}
