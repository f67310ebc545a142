// ABOUTME: Tests for the admin HTTP API routing, auth and JSON contracts
// ABOUTME: Uses fakes for pairing and channels, table-driven where natural

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/hearth-gateway/internal/auth"
	"github.com/2389/hearth-gateway/internal/channel"
	"github.com/2389/hearth-gateway/internal/store"
)

type fakePairingAdmin struct {
	pending  []*store.PairingRequest
	approved map[string]bool
}

func (f *fakePairingAdmin) ListPending(ctx context.Context, limit, offset int) ([]*store.PairingRequest, error) {
	return f.pending, nil
}

func (f *fakePairingAdmin) ListApproved(ctx context.Context, limit, offset int) ([]*store.ApprovedContact, error) {
	out := make([]*store.ApprovedContact, 0, len(f.approved))
	for id := range f.approved {
		out = append(out, &store.ApprovedContact{ContactID: id})
	}
	return out, nil
}

func (f *fakePairingAdmin) Approve(ctx context.Context, contactID, approvedBy, tier, notes string) (*store.ApprovedContact, error) {
	if f.approved == nil {
		f.approved = map[string]bool{}
	}
	f.approved[contactID] = true
	if tier == "" {
		tier = store.TierStandard
	}
	return &store.ApprovedContact{ContactID: contactID, ApprovedBy: approvedBy, Tier: tier}, nil
}

func (f *fakePairingAdmin) Deny(ctx context.Context, contactID, deniedBy, reason string) (*store.DeniedContact, error) {
	return &store.DeniedContact{ContactID: contactID, DeniedBy: deniedBy, Reason: reason}, nil
}

func (f *fakePairingAdmin) Revoke(ctx context.Context, contactID string) error {
	if !f.approved[contactID] {
		return store.ErrNotFound
	}
	delete(f.approved, contactID)
	return nil
}

type fakeChannelAdmin struct{}

func (fakeChannelAdmin) Status(ctx context.Context) []channel.ChannelStatus {
	return []channel.ChannelStatus{{ID: "whatsapp", Status: channel.StatusConnected, Enabled: true}}
}

type fakeControlStore struct {
	pauses map[string]string
	queue  []*store.QueuedMessage
}

func (f *fakeControlStore) SetPause(ctx context.Context, contactID, reason string, ttl time.Duration) error {
	if f.pauses == nil {
		f.pauses = map[string]string{}
	}
	f.pauses[contactID] = reason
	return nil
}

func (f *fakeControlStore) ClearPause(ctx context.Context, contactID string) (bool, error) {
	_, ok := f.pauses[contactID]
	delete(f.pauses, contactID)
	return ok, nil
}

func (f *fakeControlStore) ListQueue(ctx context.Context, limit int) ([]*store.QueuedMessage, error) {
	return f.queue, nil
}

func newTestServer(t *testing.T) (*Server, *fakePairingAdmin, *fakeControlStore, string) {
	t.Helper()
	pairing := &fakePairingAdmin{approved: map[string]bool{}}
	ctl := &fakeControlStore{}
	verifier := auth.NewJWTVerifier([]byte("test-secret"))
	srv := NewServer(pairing, fakeChannelAdmin{}, ctl, verifier, nil)

	token, err := verifier.Generate("admin", time.Hour)
	require.NoError(t, err)
	return srv, pairing, ctl, token
}

func doRequest(t *testing.T, srv *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth_NoAuthRequired(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_RequiresToken(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/channels", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListPending(t *testing.T) {
	srv, pairing, _, token := newTestServer(t)
	pairing.pending = []*store.PairingRequest{{ContactID: "c1", DisplayName: "Alice"}}

	rec := doRequest(t, srv, http.MethodGet, "/api/pairing/pending", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Pending []*store.PairingRequest `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Pending, 1)
	assert.Equal(t, "c1", body.Pending[0].ContactID)
}

func TestApprove(t *testing.T) {
	srv, pairing, _, token := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/pairing/c1/approve", token,
		`{"approvedBy":"ops","tier":"trusted"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, pairing.approved["c1"])

	var approved store.ApprovedContact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &approved))
	assert.Equal(t, "ops", approved.ApprovedBy)
	assert.Equal(t, store.TierTrusted, approved.Tier)
}

func TestApprove_DefaultsActor(t *testing.T) {
	srv, _, _, token := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/api/pairing/c1/approve", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var approved store.ApprovedContact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &approved))
	assert.Equal(t, "admin-api", approved.ApprovedBy)
}

func TestDeny(t *testing.T) {
	srv, _, _, token := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/api/pairing/c1/deny", token, `{"reason":"spam"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var denied store.DeniedContact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &denied))
	assert.Equal(t, "spam", denied.Reason)
}

func TestRevoke(t *testing.T) {
	srv, pairing, _, token := newTestServer(t)
	pairing.approved["c1"] = true

	rec := doRequest(t, srv, http.MethodDelete, "/api/pairing/c1", token, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodDelete, "/api/pairing/c1", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChannels(t *testing.T) {
	srv, _, _, token := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/channels", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "whatsapp")
}

func TestPause_KillSwitchDefault(t *testing.T) {
	srv, _, ctl, token := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/pause", token, "{}")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.PauseReasonManual, ctl.pauses[store.PauseAll])

	rec = doRequest(t, srv, http.MethodDelete, "/api/pause", token, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, ctl.pauses)

	rec = doRequest(t, srv, http.MethodDelete, "/api/pause", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPause_PerContact(t *testing.T) {
	srv, _, ctl, token := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/pause", token,
		`{"contactId":"c1","reason":"manual","ttlSeconds":60}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, ctl.pauses, "c1")

	rec = doRequest(t, srv, http.MethodDelete, "/api/pause?contactId=c1", token, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQueue(t *testing.T) {
	srv, _, ctl, token := newTestServer(t)
	ctl.queue = []*store.QueuedMessage{{MessageID: "m1", ContactID: "c1", Content: "hi"}}

	rec := doRequest(t, srv, http.MethodGet, "/api/queue", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "m1")
}
