// ABOUTME: Tests for the WhatsApp bridge adapter
// ABOUTME: Drives the webhook handler and REST client against httptest servers

package channel

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
)

func newTestWhatsApp(t *testing.T, handler http.HandlerFunc) *WhatsAppChannel {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewWhatsAppChannel(WhatsAppConfig{
		BridgeURL: srv.URL,
		APIKey:    "test-key",
		Logger:    nil,
	})
}

func bridgeMux(t *testing.T) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		json.NewEncoder(w).Encode(bridgeStatus{Connected: true, State: "open"})
	})
	return mux
}

func TestWhatsApp_ConnectChecksBridge(t *testing.T) {
	mux := bridgeMux(t)
	ch := newTestWhatsApp(t, mux.ServeHTTP)

	require.NoError(t, ch.Connect(context.Background()))
	assert.Equal(t, StatusConnected, ch.Status())
}

func TestWhatsApp_ConnectFailsWhenBridgeDown(t *testing.T) {
	ch := newTestWhatsApp(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(bridgeStatus{Connected: false, State: "pairing"})
	})

	err := ch.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, StatusError, ch.Status())
}

func TestWhatsApp_NormalizeContactID(t *testing.T) {
	ch := NewWhatsAppChannel(WhatsAppConfig{})

	phone, ok := ch.NormalizeContactID("15551234567@c.us")
	assert.True(t, ok)
	assert.Equal(t, "+15551234567", phone)

	phone, ok = ch.NormalizeContactID("447700900123@s.whatsapp.net")
	assert.True(t, ok)
	assert.Equal(t, "+447700900123", phone)

	_, ok = ch.NormalizeContactID("12345-67890@g.us")
	assert.False(t, ok, "group jids have no phone identity")

	_, ok = ch.NormalizeContactID("status@broadcast")
	assert.False(t, ok)

	_, ok = ch.NormalizeContactID("not-a-jid")
	assert.False(t, ok)

	_, ok = ch.NormalizeContactID("015551234567@c.us")
	assert.False(t, ok, "leading zero cannot be a country code")
}

func postWebhook(t *testing.T, ch *WhatsAppChannel, evt webhookEvent) {
	t.Helper()
	body, err := json.Marshal(evt)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	ch.WebhookHandler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWhatsApp_WebhookDispatchesInbound(t *testing.T) {
	mux := bridgeMux(t)
	ch := newTestWhatsApp(t, mux.ServeHTTP)
	require.NoError(t, ch.Connect(context.Background()))

	var got *Message
	ch.OnMessage(func(m *Message) { got = m })

	evt := webhookEvent{Event: "message"}
	evt.Payload.ID = "wa-1"
	evt.Payload.From = "15551234567@c.us"
	evt.Payload.Body = "hello"
	evt.Payload.Timestamp = time.Now().Unix()
	evt.Payload.Name = "Alice"
	postWebhook(t, ch, evt)

	require.NotNil(t, got)
	assert.Equal(t, "wa-1", got.ID)
	assert.Equal(t, "15551234567@c.us", got.ContactID)
	assert.Equal(t, "+15551234567", got.NormalizedContactID)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, "Alice", got.Metadata["notifyName"])
}

func TestWhatsApp_WebhookDropsGroupTraffic(t *testing.T) {
	mux := bridgeMux(t)
	ch := newTestWhatsApp(t, mux.ServeHTTP)
	require.NoError(t, ch.Connect(context.Background()))

	called := false
	ch.OnMessage(func(*Message) { called = true })

	for _, from := range []string{"12345-67890@g.us", "status@broadcast"} {
		evt := webhookEvent{Event: "message"}
		evt.Payload.ID = "x"
		evt.Payload.From = from
		evt.Payload.Body = "group noise"
		postWebhook(t, ch, evt)
	}
	assert.False(t, called)
}

func TestWhatsApp_WebhookRoutesFromMe(t *testing.T) {
	mux := bridgeMux(t)
	ch := newTestWhatsApp(t, mux.ServeHTTP)
	require.NoError(t, ch.Connect(context.Background()))

	inbound := false
	ch.OnMessage(func(*Message) { inbound = true })

	var fmContact, fmID, fmContent string
	ch.OnFromMe(func(c, m, body string) { fmContact, fmID, fmContent = c, m, body })

	evt := webhookEvent{Event: "message"}
	evt.Payload.ID = "wa-2"
	evt.Payload.To = "15551234567@c.us"
	evt.Payload.Body = "typed from phone"
	evt.Payload.FromMe = true
	postWebhook(t, ch, evt)

	assert.False(t, inbound, "fromMe must not reach the inbound path")
	assert.Equal(t, "15551234567@c.us", fmContact)
	assert.Equal(t, "wa-2", fmID)
	assert.Equal(t, "typed from phone", fmContent)
}

func TestWhatsApp_WebhookIgnoredWhileDisconnected(t *testing.T) {
	ch := NewWhatsAppChannel(WhatsAppConfig{BridgeURL: "http://unused"})

	called := false
	ch.OnMessage(func(*Message) { called = true })

	evt := webhookEvent{Event: "message"}
	evt.Payload.From = "15551234567@c.us"
	evt.Payload.Body = "hi"
	postWebhook(t, ch, evt)

	assert.False(t, called)
}

func TestWhatsApp_SendMessage(t *testing.T) {
	mux := bridgeMux(t)
	mux.HandleFunc("/api/send", func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "15551234567@c.us", req.To)
		assert.Equal(t, "hello there", req.Body)
		json.NewEncoder(w).Encode(sendResponse{ID: "srv-1", Sent: true})
	})
	ch := newTestWhatsApp(t, mux.ServeHTTP)
	require.NoError(t, ch.Connect(context.Background()))

	res, err := ch.SendMessage(context.Background(), "15551234567@c.us", "hello there")
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Equal(t, "srv-1", res.MessageID)
}

func TestWhatsApp_SendRequiresConnection(t *testing.T) {
	ch := NewWhatsAppChannel(WhatsAppConfig{BridgeURL: "http://unused"})
	_, err := ch.SendMessage(context.Background(), "15551234567@c.us", "x")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestWhatsApp_ContactsFiltersGroups(t *testing.T) {
	mux := bridgeMux(t)
	mux.HandleFunc("/api/contacts", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]bridgeContact{
			{ID: "15551234567@c.us", Name: "Alice"},
			{ID: "12345-67890@g.us", Name: "Some Group"},
		})
	})
	ch := newTestWhatsApp(t, mux.ServeHTTP)
	require.NoError(t, ch.Connect(context.Background()))

	contacts, err := ch.Contacts(context.Background())
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "Alice", contacts[0].DisplayName)
	assert.Equal(t, "+15551234567", contacts[0].NormalizedID)
}
