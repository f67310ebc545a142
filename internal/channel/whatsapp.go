// ABOUTME: WhatsApp channel adapter speaking to a local bridge over HTTP
// ABOUTME: Translates JID contact ids to E.164 and routes self-sent echoes to from-me

package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	whatsappChannelID   = "whatsapp"
	whatsappHTTPTimeout = 30 * time.Second
)

// WhatsAppConfig configures the WhatsApp adapter.
type WhatsAppConfig struct {
	// BridgeURL is the base URL of the WhatsApp bridge process.
	BridgeURL string
	// APIKey authenticates requests to the bridge, sent as X-Api-Key.
	APIKey string
	Logger *slog.Logger
	// HTTPClient overrides the default client, used by tests.
	HTTPClient *http.Client
}

// WhatsAppChannel is the Channel implementation for WhatsApp, backed by a
// separate bridge process that owns the actual WhatsApp session. The
// adapter sends through the bridge's REST API and receives inbound traffic
// through the webhook handler mounted on the gateway's HTTP server.
//
// Contact ids are JIDs ("<digits>@c.us" or "<digits>@s.whatsapp.net").
// Group JIDs ("@g.us") and status broadcasts never leave the adapter.
type WhatsAppChannel struct {
	*Hub

	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// NewWhatsAppChannel creates a disconnected WhatsApp adapter.
func NewWhatsAppChannel(cfg WhatsAppConfig) *WhatsAppChannel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: whatsappHTTPTimeout}
	}
	return &WhatsAppChannel{
		Hub:     NewHub(),
		baseURL: strings.TrimRight(cfg.BridgeURL, "/"),
		apiKey:  cfg.APIKey,
		client:  client,
		logger:  logger.With("component", "whatsapp"),
	}
}

func (w *WhatsAppChannel) ID() string          { return whatsappChannelID }
func (w *WhatsAppChannel) DisplayName() string { return "WhatsApp" }
func (w *WhatsAppChannel) Icon() string        { return "📱" }

// bridgeStatus mirrors the bridge's /api/status response.
type bridgeStatus struct {
	Connected bool   `json:"connected"`
	State     string `json:"state"`
}

// Connect verifies the bridge session is up. The bridge owns the actual
// WhatsApp connection; this adapter only checks reachability.
func (w *WhatsAppChannel) Connect(ctx context.Context) error {
	if w.IsConnected() {
		return nil
	}
	w.setStatus(StatusConnecting)

	var status bridgeStatus
	if err := w.get(ctx, "/api/status", &status); err != nil {
		w.setStatus(StatusError)
		return fmt.Errorf("whatsapp bridge status: %w", err)
	}
	if !status.Connected {
		w.setStatus(StatusError)
		return fmt.Errorf("whatsapp bridge not connected (state %q): %w", status.State, ErrNotConnected)
	}

	w.logger.Info("whatsapp connected", "bridge", w.baseURL)
	w.setStatus(StatusConnected)
	return nil
}

// Disconnect marks the adapter offline. The bridge session keeps running;
// inbound webhooks are ignored while disconnected.
func (w *WhatsAppChannel) Disconnect(ctx context.Context) error {
	w.setStatus(StatusDisconnected)
	w.logger.Info("whatsapp disconnected")
	return nil
}

// webhookEvent is the bridge's inbound message payload.
type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		ID        string `json:"id"`
		From      string `json:"from"`
		To        string `json:"to"`
		Body      string `json:"body"`
		Timestamp int64  `json:"timestamp"`
		FromMe    bool   `json:"fromMe"`
		MediaType string `json:"mediaType"`
		MediaURL  string `json:"mediaUrl"`
		ReplyTo   string `json:"replyTo"`
		Name      string `json:"notifyName"`
	} `json:"payload"`
}

// WebhookHandler returns the HTTP handler the bridge posts events to.
// Mount it on the gateway's server at the path configured in the bridge.
func (w *WhatsAppChannel) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var evt webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			w.logger.Warn("bad webhook payload", "error", err)
			http.Error(rw, "bad request", http.StatusBadRequest)
			return
		}
		rw.WriteHeader(http.StatusOK)

		if !w.IsConnected() {
			w.logger.Debug("webhook ignored while disconnected", "event", evt.Event)
			return
		}
		w.handleEvent(&evt)
	})
}

func (w *WhatsAppChannel) handleEvent(evt *webhookEvent) {
	if evt.Event != "message" {
		return
	}
	p := evt.Payload

	if p.FromMe {
		// Echo of a message sent from the paired phone. The recipient JID
		// identifies the conversation the operator typed into.
		if !isDirectJID(p.To) {
			return
		}
		w.dispatchFromMe(p.To, p.ID, p.Body)
		return
	}

	if !isDirectJID(p.From) {
		w.logger.Debug("dropping non-direct message", "from", p.From)
		return
	}

	phone, _ := w.NormalizeContactID(p.From)
	msg := &Message{
		ID:                  p.ID,
		ChannelID:           whatsappChannelID,
		ContactID:           p.From,
		NormalizedContactID: phone,
		Content:             p.Body,
		Timestamp:           time.Unix(p.Timestamp, 0),
		MediaType:           p.MediaType,
		MediaURL:            p.MediaURL,
		ReplyTo:             p.ReplyTo,
	}
	if p.Name != "" {
		msg.Metadata = map[string]string{"notifyName": p.Name}
	}
	w.dispatchMessage(msg)
}

// sendRequest is the bridge's /api/send payload.
type sendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type sendResponse struct {
	ID    string `json:"id"`
	Sent  bool   `json:"sent"`
	Error string `json:"error"`
}

// SendMessage delivers text through the bridge.
func (w *WhatsAppChannel) SendMessage(ctx context.Context, contactID, content string) (*SendResult, error) {
	if !w.IsConnected() {
		return nil, ErrNotConnected
	}
	var resp sendResponse
	if err := w.post(ctx, "/api/send", sendRequest{To: contactID, Body: content}, &resp); err != nil {
		return nil, fmt.Errorf("whatsapp send: %w", err)
	}
	if !resp.Sent {
		return &SendResult{Sent: false, Error: resp.Error}, fmt.Errorf("whatsapp send rejected: %s", resp.Error)
	}
	return &SendResult{MessageID: resp.ID, Sent: true}, nil
}

// SendTyping shows the composing indicator for the given duration.
func (w *WhatsAppChannel) SendTyping(ctx context.Context, contactID string, duration time.Duration) error {
	if !w.IsConnected() {
		return ErrNotConnected
	}
	body := map[string]any{"to": contactID, "durationMs": duration.Milliseconds()}
	if err := w.post(ctx, "/api/typing", body, nil); err != nil {
		return fmt.Errorf("whatsapp typing: %w", err)
	}
	return nil
}

// bridgeContact mirrors the bridge's contact shape.
type bridgeContact struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Contacts fetches the bridge's contact roster, direct chats only.
func (w *WhatsAppChannel) Contacts(ctx context.Context) ([]*Contact, error) {
	if !w.IsConnected() {
		return nil, ErrNotConnected
	}
	var raw []bridgeContact
	if err := w.get(ctx, "/api/contacts", &raw); err != nil {
		return nil, fmt.Errorf("whatsapp contacts: %w", err)
	}
	out := make([]*Contact, 0, len(raw))
	for _, c := range raw {
		if !isDirectJID(c.ID) {
			continue
		}
		phone, _ := w.NormalizeContactID(c.ID)
		out = append(out, &Contact{
			ID:           c.ID,
			ChannelID:    whatsappChannelID,
			DisplayName:  c.Name,
			NormalizedID: phone,
		})
	}
	return out, nil
}

// Contact fetches a single contact from the bridge.
func (w *WhatsAppChannel) Contact(ctx context.Context, id string) (*Contact, error) {
	if !w.IsConnected() {
		return nil, ErrNotConnected
	}
	var c bridgeContact
	if err := w.get(ctx, "/api/contacts/"+id, &c); err != nil {
		return nil, fmt.Errorf("whatsapp contact %s: %w", id, err)
	}
	phone, _ := w.NormalizeContactID(c.ID)
	return &Contact{ID: c.ID, ChannelID: whatsappChannelID, DisplayName: c.Name, NormalizedID: phone}, nil
}

// NormalizeContactID converts a direct JID to E.164. Group and broadcast
// JIDs report not-ok, as do JIDs with a leading zero: E.164 country codes
// never start with 0, so such a JID cannot map to a valid phone.
func (w *WhatsAppChannel) NormalizeContactID(id string) (string, bool) {
	if !isDirectJID(id) {
		return "", false
	}
	digits, _, _ := strings.Cut(id, "@")
	if digits == "" || digits[0] == '0' {
		return "", false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return "+" + digits, true
}

// isDirectJID reports whether a JID addresses a one-to-one chat.
func isDirectJID(jid string) bool {
	if jid == "status@broadcast" || strings.HasSuffix(jid, "@g.us") {
		return false
	}
	return strings.HasSuffix(jid, "@c.us") || strings.HasSuffix(jid, "@s.whatsapp.net")
}

func (w *WhatsAppChannel) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+path, nil)
	if err != nil {
		return err
	}
	return w.do(req, out)
}

func (w *WhatsAppChannel) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return w.do(req, out)
}

func (w *WhatsAppChannel) do(req *http.Request, out any) error {
	if w.apiKey != "" {
		req.Header.Set("X-Api-Key", w.apiKey)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bridge returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ Channel = (*WhatsAppChannel)(nil)
