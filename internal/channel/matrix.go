// ABOUTME: Matrix channel adapter built on the mautrix client sync loop
// ABOUTME: Maps direct rooms to contact ids and bridges text events inbound

package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const (
	matrixChannelID      = "matrix"
	matrixTypingTimeout  = 30 * time.Second
	matrixNetworkTimeout = 10 * time.Second
)

// MatrixConfig configures the Matrix adapter.
type MatrixConfig struct {
	Homeserver  string
	UserID      string
	AccessToken string
	Logger      *slog.Logger
}

// MatrixChannel is the Channel implementation for Matrix. Contact ids are
// room ids ("!room:server"); each direct room is treated as one contact
// named after the peer user. Matrix users have no phone identity, so
// NormalizeContactID reports not-ok.
type MatrixChannel struct {
	*Hub

	config MatrixConfig
	logger *slog.Logger

	client *mautrix.Client
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.RWMutex
	peers map[string]string // roomID -> peer display name
}

// NewMatrixChannel creates a disconnected Matrix adapter.
func NewMatrixChannel(cfg MatrixConfig) *MatrixChannel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MatrixChannel{
		Hub:    NewHub(),
		config: cfg,
		logger: logger.With("component", "matrix"),
		peers:  make(map[string]string),
	}
}

func (m *MatrixChannel) ID() string          { return matrixChannelID }
func (m *MatrixChannel) DisplayName() string { return "Matrix" }
func (m *MatrixChannel) Icon() string        { return "🔷" }

// Connect creates the client and starts the sync loop.
func (m *MatrixChannel) Connect(ctx context.Context) error {
	if m.IsConnected() {
		return nil
	}
	m.setStatus(StatusConnecting)

	client, err := mautrix.NewClient(m.config.Homeserver, id.UserID(m.config.UserID), m.config.AccessToken)
	if err != nil {
		m.setStatus(StatusError)
		return fmt.Errorf("matrix client: %w", err)
	}
	m.client = client

	syncer, ok := client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		m.setStatus(StatusError)
		return fmt.Errorf("unexpected syncer type: %T", client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, m.handleMessageEvent)

	syncCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		if err := client.SyncWithContext(syncCtx); err != nil && syncCtx.Err() == nil {
			m.logger.Error("matrix sync failed", "error", err)
			m.setStatus(StatusError)
		}
	}()

	m.logger.Info("matrix connected", "homeserver", m.config.Homeserver, "user_id", m.config.UserID)
	m.setStatus(StatusConnected)
	return nil
}

// Disconnect stops the sync loop.
func (m *MatrixChannel) Disconnect(ctx context.Context) error {
	if !m.IsConnected() {
		return nil
	}
	m.cancel()
	select {
	case <-m.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.setStatus(StatusDisconnected)
	m.logger.Info("matrix disconnected")
	return nil
}

func (m *MatrixChannel) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(m.config.UserID) {
		// Own echo: route to the from-me pathway keyed by room.
		if content, ok := evt.Content.Parsed.(*event.MessageEventContent); ok && content.MsgType == event.MsgText {
			m.dispatchFromMe(evt.RoomID.String(), evt.ID.String(), content.Body)
		}
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}

	roomID := evt.RoomID.String()
	m.mu.Lock()
	m.peers[roomID] = evt.Sender.String()
	m.mu.Unlock()

	msg := &Message{
		ID:        evt.ID.String(),
		ChannelID: matrixChannelID,
		ContactID: roomID,
		Timestamp: time.UnixMilli(evt.Timestamp),
		Metadata:  map[string]string{"sender": evt.Sender.String()},
	}

	if !applyMatrixContent(msg, content) {
		return
	}
	if msg.Content == "" && msg.MediaType == "" {
		return
	}
	m.dispatchMessage(msg)
}

// applyMatrixContent maps a Matrix message body onto the channel message.
// Returns false for message types the gateway does not carry. URL is
// id.ContentURIString, a plain string holding the mxc:// reference.
func applyMatrixContent(msg *Message, content *event.MessageEventContent) bool {
	switch content.MsgType {
	case event.MsgText, event.MsgNotice:
		msg.Content = content.Body
	case event.MsgImage:
		msg.MediaType = MediaImage
		msg.MediaURL = string(content.URL)
		msg.Content = content.Body
	case event.MsgAudio:
		msg.MediaType = MediaAudio
		msg.MediaURL = string(content.URL)
	case event.MsgVideo:
		msg.MediaType = MediaVideo
		msg.MediaURL = string(content.URL)
	case event.MsgFile:
		msg.MediaType = MediaDocument
		msg.MediaURL = string(content.URL)
		msg.Content = content.Body
	default:
		return false
	}
	return true
}

// SendMessage sends text to a room.
func (m *MatrixChannel) SendMessage(ctx context.Context, contactID, content string) (*SendResult, error) {
	if !m.IsConnected() {
		return nil, ErrNotConnected
	}
	resp, err := m.client.SendText(ctx, id.RoomID(contactID), content)
	if err != nil {
		return &SendResult{Sent: false, Error: err.Error()}, fmt.Errorf("matrix send: %w", err)
	}
	return &SendResult{MessageID: resp.EventID.String(), Sent: true}, nil
}

// SendTyping shows the typing indicator in a room.
func (m *MatrixChannel) SendTyping(ctx context.Context, contactID string, duration time.Duration) error {
	if !m.IsConnected() {
		return ErrNotConnected
	}
	if duration <= 0 {
		duration = matrixTypingTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, matrixNetworkTimeout)
	defer cancel()
	if _, err := m.client.UserTyping(callCtx, id.RoomID(contactID), true, duration); err != nil {
		return fmt.Errorf("matrix typing: %w", err)
	}
	return nil
}

// Contacts lists the direct rooms seen during this sync session.
func (m *MatrixChannel) Contacts(ctx context.Context) ([]*Contact, error) {
	if !m.IsConnected() {
		return nil, ErrNotConnected
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Contact, 0, len(m.peers))
	for roomID, peer := range m.peers {
		out = append(out, &Contact{ID: roomID, ChannelID: matrixChannelID, DisplayName: peer})
	}
	return out, nil
}

// Contact resolves one room to its known peer.
func (m *MatrixChannel) Contact(ctx context.Context, cid string) (*Contact, error) {
	if !m.IsConnected() {
		return nil, ErrNotConnected
	}
	m.mu.RLock()
	peer, ok := m.peers[cid]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("room %s: no peer seen yet", cid)
	}
	return &Contact{ID: cid, ChannelID: matrixChannelID, DisplayName: peer}, nil
}

// NormalizeContactID always reports not-ok: Matrix identities carry no
// phone number.
func (m *MatrixChannel) NormalizeContactID(id string) (string, bool) {
	return "", false
}

var _ Channel = (*MatrixChannel)(nil)
