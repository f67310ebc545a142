// ABOUTME: Channel contract and message types shared by all protocol adapters
// ABOUTME: Defines the connection state machine values and the SendResult shape

package channel

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyRegistered is returned when registering a channel id twice
var ErrAlreadyRegistered = errors.New("channel already registered")

// ErrNotRegistered is returned when an operation names an unknown channel
var ErrNotRegistered = errors.New("channel not registered")

// ErrNotConnected is returned when sending through a disconnected channel
var ErrNotConnected = errors.New("channel not connected")

// Status is the connection state of a channel.
// Transitions: disconnected -> connecting -> {connected | error};
// connected -> disconnected on adapter-reported disconnect or Disconnect().
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Media types classified by adapters on receipt
const (
	MediaImage    = "image"
	MediaAudio    = "audio"
	MediaVideo    = "video"
	MediaDocument = "document"
	MediaSticker  = "sticker"
)

// Message is one inbound message produced by an adapter. Identity is
// (ChannelID, ID). Immutable once created; consumed exactly once by the
// router.
type Message struct {
	ID                  string
	ChannelID           string
	ContactID           string
	NormalizedContactID string // canonical phone, when the protocol exposes one
	Content             string
	Timestamp           time.Time
	MediaType           string
	MediaURL            string
	ReplyTo             string
	Metadata            map[string]string
}

// HasMedia reports whether the message carries a media attachment.
func (m *Message) HasMedia() bool {
	return m.MediaType != ""
}

// Contact is a channel-specific contact, fetched on demand from the
// adapter and not persisted by the core.
type Contact struct {
	ID           string
	ChannelID    string
	DisplayName  string
	NormalizedID string
}

// SendResult reports the outcome of an outbound send.
type SendResult struct {
	MessageID string
	Sent      bool
	Error     string
}

// Handler types for channel subscriptions. HandlerID is opaque; pass it
// back to the matching Off* method to unsubscribe.
type (
	HandlerID      int
	MessageHandler func(msg *Message)
	FromMeHandler  func(contactID, messageID, content string)
	StatusHandler  func(status Status)
)

// Channel is the uniform adapter contract for one messaging network.
// Adapters are responsible for filtering group/broadcast traffic, routing
// self-sent echoes to the from-me pathway instead of the inbound path, and
// classifying media types.
type Channel interface {
	ID() string
	DisplayName() string
	Icon() string

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	Status() Status

	SendMessage(ctx context.Context, contactID, content string) (*SendResult, error)
	SendTyping(ctx context.Context, contactID string, duration time.Duration) error

	Contacts(ctx context.Context) ([]*Contact, error)
	Contact(ctx context.Context, id string) (*Contact, error)

	// NormalizeContactID returns the canonical phone identity for a
	// contact id, with ok=false when the protocol cannot expose one.
	NormalizeContactID(id string) (phone string, ok bool)

	OnMessage(h MessageHandler) HandlerID
	OffMessage(id HandlerID)
	OnFromMe(h FromMeHandler) HandlerID
	OffFromMe(id HandlerID)
	OnStatusChange(h StatusHandler) HandlerID
	OffStatusChange(id HandlerID)
}
