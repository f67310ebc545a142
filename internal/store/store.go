// ABOUTME: Store interface and data types for hearth-gateway persistence
// ABOUTME: Defines pairing, linking, history, pause, counter and queue records

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// PauseAll is the reserved contact id for the global kill switch.
// When a pause record exists for this id, all automated replies stop.
const PauseAll = "ALL"

// Pause reasons recorded with a pause record
const (
	PauseReasonRateLimit = "rate_limit"
	PauseReasonFromMe    = "fromMe"
	PauseReasonManual    = "manual"
)

// RefusalReason is the typed outcome of a pairing request that could not
// be created. An empty reason means the request was created.
type RefusalReason string

const (
	RefusalNone            RefusalReason = ""
	RefusalAlreadyApproved RefusalReason = "already_approved"
	RefusalDeniedCooldown  RefusalReason = "denied_cooldown"
	RefusalAlreadyPending  RefusalReason = "already_pending"
)

// Contact tiers for approved contacts
const (
	TierTrusted    = "trusted"
	TierStandard   = "standard"
	TierRestricted = "restricted"
)

// History message roles and types
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	TypeIncoming = "incoming"
	TypeOutgoing = "outgoing"
	TypeFromMe   = "fromMe"
)

// PairingRequest is a pending admission request for an unknown contact.
// Exactly one exists per unapproved contact until approved or denied.
type PairingRequest struct {
	ContactID     string
	PhoneNumber   string
	DisplayName   string
	ProfilePicURL string
	ChannelID     string
	FirstMessage  string
	RequestedAt   time.Time
}

// ApprovedContact is a permanent admission record. No expiry; it exists
// until explicitly revoked.
type ApprovedContact struct {
	ContactID   string
	PhoneNumber string
	DisplayName string
	ChannelID   string
	ApprovedAt  time.Time
	ApprovedBy  string
	Tier        string
	Notes       string
}

// DeniedContact is a denial record with a cooldown. After ExpiresAt the
// contact may submit a new pairing request.
type DeniedContact struct {
	ContactID   string
	PhoneNumber string
	DisplayName string
	DeniedAt    time.Time
	DeniedBy    string
	Reason      string
	ExpiresAt   time.Time
}

// LinkedEntry is one channel-specific identity inside a linked group.
type LinkedEntry struct {
	ChannelID   string
	ContactID   string
	DisplayName string
}

// LinkedContact groups channel identities that share one phone number.
type LinkedContact struct {
	Phone        string
	Channels     []LinkedEntry
	LinkedAt     time.Time
	LastActivity time.Time
}

// HistoryMessage is one entry in a contact's conversation log.
type HistoryMessage struct {
	ID        string
	Role      string // user, assistant
	Content   string
	Timestamp time.Time
	Type      string // incoming, outgoing, fromMe
}

// QueuedMessage is the normalized payload handed to the downstream consumer.
type QueuedMessage struct {
	ID          string
	MessageID   string
	ContactID   string
	ContactName string
	Content     string
	Timestamp   time.Time
	HasMedia    bool
	Type        string
	EnqueuedAt  time.Time
}

// PauseRecord suspends automated replies for one contact. A nil ExpiresAt
// means the pause is indefinite (operator takeover, kill switch).
type PauseRecord struct {
	ContactID string
	Reason    string
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// Store defines the persistence operations the gateway pipeline relies on.
// Every per-contact mutation is a single atomic statement or transaction;
// two near-simultaneous messages from the same contact must not corrupt
// counts or double-create pairing state.
type Store interface {
	// Pause state (kill switch + per-contact)
	SetPause(ctx context.Context, contactID, reason string, ttl time.Duration) error
	ClearPause(ctx context.Context, contactID string) (bool, error)
	IsPaused(ctx context.Context, contactID string) (bool, string, error)
	GetPause(ctx context.Context, contactID string) (*PauseRecord, error)

	// Rate counters (fixed window, atomic increment with conditional reset)
	IncrementCounter(ctx context.Context, contactID string, window time.Duration) (int, error)
	GetCounter(ctx context.Context, contactID string) (int, error)
	ResetCounter(ctx context.Context, contactID string) error

	// Pairing state machine
	CreatePairingRequest(ctx context.Context, req *PairingRequest) (RefusalReason, error)
	GetPairingRequest(ctx context.Context, contactID string) (*PairingRequest, error)
	ApproveContact(ctx context.Context, contactID, approvedBy, tier, notes string) (*ApprovedContact, error)
	DenyContact(ctx context.Context, contactID, deniedBy, reason string, cooldown time.Duration) (*DeniedContact, error)
	RevokeApproval(ctx context.Context, contactID string) error
	GetApprovedContact(ctx context.Context, contactID string) (*ApprovedContact, error)
	GetDeniedContact(ctx context.Context, contactID string) (*DeniedContact, error)
	IsContactApproved(ctx context.Context, contactID string) (bool, error)
	IsContactDenied(ctx context.Context, contactID string) (bool, error)
	ListPendingRequests(ctx context.Context, limit, offset int) ([]*PairingRequest, error)
	ListApprovedContacts(ctx context.Context, limit, offset int) ([]*ApprovedContact, error)

	// Cross-channel linking
	UpsertLinkedContact(ctx context.Context, phone, channelID, contactID, displayName string) error
	GetLinkedContact(ctx context.Context, phone string) (*LinkedContact, error)
	GetLinkedContactsBatch(ctx context.Context, phones []string) (map[string]*LinkedContact, error)
	PhoneForContact(ctx context.Context, contactID string) (string, error)
	UnlinkContact(ctx context.Context, phone, channelID, contactID string) error

	// Conversation history (deduplicated, size/time bounded)
	AddHistoryMessage(ctx context.Context, contactID string, msg *HistoryMessage, maxMessages int, ttl time.Duration) (bool, error)
	GetHistory(ctx context.Context, contactID string, limit int) ([]*HistoryMessage, error)
	GetHistoryByTimeRange(ctx context.Context, contactID string, from, to time.Time, limit int) ([]*HistoryMessage, error)
	GetHistoryCount(ctx context.Context, contactID string) (int, error)

	// Downstream queue (append-only)
	EnqueueMessage(ctx context.Context, msg *QueuedMessage) error
	ListQueue(ctx context.Context, limit int) ([]*QueuedMessage, error)

	// PurgeExpired removes records whose TTL has elapsed
	PurgeExpired(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
