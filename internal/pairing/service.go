// ABOUTME: Pairing service gating unknown contacts behind operator approval
// ABOUTME: Wraps the store's atomic tri-state transitions and announces changes

package pairing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/hearth-gateway/internal/events"
	"github.com/2389/hearth-gateway/internal/logutil"
	"github.com/2389/hearth-gateway/internal/store"
)

// DefaultDenialCooldown is how long a denial suppresses new requests.
const DefaultDenialCooldown = 24 * time.Hour

// Config holds the pairing tunables.
type Config struct {
	// DenialCooldown overrides the 24h denial TTL.
	DenialCooldown time.Duration
	// AutoApproveExisting approves unknown contacts that already have
	// conversation history from before the gateway was introduced.
	AutoApproveExisting bool
	// AutoReplyUnknown, when non-empty, is sent to contacts whose first
	// message created a pairing request.
	AutoReplyUnknown string
}

// pairingStore is the slice of the store the service needs.
type pairingStore interface {
	CreatePairingRequest(ctx context.Context, req *store.PairingRequest) (store.RefusalReason, error)
	GetPairingRequest(ctx context.Context, contactID string) (*store.PairingRequest, error)
	ApproveContact(ctx context.Context, contactID, approvedBy, tier, notes string) (*store.ApprovedContact, error)
	DenyContact(ctx context.Context, contactID, deniedBy, reason string, cooldown time.Duration) (*store.DeniedContact, error)
	RevokeApproval(ctx context.Context, contactID string) error
	GetApprovedContact(ctx context.Context, contactID string) (*store.ApprovedContact, error)
	GetDeniedContact(ctx context.Context, contactID string) (*store.DeniedContact, error)
	IsContactApproved(ctx context.Context, contactID string) (bool, error)
	IsContactDenied(ctx context.Context, contactID string) (bool, error)
	ListPendingRequests(ctx context.Context, limit, offset int) ([]*store.PairingRequest, error)
	ListApprovedContacts(ctx context.Context, limit, offset int) ([]*store.ApprovedContact, error)
	GetHistoryCount(ctx context.Context, contactID string) (int, error)
}

// Service manages the pairing lifecycle: pending requests, approvals and
// time-boxed denials. State transitions are atomic in the store; the
// service adds events and policy.
type Service struct {
	store     pairingStore
	publisher events.Publisher
	emitter   events.Emitter
	config    Config
	logger    *slog.Logger
}

// NewService creates a pairing service. Zero config fields take defaults.
func NewService(st pairingStore, publisher events.Publisher, emitter events.Emitter, cfg Config, logger *slog.Logger) *Service {
	if cfg.DenialCooldown <= 0 {
		cfg.DenialCooldown = DefaultDenialCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		publisher: publisher,
		emitter:   emitter,
		config:    cfg,
		logger:    logger.With("component", "pairing"),
	}
}

// AutoApproveExisting reports whether known-history contacts skip pairing.
func (s *Service) AutoApproveExisting() bool { return s.config.AutoApproveExisting }

// AutoReplyUnknown returns the auto-reply text for new pairing requests,
// empty when disabled.
func (s *Service) AutoReplyUnknown() string { return s.config.AutoReplyUnknown }

// CreateRequest records a pairing request for an unknown contact. The
// refusal reason is non-empty when the contact is already approved,
// inside a denial cooldown, or already pending; only a created request
// publishes a pairing event.
func (s *Service) CreateRequest(ctx context.Context, req *store.PairingRequest) (store.RefusalReason, error) {
	reason, err := s.store.CreatePairingRequest(ctx, req)
	if err != nil {
		return reason, fmt.Errorf("create pairing request: %w", err)
	}
	if reason != store.RefusalNone {
		s.logger.Debug("pairing request refused", "contact_id", logutil.MaskContactID(req.ContactID), "reason", string(reason))
		return reason, nil
	}

	s.logger.Info("pairing request created",
		"contact_id", logutil.MaskContactID(req.ContactID), "channel", req.ChannelID, "name", req.DisplayName)
	s.publish(events.EventPairingRequest, map[string]any{
		"contactId":   req.ContactID,
		"channelId":   req.ChannelID,
		"displayName": req.DisplayName,
		"phone":       req.PhoneNumber,
		"state":       "pending",
	})
	return store.RefusalNone, nil
}

// Approve promotes a contact to approved, merging any pending profile
// info. Approval is permanent until revoked. An empty tier defaults to
// standard in the store.
func (s *Service) Approve(ctx context.Context, contactID, approvedBy, tier, notes string) (*store.ApprovedContact, error) {
	approved, err := s.store.ApproveContact(ctx, contactID, approvedBy, tier, notes)
	if err != nil {
		return nil, fmt.Errorf("approve contact: %w", err)
	}
	s.logger.Info("contact approved", "contact_id", logutil.MaskContactID(contactID), "tier", approved.Tier, "by", approvedBy)
	s.publish(events.EventPairingRequest, map[string]any{
		"contactId": contactID,
		"state":     "approved",
		"tier":      approved.Tier,
	})
	return approved, nil
}

// Deny records a time-boxed denial and clears any pending request. New
// requests from the contact are refused until the cooldown lapses.
func (s *Service) Deny(ctx context.Context, contactID, deniedBy, reason string) (*store.DeniedContact, error) {
	denied, err := s.store.DenyContact(ctx, contactID, deniedBy, reason, s.config.DenialCooldown)
	if err != nil {
		return nil, fmt.Errorf("deny contact: %w", err)
	}
	s.logger.Info("contact denied",
		"contact_id", logutil.MaskContactID(contactID), "by", deniedBy, "until", denied.ExpiresAt.Format(time.RFC3339))
	s.publish(events.EventPairingRequest, map[string]any{
		"contactId": contactID,
		"state":     "denied",
		"expiresAt": denied.ExpiresAt,
	})
	return denied, nil
}

// Revoke removes an approval. Returns store.ErrNotFound when the contact
// was not approved.
func (s *Service) Revoke(ctx context.Context, contactID string) error {
	if err := s.store.RevokeApproval(ctx, contactID); err != nil {
		return fmt.Errorf("revoke approval: %w", err)
	}
	s.logger.Info("approval revoked", "contact_id", logutil.MaskContactID(contactID))
	s.publish(events.EventPairingRequest, map[string]any{
		"contactId": contactID,
		"state":     "revoked",
	})
	return nil
}

// IsApproved reports whether the contact is individually approved.
func (s *Service) IsApproved(ctx context.Context, contactID string) (bool, error) {
	return s.store.IsContactApproved(ctx, contactID)
}

// IsDenied reports whether the contact is inside a denial cooldown.
func (s *Service) IsDenied(ctx context.Context, contactID string) (bool, error) {
	return s.store.IsContactDenied(ctx, contactID)
}

// Approved returns the approval record, store.ErrNotFound when absent.
func (s *Service) Approved(ctx context.Context, contactID string) (*store.ApprovedContact, error) {
	return s.store.GetApprovedContact(ctx, contactID)
}

// Pending returns the pending request, store.ErrNotFound when absent.
func (s *Service) Pending(ctx context.Context, contactID string) (*store.PairingRequest, error) {
	return s.store.GetPairingRequest(ctx, contactID)
}

// ListPending returns pending requests newest first.
func (s *Service) ListPending(ctx context.Context, limit, offset int) ([]*store.PairingRequest, error) {
	return s.store.ListPendingRequests(ctx, limit, offset)
}

// ListApproved returns approved contacts newest first.
func (s *Service) ListApproved(ctx context.Context, limit, offset int) ([]*store.ApprovedContact, error) {
	return s.store.ListApprovedContacts(ctx, limit, offset)
}

// HasConversationHistory reports whether the contact already has stored
// messages, the signal for auto-approving pre-existing conversations.
func (s *Service) HasConversationHistory(ctx context.Context, contactID string) (bool, error) {
	count, err := s.store.GetHistoryCount(ctx, contactID)
	if err != nil {
		return false, fmt.Errorf("history count: %w", err)
	}
	return count > 0, nil
}

// publish fans a pairing transition out to both sinks: the pairing topic
// for stateful collaborators and the observability stream.
func (s *Service) publish(name string, payload map[string]any) {
	if s.publisher != nil {
		s.publisher.Publish(events.TopicPairing, &events.Event{Name: name, Payload: payload})
	}
	if s.emitter != nil {
		s.emitter.Emit(name, payload)
	}
}
