// ABOUTME: Cross-channel contact linking keyed by E.164 phone number
// ABOUTME: Lets an approval on one channel carry over to the same person elsewhere

package linking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/2389/hearth-gateway/internal/logutil"
	"github.com/2389/hearth-gateway/internal/store"
)

// ErrInvalidPhone is returned for phone numbers that are not E.164.
var ErrInvalidPhone = errors.New("invalid phone number")

// e164Pattern: +, first digit 1-9, up to 15 digits total.
var e164Pattern = regexp.MustCompile(`^\+[1-9][0-9]{0,14}$`)

// ValidPhone reports whether the string is a well-formed E.164 number.
func ValidPhone(phone string) bool {
	return e164Pattern.MatchString(phone)
}

// linkStore is the slice of the store the linker needs.
type linkStore interface {
	UpsertLinkedContact(ctx context.Context, phone, channelID, contactID, displayName string) error
	GetLinkedContact(ctx context.Context, phone string) (*store.LinkedContact, error)
	GetLinkedContactsBatch(ctx context.Context, phones []string) (map[string]*store.LinkedContact, error)
	PhoneForContact(ctx context.Context, contactID string) (string, error)
	UnlinkContact(ctx context.Context, phone, channelID, contactID string) error
	GetApprovedContact(ctx context.Context, contactID string) (*store.ApprovedContact, error)
}

// Inheritance is the result of a cross-channel approval lookup: the
// linked identity whose individual approval covers the asking contact.
type Inheritance struct {
	Approved bool
	// ApprovedVia is the contact id holding the actual approval.
	ApprovedVia string
	ChannelID   string
	Tier        string
}

// Linker maintains the phone-keyed identity groups and answers whether
// an approval on one channel extends to a contact on another.
type Linker struct {
	store  linkStore
	logger *slog.Logger
}

// NewLinker creates a contact linker.
func NewLinker(st linkStore, logger *slog.Logger) *Linker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Linker{store: st, logger: logger.With("component", "linking")}
}

// Link records that contactID on channelID belongs to the person with
// this phone number. Re-linking the same identity refreshes the display
// name and activity timestamp.
func (l *Linker) Link(ctx context.Context, phone, channelID, contactID, displayName string) error {
	if !ValidPhone(phone) {
		return fmt.Errorf("link %q: %w", phone, ErrInvalidPhone)
	}
	if err := l.store.UpsertLinkedContact(ctx, phone, channelID, contactID, displayName); err != nil {
		return fmt.Errorf("link contact: %w", err)
	}
	l.logger.Debug("contact linked", "phone", logutil.MaskContactID(phone), "channel", channelID, "contact_id", logutil.MaskContactID(contactID))
	return nil
}

// Unlink removes one channel identity from the phone group. The group
// itself disappears when its last entry goes.
func (l *Linker) Unlink(ctx context.Context, phone, channelID, contactID string) error {
	if !ValidPhone(phone) {
		return fmt.Errorf("unlink %q: %w", phone, ErrInvalidPhone)
	}
	if err := l.store.UnlinkContact(ctx, phone, channelID, contactID); err != nil {
		return fmt.Errorf("unlink contact: %w", err)
	}
	l.logger.Debug("contact unlinked", "phone", logutil.MaskContactID(phone), "channel", channelID, "contact_id", logutil.MaskContactID(contactID))
	return nil
}

// LinkedChannels returns the identity group for a phone number,
// store.ErrNotFound when the phone has no links.
func (l *Linker) LinkedChannels(ctx context.Context, phone string) (*store.LinkedContact, error) {
	if !ValidPhone(phone) {
		return nil, fmt.Errorf("lookup %q: %w", phone, ErrInvalidPhone)
	}
	return l.store.GetLinkedContact(ctx, phone)
}

// LinkedChannelsBatch resolves many phones in one query. Phones without
// links are simply absent from the result.
func (l *Linker) LinkedChannelsBatch(ctx context.Context, phones []string) (map[string]*store.LinkedContact, error) {
	valid := make([]string, 0, len(phones))
	for _, p := range phones {
		if ValidPhone(p) {
			valid = append(valid, p)
		}
	}
	return l.store.GetLinkedContactsBatch(ctx, valid)
}

// PhoneForContact resolves a channel contact id back to its phone via
// the reverse index, store.ErrNotFound when unlinked.
func (l *Linker) PhoneForContact(ctx context.Context, contactID string) (string, error) {
	return l.store.PhoneForContact(ctx, contactID)
}

// ApprovedAcross checks whether any *other* identity linked to the same
// phone as contactID holds an individual approval. The asking contact is
// excluded so an approval never inherits from itself.
func (l *Linker) ApprovedAcross(ctx context.Context, phone, contactID string) (*Inheritance, error) {
	if !ValidPhone(phone) {
		return nil, fmt.Errorf("approval lookup %q: %w", phone, ErrInvalidPhone)
	}
	linked, err := l.store.GetLinkedContact(ctx, phone)
	if errors.Is(err, store.ErrNotFound) {
		return &Inheritance{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("approval lookup: %w", err)
	}

	for _, entry := range linked.Channels {
		if entry.ContactID == contactID {
			continue
		}
		approved, err := l.store.GetApprovedContact(ctx, entry.ContactID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("approval lookup: %w", err)
		}
		return &Inheritance{
			Approved:    true,
			ApprovedVia: entry.ContactID,
			ChannelID:   entry.ChannelID,
			Tier:        approved.Tier,
		}, nil
	}
	return &Inheritance{}, nil
}
