// ABOUTME: Conversation history service with capped, expiring per-contact logs
// ABOUTME: Storage failures are logged and swallowed, never stalling the pipeline

package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/hearth-gateway/internal/logutil"
	"github.com/2389/hearth-gateway/internal/store"
)

const (
	// DefaultMaxMessages is the per-contact retention cap.
	DefaultMaxMessages = 100
	// DefaultTTL is how long an idle conversation is kept.
	DefaultTTL = 7 * 24 * time.Hour
)

// Config holds the history tunables.
type Config struct {
	MaxMessages int
	TTL         time.Duration
}

// historyStore is the slice of the store the service needs.
type historyStore interface {
	AddHistoryMessage(ctx context.Context, contactID string, msg *store.HistoryMessage, maxMessages int, ttl time.Duration) (bool, error)
	GetHistory(ctx context.Context, contactID string, limit int) ([]*store.HistoryMessage, error)
	GetHistoryByTimeRange(ctx context.Context, contactID string, from, to time.Time, limit int) ([]*store.HistoryMessage, error)
	GetHistoryCount(ctx context.Context, contactID string) (int, error)
}

// Service records conversation history per contact. Writes are
// idempotent by message id and every append trims to the cap and
// refreshes the conversation TTL.
type Service struct {
	store  historyStore
	config Config
	logger *slog.Logger
}

// NewService creates a history service. Zero config fields take defaults.
func NewService(st historyStore, cfg Config, logger *slog.Logger) *Service {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		config: cfg,
		logger: logger.With("component", "history"),
	}
}

// Config returns a copy of the effective configuration.
func (s *Service) Config() Config {
	return s.config
}

// Add appends a message to the contact's log. Returns false for a
// duplicate message id. History is advisory: failures are logged and
// swallowed so the pipeline keeps moving.
func (s *Service) Add(ctx context.Context, contactID string, msg *store.HistoryMessage) bool {
	added, err := s.store.AddHistoryMessage(ctx, contactID, msg, s.config.MaxMessages, s.config.TTL)
	if err != nil {
		s.logger.Error("history write failed", "contact_id", logutil.MaskContactID(contactID), "message_id", msg.ID, "error", err)
		return false
	}
	if !added {
		s.logger.Debug("duplicate history message skipped", "contact_id", logutil.MaskContactID(contactID), "message_id", msg.ID)
	}
	return added
}

// Recent returns up to limit messages, newest first.
func (s *Service) Recent(ctx context.Context, contactID string, limit int) []*store.HistoryMessage {
	msgs, err := s.store.GetHistory(ctx, contactID, limit)
	if err != nil {
		s.logger.Error("history read failed", "contact_id", logutil.MaskContactID(contactID), "error", err)
		return nil
	}
	return msgs
}

// Range returns messages with timestamps in [from, to), newest first.
func (s *Service) Range(ctx context.Context, contactID string, from, to time.Time, limit int) []*store.HistoryMessage {
	msgs, err := s.store.GetHistoryByTimeRange(ctx, contactID, from, to, limit)
	if err != nil {
		s.logger.Error("history range read failed", "contact_id", logutil.MaskContactID(contactID), "error", err)
		return nil
	}
	return msgs
}

// Count returns the number of stored messages for the contact.
func (s *Service) Count(ctx context.Context, contactID string) int {
	n, err := s.store.GetHistoryCount(ctx, contactID)
	if err != nil {
		s.logger.Error("history count failed", "contact_id", logutil.MaskContactID(contactID), "error", err)
		return 0
	}
	return n
}
