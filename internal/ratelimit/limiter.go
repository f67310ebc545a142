// ABOUTME: Fixed-window per-contact rate limiter with auto-pause on breach
// ABOUTME: Fails open on store errors so a broken backend never blocks messages

package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/hearth-gateway/internal/events"
	"github.com/2389/hearth-gateway/internal/logutil"
	"github.com/2389/hearth-gateway/internal/store"
)

const (
	// DefaultWindow is the counting window when none is configured.
	DefaultWindow = 60 * time.Second
	// DefaultMaxMessages is the per-window allowance when none is configured.
	DefaultMaxMessages = 10
)

// Config holds the limiter tunables.
type Config struct {
	Window      time.Duration
	MaxMessages int
}

// counterStore is the slice of the store the limiter needs.
type counterStore interface {
	IncrementCounter(ctx context.Context, contactID string, window time.Duration) (int, error)
	GetCounter(ctx context.Context, contactID string) (int, error)
	ResetCounter(ctx context.Context, contactID string) error
	SetPause(ctx context.Context, contactID, reason string, ttl time.Duration) error
	ClearPause(ctx context.Context, contactID string) (bool, error)
}

// Result is the outcome of one rate check.
type Result struct {
	Allowed bool
	Count   int
	Limit   int
	// Paused is true when this check tripped the limit and wrote the
	// auto-pause. Only the first crossing sets it.
	Paused bool
}

// Limiter counts messages per contact in fixed windows. Crossing the
// limit writes an indefinite pause for the contact so the flood stops at
// the pipeline entrance until an operator clears it.
type Limiter struct {
	store     counterStore
	publisher events.Publisher
	emitter   events.Emitter
	config    Config
	logger    *slog.Logger
}

// NewLimiter creates a limiter. Zero config fields take the defaults.
func NewLimiter(st counterStore, publisher events.Publisher, emitter events.Emitter, cfg Config, logger *slog.Logger) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		store:     st,
		publisher: publisher,
		emitter:   emitter,
		config:    cfg,
		logger:    logger.With("component", "ratelimit"),
	}
}

// Config returns a copy of the effective configuration.
func (l *Limiter) Config() Config {
	return l.config
}

// Check counts one message for the contact and decides whether it may
// proceed. Store failures are logged and the message is allowed: losing
// rate accounting is preferable to dropping legitimate traffic.
func (l *Limiter) Check(ctx context.Context, contactID, channelID string) (*Result, error) {
	count, err := l.store.IncrementCounter(ctx, contactID, l.config.Window)
	if err != nil {
		l.logger.Error("rate counter unavailable, allowing message",
			"contact_id", logutil.MaskContactID(contactID), "channel", channelID, "error", err)
		return &Result{Allowed: true, Limit: l.config.MaxMessages}, nil
	}

	res := &Result{Count: count, Limit: l.config.MaxMessages}
	if count <= l.config.MaxMessages {
		res.Allowed = true
		return res, nil
	}

	// First crossing pauses the contact; later ones just report blocked.
	if count == l.config.MaxMessages+1 {
		res.Paused = true
		if err := l.store.SetPause(ctx, contactID, store.PauseReasonRateLimit, 0); err != nil {
			l.logger.Error("failed to write rate-limit pause", "contact_id", logutil.MaskContactID(contactID), "error", err)
		} else {
			l.logger.Warn("rate limit exceeded, contact paused",
				"contact_id", logutil.MaskContactID(contactID), "channel", channelID, "count", count, "limit", l.config.MaxMessages)
			l.notifyPause(contactID, channelID, count)
		}
	}
	return res, nil
}

// Count reports the contact's current window count without incrementing.
func (l *Limiter) Count(ctx context.Context, contactID string) (int, error) {
	count, err := l.store.GetCounter(ctx, contactID)
	if err != nil {
		return 0, fmt.Errorf("get counter: %w", err)
	}
	return count, nil
}

// Reset zeroes the contact's counter. With clearPause it also lifts the
// auto-pause and announces the resume.
func (l *Limiter) Reset(ctx context.Context, contactID string, clearPause bool, channelID string) error {
	if err := l.store.ResetCounter(ctx, contactID); err != nil {
		return fmt.Errorf("reset counter: %w", err)
	}
	if !clearPause {
		return nil
	}
	existed, err := l.store.ClearPause(ctx, contactID)
	if err != nil {
		return fmt.Errorf("clear pause: %w", err)
	}
	if existed {
		l.logger.Info("rate-limit pause cleared",
			"contact_id", logutil.MaskContactID(contactID), "channel", channelID)
		payload := map[string]any{
			"contactId": contactID,
			"channelId": channelID,
			"paused":    false,
		}
		if l.publisher != nil {
			l.publisher.Publish(events.TopicPause, &events.Event{
				Name:    events.EventPauseUpdate,
				Payload: payload,
			})
		}
		if l.emitter != nil {
			l.emitter.Emit(events.EventPauseUpdate, payload)
		}
	}
	return nil
}

func (l *Limiter) notifyPause(contactID, channelID string, count int) {
	payload := map[string]any{
		"contactId": contactID,
		"channelId": channelID,
		"paused":    true,
		"reason":    store.PauseReasonRateLimit,
		"count":     count,
		"limit":     l.config.MaxMessages,
	}
	if l.publisher != nil {
		l.publisher.Publish(events.TopicPause, &events.Event{
			Name:    events.EventPauseUpdate,
			Payload: payload,
		})
	}
	if l.emitter != nil {
		l.emitter.Emit(events.EventPauseUpdate, payload)
		l.emitter.Emit(events.EventRateLimit, payload)
	}
}
