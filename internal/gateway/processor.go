// ABOUTME: Inbound message pipeline: link, pairing gate, history, pause, rate, queue
// ABOUTME: Also handles operator takeover via the from-me pathway

package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/hearth-gateway/internal/channel"
	"github.com/2389/hearth-gateway/internal/events"
	"github.com/2389/hearth-gateway/internal/linking"
	"github.com/2389/hearth-gateway/internal/logutil"
	"github.com/2389/hearth-gateway/internal/ratelimit"
	"github.com/2389/hearth-gateway/internal/store"
)

// Outcome reasons reported by ProcessMessage.
const (
	ReasonQueued      = "queued"
	ReasonPaused      = "paused"
	ReasonRateLimited = "rate_limited"
	ReasonDenied      = "denied"
	ReasonUnapproved  = "unapproved"
)

// contentPreviewLen caps content echoed into observability events.
const contentPreviewLen = 50

// Result reports what happened to one inbound message.
type Result struct {
	Reason string
	// AutoApproved marks contacts admitted without operator action,
	// either by cross-channel inheritance or by pre-existing history.
	AutoApproved bool
	// PairingRequest is true when this message created a new request.
	PairingRequest bool
}

// pairingGate is the slice of the pairing service the processor needs.
type pairingGate interface {
	IsApproved(ctx context.Context, contactID string) (bool, error)
	IsDenied(ctx context.Context, contactID string) (bool, error)
	Approve(ctx context.Context, contactID, approvedBy, tier, notes string) (*store.ApprovedContact, error)
	CreateRequest(ctx context.Context, req *store.PairingRequest) (store.RefusalReason, error)
	HasConversationHistory(ctx context.Context, contactID string) (bool, error)
	AutoApproveExisting() bool
	AutoReplyUnknown() string
}

// contactLinker is the slice of the linker the processor needs.
type contactLinker interface {
	Link(ctx context.Context, phone, channelID, contactID, displayName string) error
	ApprovedAcross(ctx context.Context, phone, contactID string) (*linking.Inheritance, error)
}

// historyLog is the slice of the history service the processor needs.
type historyLog interface {
	Add(ctx context.Context, contactID string, msg *store.HistoryMessage) bool
}

// rateLimiter is the slice of the limiter the processor needs.
type rateLimiter interface {
	Check(ctx context.Context, contactID, channelID string) (*ratelimit.Result, error)
}

// pauseQueueStore is the slice of the store the processor needs.
type pauseQueueStore interface {
	IsPaused(ctx context.Context, contactID string) (bool, string, error)
	SetPause(ctx context.Context, contactID, reason string, ttl time.Duration) error
	EnqueueMessage(ctx context.Context, msg *store.QueuedMessage) error
}

// replySender delivers auto-replies back out through a channel. Wired to
// the router after construction to break the construction cycle.
type replySender interface {
	RouteOutgoing(ctx context.Context, channelID, contactID, content string) (*channel.SendResult, error)
}

// Processor runs the admission and throttling pipeline for every inbound
// message. One instance serves all channels; per-contact atomicity lives
// in the store, not here.
type Processor struct {
	pairing   pairingGate
	linker    contactLinker
	history   historyLog
	limiter   rateLimiter
	store     pauseQueueStore
	publisher events.Publisher
	emitter   events.Emitter
	sender    replySender
	logger    *slog.Logger
}

// NewProcessor creates a message processor. The linker may be nil when
// cross-channel linking is disabled.
func NewProcessor(
	pairing pairingGate,
	linker contactLinker,
	history historyLog,
	limiter rateLimiter,
	st pauseQueueStore,
	publisher events.Publisher,
	emitter events.Emitter,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		pairing:   pairing,
		linker:    linker,
		history:   history,
		limiter:   limiter,
		store:     st,
		publisher: publisher,
		emitter:   emitter,
		logger:    logger.With("component", "processor"),
	}
}

// SetSender wires the outbound path used for pairing auto-replies.
func (p *Processor) SetSender(s replySender) {
	p.sender = s
}

// ProcessMessage runs one inbound message through the pipeline and
// reports the outcome. Pipeline-internal failures are logged and degrade
// to the blocked outcome; only the enqueue write can surface an error.
func (p *Processor) ProcessMessage(ctx context.Context, msg *channel.Message, contactName string) (*Result, error) {
	masked := logutil.MaskContactID(msg.ContactID)

	// Keep the cross-channel identity map current.
	if p.linker != nil && msg.NormalizedContactID != "" {
		if err := p.linker.Link(ctx, msg.NormalizedContactID, msg.ChannelID, msg.ContactID, contactName); err != nil {
			p.logger.Warn("contact link failed", "contact_id", masked, "error", err)
		}
	}

	approved, err := p.pairing.IsApproved(ctx, msg.ContactID)
	if err != nil {
		// Admission defaults to blocked when the store cannot answer.
		p.logger.Error("approval lookup failed", "contact_id", masked, "error", err)
		return &Result{Reason: ReasonUnapproved}, nil
	}

	result := &Result{}
	if !approved {
		inherited := p.inheritApproval(ctx, msg, contactName)
		if !inherited {
			return p.handleUnapproved(ctx, msg, contactName)
		}
		result.AutoApproved = true
	}
	return p.processApproved(ctx, msg, contactName, result)
}

// processApproved runs the history/pause/rate/queue tail of the pipeline.
func (p *Processor) processApproved(ctx context.Context, msg *channel.Message, contactName string, result *Result) (*Result, error) {
	masked := logutil.MaskContactID(msg.ContactID)

	p.history.Add(ctx, msg.ContactID, &store.HistoryMessage{
		ID:        msg.ID,
		Role:      store.RoleUser,
		Type:      store.TypeIncoming,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	})

	paused, reason, err := p.store.IsPaused(ctx, msg.ContactID)
	if err != nil {
		p.logger.Error("pause lookup failed", "contact_id", masked, "error", err)
	}
	if paused {
		p.logger.Info("message dropped, contact paused", "contact_id", masked, "reason", reason)
		result.Reason = ReasonPaused
		return result, nil
	}

	rate, err := p.limiter.Check(ctx, msg.ContactID, msg.ChannelID)
	if err != nil {
		p.logger.Error("rate check failed", "contact_id", masked, "error", err)
	}
	if rate != nil && !rate.Allowed {
		p.logger.Info("message dropped, rate limited",
			"contact_id", masked, "count", rate.Count, "limit", rate.Limit)
		result.Reason = ReasonRateLimited
		return result, nil
	}

	queued := &store.QueuedMessage{
		MessageID:   msg.ID,
		ContactID:   msg.ContactID,
		ContactName: contactName,
		Content:     msg.Content,
		Timestamp:   msg.Timestamp,
		HasMedia:    msg.HasMedia(),
		Type:        store.TypeIncoming,
	}
	if err := p.store.EnqueueMessage(ctx, queued); err != nil {
		p.logger.Error("enqueue failed", "contact_id", masked, "message_id", msg.ID, "error", err)
		return nil, err
	}

	p.logger.Info("message queued", "contact_id", masked, "message_id", msg.ID, "channel", msg.ChannelID)
	p.emit(events.EventMessageReceived, map[string]any{
		"contactId":   msg.ContactID,
		"channelId":   msg.ChannelID,
		"contactName": contactName,
		"preview":     preview(msg.Content),
		"hasMedia":    msg.HasMedia(),
	})

	result.Reason = ReasonQueued
	return result, nil
}

// inheritApproval checks whether another channel identity with the same
// phone is already approved and, if so, approves this one with the same
// tier.
func (p *Processor) inheritApproval(ctx context.Context, msg *channel.Message, contactName string) bool {
	if p.linker == nil || msg.NormalizedContactID == "" {
		return false
	}
	masked := logutil.MaskContactID(msg.ContactID)

	inh, err := p.linker.ApprovedAcross(ctx, msg.NormalizedContactID, msg.ContactID)
	if err != nil {
		p.logger.Warn("cross-channel approval lookup failed", "contact_id", masked, "error", err)
		return false
	}
	if !inh.Approved {
		return false
	}

	if _, err := p.pairing.Approve(ctx, msg.ContactID, "linked:"+inh.ApprovedVia, inh.Tier, ""); err != nil {
		p.logger.Error("inherited approval write failed", "contact_id", masked, "error", err)
		return false
	}
	p.logger.Info("approval inherited across channels",
		"contact_id", masked, "via", logutil.MaskContactID(inh.ApprovedVia), "tier", inh.Tier)
	return true
}

// handleUnapproved decides what happens to a message from an unknown
// contact: denial cooldown, auto-approve by history, or a pairing request.
func (p *Processor) handleUnapproved(ctx context.Context, msg *channel.Message, contactName string) (*Result, error) {
	masked := logutil.MaskContactID(msg.ContactID)

	denied, err := p.pairing.IsDenied(ctx, msg.ContactID)
	if err != nil {
		p.logger.Error("denial lookup failed", "contact_id", masked, "error", err)
	}
	if denied {
		p.logger.Info("message dropped, contact in denial cooldown", "contact_id", masked)
		return &Result{Reason: ReasonDenied}, nil
	}

	if p.pairing.AutoApproveExisting() {
		hasHistory, err := p.pairing.HasConversationHistory(ctx, msg.ContactID)
		if err != nil {
			p.logger.Error("history check failed", "contact_id", masked, "error", err)
		}
		if hasHistory {
			if _, err := p.pairing.Approve(ctx, msg.ContactID, "system:auto-approve", "", ""); err != nil {
				p.logger.Error("auto-approval write failed", "contact_id", masked, "error", err)
			} else {
				p.logger.Info("contact auto-approved from existing conversation", "contact_id", masked)
				return p.processApproved(ctx, msg, contactName, &Result{AutoApproved: true})
			}
		}
	}

	reason, err := p.pairing.CreateRequest(ctx, &store.PairingRequest{
		ContactID:    msg.ContactID,
		PhoneNumber:  msg.NormalizedContactID,
		DisplayName:  contactName,
		ChannelID:    msg.ChannelID,
		FirstMessage: msg.Content,
	})
	if err != nil {
		p.logger.Error("pairing request failed", "contact_id", masked, "error", err)
		return &Result{Reason: ReasonUnapproved}, nil
	}

	switch reason {
	case store.RefusalNone:
		p.logger.Info("pairing request created", "contact_id", masked, "channel", msg.ChannelID)
		p.sendAutoReply(ctx, msg)
		return &Result{Reason: ReasonUnapproved, PairingRequest: true}, nil
	case store.RefusalAlreadyApproved:
		// Approved between the gate check and here; run it as approved.
		p.logger.Debug("approval raced pairing request, reprocessing", "contact_id", masked)
		return p.ProcessMessage(ctx, msg, contactName)
	case store.RefusalDeniedCooldown:
		return &Result{Reason: ReasonDenied}, nil
	default: // already_pending
		return &Result{Reason: ReasonUnapproved}, nil
	}
}

// sendAutoReply tells a newly pending contact that an operator will
// review them. Failures are logged, never fatal.
func (p *Processor) sendAutoReply(ctx context.Context, msg *channel.Message) {
	text := p.pairing.AutoReplyUnknown()
	if text == "" || p.sender == nil {
		return
	}
	if _, err := p.sender.RouteOutgoing(ctx, msg.ChannelID, msg.ContactID, text); err != nil {
		p.logger.Warn("pairing auto-reply failed",
			"contact_id", logutil.MaskContactID(msg.ContactID), "error", err)
	}
}

// HandleFromMe records an operator-sent message and pauses the contact
// indefinitely: the human has taken over the conversation.
func (p *Processor) HandleFromMe(ctx context.Context, contactID, messageID, content, channelID string) {
	masked := logutil.MaskContactID(contactID)

	p.history.Add(ctx, contactID, &store.HistoryMessage{
		ID:        messageID,
		Role:      store.RoleAssistant,
		Type:      store.TypeFromMe,
		Content:   content,
		Timestamp: time.Now(),
	})

	if err := p.store.SetPause(ctx, contactID, store.PauseReasonFromMe, 0); err != nil {
		p.logger.Error("from-me pause write failed", "contact_id", masked, "error", err)
		return
	}

	p.logger.Info("operator takeover, contact paused", "contact_id", masked, "channel", channelID)
	payload := map[string]any{
		"contactId": contactID,
		"channelId": channelID,
		"paused":    true,
		"reason":    store.PauseReasonFromMe,
	}
	if p.publisher != nil {
		p.publisher.Publish(events.TopicPause, &events.Event{
			Name:    events.EventPauseUpdate,
			Payload: payload,
		})
	}
	p.emit(events.EventPauseUpdate, payload)
}

func (p *Processor) emit(name string, payload any) {
	if p.emitter != nil {
		p.emitter.Emit(name, payload)
	}
}

// preview truncates content for observability payloads.
func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= contentPreviewLen {
		return content
	}
	return string(runes[:contentPreviewLen]) + "..."
}
