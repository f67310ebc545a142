// ABOUTME: Wires channel adapters to the processor and routes outbound sends
// ABOUTME: Maps raw contact-id shapes to a default channel when none is known

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/hearth-gateway/internal/channel"
	"github.com/2389/hearth-gateway/internal/logutil"
)

// ErrUnknownChannel is returned when routing to an unregistered channel.
var ErrUnknownChannel = errors.New("unknown channel")

// ErrChannelDisconnected is returned when routing to an offline channel.
var ErrChannelDisconnected = errors.New("channel disconnected")

// contactLookupTimeout bounds the display-name fetch in the inbound path.
const contactLookupTimeout = 5 * time.Second

// messageProcessor is the slice of the processor the router needs.
type messageProcessor interface {
	ProcessMessage(ctx context.Context, msg *channel.Message, contactName string) (*Result, error)
	HandleFromMe(ctx context.Context, contactID, messageID, content, channelID string)
}

// channelRegistry is the slice of the manager the router needs.
type channelRegistry interface {
	List() []channel.Channel
	Get(id string) (channel.Channel, error)
}

type routeHandles struct {
	message channel.HandlerID
	fromMe  channel.HandlerID
}

// Router connects every registered channel's inbound handlers to the
// processor and provides the single outbound send path.
type Router struct {
	manager   channelRegistry
	processor messageProcessor
	logger    *slog.Logger

	mu     sync.Mutex
	routes map[string]routeHandles
}

// NewRouter creates a router over the given registry and processor.
func NewRouter(manager channelRegistry, processor messageProcessor, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		manager:   manager,
		processor: processor,
		logger:    logger.With("component", "router"),
		routes:    make(map[string]routeHandles),
	}
}

// SetupRoutes registers one inbound handler and one from-me handler per
// registered channel. Safe to call again after channels change; already
// routed channels are skipped.
func (r *Router) SetupRoutes() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range r.manager.List() {
		id := ch.ID()
		if _, ok := r.routes[id]; ok {
			continue
		}
		ch := ch
		msgID := ch.OnMessage(func(msg *channel.Message) {
			r.handleInbound(ch, msg)
		})
		fromMeID := ch.OnFromMe(func(contactID, messageID, content string) {
			defer r.recoverHandler(id)
			r.processor.HandleFromMe(context.Background(), contactID, messageID, content, id)
		})
		r.routes[id] = routeHandles{message: msgID, fromMe: fromMeID}
		r.logger.Info("routes installed", "channel", id)
	}
}

// handleInbound resolves the display name and runs the pipeline. Panics
// and errors stay inside the handler so an adapter never sees them.
func (r *Router) handleInbound(ch channel.Channel, msg *channel.Message) {
	defer r.recoverHandler(ch.ID())

	ctx := context.Background()
	name := r.contactName(ctx, ch, msg.ContactID)

	if _, err := r.processor.ProcessMessage(ctx, msg, name); err != nil {
		r.logger.Error("message processing failed",
			"channel", ch.ID(), "message_id", msg.ID, "error", err)
	}
}

// contactName fetches the display name, defaulting "Unknown" on any miss.
func (r *Router) contactName(ctx context.Context, ch channel.Channel, contactID string) string {
	lookupCtx, cancel := context.WithTimeout(ctx, contactLookupTimeout)
	defer cancel()

	contact, err := ch.Contact(lookupCtx, contactID)
	if err != nil || contact == nil || contact.DisplayName == "" {
		return "Unknown"
	}
	return contact.DisplayName
}

func (r *Router) recoverHandler(channelID string) {
	if rec := recover(); rec != nil {
		r.logger.Error("handler panic recovered", "channel", channelID, "panic", rec)
	}
}

// RemoveRoutes unregisters all installed handlers. Channels that have
// vanished from the manager are skipped silently.
func (r *Router) RemoveRoutes() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, handles := range r.routes {
		ch, err := r.manager.Get(id)
		if err == nil {
			ch.OffMessage(handles.message)
			ch.OffFromMe(handles.fromMe)
		}
		delete(r.routes, id)
	}
	r.logger.Info("routes removed")
}

// RouteOutgoing sends content to a contact through the named channel.
// Unknown or disconnected channels fail fast with typed errors; adapter
// send errors are normalized into a failed SendResult.
func (r *Router) RouteOutgoing(ctx context.Context, channelID, contactID, content string) (*channel.SendResult, error) {
	ch, err := r.manager.Get(channelID)
	if err != nil {
		return nil, fmt.Errorf("route to %s: %w", channelID, ErrUnknownChannel)
	}
	if !ch.IsConnected() {
		return nil, fmt.Errorf("route to %s: %w", channelID, ErrChannelDisconnected)
	}

	result, err := ch.SendMessage(ctx, contactID, content)
	if err != nil {
		r.logger.Error("outbound send failed",
			"channel", channelID, "contact_id", logutil.MaskContactID(contactID), "error", err)
		if result == nil {
			result = &channel.SendResult{Sent: false, Error: err.Error()}
		}
		return result, nil
	}
	return result, nil
}

// DefaultChannelFor maps a raw contact id to the channel it most likely
// belongs to, for contexts where the channel is not already known.
func DefaultChannelFor(contactID string) string {
	switch {
	case strings.HasSuffix(contactID, "@c.us"), strings.HasSuffix(contactID, "@s.whatsapp.net"):
		return "whatsapp"
	case strings.HasPrefix(contactID, "tg_"):
		return "telegram"
	default:
		return "whatsapp"
	}
}
