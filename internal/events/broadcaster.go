// ABOUTME: In-memory fan-out broadcaster for gateway state-change events
// ABOUTME: Publishes pause/pairing/observability events to all topic subscribers

package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Topics carried by the broadcaster. Collaborators such as a dashboard
// subscribe to these to mirror gateway state without polling.
const (
	TopicPause   = "pause"
	TopicPairing = "pairing"
	TopicObserve = "observe"
)

// Observability event names. The payload shapes behind these names are the
// contract the dashboard relies on.
const (
	EventChannelStatus        = "channel_status"
	EventMessageReceived      = "message_received"
	EventPairingRequest       = "pairing_request"
	EventPauseUpdate          = "pause_update"
	EventRateLimit            = "rate_limit"
	EventChannelManagerStatus = "channel_manager_status"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Event is one broadcast notification.
type Event struct {
	Name      string
	Payload   any
	Timestamp time.Time
}

// Publisher is the write side of the broadcaster, consumed by pipeline
// components that announce state changes.
type Publisher interface {
	Publish(topic string, event *Event)
}

// Emitter is the observability sink contract. Implementations forward
// named events to whatever collaborator wants them.
type Emitter interface {
	Emit(name string, payload any)
}

// Broadcaster provides in-memory pub/sub for gateway events. Subscribers
// register for a topic and receive events as they are published.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Event // topic -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Event),
		logger:      logger.With("component", "events"),
	}
}

// Subscribe registers a subscriber for events on the given topic. Returns
// a channel that receives events and a subscription ID for later
// unsubscription. The subscription is automatically cleaned up when ctx is
// cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, topic string) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[string]chan *Event)
	}
	b.subscribers[topic][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "topic", topic, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(topic, subID)
	}()

	return ch, subID
}

// Publish sends an event to all subscribers of the given topic.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(topic string, event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs, ok := b.subscribers[topic]
	if !ok || len(subs) == 0 {
		b.mu.RUnlock()
		return
	}

	// Copy subscriber channels under read lock to avoid holding it during sends
	targets := make([]chan *Event, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber", "topic", topic, "event", event.Name)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(topic, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[topic]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}

	b.logger.Debug("subscriber removed", "topic", topic, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, topic)
	}

	b.logger.Debug("broadcaster closed")
}

// Emit implements Emitter by publishing the named event on the observe
// topic, making the broadcaster double as the observability sink.
func (b *Broadcaster) Emit(name string, payload any) {
	b.Publish(TopicObserve, &Event{Name: name, Payload: payload})
}
