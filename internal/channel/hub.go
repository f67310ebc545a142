// ABOUTME: Shared subscription hub embedded by every protocol adapter
// ABOUTME: Owns handler registries and the exactly-once status transition logic

package channel

import "sync"

// Hub implements the subscription half of the Channel contract. Adapters
// embed it and drive it through setStatus, dispatchMessage and
// dispatchFromMe.
type Hub struct {
	mu             sync.RWMutex
	status         Status
	nextID         HandlerID
	msgHandlers    map[HandlerID]MessageHandler
	fromMeHandlers map[HandlerID]FromMeHandler
	statusHandlers map[HandlerID]StatusHandler
}

// NewHub returns a hub in the disconnected state.
func NewHub() *Hub {
	return &Hub{
		status:         StatusDisconnected,
		msgHandlers:    make(map[HandlerID]MessageHandler),
		fromMeHandlers: make(map[HandlerID]FromMeHandler),
		statusHandlers: make(map[HandlerID]StatusHandler),
	}
}

// Status returns the current connection state.
func (h *Hub) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// IsConnected reports whether the channel is in the connected state.
func (h *Hub) IsConnected() bool {
	return h.Status() == StatusConnected
}

// setStatus transitions the state machine and notifies all status handlers
// synchronously. Reassigning the same state is a no-op: exactly one event
// fires per transition. Returns whether a transition happened.
func (h *Hub) setStatus(s Status) bool {
	h.mu.Lock()
	if h.status == s {
		h.mu.Unlock()
		return false
	}
	h.status = s
	handlers := make([]StatusHandler, 0, len(h.statusHandlers))
	for _, fn := range h.statusHandlers {
		handlers = append(handlers, fn)
	}
	h.mu.Unlock()

	for _, fn := range handlers {
		fn(s)
	}
	return true
}

// OnMessage registers an inbound message handler.
func (h *Hub) OnMessage(fn MessageHandler) HandlerID {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.msgHandlers[h.nextID] = fn
	return h.nextID
}

// OffMessage unregisters an inbound message handler.
func (h *Hub) OffMessage(id HandlerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.msgHandlers, id)
}

// OnFromMe registers a handler for self-sent messages. These never reach
// the normal inbound path; the processor uses them for operator takeover.
func (h *Hub) OnFromMe(fn FromMeHandler) HandlerID {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.fromMeHandlers[h.nextID] = fn
	return h.nextID
}

// OffFromMe unregisters a from-me handler.
func (h *Hub) OffFromMe(id HandlerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.fromMeHandlers, id)
}

// OnStatusChange registers a status transition handler.
func (h *Hub) OnStatusChange(fn StatusHandler) HandlerID {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.statusHandlers[h.nextID] = fn
	return h.nextID
}

// OffStatusChange unregisters a status transition handler.
func (h *Hub) OffStatusChange(id HandlerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.statusHandlers, id)
}

// dispatchMessage fans an inbound message out to all message handlers.
func (h *Hub) dispatchMessage(msg *Message) {
	h.mu.RLock()
	handlers := make([]MessageHandler, 0, len(h.msgHandlers))
	for _, fn := range h.msgHandlers {
		handlers = append(handlers, fn)
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(msg)
	}
}

// dispatchFromMe fans a self-sent message out to all from-me handlers.
func (h *Hub) dispatchFromMe(contactID, messageID, content string) {
	h.mu.RLock()
	handlers := make([]FromMeHandler, 0, len(h.fromMeHandlers))
	for _, fn := range h.fromMeHandlers {
		handlers = append(handlers, fn)
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(contactID, messageID, content)
	}
}
