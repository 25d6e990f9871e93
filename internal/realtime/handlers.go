package realtime

import (
	"sync"

	"github.com/suhas-24/couple-chat-app-sub002/internal/protocol"
	"github.com/suhas-24/couple-chat-app-sub002/internal/status"
)

// Handler signatures for the observer slots. Handlers run synchronously on
// the client's event path: a slow handler delays later events, never drops
// or reorders them.
type (
	MessageHandler    func(msg protocol.ChatMessage)
	TypingHandler     func(evt protocol.Typing, typing bool)
	StatusHandler     func(evt protocol.Presence)
	ConnectionHandler func(snap status.Snapshot)
	DeliveryHandler   func(conf protocol.DeliveryConfirmation)
	ErrorHandler      func(err error)
)

// handlerSet holds the registered observers. Each slot is an observer list:
// every registered handler sees every event exactly once per occurrence.
type handlerSet struct {
	mu         sync.RWMutex
	message    []MessageHandler
	typing     []TypingHandler
	presence   []StatusHandler
	connection []ConnectionHandler
	delivery   []DeliveryHandler
	errs       []ErrorHandler
}

// OnMessage registers a handler for inbound chat messages.
func (c *Client) OnMessage(h MessageHandler) {
	c.handlers.mu.Lock()
	c.handlers.message = append(c.handlers.message, h)
	c.handlers.mu.Unlock()
}

// OnTyping registers a handler for typing start/stop events.
func (c *Client) OnTyping(h TypingHandler) {
	c.handlers.mu.Lock()
	c.handlers.typing = append(c.handlers.typing, h)
	c.handlers.mu.Unlock()
}

// OnStatusChange registers a handler for presence/status events.
func (c *Client) OnStatusChange(h StatusHandler) {
	c.handlers.mu.Lock()
	c.handlers.presence = append(c.handlers.presence, h)
	c.handlers.mu.Unlock()
}

// OnConnection registers a handler for connection state snapshots.
// Every state change delivers the full snapshot, never a partial update.
func (c *Client) OnConnection(h ConnectionHandler) {
	c.handlers.mu.Lock()
	c.handlers.connection = append(c.handlers.connection, h)
	c.handlers.mu.Unlock()
}

// OnDeliveryConfirmation registers a handler for delivery confirmations.
func (c *Client) OnDeliveryConfirmation(h DeliveryHandler) {
	c.handlers.mu.Lock()
	c.handlers.delivery = append(c.handlers.delivery, h)
	c.handlers.mu.Unlock()
}

// OnError registers a handler for connection-level errors.
func (c *Client) OnError(h ErrorHandler) {
	c.handlers.mu.Lock()
	c.handlers.errs = append(c.handlers.errs, h)
	c.handlers.mu.Unlock()
}

// RemoveAllListeners clears every observer list at once.
func (c *Client) RemoveAllListeners() {
	c.handlers.mu.Lock()
	c.handlers.message = nil
	c.handlers.typing = nil
	c.handlers.presence = nil
	c.handlers.connection = nil
	c.handlers.delivery = nil
	c.handlers.errs = nil
	c.handlers.mu.Unlock()
}

func (h *handlerSet) notifyMessage(msg protocol.ChatMessage) {
	h.mu.RLock()
	list := h.message
	h.mu.RUnlock()
	for _, fn := range list {
		fn(msg)
	}
}

func (h *handlerSet) notifyTyping(evt protocol.Typing, typing bool) {
	h.mu.RLock()
	list := h.typing
	h.mu.RUnlock()
	for _, fn := range list {
		fn(evt, typing)
	}
}

func (h *handlerSet) notifyPresence(evt protocol.Presence) {
	h.mu.RLock()
	list := h.presence
	h.mu.RUnlock()
	for _, fn := range list {
		fn(evt)
	}
}

func (h *handlerSet) notifyConnection(snap status.Snapshot) {
	h.mu.RLock()
	list := h.connection
	h.mu.RUnlock()
	for _, fn := range list {
		fn(snap)
	}
}

func (h *handlerSet) notifyDelivery(conf protocol.DeliveryConfirmation) {
	h.mu.RLock()
	list := h.delivery
	h.mu.RUnlock()
	for _, fn := range list {
		fn(conf)
	}
}

func (h *handlerSet) notifyError(err error) {
	h.mu.RLock()
	list := h.errs
	h.mu.RUnlock()
	for _, fn := range list {
		fn(err)
	}
}
