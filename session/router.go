package session

import (
	"log"
	"sync"

	"github.com/fvisticot/nfc-reader-bridge/protocol"
)

// Handle is an opaque consumer endpoint. Deliver must not block; the router
// calls it while holding its lock.
//
// Handles are compared by identity, so implementations should be pointers.
type Handle interface {
	Deliver(protocol.ReadEvent)
}

// Router owns the two consumer slots: the pending responder, answered once
// and then cleared, and the subscriber, which receives every event until it
// is replaced or unregistered.
type Router struct {
	mu         sync.Mutex
	responder  Handle
	subscriber Handle
}

// NewRouter creates a router with both slots empty.
func NewRouter() *Router {
	return &Router{}
}

// SetResponder stores h as the pending responder and returns the handle it
// displaced, if any.
func (r *Router) SetResponder(h Handle) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.responder
	r.responder = h
	return prev
}

// ReleaseResponder empties the responder slot if h still occupies it.
func (r *Router) ReleaseResponder(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == nil || r.responder != h {
		return false
	}
	r.responder = nil
	return true
}

// DeliverToResponder hands e to the pending responder and clears the slot.
// It reports whether a responder was present.
func (r *Router) DeliverToResponder(e protocol.ReadEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.responder == nil {
		return false
	}
	h := r.responder
	r.responder = nil
	h.Deliver(e)
	return true
}

// SetSubscriber stores h as the subscriber and returns the handle it
// displaced, if any.
func (r *Router) SetSubscriber(h Handle) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.subscriber
	r.subscriber = h
	return prev
}

// ClearSubscriber empties the subscriber slot. A non-nil h only clears the
// slot if h is the current subscriber.
func (r *Router) ClearSubscriber(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subscriber == nil || (h != nil && r.subscriber != h) {
		return false
	}
	r.subscriber = nil
	return true
}

// IsSubscriber reports whether h holds the subscriber slot.
func (r *Router) IsSubscriber(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return h != nil && r.subscriber == h
}

// DeliverToSubscriber hands e to the subscriber without clearing the slot.
func (r *Router) DeliverToSubscriber(e protocol.ReadEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subscriber == nil {
		return false
	}
	r.subscriber.Deliver(e)
	return true
}

// Route sends a read or error event to both consumers.
func (r *Router) Route(e protocol.ReadEvent) {
	r.DeliverToResponder(e)
	r.DeliverToSubscriber(e)
}

// HasResponder reports whether a one-shot request is waiting.
func (r *Router) HasResponder() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.responder != nil
}

// HasSubscriber reports whether a subscription is open.
func (r *Router) HasSubscriber() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscriber != nil
}

// Channel is a Handle backed by a buffered channel. Events that do not fit
// the buffer are dropped and logged.
type Channel struct {
	name   string
	ch     chan protocol.ReadEvent
	logger *log.Logger
}

// NewChannel creates a Channel holding up to size undelivered events.
func NewChannel(name string, size int, logger *log.Logger) *Channel {
	if size < 1 {
		size = 1
	}
	return &Channel{name: name, ch: make(chan protocol.ReadEvent, size), logger: logger}
}

// Deliver implements Handle.
func (c *Channel) Deliver(e protocol.ReadEvent) {
	select {
	case c.ch <- e:
	default:
		if c.logger != nil {
			c.logger.Printf("[%s] buffer full, dropping %s", c.name, e)
		}
	}
}

// Events returns the channel events are delivered on.
func (c *Channel) Events() <-chan protocol.ReadEvent {
	return c.ch
}

func (c *Channel) String() string {
	return c.name
}
