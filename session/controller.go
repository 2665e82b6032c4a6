// Package session bridges a reader Capability to its consumers. The
// Controller owns the single live reader session; the Router owns the
// consumer slots that session outcomes are delivered to.
package session

import (
	"errors"
	"log"
	"os"
	"sync"
	"unicode/utf8"

	"github.com/fvisticot/nfc-reader-bridge/nfc"
	"github.com/fvisticot/nfc-reader-bridge/protocol"
)

// ErrClosed is returned by operations on a controller that has been closed.
var ErrClosed = errors.New("session controller closed")

// State is the lifecycle state of the controller.
type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State         State
	Instruction   string
	AutoStop      bool
	Generation    uint64
	HasResponder  bool
	HasSubscriber bool
}

// Controller serializes all session transitions. Every session it begins is
// tagged with a generation number; outcomes carrying an older generation are
// discarded, so a replaced or stopped session can never reach a consumer.
type Controller struct {
	capability nfc.Capability
	router     *Router
	logger     *log.Logger

	mu         sync.Mutex
	generation uint64
	session    nfc.Session
	cfg        nfc.SessionConfig
	closed     bool
}

// NewController creates an idle controller. A nil router gets a fresh one; a
// nil logger logs to stderr.
func NewController(capability nfc.Capability, router *Router, logger *log.Logger) *Controller {
	if router == nil {
		router = NewRouter()
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[session] ", log.LstdFlags)
	}
	return &Controller{
		capability: capability,
		router:     router,
		logger:     logger,
	}
}

// Router returns the router events are delivered through.
func (c *Controller) Router() *Router {
	return c.router
}

// Start begins a new reader session, invalidating any live one first.
// Failures to begin are reported as an error event, not returned.
func (c *Controller) Start(instruction string, autoStop bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.startLocked(instruction, autoStop)
	return nil
}

// Read answers a one-shot request: it starts an auto-stopping session and
// makes responder the pending responder. A responder displaced by this call
// receives a stopped event.
func (c *Controller) Read(instruction string, responder Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	if prev := c.router.SetResponder(responder); prev != nil && prev != responder {
		c.logger.Printf("Pending read replaced by a new request")
		prev.Deliver(protocol.StoppedEvent())
	}
	c.startLocked(instruction, true)
	return nil
}

// Stop invalidates the live session, if any, and tells the pending responder
// that reading stopped. The subscriber is not notified.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.invalidateLocked()
	c.router.DeliverToResponder(protocol.StoppedEvent())
}

// Subscribe makes h the subscriber, replacing any previous one, which is
// returned. When withInstruction is set a continuous session is started with
// the given instruction.
func (c *Controller) Subscribe(h Handle, instruction string, withInstruction bool) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	prev := c.router.SetSubscriber(h)
	if withInstruction {
		c.startLocked(instruction, false)
	}
	return prev, nil
}

// Unsubscribe clears the subscriber slot if h holds it. A nil h clears it
// unconditionally. The live session keeps running.
func (c *Controller) Unsubscribe(h Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.router.ClearSubscriber(h)
}

// Subscribed reports whether h is still the subscriber.
func (c *Controller) Subscribed(h Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.router.IsSubscriber(h)
}

// Release drops h from the responder slot without stopping the session.
// Transports call it when the requesting client goes away.
func (c *Controller) Release(h Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.router.ReleaseResponder(h)
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Generation:    c.generation,
		HasResponder:  c.router.HasResponder(),
		HasSubscriber: c.router.HasSubscriber(),
	}
	if c.session != nil {
		s.State = Active
		s.Instruction = c.cfg.Instruction
		s.AutoStop = c.cfg.AutoStopOnFirstRead
	}
	return s
}

// Close invalidates the live session and refuses further starts. A pending
// responder receives a stopped event; the subscriber is dropped.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true

	c.invalidateLocked()
	c.router.DeliverToResponder(protocol.StoppedEvent())
	c.router.ClearSubscriber(nil)
}

func (c *Controller) startLocked(instruction string, autoStop bool) {
	c.invalidateLocked()

	c.generation++
	gen := c.generation
	cfg := nfc.SessionConfig{Instruction: instruction, AutoStopOnFirstRead: autoStop}

	sess, err := c.capability.Begin(cfg, func(o nfc.Outcome) {
		c.handleOutcome(gen, o)
	})
	if err != nil {
		c.logger.Printf("Failed to begin session on %s: %v", c.capability, err)
		e := nfc.SessionErrorFrom(err)
		c.router.Route(protocol.ErrorEvent(int(e.Code), e.Message))
		return
	}

	c.session = sess
	c.cfg = cfg
	c.logger.Printf("Session %d started on %s (autoStop=%t)", gen, c.capability, autoStop)
}

// invalidateLocked ends the live session and bumps the generation so its
// late callbacks are discarded.
func (c *Controller) invalidateLocked() {
	if c.session == nil {
		return
	}
	c.session.Invalidate()
	c.endLocked()
}

func (c *Controller) endLocked() {
	c.logger.Printf("Session %d ended", c.generation)
	c.session = nil
	c.cfg = nfc.SessionConfig{}
	c.generation++
}

func (c *Controller) handleOutcome(gen uint64, o nfc.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil || gen != c.generation {
		if e, ok := o.(nfc.SessionError); !ok || !e.Expected {
			c.logger.Printf("Dropping outcome of stale session %d", gen)
		}
		return
	}

	switch o := o.(type) {
	case nfc.TagRead:
		if !utf8.Valid(o.Payload) {
			c.logger.Printf("Dropping tag %s: payload is not valid UTF-8", o.UID)
			return
		}
		if c.cfg.AutoStopOnFirstRead {
			c.endLocked()
		}
		c.router.Route(protocol.ReadEventFromPayload(string(o.Payload)))

	case nfc.SessionError:
		c.endLocked()
		if o.Expected {
			return
		}
		c.logger.Printf("Session error %d: %s", o.Code, o.Message)
		c.router.Route(protocol.ErrorEvent(int(o.Code), o.Message))
	}
}
