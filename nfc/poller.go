package nfc

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Detection is a tag that entered the reader field.
type Detection struct {
	UID string

	// Message is the raw NDEF message read from the tag, TLV framing removed.
	// Empty when the tag carries no NDEF data.
	Message []byte
}

// Poller reads tags from one opened reader.
type Poller interface {
	// Poll blocks until a tag that was not in the field on the previous call
	// is detected, or ctx is done.
	Poll(ctx context.Context) (Detection, error)
	Close() error
}

// OpenFunc opens the reader backing a PollingCapability.
type OpenFunc func(ctx context.Context) (Poller, error)

// PollingCapability turns a Poller into a Capability. Every session opens the
// reader, polls it from a dedicated goroutine and closes it when the session
// ends. A session does not open the reader until the session before it has
// closed it, so exclusive devices can be handed from one session to the next.
type PollingCapability struct {
	Name    string
	Open    OpenFunc
	Timeout time.Duration // zero disables the session timeout
	Logger  *log.Logger

	mu   sync.Mutex
	last *pollingSession
}

// Begin implements Capability.
func (c *PollingCapability) Begin(cfg SessionConfig, deliver Delegate) (Session, error) {
	if c.Open == nil {
		return nil, Errorf(ErrCodeInvalidParameter, "Begin", "%s: no reader configured", c)
	}
	if deliver == nil {
		return nil, Errorf(ErrCodeInvalidParameter, "Begin", "nil delegate")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &pollingSession{
		capability: c,
		cfg:        cfg,
		deliver:    deliver,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	c.mu.Lock()
	s.prev = c.last
	c.last = s
	c.mu.Unlock()

	go s.run()
	return s, nil
}

func (c *PollingCapability) String() string {
	if c.Name == "" {
		return "reader"
	}
	return c.Name
}

func (c *PollingCapability) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}

type pollingSession struct {
	capability *PollingCapability
	cfg        SessionConfig
	deliver    Delegate
	prev       *pollingSession // released before Open

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	invalidateOnce sync.Once
}

// Invalidate stops polling. It does not wait for the reader to close.
func (s *pollingSession) Invalidate() {
	s.invalidateOnce.Do(s.cancel)
}

// Wait blocks until the session goroutine has released the reader.
func (s *pollingSession) Wait() {
	<-s.done
}

func (s *pollingSession) run() {
	defer close(s.done)
	defer s.cancel()

	c := s.capability
	ctx := s.ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	if prev := s.prev; prev != nil {
		s.prev = nil
		select {
		case <-prev.done:
		case <-ctx.Done():
			s.finish(ctx, ctx.Err())
			return
		}
	}

	if s.cfg.Instruction != "" {
		c.logf("[%s] %s", c, s.cfg.Instruction)
	}

	poller, err := c.Open(ctx)
	if err != nil {
		s.finish(ctx, err)
		return
	}
	defer func() {
		if err := poller.Close(); err != nil {
			c.logf("[%s] close reader: %v", c, err)
		}
	}()

	for {
		det, err := poller.Poll(ctx)
		if err != nil {
			if ctx.Err() == nil && IsTagConnectionLost(err) {
				c.logf("[%s] %v", c, err)
				continue
			}
			s.finish(ctx, err)
			return
		}

		if len(det.Message) == 0 {
			c.logf("[%s] tag %s has no NDEF message", c, det.UID)
			continue
		}
		payload, err := FirstPayload(det.Message)
		if err != nil {
			c.logf("[%s] tag %s: %v", c, det.UID, err)
			continue
		}

		s.deliver(TagRead{UID: det.UID, Payload: payload})

		if s.cfg.AutoStopOnFirstRead {
			s.deliver(SessionError{
				Code:     ErrCodeFirstTagRead,
				Message:  ErrCodeFirstTagRead.String(),
				Expected: true,
			})
			return
		}
	}
}

// finish reports the terminal outcome for a session that ended without a
// first-read auto stop.
func (s *pollingSession) finish(ctx context.Context, err error) {
	switch {
	case s.ctx.Err() != nil:
		s.deliver(SessionError{Code: ErrCodeUserCanceled, Message: ErrCodeUserCanceled.String()})
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		s.deliver(SessionError{Code: ErrCodeSessionTimeout, Message: ErrCodeSessionTimeout.String()})
	default:
		s.capability.logf("[%s] session ended: %v", s.capability, err)
		s.deliver(SessionErrorFrom(err))
	}
}
