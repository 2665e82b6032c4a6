// Package remotenfc provides a virtual reader whose tags are presented over
// the network instead of by a radio.
package remotenfc

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/fvisticot/nfc-reader-bridge/nfc"
)

var (
	// ErrNoSession is returned when a tag is presented while no session is
	// polling the reader.
	ErrNoSession = errors.New("no reader session is active")

	// ErrBusy is returned when presented tags are not being consumed.
	ErrBusy = errors.New("reader queue is full")
)

const queueSize = 8

// Options configures a remote Reader.
type Options struct {
	Timeout time.Duration
	Logger  *log.Logger
}

// Reader is a virtual NFC reader. Tags passed to Present are read by the
// session currently polling it.
type Reader struct {
	capability *nfc.PollingCapability
	logger     *log.Logger

	mu     sync.Mutex
	active *poller
}

// NewReader creates an idle remote reader.
func NewReader(opts Options) *Reader {
	r := &Reader{logger: opts.Logger}
	r.capability = &nfc.PollingCapability{
		Name:    "remote",
		Timeout: opts.Timeout,
		Logger:  opts.Logger,
		Open:    r.open,
	}
	return r
}

// Capability returns the reader as a session capability.
func (r *Reader) Capability() *nfc.PollingCapability {
	return r.capability
}

// Active reports whether a session is polling the reader.
func (r *Reader) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Present places a tag in the field of the active session.
func (r *Reader) Present(det nfc.Detection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		return ErrNoSession
	}
	select {
	case r.active.queue <- det:
		if r.logger != nil {
			r.logger.Printf("[remote] Tag presented: %s", det.UID)
		}
		return nil
	default:
		return ErrBusy
	}
}

func (r *Reader) open(context.Context) (nfc.Poller, error) {
	p := &poller{reader: r, queue: make(chan nfc.Detection, queueSize)}

	r.mu.Lock()
	r.active = p
	r.mu.Unlock()
	return p, nil
}

type poller struct {
	reader *Reader
	queue  chan nfc.Detection
}

func (p *poller) Poll(ctx context.Context) (nfc.Detection, error) {
	select {
	case det := <-p.queue:
		return det, nil
	case <-ctx.Done():
		return nfc.Detection{}, ctx.Err()
	}
}

func (p *poller) Close() error {
	p.reader.mu.Lock()
	defer p.reader.mu.Unlock()
	if p.reader.active == p {
		p.reader.active = nil
	}
	return nil
}
