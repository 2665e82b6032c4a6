// Package pcsc reads NDEF tags from PC/SC contactless readers.
package pcsc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ebfe/scard"

	"github.com/fvisticot/nfc-reader-bridge/nfc"
	"github.com/fvisticot/nfc-reader-bridge/protocol"
)

// statusTimeout bounds each GetStatusChange call so cancellation is noticed.
const statusTimeout = 500 * time.Millisecond

// Options configures the PC/SC capability.
type Options struct {
	// Reader is the PC/SC reader name. Empty selects the first contactless
	// reader.
	Reader  string
	Timeout time.Duration
	Logger  *log.Logger
}

// New returns a capability that establishes a PC/SC context per session.
func New(opts Options) *nfc.PollingCapability {
	name := "pcsc"
	if opts.Reader != "" {
		name = "pcsc:" + opts.Reader
	}
	return &nfc.PollingCapability{
		Name:    name,
		Timeout: opts.Timeout,
		Logger:  opts.Logger,
		Open: func(context.Context) (nfc.Poller, error) {
			return open(opts)
		},
	}
}

// ListReaders returns the contactless readers known to the PC/SC service.
func ListReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("failed to establish PC/SC context: %w", err)
	}
	defer ctx.Release()

	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("failed to list readers: %w", err)
	}
	return filterContactless(readers), nil
}

type poller struct {
	ctx    *scard.Context
	reader string
	state  scard.StateFlag
	logger *log.Logger
}

func open(opts Options) (*poller, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, nfc.NewReaderUnavailableError("EstablishContext", err)
	}

	reader := opts.Reader
	if reader == "" {
		readers, err := ctx.ListReaders()
		if err != nil {
			ctx.Release()
			return nil, nfc.NewReaderUnavailableError("ListReaders", err)
		}
		readers = filterContactless(readers)
		if len(readers) == 0 {
			ctx.Release()
			return nil, nfc.NewReaderUnavailableError("ListReaders", errors.New("no PC/SC readers found"))
		}
		reader = readers[0]
	}

	if opts.Logger != nil {
		opts.Logger.Printf("[pcsc] Using reader %s", reader)
	}
	return &poller{ctx: ctx, reader: reader, state: scard.StateUnaware, logger: opts.Logger}, nil
}

func (p *poller) Close() error {
	return p.ctx.Release()
}

// Poll waits for the reader to change from empty to present.
func (p *poller) Poll(ctx context.Context) (nfc.Detection, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nfc.Detection{}, err
		}

		wasPresent := p.state&scard.StatePresent != 0
		states := []scard.ReaderState{{Reader: p.reader, CurrentState: p.state}}
		err := p.ctx.GetStatusChange(states, statusTimeout)
		if err != nil {
			if errors.Is(err, scard.ErrTimeout) {
				continue
			}
			return nfc.Detection{}, nfc.NewTerminatedError("GetStatusChange", err)
		}

		p.state = states[0].EventState &^ scard.StateChanged
		if p.state&scard.StatePresent != 0 && !wasPresent {
			return p.read()
		}
	}
}

func (p *poller) read() (nfc.Detection, error) {
	card, err := p.ctx.Connect(p.reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return nfc.Detection{}, nfc.NewTagConnectionLostError("Connect", err)
	}
	defer card.Disconnect(scard.LeaveCard)

	t := &transmitter{card: card}
	raw, err := t.transmit(nfc.GetUIDAPDU())
	if err != nil {
		return nfc.Detection{}, nfc.NewTagConnectionLostError("GetUID", err)
	}
	det := nfc.Detection{UID: protocol.FormatUID(raw)}

	det.Message, err = nfc.ReadType2(t)
	if err != nil {
		return det, fmt.Errorf("tag %s: %w", det.UID, err)
	}
	return det, nil
}

// transmitter adapts a PC/SC card to nfc.PageReader.
type transmitter struct {
	card *scard.Card
}

func (t *transmitter) transmit(cmd []byte) ([]byte, error) {
	raw, err := t.card.Transmit(cmd)
	if err != nil {
		return nil, err
	}
	resp, err := nfc.ParseAPDUResponse(raw)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (t *transmitter) ReadPage(page byte) ([4]byte, error) {
	var p [4]byte
	data, err := t.transmit(nfc.ReadBinaryAPDU(page, 4))
	if err != nil {
		return p, err
	}
	if len(data) < 4 {
		return p, fmt.Errorf("short read: %d bytes", len(data))
	}
	copy(p[:], data)
	return p, nil
}

// filterContactless drops SAM slots from a reader list.
func filterContactless(readers []string) []string {
	var out []string
	for _, r := range readers {
		if strings.Contains(strings.ToUpper(r), "SAM") {
			continue
		}
		out = append(out, r)
	}
	return out
}
