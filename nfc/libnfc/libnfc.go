// Package libnfc reads NDEF tags through libnfc and libfreefare.
package libnfc

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/clausecker/freefare"
	gonfc "github.com/clausecker/nfc/v2"

	"github.com/fvisticot/nfc-reader-bridge/nfc"
	"github.com/fvisticot/nfc-reader-bridge/protocol"
)

// DefaultPollInterval is how often the field is scanned for tags.
const DefaultPollInterval = 250 * time.Millisecond

// Options configures the libnfc capability.
type Options struct {
	// Device is a libnfc connection string such as "pn532_uart:/dev/ttyUSB0".
	// Empty selects the first device libnfc finds.
	Device       string
	PollInterval time.Duration
	Timeout      time.Duration
	Logger       *log.Logger
}

// New returns a capability that opens the libnfc device for each session.
func New(opts Options) *nfc.PollingCapability {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	name := "libnfc"
	if opts.Device != "" {
		name = "libnfc:" + opts.Device
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

// ListDevices returns the connection strings of attached libnfc devices.
func ListDevices() ([]string, error) {
	return gonfc.ListDevices()
}

type poller struct {
	dev      gonfc.Device
	interval time.Duration
	logger   *log.Logger
	present  string // UID of the tag currently in the field
}

func open(opts Options) (*poller, error) {
	dev, err := gonfc.Open(opts.Device)
	if err != nil {
		return nil, nfc.NewReaderUnavailableError("Open", err)
	}
	if err := dev.InitiatorInit(); err != nil {
		dev.Close()
		return nil, nfc.NewReaderUnavailableError("InitiatorInit", err)
	}
	if opts.Logger != nil {
		opts.Logger.Printf("[libnfc] Opened %s", dev)
	}
	return &poller{dev: dev, interval: opts.PollInterval, logger: opts.Logger}, nil
}

func (p *poller) Close() error {
	return p.dev.Close()
}

func (p *poller) Poll(ctx context.Context) (nfc.Detection, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return nfc.Detection{}, err
		}

		tags, err := freefare.GetTags(p.dev)
		if err != nil {
			return nfc.Detection{}, nfc.NewTerminatedError("GetTags", err)
		}

		if len(tags) == 0 {
			p.present = ""
		} else if uid := tags[0].UID(); uid != p.present {
			p.present = uid
			return p.read(tags[0])
		}

		select {
		case <-ctx.Done():
			return nfc.Detection{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *poller) read(tag freefare.Tag) (nfc.Detection, error) {
	uid, err := protocol.ParseUID(tag.UID())
	if err != nil {
		uid = tag.UID()
	}
	det := nfc.Detection{UID: uid}

	ul, ok := tag.(freefare.UltralightTag)
	if !ok {
		if p.logger != nil {
			p.logger.Printf("[libnfc] Tag %s (%T) is not a Type 2 tag, skipping", uid, tag)
		}
		return det, nil
	}

	if err := ul.Connect(); err != nil {
		p.present = ""
		return det, nfc.NewTagConnectionLostError("Connect", err)
	}
	defer ul.Disconnect()

	det.Message, err = nfc.ReadType2(ul)
	if err != nil {
		p.present = ""
		return det, fmt.Errorf("tag %s: %w", uid, err)
	}
	return det, nil
}
