// Package agent assembles a reader, the session controller and the network
// server into one process with a start and stop lifecycle.
package agent

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/fvisticot/nfc-reader-bridge/certs"
	"github.com/fvisticot/nfc-reader-bridge/config"
	"github.com/fvisticot/nfc-reader-bridge/nfc"
	"github.com/fvisticot/nfc-reader-bridge/nfc/libnfc"
	"github.com/fvisticot/nfc-reader-bridge/nfc/pcsc"
	"github.com/fvisticot/nfc-reader-bridge/nfc/remotenfc"
	"github.com/fvisticot/nfc-reader-bridge/server"
	"github.com/fvisticot/nfc-reader-bridge/session"
)

// ErrRunning is returned by Start when the agent is already running.
var ErrRunning = errors.New("agent is already running")

const shutdownTimeout = 5 * time.Second

// Reader is a configured capability and what the server needs to know
// about it.
type Reader struct {
	Capability nfc.Capability
	Name       string

	// Remote is set for the remote driver.
	Remote *remotenfc.Reader
}

// NewReader builds the reader selected by cfg.
func NewReader(cfg config.ReaderConfig, logger *log.Logger) (Reader, error) {
	switch cfg.Driver {
	case config.DriverLibNFC:
		c := libnfc.New(libnfc.Options{
			Device:       cfg.Device,
			PollInterval: cfg.PollInterval,
			Timeout:      cfg.Timeout,
			Logger:       logger,
		})
		return Reader{Capability: c, Name: c.String()}, nil
	case config.DriverPCSC:
		c := pcsc.New(pcsc.Options{Reader: cfg.Device, Timeout: cfg.Timeout, Logger: logger})
		return Reader{Capability: c, Name: c.String()}, nil
	case config.DriverRemote:
		r := remotenfc.NewReader(remotenfc.Options{Timeout: cfg.Timeout, Logger: logger})
		c := r.Capability()
		return Reader{Capability: c, Name: c.String(), Remote: r}, nil
	default:
		return Reader{}, fmt.Errorf("unknown reader driver %q", cfg.Driver)
	}
}

// Agent runs the bridge.
type Agent struct {
	Logger *log.Logger

	cfg    *config.Config
	reader Reader

	mu         sync.Mutex
	controller *session.Controller
	server     *server.Server
	bootstrap  *certs.BootstrapServer
}

// New creates a stopped agent. A zero reader is built from cfg.Reader when
// the agent starts.
func New(cfg *config.Config, reader Reader) *Agent {
	return &Agent{
		Logger: log.New(os.Stderr, "[agent] ", log.LstdFlags),
		cfg:    cfg,
		reader: reader,
	}
}

// Start builds a fresh controller and server and starts serving.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return ErrRunning
	}

	reader := a.reader
	if reader.Capability == nil {
		var err error
		reader, err = NewReader(a.cfg.Reader, log.New(os.Stderr, "[reader] ", log.LstdFlags))
		if err != nil {
			return err
		}
	}

	tlsConfig, err := a.startTLS()
	if err != nil {
		return err
	}

	controller := session.NewController(reader.Capability, nil, log.New(os.Stderr, "[session] ", log.LstdFlags))
	srv, err := server.New(controller, server.Config{
		Host:       a.cfg.Server.Host,
		Port:       a.cfg.Server.Port,
		APISecret:  a.cfg.Server.APISecret,
		ReaderName: reader.Name,
		Remote:     reader.Remote,
		TLS:        tlsConfig,
		MDNS:       a.cfg.Server.MDNS,
	})
	if err != nil {
		controller.Close()
		a.stopBootstrap()
		return err
	}
	if err := srv.Start(); err != nil {
		controller.Close()
		a.stopBootstrap()
		return err
	}

	a.controller = controller
	a.server = srv
	a.Logger.Printf("Agent started with reader %s", reader.Name)
	return nil
}

func (a *Agent) startTLS() (*tls.Config, error) {
	if !a.cfg.TLS.Enabled {
		return nil, nil
	}

	manager := certs.NewManager(a.cfg.TLS.Dir, log.New(os.Stderr, "[certs] ", log.LstdFlags))
	manager.ExtraHosts = a.cfg.TLS.Hosts
	tlsConfig, err := manager.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to set up TLS: %w", err)
	}

	if a.cfg.TLS.BootstrapPort > 0 {
		a.bootstrap = certs.NewBootstrapServer(manager, a.cfg.TLS.BootstrapPort, nil)
		if err := a.bootstrap.Start(); err != nil {
			a.Logger.Printf("Warning: CA bootstrap server not started: %v", err)
			a.bootstrap = nil
		}
	}
	return tlsConfig, nil
}

func (a *Agent) stopBootstrap() {
	if a.bootstrap != nil {
		a.bootstrap.Stop()
		a.bootstrap = nil
	}
}

// Stop shuts the controller down first, so a pending read is answered with
// a stopped event, then closes the server.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		a.Logger.Println("Agent is not running")
		return
	}
	a.Logger.Println("Stopping agent...")

	a.controller.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Stop(ctx); err != nil {
		a.Logger.Printf("Server shutdown: %v", err)
	}
	a.stopBootstrap()

	a.server = nil
	a.controller = nil
	a.Logger.Println("Agent stopped successfully")
}

// Running reports whether the agent is serving.
func (a *Agent) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// Controller returns the controller of the running agent, or nil.
func (a *Agent) Controller() *session.Controller {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.controller
}

// Addr returns the address the server listens on, or nil when stopped.
func (a *Agent) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return nil
	}
	return a.server.Addr()
}

// ClientCount returns the number of connected WebSocket clients.
func (a *Agent) ClientCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return 0
	}
	return a.server.ClientCount()
}
