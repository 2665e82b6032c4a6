// Package server exposes the session controller to network clients over
// WebSocket and HTTP, and advertises itself over mDNS.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"

	"github.com/fvisticot/nfc-reader-bridge/buildinfo"
	"github.com/fvisticot/nfc-reader-bridge/nfc/remotenfc"
	"github.com/fvisticot/nfc-reader-bridge/protocol"
	"github.com/fvisticot/nfc-reader-bridge/session"
)

// Config holds the server configuration
type Config struct {
	Host      string
	Port      int
	APISecret string // Optional API secret for WebSocket and HTTP clients

	// Platform is returned for requests of unknown type.
	Platform string

	// ReaderName is reported by the health endpoint.
	ReaderName string

	// Remote enables POST /api/v1/tag when the reader is a remote one.
	Remote *remotenfc.Reader

	TLS  *tls.Config // nil serves plain HTTP
	MDNS bool

	Logger *log.Logger
}

// Server manages the HTTP and WebSocket server
type Server struct {
	config     Config
	controller *session.Controller
	logger     *log.Logger

	handlerRegistry *HandlerRegistry
	sessions        *SessionHandler
	upgrader        websocket.Upgrader

	clients    map[*Client]bool
	clientsMux sync.RWMutex

	httpServer *http.Server
	listener   net.Listener
	mdnsServer *zeroconf.Server
	ctx        context.Context
	cancel     context.CancelFunc
}

// New creates a new server instance
func New(controller *session.Controller, config Config) (*Server, error) {
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[server] ", log.LstdFlags)
	}
	if config.Platform == "" {
		config.Platform = buildinfo.Platform()
	}

	s := &Server{
		config:     config,
		controller: controller,
		logger:     config.Logger,
		clients:    make(map[*Client]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		handlerRegistry: NewHandlerRegistry(),
	}

	s.sessions = NewSessionHandler(controller, config.Platform, config.Logger)
	if err := s.sessions.Register(s); err != nil {
		return nil, fmt.Errorf("failed to register session handlers: %w", err)
	}
	return s, nil
}

// Handle implements HandlerServer interface.
func (s *Server) Handle(messageType string, handler HandlerFunc) error {
	return s.handlerRegistry.Handle(messageType, handler)
}

// HandleDefault implements HandlerServer interface.
func (s *Server) HandleDefault(handler HandlerFunc) {
	s.handlerRegistry.HandleDefault(handler)
}

// OnShutdown implements HandlerServer interface.
func (s *Server) OnShutdown(stop func()) {
	s.handlerRegistry.RegisterShutdown(stop)
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(RouteHealth, enableCORS(method(http.MethodGet, s.handleHealthCheck)))
	mux.HandleFunc(RouteSession, enableCORS(method(http.MethodGet, s.handleSession)))
	mux.HandleFunc(RoutePlatform, enableCORS(method(http.MethodGet, s.handlePlatform)))
	mux.HandleFunc(RouteRead, enableCORS(s.requireSecret(method(http.MethodPost, s.handleRead))))
	mux.HandleFunc(RouteStop, enableCORS(s.requireSecret(method(http.MethodPost, s.handleStop))))
	mux.HandleFunc(RouteTag, enableCORS(s.requireSecret(method(http.MethodPost, s.handleTagInput))))
	mux.HandleFunc(RouteWS, s.requireSecret(s.handleWebSocket))

	mux.HandleFunc("/", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(buildinfo.DisplayName + " running"))
	}))
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if s.config.TLS != nil {
		ln = tls.NewListener(ln, s.config.TLS)
	}
	s.listener = ln

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Printf("Starting server on %s (tls=%t)", ln.Addr(), s.config.TLS != nil)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("HTTP server error: %v", err)
		}
	}()

	if s.config.MDNS {
		if err := s.startMDNS(); err != nil {
			s.logger.Printf("Warning: Failed to start mDNS service: %v", err)
			s.logger.Printf("Auto-discovery will not be available, but server will continue normally")
		}
	}

	s.logger.Printf("WebSocket message types: %s", strings.Join(s.handlerRegistry.MessageTypes(), ", "))
	return nil
}

// Addr returns the address the server listens on, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.mdnsServer != nil {
		s.mdnsServer.Shutdown()
		s.mdnsServer = nil
		s.logger.Printf("mDNS service stopped")
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.handlerRegistry.RunShutdownHandlers()

	// Flush replies queued by the shutdown handlers before the sockets go.
	s.clientsMux.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMux.RUnlock()

	for _, c := range clients {
		c.Shutdown()
	}
	for _, c := range clients {
		select {
		case <-c.Done():
		case <-ctx.Done():
			c.Close()
		}
	}

	if s.httpServer == nil {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	s.httpServer = nil
	return err
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.clientsMux.RLock()
	defer s.clientsMux.RUnlock()
	return len(s.clients)
}

// startMDNS registers the bridge as an mDNS service for auto-discovery
func (s *Server) startMDNS() error {
	scheme := "ws"
	if s.config.TLS != nil {
		scheme = "wss"
	}
	txtRecords := []string{
		"version=" + buildinfo.Version,
		"protocol=websocket",
		"scheme=" + scheme,
		"path=" + RouteWS,
	}

	server, err := zeroconf.Register(MDNSServiceName, MDNSServiceType, MDNSDomain, s.config.Port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.mdnsServer = server
	s.logger.Printf("mDNS service registered: %s on port %d", MDNSServiceName, s.config.Port)
	return nil
}

// requireSecret rejects requests without the configured API secret. The
// secret is accepted as a "secret" query parameter or a bearer token.
func (s *Server) requireSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.APISecret != "" &&
			r.URL.Query().Get("secret") != s.config.APISecret &&
			r.Header.Get("Authorization") != "Bearer "+s.config.APISecret {
			s.logger.Printf("Request from %s rejected: invalid API secret", r.RemoteAddr)
			http.Error(w, "Unauthorized: Invalid API secret", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket connections and manages
// the client connection lifecycle
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := newClient(conn, s.logger)
	s.clientsMux.Lock()
	s.clients[client] = true
	s.clientsMux.Unlock()
	s.logger.Printf("WebSocket client %s connected from %s", client.ID, r.RemoteAddr)

	defer func() {
		s.sessions.release(client)
		client.Close()

		s.clientsMux.Lock()
		delete(s.clients, client)
		s.clientsMux.Unlock()
		s.logger.Printf("WebSocket client %s disconnected", client.ID)
	}()

	go client.writePump()

	ctx := s.ctx
	if ctx == nil {
		ctx = r.Context()
	}
	client.readPump(ctx, s.dispatch)
}

func (s *Server) dispatch(ctx context.Context, client *Client, req protocol.WebSocketRequest) {
	if !s.handlerRegistry.Has(req.Type) {
		s.logger.Printf("Unhandled message type %q from client %s", req.Type, client.ID)
	}
	handler, ok := s.handlerRegistry.Lookup(req.Type)
	if !ok {
		s.logger.Printf("Unknown message type: %s", req.Type)
		client.SendError(req.ID, "UNKNOWN_TYPE", fmt.Sprintf("Unknown message type: %s", req.Type))
		return
	}

	if err := handler(ctx, client, req); err != nil {
		// Error already sent by handler, just log it
		s.logger.Printf("Handler error for message type '%s': %v", req.Type, err)
	}
}
