package server

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fvisticot/nfc-reader-bridge/protocol"
)

// HandlerFunc is a function type for handling websocket messages.
// It processes a websocket request and returns an error if processing fails.
type HandlerFunc func(ctx context.Context, client *Client, req protocol.WebSocketRequest) error

// HandlerServer provides methods for handlers to register routes and shutdown
// hooks.
type HandlerServer interface {
	// Handle registers a handler function for a specific message type
	Handle(messageType string, handler HandlerFunc) error

	// HandleDefault registers the handler for message types nobody claimed
	HandleDefault(handler HandlerFunc)

	// OnShutdown registers a function the server calls while stopping, before
	// client connections are closed
	OnShutdown(stop func())
}

// ServerHandler is the interface that handlers must implement.
// Handlers call Register() to set up their routes and shutdown hooks in one place.
type ServerHandler interface {
	Register(server HandlerServer) error
}

// HandlerRegistry manages websocket message handlers using a router-style approach.
// It provides thread-safe registration and retrieval of handler functions by message type.
type HandlerRegistry struct {
	handlers      map[string]HandlerFunc
	fallback      HandlerFunc
	shutdownHooks []func()
	mu            sync.RWMutex
}

// NewHandlerRegistry creates a new handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle registers a handler function for a specific message type.
// Returns an error if a handler for the same message type is already registered.
func (r *HandlerRegistry) Handle(messageType string, handler HandlerFunc) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	if messageType == "" {
		return fmt.Errorf("message type cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[messageType]; exists {
		return fmt.Errorf("handler for message type '%s' already registered", messageType)
	}

	r.handlers[messageType] = handler
	return nil
}

// HandleDefault sets the handler used for unregistered message types.
func (r *HandlerRegistry) HandleDefault(handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = handler
}

// RegisterShutdown registers a function to be called when the server stops.
func (r *HandlerRegistry) RegisterShutdown(stop func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.shutdownHooks = append(r.shutdownHooks, stop)
}

// Get retrieves a handler function by message type.
// Returns the handler and true if found, nil and false otherwise.
func (r *HandlerRegistry) Get(messageType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[messageType]
	return handler, ok
}

// Lookup is Get with the default handler as fallback.
func (r *HandlerRegistry) Lookup(messageType string) (HandlerFunc, bool) {
	if handler, ok := r.Get(messageType); ok {
		return handler, true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallback, r.fallback != nil
}

// Has checks if a handler exists for the given message type.
func (r *HandlerRegistry) Has(messageType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.handlers[messageType]
	return ok
}

// MessageTypes returns all registered message types, sorted.
func (r *HandlerRegistry) MessageTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// RunShutdownHandlers calls the shutdown hooks in registration order and
// returns once all of them have.
func (r *HandlerRegistry) RunShutdownHandlers() {
	r.mu.RLock()
	hooks := append([]func(){}, r.shutdownHooks...)
	r.mu.RUnlock()

	for _, stop := range hooks {
		stop()
	}
}
