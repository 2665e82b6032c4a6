package server

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/fvisticot/nfc-reader-bridge/protocol"
	"github.com/fvisticot/nfc-reader-bridge/session"
)

// SessionHandler exposes the session controller over WebSocket.
type SessionHandler struct {
	controller *session.Controller
	platform   string
	logger     *log.Logger
}

// NewSessionHandler creates a handler. platform is the identifier returned
// for requests of unknown type.
func NewSessionHandler(controller *session.Controller, platform string, logger *log.Logger) *SessionHandler {
	return &SessionHandler{
		controller: controller,
		platform:   platform,
		logger:     logger,
	}
}

// Register implements ServerHandler interface.
func (h *SessionHandler) Register(server HandlerServer) error {
	handlers := map[string]HandlerFunc{
		protocol.WSTypeRead:   h.handleRead,
		protocol.WSTypeStop:   h.handleStop,
		protocol.WSTypeListen: h.handleListen,
		protocol.WSTypeCancel: h.handleCancel,
	}
	for messageType, handler := range handlers {
		if err := server.Handle(messageType, handler); err != nil {
			return err
		}
	}
	server.HandleDefault(h.handlePlatform)

	// Answer pending reads before connections are torn down.
	server.OnShutdown(h.controller.Stop)
	return nil
}

func (h *SessionHandler) handleRead(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	instruction, err := protocol.Instruction(req.Payload)
	if err != nil {
		client.SendError(req.ID, protocol.WSErrInvalidPayload, err.Error())
		return fmt.Errorf("read: %w", err)
	}

	if err := h.controller.Read(instruction, client.newReadRequest(req.ID)); err != nil {
		return h.sendControllerError(client, req.ID, err)
	}
	return nil
}

func (h *SessionHandler) handleStop(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	h.controller.Stop()
	client.SendResponse(req.ID, protocol.WSTypeStopResponse, nil)
	return nil
}

func (h *SessionHandler) handleListen(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	instruction, ok, err := protocol.ListenInstruction(req.Payload)
	if err != nil {
		client.SendError(req.ID, protocol.WSErrInvalidPayload, err.Error())
		return fmt.Errorf("listen: %w", err)
	}

	sub := client.newSubscription(req.ID)
	prev, err := h.controller.Subscribe(sub, instruction, ok)
	if err != nil {
		return h.sendControllerError(client, req.ID, err)
	}
	if old, isSub := prev.(*subscription); isSub && old != sub {
		h.logger.Printf("Subscription of client %s replaced by client %s", old.client.ID, client.ID)
		old.client.SendResponse(old.id, protocol.WSTypeCancelled, nil)
	}

	client.SendResponse(req.ID, protocol.WSTypeListening, nil)
	return nil
}

func (h *SessionHandler) handleCancel(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	_, sub := client.handles()
	if sub != nil {
		h.controller.Unsubscribe(sub)
	}
	client.SendResponse(req.ID, protocol.WSTypeCancelled, nil)
	return nil
}

func (h *SessionHandler) handlePlatform(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	client.SendResponse(req.ID, protocol.WSTypePlatform, h.platform)
	return nil
}

// release drops whatever consumer slots the client still holds. The live
// session is left running.
func (h *SessionHandler) release(client *Client) {
	pending, sub := client.handles()
	if pending != nil {
		h.controller.Release(pending)
	}
	if sub != nil {
		h.controller.Unsubscribe(sub)
	}
}

func (h *SessionHandler) sendControllerError(client *Client, id string, err error) error {
	if errors.Is(err, session.ErrClosed) {
		client.SendError(id, protocol.WSErrInternal, "reader is shutting down")
	} else {
		client.SendError(id, protocol.WSErrInternal, err.Error())
	}
	return err
}
