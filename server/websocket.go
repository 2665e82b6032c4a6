package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fvisticot/nfc-reader-bridge/protocol"
)

// Client is one WebSocket connection. Outbound messages are queued and
// written by a dedicated goroutine, so Send never blocks the caller.
type Client struct {
	ID string

	conn   *websocket.Conn
	send   chan []byte
	quit   chan struct{}
	done   chan struct{}
	logger *log.Logger

	closeOnce    sync.Once
	shutdownOnce sync.Once

	mu           sync.Mutex
	pending      *readRequest
	subscription *subscription
}

func newClient(conn *websocket.Conn, logger *log.Logger) *Client {
	return &Client{
		ID:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, clientSendBuffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Send queues msg for the client. A client whose queue is full is
// disconnected.
func (c *Client) Send(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Printf("WebSocket marshal error: %v", err)
		return
	}

	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.logger.Printf("WebSocket client %s too slow, disconnecting", c.ID)
		c.Close()
	}
}

// SendResponse answers the request with the given id.
func (c *Client) SendResponse(id, responseType string, payload any) {
	c.Send(protocol.WebSocketResponse{
		ID:      id,
		Type:    responseType,
		Success: true,
		Payload: payload,
	})
}

// SendError sends a structured error response.
func (c *Client) SendError(id, errorCode, message string) {
	c.Send(protocol.WebSocketResponse{
		ID:      id,
		Type:    protocol.WSTypeError,
		Success: false,
		Error:   message,
		Payload: map[string]any{
			"code": errorCode,
		},
	})
}

// Close ends the connection. It is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Shutdown asks the write pump to flush queued messages, send a close frame
// and close the connection. Wait on Done for it to finish.
func (c *Client) Shutdown() {
	c.shutdownOnce.Do(func() {
		close(c.quit)
	})
}

// Done is closed once the connection is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Printf("WebSocket write error: %v", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.quit:
			c.flush()
			return
		}
	}
}

// flush writes whatever is still queued, then a going-away close frame.
func (c *Client) flush() {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Printf("WebSocket write error: %v", err)
				return
			}
		default:
			closing := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			c.conn.WriteMessage(websocket.CloseMessage, closing)
			return
		}
	}
}

// readPump decodes requests and hands them to dispatch until the connection
// fails or is closed.
func (c *Client) readPump(ctx context.Context, dispatch func(context.Context, *Client, protocol.WebSocketRequest)) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Printf("WebSocket read error: %v", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var req protocol.WebSocketRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.logger.Printf("Failed to parse WebSocket message: %v", err)
			c.SendError("", protocol.WSErrParse, "Invalid message format")
			continue
		}
		dispatch(ctx, c, req)
	}
}

// newReadRequest records a one-shot request issued on this connection.
func (c *Client) newReadRequest(id string) *readRequest {
	r := &readRequest{client: c, id: id}
	c.mu.Lock()
	c.pending = r
	c.mu.Unlock()
	return r
}

// newSubscription records the subscription opened on this connection.
func (c *Client) newSubscription(id string) *subscription {
	s := &subscription{client: c, id: id}
	c.mu.Lock()
	c.subscription = s
	c.mu.Unlock()
	return s
}

// handles returns the consumer handles this client may still own.
func (c *Client) handles() (*readRequest, *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending, c.subscription
}

// readRequest is the pending responder of a read request. It answers with a
// readResponse carrying the request id.
type readRequest struct {
	client *Client
	id     string
}

func (r *readRequest) Deliver(e protocol.ReadEvent) {
	r.client.SendResponse(r.id, protocol.WSTypeReadResponse, e.ToMap())
}

// subscription is the subscriber of a listen request. Every event is pushed
// as an nfcEvent message.
type subscription struct {
	client *Client
	id     string
}

func (s *subscription) Deliver(e protocol.ReadEvent) {
	s.client.Send(protocol.WebSocketMessage{
		ID:      s.id,
		Type:    protocol.WSTypeEvent,
		Payload: e.ToMap(),
	})
}
