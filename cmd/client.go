package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/cobra"

	"github.com/fvisticot/nfc-reader-bridge/buildinfo"
	"github.com/fvisticot/nfc-reader-bridge/protocol"
)

const defaultURL = "ws://localhost:18080/ws"

type clientOptions struct {
	url     string
	secret  string
	timeout time.Duration
	json    bool
}

func (o *clientOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.url, "url", envOr("NFC_BRIDGE_URL", defaultURL), "bridge WebSocket URL")
	cmd.Flags().StringVar(&o.secret, "secret", os.Getenv("NFC_BRIDGE_SERVER_API_SECRET"), "API secret of the bridge")
	cmd.Flags().DurationVar(&o.timeout, "wait", 0, "give up after this long (0 waits until interrupted)")
	cmd.Flags().BoolVar(&o.json, "json", false, "print events as JSON")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// bridgeClient speaks the bridge WebSocket protocol.
type bridgeClient struct {
	conn *websocket.Conn
	seq  atomic.Int64
}

// incoming is any message sent by the bridge.
type incoming struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Payload json.RawMessage `json:"payload"`
}

func (m incoming) event() (protocol.ReadEvent, error) {
	var e protocol.ReadEvent
	err := json.Unmarshal(m.Payload, &e)
	return e, err
}

func (m incoming) err() error {
	var p struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(m.Payload, &p)
	if p.Code == "" {
		return errors.New(m.Error)
	}
	return fmt.Errorf("%s: %s", p.Code, m.Error)
}

func dialBridge(ctx context.Context, o *clientOptions) (*bridgeClient, error) {
	header := http.Header{}
	header.Set("User-Agent", buildinfo.UserAgent())
	if o.secret != "" {
		header.Set("Authorization", "Bearer "+o.secret)
	}

	conn, _, err := websocket.Dial(ctx, o.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	return &bridgeClient{conn: conn}, nil
}

func (c *bridgeClient) close() {
	c.conn.Close(websocket.StatusNormalClosure, "")
}

func (c *bridgeClient) send(ctx context.Context, msgType string, payload any) (string, error) {
	id := strconv.FormatInt(c.seq.Add(1), 10)
	err := wsjson.Write(ctx, c.conn, protocol.WebSocketRequest{ID: id, Type: msgType, Payload: payload})
	return id, err
}

func (c *bridgeClient) next(ctx context.Context) (incoming, error) {
	var m incoming
	err := wsjson.Read(ctx, c.conn, &m)
	return m, err
}

// await reads messages until the answer to request id arrives. Messages of
// other types are passed to other, which may be nil.
func (c *bridgeClient) await(ctx context.Context, id, want string, other func(incoming)) (incoming, error) {
	for {
		m, err := c.next(ctx)
		if err != nil {
			return m, err
		}
		switch {
		case m.ID == id && m.Type == protocol.WSTypeError:
			return m, m.err()
		case m.ID == id && m.Type == want:
			return m, nil
		case other != nil:
			other(m)
		}
	}
}

// clientContext is cancelled by an interrupt or after the --wait timeout.
func clientContext(parent context.Context, o *clientOptions) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if o.timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// onInterrupt runs send once ctx is done and returns a context for reads
// that outlives ctx long enough for the bridge to answer. coder/websocket
// closes the connection when a read context is cancelled, so reads must not
// use ctx directly.
func (c *bridgeClient) onInterrupt(ctx context.Context, send func(context.Context)) (context.Context, context.CancelFunc) {
	readCtx, readCancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-readCtx.Done():
			return
		}
		sendCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		send(sendCtx)
		time.AfterFunc(answerGrace, readCancel)
	}()
	return readCtx, readCancel
}

const answerGrace = 2 * time.Second

func printEvent(cmd *cobra.Command, o *clientOptions, e protocol.ReadEvent) error {
	if o.json {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}

	var err error
	switch {
	case !e.Terminal():
		_, err = fmt.Fprintln(cmd.OutOrStdout(), e.Content)
	case e.Status == protocol.StatusError:
		_, err = fmt.Fprintf(cmd.ErrOrStderr(), "error %d: %s\n", e.ErrorCode, e.Error)
	default:
		_, err = fmt.Fprintln(cmd.ErrOrStderr(), "stopped")
	}
	return err
}

func newReadCmd() *cobra.Command {
	o := &clientOptions{}
	var instruction string

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read one tag through a running bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := clientContext(cmd.Context(), o)
			defer cancel()

			c, err := dialBridge(ctx, o)
			if err != nil {
				return err
			}
			defer c.close()

			id, err := c.send(ctx, protocol.WSTypeRead, protocol.ReadRequestPayload{Instruction: instruction})
			if err != nil {
				return err
			}

			// An interrupted read stops the session; the bridge then answers
			// the request with a stopped event.
			readCtx, readCancel := c.onInterrupt(ctx, func(sendCtx context.Context) {
				c.send(sendCtx, protocol.WSTypeStop, nil)
			})
			defer readCancel()

			m, err := c.await(readCtx, id, protocol.WSTypeReadResponse, nil)
			if err != nil {
				return err
			}

			e, err := m.event()
			if err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			if err := printEvent(cmd, o, e); err != nil {
				return err
			}
			if e.Status == protocol.StatusError {
				return fmt.Errorf("read failed with code %d", e.ErrorCode)
			}
			return nil
		},
	}
	o.addFlags(cmd)
	cmd.Flags().StringVar(&instruction, "instruction", "Hold your tag near the reader", "message shown while the reader waits")
	return cmd
}

func newListenCmd() *cobra.Command {
	o := &clientOptions{}
	var instruction string
	var count int

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print every tag event of a running bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := clientContext(cmd.Context(), o)
			defer cancel()

			c, err := dialBridge(ctx, o)
			if err != nil {
				return err
			}
			defer c.close()

			var payload any
			if cmd.Flags().Changed("instruction") {
				payload = protocol.ListenArguments{{"instruction": instruction}}
			}
			id, err := c.send(ctx, protocol.WSTypeListen, payload)
			if err != nil {
				return err
			}

			seen := 0
			// handle processes one message; stop reports that the
			// subscription ended.
			handle := func(m incoming) (stop bool, err error) {
				switch m.Type {
				case protocol.WSTypeEvent:
					e, err := m.event()
					if err != nil {
						return true, fmt.Errorf("decode event: %w", err)
					}
					seen++
					return false, printEvent(cmd, o, e)
				case protocol.WSTypeCancelled:
					if m.ID == id {
						return true, errors.New("subscription taken over by another client")
					}
					return true, nil
				}
				return false, nil
			}

			// Events may arrive before the listening acknowledgement.
			var early []incoming
			if _, err := c.await(ctx, id, protocol.WSTypeListening, func(m incoming) { early = append(early, m) }); err != nil {
				return err
			}
			for _, m := range early {
				if count > 0 && seen >= count {
					break
				}
				if stop, err := handle(m); stop || err != nil {
					return err
				}
			}

			readCtx, readCancel := c.onInterrupt(ctx, func(sendCtx context.Context) {
				c.send(sendCtx, protocol.WSTypeCancel, nil)
			})
			defer readCancel()

			for count <= 0 || seen < count {
				m, err := c.next(readCtx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				if stop, err := handle(m); stop || err != nil {
					return err
				}
			}

			_, err = c.send(ctx, protocol.WSTypeCancel, nil)
			return err
		},
	}
	o.addFlags(cmd)
	cmd.Flags().StringVar(&instruction, "instruction", "", "start a continuous session with this message")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many events (0 runs until interrupted)")
	return cmd
}

func newStopCmd() *cobra.Command {
	o := &clientOptions{}

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the reader session of a running bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.timeout <= 0 {
				o.timeout = 5 * time.Second
			}
			ctx, cancel := clientContext(cmd.Context(), o)
			defer cancel()

			c, err := dialBridge(ctx, o)
			if err != nil {
				return err
			}
			defer c.close()

			id, err := c.send(ctx, protocol.WSTypeStop, nil)
			if err != nil {
				return err
			}
			if _, err := c.await(ctx, id, protocol.WSTypeStopResponse, nil); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "stopped")
			return err
		},
	}
	o.addFlags(cmd)
	return cmd
}
