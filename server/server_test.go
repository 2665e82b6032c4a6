package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fvisticot/nfc-reader-bridge/nfc"
	"github.com/fvisticot/nfc-reader-bridge/nfc/remotenfc"
	"github.com/fvisticot/nfc-reader-bridge/protocol"
	"github.com/fvisticot/nfc-reader-bridge/session"
)

type testEnv struct {
	server     *Server
	http       *httptest.Server
	controller *session.Controller
	capability *nfc.MockCapability
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	discard := log.New(io.Discard, "", 0)
	cfg.Logger = discard
	if cfg.Platform == "" {
		cfg.Platform = "test 1.0"
	}

	capability := nfc.NewMockCapability()
	controller := session.NewController(capability, nil, discard)
	s, err := New(controller, cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		controller.Close()
		ts.Close()
	})
	return &testEnv{server: s, http: ts, controller: controller, capability: capability}
}

func (e *testEnv) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + RouteWS + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, id, msgType string, payload any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(protocol.WebSocketRequest{ID: id, Type: msgType, Payload: payload}))
}

type wireMessage struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Success bool           `json:"success"`
	Error   string         `json:"error"`
	Payload map[string]any `json:"payload"`
	Raw     json.RawMessage
}

func receive(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		// Payload is not an object, e.g. the platform string.
		var loose struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(data, &loose))
		msg.ID, msg.Type = loose.ID, loose.Type
	}
	msg.Raw = data
	return msg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, Config{ReaderName: "mock"})

	resp, err := http.Get(env.http.URL + RouteHealth)
	require.NoError(t, err)
	defer resp.Body.Close()

	var health protocol.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "mock", health.Reader)
	assert.Equal(t, "idle", health.Session)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHealthCheckRejectsPost(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp, err := http.Post(env.http.URL+RouteHealth, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWebSocket_Read(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn := env.dial(t, "")

	send(t, conn, "r1", protocol.WSTypeRead, map[string]any{"instruction": "Hold near tag"})
	waitFor(t, func() bool { return env.capability.Last() != nil })

	sess := env.capability.Last()
	assert.Equal(t, "Hold near tag", sess.Config.Instruction)
	assert.True(t, sess.Config.AutoStopOnFirstRead)

	sess.Read([]byte("Hello"))

	msg := receive(t, conn)
	assert.Equal(t, "r1", msg.ID)
	assert.Equal(t, protocol.WSTypeReadResponse, msg.Type)
	assert.True(t, msg.Success)
	assert.Equal(t, map[string]any{
		"nfcId":        "",
		"nfcContent":   "Hello",
		"nfcStatus":    "read",
		"nfcError":     "",
		"nfcErrorCode": float64(0),
	}, msg.Payload)
}

func TestWebSocket_ReadRejectsBadInstruction(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn := env.dial(t, "")

	send(t, conn, "r1", protocol.WSTypeRead, map[string]any{"instruction": 42})

	msg := receive(t, conn)
	assert.Equal(t, protocol.WSTypeError, msg.Type)
	assert.False(t, msg.Success)
	assert.Equal(t, protocol.WSErrInvalidPayload, msg.Payload["code"])
	assert.Empty(t, env.capability.Sessions())
}

func TestWebSocket_StopAnswersPendingRead(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn := env.dial(t, "")

	send(t, conn, "r1", protocol.WSTypeRead, nil)
	waitFor(t, func() bool { return env.controller.Snapshot().HasResponder })

	send(t, conn, "s1", protocol.WSTypeStop, nil)

	stopped := receive(t, conn)
	assert.Equal(t, "r1", stopped.ID)
	assert.Equal(t, protocol.WSTypeReadResponse, stopped.Type)
	assert.Equal(t, "stopped", stopped.Payload["nfcStatus"])
	assert.NotContains(t, stopped.Payload, "nfcErrorCode")

	ack := receive(t, conn)
	assert.Equal(t, "s1", ack.ID)
	assert.Equal(t, protocol.WSTypeStopResponse, ack.Type)

	assert.True(t, env.capability.Last().Invalidated())
}

func TestServer_StopFlushesPendingRead(t *testing.T) {
	discard := log.New(io.Discard, "", 0)
	capability := nfc.NewMockCapability()
	controller := session.NewController(capability, nil, discard)
	s, err := New(controller, Config{Host: "127.0.0.1", Port: 0, Logger: discard})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr().String()+RouteWS, nil)
	require.NoError(t, err)
	defer conn.Close()

	send(t, conn, "r1", protocol.WSTypeRead, nil)
	waitFor(t, func() bool { return controller.Snapshot().HasResponder })

	controller.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	stopped := receive(t, conn)
	assert.Equal(t, "r1", stopped.ID)
	assert.Equal(t, protocol.WSTypeReadResponse, stopped.Type)
	assert.Equal(t, "stopped", stopped.Payload["nfcStatus"])

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	waitFor(t, func() bool { return s.ClientCount() == 0 })
}

func TestServer_StopAnswersReadWithoutControllerClose(t *testing.T) {
	discard := log.New(io.Discard, "", 0)
	controller := session.NewController(nfc.NewMockCapability(), nil, discard)
	s, err := New(controller, Config{Host: "127.0.0.1", Port: 0, Logger: discard})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(controller.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr().String()+RouteWS, nil)
	require.NoError(t, err)
	defer conn.Close()

	send(t, conn, "r1", protocol.WSTypeRead, nil)
	waitFor(t, func() bool { return controller.Snapshot().HasResponder })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	stopped := receive(t, conn)
	assert.Equal(t, "r1", stopped.ID)
	assert.Equal(t, "stopped", stopped.Payload["nfcStatus"])
}

func TestWebSocket_Listen(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn := env.dial(t, "")

	send(t, conn, "l1", protocol.WSTypeListen, []map[string]any{{"instruction": "Scan badges"}})
	assert.Equal(t, protocol.WSTypeListening, receive(t, conn).Type)

	sess := env.capability.Last()
	require.NotNil(t, sess)
	assert.False(t, sess.Config.AutoStopOnFirstRead)

	sess.Read([]byte("A"))
	sess.Fail(nfc.ErrCodeSessionTimeout, "Session timeout", false)

	first := receive(t, conn)
	assert.Equal(t, protocol.WSTypeEvent, first.Type)
	assert.Equal(t, "l1", first.ID)
	assert.Equal(t, "A", first.Payload["nfcContent"])

	second := receive(t, conn)
	assert.Equal(t, "error", second.Payload["nfcStatus"])
	assert.Equal(t, float64(201), second.Payload["nfcErrorCode"])

	send(t, conn, "c1", protocol.WSTypeCancel, nil)
	assert.Equal(t, protocol.WSTypeCancelled, receive(t, conn).Type)
	assert.False(t, env.controller.Snapshot().HasSubscriber)
}

func TestWebSocket_ListenWithoutInstructionStartsNothing(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn := env.dial(t, "")

	send(t, conn, "l1", protocol.WSTypeListen, nil)
	assert.Equal(t, protocol.WSTypeListening, receive(t, conn).Type)
	assert.Empty(t, env.capability.Sessions())
	assert.True(t, env.controller.Snapshot().HasSubscriber)
}

func TestWebSocket_ListenReplacesOtherClient(t *testing.T) {
	env := newTestEnv(t, Config{})
	first, second := env.dial(t, ""), env.dial(t, "")

	send(t, first, "a", protocol.WSTypeListen, nil)
	assert.Equal(t, protocol.WSTypeListening, receive(t, first).Type)

	send(t, second, "b", protocol.WSTypeListen, nil)
	assert.Equal(t, protocol.WSTypeListening, receive(t, second).Type)

	displaced := receive(t, first)
	assert.Equal(t, "a", displaced.ID)
	assert.Equal(t, protocol.WSTypeCancelled, displaced.Type)
}

func TestWebSocket_UnknownTypeReturnsPlatform(t *testing.T) {
	env := newTestEnv(t, Config{Platform: "linux 9.9"})
	conn := env.dial(t, "")

	send(t, conn, "p1", "getPlatformVersion", nil)

	msg := receive(t, conn)
	assert.Equal(t, protocol.WSTypePlatform, msg.Type)
	assert.Contains(t, string(msg.Raw), `"payload":"linux 9.9"`)
}

func TestWebSocket_InvalidJSON(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn := env.dial(t, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	msg := receive(t, conn)
	assert.Equal(t, protocol.WSTypeError, msg.Type)
	assert.Equal(t, protocol.WSErrParse, msg.Payload["code"])
}

func TestWebSocket_DisconnectReleasesSlots(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn := env.dial(t, "")

	send(t, conn, "r1", protocol.WSTypeRead, nil)
	send(t, conn, "l1", protocol.WSTypeListen, nil)
	receive(t, conn)
	waitFor(t, func() bool {
		snap := env.controller.Snapshot()
		return snap.HasResponder && snap.HasSubscriber
	})

	conn.Close()

	waitFor(t, func() bool {
		snap := env.controller.Snapshot()
		return !snap.HasResponder && !snap.HasSubscriber
	})
	assert.Equal(t, session.Active, env.controller.Snapshot().State, "a disconnect leaves the session running")
}

func TestWebSocket_APISecret(t *testing.T) {
	env := newTestEnv(t, Config{APISecret: "s3cret"})
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + RouteWS

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn := env.dial(t, "?secret=s3cret")
	send(t, conn, "p", "unknown", nil)
	assert.Equal(t, protocol.WSTypePlatform, receive(t, conn).Type)
}

func TestHTTP_ReadLongPoll(t *testing.T) {
	env := newTestEnv(t, Config{})

	done := make(chan protocol.ReadResponse, 1)
	go func() {
		resp, err := http.Post(env.http.URL+RouteRead, "application/json", strings.NewReader(`{"instruction":"Tap"}`))
		if err != nil {
			return
		}
		defer resp.Body.Close()
		var r protocol.ReadResponse
		if json.NewDecoder(resp.Body).Decode(&r) == nil {
			done <- r
		}
	}()

	waitFor(t, func() bool { return env.controller.Snapshot().HasResponder })
	env.capability.Last().Read([]byte("from http"))

	select {
	case r := <-done:
		assert.Equal(t, protocol.ReadEventFromPayload("from http"), r.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("read request was not answered")
	}
}

func TestHTTP_Stop(t *testing.T) {
	env := newTestEnv(t, Config{})
	require.NoError(t, env.controller.Start("x", false))

	resp, err := http.Post(env.http.URL+RouteStop, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.capability.Last().Invalidated())
	assert.Equal(t, session.Idle, env.controller.Snapshot().State)
}

func TestHTTP_SessionAndPlatform(t *testing.T) {
	env := newTestEnv(t, Config{Platform: "darwin 2.0"})
	require.NoError(t, env.controller.Start("Scan", false))

	resp, err := http.Get(env.http.URL + RouteSession)
	require.NoError(t, err)
	var snap map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	resp.Body.Close()
	assert.Equal(t, "active", snap["state"])
	assert.Equal(t, "Scan", snap["instruction"])

	resp, err = http.Get(env.http.URL + RoutePlatform)
	require.NoError(t, err)
	var platform map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&platform))
	resp.Body.Close()
	assert.Equal(t, "darwin 2.0", platform["platform"])
}

func TestHTTP_TagInputRequiresRemoteReader(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp, err := http.Post(env.http.URL+RouteTag, "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTP_TagInputRemote(t *testing.T) {
	remote := remotenfc.NewReader(remotenfc.Options{Logger: log.New(io.Discard, "", 0)})
	discard := log.New(io.Discard, "", 0)
	controller := session.NewController(remote.Capability(), nil, discard)
	s, err := New(controller, Config{Remote: remote, Logger: discard})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	defer controller.Close()

	body := `{"records":[{"mimeType":"text/plain","content":"injected"}]}`
	resp, err := http.Post(ts.URL+RouteTag, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "no session is listening yet")

	responder := session.NewChannel("test", 1, discard)
	require.NoError(t, controller.Read("", responder))
	waitFor(t, remote.Active)

	resp, err = http.Post(ts.URL+RouteTag, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	var out protocol.TagInputResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	assert.True(t, out.Success)
	assert.NotEmpty(t, out.UID)

	select {
	case e := <-responder.Events():
		assert.Equal(t, protocol.ReadEventFromPayload("injected"), e)
	case <-time.After(2 * time.Second):
		t.Fatal("injected tag was not read")
	}
}
