package session

import (
	"bytes"
	"errors"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fvisticot/nfc-reader-bridge/nfc"
	"github.com/fvisticot/nfc-reader-bridge/protocol"
)

// recorder is a Handle that keeps every event it receives.
type recorder struct {
	mu     sync.Mutex
	events []protocol.ReadEvent
}

func (r *recorder) Deliver(e protocol.ReadEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Events() []protocol.ReadEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.ReadEvent(nil), r.events...)
}

func newTestController(t *testing.T) (*Controller, *nfc.MockCapability) {
	t.Helper()
	capability := nfc.NewMockCapability()
	return NewController(capability, nil, log.New(io.Discard, "", 0)), capability
}

func TestController_ReadDeliversOnceAndClears(t *testing.T) {
	c, capability := newTestController(t)
	responder := &recorder{}

	require.NoError(t, c.Read("Hold near tag", responder))
	sess := capability.Last()
	require.NotNil(t, sess)
	assert.Equal(t, nfc.SessionConfig{Instruction: "Hold near tag", AutoStopOnFirstRead: true}, sess.Config)

	sess.Read([]byte("Hello"))
	sess.Fail(nfc.ErrCodeFirstTagRead, "first read", true)

	assert.Equal(t, []protocol.ReadEvent{protocol.ReadEventFromPayload("Hello")}, responder.Events())
	snap := c.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.False(t, snap.HasResponder)
}

func TestController_SubscriberReceivesReadsAndErrors(t *testing.T) {
	c, capability := newTestController(t)
	sub := &recorder{}

	_, err := c.Subscribe(sub, "Scan badge", true)
	require.NoError(t, err)
	sess := capability.Last()
	assert.False(t, sess.Config.AutoStopOnFirstRead)

	sess.Read([]byte("A"))
	sess.Read([]byte("B"))
	sess.Fail(nfc.ErrCodeUserCanceled, "Session invalidated by user", false)

	assert.Equal(t, []protocol.ReadEvent{
		protocol.ReadEventFromPayload("A"),
		protocol.ReadEventFromPayload("B"),
		protocol.ErrorEvent(200, "Session invalidated by user"),
	}, sub.Events())
	assert.Equal(t, Idle, c.Snapshot().State)
	assert.True(t, c.Snapshot().HasSubscriber, "an error does not close the subscription")
}

func TestController_ReadReachesBothConsumers(t *testing.T) {
	c, capability := newTestController(t)
	responder, sub := &recorder{}, &recorder{}

	_, err := c.Subscribe(sub, "", false)
	require.NoError(t, err)
	assert.Empty(t, capability.Sessions(), "subscribing without instruction starts nothing")

	require.NoError(t, c.Read("", responder))
	capability.Last().Read([]byte("Hello"))

	want := []protocol.ReadEvent{protocol.ReadEventFromPayload("Hello")}
	assert.Equal(t, want, responder.Events())
	assert.Equal(t, want, sub.Events())
}

func TestController_StopNotifiesResponderOnly(t *testing.T) {
	c, capability := newTestController(t)
	responder, sub := &recorder{}, &recorder{}

	_, _ = c.Subscribe(sub, "", false)
	require.NoError(t, c.Read("", responder))
	sess := capability.Last()

	c.Stop()

	assert.True(t, sess.Invalidated())
	assert.Equal(t, []protocol.ReadEvent{protocol.StoppedEvent()}, responder.Events())
	assert.Empty(t, sub.Events())

	// A late callback from the stopped session is discarded.
	sess.Fail(nfc.ErrCodeUserCanceled, "Session invalidated by user", false)
	sess.Read([]byte("late"))
	assert.Len(t, responder.Events(), 1)
	assert.Empty(t, sub.Events())
}

func TestController_StopWhenIdle(t *testing.T) {
	c, _ := newTestController(t)
	responder := &recorder{}
	c.Router().SetResponder(responder)

	c.Stop()
	c.Stop()

	assert.Equal(t, []protocol.ReadEvent{protocol.StoppedEvent()}, responder.Events())
}

func TestController_StopWhenIdleWithOnlySubscriber(t *testing.T) {
	c, capability := newTestController(t)
	sub := &recorder{}
	_, _ = c.Subscribe(sub, "", false)

	c.Stop()

	assert.Empty(t, sub.Events())
	assert.Empty(t, capability.Sessions())
	assert.True(t, c.Snapshot().HasSubscriber)
	assert.Equal(t, Idle, c.Snapshot().State)
}

func TestController_ExpectedTerminationIsNotLoggedAsStale(t *testing.T) {
	var buf bytes.Buffer
	capability := nfc.NewMockCapability()
	c := NewController(capability, nil, log.New(&buf, "", 0))

	require.NoError(t, c.Read("", &recorder{}))
	sess := capability.Last()
	sess.Read([]byte("Hello"))
	sess.Fail(nfc.ErrCodeFirstTagRead, "first read", true)
	assert.NotContains(t, buf.String(), "stale")

	sess.Fail(nfc.ErrCodeUserCanceled, "late", false)
	assert.Contains(t, buf.String(), "stale")
}

func TestController_StartReplacesSession(t *testing.T) {
	c, capability := newTestController(t)
	sub := &recorder{}
	_, _ = c.Subscribe(sub, "", false)

	require.NoError(t, c.Start("first", false))
	first := capability.Last()
	require.NoError(t, c.Start("second", false))
	second := capability.Last()

	assert.True(t, first.Invalidated())
	assert.False(t, second.Invalidated())
	assert.Equal(t, "second", c.Snapshot().Instruction)

	first.Read([]byte("stale"))
	second.Read([]byte("fresh"))

	assert.Equal(t, []protocol.ReadEvent{protocol.ReadEventFromPayload("fresh")}, sub.Events())
}

func TestController_ReadDisplacesPendingResponder(t *testing.T) {
	c, capability := newTestController(t)
	first, second := &recorder{}, &recorder{}

	require.NoError(t, c.Read("", first))
	require.NoError(t, c.Read("", second))
	capability.Last().Read([]byte("Hello"))

	assert.Equal(t, []protocol.ReadEvent{protocol.StoppedEvent()}, first.Events())
	assert.Equal(t, []protocol.ReadEvent{protocol.ReadEventFromPayload("Hello")}, second.Events())
}

func TestController_InvalidUTF8IsDropped(t *testing.T) {
	c, capability := newTestController(t)
	responder := &recorder{}

	require.NoError(t, c.Read("", responder))
	sess := capability.Last()
	sess.Read([]byte{0xFF, 0xFE})

	assert.Empty(t, responder.Events())
	assert.Equal(t, Active, c.Snapshot().State, "the session stays live until the reader ends it")
	assert.True(t, c.Snapshot().HasResponder)

	sess.Fail(nfc.ErrCodeFirstTagRead, "first read", true)
	assert.Empty(t, responder.Events())
	assert.Equal(t, Idle, c.Snapshot().State)
}

func TestController_EmptyPayloadIsARead(t *testing.T) {
	c, capability := newTestController(t)
	responder := &recorder{}

	require.NoError(t, c.Read("", responder))
	capability.Last().Read(nil)

	assert.Equal(t, []protocol.ReadEvent{protocol.ReadEventFromPayload("")}, responder.Events())
}

func TestController_ErrorReachesResponder(t *testing.T) {
	c, capability := newTestController(t)
	responder := &recorder{}

	require.NoError(t, c.Read("", responder))
	capability.Last().Fail(nfc.ErrCodeSessionTimeout, "Session timeout", false)

	assert.Equal(t, []protocol.ReadEvent{protocol.ErrorEvent(201, "Session timeout")}, responder.Events())
	assert.False(t, c.Snapshot().HasResponder)
}

func TestController_BeginFailureBecomesErrorEvent(t *testing.T) {
	c, capability := newTestController(t)
	capability.BeginError = nfc.NewReaderUnavailableError("Open", errors.New("no device"))
	responder := &recorder{}

	require.NoError(t, c.Read("", responder))

	events := responder.Events()
	require.Len(t, events, 1)
	assert.Equal(t, protocol.StatusError, events[0].Status)
	assert.Equal(t, int(nfc.ErrCodeUnsupportedFeature), events[0].ErrorCode)
	assert.Equal(t, Idle, c.Snapshot().State)
}

func TestController_UnsubscribeKeepsSession(t *testing.T) {
	c, capability := newTestController(t)
	sub := &recorder{}

	_, _ = c.Subscribe(sub, "scan", true)
	assert.True(t, c.Unsubscribe(sub))

	sess := capability.Last()
	assert.False(t, sess.Invalidated())
	assert.Equal(t, Active, c.Snapshot().State)

	sess.Read([]byte("nobody listening"))
	assert.Empty(t, sub.Events())
}

func TestController_SubscribeReplacesSubscriber(t *testing.T) {
	c, capability := newTestController(t)
	first, second := &recorder{}, &recorder{}

	_, _ = c.Subscribe(first, "", false)
	prev, err := c.Subscribe(second, "", false)
	require.NoError(t, err)
	assert.Same(t, first, prev)

	assert.False(t, c.Unsubscribe(first), "a stale handle cannot clear the new subscriber")
	assert.False(t, c.Subscribed(first))
	assert.True(t, c.Subscribed(second))

	require.NoError(t, c.Start("", false))
	capability.Last().Read([]byte("x"))
	assert.Empty(t, first.Events())
	assert.Len(t, second.Events(), 1)
}

func TestController_ReleaseKeepsSession(t *testing.T) {
	c, capability := newTestController(t)
	responder := &recorder{}

	require.NoError(t, c.Read("", responder))
	assert.True(t, c.Release(responder))
	assert.False(t, c.Release(responder))

	capability.Last().Read([]byte("x"))
	assert.Empty(t, responder.Events())
}

func TestController_Close(t *testing.T) {
	c, capability := newTestController(t)
	responder, sub := &recorder{}, &recorder{}

	_, _ = c.Subscribe(sub, "", false)
	require.NoError(t, c.Read("", responder))
	sess := capability.Last()

	c.Close()
	c.Close()

	assert.True(t, sess.Invalidated())
	assert.Equal(t, []protocol.ReadEvent{protocol.StoppedEvent()}, responder.Events())
	assert.False(t, c.Snapshot().HasSubscriber)

	sess.Read([]byte("late"))
	assert.Len(t, responder.Events(), 1)

	assert.ErrorIs(t, c.Start("", false), ErrClosed)
	assert.ErrorIs(t, c.Read("", responder), ErrClosed)
	_, err := c.Subscribe(sub, "", false)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestController_ConcurrentStartsLeaveOneSession(t *testing.T) {
	c, capability := newTestController(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Start("", false)
		}()
	}
	wg.Wait()

	live := 0
	for _, s := range capability.Sessions() {
		if !s.Invalidated() {
			live++
		}
	}
	assert.Equal(t, 1, live)
	assert.Equal(t, Active, c.Snapshot().State)
}
