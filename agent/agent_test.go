package agent

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fvisticot/nfc-reader-bridge/config"
	"github.com/fvisticot/nfc-reader-bridge/nfc"
	"github.com/fvisticot/nfc-reader-bridge/protocol"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Reader: config.ReaderConfig{Driver: config.DriverRemote, PollInterval: time.Millisecond},
	}
}

func startAgent(t *testing.T) (*Agent, *nfc.MockCapability) {
	t.Helper()
	capability := nfc.NewMockCapability()
	a := New(testConfig(), Reader{Capability: capability, Name: "mock"})
	a.Logger = log.New(io.Discard, "", 0)
	require.NoError(t, a.Start())
	t.Cleanup(a.Stop)
	return a, capability
}

func TestNewReader(t *testing.T) {
	for _, driver := range []string{config.DriverLibNFC, config.DriverPCSC, config.DriverRemote} {
		r, err := NewReader(config.ReaderConfig{Driver: driver, PollInterval: time.Millisecond}, nil)
		require.NoError(t, err, driver)
		assert.NotNil(t, r.Capability, driver)
		assert.Equal(t, driver == config.DriverRemote, r.Remote != nil, driver)
	}

	_, err := NewReader(config.ReaderConfig{Driver: "serial"}, nil)
	assert.Error(t, err)
}

func TestAgent_StartTwice(t *testing.T) {
	a, _ := startAgent(t)
	assert.True(t, a.Running())
	assert.NotNil(t, a.Addr())
	assert.ErrorIs(t, a.Start(), ErrRunning)
}

func TestAgent_StopAnswersPendingRead(t *testing.T) {
	a, capability := startAgent(t)
	url := "http://" + a.Addr().String() + "/api/v1/read"

	type result struct {
		resp protocol.ReadResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := http.Post(url, "application/json", strings.NewReader(`{"instruction":"Scan"}`))
		if err != nil {
			done <- result{err: err}
			return
		}
		defer resp.Body.Close()
		var r protocol.ReadResponse
		err = json.NewDecoder(resp.Body).Decode(&r)
		done <- result{resp: r, err: err}
	}()

	require.Eventually(t, func() bool {
		c := a.Controller()
		return c != nil && c.Snapshot().HasResponder
	}, 2*time.Second, 10*time.Millisecond)

	a.Stop()
	assert.False(t, a.Running())
	assert.Nil(t, a.Controller())

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, protocol.StatusStopped, r.resp.Event.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("pending read was not answered")
	}
	assert.True(t, capability.Last().Invalidated())
}

func TestAgent_Restart(t *testing.T) {
	a, capability := startAgent(t)
	a.Stop()
	a.Stop()

	require.NoError(t, a.Start())
	require.NoError(t, a.Controller().Start("again", false))
	assert.Equal(t, "again", capability.Last().Config.Instruction)
}
