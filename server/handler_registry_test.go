package server

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/fvisticot/nfc-reader-bridge/protocol"
)

func noopHandler(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	return nil
}

func TestHandlerRegistry_Handle(t *testing.T) {
	registry := NewHandlerRegistry()

	t.Run("register valid handler", func(t *testing.T) {
		if err := registry.Handle("test", noopHandler); err != nil {
			t.Fatalf("failed to register handler: %v", err)
		}
	})

	t.Run("register nil handler", func(t *testing.T) {
		if err := registry.Handle("nil", nil); err == nil {
			t.Fatal("expected error when registering nil handler")
		}
	})

	t.Run("register handler with empty message type", func(t *testing.T) {
		if err := registry.Handle("", noopHandler); err == nil {
			t.Fatal("expected error when registering handler with empty message type")
		}
	})

	t.Run("register duplicate handler", func(t *testing.T) {
		if err := registry.Handle("duplicate", noopHandler); err != nil {
			t.Fatalf("failed to register first handler: %v", err)
		}
		if err := registry.Handle("duplicate", noopHandler); err == nil {
			t.Fatal("expected error when registering duplicate handler")
		}
	})
}

func TestHandlerRegistry_GetAndHas(t *testing.T) {
	registry := NewHandlerRegistry()
	registry.Handle("test", noopHandler)

	if h, ok := registry.Get("test"); !ok || h == nil {
		t.Fatal("handler not found")
	}
	if _, ok := registry.Get("nonexistent"); ok {
		t.Fatal("expected handler not to be found")
	}
	if !registry.Has("test") || registry.Has("nonexistent") {
		t.Fatal("Has() disagrees with Get()")
	}
}

func TestHandlerRegistry_Lookup(t *testing.T) {
	registry := NewHandlerRegistry()
	registry.Handle("read", noopHandler)

	if _, ok := registry.Lookup("unknown"); ok {
		t.Fatal("Lookup() without a default handler should fail")
	}

	fallbackErr := errors.New("fallback")
	registry.HandleDefault(func(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
		return fallbackErr
	})

	h, ok := registry.Lookup("unknown")
	if !ok {
		t.Fatal("Lookup() should return the default handler")
	}
	if err := h(context.Background(), nil, protocol.WebSocketRequest{}); err != fallbackErr {
		t.Errorf("default handler returned %v, want %v", err, fallbackErr)
	}

	h, _ = registry.Lookup("read")
	if err := h(context.Background(), nil, protocol.WebSocketRequest{}); err != nil {
		t.Errorf("registered handler should win over the default, got %v", err)
	}
}

func TestHandlerRegistry_MessageTypes(t *testing.T) {
	registry := NewHandlerRegistry()
	if types := registry.MessageTypes(); len(types) != 0 {
		t.Fatalf("expected 0 message types, got %d", len(types))
	}

	registry.Handle("stop", noopHandler)
	registry.Handle("read", noopHandler)
	registry.Handle("listen", noopHandler)

	want := []string{"listen", "read", "stop"}
	if got := registry.MessageTypes(); !reflect.DeepEqual(got, want) {
		t.Errorf("MessageTypes() = %v, want %v", got, want)
	}
}

func TestHandlerRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewHandlerRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			registry.Handle(fmt.Sprintf("type%d", i), noopHandler)
		}(i)
		go func(i int) {
			defer wg.Done()
			registry.Lookup(fmt.Sprintf("type%d", i))
		}(i)
	}
	wg.Wait()

	if n := len(registry.MessageTypes()); n != 50 {
		t.Errorf("expected 50 message types, got %d", n)
	}
}

func TestHandlerRegistry_RunShutdownHandlers(t *testing.T) {
	registry := NewHandlerRegistry()
	var order []int

	for i := 0; i < 3; i++ {
		registry.RegisterShutdown(func() {
			order = append(order, i)
		})
	}

	registry.RunShutdownHandlers()

	if want := []int{0, 1, 2}; !reflect.DeepEqual(order, want) {
		t.Errorf("RunShutdownHandlers() order = %v, want %v", order, want)
	}
}
