package event

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus(testLogger(), 16)
	go bus.Run(context.Background())
	defer bus.Stop()

	var mu sync.Mutex
	var received []Event
	bus.Subscribe(ConnectionProbed, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
	})

	bus.Publish(Event{Type: ConnectionProbed, ConnectionID: "c1", Data: map[string]any{"success": true}})
	bus.Publish(Event{Type: ConnectionCreated, ConnectionID: "c2"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if received[0].ConnectionID != "c1" {
		t.Errorf("ConnectionID = %q, want c1", received[0].ConnectionID)
	}
	if received[0].Data["success"] != true {
		t.Errorf("data[success] = %v", received[0].Data["success"])
	}
	if received[0].Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewBus(testLogger(), 16)
	go bus.Run(context.Background())
	defer bus.Stop()

	var mu sync.Mutex
	seen := map[Type]int{}
	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		seen[e.Type]++
	})

	for _, typ := range []Type{ConnectionCreated, ConnectionUpdated, ConnectionDeleted} {
		bus.Publish(Event{Type: typ})
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	})
}

func TestHandlerPanicDoesNotStopBus(t *testing.T) {
	bus := NewBus(testLogger(), 16)
	go bus.Run(context.Background())
	defer bus.Stop()

	var mu sync.Mutex
	calls := 0
	bus.Subscribe(ConnectionDeleted, func(Event) { panic("boom") })
	bus.Subscribe(ConnectionDeleted, func(Event) {
		mu.Lock()
		defer mu.Unlock()
		calls++
	})

	bus.Publish(Event{Type: ConnectionDeleted})
	bus.Publish(Event{Type: ConnectionDeleted})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	})
}

func TestPublishDropsWhenFull(t *testing.T) {
	bus := NewBus(testLogger(), 1)
	// Not running, so the second publish must not block.
	bus.Publish(Event{Type: ConnectionCreated})
	done := make(chan struct{})
	go func() {
		bus.Publish(Event{Type: ConnectionCreated})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full buffer")
	}
}

func TestRunDrainsOnCancel(t *testing.T) {
	bus := NewBus(testLogger(), 16)
	var mu sync.Mutex
	count := 0
	bus.Subscribe(ConnectionUpdated, func(Event) {
		mu.Lock()
		defer mu.Unlock()
		count++
	})
	for range 5 {
		bus.Publish(Event{Type: ConnectionUpdated})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if count != 5 {
		t.Errorf("dispatched %d events, want 5", count)
	}
}

func TestNilBusPublish(t *testing.T) {
	var bus *Bus
	bus.Publish(Event{Type: ConnectionCreated})
	bus.Stop()
}
