// Package event is an in-process publish/subscribe bus for connection
// lifecycle and probe events.
package event

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Type identifies a category of event.
type Type string

// Known event types.
const (
	ConnectionCreated Type = "connection.created"
	ConnectionUpdated Type = "connection.updated"
	ConnectionDeleted Type = "connection.deleted"
	ConnectionProbed  Type = "connection.probed"
)

// Event represents something that happened to a connection. Data never
// carries credentials.
type Event struct {
	Type         Type           `json:"type"`
	ConnectionID string         `json:"connection_id"`
	Timestamp    time.Time      `json:"timestamp"`
	Data         map[string]any `json:"data,omitempty"`
}

// Handler processes an event. Handlers run on the bus goroutine and should
// hand long work off to their own goroutines.
type Handler func(Event)

// Bus is an in-process event bus backed by a buffered channel.
type Bus struct {
	ch     chan Event
	logger *slog.Logger

	mu       sync.RWMutex
	subs     map[Type][]Handler
	all      []Handler
	stopOnce sync.Once
	done     chan struct{}
}

// NewBus creates an event bus with the given buffer size (256 when <= 0).
func NewBus(logger *slog.Logger, bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Bus{
		ch:     make(chan Event, bufSize),
		subs:   make(map[Type][]Handler),
		logger: logger.With(slog.String("component", "event-bus")),
		done:   make(chan struct{}),
	}
}

// Subscribe registers h for events of type t.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], h)
}

// SubscribeAll registers h for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish enqueues e without blocking. Events are dropped with a warning
// when the buffer is full. A nil Bus discards events.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	select {
	case b.ch <- e:
	default:
		b.logger.Warn("event bus full, dropping event", "type", string(e.Type), "connection_id", e.ConnectionID)
	}
}

// Run dispatches events until ctx is cancelled or Stop is called, then
// drains whatever is still buffered.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case e := <-b.ch:
			b.dispatch(e)
		case <-ctx.Done():
			b.drain()
			return
		case <-b.done:
			b.drain()
			return
		}
	}
}

// Stop makes Run return after draining the buffer. Safe to call twice.
func (b *Bus) Stop() {
	if b == nil {
		return
	}
	b.stopOnce.Do(func() { close(b.done) })
}

func (b *Bus) drain() {
	for {
		select {
		case e := <-b.ch:
			b.dispatch(e)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[e.Type])+len(b.all))
	handlers = append(handlers, b.subs[e.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked", "type", string(e.Type), "panic", r)
				}
			}()
			h(e)
		}()
	}
}
