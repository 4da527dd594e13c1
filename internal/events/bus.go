package events

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Handler processes events
type Handler interface {
	HandleEvent(ctx context.Context, event Event) error
	Priority() int
	ID() string
}

// Bus manages event distribution. Handlers for one event type run in
// priority order; a failing handler is logged and must not stop the rest,
// since unrelated automations share the same notifications.
type Bus struct {
	handlers map[EventType][]Handler
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewBus creates a new event bus
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[EventType][]Handler),
		logger:   logger,
	}
}

// Subscribe adds a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)

	sort.SliceStable(b.handlers[eventType], func(i, j int) bool {
		return b.handlers[eventType][i].Priority() < b.handlers[eventType][j].Priority()
	})

	b.logger.Debug("bus: subscribed handler",
		"handler", handler.ID(), "event", eventType, "priority", handler.Priority())
}

// Unsubscribe removes a handler
func (b *Bus) Unsubscribe(eventType EventType, handlerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.handlers[eventType]
	for i, h := range handlers {
		if h.ID() != handlerID {
			continue
		}
		b.handlers[eventType] = append(handlers[:i], handlers[i+1:]...)
		b.logger.Debug("bus: unsubscribed handler", "handler", handlerID, "event", eventType)
		return
	}
}

// Emit sends an event to all registered handlers
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type()]))
	copy(handlers, b.handlers[event.Type()])
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			b.logger.Error("bus: handler failed",
				"handler", handler.ID(), "event", event.Type(), "error", err)
		}
	}
}

// Clear removes all handlers
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = make(map[EventType][]Handler)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc struct {
	Name string
	Prio int
	Fn   func(ctx context.Context, event Event) error
}

func (h HandlerFunc) HandleEvent(ctx context.Context, event Event) error { return h.Fn(ctx, event) }
func (h HandlerFunc) Priority() int                                      { return h.Prio }
func (h HandlerFunc) ID() string                                         { return h.Name }
