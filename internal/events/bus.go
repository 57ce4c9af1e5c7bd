package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler consumes published events.
type Handler interface {
	Handle(ctx context.Context, event Event)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event Event)

func (f HandlerFunc) Handle(ctx context.Context, event Event) { f(ctx, event) }

// Subscription identifies a registered handler so it can be removed.
type Subscription struct {
	ID   string
	Type EventType
}

// Bus is an in-process publish/subscribe dispatcher. Handlers run in
// their own goroutines so a slow observer never stalls the trading
// loop. Shutdown waits for in-flight handlers to finish.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType]map[string]Handler
	wg       sync.WaitGroup
	closed   bool
	logger   *zap.Logger
}

// NewBus creates an empty event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType]map[string]Handler),
		logger:   logger.Named("events"),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t EventType, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[t] == nil {
		b.handlers[t] = make(map[string]Handler)
	}
	id := uuid.NewString()
	b.handlers[t][id] = h
	return Subscription{ID: id, Type: t}
}

// Unsubscribe removes a previously registered handler.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers[sub.Type], sub.ID)
}

// Publish dispatches the event to every subscriber of its type. Each
// handler runs asynchronously; events published after shutdown are
// dropped.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		b.logger.Debug("event dropped after shutdown",
			zap.String("type", string(event.Type())))
		return
	}
	subs := make([]Handler, 0, len(b.handlers[event.Type()]))
	for _, h := range b.handlers[event.Type()] {
		subs = append(subs, h)
	}
	// Add while still holding the lock so a concurrent Shutdown cannot
	// start waiting between the closed check and the dispatch.
	b.wg.Add(len(subs))
	b.mu.RUnlock()

	for _, h := range subs {
		go func(h Handler) {
			defer b.wg.Done()
			h.Handle(ctx, event)
		}(h)
	}
}

// Shutdown stops accepting new events and waits for in-flight handlers
// to complete, or for the context to expire.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
