package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPublishReachesSubscribersOfType(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))

	var mu sync.Mutex
	var got []Event
	bus.Subscribe(PositionOpened, HandlerFunc(func(_ context.Context, ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	}))

	bus.Publish(context.Background(), PositionOpenedEvent{
		BaseEvent: Now(PositionOpened), AssetID: "mint-a",
	})
	bus.Publish(context.Background(), PositionClosedEvent{
		BaseEvent: Now(PositionClosed), AssetID: "mint-a",
	})

	require.NoError(t, bus.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, PositionOpened, got[0].Type())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))

	var mu sync.Mutex
	count := 0
	sub := bus.Subscribe(AssetRejected, HandlerFunc(func(_ context.Context, _ Event) {
		mu.Lock()
		defer mu.Unlock()
		count++
	}))

	bus.Publish(context.Background(), AssetRejectedEvent{BaseEvent: Now(AssetRejected)})
	bus.Unsubscribe(sub)
	bus.Publish(context.Background(), AssetRejectedEvent{BaseEvent: Now(AssetRejected)})

	require.NoError(t, bus.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestPublishAfterShutdownDropped(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))

	called := make(chan struct{}, 1)
	bus.Subscribe(PositionStuck, HandlerFunc(func(_ context.Context, _ Event) {
		called <- struct{}{}
	}))

	require.NoError(t, bus.Shutdown(context.Background()))
	bus.Publish(context.Background(), PositionStuckEvent{BaseEvent: Now(PositionStuck)})

	select {
	case <-called:
		t.Fatal("handler ran after shutdown")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestShutdownWaitsForInFlightHandlers(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))

	done := make(chan struct{})
	bus.Subscribe(PositionClosed, HandlerFunc(func(_ context.Context, _ Event) {
		time.Sleep(50 * time.Millisecond)
		close(done)
	}))

	bus.Publish(context.Background(), PositionClosedEvent{BaseEvent: Now(PositionClosed)})
	require.NoError(t, bus.Shutdown(context.Background()))

	select {
	case <-done:
	default:
		t.Fatal("shutdown returned before the handler finished")
	}
}
