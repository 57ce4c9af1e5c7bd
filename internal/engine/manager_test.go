package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/meridianlabs/tokensniper/internal/events"
	"github.com/meridianlabs/tokensniper/internal/execution"
	"github.com/meridianlabs/tokensniper/internal/filter"
	"github.com/meridianlabs/tokensniper/internal/position"
	"github.com/meridianlabs/tokensniper/internal/risk"
	"github.com/meridianlabs/tokensniper/internal/storage"
	"github.com/meridianlabs/tokensniper/internal/types"
)

// stubPort fills instantly at a fixed price. openDelay simulates a
// slow venue; closeErr makes every exit fail.
type stubPort struct {
	mu        sync.Mutex
	price     float64
	openDelay time.Duration
	closeErr  error
}

func (p *stubPort) Open(ctx context.Context, assetID string, size float64) (*execution.Fill, error) {
	if p.openDelay > 0 {
		select {
		case <-time.After(p.openDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return &execution.Fill{
		AssetID: assetID, Price: p.price, Size: size,
		TxID: "tx-in-" + assetID, Time: time.Now().UTC(),
	}, nil
}

func (p *stubPort) Close(_ context.Context, assetID string) (*execution.Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closeErr != nil {
		return nil, p.closeErr
	}
	return &execution.Fill{
		AssetID: assetID, Price: p.price, Size: 1,
		TxID: "tx-out-" + assetID, Time: time.Now().UTC(),
	}, nil
}

// eventRecorder captures bus events of one type.
type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func recordEvents(bus *events.Bus, t events.EventType) *eventRecorder {
	r := &eventRecorder{}
	bus.Subscribe(t, events.HandlerFunc(func(_ context.Context, ev events.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	}))
	return r
}

func (r *eventRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *eventRecorder) at(i int) events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[i]
}

func permissiveFilter(t *testing.T) *filter.Filter {
	return filter.New(filter.Config{
		MinLiquidityUSD:     1_000,
		MinHolders:          10,
		MaxTopHolderPercent: 50,
		MaxPoolAge:          time.Hour,
		SafetyThreshold:     10,
	}, zaptest.NewLogger(t))
}

func goodSnapshot(assetID string) types.AssetSnapshot {
	return types.AssetSnapshot{
		AssetID:       assetID,
		Chain:         types.ChainSolana,
		Symbol:        "TST",
		LiquidityUSD:  50_000,
		Holders:       500,
		TopHolderPct:  10,
		PoolCreatedAt: time.Now().UTC().Add(-5 * time.Minute),
		SafetyScore:   90,
		DiscoveredAt:  time.Now().UTC(),
	}
}

func newTestManager(t *testing.T, maxPositions int, port execution.Port) (*Manager, *events.Bus, *risk.Ledger) {
	logger := zaptest.NewLogger(t)
	bus := events.NewBus(logger)
	ledger := risk.NewLedger(maxPositions, 1_000, logger)

	manager := NewManager(ManagerConfig{
		Filter:       permissiveFilter(t),
		Ledger:       ledger,
		Exec:         port,
		Store:        storage.NewMemoryStorage(),
		Bus:          bus,
		Logger:       logger,
		Size:         1,
		Rules:        position.ExitRules{TakeProfitPct: 300, StopLossPct: 20},
		ExecTimeout:  time.Second,
		CloseRetries: 2,
	})
	return manager, bus, ledger
}

func TestDiscoveryOpensPosition(t *testing.T) {
	port := &stubPort{price: 1.0}
	manager, bus, ledger := newTestManager(t, 5, port)
	opened := recordEvents(bus, events.PositionOpened)

	manager.OnAssetDiscovered(context.Background(), goodSnapshot("mint-a"))

	require.Eventually(t, func() bool { return opened.count() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, manager.OpenCount())
	assert.Equal(t, 1, ledger.OpenPositions())
}

func TestDuplicateDiscoveryIgnored(t *testing.T) {
	port := &stubPort{price: 1.0}
	manager, _, ledger := newTestManager(t, 5, port)

	ctx := context.Background()
	snap := goodSnapshot("mint-a")
	manager.OnAssetDiscovered(ctx, snap)
	manager.OnAssetDiscovered(ctx, snap)

	assert.Equal(t, 1, manager.OpenCount())
	assert.Equal(t, 1, ledger.OpenPositions())
	assert.Equal(t, 1.0, ledger.SpentToday(types.ChainSolana))
}

func TestRejectedAssetNeverReservesCapital(t *testing.T) {
	port := &stubPort{price: 1.0}
	manager, bus, ledger := newTestManager(t, 5, port)
	rejected := recordEvents(bus, events.AssetRejected)

	snap := goodSnapshot("mint-bad")
	snap.LiquidityUSD = 10 // fails min_liquidity

	manager.OnAssetDiscovered(context.Background(), snap)

	require.Eventually(t, func() bool { return rejected.count() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, manager.OpenCount())
	assert.Equal(t, 0, ledger.OpenPositions())
	assert.Zero(t, ledger.SpentToday(types.ChainSolana))
}

func TestCapacityDenialIsPublishedNotQueued(t *testing.T) {
	port := &stubPort{price: 1.0}
	manager, bus, _ := newTestManager(t, 1, port)
	denied := recordEvents(bus, events.CapacityDenied)

	ctx := context.Background()
	manager.OnAssetDiscovered(ctx, goodSnapshot("mint-a"))
	manager.OnAssetDiscovered(ctx, goodSnapshot("mint-b"))

	require.Eventually(t, func() bool { return denied.count() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, manager.OpenCount())
}

func TestTickForUnknownAssetDiscarded(t *testing.T) {
	port := &stubPort{price: 1.0}
	manager, _, _ := newTestManager(t, 5, port)

	// Must be a no-op, not a panic or an implicit position.
	manager.OnPriceTick(types.PriceTick{AssetID: "mint-ghost", Price: 1.0, Time: time.Now()})
	assert.Equal(t, 0, manager.OpenCount())
}

func TestTickRoutesToMachineAndSettles(t *testing.T) {
	port := &stubPort{price: 1.0}
	manager, bus, ledger := newTestManager(t, 5, port)
	opened := recordEvents(bus, events.PositionOpened)
	closed := recordEvents(bus, events.PositionClosed)

	manager.OnAssetDiscovered(context.Background(), goodSnapshot("mint-a"))
	require.Eventually(t, func() bool { return opened.count() == 1 },
		time.Second, 5*time.Millisecond)

	port.mu.Lock()
	port.price = 0.79
	port.mu.Unlock()
	manager.OnPriceTick(types.PriceTick{AssetID: "mint-a", Price: 0.79, Time: time.Now()})

	require.Eventually(t, func() bool { return closed.count() == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, manager.OpenCount())
	assert.Equal(t, 0, ledger.OpenPositions())

	ev := closed.at(0).(events.PositionClosedEvent)
	assert.Equal(t, "stop_loss", ev.Reason)
}

func TestShutdownStopsAllMachines(t *testing.T) {
	port := &stubPort{price: 1.0}
	manager, bus, _ := newTestManager(t, 5, port)
	opened := recordEvents(bus, events.PositionOpened)

	ctx := context.Background()
	manager.OnAssetDiscovered(ctx, goodSnapshot("mint-a"))
	manager.OnAssetDiscovered(ctx, goodSnapshot("mint-b"))
	require.Eventually(t, func() bool { return opened.count() == 2 },
		time.Second, 5*time.Millisecond)

	shutCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, manager.Shutdown(shutCtx))
}

func TestShutdownReportsStuckPosition(t *testing.T) {
	port := &stubPort{price: 1.0, closeErr: errors.New("venue down")}
	manager, bus, ledger := newTestManager(t, 5, port)
	opened := recordEvents(bus, events.PositionOpened)
	stuck := recordEvents(bus, events.PositionStuck)

	ctx := context.Background()
	manager.OnAssetDiscovered(ctx, goodSnapshot("mint-a"))
	require.Eventually(t, func() bool { return opened.count() == 1 },
		time.Second, 5*time.Millisecond)

	manager.OnPriceTick(types.PriceTick{AssetID: "mint-a", Price: 0.79, Time: time.Now()})
	require.Eventually(t, func() bool { return stuck.count() == 1 },
		10*time.Second, 10*time.Millisecond)

	// The machine finished but the position is still Closing with
	// capital committed. Shutdown must surface that, not report clean.
	shutCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	err := manager.Shutdown(shutCtx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsettled")
	assert.Equal(t, 1, ledger.OpenPositions())
}
