// Package engine ties the decision core together: the Manager routes
// discoveries and ticks to position machines, the Coordinator owns the
// session loops and graceful shutdown.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridianlabs/tokensniper/internal/events"
	"github.com/meridianlabs/tokensniper/internal/execution"
	"github.com/meridianlabs/tokensniper/internal/filter"
	"github.com/meridianlabs/tokensniper/internal/position"
	"github.com/meridianlabs/tokensniper/internal/risk"
	"github.com/meridianlabs/tokensniper/internal/storage"
	"github.com/meridianlabs/tokensniper/internal/types"
)

// ManagerConfig wires the Manager to its collaborators.
type ManagerConfig struct {
	Filter       *filter.Filter
	Ledger       *risk.Ledger
	Exec         execution.Port
	Store        storage.Storage
	Bus          *events.Bus
	Logger       *zap.Logger
	Size         float64
	Rules        position.ExitRules
	ExecTimeout  time.Duration
	CloseRetries uint
	MaxStaleness time.Duration

	// OnSettled, when set, is called after a position leaves the
	// manager's books, letting feeds drop the asset.
	OnSettled func(assetID string)
}

// Manager owns the live position machines. Entry decisions follow a
// fixed pipeline: safety filter, duplicate guard, risk reservation,
// then machine creation. Everything after the reservation is the
// machine's own business.
type Manager struct {
	cfg    ManagerConfig
	logger *zap.Logger

	mu       sync.RWMutex
	machines map[string]*position.Machine
}

// NewManager creates an empty manager.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		cfg:      cfg,
		logger:   cfg.Logger.Named("manager"),
		machines: make(map[string]*position.Machine),
	}
}

// OnAssetDiscovered runs the entry pipeline for a fresh snapshot.
// Denied or rejected assets are dropped, never queued: the next
// discovery is always more valuable than a stale one.
func (m *Manager) OnAssetDiscovered(ctx context.Context, snap types.AssetSnapshot) {
	verdict := m.cfg.Filter.Evaluate(snap)
	if !verdict.Accepted {
		m.cfg.Bus.Publish(ctx, events.AssetRejectedEvent{
			BaseEvent:   events.Now(events.AssetRejected),
			AssetID:     snap.AssetID,
			Chain:       snap.Chain,
			Score:       verdict.Score,
			FailedRules: verdict.FailedRules(),
		})
		return
	}

	m.mu.Lock()
	if _, exists := m.machines[snap.AssetID]; exists {
		m.mu.Unlock()
		m.logger.Debug("duplicate discovery ignored",
			zap.String("asset", snap.AssetID))
		return
	}

	ok, reason := m.cfg.Ledger.TryReserve(snap.Chain, m.cfg.Size)
	if !ok {
		m.mu.Unlock()
		m.logger.Info("entry denied",
			zap.String("asset", snap.AssetID),
			zap.String("reason", reason))
		m.cfg.Bus.Publish(ctx, events.CapacityDeniedEvent{
			BaseEvent: events.Now(events.CapacityDenied),
			AssetID:   snap.AssetID,
			Chain:     snap.Chain,
			Reason:    reason,
		})
		return
	}

	machine := position.NewMachine(position.Config{
		Snapshot:     snap,
		Size:         m.cfg.Size,
		Rules:        m.cfg.Rules,
		Exec:         m.cfg.Exec,
		Ledger:       m.cfg.Ledger,
		Store:        m.cfg.Store,
		Logger:       m.cfg.Logger,
		ExecTimeout:  m.cfg.ExecTimeout,
		CloseRetries: m.cfg.CloseRetries,
		MaxStaleness: m.cfg.MaxStaleness,
		OnOpened:     func(pos position.Position) { m.onOpened(ctx, pos) },
		OnClosed:     func(pos position.Position) { m.onClosed(ctx, pos) },
		OnStuck:      func(pos position.Position, err error) { m.onStuck(ctx, pos, err) },
	})
	m.machines[snap.AssetID] = machine
	m.mu.Unlock()

	machine.Start(ctx)
}

// OnPriceTick routes a tick to the machine holding the asset. Ticks
// for unknown assets are discarded; a full machine buffer drops the
// tick rather than blocking the feed loop.
func (m *Manager) OnPriceTick(tick types.PriceTick) {
	m.mu.RLock()
	machine, ok := m.machines[tick.AssetID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if !machine.OfferTick(tick) {
		m.logger.Debug("tick dropped, machine buffer full",
			zap.String("asset", tick.AssetID))
	}
}

// RequestClose asks for a manual exit of the asset's position.
func (m *Manager) RequestClose(assetID string) bool {
	m.mu.RLock()
	machine, ok := m.machines[assetID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return machine.RequestClose(position.ReasonManual)
}

// OpenCount returns the number of machines currently on the books.
func (m *Manager) OpenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.machines)
}

// Positions returns snapshots of every machine on the books.
func (m *Manager) Positions() []position.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]position.Position, 0, len(m.machines))
	for _, machine := range m.machines {
		out = append(out, machine.Snapshot())
	}
	return out
}

// Shutdown winds down every machine: pending entries settle, open
// positions persist and stop monitoring, in-flight exits finish. An
// expired context reports which assets failed to settle.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	remaining := make(map[string]*position.Machine, len(m.machines))
	for id, machine := range m.machines {
		remaining[id] = machine
	}
	m.mu.RUnlock()

	for _, machine := range remaining {
		machine.Stop()
	}

	for id, machine := range remaining {
		select {
		case <-machine.Done():
			// A machine can finish with its position still in flight:
			// a stuck exit leaves it Closing with capital committed.
			// That is a settlement failure, not a clean stop.
			if st := machine.Snapshot().Status; st == position.StatusPending || st == position.StatusClosing {
				return fmt.Errorf("position %s unsettled after shutdown: still %s", id, st)
			}
		case <-ctx.Done():
			return fmt.Errorf("position %s did not settle before shutdown deadline", id)
		}
	}
	return nil
}

func (m *Manager) onOpened(ctx context.Context, pos position.Position) {
	m.cfg.Bus.Publish(ctx, events.PositionOpenedEvent{
		BaseEvent:  events.Now(events.PositionOpened),
		AssetID:    pos.AssetID,
		Chain:      pos.Chain,
		EntryPrice: pos.EntryPrice,
		Size:       pos.Size,
	})
}

func (m *Manager) onClosed(ctx context.Context, pos position.Position) {
	m.mu.Lock()
	delete(m.machines, pos.AssetID)
	m.mu.Unlock()

	if m.cfg.OnSettled != nil {
		m.cfg.OnSettled(pos.AssetID)
	}
	m.cfg.Bus.Publish(ctx, events.PositionClosedEvent{
		BaseEvent:  events.Now(events.PositionClosed),
		AssetID:    pos.AssetID,
		Chain:      pos.Chain,
		Reason:     string(pos.Reason),
		EntryPrice: pos.EntryPrice,
		ClosePrice: pos.ClosePrice,
		PnLPercent: pos.PnLPercent,
	})
}

// onStuck leaves the machine on the books so the asset cannot be
// re-entered while capital is still committed to it.
func (m *Manager) onStuck(ctx context.Context, pos position.Position, err error) {
	m.cfg.Bus.Publish(ctx, events.PositionStuckEvent{
		BaseEvent: events.Now(events.PositionStuck),
		AssetID:   pos.AssetID,
		Chain:     pos.Chain,
		Err:       err.Error(),
	})
}
