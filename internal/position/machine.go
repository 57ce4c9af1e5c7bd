package position

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridianlabs/tokensniper/internal/execution"
	"github.com/meridianlabs/tokensniper/internal/risk"
	"github.com/meridianlabs/tokensniper/internal/storage"
	"github.com/meridianlabs/tokensniper/internal/storage/models"
	"github.com/meridianlabs/tokensniper/internal/types"
)

// tickBuffer bounds the per-machine tick queue. When the consumer lags
// behind, newer ticks are dropped by OfferTick; exit rules only need
// the latest price, not every intermediate one.
const tickBuffer = 64

// persistTimeout bounds each storage write so a slow database can
// never stall exit evaluation.
const persistTimeout = 5 * time.Second

// Config wires a Machine to its collaborators.
type Config struct {
	Snapshot     types.AssetSnapshot
	Size         float64
	Rules        ExitRules
	Exec         execution.Port
	Ledger       *risk.Ledger
	Store        storage.Storage
	Logger       *zap.Logger
	ExecTimeout  time.Duration
	CloseRetries uint
	MaxStaleness time.Duration // 0 disables the stale-price watchdog

	// OnOpened fires once the entry is confirmed. OnClosed fires
	// after every terminal transition, including failed entries.
	// OnStuck fires when exit retries are exhausted and the position
	// needs manual intervention.
	OnOpened func(pos Position)
	OnClosed func(pos Position)
	OnStuck  func(pos Position, err error)
}

// Machine drives one position through its lifecycle. All transitions
// happen on the machine's own goroutine; external callers interact
// through non-blocking channel operations and Snapshot.
type Machine struct {
	cfg    Config
	logger *zap.Logger

	mu  sync.Mutex
	pos Position

	ticks    chan types.PriceTick
	closeReq chan CloseReason
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewMachine creates a machine in the Pending state. Start must be
// called to submit the entry.
func NewMachine(cfg Config) *Machine {
	return &Machine{
		cfg:      cfg,
		logger:   cfg.Logger.Named("position").With(zap.String("asset", cfg.Snapshot.AssetID)),
		pos:      newPosition(cfg.Snapshot, cfg.Size),
		ticks:    make(chan types.PriceTick, tickBuffer),
		closeReq: make(chan CloseReason, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the machine goroutine. The context governs the whole
// lifecycle; cancellation abandons monitoring after persisting state,
// while Stop requests a graceful wind-down that lets a pending entry
// settle first.
func (m *Machine) Start(ctx context.Context) {
	go m.run(ctx)
}

// OfferTick hands a price tick to the machine without blocking. It
// reports false when the buffer is full and the tick was dropped.
func (m *Machine) OfferTick(tick types.PriceTick) bool {
	select {
	case m.ticks <- tick:
		return true
	default:
		return false
	}
}

// RequestClose asks the machine to exit with the given reason. Only
// the first request is honored; later ones are dropped.
func (m *Machine) RequestClose(reason CloseReason) bool {
	select {
	case m.closeReq <- reason:
		return true
	default:
		return false
	}
}

// Stop requests a graceful wind-down: a pending entry is allowed to
// settle, open state is persisted, and no exit is forced.
func (m *Machine) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Done closes when the machine goroutine has finished.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Snapshot returns a copy of the current position state.
func (m *Machine) Snapshot() Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

func (m *Machine) run(ctx context.Context) {
	defer close(m.done)

	if !m.enter(ctx) {
		return
	}

	// A stop requested while the entry was in flight still lets the
	// fill settle; we persist the open state and hand off.
	select {
	case <-m.stopCh:
		m.persist(ctx)
		m.logger.Info("stopping with position open",
			zap.Float64("entry_price", m.pos.EntryPrice))
		return
	default:
	}

	m.monitor(ctx)
}

// enter submits the buy and reports whether the position opened. On
// failure the reserved slot is released immediately so capital frees
// up for the next candidate; the committed daily spend stays counted.
func (m *Machine) enter(ctx context.Context) bool {
	openCtx, cancel := context.WithTimeout(ctx, m.cfg.ExecTimeout)
	defer cancel()

	fill, err := m.cfg.Exec.Open(openCtx, m.pos.AssetID, m.cfg.Size)
	if err != nil {
		if execution.IsTimeout(err) {
			m.logger.Warn("entry timed out",
				zap.Duration("timeout", m.cfg.ExecTimeout))
		} else {
			m.logger.Warn("entry failed", zap.Error(err))
		}

		m.mu.Lock()
		m.transitionLocked(StatusClosed)
		m.pos.Reason = ReasonEntryFailed
		m.pos.CloseTime = time.Now().UTC()
		pos := m.pos
		m.mu.Unlock()

		m.cfg.Ledger.Release(pos.Chain, pos.Size)
		m.persist(ctx)
		if m.cfg.OnClosed != nil {
			m.cfg.OnClosed(pos)
		}
		return false
	}

	m.mu.Lock()
	m.transitionLocked(StatusOpen)
	m.pos.EntryPrice = fill.Price
	m.pos.EntryTxID = fill.TxID
	m.pos.EntryTime = fill.Time
	m.pos.LastPrice = fill.Price
	m.pos.HighWater = fill.Price
	m.mu.Unlock()

	m.logger.Info("position opened",
		zap.Float64("entry_price", fill.Price),
		zap.Float64("size", fill.Size),
		zap.String("tx", fill.TxID))

	m.persist(ctx)
	m.recordTrade(ctx, fill, "buy")
	if m.cfg.OnOpened != nil {
		m.cfg.OnOpened(m.Snapshot())
	}
	return true
}

// monitor consumes ticks until an exit condition fires, a close is
// requested, the price goes stale, or the session winds down.
func (m *Machine) monitor(ctx context.Context) {
	var stale *time.Timer
	var staleC <-chan time.Time
	if m.cfg.MaxStaleness > 0 {
		stale = time.NewTimer(m.cfg.MaxStaleness)
		defer stale.Stop()
		staleC = stale.C
	}

	for {
		select {
		case tick := <-m.ticks:
			if tick.AssetID != m.pos.AssetID {
				continue
			}
			if stale != nil {
				if !stale.Stop() {
					select {
					case <-stale.C:
					default:
					}
				}
				stale.Reset(m.cfg.MaxStaleness)
			}
			if reason, exit := m.evaluate(tick.Price); exit {
				m.close(ctx, reason)
				return
			}

		case reason := <-m.closeReq:
			m.close(ctx, reason)
			return

		case <-staleC:
			m.logger.Warn("price feed stale, forcing protective close",
				zap.Duration("max_staleness", m.cfg.MaxStaleness))
			m.close(ctx, ReasonStalePrice)
			return

		case <-m.stopCh:
			m.persist(ctx)
			m.logger.Info("stopping with position open",
				zap.Float64("last_price", m.Snapshot().LastPrice))
			return

		case <-ctx.Done():
			m.persist(context.Background())
			return
		}
	}
}

// evaluate applies the exit rules to a new price. Rule priority is
// fixed: stop-loss first, then take-profit (only when trailing is
// disabled), then the trailing stop. The trailing stop arms only once
// the take-profit threshold has been reached and from then on tracks
// the high-water mark.
func (m *Machine) evaluate(price float64) (CloseReason, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pos.Status != StatusOpen {
		return "", false
	}

	m.pos.LastPrice = price
	if price > m.pos.HighWater {
		m.pos.HighWater = price
	}

	entry := m.pos.EntryPrice
	stopLevel := entry * (1 - m.cfg.Rules.StopLossPct/100)
	profitLevel := entry * (1 + m.cfg.Rules.TakeProfitPct/100)

	if m.cfg.Rules.TrailingEnabled && !m.pos.Armed && m.pos.HighWater >= profitLevel {
		m.pos.Armed = true
		m.logger.Info("trailing stop armed",
			zap.Float64("high_water", m.pos.HighWater),
			zap.Float64("activation_level", profitLevel))
	}

	switch {
	case price <= stopLevel:
		return ReasonStopLoss, true
	case !m.cfg.Rules.TrailingEnabled && price >= profitLevel:
		return ReasonTakeProfit, true
	case m.cfg.Rules.TrailingEnabled && m.pos.Armed &&
		price <= m.pos.HighWater*(1-m.cfg.Rules.TrailingPct/100):
		return ReasonTrailing, true
	}
	return "", false
}

// close drives the exit through the retry wrapper. An exhausted retry
// budget leaves the position in Closing with its slot still reserved;
// abandoning it silently would understate exposure.
func (m *Machine) close(ctx context.Context, reason CloseReason) {
	m.mu.Lock()
	if !m.transitionLocked(StatusClosing) {
		m.mu.Unlock()
		return
	}
	m.pos.Reason = reason
	m.mu.Unlock()

	m.logger.Info("closing position", zap.String("reason", string(reason)))
	m.persist(ctx)

	fill, err := execution.CloseWithRetry(ctx, m.cfg.Exec, m.pos.AssetID,
		m.cfg.CloseRetries, m.cfg.ExecTimeout, m.logger)
	if err != nil {
		m.logger.Error("exit failed after retries, position stuck",
			zap.Error(err))
		m.persist(context.Background())
		if m.cfg.OnStuck != nil {
			m.cfg.OnStuck(m.Snapshot(), err)
		}
		return
	}

	m.mu.Lock()
	m.transitionLocked(StatusClosed)
	m.pos.ClosePrice = fill.Price
	m.pos.CloseTxID = fill.TxID
	m.pos.CloseTime = fill.Time
	m.pos.PnLPercent = pnlPercent(m.pos.EntryPrice, fill.Price)
	pos := m.pos
	m.mu.Unlock()

	m.cfg.Ledger.Release(pos.Chain, pos.Size)
	m.persist(context.Background())
	m.recordTrade(ctx, fill, "sell")

	m.logger.Info("position closed",
		zap.String("reason", string(reason)),
		zap.Float64("entry_price", pos.EntryPrice),
		zap.Float64("close_price", pos.ClosePrice),
		zap.Float64("pnl_percent", pos.PnLPercent))

	if m.cfg.OnClosed != nil {
		m.cfg.OnClosed(pos)
	}
}

// transitionLocked applies a lifecycle move, rejecting and logging
// anything outside the allowed set. Caller holds the mutex.
func (m *Machine) transitionLocked(to Status) bool {
	if !canTransition(m.pos.Status, to) {
		m.logger.Error("invalid state transition rejected",
			zap.String("from", string(m.pos.Status)),
			zap.String("to", string(to)))
		return false
	}
	m.pos.Status = to
	return true
}

// persist writes the current state to storage. Failures are logged,
// never propagated: persistence must not interfere with trading.
func (m *Machine) persist(ctx context.Context) {
	pos := m.Snapshot()

	rec := &models.Position{
		AssetID:    pos.AssetID,
		Chain:      pos.Chain,
		Symbol:     pos.Symbol,
		Status:     string(pos.Status),
		EntryPrice: pos.EntryPrice,
		Size:       pos.Size,
		HighWater:  pos.HighWater,
		EntryTxID:  pos.EntryTxID,
		ClosePrice: pos.ClosePrice,
		CloseTxID:  pos.CloseTxID,
		Reason:     string(pos.Reason),
		PnLPercent: pos.PnLPercent,
	}
	if !pos.EntryTime.IsZero() {
		t := pos.EntryTime
		rec.EntryTime = &t
	}
	if !pos.CloseTime.IsZero() {
		t := pos.CloseTime
		rec.CloseTime = &t
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := m.cfg.Store.SavePosition(saveCtx, rec); err != nil {
		m.logger.Error("failed to persist position", zap.Error(err))
	}
}

func (m *Machine) recordTrade(ctx context.Context, fill *execution.Fill, side string) {
	t := fill.Time
	rec := &models.Trade{
		TxID:     fill.TxID,
		AssetID:  fill.AssetID,
		Chain:    m.pos.Chain,
		Side:     side,
		Price:    fill.Price,
		Size:     fill.Size,
		FillTime: &t,
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := m.cfg.Store.SaveTrade(saveCtx, rec); err != nil {
		m.logger.Error("failed to record trade", zap.Error(err))
	}
}
