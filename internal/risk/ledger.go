// Package risk tracks capital committed, daily spend, and the open
// position count. The Ledger is the single source of truth for "can we
// trade now" and the only state shared across position machines.
package risk

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Denial reasons returned by TryReserve.
const (
	ReasonAtCapacity = "at_capacity"
	ReasonDailyLimit = "daily_limit_exceeded"
)

// Ledger enforces the concurrency cap and the per-chain daily budget.
// Every entry attempt is an atomic check-and-reserve under one mutex;
// there is no separate check step callers could race on.
type Ledger struct {
	mu            sync.Mutex
	maxPositions  int
	maxDailySpend float64 // per chain, per UTC day
	spentToday    map[string]float64
	openCount     int
	day           time.Time // UTC midnight of the current accounting day
	logger        *zap.Logger
	clock         func() time.Time
}

// NewLedger creates a ledger with the configured limits.
func NewLedger(maxPositions int, maxDailySpend float64, logger *zap.Logger) *Ledger {
	clock := time.Now
	return &Ledger{
		maxPositions:  maxPositions,
		maxDailySpend: maxDailySpend,
		spentToday:    make(map[string]float64),
		day:           utcDay(clock()),
		logger:        logger.Named("risk"),
		clock:         clock,
	}
}

// TryReserve atomically checks the concurrency cap and the chain's
// remaining daily budget. On success it commits the amount and claims a
// position slot in the same critical section; on failure it makes no
// state change and returns the denial reason. It never blocks on
// anything but the mutex.
func (l *Ledger) TryReserve(chain string, amount float64) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverLocked(l.clock())

	if l.openCount >= l.maxPositions {
		return false, ReasonAtCapacity
	}
	if l.maxDailySpend > 0 && l.spentToday[chain]+amount > l.maxDailySpend {
		return false, ReasonDailyLimit
	}

	l.spentToday[chain] += amount
	l.openCount++
	l.logger.Debug("reservation made",
		zap.String("chain", chain),
		zap.Float64("amount", amount),
		zap.Float64("spent_today", l.spentToday[chain]),
		zap.Int("open_positions", l.openCount))
	return true, ""
}

// Release frees the position slot taken by a reservation. The daily
// budget is not restored: daily spend models capital committed, not
// capital outstanding.
func (l *Ledger) Release(chain string, spent float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.openCount == 0 {
		l.logger.Error("release without matching reservation",
			zap.String("chain", chain))
		return
	}
	l.openCount--
	l.logger.Debug("reservation released",
		zap.String("chain", chain),
		zap.Float64("spent", spent),
		zap.Int("open_positions", l.openCount))
}

// RolloverDay resets the per-chain daily spend counters at the UTC day
// boundary. Idempotent within the same day; the open-position count is
// untouched.
func (l *Ledger) RolloverDay() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked(l.clock())
}

// rolloverLocked resets daily counters when the UTC day has changed.
// Caller must hold the mutex.
func (l *Ledger) rolloverLocked(now time.Time) {
	today := utcDay(now)
	if today.Equal(l.day) {
		return
	}
	l.spentToday = make(map[string]float64)
	l.day = today
	l.logger.Info("daily spend counters reset",
		zap.Time("day", today),
		zap.Int("open_positions", l.openCount))
}

// OpenPositions returns the current number of reserved slots.
func (l *Ledger) OpenPositions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.openCount
}

// SpentToday returns the amount committed on the chain so far today.
func (l *Ledger) SpentToday(chain string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spentToday[chain]
}

func utcDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
