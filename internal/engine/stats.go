package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/meridianlabs/tokensniper/internal/events"
)

// SessionStats accumulates session-level counters from bus events and
// renders the end-of-session summary.
type SessionStats struct {
	mu         sync.Mutex
	discovered int
	rejected   int
	denied     int
	opened     int
	closed     int
	wins       int
	losses     int
	stuck      int
	cumPnLPct  float64
}

// NewSessionStats subscribes the counters to the bus. Subscriptions
// live for the lifetime of the bus.
func NewSessionStats(bus *events.Bus) *SessionStats {
	s := &SessionStats{}
	bus.Subscribe(events.AssetDiscovered, events.HandlerFunc(s.onEvent))
	bus.Subscribe(events.AssetRejected, events.HandlerFunc(s.onEvent))
	bus.Subscribe(events.CapacityDenied, events.HandlerFunc(s.onEvent))
	bus.Subscribe(events.PositionOpened, events.HandlerFunc(s.onEvent))
	bus.Subscribe(events.PositionClosed, events.HandlerFunc(s.onEvent))
	bus.Subscribe(events.PositionStuck, events.HandlerFunc(s.onEvent))
	return s
}

func (s *SessionStats) onEvent(_ context.Context, ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case events.AssetDiscoveredEvent:
		s.discovered++
	case events.AssetRejectedEvent:
		s.rejected++
	case events.CapacityDeniedEvent:
		s.denied++
	case events.PositionOpenedEvent:
		s.opened++
	case events.PositionClosedEvent:
		s.closed++
		if e.Reason == "entry_failed" {
			return
		}
		s.cumPnLPct += e.PnLPercent
		if e.PnLPercent >= 0 {
			s.wins++
		} else {
			s.losses++
		}
	case events.PositionStuckEvent:
		s.stuck++
	}
}

// LogSummary writes the session totals.
func (s *SessionStats) LogSummary(logger *zap.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settled := s.wins + s.losses
	winRate := 0.0
	if settled > 0 {
		winRate = float64(s.wins) / float64(settled) * 100
	}

	logger.Info("session summary",
		zap.Int("discovered", s.discovered),
		zap.Int("rejected", s.rejected),
		zap.Int("denied", s.denied),
		zap.Int("opened", s.opened),
		zap.Int("closed", s.closed),
		zap.Int("wins", s.wins),
		zap.Int("losses", s.losses),
		zap.Int("stuck", s.stuck),
		zap.Float64("win_rate_pct", winRate),
		zap.Float64("cumulative_pnl_pct", s.cumPnLPct))
}
