// Package position implements the lifecycle of a single trade: entry,
// tick-driven exit evaluation, and settlement. Each position is driven
// by its own Machine goroutine so transitions are serialized without
// shared locks on the hot path.
package position

import (
	"time"

	"github.com/meridianlabs/tokensniper/internal/types"
)

// Status of a position in its lifecycle.
type Status string

const (
	StatusPending Status = "pending" // entry submitted, not yet confirmed
	StatusOpen    Status = "open"    // entry confirmed, exits being evaluated
	StatusClosing Status = "closing" // exit in flight
	StatusClosed  Status = "closed"  // terminal
)

// CloseReason records why a position reached Closed.
type CloseReason string

const (
	ReasonTakeProfit  CloseReason = "take_profit"
	ReasonStopLoss    CloseReason = "stop_loss"
	ReasonTrailing    CloseReason = "trailing_stop"
	ReasonManual      CloseReason = "manual"
	ReasonEntryFailed CloseReason = "entry_failed"
	ReasonStalePrice  CloseReason = "stale_price"
	ReasonError       CloseReason = "error"
)

// validTransitions encodes the only legal lifecycle moves. Anything
// else is an invariant violation.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusOpen, StatusClosed},
	StatusOpen:    {StatusClosing, StatusClosed},
	StatusClosing: {StatusClosed},
}

// canTransition reports whether from → to is a legal move.
func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ExitRules are the per-session exit parameters applied to every
// position. Percentages are relative to the entry price.
type ExitRules struct {
	TakeProfitPct   float64 // e.g. 300 means exit at 4x entry
	StopLossPct     float64 // e.g. 20 means exit at 0.8x entry
	TrailingEnabled bool
	TrailingPct     float64 // drop from high-water that triggers the exit
}

// Position is the observable state of one trade. Machine mutates it;
// everyone else reads copies via Machine.Snapshot.
type Position struct {
	AssetID    string
	Chain      string
	Symbol     string
	Status     Status
	EntryPrice float64
	Size       float64
	EntryTxID  string
	EntryTime  time.Time
	LastPrice  float64
	HighWater  float64
	Armed      bool // trailing stop armed
	ClosePrice float64
	CloseTxID  string
	CloseTime  time.Time
	Reason     CloseReason
	PnLPercent float64
}

// newPosition builds the initial Pending state from a snapshot.
func newPosition(snap types.AssetSnapshot, size float64) Position {
	return Position{
		AssetID: snap.AssetID,
		Chain:   snap.Chain,
		Symbol:  snap.Symbol,
		Status:  StatusPending,
		Size:    size,
	}
}

// pnlPercent is the realized return relative to entry.
func pnlPercent(entry, close float64) float64 {
	if entry == 0 {
		return 0
	}
	return (close - entry) / entry * 100
}
