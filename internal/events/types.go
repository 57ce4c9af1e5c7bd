// Package events provides the in-memory bus that decouples the trading
// core from observers such as the alert notifier and session stats.
package events

import "time"

// EventType identifies a published event.
type EventType string

const (
	AssetDiscovered  EventType = "asset.discovered"
	AssetRejected    EventType = "asset.rejected"
	CapacityDenied   EventType = "capacity.denied"
	PositionOpened   EventType = "position.opened"
	PositionClosed   EventType = "position.closed"
	PositionStuck    EventType = "position.stuck"
	FeedDisconnected EventType = "feed.disconnected"
)

// Event is the base interface for all published events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent carries the fields common to every event.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.EventTime }

// Now builds a BaseEvent stamped with the current time.
func Now(t EventType) BaseEvent {
	return BaseEvent{EventType: t, EventTime: time.Now().UTC()}
}

// AssetDiscoveredEvent is published for every snapshot entering the
// pipeline, before any filtering.
type AssetDiscoveredEvent struct {
	BaseEvent
	AssetID string
	Chain   string
	Symbol  string
}

// AssetRejectedEvent is published when the safety filter rejects a
// discovered asset.
type AssetRejectedEvent struct {
	BaseEvent
	AssetID     string
	Chain       string
	Score       float64
	FailedRules []string
}

// CapacityDeniedEvent is published when the risk ledger refuses a
// reservation. The asset is skipped, never queued.
type CapacityDeniedEvent struct {
	BaseEvent
	AssetID string
	Chain   string
	Reason  string
}

// PositionOpenedEvent is published once an entry is confirmed.
type PositionOpenedEvent struct {
	BaseEvent
	AssetID    string
	Chain      string
	EntryPrice float64
	Size       float64
}

// PositionClosedEvent is published for every terminal transition,
// including failed entries.
type PositionClosedEvent struct {
	BaseEvent
	AssetID    string
	Chain      string
	Reason     string
	EntryPrice float64
	ClosePrice float64
	PnLPercent float64
}

// PositionStuckEvent is published when exit retries are exhausted and
// manual intervention is required. Fatal for the position, not for the
// process.
type PositionStuckEvent struct {
	BaseEvent
	AssetID string
	Chain   string
	Err     string
}

// FeedDisconnectedEvent is published when an upstream feed drops and a
// reconnect cycle begins.
type FeedDisconnectedEvent struct {
	BaseEvent
	Feed string
	Err  string
}
