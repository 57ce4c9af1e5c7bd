// Package feed defines the discovery and price inputs of a trading
// session, plus the adapters that produce them: Solana RPC polling,
// a WebSocket price stream, in-process channels for tests, and a
// synthetic market for paper sessions.
package feed

import (
	"context"

	"github.com/meridianlabs/tokensniper/internal/types"
)

// DiscoveryFeed streams snapshots of newly listed assets. The channel
// closes when the feed shuts down or the context is canceled.
type DiscoveryFeed interface {
	Assets(ctx context.Context) (<-chan types.AssetSnapshot, error)
}

// PriceFeed streams price ticks for assets under observation.
type PriceFeed interface {
	Ticks(ctx context.Context) (<-chan types.PriceTick, error)
}

// ChannelDiscovery is an in-process discovery feed fed by Publish.
// Used by tests and as the delivery channel of the synthetic market.
type ChannelDiscovery struct {
	ch chan types.AssetSnapshot
}

// NewChannelDiscovery creates a discovery feed with the given buffer.
func NewChannelDiscovery(buffer int) *ChannelDiscovery {
	return &ChannelDiscovery{ch: make(chan types.AssetSnapshot, buffer)}
}

// Publish offers a snapshot without blocking; it reports false when
// the buffer is full.
func (f *ChannelDiscovery) Publish(snap types.AssetSnapshot) bool {
	select {
	case f.ch <- snap:
		return true
	default:
		return false
	}
}

// Close ends the stream.
func (f *ChannelDiscovery) Close() { close(f.ch) }

func (f *ChannelDiscovery) Assets(_ context.Context) (<-chan types.AssetSnapshot, error) {
	return f.ch, nil
}

// ChannelPrices is the in-process counterpart for price ticks.
type ChannelPrices struct {
	ch chan types.PriceTick
}

// NewChannelPrices creates a price feed with the given buffer.
func NewChannelPrices(buffer int) *ChannelPrices {
	return &ChannelPrices{ch: make(chan types.PriceTick, buffer)}
}

// Publish offers a tick without blocking; it reports false when the
// buffer is full.
func (f *ChannelPrices) Publish(tick types.PriceTick) bool {
	select {
	case f.ch <- tick:
		return true
	default:
		return false
	}
}

// Close ends the stream.
func (f *ChannelPrices) Close() { close(f.ch) }

func (f *ChannelPrices) Ticks(_ context.Context) (<-chan types.PriceTick, error) {
	return f.ch, nil
}
