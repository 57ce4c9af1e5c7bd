package feed

import (
	"sync"

	"github.com/meridianlabs/tokensniper/internal/types"
)

// PriceBook caches the last observed price per asset. It backs the
// simulated execution port and lets late subscribers catch up.
type PriceBook struct {
	mu     sync.RWMutex
	prices map[string]float64
}

// NewPriceBook creates an empty book.
func NewPriceBook() *PriceBook {
	return &PriceBook{prices: make(map[string]float64)}
}

// Seed records an initial price, typically from a discovery snapshot.
func (b *PriceBook) Seed(assetID string, price float64) {
	if price <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.prices[assetID]; !ok {
		b.prices[assetID] = price
	}
}

// Update records the latest tick.
func (b *PriceBook) Update(tick types.PriceTick) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[tick.AssetID] = tick.Price
}

// LastPrice returns the most recent price for the asset.
func (b *PriceBook) LastPrice(assetID string) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.prices[assetID]
	return p, ok
}

// Forget drops an asset from the book once its position is settled.
func (b *PriceBook) Forget(assetID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.prices, assetID)
}
