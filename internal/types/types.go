// Package types holds the domain records shared across the trading core.
package types

import "time"

// Chain tags recognized by the discovery adapters.
const (
	ChainSolana = "solana"
	ChainBSC    = "bsc"
)

// Unknown marks a numeric snapshot field the discovery feed could not
// resolve. Safety rules treat unknown as failing, never as safe.
const Unknown = -1

// AssetSnapshot is an immutable record of one discovered tradeable asset
// at discovery time. Created once by the discovery feed; never mutated.
type AssetSnapshot struct {
	AssetID         string    `json:"asset_id"`
	Chain           string    `json:"chain"`
	Symbol          string    `json:"symbol,omitempty"`
	LiquidityUSD    float64   `json:"liquidity_usd"`
	Holders         int       `json:"holders"`
	TopHolderPct    float64   `json:"top_holder_pct"`
	PoolCreatedAt   time.Time `json:"pool_created_at"`
	SafetyScore     float64   `json:"safety_score"` // external reputation provider, 0-100
	InitialPriceUSD float64   `json:"initial_price_usd"`
	DiscoveredAt    time.Time `json:"discovered_at"`
}

// PoolAge returns the pool age at the given instant, or (0, false) when
// the creation time is unknown.
func (s AssetSnapshot) PoolAge(now time.Time) (time.Duration, bool) {
	if s.PoolCreatedAt.IsZero() {
		return 0, false
	}
	return now.Sub(s.PoolCreatedAt), true
}

// PriceTick is one observation from the price feed. Ticks for the same
// asset are timestamp-monotonic; there is no cross-asset ordering.
type PriceTick struct {
	AssetID string    `json:"asset_id"`
	Price   float64   `json:"price"`
	Time    time.Time `json:"ts"`
}
