package feed

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridianlabs/tokensniper/internal/types"
)

// SyntheticMarket fabricates listings and price action for paper
// sessions: each synthetic asset passes the default safety rules and
// then follows a drifting random walk, so every code path from
// discovery to settlement gets exercised without touching a chain.
type SyntheticMarket struct {
	discovery *ChannelDiscovery
	prices    *ChannelPrices
	listEvery time.Duration
	tickEvery time.Duration
	logger    *zap.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	active map[string]float64 // asset id -> current price
}

// NewSyntheticMarket creates a market that lists a new asset every
// listEvery and ticks all live assets every tickEvery.
func NewSyntheticMarket(listEvery, tickEvery time.Duration, logger *zap.Logger) *SyntheticMarket {
	return &SyntheticMarket{
		discovery: NewChannelDiscovery(discoveryBuffer),
		prices:    NewChannelPrices(wsTickBuffer),
		listEvery: listEvery,
		tickEvery: tickEvery,
		logger:    logger.Named("synthetic"),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		active:    make(map[string]float64),
	}
}

// Discovery returns the listing feed.
func (m *SyntheticMarket) Discovery() DiscoveryFeed { return m.discovery }

// Prices returns the tick feed.
func (m *SyntheticMarket) Prices() PriceFeed { return m.prices }

// Run generates listings and ticks until the context is canceled.
func (m *SyntheticMarket) Run(ctx context.Context) error {
	list := time.NewTicker(m.listEvery)
	defer list.Stop()
	tick := time.NewTicker(m.tickEvery)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			m.discovery.Close()
			m.prices.Close()
			return ctx.Err()
		case <-list.C:
			m.list()
		case <-tick.C:
			m.tickAll()
		}
	}
}

// Forget stops ticking an asset once its position is settled.
func (m *SyntheticMarket) Forget(assetID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, assetID)
}

func (m *SyntheticMarket) list() {
	m.mu.Lock()
	id := uuid.NewString()
	price := 0.5 + m.rng.Float64()*2
	m.active[id] = price
	snap := types.AssetSnapshot{
		AssetID:         id,
		Chain:           types.ChainSolana,
		Symbol:          fmt.Sprintf("SYN%04d", m.rng.Intn(10_000)),
		LiquidityUSD:    5_000 + m.rng.Float64()*95_000,
		Holders:         50 + m.rng.Intn(950),
		TopHolderPct:    5 + m.rng.Float64()*20,
		SafetyScore:     60 + m.rng.Float64()*40,
		InitialPriceUSD: price,
		PoolCreatedAt:   time.Now().UTC().Add(-2 * time.Minute),
		DiscoveredAt:    time.Now().UTC(),
	}
	m.mu.Unlock()

	if m.discovery.Publish(snap) {
		m.logger.Debug("synthetic listing",
			zap.String("asset", id),
			zap.String("symbol", snap.Symbol),
			zap.Float64("price", price))
	}
}

func (m *SyntheticMarket) tickAll() {
	m.mu.Lock()
	now := time.Now().UTC()
	ticks := make([]types.PriceTick, 0, len(m.active))
	for id, price := range m.active {
		// Multiplicative walk with slight upward drift and the
		// occasional violent move, mimicking fresh-pool volatility.
		step := 1 + (m.rng.Float64()-0.48)*0.06
		if m.rng.Float64() < 0.02 {
			step = 1 + (m.rng.Float64()-0.5)*0.8
		}
		price *= step
		if price < 1e-9 {
			price = 1e-9
		}
		m.active[id] = price
		ticks = append(ticks, types.PriceTick{AssetID: id, Price: price, Time: now})
	}
	m.mu.Unlock()

	for _, t := range ticks {
		m.prices.Publish(t)
	}
}
