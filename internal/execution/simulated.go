package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Quoter supplies the last observed price for an asset. The simulated
// port fills against it.
type Quoter interface {
	LastPrice(assetID string) (float64, bool)
}

// Simulated is the paper-trading execution port. Orders fill at the
// last quoted price adjusted by a fixed slippage, after an optional
// artificial latency. No capital leaves the process.
type Simulated struct {
	mu          sync.Mutex
	quoter      Quoter
	slippageBps float64
	latency     time.Duration
	entries     map[string]*Fill // open fills by asset id
	logger      *zap.Logger
}

// NewSimulated creates a paper execution port.
func NewSimulated(quoter Quoter, slippageBps float64, latency time.Duration, logger *zap.Logger) *Simulated {
	return &Simulated{
		quoter:      quoter,
		slippageBps: slippageBps,
		latency:     latency,
		entries:     make(map[string]*Fill),
		logger:      logger.Named("paper_exec"),
	}
}

// Open simulates a buy. Entry slippage moves the fill price against the
// buyer. An asset with no quote is rejected, matching a venue that has
// no route for the pair.
func (s *Simulated) Open(ctx context.Context, assetID string, size float64) (*Fill, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	quote, ok := s.quoter.LastPrice(assetID)
	if !ok || quote <= 0 {
		return nil, fmt.Errorf("open %s: no quote available: %w", assetID, ErrRejected)
	}

	fill := &Fill{
		AssetID: assetID,
		Price:   quote * (1 + s.slippageBps/10_000),
		Size:    size,
		TxID:    uuid.NewString(),
		Time:    time.Now().UTC(),
	}

	s.mu.Lock()
	s.entries[assetID] = fill
	s.mu.Unlock()

	s.logger.Info("simulated buy filled",
		zap.String("asset", assetID),
		zap.Float64("quote", quote),
		zap.Float64("fill_price", fill.Price),
		zap.Float64("size", size))
	return fill, nil
}

// Close simulates a sell of the full position. Exit slippage moves the
// fill price against the seller.
func (s *Simulated) Close(ctx context.Context, assetID string) (*Fill, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	entry, ok := s.entries[assetID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("close %s: no open fill: %w", assetID, ErrRejected)
	}

	quote, ok := s.quoter.LastPrice(assetID)
	if !ok || quote <= 0 {
		// fall back to the entry price rather than refusing the exit
		quote = entry.Price
	}

	fill := &Fill{
		AssetID: assetID,
		Price:   quote * (1 - s.slippageBps/10_000),
		Size:    entry.Size,
		TxID:    uuid.NewString(),
		Time:    time.Now().UTC(),
	}

	s.mu.Lock()
	delete(s.entries, assetID)
	s.mu.Unlock()

	s.logger.Info("simulated sell filled",
		zap.String("asset", assetID),
		zap.Float64("quote", quote),
		zap.Float64("fill_price", fill.Price))
	return fill, nil
}

func (s *Simulated) wait(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(s.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
