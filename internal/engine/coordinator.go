package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/meridianlabs/tokensniper/internal/events"
	"github.com/meridianlabs/tokensniper/internal/feed"
	"github.com/meridianlabs/tokensniper/internal/risk"
)

// rolloverCheckInterval is how often the coordinator nudges the ledger
// toward a UTC day rollover. The call is idempotent, so the exact
// cadence only bounds how late a reset can be.
const rolloverCheckInterval = time.Minute

// errFeedEnded signals that an input stream closed. It ends the
// session cleanly: a sniper with no feed has nothing left to do.
var errFeedEnded = errors.New("feed ended")

// CoordinatorConfig wires the Coordinator to the session's parts.
type CoordinatorConfig struct {
	Manager         *Manager
	Ledger          *risk.Ledger
	Bus             *events.Bus
	Stats           *SessionStats
	Discovery       feed.DiscoveryFeed
	Prices          feed.PriceFeed
	PriceBook       *feed.PriceBook
	Logger          *zap.Logger
	ShutdownTimeout time.Duration
}

// Coordinator owns the session: it consumes both feeds, drives the
// daily rollover, and runs the graceful shutdown when the context is
// canceled.
type Coordinator struct {
	cfg    CoordinatorConfig
	logger *zap.Logger
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	return &Coordinator{
		cfg:    cfg,
		logger: cfg.Logger.Named("coordinator"),
	}
}

// Run blocks until the context is canceled or both feeds end, then
// settles outstanding positions. A nil return means a clean session;
// a settlement failure is an error the caller should surface in the
// process exit status.
func (c *Coordinator) Run(ctx context.Context) error {
	// Machines live on their own context so canceling the intake
	// loops does not abort entries or exits already in flight. It is
	// only cut after the settlement window closes.
	machineCtx, cancelMachines := context.WithCancel(context.Background())
	defer cancelMachines()

	assets, err := c.cfg.Discovery.Assets(ctx)
	if err != nil {
		return fmt.Errorf("subscribe discovery feed: %w", err)
	}
	ticks, err := c.cfg.Prices.Ticks(ctx)
	if err != nil {
		return fmt.Errorf("subscribe price feed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case snap, ok := <-assets:
				if !ok {
					c.logger.Info("discovery feed ended")
					return errFeedEnded
				}
				if c.cfg.PriceBook != nil {
					c.cfg.PriceBook.Seed(snap.AssetID, snap.InitialPriceUSD)
				}
				c.cfg.Bus.Publish(machineCtx, events.AssetDiscoveredEvent{
					BaseEvent: events.Now(events.AssetDiscovered),
					AssetID:   snap.AssetID,
					Chain:     snap.Chain,
					Symbol:    snap.Symbol,
				})
				c.cfg.Manager.OnAssetDiscovered(machineCtx, snap)
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case tick, ok := <-ticks:
				if !ok {
					c.logger.Info("price feed ended")
					return errFeedEnded
				}
				if c.cfg.PriceBook != nil {
					c.cfg.PriceBook.Update(tick)
				}
				c.cfg.Manager.OnPriceTick(tick)
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(rolloverCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				c.cfg.Ledger.RolloverDay()
			}
		}
	})

	runErr := g.Wait()
	if errors.Is(runErr, errFeedEnded) {
		runErr = nil
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		c.logger.Error("session loop failed", zap.Error(runErr))
	}

	return c.shutdown(runErr)
}

// shutdown settles outstanding positions within the configured window:
// pending entries finish, open positions persist, in-flight exits run
// to completion. Positions that cannot settle make the session exit
// dirty.
func (c *Coordinator) shutdown(runErr error) error {
	c.logger.Info("shutting down",
		zap.Int("positions_on_books", c.cfg.Manager.OpenCount()),
		zap.Duration("timeout", c.cfg.ShutdownTimeout))

	shutCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
	defer cancel()

	settleErr := c.cfg.Manager.Shutdown(shutCtx)
	if settleErr != nil {
		c.logger.Error("settlement incomplete", zap.Error(settleErr))
	}

	if err := c.cfg.Bus.Shutdown(shutCtx); err != nil {
		c.logger.Warn("event bus did not drain", zap.Error(err))
	}

	if c.cfg.Stats != nil {
		c.cfg.Stats.LogSummary(c.logger)
	}

	if settleErr != nil {
		return fmt.Errorf("settlement failed: %w", settleErr)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// PublishFeedDown reports a feed disconnect on the bus. Feed adapters
// call this through their OnDisconnect hooks.
func (c *Coordinator) PublishFeedDown(ctx context.Context, name string, err error) {
	c.cfg.Bus.Publish(ctx, events.FeedDisconnectedEvent{
		BaseEvent: events.Now(events.FeedDisconnected),
		Feed:      name,
		Err:       err.Error(),
	})
}
