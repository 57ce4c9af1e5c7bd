package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/meridianlabs/tokensniper/internal/alerts"
	"github.com/meridianlabs/tokensniper/internal/config"
	"github.com/meridianlabs/tokensniper/internal/engine"
	"github.com/meridianlabs/tokensniper/internal/events"
	"github.com/meridianlabs/tokensniper/internal/execution"
	"github.com/meridianlabs/tokensniper/internal/feed"
	"github.com/meridianlabs/tokensniper/internal/filter"
	"github.com/meridianlabs/tokensniper/internal/logger"
	"github.com/meridianlabs/tokensniper/internal/position"
	"github.com/meridianlabs/tokensniper/internal/risk"
	"github.com/meridianlabs/tokensniper/internal/storage"
	"github.com/meridianlabs/tokensniper/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.DebugLogging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("session ended with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("session ended cleanly")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.RunMigrations(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	bus := events.NewBus(log)
	stats := engine.NewSessionStats(bus)
	alerts.NewNotifier(bus, buildSink(cfg, log))

	ledger := risk.NewLedger(cfg.Safety.MaxOpenPositions, cfg.Safety.MaxDailySpend, log)

	safety := filter.New(filter.Config{
		MinLiquidityUSD:     cfg.Safety.MinLiquidityUSD,
		MinHolders:          cfg.Safety.MinHolders,
		MaxTopHolderPercent: cfg.Safety.MaxTopHolderPercent,
		MinPoolAge:          cfg.Safety.MinPoolAge,
		MaxPoolAge:          cfg.Safety.MaxPoolAge,
		MinSafetyScore:      cfg.Safety.MinSafetyScore,
		SafetyThreshold:     cfg.Safety.SafetyThreshold,
		Weights:             cfg.Safety.RuleWeights,
	}, log)

	book := feed.NewPriceBook()
	discovery, prices, market, err := buildFeeds(cfg, log)
	if err != nil {
		return err
	}

	port, err := buildPort(cfg, book, log)
	if err != nil {
		return err
	}

	manager := engine.NewManager(engine.ManagerConfig{
		Filter: safety,
		Ledger: ledger,
		Exec:   port,
		Store:  store,
		Bus:    bus,
		Logger: log,
		Size:   cfg.Investment.Amount,
		Rules: position.ExitRules{
			TakeProfitPct:   cfg.Strategy.TakeProfit,
			StopLossPct:     cfg.Strategy.StopLoss,
			TrailingEnabled: cfg.Strategy.TrailingStop,
			TrailingPct:     cfg.Strategy.TrailingDistance,
		},
		ExecTimeout:  cfg.Execution.Timeout,
		CloseRetries: cfg.Execution.CloseRetries,
		MaxStaleness: cfg.Feeds.MaxPriceStaleness,
		OnSettled: func(assetID string) {
			book.Forget(assetID)
			if market != nil {
				market.Forget(assetID)
			}
		},
	})

	coordinator := engine.NewCoordinator(engine.CoordinatorConfig{
		Manager:         manager,
		Ledger:          ledger,
		Bus:             bus,
		Stats:           stats,
		Discovery:       discovery,
		Prices:          prices,
		PriceBook:       book,
		Logger:          log,
		ShutdownTimeout: cfg.Session.ShutdownTimeout,
	})

	if wsFeed, ok := prices.(*feed.WSPriceFeed); ok {
		wsFeed.OnDisconnect = func(err error) {
			coordinator.PublishFeedDown(ctx, "prices", err)
		}
	}
	if wsDisco, ok := discovery.(*feed.WSDiscoveryFeed); ok {
		wsDisco.OnDisconnect = func(err error) {
			coordinator.PublishFeedDown(ctx, "discovery", err)
		}
	}

	if market != nil {
		go func() { _ = market.Run(ctx) }()
	}

	log.Info("session starting",
		zap.String("mode", cfg.Execution.Mode),
		zap.Float64("investment", cfg.Investment.Amount),
		zap.Int("max_open_positions", cfg.Safety.MaxOpenPositions),
		zap.Float64("max_daily_spend", cfg.Safety.MaxDailySpend))

	return coordinator.Run(ctx)
}

// buildStore selects postgres when a DSN is configured, the in-memory
// store otherwise. Paper sessions typically run without a database.
func buildStore(cfg *config.Config, log *zap.Logger) (storage.Storage, error) {
	if cfg.PostgresURL == "" {
		log.Info("no postgres_url configured, using in-memory storage")
		return storage.NewMemoryStorage(), nil
	}
	store, err := postgres.NewStorage(cfg.PostgresURL, log)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return store, nil
}

func buildSink(cfg *config.Config, log *zap.Logger) alerts.Sink {
	logSink := alerts.NewLogSink(log)
	if cfg.WebhookURL == "" {
		return logSink
	}
	return alerts.MultiSink{logSink, alerts.NewWebhookSink(cfg.WebhookURL, log)}
}

// buildFeeds wires the discovery and price inputs. Paper mode without
// external endpoints runs against the synthetic market; otherwise
// discovery comes from a push WebSocket when configured, the Solana
// poller when not, and prices always from the WebSocket stream.
func buildFeeds(cfg *config.Config, log *zap.Logger) (feed.DiscoveryFeed, feed.PriceFeed, *feed.SyntheticMarket, error) {
	if cfg.Execution.Mode == config.ModePaper &&
		len(cfg.Feeds.RPCList) == 0 && cfg.Feeds.DiscoveryWSURL == "" {
		market := feed.NewSyntheticMarket(5*time.Second, 500*time.Millisecond, log)
		return market.Discovery(), market.Prices(), market, nil
	}

	if cfg.Feeds.PriceWSURL == "" {
		return nil, nil, nil, fmt.Errorf("feeds.price_ws_url is required outside synthetic paper mode")
	}

	discovery, err := buildDiscovery(cfg, log)
	if err != nil {
		return nil, nil, nil, err
	}

	prices := feed.NewWSPriceFeed(cfg.Feeds.PriceWSURL, log)
	return discovery, prices, nil, nil
}

func buildDiscovery(cfg *config.Config, log *zap.Logger) (feed.DiscoveryFeed, error) {
	if cfg.Feeds.DiscoveryWSURL != "" {
		return feed.NewWSDiscoveryFeed(cfg.Feeds.DiscoveryWSURL, log), nil
	}
	if len(cfg.Feeds.RPCList) == 0 {
		return nil, fmt.Errorf("feeds.discovery_ws_url or feeds.rpc_list is required outside synthetic paper mode")
	}

	source := feed.NewTokenMetaSource(cfg.Feeds.RPCList[0], log)
	discovery, err := feed.NewSolanaDiscovery(cfg.Feeds.RPCList[0], raydiumAMMProgram,
		source, cfg.Feeds.DiscoveryInterval, log)
	if err != nil {
		return nil, fmt.Errorf("build discovery feed: %w", err)
	}
	return discovery, nil
}

// raydiumAMMProgram is the Raydium V4 AMM program id watched for new
// pool creations.
const raydiumAMMProgram = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"

func buildPort(cfg *config.Config, book *feed.PriceBook, log *zap.Logger) (execution.Port, error) {
	switch cfg.Execution.Mode {
	case config.ModePaper:
		return execution.NewSimulated(book, cfg.Execution.SlippageBps, cfg.Execution.FillLatency, log), nil
	case config.ModeLive:
		return nil, fmt.Errorf("live execution requires an externally wired venue adapter")
	default:
		return nil, fmt.Errorf("unknown execution mode %q", cfg.Execution.Mode)
	}
}
