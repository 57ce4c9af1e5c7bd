// Package config loads and validates the trading configuration.
//
// Configuration is validated once at startup; invalid or out-of-range
// values are a fatal error, never a runtime one.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Execution modes.
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// InvestmentConfig controls position sizing.
type InvestmentConfig struct {
	Amount float64 `mapstructure:"amount"` // base-currency units committed per entry
}

// StrategyConfig holds the exit-rule thresholds, all in percent.
type StrategyConfig struct {
	TakeProfit       float64 `mapstructure:"take_profit"`
	StopLoss         float64 `mapstructure:"stop_loss"`
	TrailingStop     bool    `mapstructure:"trailing_stop"`
	TrailingDistance float64 `mapstructure:"trailing_distance"`
}

// SafetyConfig holds the asset-filter thresholds and capital limits.
type SafetyConfig struct {
	MaxOpenPositions    int                `mapstructure:"max_open_positions"`
	SafetyThreshold     float64            `mapstructure:"safety_threshold"`
	MinLiquidityUSD     float64            `mapstructure:"min_liquidity_usd"`
	MinHolders          int                `mapstructure:"min_holders"`
	MaxTopHolderPercent float64            `mapstructure:"max_top_holder_percent"`
	MaxDailySpend       float64            `mapstructure:"max_daily_spend"` // per chain, per UTC day
	MinPoolAge          time.Duration      `mapstructure:"min_pool_age"`
	MaxPoolAge          time.Duration      `mapstructure:"max_pool_age"`
	MinSafetyScore      float64            `mapstructure:"min_safety_score"`
	RuleWeights         map[string]float64 `mapstructure:"rule_weights"`
}

// ExecutionConfig controls the execution port.
type ExecutionConfig struct {
	Mode         string        `mapstructure:"mode"` // paper or live
	Timeout      time.Duration `mapstructure:"timeout"`
	CloseRetries uint          `mapstructure:"close_retries"`
	SlippageBps  float64       `mapstructure:"slippage_bps"`
	FillLatency  time.Duration `mapstructure:"fill_latency"`
}

// FeedsConfig wires the discovery and price feeds.
type FeedsConfig struct {
	RPCList           []string      `mapstructure:"rpc_list"`
	DiscoveryWSURL    string        `mapstructure:"discovery_ws_url"`
	PriceWSURL        string        `mapstructure:"price_ws_url"`
	DiscoveryInterval time.Duration `mapstructure:"discovery_interval"`
	MaxPriceStaleness time.Duration `mapstructure:"max_price_staleness"`
}

// SessionConfig controls coordinator behavior.
type SessionConfig struct {
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Config is the full application configuration.
type Config struct {
	Investment   InvestmentConfig `mapstructure:"investment"`
	Strategy     StrategyConfig   `mapstructure:"strategy"`
	Safety       SafetyConfig     `mapstructure:"safety"`
	Execution    ExecutionConfig  `mapstructure:"execution"`
	Feeds        FeedsConfig      `mapstructure:"feeds"`
	Session      SessionConfig    `mapstructure:"session"`
	PostgresURL  string           `mapstructure:"postgres_url"`
	WebhookURL   string           `mapstructure:"webhook_url"`
	DebugLogging bool             `mapstructure:"debug_logging"`
}

// Defaults applied before reading the config file.
const (
	DefaultExecutionTimeout  = 15 * time.Second
	DefaultCloseRetries      = 3
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultDiscoveryInterval = 2 * time.Second
	DefaultMaxPoolAge        = 30 * time.Minute
	DefaultMaxStaleness      = 2 * time.Minute
)

// Load reads the config file at path, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"execution.mode":            ModePaper,
		"execution.timeout":         DefaultExecutionTimeout,
		"execution.close_retries":   DefaultCloseRetries,
		"feeds.discovery_interval":  DefaultDiscoveryInterval,
		"feeds.max_price_staleness": DefaultMaxStaleness,
		"safety.max_pool_age":       DefaultMaxPoolAge,
		"session.shutdown_timeout":  DefaultShutdownTimeout,
		"strategy.trailing_stop":    false,
		"debug_logging":             false,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("SNIPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every recognized option for range errors.
func Validate(cfg *Config) error {
	if cfg.Investment.Amount <= 0 {
		return errors.New("investment.amount must be positive")
	}
	if err := validateStrategy(&cfg.Strategy); err != nil {
		return err
	}
	if err := validateSafety(&cfg.Safety); err != nil {
		return err
	}
	if err := validateExecution(&cfg.Execution); err != nil {
		return err
	}
	if cfg.Session.ShutdownTimeout <= 0 {
		return errors.New("session.shutdown_timeout must be positive")
	}
	if cfg.Feeds.DiscoveryInterval <= 0 {
		return errors.New("feeds.discovery_interval must be positive")
	}
	for _, raw := range cfg.Feeds.RPCList {
		if err := validateURL(raw, "http"); err != nil {
			return fmt.Errorf("feeds.rpc_list: %w", err)
		}
	}
	for _, raw := range []string{cfg.Feeds.DiscoveryWSURL, cfg.Feeds.PriceWSURL} {
		if raw == "" {
			continue
		}
		if err := validateURL(raw, "ws"); err != nil {
			return fmt.Errorf("feeds websocket url: %w", err)
		}
	}
	if cfg.WebhookURL != "" {
		if err := validateURL(cfg.WebhookURL, "https"); err != nil {
			return errors.New("webhook_url must use HTTPS")
		}
	}
	return nil
}

func validateStrategy(s *StrategyConfig) error {
	if s.TakeProfit <= 0 {
		return errors.New("strategy.take_profit must be positive")
	}
	if s.StopLoss <= 0 || s.StopLoss >= 100 {
		return errors.New("strategy.stop_loss must be in (0, 100)")
	}
	if s.TrailingStop && (s.TrailingDistance <= 0 || s.TrailingDistance >= 100) {
		return errors.New("strategy.trailing_distance must be in (0, 100) when trailing_stop is enabled")
	}
	return nil
}

func validateSafety(s *SafetyConfig) error {
	if s.MaxOpenPositions < 1 {
		return errors.New("safety.max_open_positions must be at least 1")
	}
	if s.SafetyThreshold < 0 || s.SafetyThreshold > 100 {
		return errors.New("safety.safety_threshold must be in [0, 100]")
	}
	if s.MinLiquidityUSD < 0 {
		return errors.New("safety.min_liquidity_usd must not be negative")
	}
	if s.MinHolders < 0 {
		return errors.New("safety.min_holders must not be negative")
	}
	if s.MaxTopHolderPercent <= 0 || s.MaxTopHolderPercent > 100 {
		return errors.New("safety.max_top_holder_percent must be in (0, 100]")
	}
	if s.MaxDailySpend <= 0 {
		return errors.New("safety.max_daily_spend must be positive")
	}
	if s.MinPoolAge < 0 {
		return errors.New("safety.min_pool_age must not be negative")
	}
	if s.MaxPoolAge <= 0 || s.MaxPoolAge <= s.MinPoolAge {
		return errors.New("safety.max_pool_age must exceed min_pool_age")
	}
	if s.MinSafetyScore < 0 || s.MinSafetyScore > 100 {
		return errors.New("safety.min_safety_score must be in [0, 100]")
	}
	for name, w := range s.RuleWeights {
		if w < 0 {
			return fmt.Errorf("safety.rule_weights.%s must not be negative", name)
		}
	}
	return nil
}

func validateExecution(e *ExecutionConfig) error {
	if e.Mode != ModePaper && e.Mode != ModeLive {
		return errors.New("execution.mode must be paper or live")
	}
	if e.Timeout <= 0 {
		return errors.New("execution.timeout must be positive")
	}
	if e.CloseRetries == 0 {
		return errors.New("execution.close_retries must be at least 1")
	}
	if e.SlippageBps < 0 {
		return errors.New("execution.slippage_bps must not be negative")
	}
	return nil
}

func validateURL(raw, scheme string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q", raw)
	}
	if !strings.HasPrefix(parsed.Scheme, scheme) {
		return fmt.Errorf("URL %q must use %s scheme", raw, scheme)
	}
	return nil
}
