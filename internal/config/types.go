package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the sentinel daemon.
type Config struct {
	App       AppConfig       `mapstructure:"app" yaml:"app"`
	Exchange  ExchangeConfig  `mapstructure:"exchange" yaml:"exchange"`
	Reconcile ReconcileConfig `mapstructure:"reconcile" yaml:"reconcile"`
	Lease     LeaseConfig     `mapstructure:"lease" yaml:"lease"`
	Health    HealthConfig    `mapstructure:"health" yaml:"health"`
}

type AppConfig struct {
	Env      string `mapstructure:"env" yaml:"env"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	LogPath  string `mapstructure:"log_path" yaml:"log_path"`
	HTTPAddr string `mapstructure:"http_addr" yaml:"http_addr"`
	DBPath   string `mapstructure:"db_path" yaml:"db_path"`
}

type ExchangeConfig struct {
	Name         string        `mapstructure:"name" yaml:"name"`
	RESTBaseURL  string        `mapstructure:"rest_base_url" yaml:"rest_base_url"`
	APIKey       string        `mapstructure:"api_key" yaml:"api_key"`
	APISecret    string        `mapstructure:"api_secret" yaml:"-"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout" yaml:"http_timeout"`
	TakerFeeRate float64       `mapstructure:"taker_fee_rate" yaml:"taker_fee_rate"`
}

// ReconcileConfig carries the monitor cadence plus the trade-matching
// constants. The tolerance and retry values are empirical; they are kept
// here rather than hardcoded so they can be tuned against real fill data.
type ReconcileConfig struct {
	Interval          time.Duration `mapstructure:"interval" yaml:"interval"`
	TradeSearchLimit  int           `mapstructure:"trade_search_limit" yaml:"trade_search_limit"`
	TradeRetries      int           `mapstructure:"trade_retries" yaml:"trade_retries"`
	TradeRetryDelay   time.Duration `mapstructure:"trade_retry_delay" yaml:"trade_retry_delay"`
	PriceTolerancePct float64       `mapstructure:"price_tolerance_pct" yaml:"price_tolerance_pct"`
	WindowSlack       time.Duration `mapstructure:"window_slack" yaml:"window_slack"`
	ExhaustiveWindow  time.Duration `mapstructure:"exhaustive_window" yaml:"exhaustive_window"`
}

type LeaseConfig struct {
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl"`
	RecencyWindow time.Duration `mapstructure:"recency_window" yaml:"recency_window"`
}

type HealthConfig struct {
	Interval        time.Duration `mapstructure:"interval" yaml:"interval"`
	Stage1ProfitPct float64       `mapstructure:"stage1_profit_pct" yaml:"stage1_profit_pct"`
	Stage1Ratio     float64       `mapstructure:"stage1_ratio" yaml:"stage1_ratio"`
}

func (c *Config) applyDefaults() {
	if c == nil {
		return
	}
	if strings.TrimSpace(c.App.Env) == "" {
		c.App.Env = "prod"
	}
	if strings.TrimSpace(c.App.LogLevel) == "" {
		c.App.LogLevel = "info"
	}
	if strings.TrimSpace(c.App.HTTPAddr) == "" {
		c.App.HTTPAddr = ":9992"
	}
	if strings.TrimSpace(c.App.DBPath) == "" {
		c.App.DBPath = "data/sentinel.db"
	}
	if strings.TrimSpace(c.Exchange.Name) == "" {
		c.Exchange.Name = "binance"
	}
	if c.Exchange.HTTPTimeout <= 0 {
		c.Exchange.HTTPTimeout = 10 * time.Second
	}
	if c.Exchange.TakerFeeRate <= 0 {
		c.Exchange.TakerFeeRate = 0.0005
	}
	if c.Reconcile.Interval <= 0 {
		c.Reconcile.Interval = 30 * time.Second
	}
	if c.Reconcile.TradeSearchLimit <= 0 {
		c.Reconcile.TradeSearchLimit = 100
	}
	if c.Reconcile.TradeRetries <= 0 {
		c.Reconcile.TradeRetries = 3
	}
	if c.Reconcile.TradeRetryDelay <= 0 {
		c.Reconcile.TradeRetryDelay = 2 * time.Second
	}
	if c.Reconcile.PriceTolerancePct <= 0 {
		c.Reconcile.PriceTolerancePct = 0.1
	}
	if c.Reconcile.WindowSlack <= 0 {
		c.Reconcile.WindowSlack = 5 * time.Second
	}
	if c.Reconcile.ExhaustiveWindow <= 0 {
		c.Reconcile.ExhaustiveWindow = 24 * time.Hour
	}
	if c.Lease.TTL <= 0 {
		c.Lease.TTL = 30 * time.Second
	}
	if c.Lease.RecencyWindow <= 0 {
		c.Lease.RecencyWindow = 60 * time.Second
	}
	if c.Health.Interval <= 0 {
		c.Health.Interval = 60 * time.Second
	}
	if c.Health.Stage1ProfitPct <= 0 {
		c.Health.Stage1ProfitPct = 2.0
	}
	if c.Health.Stage1Ratio <= 0 || c.Health.Stage1Ratio >= 1 {
		c.Health.Stage1Ratio = 0.5
	}
}

func validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Reconcile.PriceTolerancePct > 1.0 {
		return fmt.Errorf("reconcile.price_tolerance_pct=%.3f is a percentage, expected <= 1.0", cfg.Reconcile.PriceTolerancePct)
	}
	if cfg.Reconcile.TradeRetries > 10 {
		return fmt.Errorf("reconcile.trade_retries=%d too large, max 10", cfg.Reconcile.TradeRetries)
	}
	if cfg.Lease.TTL < 5*time.Second {
		return fmt.Errorf("lease.ttl=%s too short, min 5s", cfg.Lease.TTL)
	}
	return nil
}

// Dump renders the effective configuration as yaml for startup debug logs.
// The API secret is excluded via the yaml tag.
func (c *Config) Dump() string {
	if c == nil {
		return ""
	}
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<dump failed: %v>", err)
	}
	return string(out)
}
