// Package config holds the process-wide settings for the backtest server:
// risk-free rate, default commission, feed timeout, and the admin token that
// authorizes cross-account operations. Loaded from the environment into a
// plain struct with sane defaults, no third-party config framework.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the process-wide, effectively-immutable configuration.
type Config struct {
	// ListenAddr is the address the HTTP server binds to.
	ListenAddr string
	// RoutePrefix is the URL prefix under which all endpoints are mounted.
	RoutePrefix string
	// AdminToken authorizes delete_accounts(all) and other cross-account ops.
	AdminToken string
	// RiskFreeRate is the annual risk-free rate used by the Metrics Calculator.
	RiskFreeRate float64
	// TradingDaysPerYear is the annualization constant (252 by default).
	TradingDaysPerYear int
	// DefaultCommission is used when start_backtest omits a commission rate.
	DefaultCommission float64
	// FeedTimeout is read from BACKTEST_FEED_TIMEOUT (default 30s). No Feed
	// implementation reads it: HTTPClient bounds each request with its own
	// fixed 30s client timeout, and the Fixture has none.
	FeedTimeout time.Duration
	// FeedBaseURL is the market-data service backing the live HTTPClient
	// Feed. Empty means run against the in-memory Fixture instead, for
	// local development without a real market-data backend.
	FeedBaseURL string
	// DataDir is where the sqlite persistence file lives.
	DataDir string
}

// Load builds a Config from the environment, falling back to defaults.
func Load() *Config {
	cfg := &Config{
		ListenAddr:         envOrDefault("BACKTEST_LISTEN_ADDR", "127.0.0.1:8088"),
		RoutePrefix:        envOrDefault("BACKTEST_ROUTE_PREFIX", "/backtest/api/trade/v0.3/"),
		AdminToken:         os.Getenv("BACKTEST_ADMIN_TOKEN"),
		RiskFreeRate:       envOrDefaultFloat("BACKTEST_RISK_FREE_RATE", 0.03),
		TradingDaysPerYear: envOrDefaultInt("BACKTEST_TRADING_DAYS_PER_YEAR", 252),
		DefaultCommission:  envOrDefaultFloat("BACKTEST_DEFAULT_COMMISSION", 1e-4),
		FeedTimeout:        envOrDefaultDuration("BACKTEST_FEED_TIMEOUT", 30*time.Second),
		FeedBaseURL:        os.Getenv("BACKTEST_FEED_BASE_URL"),
		DataDir:            envOrDefault("BACKTEST_DATA_DIR", "./data"),
	}
	return cfg
}

// DailyRiskFreeRate converts the annual rate to a per-trading-day rate.
func (c *Config) DailyRiskFreeRate() float64 {
	return c.RiskFreeRate / float64(c.TradingDaysPerYear)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
