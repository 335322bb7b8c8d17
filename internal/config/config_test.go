package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BACKTEST_LISTEN_ADDR", "")
	t.Setenv("BACKTEST_RISK_FREE_RATE", "")
	t.Setenv("BACKTEST_TRADING_DAYS_PER_YEAR", "")

	cfg := Load()
	if cfg.ListenAddr != "127.0.0.1:8088" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.RiskFreeRate != 0.03 {
		t.Errorf("RiskFreeRate = %v", cfg.RiskFreeRate)
	}
	if cfg.TradingDaysPerYear != 252 {
		t.Errorf("TradingDaysPerYear = %v", cfg.TradingDaysPerYear)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("BACKTEST_RISK_FREE_RATE", "0.02")
	t.Setenv("BACKTEST_TRADING_DAYS_PER_YEAR", "250")

	cfg := Load()
	if cfg.RiskFreeRate != 0.02 {
		t.Errorf("RiskFreeRate = %v, want 0.02", cfg.RiskFreeRate)
	}
	got := cfg.DailyRiskFreeRate()
	want := 0.02 / 250
	if got != want {
		t.Errorf("DailyRiskFreeRate = %v, want %v", got, want)
	}
}
