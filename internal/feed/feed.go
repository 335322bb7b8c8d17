// Package feed is the narrow, read-only boundary to the external
// market-data provider. Everything downstream (the Matcher, the
// corporate-action engine, the Account's valuation logic) talks only to
// the Feed interface, never to a concrete provider.
package feed

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Frame names the bar granularity requested from the feed.
type Frame string

const (
	Minute Frame = "1m"
	Daily  Frame = "1d"
)

// Bar is one OHLCV observation for a symbol over one Frame interval.
type Bar struct {
	Symbol string
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
}

// PriceLimits is a symbol's regulated upper/lower price bound for one
// trading day (涨跌停).
type PriceLimits struct {
	Upper decimal.Decimal
	Lower decimal.Decimal
}

// DividendEvent is a single ex-dividend/ex-rights (XDXR) event for a
// symbol on a given trading day.
type DividendEvent struct {
	Date          time.Time
	CashPerShare  decimal.Decimal
	ShareRatio    decimal.Decimal // stock dividend ratio (shares per share held)
	NewShareRatio decimal.Decimal // rights-issue ratio
}

// BarStream is a lazy, forward-only iterator over a symbol's bars, the
// form the Matcher consumes so it never has to buffer an entire range.
type BarStream interface {
	// Next returns the next bar in feed order. ok is false once the
	// stream is exhausted; err is non-nil only on a feed failure.
	Next(ctx context.Context) (bar Bar, ok bool, err error)
}

// Feed is the read-only contract over the external market-data provider.
type Feed interface {
	// Bars opens a lazy stream of bars for symbol starting at start
	// (inclusive), at the given Frame.
	Bars(ctx context.Context, symbol string, start time.Time, frame Frame) (BarStream, error)
	// PriceLimits returns the day's price-limit band for symbol.
	PriceLimits(ctx context.Context, symbol string, date time.Time) (PriceLimits, error)
	// Close returns the close price for symbol on date; ok is false when
	// the symbol did not trade that day (holiday or suspension).
	Close(ctx context.Context, symbol string, date time.Time) (price decimal.Decimal, ok bool, err error)
	// Dividends returns zero or more XDXR events for symbol in [start, end].
	Dividends(ctx context.Context, symbol string, start, end time.Time) ([]DividendEvent, error)
	// AdjustFactor returns the cumulative adjustment factor for symbol on date.
	AdjustFactor(ctx context.Context, symbol string, date time.Time) (decimal.Decimal, error)
	// TradingDays returns the trading calendar days in [start, end], the
	// only sanctioned way to do "next trading day" / "N trading days ago"
	// arithmetic.
	TradingDays(ctx context.Context, start, end time.Time) ([]time.Time, error)
	// IsSuspended reports whether symbol was halted from trading on date.
	IsSuspended(ctx context.Context, symbol string, date time.Time) (bool, error)
}
