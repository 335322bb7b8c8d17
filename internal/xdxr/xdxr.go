// Package xdxr implements the corporate-action engine: it walks an
// account's held lots forward across the trading days between a cursor
// and a new order date, turning dividend/split events into synthetic
// trades so valuation is continuous across the event while raw share
// counts stay stable.
package xdxr

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zillionare-go/backtest/internal/feed"
	"github.com/zillionare-go/backtest/internal/ledger"
)

// Event is one synthetic XDXR trade emitted by Advance. The caller (the
// account package) turns this into its own Entrust/Trade records; xdxr
// itself knows nothing about entrust logs.
type Event struct {
	Symbol      string
	Date        time.Time
	CashDelta   decimal.Decimal // added to cash (cash dividend component)
	SharesDelta decimal.Decimal // shares added via a new zero-cost lot (stock component), zero if none
}

// Advance walks every trading day strictly after `from` through `to`
// (inclusive), and for every symbol held on that day, applies any
// dividend/split event found. It returns the emitted events in the order
// they were applied; advancing the caller's cursor to `to` is left to the
// caller.
func Advance(ctx context.Context, l *ledger.Ledger, f feed.Feed, from, to time.Time) ([]Event, error) {
	if !to.After(from) {
		return nil, nil
	}

	days, err := f.TradingDays(ctx, from.AddDate(0, 0, 1), to)
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, d := range days {
		for _, symbol := range l.Symbols() {
			held := l.Holding(symbol)
			if !held.IsPositive() {
				continue
			}

			divs, err := f.Dividends(ctx, symbol, d, d)
			if err != nil {
				return nil, err
			}
			if len(divs) == 0 {
				continue
			}

			ev := divs[0]
			cashDelta := ev.CashPerShare.Mul(held)
			sharesDelta := held.Mul(ev.ShareRatio.Add(ev.NewShareRatio))

			if sharesDelta.IsPositive() {
				factor, err := f.AdjustFactor(ctx, symbol, d)
				if err != nil {
					return nil, err
				}
				l.ApplyStockDividend(symbol, sharesDelta, d, factor)
			}

			events = append(events, Event{
				Symbol:      symbol,
				Date:        d,
				CashDelta:   cashDelta,
				SharesDelta: sharesDelta,
			})
		}
	}
	return events, nil
}
