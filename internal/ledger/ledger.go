// Package ledger implements per-account position bookkeeping: a FIFO
// queue of purchase lots per symbol, fill application, corporate-action
// application, and date-keyed valuation.
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zillionare-go/backtest/internal/bterrors"
	"github.com/zillionare-go/backtest/internal/feed"
)

// pruneEpsilon is the fractional-share tolerance below which a lot's
// remaining shares are treated as fully consumed.
var pruneEpsilon = decimal.NewFromFloat(1e-6)

// Lot is one purchase tranche, tracked separately for FIFO cost-basis
// accounting.
type Lot struct {
	Symbol         string
	Shares         decimal.Decimal // unadjusted; reduced only by sells, XDXR adds a separate lot
	CostBasis      decimal.Decimal // per-share, in the adjustment frame at purchase
	AcquiredDate   time.Time
	AcquiredFactor decimal.Decimal
}

// Snapshot is a per-symbol holding summary as of one date.
type Snapshot struct {
	Symbol       string
	Shares       decimal.Decimal
	Cost         decimal.Decimal // weighted-average cost basis across lots
	MarketPrice  decimal.Decimal
	MarketValue  decimal.Decimal
	Sellable     decimal.Decimal // excludes today's purchases (T+1)
}

// Ledger holds one account's FIFO lots, keyed by symbol.
type Ledger struct {
	lots map[string][]Lot
}

// New builds an empty Ledger.
func New() *Ledger {
	return &Ledger{lots: map[string][]Lot{}}
}

// FromLots rebuilds a Ledger from a previously-saved per-symbol lot map,
// used by internal/store to restore a snapshot.
func FromLots(lots map[string][]Lot) *Ledger {
	if lots == nil {
		lots = map[string][]Lot{}
	}
	return &Ledger{lots: lots}
}

// AllLots returns a copy of every symbol's lot queue, used by
// internal/store to serialize a snapshot.
func (l *Ledger) AllLots() map[string][]Lot {
	out := make(map[string][]Lot, len(l.lots))
	for sym, lots := range l.lots {
		cp := make([]Lot, len(lots))
		copy(cp, lots)
		out[sym] = cp
	}
	return out
}

// Symbols returns every symbol currently holding at least one lot.
func (l *Ledger) Symbols() []string {
	out := make([]string, 0, len(l.lots))
	for sym, lots := range l.lots {
		if len(lots) > 0 {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// Lots returns a copy of the FIFO lot queue for symbol.
func (l *Ledger) Lots(symbol string) []Lot {
	src := l.lots[symbol]
	out := make([]Lot, len(src))
	copy(out, src)
	return out
}

// Holding returns the total unadjusted share count held for symbol.
func (l *Ledger) Holding(symbol string) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range l.lots[symbol] {
		total = total.Add(lot.Shares)
	}
	return total
}

// ApplyBuy appends a new lot for a buy fill. acquiredFactor is the
// adjustment factor on fillTime's date.
func (l *Ledger) ApplyBuy(symbol string, shares, price decimal.Decimal, fillTime time.Time, acquiredFactor decimal.Decimal) {
	l.lots[symbol] = append(l.lots[symbol], Lot{
		Symbol:         symbol,
		Shares:         shares,
		CostBasis:      price,
		AcquiredDate:   dateOnly(fillTime),
		AcquiredFactor: acquiredFactor,
	})
}

// ApplySell consumes shares FIFO across symbol's lots, returning the
// realized profit against each lot's factor-rescaled cost basis.
// currentFactor is the adjustment factor on the sell date.
func (l *Ledger) ApplySell(symbol string, shares, price, currentFactor decimal.Decimal) (realizedProfit decimal.Decimal, err error) {
	remaining := shares
	lots := l.lots[symbol]
	realizedProfit = decimal.Zero

	i := 0
	for i < len(lots) && remaining.GreaterThan(pruneEpsilon) {
		lot := &lots[i]
		take := remaining
		if lot.Shares.LessThan(take) {
			take = lot.Shares
		}

		effectiveCost := lot.CostBasis
		if lot.AcquiredFactor.IsPositive() && currentFactor.IsPositive() {
			effectiveCost = lot.CostBasis.Mul(lot.AcquiredFactor).Div(currentFactor)
		}
		realizedProfit = realizedProfit.Add(take.Mul(price.Sub(effectiveCost)))

		lot.Shares = lot.Shares.Sub(take)
		remaining = remaining.Sub(take)
		if lot.Shares.LessThanOrEqual(pruneEpsilon) {
			lot.Shares = decimal.Zero
			i++
		}
	}

	if remaining.GreaterThan(pruneEpsilon) {
		return decimal.Zero, bterrors.TradeRejected(bterrors.PositionShort,
			"insufficient shares held for "+symbol)
	}

	l.lots[symbol] = prune(lots[i:])
	return realizedProfit, nil
}

func prune(lots []Lot) []Lot {
	out := make([]Lot, 0, len(lots))
	for _, lot := range lots {
		if lot.Shares.GreaterThan(pruneEpsilon) {
			out = append(out, lot)
		}
	}
	return out
}

// ApplyStockDividend appends a synthetic zero-cost lot for the share
// delta of a stock dividend/split event. The original lot is left
// untouched: raw share counts stay stable and the adjustment factor
// carries the arithmetic.
func (l *Ledger) ApplyStockDividend(symbol string, shares decimal.Decimal, day time.Time, factor decimal.Decimal) {
	if !shares.IsPositive() {
		return
	}
	l.lots[symbol] = append(l.lots[symbol], Lot{
		Symbol:         symbol,
		Shares:         shares,
		CostBasis:      decimal.Zero,
		AcquiredDate:   dateOnly(day),
		AcquiredFactor: factor,
	})
}

// MarketValue computes symbol's value at date: closest preceding
// non-suspended close within a 500-trading-day search window, falling
// back to the weighted-average cost basis beyond that.
func (l *Ledger) MarketValue(ctx context.Context, symbol string, date time.Time, f feed.Feed) (decimal.Decimal, error) {
	total := l.Holding(symbol)
	if !total.IsPositive() {
		return decimal.Zero, nil
	}

	price, factor, err := l.priceAt(ctx, symbol, date, f)
	if err != nil {
		return decimal.Zero, err
	}

	value := decimal.Zero
	for _, lot := range l.lots[symbol] {
		if !lot.Shares.IsPositive() {
			continue
		}
		adj := decimal.NewFromInt(1)
		if lot.AcquiredFactor.IsPositive() {
			adj = factor.Div(lot.AcquiredFactor)
		}
		value = value.Add(lot.Shares.Mul(price).Mul(adj))
	}
	return value, nil
}

const maxCloseSearchDays = 500

// lookbackCalendarDays bounds the calendar range fetched from the trading
// calendar to source maxCloseSearchDays trading days; generous enough to
// cover 500 trading days even across holiday-heavy stretches.
const lookbackCalendarDays = 1000

// priceAt walks backward from date through the trading calendar, up to
// maxCloseSearchDays trading days, for the closest non-suspended close.
// Beyond that it falls back to the weighted-average cost basis.
func (l *Ledger) priceAt(ctx context.Context, symbol string, date time.Time, f feed.Feed) (price, factor decimal.Decimal, err error) {
	cursor := dateOnly(date)
	days, derr := f.TradingDays(ctx, cursor.AddDate(0, 0, -lookbackCalendarDays), cursor)
	if derr != nil {
		return decimal.Decimal{}, decimal.Decimal{}, derr
	}

	limit := maxCloseSearchDays
	if limit > len(days) {
		limit = len(days)
	}
	for i := 0; i < limit; i++ {
		d := days[len(days)-1-i]
		close, ok, cerr := f.Close(ctx, symbol, d)
		if cerr != nil {
			return decimal.Decimal{}, decimal.Decimal{}, cerr
		}
		if ok {
			fac, ferr := f.AdjustFactor(ctx, symbol, d)
			if ferr != nil {
				return decimal.Decimal{}, decimal.Decimal{}, ferr
			}
			return close, fac, nil
		}
	}
	return l.weightedAverageCost(symbol), decimal.NewFromInt(1), nil
}

func (l *Ledger) weightedAverageCost(symbol string) decimal.Decimal {
	totalShares := decimal.Zero
	totalCost := decimal.Zero
	for _, lot := range l.lots[symbol] {
		totalShares = totalShares.Add(lot.Shares)
		totalCost = totalCost.Add(lot.Shares.Mul(lot.CostBasis))
	}
	if !totalShares.IsPositive() {
		return decimal.Zero
	}
	return totalCost.Div(totalShares)
}

// SnapshotAt builds the per-symbol holding summary for every symbol
// currently held. today marks the T+1 cutoff: lots acquired on today are
// excluded from Sellable.
func (l *Ledger) SnapshotAt(ctx context.Context, date time.Time, f feed.Feed) ([]Snapshot, error) {
	today := dateOnly(date)
	symbols := l.Symbols()
	out := make([]Snapshot, 0, len(symbols))

	for _, sym := range symbols {
		shares := l.Holding(sym)
		if !shares.IsPositive() {
			continue
		}

		price, _, err := l.priceAt(ctx, sym, date, f)
		if err != nil {
			return nil, err
		}
		mv, err := l.MarketValue(ctx, sym, date, f)
		if err != nil {
			return nil, err
		}

		sellable := decimal.Zero
		for _, lot := range l.lots[sym] {
			if lot.AcquiredDate.Before(today) {
				sellable = sellable.Add(lot.Shares)
			}
		}

		out = append(out, Snapshot{
			Symbol:      sym,
			Shares:      shares,
			Cost:        l.weightedAverageCost(sym),
			MarketPrice: price,
			MarketValue: mv,
			Sellable:    sellable,
		})
	}
	return out, nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
