package feed

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Fixture is an in-memory Feed used by tests and local development: a
// fully-specified, static market-data universe with no network calls.
type Fixture struct {
	bars        map[string][]Bar // symbol -> bars sorted by Time
	limits      map[string]map[string]PriceLimits
	dividends   map[string][]DividendEvent
	factors     map[string]map[string]decimal.Decimal
	suspended   map[string]map[string]bool
	tradingDays []time.Time
}

// NewFixture builds an empty Fixture.
func NewFixture() *Fixture {
	return &Fixture{
		bars:      map[string][]Bar{},
		limits:    map[string]map[string]PriceLimits{},
		dividends: map[string][]DividendEvent{},
		factors:   map[string]map[string]decimal.Decimal{},
		suspended: map[string]map[string]bool{},
	}
}

func dateKey(t time.Time) string { return t.Format("2006-01-02") }

// AddBar registers one minute bar for a symbol.
func (f *Fixture) AddBar(b Bar) {
	f.bars[b.Symbol] = append(f.bars[b.Symbol], b)
	sort.Slice(f.bars[b.Symbol], func(i, j int) bool {
		return f.bars[b.Symbol][i].Time.Before(f.bars[b.Symbol][j].Time)
	})
}

// SetPriceLimits registers the price-limit band for a symbol on a day.
func (f *Fixture) SetPriceLimits(symbol string, date time.Time, limits PriceLimits) {
	if f.limits[symbol] == nil {
		f.limits[symbol] = map[string]PriceLimits{}
	}
	f.limits[symbol][dateKey(date)] = limits
}

// AddDividend registers an XDXR event for a symbol.
func (f *Fixture) AddDividend(symbol string, ev DividendEvent) {
	f.dividends[symbol] = append(f.dividends[symbol], ev)
}

// SetAdjustFactor registers the cumulative adjustment factor for a symbol on a day.
func (f *Fixture) SetAdjustFactor(symbol string, date time.Time, factor decimal.Decimal) {
	if f.factors[symbol] == nil {
		f.factors[symbol] = map[string]decimal.Decimal{}
	}
	f.factors[symbol][dateKey(date)] = factor
}

// SetSuspended marks a symbol as halted on a given day.
func (f *Fixture) SetSuspended(symbol string, date time.Time, suspended bool) {
	if f.suspended[symbol] == nil {
		f.suspended[symbol] = map[string]bool{}
	}
	f.suspended[symbol][dateKey(date)] = suspended
}

// SetTradingDays fixes the trading calendar the fixture serves.
func (f *Fixture) SetTradingDays(days []time.Time) {
	sorted := append([]time.Time(nil), days...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	f.tradingDays = sorted
}

type fixtureBarStream struct {
	bars []Bar
	pos  int
}

func (s *fixtureBarStream) Next(ctx context.Context) (Bar, bool, error) {
	if s.pos >= len(s.bars) {
		return Bar{}, false, nil
	}
	b := s.bars[s.pos]
	s.pos++
	return b, true, nil
}

func (f *Fixture) Bars(ctx context.Context, symbol string, start time.Time, frame Frame) (BarStream, error) {
	all := f.bars[symbol]
	var from int
	for from = 0; from < len(all); from++ {
		if !all[from].Time.Before(start) {
			break
		}
	}
	return &fixtureBarStream{bars: all[from:]}, nil
}

func (f *Fixture) PriceLimits(ctx context.Context, symbol string, date time.Time) (PriceLimits, error) {
	if m, ok := f.limits[symbol]; ok {
		if pl, ok := m[dateKey(date)]; ok {
			return pl, nil
		}
	}
	return PriceLimits{Upper: decimal.NewFromInt(1 << 30), Lower: decimal.Zero}, nil
}

func (f *Fixture) Close(ctx context.Context, symbol string, date time.Time) (decimal.Decimal, bool, error) {
	if f.isSuspendedOn(symbol, date) {
		return decimal.Decimal{}, false, nil
	}
	var last *Bar
	for i := range f.bars[symbol] {
		b := &f.bars[symbol][i]
		if dateKey(b.Time) == dateKey(date) {
			last = b
		}
	}
	if last == nil {
		return decimal.Decimal{}, false, nil
	}
	return last.Close, true, nil
}

func (f *Fixture) Dividends(ctx context.Context, symbol string, start, end time.Time) ([]DividendEvent, error) {
	var out []DividendEvent
	for _, ev := range f.dividends[symbol] {
		if !ev.Date.Before(start) && !ev.Date.After(end) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *Fixture) AdjustFactor(ctx context.Context, symbol string, date time.Time) (decimal.Decimal, error) {
	if m, ok := f.factors[symbol]; ok {
		if v, ok := m[dateKey(date)]; ok {
			return v, nil
		}
	}
	return decimal.NewFromInt(1), nil
}

func (f *Fixture) TradingDays(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	days := f.tradingDays
	if days == nil {
		days = f.daysFromBars()
	}
	var out []time.Time
	for _, d := range days {
		if !d.Before(start) && !d.After(end) {
			out = append(out, d)
		}
	}
	return out, nil
}

// daysFromBars derives a trading calendar from every registered bar's date
// when the caller never configured one explicitly via SetTradingDays.
func (f *Fixture) daysFromBars() []time.Time {
	seen := map[string]time.Time{}
	for _, bars := range f.bars {
		for _, b := range bars {
			k := dateKey(b.Time)
			if _, ok := seen[k]; !ok {
				seen[k] = dateOnlyFixture(b.Time)
			}
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func dateOnlyFixture(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func (f *Fixture) isSuspendedOn(symbol string, date time.Time) bool {
	if m, ok := f.suspended[symbol]; ok {
		return m[dateKey(date)]
	}
	return false
}

func (f *Fixture) IsSuspended(ctx context.Context, symbol string, date time.Time) (bool, error) {
	return f.isSuspendedOn(symbol, date), nil
}
