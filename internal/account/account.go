// Package account implements the account/portfolio state machine: one
// aggregate per simulated brokerage account, holding cash, a position
// ledger, the entrust/trade logs, and the daily assets table, all
// serialized under one per-account lock so a single order's XDXR
// advance, match, and commit run as one critical section.
package account

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zillionare-go/backtest/internal/bterrors"
	"github.com/zillionare-go/backtest/internal/feed"
	"github.com/zillionare-go/backtest/internal/ledger"
	"github.com/zillionare-go/backtest/internal/matcher"
	"github.com/zillionare-go/backtest/internal/xdxr"
)

// lotSize is the BUY/MARKET_BUY share-multiple requirement.
const lotSize = 100

// xdxrClockHour/Minute is the fixed pre-market stamp synthetic XDXR
// entrusts carry, so they always sort before any real order on the same date.
const xdxrClockHour, xdxrClockMinute = 9, 15

// Status is an entrust's terminal state.
type Status string

const (
	StatusFilled   Status = "FILLED"
	StatusPartial  Status = "PARTIAL"
	StatusRejected Status = "REJECTED"
)

// Entrust is an accepted order instruction. A rejected order is reported
// to the caller as an error and is never appended to the entrust log.
type Entrust struct {
	OrderID   string
	Symbol    string
	Side      matcher.Side
	Price     *decimal.Decimal
	Shares    decimal.Decimal
	OrderTime time.Time
	Status    Status
	Reason    string
}

// Trade is one fill against an Entrust.
type Trade struct {
	TradeID        string
	OrderID        string
	Symbol         string
	Side           matcher.Side
	Shares         decimal.Decimal
	Price          decimal.Decimal
	Fee            decimal.Decimal
	TradeTime      time.Time
	EventualProfit decimal.Decimal
}

// Bill joins one entrust with the trades it produced.
type Bill struct {
	Entrust Entrust
	Trades  []Trade
}

// AssetRow is one dated mark-to-market snapshot.
type AssetRow struct {
	Date  time.Time
	Cash  decimal.Decimal
	Value decimal.Decimal // total market value of held positions
	Total decimal.Decimal // Cash + Value
}

// Account aggregates one simulated brokerage account. All mutating
// methods hold mu across the whole operation, including any feed
// suspension point.
type Account struct {
	mu sync.Mutex

	Name       string
	Token      string
	Principal  decimal.Decimal
	Commission decimal.Decimal
	StartDate  time.Time
	EndDate    time.Time

	cash        decimal.Decimal
	ledger      *ledger.Ledger
	entrusts    []Entrust
	trades      []Trade
	assets      []AssetRow
	xdxrCursor  time.Time
	lastOrderAt time.Time
}

// New creates an account seeded for the `start` operation.
func New(name, token string, principal, commission decimal.Decimal, start, end time.Time) *Account {
	return &Account{
		Name:       name,
		Token:      token,
		Principal:  principal,
		Commission: commission,
		StartDate:  start,
		EndDate:    end,
		cash:       principal,
		ledger:     ledger.New(),
		xdxrCursor: start,
	}
}

// Cash returns the current cash balance.
func (a *Account) Cash() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cash
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func xdxrOrderTime(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, xdxrClockHour, xdxrClockMinute, 0, 0, day.Location())
}

// advanceXDXR runs the corporate-action walk forward to orderTime's date
// and commits its cash/lot effects unconditionally, independent of
// whether the triggering order itself is accepted.
func (a *Account) advanceXDXR(ctx context.Context, f feed.Feed, orderTime time.Time) error {
	to := dateOnly(orderTime)
	events, err := xdxr.Advance(ctx, a.ledger, f, a.xdxrCursor, to)
	if err != nil {
		return err
	}
	for _, ev := range events {
		a.cash = a.cash.Add(ev.CashDelta)
		orderID := uuid.NewString()
		a.entrusts = append(a.entrusts, Entrust{
			OrderID:   orderID,
			Symbol:    ev.Symbol,
			Side:      matcher.XDXR,
			Shares:    ev.SharesDelta,
			OrderTime: xdxrOrderTime(ev.Date),
			Status:    StatusFilled,
		})
		a.trades = append(a.trades, Trade{
			TradeID:   uuid.NewString(),
			OrderID:   orderID,
			Symbol:    ev.Symbol,
			Side:      matcher.XDXR,
			Shares:    ev.SharesDelta,
			Price:     decimal.Zero,
			Fee:       decimal.Zero,
			TradeTime: xdxrOrderTime(ev.Date),
		})
	}
	a.xdxrCursor = to
	return nil
}

// Buy places a BUY or MARKET_BUY order.
func (a *Account) Buy(ctx context.Context, f feed.Feed, symbol string, shares decimal.Decimal, limitPrice *decimal.Decimal, orderTime time.Time, market bool) (Entrust, []Trade, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	side := matcher.Buy
	if market {
		side = matcher.MarketBuy
	}
	return a.placeBuy(ctx, f, symbol, shares, limitPrice, orderTime, side)
}

func (a *Account) placeBuy(ctx context.Context, f feed.Feed, symbol string, shares decimal.Decimal, limitPrice *decimal.Decimal, orderTime time.Time, side matcher.Side) (Entrust, []Trade, error) {
	if err := a.checkOrdering(orderTime); err != nil {
		return Entrust{}, nil, err
	}

	if err := a.advanceXDXR(ctx, f, orderTime); err != nil {
		return Entrust{}, nil, err
	}
	if mod := shares.Mod(decimal.NewFromInt(lotSize)); !mod.IsZero() {
		return Entrust{}, nil, bterrors.BadParameter(bterrors.LotSize, "buy shares must be a multiple of 100")
	}

	fill, err := matcher.Match(ctx, matcher.Request{
		Symbol: symbol, Side: side, LimitPrice: limitPrice, Shares: shares, OrderTime: orderTime,
	}, f)
	if err != nil {
		return Entrust{}, nil, err
	}
	if fill.Outcome == matcher.NoMatch {
		return Entrust{}, nil, bterrors.TradeRejected(bterrors.NoMatch, "price never met for "+symbol)
	}

	fee := fill.Shares.Mul(fill.Price).Mul(a.Commission)
	cost := fill.Shares.Mul(fill.Price).Add(fee)
	if a.cash.LessThan(cost) {
		return Entrust{}, nil, bterrors.TradeRejected(bterrors.CashShortage, "insufficient cash for "+symbol)
	}

	factor, err := f.AdjustFactor(ctx, symbol, dateOnly(fill.FillTime))
	if err != nil {
		return Entrust{}, nil, err
	}
	a.ledger.ApplyBuy(symbol, fill.Shares, fill.Price, fill.FillTime, factor)
	a.cash = a.cash.Sub(cost)

	status := StatusFilled
	if fill.Outcome == matcher.Partial {
		status = StatusPartial
	}

	orderID := uuid.NewString()
	entrust := Entrust{
		OrderID: orderID, Symbol: symbol, Side: side, Price: limitPrice,
		Shares: shares, OrderTime: orderTime, Status: status,
	}
	trade := Trade{
		TradeID: uuid.NewString(), OrderID: orderID, Symbol: symbol, Side: side,
		Shares: fill.Shares, Price: fill.Price, Fee: fee, TradeTime: fill.FillTime,
	}

	a.commit(ctx, f, entrust, []Trade{trade}, orderTime)
	return entrust, []Trade{trade}, nil
}

// Sell places a SELL, MARKET_SELL, or SELL_PERCENT order. For
// SELL_PERCENT, shares carries the fraction in (0, 1].
func (a *Account) Sell(ctx context.Context, f feed.Feed, symbol string, shares decimal.Decimal, limitPrice *decimal.Decimal, orderTime time.Time, side matcher.Side) (Entrust, []Trade, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkOrdering(orderTime); err != nil {
		return Entrust{}, nil, err
	}

	if err := a.advanceXDXR(ctx, f, orderTime); err != nil {
		return Entrust{}, nil, err
	}

	suspended, err := f.IsSuspended(ctx, symbol, dateOnly(orderTime))
	if err != nil {
		return Entrust{}, nil, err
	}
	if suspended {
		return Entrust{}, nil, bterrors.TradeRejected(bterrors.Suspended, symbol+" is suspended")
	}

	orderSide := side
	requested := shares
	matchSide := side
	if side == matcher.SellPercent {
		held := a.ledger.Holding(symbol)
		requested = held.Mul(shares)
		matchSide = matcher.MarketSell
	}
	if !requested.IsPositive() || requested.GreaterThan(a.ledger.Holding(symbol)) {
		return Entrust{}, nil, bterrors.TradeRejected(bterrors.PositionShort, "insufficient shares held for "+symbol)
	}

	fill, err := matcher.Match(ctx, matcher.Request{
		Symbol: symbol, Side: matchSide, LimitPrice: limitPrice, Shares: requested, OrderTime: orderTime,
	}, f)
	if err != nil {
		return Entrust{}, nil, err
	}
	if fill.Outcome == matcher.NoMatch {
		return Entrust{}, nil, bterrors.TradeRejected(bterrors.NoMatch, "price never met for "+symbol)
	}

	fee := fill.Shares.Mul(fill.Price).Mul(a.Commission)
	factor, err := f.AdjustFactor(ctx, symbol, dateOnly(fill.FillTime))
	if err != nil {
		return Entrust{}, nil, err
	}
	profit, err := a.ledger.ApplySell(symbol, fill.Shares, fill.Price, factor)
	if err != nil {
		return Entrust{}, nil, err
	}
	a.cash = a.cash.Add(fill.Shares.Mul(fill.Price)).Sub(fee)

	status := StatusFilled
	if fill.Outcome == matcher.Partial {
		status = StatusPartial
	}

	orderID := uuid.NewString()
	entrust := Entrust{
		OrderID: orderID, Symbol: symbol, Side: orderSide, Price: limitPrice,
		Shares: shares, OrderTime: orderTime, Status: status,
	}
	trade := Trade{
		TradeID: uuid.NewString(), OrderID: orderID, Symbol: symbol, Side: orderSide,
		Shares: fill.Shares, Price: fill.Price, Fee: fee, TradeTime: fill.FillTime,
		EventualProfit: profit,
	}

	a.commit(ctx, f, entrust, []Trade{trade}, orderTime)
	return entrust, []Trade{trade}, nil
}

// checkOrdering enforces the strict monotone order-time invariant.
func (a *Account) checkOrdering(orderTime time.Time) error {
	if !a.lastOrderAt.IsZero() && !orderTime.After(a.lastOrderAt) {
		return bterrors.BadParameter(bterrors.TimeRewind, "order_time must strictly increase")
	}
	return nil
}

// commit appends the accepted entrust/trade and rewrites the assets row
// for the trade date, which can fall after orderTime's date when a
// partial fill's last matched bar crosses a day boundary on thin
// liquidity.
func (a *Account) commit(ctx context.Context, f feed.Feed, entrust Entrust, trades []Trade, orderTime time.Time) {
	a.entrusts = append(a.entrusts, entrust)
	a.trades = append(a.trades, trades...)
	a.lastOrderAt = orderTime
	tradeDate := dateOnly(orderTime)
	if len(trades) > 0 {
		tradeDate = dateOnly(trades[len(trades)-1].TradeTime)
	}
	a.revalue(ctx, f, tradeDate)
}

// revalue recomputes and upserts the assets[date] row.
func (a *Account) revalue(ctx context.Context, f feed.Feed, date time.Time) {
	value := decimal.Zero
	for _, sym := range a.ledger.Symbols() {
		v, err := a.ledger.MarketValue(ctx, sym, date, f)
		if err != nil {
			continue
		}
		value = value.Add(v)
	}
	row := AssetRow{Date: date, Cash: a.cash, Value: value, Total: a.cash.Add(value)}

	for i := range a.assets {
		if a.assets[i].Date.Equal(date) {
			a.assets[i] = row
			return
		}
	}
	a.assets = append(a.assets, row)
}

// Stop forward-fills the assets table to EndDate without trading,
// amortizing work away from Metrics for snappy final reporting.
func (a *Account) Stop(ctx context.Context, f feed.Feed) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cursor := a.StartDate
	if len(a.assets) > 0 {
		cursor = a.assets[len(a.assets)-1].Date
	}
	days, err := f.TradingDays(ctx, cursor, a.EndDate)
	if err != nil {
		return err
	}
	for _, d := range days {
		a.revalue(ctx, f, d)
	}
	return nil
}

// Info returns a coarse snapshot of cash/principal state.
type Info struct {
	Name      string
	Principal decimal.Decimal
	Cash      decimal.Decimal
	StartDate time.Time
	EndDate   time.Time
}

func (a *Account) Info() Info {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Info{Name: a.Name, Principal: a.Principal, Cash: a.cash, StartDate: a.StartDate, EndDate: a.EndDate}
}

// Positions returns the ledger snapshot as of date.
func (a *Account) Positions(ctx context.Context, f feed.Feed, date time.Time) ([]ledger.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.SnapshotAt(ctx, date, f)
}

// Bills joins entrusts with their trades, optionally filtered to
// [from, to].
func (a *Account) Bills(from, to *time.Time) []Bill {
	a.mu.Lock()
	defer a.mu.Unlock()

	bills := make([]Bill, 0, len(a.entrusts))
	for _, e := range a.entrusts {
		if from != nil && e.OrderTime.Before(*from) {
			continue
		}
		if to != nil && e.OrderTime.After(*to) {
			continue
		}
		bill := Bill{Entrust: e}
		for _, tr := range a.trades {
			if tr.OrderID == e.OrderID {
				bill.Trades = append(bill.Trades, tr)
			}
		}
		bills = append(bills, bill)
	}
	return bills
}

// Assets returns the daily assets table, optionally filtered to
// [from, to].
func (a *Account) Assets(from, to *time.Time) []AssetRow {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows := make([]AssetRow, 0, len(a.assets))
	for _, row := range a.assets {
		if from != nil && row.Date.Before(*from) {
			continue
		}
		if to != nil && row.Date.After(*to) {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// Trades returns a copy of every committed trade, of every side (the
// metrics calculator picks out the sells for win_rate).
func (a *Account) Trades() []Trade {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Trade, len(a.trades))
	copy(out, a.trades)
	return out
}
