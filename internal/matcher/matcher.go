// Package matcher implements the stateless order-matching algorithm:
// turning a limit/market buy or sell plus a requested share count into
// zero-or-more partial fills against a sequence of minute bars, respecting
// price-limit bans, the 9:31 open-price special case, and a
// weighted-average fill price.
package matcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zillionare-go/backtest/internal/bterrors"
	"github.com/zillionare-go/backtest/internal/feed"
)

// Side is the order side/type, including the synthetic XDXR side used for
// corporate-action trades.
type Side string

const (
	Buy         Side = "BUY"
	Sell        Side = "SELL"
	MarketBuy   Side = "MARKET_BUY"
	MarketSell  Side = "MARKET_SELL"
	SellPercent Side = "SELL_PERCENT"
	XDXR        Side = "XDXR"
)

// IsBuySide reports whether side represents a buy-direction order.
func (s Side) IsBuySide() bool { return s == Buy || s == MarketBuy }

// IsSellSide reports whether side represents a sell-direction order.
func (s Side) IsSellSide() bool { return s == Sell || s == MarketSell || s == SellPercent }

// Outcome classifies how much of the requested quantity matched.
type Outcome string

const (
	Filled  Outcome = "FILLED"
	Partial Outcome = "PARTIAL"
	NoMatch Outcome = "NO_MATCH"
)

// Request is the Matcher's input: a single order instruction plus the
// point in time it was submitted.
type Request struct {
	Symbol     string
	Side       Side
	LimitPrice *decimal.Decimal // nil for market orders
	Shares     decimal.Decimal  // requested quantity, already resolved to a share count
	OrderTime  time.Time
}

// Fill is the Matcher's output: the result of walking the bar stream.
type Fill struct {
	Outcome  Outcome
	Shares   decimal.Decimal
	Price    decimal.Decimal // weighted average across matched bars
	FillTime time.Time
}

// openCutoffHour/Minute is the 9:31 open-substitution boundary.
const openCutoffHour = 9
const openCutoffMinute = 31

func atOrBeforeOpenCutoff(t time.Time) bool {
	h, m, _ := t.Clock()
	if h < openCutoffHour {
		return true
	}
	return h == openCutoffHour && m <= openCutoffMinute
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Match runs the matching algorithm against f's bar stream for req.Symbol
// starting at req.OrderTime.
func Match(ctx context.Context, req Request, f feed.Feed) (Fill, error) {
	stream, err := f.Bars(ctx, req.Symbol, req.OrderTime, feed.Minute)
	if err != nil {
		return Fill{}, err
	}

	isBuy := req.Side.IsBuySide()
	isSell := req.Side.IsSellSide()

	var totalShares, totalCost decimal.Decimal
	remaining := req.Shares
	first := true
	useOpenSubstitution := atOrBeforeOpenCutoff(req.OrderTime)
	var lastBarTime time.Time

	for remaining.IsPositive() {
		bar, ok, err := stream.Next(ctx)
		if err != nil {
			return Fill{}, err
		}
		if !ok {
			break
		}

		limits, err := f.PriceLimits(ctx, req.Symbol, dateOf(bar.Time))
		if err != nil {
			return Fill{}, err
		}

		price := bar.Close
		if first && useOpenSubstitution {
			price = bar.Open
		}
		first = false

		// A bar pinned at the daily limit band is one-sided and unfillable.
		if isBuy && price.Equal(limits.Upper) {
			continue
		}
		if isSell && price.Equal(limits.Lower) {
			continue
		}

		// Limit price filter, disabled for market orders.
		if req.LimitPrice != nil {
			if isBuy && price.GreaterThan(*req.LimitPrice) {
				continue
			}
			if isSell && price.LessThan(*req.LimitPrice) {
				continue
			}
		}

		// A matching bar with zero reported volume rejects the whole order.
		if bar.Volume == 0 {
			return Fill{}, bterrors.TradeRejected(bterrors.VolumeNotEnough,
				"bar price matched but reported zero volume")
		}

		take := remaining
		barVolume := decimal.NewFromInt(bar.Volume)
		if barVolume.LessThan(take) {
			take = barVolume
		}

		totalShares = totalShares.Add(take)
		totalCost = totalCost.Add(take.Mul(price))
		remaining = remaining.Sub(take)
		lastBarTime = bar.Time
	}

	if totalShares.IsZero() {
		return Fill{Outcome: NoMatch}, nil
	}

	outcome := Filled
	if remaining.IsPositive() {
		outcome = Partial
	}

	return Fill{
		Outcome:  outcome,
		Shares:   totalShares,
		Price:    totalCost.Div(totalShares),
		FillTime: lastBarTime,
	}, nil
}
