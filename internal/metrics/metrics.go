// Package metrics computes strategy analytics (Sharpe, Sortino, Calmar,
// win rate, max drawdown, total/annualized return) from an account's
// daily assets series, with an optional benchmark comparison computed
// concurrently.
package metrics

import (
	"context"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zillionare-go/backtest/internal/account"
	"github.com/zillionare-go/backtest/internal/feed"
)

// Report is the full metrics response.
type Report struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Sharpe           float64 `json:"sharpe"`
	Sortino          float64 `json:"sortino"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	Calmar           float64 `json:"calmar"`
	WinRate          float64 `json:"win_rate"`

	Benchmark *Report `json:"benchmark,omitempty"`
}

// Params carries the two config-driven constants the analytics need:
// trading days per year and the daily risk-free rate.
type Params struct {
	TradingDaysPerYear float64
	DailyRiskFreeRate  float64
}

// Compute builds a Report from an account's daily assets table. If
// benchmark is non-empty, its series is fetched and scored concurrently
// via errgroup.
func Compute(ctx context.Context, acct *account.Account, f feed.Feed, benchmark string, p Params) (Report, error) {
	info := acct.Info()
	principal, _ := info.Principal.Float64()

	g, gctx := errgroup.WithContext(ctx)
	var report, benchReport Report
	g.Go(func() error {
		report = fromAssetSeries(acct.Assets(nil, nil), acct.Trades(), principal, p)
		return nil
	})
	if benchmark != "" {
		g.Go(func() error {
			series, err := benchmarkSeries(gctx, f, benchmark, info.StartDate, info.EndDate)
			if err != nil {
				return err
			}
			if len(series) > 0 {
				benchReport = fromValueSeries(series, series[0], p)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	if benchmark != "" {
		report.Benchmark = &benchReport
	}
	return report, nil
}

func fromAssetSeries(rows []account.AssetRow, trades []account.Trade, principal float64, p Params) Report {
	values := make([]float64, len(rows))
	for i, r := range rows {
		total, _ := r.Total.Float64()
		values[i] = total
	}
	report := fromValueSeries(values, principal, p)
	report.WinRate = winRate(trades)
	return report
}

func winRate(trades []account.Trade) float64 {
	var sells, wins int
	for _, tr := range trades {
		if !tr.Side.IsSellSide() {
			continue
		}
		sells++
		if tr.EventualProfit.IsPositive() {
			wins++
		}
	}
	if sells == 0 {
		return 0
	}
	return float64(wins) / float64(sells)
}

// fromValueSeries scores a value series against baseline (principal for
// the account's own series, the series' own first value for a benchmark).
func fromValueSeries(values []float64, baseline float64, p Params) Report {
	if len(values) < 2 || baseline == 0 {
		return Report{}
	}

	n := len(values)
	totalReturn := values[n-1]/baseline - 1
	annualized := math.Pow(1+totalReturn, p.TradingDaysPerYear/float64(n)) - 1

	returns := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if values[i-1] == 0 {
			continue
		}
		returns = append(returns, values[i]/values[i-1]-1)
	}

	mu := mean(returns)
	sigma := math.Sqrt(variance(returns))
	var negatives []float64
	for _, r := range returns {
		if r < 0 {
			negatives = append(negatives, r)
		}
	}
	downside := math.Sqrt(variance(negatives))

	var sharpe, sortino float64
	if sigma > 0 {
		sharpe = (mu - p.DailyRiskFreeRate) / sigma * math.Sqrt(p.TradingDaysPerYear)
	}
	if downside > 0 {
		sortino = (mu - p.DailyRiskFreeRate) / downside * math.Sqrt(p.TradingDaysPerYear)
	}

	maxDD := maxDrawdown(values)
	var calmar float64
	if maxDD != 0 {
		calmar = annualized / math.Abs(maxDD)
	}

	return Report{
		TotalReturn:      totalReturn,
		AnnualizedReturn: annualized,
		Sharpe:           sharpe,
		Sortino:          sortino,
		MaxDrawdown:      maxDD,
		Calmar:           calmar,
	}
}

// maxDrawdown returns the deepest peak-to-trough decline, as a negative
// fraction of the running peak.
func maxDrawdown(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	peak := values[0]
	worst := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		dd := v/peak - 1
		if dd < worst {
			worst = dd
		}
	}
	return worst
}

func mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}

func variance(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	mu := mean(x)
	var sum float64
	for _, v := range x {
		d := v - mu
		sum += d * d
	}
	return sum / float64(len(x)-1)
}

// benchmarkSeries fetches a benchmark symbol's adjusted close over
// [start, end].
func benchmarkSeries(ctx context.Context, f feed.Feed, symbol string, start, end time.Time) ([]float64, error) {
	days, err := f.TradingDays(ctx, start, end)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(days))
	for _, d := range days {
		close, ok, err := f.Close(ctx, symbol, d)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		factor, err := f.AdjustFactor(ctx, symbol, d)
		if err != nil {
			return nil, err
		}
		adj := close.Mul(factor)
		v, _ := adj.Float64()
		out = append(out, v)
	}
	return out, nil
}
