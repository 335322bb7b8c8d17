package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zillionare-go/backtest/internal/bterrors"
	"github.com/zillionare-go/backtest/internal/feed"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestApplyBuyThenSell_FIFOProfit(t *testing.T) {
	l := New()
	l.ApplyBuy("000001", d(1000), d(10.0), day("2022-03-01"), d(1))

	profit, err := l.ApplySell("000001", d(1000), d(9.92), d(1))
	if err != nil {
		t.Fatal(err)
	}
	want := d(1000).Mul(d(9.92).Sub(d(10.0)))
	if profit.Sub(want).Abs().GreaterThan(d(1e-6)) {
		t.Errorf("profit = %v, want %v", profit, want)
	}
	if l.Holding("000001").Sign() != 0 {
		t.Errorf("expected lot fully consumed, got %v shares", l.Holding("000001"))
	}
}

func TestApplySell_InsufficientShares(t *testing.T) {
	l := New()
	l.ApplyBuy("X", d(100), d(10), day("2022-03-01"), d(1))

	_, err := l.ApplySell("X", d(200), d(10), d(1))
	be, ok := bterrors.As(err)
	if !ok || be.Code != bterrors.PositionShort {
		t.Fatalf("err = %v, want POSITION_SHORT", err)
	}
}

func TestApplySell_FIFOAcrossMultipleLots(t *testing.T) {
	l := New()
	l.ApplyBuy("Y", d(100), d(10), day("2022-03-01"), d(1))
	l.ApplyBuy("Y", d(100), d(12), day("2022-03-02"), d(1))

	profit, err := l.ApplySell("Y", d(150), d(15), d(1))
	if err != nil {
		t.Fatal(err)
	}
	want := d(100).Mul(d(15).Sub(d(10))).Add(d(50).Mul(d(15).Sub(d(12))))
	if profit.Sub(want).Abs().GreaterThan(d(1e-6)) {
		t.Errorf("profit = %v, want %v", profit, want)
	}
	remaining := l.Lots("Y")
	if len(remaining) != 1 || !remaining[0].Shares.Equal(d(50)) {
		t.Fatalf("remaining lots = %+v, want one lot of 50 shares", remaining)
	}
}

func TestMarketValue_FactorRescalingIsSelfConsistent(t *testing.T) {
	// A pure price-rebasing event (no change in held raw shares, only the
	// adjustment factor moves): valuation before and after must be equal,
	// since shares/acquired_factor/price all move through the same formula.
	l := New()
	l.ApplyBuy("Z", d(1000), d(10), day("2022-03-01"), d(1))

	f := feed.NewFixture()
	f.AddBar(feed.Bar{Symbol: "Z", Time: day("2022-03-01").Add(9*time.Hour + 31*time.Minute), Close: d(10), Volume: 1})
	f.SetAdjustFactor("Z", day("2022-03-01"), d(1))
	before, err := l.MarketValue(context.Background(), "Z", day("2022-03-01"), f)
	if err != nil {
		t.Fatal(err)
	}

	f.AddBar(feed.Bar{Symbol: "Z", Time: day("2022-03-02").Add(9*time.Hour + 31*time.Minute), Close: d(5), Volume: 1})
	f.SetAdjustFactor("Z", day("2022-03-02"), d(2))
	after, err := l.MarketValue(context.Background(), "Z", day("2022-03-02"), f)
	if err != nil {
		t.Fatal(err)
	}

	if before.Sub(after).Abs().GreaterThan(d(1e-6)) {
		t.Errorf("before = %v, after = %v, want continuity under adjust_factor rescaling", before, after)
	}
}

func TestApplyStockDividend_AppendsZeroCostLotWithoutTouchingOriginal(t *testing.T) {
	l := New()
	l.ApplyBuy("Z", d(1000), d(10), day("2022-03-01"), d(1))

	l.ApplyStockDividend("Z", d(1000), day("2022-03-02"), d(2))

	lots := l.Lots("Z")
	if len(lots) != 2 {
		t.Fatalf("expected 2 lots after the dividend, got %d", len(lots))
	}
	if !lots[0].Shares.Equal(d(1000)) || !lots[0].CostBasis.Equal(d(10)) {
		t.Errorf("original lot mutated: %+v", lots[0])
	}
	if !lots[1].Shares.Equal(d(1000)) || !lots[1].CostBasis.Equal(decimal.Zero) {
		t.Errorf("synthetic lot wrong: %+v", lots[1])
	}
}

func TestSnapshotAt_SellableExcludesTodayPurchase(t *testing.T) {
	l := New()
	l.ApplyBuy("W", d(100), d(10), day("2022-03-01"), d(1))
	l.ApplyBuy("W", d(50), d(11), day("2022-03-02"), d(1))

	f := feed.NewFixture()
	f.AddBar(feed.Bar{Symbol: "W", Time: day("2022-03-02").Add(9*time.Hour + 31*time.Minute), Close: d(11), Volume: 1})

	snaps, err := l.SnapshotAt(context.Background(), day("2022-03-02"), f)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected one snapshot, got %d", len(snaps))
	}
	if !snaps[0].Sellable.Equal(d(100)) {
		t.Errorf("Sellable = %v, want 100 (today's 50 excluded)", snaps[0].Sellable)
	}
}
