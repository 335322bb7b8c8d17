package xdxr

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zillionare-go/backtest/internal/feed"
	"github.com/zillionare-go/backtest/internal/ledger"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestAdvance_CashDividend(t *testing.T) {
	l := ledger.New()
	l.ApplyBuy("000001", d(1000), d(10), day("2022-03-01"), d(1))

	f := feed.NewFixture()
	f.SetTradingDays([]time.Time{day("2022-03-02"), day("2022-03-03")})
	f.AddDividend("000001", feed.DividendEvent{Date: day("2022-03-02"), CashPerShare: d(0.5)})

	events, err := Advance(context.Background(), l, f, day("2022-03-01"), day("2022-03-03"))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if !events[0].CashDelta.Equal(d(500)) {
		t.Errorf("CashDelta = %v, want 500", events[0].CashDelta)
	}
	if !events[0].SharesDelta.IsZero() {
		t.Errorf("SharesDelta = %v, want 0", events[0].SharesDelta)
	}
	if l.Holding("000001").Sign() == 0 || !l.Holding("000001").Equal(d(1000)) {
		t.Errorf("raw shares mutated by a cash-only dividend: %v", l.Holding("000001"))
	}
}

func TestAdvance_StockDividendAppendsLot(t *testing.T) {
	l := ledger.New()
	l.ApplyBuy("X", d(1000), d(10), day("2022-03-01"), d(1))

	f := feed.NewFixture()
	f.SetTradingDays([]time.Time{day("2022-03-02")})
	f.AddDividend("X", feed.DividendEvent{Date: day("2022-03-02"), ShareRatio: d(1.0)})
	f.SetAdjustFactor("X", day("2022-03-02"), d(2))

	events, err := Advance(context.Background(), l, f, day("2022-03-01"), day("2022-03-02"))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || !events[0].SharesDelta.Equal(d(1000)) {
		t.Fatalf("events = %+v, want one event with SharesDelta=1000", events)
	}
	if !l.Holding("X").Equal(d(2000)) {
		t.Errorf("Holding = %v, want 2000 after the stock dividend", l.Holding("X"))
	}
}

func TestAdvance_NoEventsWhenFromEqualsTo(t *testing.T) {
	l := ledger.New()
	f := feed.NewFixture()
	events, err := Advance(context.Background(), l, f, day("2022-03-01"), day("2022-03-01"))
	if err != nil {
		t.Fatal(err)
	}
	if events != nil {
		t.Errorf("expected no events, got %+v", events)
	}
}
