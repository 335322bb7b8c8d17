package matcher

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zillionare-go/backtest/internal/bterrors"
	"github.com/zillionare-go/backtest/internal/feed"
)

func mt(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestMatch_HappyBuy(t *testing.T) {
	f := feed.NewFixture()
	f.AddBar(feed.Bar{Symbol: "000001", Time: mt("2022-03-01 09:40"), Open: dec(9.75), Close: dec(9.80), Volume: 100000})

	limit := dec(10.0)
	fill, err := Match(context.Background(), Request{
		Symbol: "000001", Side: Buy, LimitPrice: &limit,
		Shares: dec(1000), OrderTime: mt("2022-03-01 09:40"),
	}, f)
	if err != nil {
		t.Fatal(err)
	}
	if fill.Outcome != Filled {
		t.Errorf("Outcome = %v, want FILLED", fill.Outcome)
	}
	if !fill.Price.Equal(dec(9.80)) {
		t.Errorf("Price = %v, want 9.80", fill.Price)
	}
	if !fill.Shares.Equal(dec(1000)) {
		t.Errorf("Shares = %v, want 1000", fill.Shares)
	}
}

func TestMatch_PartialFillWeightedAverage(t *testing.T) {
	f := feed.NewFixture()
	base := mt("2022-03-01 09:31")
	f.AddBar(feed.Bar{Symbol: "X", Time: base, Open: dec(9.9), Close: dec(9.9), Volume: 3000})
	f.AddBar(feed.Bar{Symbol: "X", Time: base.Add(time.Minute), Close: dec(9.95), Volume: 4000})
	f.AddBar(feed.Bar{Symbol: "X", Time: base.Add(2 * time.Minute), Close: dec(10.01), Volume: 1 << 20})

	limit := dec(10.0)
	fill, err := Match(context.Background(), Request{
		Symbol: "X", Side: Buy, LimitPrice: &limit,
		Shares: dec(10000), OrderTime: base,
	}, f)
	if err != nil {
		t.Fatal(err)
	}
	if fill.Outcome != Partial {
		t.Errorf("Outcome = %v, want PARTIAL", fill.Outcome)
	}
	if !fill.Shares.Equal(dec(7000)) {
		t.Errorf("Shares = %v, want 7000", fill.Shares)
	}
	wantAvg := dec(9.9).Mul(dec(3000)).Add(dec(9.95).Mul(dec(4000))).Div(dec(7000))
	if fill.Price.Sub(wantAvg).Abs().GreaterThan(decimal.NewFromFloat(1e-6)) {
		t.Errorf("Price = %v, want %v", fill.Price, wantAvg)
	}
}

func TestMatch_OpenSubstitutionAt0931(t *testing.T) {
	f := feed.NewFixture()
	barTime := mt("2022-03-02 09:31")
	f.AddBar(feed.Bar{Symbol: "Y", Time: barTime, Open: dec(11.0), Close: dec(11.5), Volume: 5000})

	fill, err := Match(context.Background(), Request{
		Symbol: "Y", Side: MarketBuy,
		Shares: dec(100), OrderTime: mt("2022-03-02 09:29"),
	}, f)
	if err != nil {
		t.Fatal(err)
	}
	if !fill.Price.Equal(dec(11.0)) {
		t.Errorf("Price = %v, want open price 11.0", fill.Price)
	}
}

func TestMatch_PriceLimitBarSkipped(t *testing.T) {
	f := feed.NewFixture()
	day := mt("2022-03-03 00:00")
	f.SetPriceLimits("Z", day, feed.PriceLimits{Upper: dec(11.0), Lower: dec(9.0)})
	f.AddBar(feed.Bar{Symbol: "Z", Time: mt("2022-03-03 09:31"), Open: dec(11.0), Close: dec(11.0), Volume: 9999})
	f.AddBar(feed.Bar{Symbol: "Z", Time: mt("2022-03-03 09:32"), Close: dec(10.5), Volume: 9999})

	fill, err := Match(context.Background(), Request{
		Symbol: "Z", Side: MarketBuy,
		Shares: dec(100), OrderTime: mt("2022-03-03 09:31"),
	}, f)
	if err != nil {
		t.Fatal(err)
	}
	if !fill.Price.Equal(dec(10.5)) {
		t.Errorf("Price = %v, want 10.5 (limit-up bar skipped)", fill.Price)
	}
}

func TestMatch_VolumeNotEnoughRejectsOrder(t *testing.T) {
	f := feed.NewFixture()
	f.AddBar(feed.Bar{Symbol: "W", Time: mt("2022-03-04 09:31"), Close: dec(10.0), Volume: 0})

	_, err := Match(context.Background(), Request{
		Symbol: "W", Side: MarketBuy,
		Shares: dec(100), OrderTime: mt("2022-03-04 09:31"),
	}, f)
	be, ok := bterrors.As(err)
	if !ok || be.Code != bterrors.VolumeNotEnough {
		t.Fatalf("err = %v, want VOLUME_NOT_ENOUGH", err)
	}
}

func TestMatch_NoMatch(t *testing.T) {
	f := feed.NewFixture()
	f.AddBar(feed.Bar{Symbol: "V", Time: mt("2022-03-05 09:31"), Open: dec(20.0), Close: dec(20.0), Volume: 1000})

	limit := dec(10.0)
	fill, err := Match(context.Background(), Request{
		Symbol: "V", Side: Buy, LimitPrice: &limit,
		Shares: dec(100), OrderTime: mt("2022-03-05 09:31"),
	}, f)
	if err != nil {
		t.Fatal(err)
	}
	if fill.Outcome != NoMatch {
		t.Errorf("Outcome = %v, want NO_MATCH", fill.Outcome)
	}
}
