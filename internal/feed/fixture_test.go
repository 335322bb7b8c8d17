package feed

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func mustTime(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestFixture_BarsFromStart(t *testing.T) {
	f := NewFixture()
	f.AddBar(Bar{Symbol: "000001", Time: mustTime("2022-03-01 09:31"), Close: decimal.NewFromFloat(9.8), Volume: 1000})
	f.AddBar(Bar{Symbol: "000001", Time: mustTime("2022-03-01 09:32"), Close: decimal.NewFromFloat(9.9), Volume: 1000})

	stream, err := f.Bars(context.Background(), "000001", mustTime("2022-03-01 09:32"), Minute)
	if err != nil {
		t.Fatal(err)
	}
	bar, ok, err := stream.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected a bar, err=%v ok=%v", err, ok)
	}
	if !bar.Close.Equal(decimal.NewFromFloat(9.9)) {
		t.Errorf("Close = %v, want 9.9", bar.Close)
	}
	_, ok, _ = stream.Next(context.Background())
	if ok {
		t.Error("expected stream exhausted")
	}
}

func TestFixture_CloseNotOKWhenSuspended(t *testing.T) {
	f := NewFixture()
	f.SetSuspended("000002", mustTime("2022-03-02 00:00"), true)
	_, ok, err := f.Close(context.Background(), "000002", mustTime("2022-03-02 00:00"))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected ok=false for a suspended symbol")
	}
}

func TestFixture_AdjustFactorDefaultsToOne(t *testing.T) {
	f := NewFixture()
	factor, err := f.AdjustFactor(context.Background(), "000001", mustTime("2022-03-01 00:00"))
	if err != nil {
		t.Fatal(err)
	}
	if !factor.Equal(decimal.NewFromInt(1)) {
		t.Errorf("factor = %v, want 1", factor)
	}
}
