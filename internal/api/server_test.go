package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zillionare-go/backtest/internal/config"
	"github.com/zillionare-go/backtest/internal/feed"
	"github.com/zillionare-go/backtest/internal/registry"
)

func testServer(t *testing.T) (*Server, *feed.Fixture) {
	t.Helper()
	cfg := config.Load()
	cfg.RoutePrefix = "/v0/"
	cfg.AdminToken = "admin-secret"
	f := feed.NewFixture()
	s := NewServer(cfg, registry.New(), f, nil)
	return s, f
}

func doJSON(s *Server, method, target string, body any, token string) *httptest.ResponseRecorder {
	var r *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	} else {
		r = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestStartBacktest_ThenInfo(t *testing.T) {
	s, f := testServer(t)
	f.AddBar(feed.Bar{Symbol: "000001", Time: time.Date(2022, 3, 1, 9, 40, 0, 0, time.UTC), Close: decimal.NewFromInt(10), Volume: 100000})

	rec := doJSON(s, http.MethodPost, "/v0/start_backtest", startBacktestRequest{
		Name: "gina", Principal: "1000000", Commission: "0.0001",
		Start: "2022-03-01", End: "2022-03-31", Token: "tok-gina",
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("start_backtest status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(s, http.MethodGet, "/v0/info", nil, "tok-gina")
	if rec.Code != http.StatusOK {
		t.Fatalf("info status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "success" {
		t.Errorf("status = %q, want success", resp.Status)
	}
}

func TestAuthenticated_RejectsUnknownToken(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(s, http.MethodGet, "/v0/info", nil, "nope")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestBuyThenPositions(t *testing.T) {
	s, f := testServer(t)
	f.AddBar(feed.Bar{Symbol: "000001", Time: time.Date(2022, 3, 1, 9, 40, 0, 0, time.UTC), Close: decimal.NewFromInt(10), Volume: 100000})

	doJSON(s, http.MethodPost, "/v0/start_backtest", startBacktestRequest{
		Name: "hank", Principal: "1000000", Commission: "0.0001",
		Start: "2022-03-01", End: "2022-03-31", Token: "tok-hank",
	}, "")

	rec := doJSON(s, http.MethodPost, "/v0/market_buy", orderRequest{
		Symbol: "000001", Shares: "1000", OrderTime: "2022-03-01T09:40:00Z",
	}, "tok-hank")
	if rec.Code != http.StatusOK {
		t.Fatalf("market_buy status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(s, http.MethodGet, "/v0/positions", nil, "tok-hank")
	if rec.Code != http.StatusOK {
		t.Fatalf("positions status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestDeleteAccounts_AdminTokenDeletesAll(t *testing.T) {
	s, _ := testServer(t)
	doJSON(s, http.MethodPost, "/v0/start_backtest", startBacktestRequest{
		Name: "ivy", Principal: "1000", Commission: "0.0001",
		Start: "2022-03-01", End: "2022-03-31", Token: "tok-ivy",
	}, "")

	rec := doJSON(s, http.MethodPost, "/v0/delete_accounts", deleteAccountsRequest{Token: "admin-secret"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("admin delete_accounts status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(s, http.MethodGet, "/v0/info", nil, "tok-ivy")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected account gone after admin delete_accounts(all), status = %d", rec.Code)
	}
}
