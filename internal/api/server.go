// Package api implements the HTTP transport: a net/http.ServeMux server
// routing the endpoint table under a configurable prefix, bearer-token
// authentication resolving to exactly one Account via the Registry, and
// JSON envelope responses.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"github.com/zillionare-go/backtest/internal/account"
	"github.com/zillionare-go/backtest/internal/bterrors"
	"github.com/zillionare-go/backtest/internal/config"
	"github.com/zillionare-go/backtest/internal/feed"
	"github.com/zillionare-go/backtest/internal/logger"
	"github.com/zillionare-go/backtest/internal/matcher"
	"github.com/zillionare-go/backtest/internal/metrics"
	"github.com/zillionare-go/backtest/internal/registry"
	"github.com/zillionare-go/backtest/internal/store"
)

// Server wires the Registry, Feed, and persistence store behind the
// HTTP surface.
type Server struct {
	cfg      *config.Config
	registry *registry.Registry
	feed     feed.Feed
	store    *store.Store
	mux      *http.ServeMux
}

type contextKey string

const accountContextKey contextKey = "account"

// NewServer builds a Server and registers every route under cfg.RoutePrefix.
func NewServer(cfg *config.Config, reg *registry.Registry, f feed.Feed, st *store.Store) *Server {
	s := &Server{cfg: cfg, registry: reg, feed: f, store: st, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	p := s.cfg.RoutePrefix

	s.mux.HandleFunc("POST "+p+"start_backtest", s.handleStartBacktest)
	s.mux.HandleFunc("POST "+p+"delete_accounts", s.handleDeleteAccounts)

	s.mux.HandleFunc("POST "+p+"buy", s.authenticated(s.handleBuy))
	s.mux.HandleFunc("POST "+p+"market_buy", s.authenticated(s.handleMarketBuy))
	s.mux.HandleFunc("POST "+p+"sell", s.authenticated(s.handleSell))
	s.mux.HandleFunc("POST "+p+"market_sell", s.authenticated(s.handleMarketSell))
	s.mux.HandleFunc("POST "+p+"sell_percent", s.authenticated(s.handleSellPercent))

	s.mux.HandleFunc("GET "+p+"info", s.authenticated(s.handleInfo))
	s.mux.HandleFunc("GET "+p+"positions", s.authenticated(s.handlePositions))
	s.mux.HandleFunc("GET "+p+"bills", s.authenticated(s.handleBills))
	s.mux.HandleFunc("GET "+p+"get_assets", s.authenticated(s.handleGetAssets))
	s.mux.HandleFunc("POST "+p+"metrics", s.authenticated(s.handleMetrics))
	s.mux.HandleFunc("POST "+p+"stop_backtest", s.authenticated(s.handleStopBacktest))

	s.mux.HandleFunc("POST "+p+"save_backtest", s.authenticated(s.handleSaveBacktest))
	s.mux.HandleFunc("POST "+p+"load_backtest", s.handleLoadBacktest)
}

// authenticated resolves the bearer token to an Account and stores it in
// the request context.
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		acct, err := s.registry.Lookup(token)
		if err != nil {
			writeErr(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), accountContextKey, acct)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

func accountFromContext(r *http.Request) *account.Account {
	acct, _ := r.Context().Value(accountContextKey).(*account.Account)
	return acct
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(tok)
	}
	return r.URL.Query().Get("token")
}

type envelope struct {
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

func writeOK(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(envelope{Status: "success", Payload: payload})
}

func writeErr(w http.ResponseWriter, err error) {
	be, ok := bterrors.As(err)
	if !ok {
		be = bterrors.InfraErr(bterrors.Persistence, err.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(be.Kind))
	json.NewEncoder(w).Encode(envelope{Status: "failed", Code: string(be.Code), Message: be.Message})
	logger.Warn("API", string(be.Code)+": "+be.Message)
}

func statusFor(kind bterrors.Kind) int {
	switch kind {
	case bterrors.KindBadParameter:
		return http.StatusBadRequest
	case bterrors.KindTradeRejected:
		return http.StatusConflict
	case bterrors.KindAccountError:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return bterrors.BadParameter(bterrors.BadDatetime, "malformed request body: "+err.Error())
	}
	return nil
}

func parseOrderTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, bterrors.BadParameter(bterrors.BadDatetime, "order_time must be ISO-8601: "+err.Error())
	}
	return t, nil
}

func parseDecimalField(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, bterrors.BadParameter(bterrors.BadDatetime, "invalid number: "+s)
	}
	return d, nil
}

// --- start_backtest / delete_accounts ---

type startBacktestRequest struct {
	Name       string `json:"name"`
	Principal  string `json:"principal"`
	Commission string `json:"commission"`
	Start      string `json:"start"`
	End        string `json:"end"`
	Token      string `json:"token"`
}

func (s *Server) handleStartBacktest(w http.ResponseWriter, r *http.Request) {
	var req startBacktestRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	principal, err := parseDecimalField(req.Principal)
	if err != nil {
		writeErr(w, err)
		return
	}
	commission, err := parseDecimalField(req.Commission)
	if err != nil {
		writeErr(w, err)
		return
	}
	if req.Commission == "" {
		commission = decimal.NewFromFloat(s.cfg.DefaultCommission)
	}
	start, err := time.Parse("2006-01-02", req.Start)
	if err != nil {
		writeErr(w, bterrors.BadParameter(bterrors.BadDatetime, "invalid start date"))
		return
	}
	end, err := time.Parse("2006-01-02", req.End)
	if err != nil {
		writeErr(w, bterrors.BadParameter(bterrors.BadDatetime, "invalid end date"))
		return
	}

	acct := account.New(req.Name, req.Token, principal, commission, start, end)
	if err := s.registry.Create(acct); err != nil {
		writeErr(w, err)
		return
	}
	logger.Success("API", "started backtest "+req.Name+" with principal "+humanize.Comma(principal.IntPart()))
	writeOK(w, map[string]any{"name": req.Name, "token": req.Token})
}

type deleteAccountsRequest struct {
	Token string `json:"token"`
	Name  string `json:"name"`
}

func (s *Server) handleDeleteAccounts(w http.ResponseWriter, r *http.Request) {
	var req deleteAccountsRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	if s.cfg.AdminToken != "" && req.Token == s.cfg.AdminToken {
		if req.Name == "" {
			s.registry.DeleteAll()
			writeOK(w, map[string]any{"deleted": "all"})
			return
		}
		if err := s.registry.Delete(req.Name); err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, map[string]any{"deleted": req.Name})
		return
	}

	acct, err := s.registry.Lookup(req.Token)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.registry.Delete(acct.Name); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"deleted": acct.Name})
}

// --- trading endpoints ---

type orderRequest struct {
	Symbol    string `json:"symbol"`
	Shares    string `json:"shares"`
	Price     string `json:"price"`
	OrderTime string `json:"order_time"`
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request)  { s.handleOrder(w, r, false, false) }
func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) { s.handleOrder(w, r, true, false) }
func (s *Server) handleMarketBuy(w http.ResponseWriter, r *http.Request) {
	s.handleOrder(w, r, false, true)
}
func (s *Server) handleMarketSell(w http.ResponseWriter, r *http.Request) {
	s.handleOrder(w, r, true, true)
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request, sell, market bool) {
	acct := accountFromContext(r)
	var req orderRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	shares, err := parseDecimalField(req.Shares)
	if err != nil {
		writeErr(w, err)
		return
	}
	orderTime, err := parseOrderTime(req.OrderTime)
	if err != nil {
		writeErr(w, err)
		return
	}
	var limitPrice *decimal.Decimal
	if req.Price != "" {
		p, err := parseDecimalField(req.Price)
		if err != nil {
			writeErr(w, err)
			return
		}
		limitPrice = &p
	}

	var entrust account.Entrust
	var trades []account.Trade
	if sell {
		side := matcher.Sell
		if market {
			side = matcher.MarketSell
		}
		entrust, trades, err = acct.Sell(r.Context(), s.feed, req.Symbol, shares, limitPrice, orderTime, side)
	} else {
		entrust, trades, err = acct.Buy(r.Context(), s.feed, req.Symbol, shares, limitPrice, orderTime, market)
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"entrust": entrust, "trades": trades})
}

func (s *Server) handleSellPercent(w http.ResponseWriter, r *http.Request) {
	acct := accountFromContext(r)
	var req orderRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	pct, err := parseDecimalField(req.Shares)
	if err != nil {
		writeErr(w, err)
		return
	}
	orderTime, err := parseOrderTime(req.OrderTime)
	if err != nil {
		writeErr(w, err)
		return
	}

	entrust, trades, err := acct.Sell(r.Context(), s.feed, req.Symbol, pct, nil, orderTime, matcher.SellPercent)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"entrust": entrust, "trades": trades})
}

// --- read endpoints ---

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	acct := accountFromContext(r)
	writeOK(w, acct.Info())
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	acct := accountFromContext(r)
	date := time.Now()
	if q := r.URL.Query().Get("date"); q != "" {
		if t, err := time.Parse("2006-01-02", q); err == nil {
			date = t
		}
	}
	snaps, err := acct.Positions(r.Context(), s.feed, date)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, snaps)
}

func parseOptionalDate(r *http.Request, param string) *time.Time {
	q := r.URL.Query().Get(param)
	if q == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", q)
	if err != nil {
		return nil
	}
	return &t
}

func (s *Server) handleBills(w http.ResponseWriter, r *http.Request) {
	acct := accountFromContext(r)
	from := parseOptionalDate(r, "from")
	to := parseOptionalDate(r, "to")
	writeOK(w, acct.Bills(from, to))
}

func (s *Server) handleGetAssets(w http.ResponseWriter, r *http.Request) {
	acct := accountFromContext(r)
	from := parseOptionalDate(r, "from")
	to := parseOptionalDate(r, "to")
	writeOK(w, acct.Assets(from, to))
}

type metricsRequest struct {
	Benchmark string `json:"benchmark"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	acct := accountFromContext(r)
	var req metricsRequest
	_ = decodeBody(r, &req) // benchmark is optional; an empty/absent body is fine

	report, err := metrics.Compute(r.Context(), acct, s.feed, req.Benchmark, metrics.Params{
		TradingDaysPerYear: float64(s.cfg.TradingDaysPerYear),
		DailyRiskFreeRate:  s.cfg.DailyRiskFreeRate(),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, report)
}

func (s *Server) handleStopBacktest(w http.ResponseWriter, r *http.Request) {
	acct := accountFromContext(r)
	if err := acct.Stop(r.Context(), s.feed); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"stopped": acct.Info().Name})
}

// --- persistence endpoints ---

type saveBacktestRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleSaveBacktest(w http.ResponseWriter, r *http.Request) {
	acct := accountFromContext(r)
	var req saveBacktestRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	name := req.Name
	if name == "" {
		name = acct.Info().Name
	}
	if err := s.store.Save(name, req.Description, acct); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"saved": name})
}

type loadBacktestRequest struct {
	Token string `json:"token"`
	Name  string `json:"name"`
}

func (s *Server) handleLoadBacktest(w http.ResponseWriter, r *http.Request) {
	var req loadBacktestRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	acct, description, err := s.store.Load(req.Name)
	if err != nil {
		writeErr(w, err)
		return
	}
	acct.Token = req.Token
	s.registry.Replace(acct)
	writeOK(w, map[string]any{"name": req.Name, "description": description})
}
