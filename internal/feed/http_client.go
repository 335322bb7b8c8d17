package feed

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/zillionare-go/backtest/internal/bterrors"
	"github.com/zillionare-go/backtest/internal/logger"
)

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

const (
	maxRetries    = 3
	retryBaseWait = 250 * time.Millisecond
)

// HTTPClient is a rate-limited HTTP Feed implementation fronting an
// external market-data service: a bounded semaphore, exponential-backoff
// retries on transient status codes, and a tuned transport for
// high-concurrency reuse. Identical requests in flight (same symbol+range)
// are collapsed with singleflight so a burst of orders against one account
// never doubles up feed traffic.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	sem     chan struct{}
	group   singleflight.Group
}

// NewHTTPClient builds a Feed backed by an HTTP market-data service at baseURL.
func NewHTTPClient(baseURL string) *HTTPClient {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 50,
		IdleConnTimeout:     120 * time.Second,
	}
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second, Transport: transport},
		sem:     make(chan struct{}, 25),
	}
}

func isRetryable(status int) bool {
	return status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, query url.Values, dst any) error {
	key := path + "?" + query.Encode()
	v, err, _ := c.group.Do(key, func() (any, error) {
		var raw json.RawMessage
		if err := c.getJSONUncollapsed(ctx, path, query, &raw); err != nil {
			return nil, err
		}
		return raw, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(v.(json.RawMessage), dst)
}

func (c *HTTPClient) getJSONUncollapsed(ctx context.Context, path string, query url.Values, dst any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBaseWait * time.Duration(1<<(attempt-1))):
			case <-ctx.Done():
				return bterrors.InfraErr(bterrors.FeedTimeout, ctx.Err().Error())
			}
		}

		select {
		case c.sem <- struct{}{}:
		case <-ctx.Done():
			return bterrors.InfraErr(bterrors.FeedTimeout, ctx.Err().Error())
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			<-c.sem
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			<-c.sem
			if ctx.Err() != nil {
				return bterrors.InfraErr(bterrors.FeedTimeout, err.Error())
			}
			lastErr = err
			logger.Warn("Feed", fmt.Sprintf("request failed (attempt %d/%d): %v", attempt+1, maxRetries+1, err))
			continue
		}

		if resp.StatusCode == http.StatusOK {
			decErr := json.NewDecoder(resp.Body).Decode(dst)
			resp.Body.Close()
			<-c.sem
			return decErr
		}
		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			<-c.sem
			return bterrors.InfraErr(bterrors.FeedDataMissing, "feed returned 404 for "+reqURL)
		}

		resp.Body.Close()
		<-c.sem
		lastErr = fmt.Errorf("feed %d: %s", resp.StatusCode, reqURL)
		if !isRetryable(resp.StatusCode) {
			return lastErr
		}
		logger.Warn("Feed", fmt.Sprintf("retryable status %d (attempt %d/%d): %s", resp.StatusCode, attempt+1, maxRetries+1, reqURL))
	}
	return lastErr
}

type wireBar struct {
	Time   string `json:"time"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume int64  `json:"volume"`
}

// Bars opens an HTTP-backed lazy bar stream. Pages are fetched on demand
// as Next is called, never all at once, matching the "lazy" contract.
func (c *HTTPClient) Bars(ctx context.Context, symbol string, start time.Time, frame Frame) (BarStream, error) {
	return &httpBarStream{client: c, symbol: symbol, cursor: start, frame: frame}, nil
}

type httpBarStream struct {
	client *HTTPClient
	symbol string
	cursor time.Time
	frame  Frame
	buf    []Bar
	pos    int
	done   bool
}

const barPageSize = 500

func (s *httpBarStream) refill(ctx context.Context) error {
	query := url.Values{
		"symbol": {s.symbol},
		"start":  {s.cursor.Format(time.RFC3339)},
		"frame":  {string(s.frame)},
		"limit":  {strconv.Itoa(barPageSize)},
	}
	var wire []wireBar
	if err := s.client.getJSON(ctx, "/bars", query, &wire); err != nil {
		return err
	}
	if len(wire) == 0 {
		s.done = true
		return nil
	}
	s.buf = make([]Bar, 0, len(wire))
	for _, b := range wire {
		t, err := time.Parse(time.RFC3339, b.Time)
		if err != nil {
			continue
		}
		s.buf = append(s.buf, Bar{
			Symbol: s.symbol,
			Time:   t,
			Open:   mustDecimal(b.Open),
			High:   mustDecimal(b.High),
			Low:    mustDecimal(b.Low),
			Close:  mustDecimal(b.Close),
			Volume: b.Volume,
		})
	}
	s.pos = 0
	if len(s.buf) < barPageSize {
		s.done = true
	} else {
		s.cursor = s.buf[len(s.buf)-1].Time.Add(time.Minute)
	}
	return nil
}

func (s *httpBarStream) Next(ctx context.Context) (Bar, bool, error) {
	if s.pos >= len(s.buf) {
		if s.done {
			return Bar{}, false, nil
		}
		if err := s.refill(ctx); err != nil {
			return Bar{}, false, err
		}
		if s.pos >= len(s.buf) {
			return Bar{}, false, nil
		}
	}
	bar := s.buf[s.pos]
	s.pos++
	return bar, true, nil
}

func (c *HTTPClient) PriceLimits(ctx context.Context, symbol string, date time.Time) (PriceLimits, error) {
	var wire struct {
		Upper string `json:"upper"`
		Lower string `json:"lower"`
	}
	query := url.Values{"symbol": {symbol}, "date": {date.Format("2006-01-02")}}
	if err := c.getJSON(ctx, "/price-limits", query, &wire); err != nil {
		return PriceLimits{}, err
	}
	return PriceLimits{Upper: mustDecimal(wire.Upper), Lower: mustDecimal(wire.Lower)}, nil
}

func (c *HTTPClient) Close(ctx context.Context, symbol string, date time.Time) (decimal.Decimal, bool, error) {
	var wire struct {
		Close string `json:"close"`
		OK    bool   `json:"ok"`
	}
	query := url.Values{"symbol": {symbol}, "date": {date.Format("2006-01-02")}}
	if err := c.getJSON(ctx, "/close", query, &wire); err != nil {
		return decimal.Decimal{}, false, err
	}
	if !wire.OK {
		return decimal.Decimal{}, false, nil
	}
	return mustDecimal(wire.Close), true, nil
}

func (c *HTTPClient) Dividends(ctx context.Context, symbol string, start, end time.Time) ([]DividendEvent, error) {
	var wire []struct {
		Date          string `json:"date"`
		CashPerShare  string `json:"cash_per_share"`
		ShareRatio    string `json:"share_ratio"`
		NewShareRatio string `json:"new_share_ratio"`
	}
	query := url.Values{
		"symbol": {symbol},
		"start":  {start.Format("2006-01-02")},
		"end":    {end.Format("2006-01-02")},
	}
	if err := c.getJSON(ctx, "/dividends", query, &wire); err != nil {
		return nil, err
	}
	events := make([]DividendEvent, 0, len(wire))
	for _, w := range wire {
		d, err := time.Parse("2006-01-02", w.Date)
		if err != nil {
			continue
		}
		events = append(events, DividendEvent{
			Date:          d,
			CashPerShare:  mustDecimal(w.CashPerShare),
			ShareRatio:    mustDecimal(w.ShareRatio),
			NewShareRatio: mustDecimal(w.NewShareRatio),
		})
	}
	return events, nil
}

func (c *HTTPClient) AdjustFactor(ctx context.Context, symbol string, date time.Time) (decimal.Decimal, error) {
	var wire struct {
		Factor string `json:"factor"`
	}
	query := url.Values{"symbol": {symbol}, "date": {date.Format("2006-01-02")}}
	if err := c.getJSON(ctx, "/adjust-factor", query, &wire); err != nil {
		return decimal.Decimal{}, err
	}
	return mustDecimal(wire.Factor), nil
}

func (c *HTTPClient) TradingDays(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	var wire []string
	query := url.Values{"start": {start.Format("2006-01-02")}, "end": {end.Format("2006-01-02")}}
	if err := c.getJSON(ctx, "/trading-days", query, &wire); err != nil {
		return nil, err
	}
	days := make([]time.Time, 0, len(wire))
	for _, s := range wire {
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			continue
		}
		days = append(days, d)
	}
	return days, nil
}

func (c *HTTPClient) IsSuspended(ctx context.Context, symbol string, date time.Time) (bool, error) {
	var wire struct {
		Suspended bool `json:"suspended"`
	}
	query := url.Values{"symbol": {symbol}, "date": {date.Format("2006-01-02")}}
	if err := c.getJSON(ctx, "/suspended", query, &wire); err != nil {
		return false, err
	}
	return wire.Suspended, nil
}
