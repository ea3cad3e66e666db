// Package history implements the windowed REST crawler for historical
// trades. It walks a working-day range hour by hour, requests each hourly
// window once, and normalizes the results under the trading-calendar
// filters.
//
// The crawl is strictly sequential: one request in flight at a time, paced
// by a rate limiter. There is no retry layer here; any non-success response
// or suspected truncation fails the whole fetch.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/tde/go-alor-collector/internal/calendar"
	"github.com/tde/go-alor-collector/internal/errs"
	"github.com/tde/go-alor-collector/internal/models"
)

const (
	historyEndpoint = "/md/v2/Securities/%s/%s/alltrades/history"

	requestTimeout = 90 * time.Second

	hourMs = int64(time.Hour / time.Millisecond)
	dayMs  = 24 * hourMs

	// msThreshold separates millisecond timestamps from second ones when
	// converting query bounds to whole seconds.
	msThreshold = int64(1e12)
)

// TokenSource supplies a valid bearer token for outgoing requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Fetcher crawls the all-trades history endpoint for one exchange/symbol.
type Fetcher struct {
	baseURL   string
	exchange  string
	symbol    string
	pageLimit int

	tokens     TokenSource
	cal        *calendar.Calendar
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	now        func() time.Time
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.httpClient = c }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// NewFetcher creates a history fetcher. requestsPerSecond paces the crawl
// against the REST API.
func NewFetcher(baseURL, exchange, symbol string, pageLimit, requestsPerSecond int,
	tokens TokenSource, cal *calendar.Calendar, logger *slog.Logger, opts ...Option) *Fetcher {

	if logger == nil {
		logger = slog.Default()
	}
	f := &Fetcher{
		baseURL:    baseURL,
		exchange:   exchange,
		symbol:     symbol,
		pageLimit:  pageLimit,
		tokens:     tokens,
		cal:        cal,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch walks workDays working days starting at startDate and returns every
// normalized trade that passes the window and minute filters. startDate must
// be midnight in the exchange-local location; days beyond today are never
// requested and the current day is clipped to "now".
//
// Trades come back in window iteration order: chronological by window, in
// server order within a window.
func (f *Fetcher) Fetch(ctx context.Context, startDate time.Time, workDays int) ([]models.NormalizedTrade, error) {
	if workDays <= 0 {
		return nil, errs.Newf(errs.KindConfig, "fetch", "work days must be positive, got %d", workDays)
	}

	nowMs := f.now().UnixMilli()
	var all []models.NormalizedTrade

	collected := 0
	for day := startDate; collected < workDays; day = day.AddDate(0, 0, 1) {
		dayStartMs := day.UnixMilli()
		if dayStartMs > nowMs {
			break
		}
		if f.cal.IsWeekend(dayStartMs) {
			continue
		}
		collected++

		dayEndMs := dayStartMs + dayMs - 1
		if dayEndMs > nowMs {
			dayEndMs = nowMs
		}

		f.logger.Info("crawling working day",
			"from", f.cal.FormatLocal(dayStartMs),
			"to", f.cal.FormatLocal(dayEndMs))

		for hourStart := dayStartMs; hourStart <= dayEndMs; hourStart += hourMs {
			if f.cal.SkipHour(hourStart) {
				continue
			}

			window := models.HourWindow{StartMs: hourStart, EndMs: hourStart + hourMs - 1}
			if window.EndMs > dayEndMs {
				window.EndMs = dayEndMs
			}

			trades, err := f.fetchWindow(ctx, window)
			if err != nil {
				return nil, err
			}
			all = append(all, trades...)
		}
	}

	return all, nil
}

// fetchWindow issues one REST call for an hourly window and filters the
// result set.
func (f *Fetcher) fetchWindow(ctx context.Context, window models.HourWindow) ([]models.NormalizedTrade, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, errs.New(errs.KindHTTP, "rate wait", err)
	}

	token, err := f.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	f.logger.Debug("requesting window",
		"from", f.cal.FormatLocal(window.StartMs),
		"to", f.cal.FormatLocal(window.EndMs))

	requestURL := f.baseURL + fmt.Sprintf(historyEndpoint,
		url.PathEscape(f.exchange), url.PathEscape(f.symbol))

	params := url.Values{}
	params.Set("from", strconv.FormatInt(toSeconds(window.StartMs), 10))
	params.Set("to", strconv.FormatInt(toSeconds(window.EndMs), 10))
	params.Set("limit", strconv.Itoa(f.pageLimit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, errs.New(errs.KindHTTP, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, errs.New(errs.KindHTTP, "request window", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(errs.KindHTTP, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.Newf(errs.KindHTTP, "request window", "HTTP %d: %s", resp.StatusCode, body)
	}

	items, total, err := parsePayload(body)
	if err != nil {
		return nil, err
	}

	trades := make([]models.NormalizedTrade, 0, len(items))
	for _, raw := range items {
		t := models.NormalizedTrade{TimestampMs: raw.Timestamp, Qty: raw.Qty, Price: raw.Price}
		if t.Valid() && window.Contains(t.TimestampMs) && f.cal.AllowedHistoryMinute(t.TimestampMs) {
			trades = append(trades, t)
		}
	}

	// A total within one of the page limit means the server may have cut
	// the window short. Fail fast instead of guessing at re-paging.
	if total >= int64(f.pageLimit)-1 {
		return nil, errs.Newf(errs.KindHTTP, "request window",
			"window possibly truncated: total=%d limit=%d", total, f.pageLimit)
	}

	f.logger.Debug("window fetched", "total", total, "kept", len(trades))
	return trades, nil
}

// rawTrade is the wire shape of one history item.
type rawTrade struct {
	Timestamp int64   `json:"timestamp"`
	Qty       float64 `json:"qty"`
	Price     float64 `json:"price"`
}

// parsePayload accepts both response shapes: an object with a list field
// and a reported total, or a bare array (no total reported). An object
// without a list yields an empty item set.
func parsePayload(body []byte) ([]rawTrade, int64, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var bare []rawTrade
		if err := json.Unmarshal(body, &bare); err != nil {
			return nil, 0, errs.New(errs.KindHTTP, "parse response", err)
		}
		return bare, 0, nil
	}

	var envelope struct {
		List  []rawTrade `json:"list"`
		Total int64      `json:"total"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, 0, errs.New(errs.KindHTTP, "parse response", err)
	}
	return envelope.List, envelope.Total, nil
}

// toSeconds converts a query bound to whole seconds. Values at or above
// 1e12 are treated as milliseconds, smaller ones as seconds already.
func toSeconds(v int64) int64 {
	if v >= msThreshold {
		return v / 1000
	}
	return v
}
