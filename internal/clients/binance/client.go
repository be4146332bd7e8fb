// Package binance fetches spot prices, 24h tickers, and K-lines from the
// Binance public REST API. K-line requests go to the public data mirror
// and pass through a shared rate limiter; ticker requests hit the main
// API host directly.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"marketd/internal/domain"
	"marketd/internal/monitor"
	"marketd/internal/ratelimit"
)

// ErrBanned is returned when the API answers 418: the client IP has been
// auto-banned for repeatedly exceeding rate limits. Retrying makes the
// ban longer, so callers must back off entirely.
var ErrBanned = errors.New("binance: IP banned (HTTP 418)")

const (
	klineMaxLimit = 1000
	maxRetries    = 3
	retryBackoff  = 2 * time.Second
)

// Client is the Binance REST client.
type Client struct {
	apiURL  string
	dataURL string
	client  *http.Client
	limiter *ratelimit.Limiter
	mon     *monitor.Monitor
	log     zerolog.Logger
}

// Config holds client configuration.
type Config struct {
	// APIURL serves ticker endpoints (default https://api.binance.com).
	APIURL string
	// DataURL serves K-line endpoints (default the public data mirror).
	DataURL string
}

// New creates a Binance client. The limiter applies to K-line requests
// only; mon may be nil.
func New(cfg Config, limiter *ratelimit.Limiter, mon *monitor.Monitor, log zerolog.Logger) *Client {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "https://api.binance.com"
	}
	dataURL := cfg.DataURL
	if dataURL == "" {
		dataURL = "https://data-api.binance.vision"
	}
	return &Client{
		apiURL:  apiURL,
		dataURL: dataURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: limiter,
		mon:     mon,
		log:     log.With().Str("client", "binance").Logger(),
	}
}

// Price fetches the current price for a trading pair.
func (c *Client) Price(ctx context.Context, symbol string) (*domain.Ticker, error) {
	var payload struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	params := url.Values{"symbol": {symbol}}
	if err := c.getJSON(ctx, c.apiURL+"/api/v3/ticker/price", params, &payload); err != nil {
		return nil, err
	}

	price, err := strconv.ParseFloat(payload.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("binance: bad price %q: %w", payload.Price, err)
	}

	return &domain.Ticker{Symbol: symbol, Price: price, At: time.Now().UTC()}, nil
}

// Ticker24h fetches the 24h rolling window ticker for a trading pair.
func (c *Client) Ticker24h(ctx context.Context, symbol string) (*domain.Ticker, error) {
	started := time.Now()
	var payload struct {
		Symbol             string `json:"symbol"`
		LastPrice          string `json:"lastPrice"`
		PriceChangePercent string `json:"priceChangePercent"`
		HighPrice          string `json:"highPrice"`
		LowPrice           string `json:"lowPrice"`
		Volume             string `json:"volume"`
		QuoteVolume        string `json:"quoteVolume"`
	}
	params := url.Values{"symbol": {symbol}}
	err := c.getJSON(ctx, c.apiURL+"/api/v3/ticker/24hr", params, &payload)
	latency := int(time.Since(started).Milliseconds())
	if err != nil {
		c.record(false, latency, err.Error())
		return nil, err
	}

	ticker := &domain.Ticker{Symbol: symbol, At: time.Now().UTC()}
	fields := []struct {
		raw string
		dst *float64
	}{
		{payload.LastPrice, &ticker.Price},
		{payload.PriceChangePercent, &ticker.ChangePct24h},
		{payload.HighPrice, &ticker.High24h},
		{payload.LowPrice, &ticker.Low24h},
		{payload.Volume, &ticker.Volume24h},
		{payload.QuoteVolume, &ticker.QuoteVolume24h},
	}
	for _, f := range fields {
		v, parseErr := strconv.ParseFloat(f.raw, 64)
		if parseErr != nil {
			c.record(false, latency, "bad ticker payload")
			return nil, fmt.Errorf("binance: bad ticker field %q: %w", f.raw, parseErr)
		}
		*f.dst = v
	}

	c.record(true, latency, fmt.Sprintf("fetched 24h ticker for %s", symbol))
	return ticker, nil
}

// Klines fetches OHLCV bars from the data mirror. limit is capped at the
// API maximum; startTime/endTime are Unix ms and optional when zero.
// Every call waits on the shared rate limiter.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int, startTime, endTime int64) ([]domain.Kline, error) {
	if limit <= 0 || limit > klineMaxLimit {
		limit = klineMaxLimit
	}

	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		defer c.limiter.Release()
	}

	params := url.Values{
		"symbol":   {symbol},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}
	if startTime > 0 {
		params.Set("startTime", strconv.FormatInt(startTime, 10))
	}
	if endTime > 0 {
		params.Set("endTime", strconv.FormatInt(endTime, 10))
	}

	var rows [][]json.RawMessage
	if err := c.getJSON(ctx, c.dataURL+"/api/v3/klines", params, &rows); err != nil {
		return nil, err
	}

	klines := make([]domain.Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		k := domain.Kline{Symbol: symbol, Interval: interval}
		if err := parseKlineRow(row, &k); err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Skipping malformed kline row")
			continue
		}
		klines = append(klines, k)
	}
	return klines, nil
}

// parseKlineRow decodes one /api/v3/klines array row:
// [openTime, open, high, low, close, volume, closeTime, ...].
func parseKlineRow(row []json.RawMessage, k *domain.Kline) error {
	if err := json.Unmarshal(row[0], &k.OpenTime); err != nil {
		return fmt.Errorf("open_time: %w", err)
	}
	if err := json.Unmarshal(row[6], &k.CloseTime); err != nil {
		return fmt.Errorf("close_time: %w", err)
	}

	strs := []struct {
		idx int
		dst *float64
	}{
		{1, &k.Open}, {2, &k.High}, {3, &k.Low}, {4, &k.Close}, {5, &k.Volume},
	}
	for _, f := range strs {
		var s string
		if err := json.Unmarshal(row[f.idx], &s); err != nil {
			return fmt.Errorf("field %d: %w", f.idx, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("field %d: %w", f.idx, err)
		}
		*f.dst = v
	}
	return nil
}

// getJSON performs a GET with retries. 429 honors Retry-After, 418 aborts
// immediately with ErrBanned.
func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	backoff := retryBackoff
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
		if err != nil {
			return fmt.Errorf("binance: build request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("binance: request failed: %w", err)
			c.log.Warn().Err(err).Int("attempt", attempt+1).Msg("Request failed, retrying")
			continue
		}

		switch resp.StatusCode {
		case http.StatusOK:
			err = json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("binance: decode response: %w", err)
			}
			return nil

		case http.StatusTooManyRequests:
			retryAfter := resp.Header.Get("Retry-After")
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if secs, parseErr := strconv.Atoi(retryAfter); parseErr == nil && secs > 0 {
				backoff = time.Duration(secs) * time.Second
			}
			lastErr = fmt.Errorf("binance: rate limited (HTTP 429)")
			c.log.Warn().Str("retry_after", retryAfter).Msg("Rate limited by exchange")

		case http.StatusTeapot:
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			c.log.Error().Msg("Exchange returned 418: IP auto-banned, aborting")
			return ErrBanned

		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			resp.Body.Close()
			lastErr = fmt.Errorf("binance: HTTP %d: %s", resp.StatusCode, body)
		}
	}

	return lastErr
}

func (c *Client) record(ok bool, latencyMS int, message string) {
	if c.mon != nil {
		c.mon.Record("Binance API (Public)", "REST", ok, latencyMS, message)
	}
}
