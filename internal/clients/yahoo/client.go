// Package yahoo fetches equity and ETF quote fundamentals from the
// Yahoo Finance quoteSummary API. No API key is required.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"marketd/internal/monitor"
)

const defaultBaseURL = "https://query1.finance.yahoo.com/v10/finance/quoteSummary"

// Quote holds the fields we use; anything the API omitted stays nil.
type Quote struct {
	Symbol            string
	Price             *float64
	PreviousClose     *float64
	SharesOutstanding *float64
	TotalAssets       *float64
}

// MarketCap derives price*shares, preferring the live price over the
// previous close. Returns nil when either factor is missing.
func (q *Quote) MarketCap() *float64 {
	price := q.Price
	if price == nil {
		price = q.PreviousClose
	}
	if price == nil || q.SharesOutstanding == nil {
		return nil
	}
	cap := *price * *q.SharesOutstanding
	return &cap
}

// AUM returns the fund's total assets, falling back to price*shares.
func (q *Quote) AUM() *float64 {
	if q.TotalAssets != nil {
		return q.TotalAssets
	}
	return q.MarketCap()
}

type Client struct {
	baseURL string
	http    *http.Client
	mon     *monitor.Monitor
	log     zerolog.Logger
}

func New(baseURL string, mon *monitor.Monitor, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		mon:     mon,
		log:     log.With().Str("client", "yahoo").Logger(),
	}
}

// rawValue is Yahoo's {"raw": 123, "fmt": "123"} number wrapper.
type rawValue struct {
	Raw *float64 `json:"raw"`
}

func (v *rawValue) ptr() *float64 {
	if v == nil {
		return nil
	}
	return v.Raw
}

// Quote fetches the summaryDetail, defaultKeyStatistics and price
// modules for one ticker.
func (c *Client) Quote(ctx context.Context, symbol string) (*Quote, error) {
	url := fmt.Sprintf("%s/%s?modules=summaryDetail,defaultKeyStatistics,price", c.baseURL, symbol)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.record(false, 0, err.Error())
		return nil, err
	}
	defer resp.Body.Close()
	latency := int(time.Since(started).Milliseconds())

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("yahoo status %d for %s", resp.StatusCode, symbol)
		c.record(false, latency, err.Error())
		return nil, err
	}

	var body struct {
		QuoteSummary struct {
			Result []struct {
				SummaryDetail struct {
					TotalAssets   *rawValue `json:"totalAssets"`
					PreviousClose *rawValue `json:"previousClose"`
				} `json:"summaryDetail"`
				DefaultKeyStatistics struct {
					SharesOutstanding        *rawValue `json:"sharesOutstanding"`
					ImpliedSharesOutstanding *rawValue `json:"impliedSharesOutstanding"`
				} `json:"defaultKeyStatistics"`
				Price struct {
					RegularMarketPrice *rawValue `json:"regularMarketPrice"`
				} `json:"price"`
			} `json:"result"`
		} `json:"quoteSummary"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.record(false, latency, err.Error())
		return nil, err
	}
	if len(body.QuoteSummary.Result) == 0 {
		err := fmt.Errorf("yahoo: no result for %s", symbol)
		c.record(false, latency, err.Error())
		return nil, err
	}

	r := body.QuoteSummary.Result[0]
	shares := r.DefaultKeyStatistics.SharesOutstanding.ptr()
	if shares == nil {
		shares = r.DefaultKeyStatistics.ImpliedSharesOutstanding.ptr()
	}

	c.record(true, latency, "Quote "+symbol)
	return &Quote{
		Symbol:            symbol,
		Price:             r.Price.RegularMarketPrice.ptr(),
		PreviousClose:     r.SummaryDetail.PreviousClose.ptr(),
		SharesOutstanding: shares,
		TotalAssets:       r.SummaryDetail.TotalAssets.ptr(),
	}, nil
}

func (c *Client) record(ok bool, latencyMS int, message string) {
	if c.mon != nil {
		c.mon.Record("Yahoo Finance", "REST", ok, latencyMS, message)
	}
}
