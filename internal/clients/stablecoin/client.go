// Package stablecoin fetches the aggregate USD-pegged stablecoin
// supply from the DefiLlama stablecoins API.
package stablecoin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"marketd/internal/monitor"
)

const defaultURL = "https://stablecoins.llama.fi/stablecoincharts/all"

// Point is one daily total supply reading.
type Point struct {
	Date  string  `json:"date"` // YYYY-MM-DD
	Value float64 `json:"value"`
}

type Client struct {
	url  string
	http *http.Client
	mon  *monitor.Monitor
	log  zerolog.Logger
}

func New(url string, mon *monitor.Monitor, log zerolog.Logger) *Client {
	if url == "" {
		url = defaultURL
	}
	return &Client{
		url:  url,
		http: &http.Client{Timeout: 15 * time.Second},
		mon:  mon,
		log:  log.With().Str("client", "stablecoin").Logger(),
	}
}

// chartPoint mirrors the API payload; the date is a string unix
// timestamp.
type chartPoint struct {
	Date             string `json:"date"`
	TotalCirculating struct {
		PeggedUSD float64 `json:"peggedUSD"`
	} `json:"totalCirculating"`
}

// LatestSupply returns the most recent total USD-pegged supply.
func (c *Client) LatestSupply(ctx context.Context) (*float64, error) {
	points, latency, err := c.fetch(ctx)
	if err != nil {
		c.record(false, 0, err.Error())
		return nil, err
	}
	if len(points) == 0 {
		c.record(false, latency, "Empty response")
		return nil, fmt.Errorf("stablecoin: empty response")
	}

	supply := points[len(points)-1].TotalCirculating.PeggedUSD
	c.record(true, latency, fmt.Sprintf("$%.1fB", supply/1e9))
	return &supply, nil
}

// History returns the supply series for the trailing number of days.
func (c *Client) History(ctx context.Context, days int) ([]Point, error) {
	points, _, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour).Unix()
	out := make([]Point, 0, len(points))
	for _, p := range points {
		ts, err := strconv.ParseInt(p.Date, 10, 64)
		if err != nil {
			continue
		}
		if days > 0 && ts < cutoff {
			continue
		}
		out = append(out, Point{
			Date:  time.Unix(ts, 0).UTC().Format("2006-01-02"),
			Value: p.TotalCirculating.PeggedUSD,
		})
	}
	return out, nil
}

func (c *Client) fetch(ctx context.Context) ([]chartPoint, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, 0, err
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	latency := int(time.Since(started).Milliseconds())

	if resp.StatusCode != http.StatusOK {
		return nil, latency, fmt.Errorf("defillama status %d", resp.StatusCode)
	}

	var points []chartPoint
	if err := json.NewDecoder(resp.Body).Decode(&points); err != nil {
		return nil, latency, err
	}
	return points, latency, nil
}

func (c *Client) record(ok bool, latencyMS int, message string) {
	if c.mon != nil {
		c.mon.Record("Stablecoin Supply", "REST", ok, latencyMS, message)
	}
}
