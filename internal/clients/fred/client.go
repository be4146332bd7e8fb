// Package fred fetches macro series from the FRED (Federal Reserve
// Economic Data) observations API: fed funds rate, 10-year treasury
// yield, M2 money supply and the broad dollar index.
package fred

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"marketd/internal/monitor"
)

const defaultBaseURL = "https://api.stlouisfed.org/fred/series/observations"

// FRED series IDs.
const (
	SeriesFedFunds    = "DFF"
	SeriesTreasury10Y = "DGS10"
	SeriesM2          = "M2SL"
	SeriesDollarIndex = "DTWEXBGS"
)

// MacroData holds the latest macro indicator values. Fields stay nil
// when a series could not be fetched.
type MacroData struct {
	FedFundsRate *float64 `json:"fed_funds_rate"`
	Treasury10Y  *float64 `json:"treasury_10y"`
	M2GrowthYoY  *float64 `json:"m2_growth_yoy"`
	DollarIndex  *float64 `json:"dollar_index"`
}

// Observation is one dated series value.
type Observation struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

type Config struct {
	BaseURL string
	APIKey  string
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	mon     *monitor.Monitor
	log     zerolog.Logger
}

func New(cfg Config, mon *monitor.Monitor, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		mon:     mon,
		log:     log.With().Str("client", "fred").Logger(),
	}
}

// MacroData fetches the latest value of each configured series. The M2
// figure is converted to year-over-year growth. Without an API key the
// result is empty.
func (c *Client) MacroData(ctx context.Context) (*MacroData, error) {
	if c.apiKey == "" {
		c.log.Warn().Msg("FRED API key not configured, skipping macro data")
		return &MacroData{}, nil
	}

	out := &MacroData{
		FedFundsRate: c.latest(ctx, SeriesFedFunds),
		Treasury10Y:  c.latest(ctx, SeriesTreasury10Y),
		DollarIndex:  c.latest(ctx, SeriesDollarIndex),
	}

	current := c.latest(ctx, SeriesM2)
	yearAgo := time.Now().AddDate(0, 0, -365).Format("2006-01-02")
	previous := c.observationAt(ctx, SeriesM2, yearAgo)
	if current != nil && previous != nil && *previous > 0 {
		growth := math.Round((*current-*previous)/(*previous)*100*100) / 100
		out.M2GrowthYoY = &growth
	} else {
		c.log.Warn().Msg("Could not compute M2 YoY growth")
	}

	return out, nil
}

// SeriesHistory fetches up to days of history for one series, oldest
// first. Missing observations (value ".") are skipped.
func (c *Client) SeriesHistory(ctx context.Context, seriesID string, days int) ([]Observation, error) {
	if c.apiKey == "" {
		return nil, nil
	}

	now := time.Now()
	params := c.baseParams(seriesID)
	params.Set("observation_start", now.AddDate(0, 0, -days).Format("2006-01-02"))
	params.Set("observation_end", now.Format("2006-01-02"))
	params.Set("sort_order", "asc")

	started := time.Now()
	raw, err := c.fetch(ctx, params)
	latency := int(time.Since(started).Milliseconds())
	if err != nil {
		c.record(false, 0, err.Error())
		return nil, fmt.Errorf("fred series %s: %w", seriesID, err)
	}
	c.record(true, latency, "Fetched "+seriesID)

	out := make([]Observation, 0, len(raw))
	for _, obs := range raw {
		if obs.Value == "." {
			continue
		}
		v, err := strconv.ParseFloat(obs.Value, 64)
		if err != nil {
			continue
		}
		out = append(out, Observation{Date: obs.Date, Value: v})
	}
	return out, nil
}

func (c *Client) latest(ctx context.Context, seriesID string) *float64 {
	params := c.baseParams(seriesID)
	params.Set("limit", "1")
	params.Set("sort_order", "desc")
	return c.singleValue(ctx, seriesID, params)
}

// observationAt returns the series value closest to (at or before) the
// given date.
func (c *Client) observationAt(ctx context.Context, seriesID, date string) *float64 {
	params := c.baseParams(seriesID)
	params.Set("limit", "1")
	params.Set("sort_order", "desc")
	params.Set("observation_end", date)
	return c.singleValue(ctx, seriesID, params)
}

func (c *Client) singleValue(ctx context.Context, seriesID string, params url.Values) *float64 {
	raw, err := c.fetch(ctx, params)
	if err != nil {
		c.log.Warn().Err(err).Str("series", seriesID).Msg("FRED fetch failed")
		return nil
	}
	if len(raw) == 0 || raw[0].Value == "." {
		return nil
	}
	v, err := strconv.ParseFloat(raw[0].Value, 64)
	if err != nil {
		return nil
	}
	return &v
}

func (c *Client) baseParams(seriesID string) url.Values {
	params := url.Values{}
	params.Set("series_id", seriesID)
	params.Set("api_key", c.apiKey)
	params.Set("file_type", "json")
	// M2 is a monthly series, the rest are daily.
	if seriesID == SeriesM2 {
		params.Set("frequency", "m")
	} else {
		params.Set("frequency", "d")
	}
	return params
}

type rawObservation struct {
	Date  string `json:"date"`
	Value string `json:"value"`
}

func (c *Client) fetch(ctx context.Context, params url.Values) ([]rawObservation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fred api status %d", resp.StatusCode)
	}

	var body struct {
		Observations []rawObservation `json:"observations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Observations, nil
}

func (c *Client) record(ok bool, latencyMS int, message string) {
	if c.mon != nil {
		c.mon.Record("FRED API", "Macro", ok, latencyMS, message)
	}
}
