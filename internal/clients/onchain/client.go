// Package onchain gathers Bitcoin network and valuation metrics:
// hashrate and block height from mempool.space, MVRV from CoinMetrics,
// and the AHR999 / 200-week moving average indicators derived from
// exchange klines.
package onchain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"marketd/internal/domain"
	"marketd/internal/monitor"
)

const (
	defaultMempoolAPI     = "https://mempool.space/api"
	defaultCoinMetricsAPI = "https://community-api.coinmetrics.io/v4"

	halvingInterval = 210_000
	// Average block time assumed for the halving countdown.
	blockMinutes = 10
)

// genesisDate anchors the AHR999 age calculation.
var genesisDate = time.Date(2009, 1, 3, 0, 0, 0, 0, time.UTC)

// KlineSource supplies exchange klines for the derived indicators.
type KlineSource interface {
	Klines(ctx context.Context, symbol, interval string, limit int, startTime, endTime int64) ([]domain.Kline, error)
}

// Hashrate is the current network hashrate in H/s.
type Hashrate struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// HalvingInfo is the countdown to the next reward halving.
type HalvingInfo struct {
	CurrentHeight     int64 `json:"current_height"`
	NextHalvingHeight int64 `json:"next_halving_height"`
	BlocksLeft        int64 `json:"blocks_left"`
	MinutesLeft       int64 `json:"minutes_left"`
}

// AHR999 is the accumulation index: (price/200d DCA cost) * (price/fitted value).
type AHR999 struct {
	Value          float64 `json:"value"`
	Classification string  `json:"classification"`
	CurrentPrice   float64 `json:"current_price"`
	MA200          float64 `json:"ma200"`
	FittedPrice    float64 `json:"fitted_price"`
}

// WMA200 is the 200-week moving average with the price-to-average ratio.
type WMA200 struct {
	Value        float64 `json:"value"`
	CurrentPrice float64 `json:"current_price"`
	Ratio        float64 `json:"ratio"`
}

// MVRV is the market-cap to realized-cap ratio.
type MVRV struct {
	Value          float64 `json:"value"`
	Classification string  `json:"classification"`
}

type Config struct {
	MempoolAPIURL     string
	CoinMetricsAPIURL string
}

type Client struct {
	mempoolAPI     string
	coinmetricsAPI string
	http           *http.Client
	klines         KlineSource
	mon            *monitor.Monitor
	log            zerolog.Logger
}

func New(cfg Config, klines KlineSource, mon *monitor.Monitor, log zerolog.Logger) *Client {
	if cfg.MempoolAPIURL == "" {
		cfg.MempoolAPIURL = defaultMempoolAPI
	}
	if cfg.CoinMetricsAPIURL == "" {
		cfg.CoinMetricsAPIURL = defaultCoinMetricsAPI
	}
	return &Client{
		mempoolAPI:     strings.TrimRight(cfg.MempoolAPIURL, "/"),
		coinmetricsAPI: strings.TrimRight(cfg.CoinMetricsAPIURL, "/"),
		http:           &http.Client{Timeout: 15 * time.Second},
		klines:         klines,
		mon:            mon,
		log:            log.With().Str("client", "onchain").Logger(),
	}
}

// Hashrate fetches the current network hashrate.
func (c *Client) Hashrate(ctx context.Context) (*Hashrate, error) {
	var body struct {
		CurrentHashrate float64 `json:"currentHashrate"`
		Hashrates       []struct {
			AvgHashrate float64 `json:"avgHashrate"`
		} `json:"hashrates"`
	}
	started := time.Now()
	if err := c.getJSON(ctx, c.mempoolAPI+"/v1/mining/hashrate/1m", &body); err != nil {
		c.record("Mempool API", "Onchain", false, 0, err.Error())
		return nil, err
	}

	current := body.CurrentHashrate
	if current == 0 && len(body.Hashrates) > 0 {
		current = body.Hashrates[len(body.Hashrates)-1].AvgHashrate
	}
	c.record("Mempool API", "Onchain", true, int(time.Since(started).Milliseconds()), "Hashrate OK")
	return &Hashrate{Value: current, Unit: "H/s"}, nil
}

// HalvingInfo fetches the chain tip height and derives the halving
// countdown assuming 10-minute blocks.
func (c *Client) HalvingInfo(ctx context.Context) (*HalvingInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.mempoolAPI+"/blocks/tip/height", nil)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.record("Mempool Halving", "Onchain", false, 0, err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("mempool status %d", resp.StatusCode)
		c.record("Mempool Halving", "Onchain", false, 0, err.Error())
		return nil, err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	height, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("mempool: bad height %q", raw)
	}

	info := halvingFromHeight(height)
	c.record("Mempool Halving", "Onchain", true, int(time.Since(started).Milliseconds()),
		fmt.Sprintf("Height: %d", height))
	return info, nil
}

func halvingFromHeight(height int64) *HalvingInfo {
	next := (height/halvingInterval + 1) * halvingInterval
	left := next - height
	return &HalvingInfo{
		CurrentHeight:     height,
		NextHalvingHeight: next,
		BlocksLeft:        left,
		MinutesLeft:       left * blockMinutes,
	}
}

// AHR999 computes the accumulation index from 200 daily closes.
func (c *Client) AHR999(ctx context.Context) (*AHR999, error) {
	bars, err := c.klines.Klines(ctx, "BTCUSDT", domain.Interval1d, 200, 0, 0)
	if err != nil {
		c.record("AHR999 Calc", "Derived", false, 0, err.Error())
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("ahr999: no daily klines")
	}

	sum := 0.0
	for _, b := range bars {
		sum += b.Close
	}
	price := bars[len(bars)-1].Close
	ma200 := sum / float64(len(bars))
	ageDays := int(time.Now().UTC().Sub(genesisDate).Hours() / 24)

	out := computeAHR999(price, ma200, ageDays)
	c.record("AHR999 Calc", "Derived", true, 0, fmt.Sprintf("Value: %.3f", out.Value))
	return out, nil
}

// computeAHR999 applies the fitted exponential growth valuation:
// 10^(5.84*log10(ageDays) - 17.01).
func computeAHR999(price, ma200 float64, ageDays int) *AHR999 {
	fitted := math.Pow(10, 5.84*math.Log10(float64(ageDays))-17.01)
	value := (price / ma200) * (price / fitted)
	return &AHR999{
		Value:          math.Round(value*1000) / 1000,
		Classification: classifyAHR999(value),
		CurrentPrice:   price,
		MA200:          ma200,
		FittedPrice:    fitted,
	}
}

func classifyAHR999(v float64) string {
	switch {
	case v < 0.45:
		return "bottom zone"
	case v < 1.2:
		return "DCA zone"
	case v > 5.0:
		return "top escape zone"
	default:
		return "take-off zone"
	}
}

// WMA200 computes the 200-week moving average from weekly closes.
func (c *Client) WMA200(ctx context.Context) (*WMA200, error) {
	bars, err := c.klines.Klines(ctx, "BTCUSDT", "1w", 200, 0, 0)
	if err != nil {
		c.record("200WMA Calc", "Derived", false, 0, err.Error())
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("200wma: no weekly klines")
	}

	sum := 0.0
	for _, b := range bars {
		sum += b.Close
	}
	price := bars[len(bars)-1].Close
	wma := sum / float64(len(bars))

	ratio := 0.0
	if wma > 0 {
		ratio = price / wma
	}
	out := &WMA200{
		Value:        math.Round(wma*100) / 100,
		CurrentPrice: price,
		Ratio:        math.Round(ratio*100) / 100,
	}
	c.record("200WMA Calc", "Derived", true, 0, fmt.Sprintf("Value: $%.0f", out.Value))
	return out, nil
}

// MVRV fetches the daily market-cap to realized-cap ratio from the
// CoinMetrics community API.
func (c *Client) MVRV(ctx context.Context) (*MVRV, error) {
	url := c.coinmetricsAPI + "/timeseries/asset-metrics?assets=btc&metrics=CapMVRVCur&frequency=1d&limit_per_asset=1"

	var body struct {
		Data []struct {
			CapMVRVCur string `json:"CapMVRVCur"`
		} `json:"data"`
	}
	started := time.Now()
	if err := c.getJSON(ctx, url, &body); err != nil {
		c.record("CoinMetrics MVRV", "REST", false, 0, err.Error())
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("mvrv: empty response")
	}

	value, err := strconv.ParseFloat(body.Data[0].CapMVRVCur, 64)
	if err != nil {
		return nil, fmt.Errorf("mvrv: bad value %q", body.Data[0].CapMVRVCur)
	}

	out := &MVRV{
		Value:          math.Round(value*100) / 100,
		Classification: classifyMVRV(value),
	}
	c.record("CoinMetrics MVRV", "REST", true, int(time.Since(started).Milliseconds()),
		fmt.Sprintf("MVRV: %.2f", out.Value))
	return out, nil
}

func classifyMVRV(v float64) string {
	switch {
	case v < 1.0:
		return "deeply undervalued"
	case v <= 1.5:
		return "slightly low (DCA)"
	case v > 3.7:
		return "extremely overvalued (top)"
	default:
		return "normal"
	}
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("onchain api status %d for %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) record(name, typ string, ok bool, latencyMS int, message string) {
	if c.mon != nil {
		c.mon.Record(name, typ, ok, latencyMS, message)
	}
}
