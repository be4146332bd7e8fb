// Package mining derives mining economics from the public WhatToMine
// network stats: per-rig shutdown prices at a reference electricity
// rate, how many mainstream rigs stay profitable, and the network
// hashrate.
package mining

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"marketd/internal/monitor"
)

const defaultURL = "https://whattomine.com/coins/1.json"

// Reference electricity price used for shutdown levels.
const electricityUSDPerKWh = 0.06

// Rig is one mainstream ASIC model. The table is maintained by hand
// from the vendor spec sheets.
type Rig struct {
	Name       string
	HashrateTH float64
	PowerW     float64
}

var knownRigs = []Rig{
	{"Antminer S21 XP Hyd", 473.0, 5676},
	{"Antminer S21 Pro", 234.0, 3510},
	{"Antminer S21", 200.0, 3500},
	{"Antminer S19 XP Hyd", 255.0, 5304},
	{"Antminer S19 Pro", 110.0, 3250},
	{"Whatsminer M60S", 186.0, 3441},
	{"Whatsminer M50S", 126.0, 3276},
	{"Avalon A1566", 185.0, 5180},
	{"Antminer S19k Pro", 120.0, 2760},
	{"Antminer S19j Pro", 96.0, 3068},
}

// NetworkStats are the WhatToMine BTC network figures.
type NetworkStats struct {
	BlockReward  float64
	BlockTimeSec float64
	Nethash      float64 // H/s
	ExchangeRate float64 // BTC/USD
}

// MinersData summarizes mining profitability.
type MinersData struct {
	TotalMiners      int     `json:"total_miners"`
	ProfitableMiners int     `json:"profitable_miners"`
	BestMiner        string  `json:"best_miner"`
	ShutdownRange    string  `json:"shutdown_range"`
	NethashEHS       float64 `json:"nethash_ehs"`
	BTCPriceWTM      float64 `json:"btc_price_wtm"`
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
		log:  log.With().Str("client", "mining").Logger(),
	}
}

// MinersData fetches the network stats and computes the rig table.
func (c *Client) MinersData(ctx context.Context) (*MinersData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; marketd/1.0)")
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.record(false, 0, err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("whattomine status %d", resp.StatusCode)
		c.record(false, 0, err.Error())
		return nil, err
	}

	// Numeric fields arrive as either numbers or strings.
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		c.record(false, 0, err.Error())
		return nil, err
	}

	stats := NetworkStats{
		BlockReward:  floatField(raw, "block_reward", 3.125),
		BlockTimeSec: floatField(raw, "block_time", 600),
		Nethash:      floatField(raw, "nethash", 0),
		ExchangeRate: floatField(raw, "exchange_rate", 0),
	}

	data, err := Calculate(stats)
	if err != nil {
		c.record(false, 0, err.Error())
		return nil, err
	}

	latency := int(time.Since(started).Milliseconds())
	c.record(true, latency, fmt.Sprintf("%d/%d profitable, BTC≈$%.0f",
		data.ProfitableMiners, data.TotalMiners, stats.ExchangeRate))
	return data, nil
}

// Calculate derives shutdown prices from the network stats:
// daily BTC per TH/s = blocks_per_day * block_reward / nethash_TH,
// shutdown price = daily power cost / daily BTC.
func Calculate(stats NetworkStats) (*MinersData, error) {
	if stats.BlockTimeSec <= 0 || stats.Nethash <= 0 {
		return nil, fmt.Errorf("mining: invalid network stats")
	}

	nethashTHs := stats.Nethash / 1e12
	blocksPerDay := 86_400 / stats.BlockTimeSec
	dailyBTCPerTH := blocksPerDay * stats.BlockReward / nethashTHs
	if dailyBTCPerTH <= 0 {
		return nil, fmt.Errorf("mining: non-positive daily yield")
	}

	var (
		minShutdown    = math.Inf(1)
		maxShutdown    = math.Inf(-1)
		profitable     int
		bestRig        string
		bestEfficiency = math.Inf(1)
	)
	for _, rig := range knownRigs {
		dailyPowerCost := rig.PowerW * 24 / 1000 * electricityUSDPerKWh
		dailyBTC := dailyBTCPerTH * rig.HashrateTH
		shutdown := dailyPowerCost / dailyBTC

		minShutdown = math.Min(minShutdown, shutdown)
		maxShutdown = math.Max(maxShutdown, shutdown)
		if stats.ExchangeRate > 0 && stats.ExchangeRate > shutdown {
			profitable++
		}

		if eff := rig.PowerW / rig.HashrateTH; eff < bestEfficiency {
			bestEfficiency = eff
			bestRig = rig.Name
		}
	}

	return &MinersData{
		TotalMiners:      len(knownRigs),
		ProfitableMiners: profitable,
		BestMiner:        bestRig,
		ShutdownRange:    fmt.Sprintf("$%.0f ~ $%.0f", minShutdown, maxShutdown),
		NethashEHS:       math.Round(stats.Nethash/1e18*10) / 10,
		BTCPriceWTM:      stats.ExchangeRate,
	}, nil
}

func floatField(raw map[string]json.RawMessage, key string, fallback float64) float64 {
	msg, ok := raw[key]
	if !ok {
		return fallback
	}
	var f float64
	if err := json.Unmarshal(msg, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return fallback
}

func (c *Client) record(ok bool, latencyMS int, message string) {
	if c.mon != nil {
		c.mon.Record("Mining (WTM)", "Scraper", ok, latencyMS, message)
	}
}
