// Package etfonchain tracks spot crypto ETFs through free data
// sources: custody address balances from mempool.space (BTC) and
// Blockscout (ETH), and fund AUM from Yahoo Finance.
//
// The custody address tables are maintained by hand from public Arkham
// labels and SEC filings.
package etfonchain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marketd/internal/clients/yahoo"
	"marketd/internal/monitor"
)

const (
	defaultMempoolAPI    = "https://mempool.space/api"
	defaultBlockscoutAPI = "https://eth.blockscout.com/api/v2"

	// Pause between custody balance lookups to stay inside the free
	// tiers' rate limits.
	addressPause = 500 * time.Millisecond
)

// Address is one known custody address.
type Address struct {
	ETF       string
	Name      string
	Address   string
	Custodian string
}

var btcAddresses = []Address{
	{"IBIT", "BlackRock BTC ETF", "bc1qd8ejkl3xelunpgjz2a9svkfevuzqsadmdyap4x", "Coinbase Custody"},
	{"GBTC", "Grayscale BTC Trust", "bc1qazcm763858nkj2dj986etajv6wquslv8uxjyjeq", "Coinbase Custody"},
	{"FBTC", "Fidelity BTC ETF", "3LYJfcfHBoBB2G7Zc3rHkEWFNZfDS45fYd", "Fidelity Self-Custody"},
}

var ethAddresses = []Address{
	{"ETHA", "BlackRock ETH ETF", "0x47ac0fb4f2d84898e4d9e7b4dab3c24507a6d503", "Coinbase Custody"},
	{"FETH", "Fidelity ETH ETF", "0xb61f2bf39b7fa5d3f5c84c23c0c9b01f62bdce06", "Fidelity Self-Custody"},
}

// Ticker is one fund tracked for AUM.
type Ticker struct {
	Symbol string
	Name   string
	Asset  string // "BTC" or "ETH"
}

var tickers = []Ticker{
	{"IBIT", "BlackRock BTC ETF", "BTC"},
	{"FBTC", "Fidelity BTC ETF", "BTC"},
	{"GBTC", "Grayscale BTC Trust", "BTC"},
	{"ARKB", "Ark BTC ETF", "BTC"},
	{"BITB", "Bitwise BTC ETF", "BTC"},
	{"ETHA", "BlackRock ETH ETF", "ETH"},
	{"FETH", "Fidelity ETH ETF", "ETH"},
	{"ETHW", "Grayscale ETH Trust", "ETH"},
}

// Holding is one custody address balance reading.
type Holding struct {
	ETF          string   `json:"etf"`
	Name         string   `json:"name"`
	AddressShort string   `json:"address_short"`
	Balance      *float64 `json:"balance"`
	Custodian    string   `json:"custodian"`
	OK           bool     `json:"ok"`
}

// AUM is one fund's total net assets.
type AUM struct {
	Symbol string   `json:"symbol"`
	Name   string   `json:"name"`
	Asset  string   `json:"asset"`
	USD    *float64 `json:"aum_usd"`
	OK     bool     `json:"ok"`
}

// Overview aggregates everything the collector tracks.
type Overview struct {
	AUM         []AUM     `json:"etf_aum"`
	BTCHoldings []Holding `json:"btc_holdings"`
	ETHHoldings []Holding `json:"eth_holdings"`
	BTCTotal    float64   `json:"btc_total"`
	ETHTotal    float64   `json:"eth_total"`
	Timestamp   time.Time `json:"timestamp"`
}

// Card is one display-ready metric for the market snapshot.
type Card struct {
	Name     string   `json:"name"`
	Abbr     string   `json:"abbr"`
	Value    string   `json:"value"`
	SubValue string   `json:"sub_value,omitempty"`
	Tags     []string `json:"tags"`
	Desc     string   `json:"desc"`
}

// QuoteSource supplies fund quotes for AUM.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (*yahoo.Quote, error)
}

type Config struct {
	MempoolAPIURL    string
	BlockscoutAPIURL string
}

type Collector struct {
	mempoolAPI    string
	blockscoutAPI string
	http          *http.Client
	quotes        QuoteSource
	mon           *monitor.Monitor
	log           zerolog.Logger
}

func New(cfg Config, quotes QuoteSource, mon *monitor.Monitor, log zerolog.Logger) *Collector {
	if cfg.MempoolAPIURL == "" {
		cfg.MempoolAPIURL = defaultMempoolAPI
	}
	if cfg.BlockscoutAPIURL == "" {
		cfg.BlockscoutAPIURL = defaultBlockscoutAPI
	}
	return &Collector{
		mempoolAPI:    strings.TrimRight(cfg.MempoolAPIURL, "/"),
		blockscoutAPI: strings.TrimRight(cfg.BlockscoutAPIURL, "/"),
		http:          &http.Client{Timeout: 15 * time.Second},
		quotes:        quotes,
		mon:           mon,
		log:           log.With().Str("client", "etf_onchain").Logger(),
	}
}

// BTCBalance fetches a BTC address balance from mempool.space.
func (c *Collector) BTCBalance(ctx context.Context, address string) (*float64, error) {
	var body struct {
		ChainStats struct {
			FundedTxoSum float64 `json:"funded_txo_sum"`
			SpentTxoSum  float64 `json:"spent_txo_sum"`
		} `json:"chain_stats"`
	}
	if err := c.getJSON(ctx, c.mempoolAPI+"/address/"+address, &body); err != nil {
		return nil, err
	}
	balance := (body.ChainStats.FundedTxoSum - body.ChainStats.SpentTxoSum) / 1e8
	return &balance, nil
}

// ETHBalance fetches an ETH address balance from Blockscout. The wei
// amount arrives as a decimal string.
func (c *Collector) ETHBalance(ctx context.Context, address string) (*float64, error) {
	var body struct {
		CoinBalance string `json:"coin_balance"`
	}
	if err := c.getJSON(ctx, c.blockscoutAPI+"/addresses/"+address, &body); err != nil {
		return nil, err
	}
	if body.CoinBalance == "" {
		body.CoinBalance = "0"
	}
	wei, err := strconv.ParseFloat(body.CoinBalance, 64)
	if err != nil {
		return nil, fmt.Errorf("blockscout: bad balance %q", body.CoinBalance)
	}
	balance := wei / 1e18
	return &balance, nil
}

// BTCHoldings reads every known BTC custody address, serially with
// pauses between requests.
func (c *Collector) BTCHoldings(ctx context.Context) []Holding {
	return c.holdings(ctx, btcAddresses, 12, c.BTCBalance)
}

// ETHHoldings reads every known ETH custody address.
func (c *Collector) ETHHoldings(ctx context.Context) []Holding {
	return c.holdings(ctx, ethAddresses, 10, c.ETHBalance)
}

func (c *Collector) holdings(ctx context.Context, addrs []Address, shortLen int, fetch func(context.Context, string) (*float64, error)) []Holding {
	out := make([]Holding, 0, len(addrs))
	for i, entry := range addrs {
		if i > 0 {
			select {
			case <-time.After(addressPause):
			case <-ctx.Done():
				return out
			}
		}

		balance, err := fetch(ctx, entry.Address)
		if err != nil {
			c.log.Debug().Err(err).Str("etf", entry.ETF).Msg("Balance fetch failed")
		}
		out = append(out, Holding{
			ETF:          entry.ETF,
			Name:         entry.Name,
			AddressShort: entry.Address[:shortLen] + "...",
			Balance:      balance,
			Custodian:    entry.Custodian,
			OK:           balance != nil,
		})
	}
	return out
}

// AllAUM fetches every tracked fund's AUM concurrently.
func (c *Collector) AllAUM(ctx context.Context) []AUM {
	out := make([]AUM, len(tickers))
	var wg sync.WaitGroup
	for i, t := range tickers {
		wg.Add(1)
		go func(i int, t Ticker) {
			defer wg.Done()
			var usd *float64
			if quote, err := c.quotes.Quote(ctx, t.Symbol); err == nil {
				usd = quote.AUM()
			}
			out[i] = AUM{Symbol: t.Symbol, Name: t.Name, Asset: t.Asset, USD: usd, OK: usd != nil}
		}(i, t)
	}
	wg.Wait()
	return out
}

// All gathers AUM and custody balances. AUM lookups run concurrently
// with the serial on-chain sweep.
func (c *Collector) All(ctx context.Context) *Overview {
	started := time.Now()

	aumCh := make(chan []AUM, 1)
	go func() { aumCh <- c.AllAUM(ctx) }()

	btc := c.BTCHoldings(ctx)
	eth := c.ETHHoldings(ctx)
	aum := <-aumCh

	var btcTotal, ethTotal float64
	for _, h := range btc {
		if h.OK {
			btcTotal += *h.Balance
		}
	}
	for _, h := range eth {
		if h.OK {
			ethTotal += *h.Balance
		}
	}

	c.record(true, int(time.Since(started).Milliseconds()),
		fmt.Sprintf("%d funds, %.0f BTC / %.0f ETH on-chain", len(aum), btcTotal, ethTotal))
	return &Overview{
		AUM:         aum,
		BTCHoldings: btc,
		ETHHoldings: eth,
		BTCTotal:    btcTotal,
		ETHTotal:    ethTotal,
		Timestamp:   time.Now().UTC(),
	}
}

// Indicators renders the overview into snapshot cards: aggregate AUM
// per asset, the top three BTC funds, and per-address custody
// balances valued at the given spot prices.
func (c *Collector) Indicators(ctx context.Context, btcPrice, ethPrice float64) []Card {
	data := c.All(ctx)
	var cards []Card

	btcFunds := filterAUM(data.AUM, "BTC")
	if len(btcFunds) > 0 {
		total := sumAUM(btcFunds)
		cards = append(cards, Card{
			Name:  "Total BTC ETF AUM",
			Abbr:  "BTC-ETF-AUM",
			Value: fmt.Sprintf("$%.1fB", total/1e9),
			Tags:  []string{"flows", "BTC", "ETF"},
			Desc:  fmt.Sprintf("Combined net assets of %d BTC ETFs", len(btcFunds)),
		})
		for _, fund := range topAUM(btcFunds, 3) {
			cards = append(cards, Card{
				Name:  fund.Name,
				Abbr:  fund.Symbol,
				Value: fmt.Sprintf("$%.2fB", *fund.USD/1e9),
				Tags:  []string{"flows", "BTC", "ETF"},
				Desc:  fund.Symbol + " total net assets",
			})
		}
	}

	ethFunds := filterAUM(data.AUM, "ETH")
	if len(ethFunds) > 0 {
		total := sumAUM(ethFunds)
		cards = append(cards, Card{
			Name:  "Total ETH ETF AUM",
			Abbr:  "ETH-ETF-AUM",
			Value: fmt.Sprintf("$%.2fB", total/1e9),
			Tags:  []string{"flows", "ETH", "ETF"},
			Desc:  fmt.Sprintf("Combined net assets of %d ETH ETFs", len(ethFunds)),
		})
	}

	cards = append(cards, holdingCards(data.BTCHoldings, "BTC", btcPrice)...)
	cards = append(cards, holdingCards(data.ETHHoldings, "ETH", ethPrice)...)
	return cards
}

func holdingCards(holdings []Holding, asset string, price float64) []Card {
	var cards []Card
	for _, h := range holdings {
		if !h.OK || *h.Balance == 0 {
			continue
		}
		sub := h.Custodian
		if price > 0 {
			sub = fmt.Sprintf("≈$%.1fB", *h.Balance*price/1e9)
		}
		cards = append(cards, Card{
			Name:     h.ETF + " On-chain Balance",
			Abbr:     "CHAIN-" + h.ETF,
			Value:    fmt.Sprintf("%.0f %s", *h.Balance, asset),
			SubValue: sub,
			Tags:     []string{"onchain", asset, "ETF"},
			Desc:     "Custody: " + h.Custodian + " | " + h.AddressShort,
		})
	}
	return cards
}

func filterAUM(funds []AUM, asset string) []AUM {
	var out []AUM
	for _, f := range funds {
		if f.Asset == asset && f.OK {
			out = append(out, f)
		}
	}
	return out
}

func sumAUM(funds []AUM) float64 {
	total := 0.0
	for _, f := range funds {
		total += *f.USD
	}
	return total
}

func topAUM(funds []AUM, n int) []AUM {
	sorted := make([]AUM, len(funds))
	copy(sorted, funds)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if *sorted[j].USD > *sorted[i].USD {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func (c *Collector) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("etf onchain api status %d for %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Collector) record(ok bool, latencyMS int, message string) {
	if c.mon != nil {
		c.mon.Record("ETF Onchain", "ETF", ok, latencyMS, message)
	}
}
