package etfonchain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketd/internal/clients/yahoo"
)

type stubQuotes struct {
	aum map[string]float64
}

func (s stubQuotes) Quote(_ context.Context, symbol string) (*yahoo.Quote, error) {
	aum, ok := s.aum[symbol]
	if !ok {
		return &yahoo.Quote{Symbol: symbol}, nil
	}
	return &yahoo.Quote{Symbol: symbol, TotalAssets: &aum}, nil
}

func balanceServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/address/"):
			// mempool.space satoshi sums.
			w.Write([]byte(`{"chain_stats":{"funded_txo_sum":80000000000000,"spent_txo_sum":30000000000000}}`))
		case strings.HasPrefix(r.URL.Path, "/addresses/"):
			// Blockscout wei string.
			w.Write([]byte(`{"coin_balance":"2500000000000000000000000"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestCollector(srvURL string, quotes QuoteSource) *Collector {
	return New(Config{MempoolAPIURL: srvURL, BlockscoutAPIURL: srvURL}, quotes, nil,
		zerolog.New(nil).Level(zerolog.Disabled))
}

func TestBTCBalanceConvertsSatoshi(t *testing.T) {
	srv := balanceServer()
	defer srv.Close()

	c := newTestCollector(srv.URL, nil)
	balance, err := c.BTCBalance(context.Background(), "bc1qexample")
	require.NoError(t, err)
	assert.InDelta(t, 500_000, *balance, 1e-6) // (8e13-3e13) sat
}

func TestETHBalanceConvertsWei(t *testing.T) {
	srv := balanceServer()
	defer srv.Close()

	c := newTestCollector(srv.URL, nil)
	balance, err := c.ETHBalance(context.Background(), "0xexample")
	require.NoError(t, err)
	assert.InDelta(t, 2_500_000, *balance, 1e-3)
}

func TestAllAggregatesTotals(t *testing.T) {
	srv := balanceServer()
	defer srv.Close()

	c := newTestCollector(srv.URL, stubQuotes{aum: map[string]float64{
		"IBIT": 50e9, "FBTC": 20e9, "GBTC": 15e9, "ETHA": 5e9,
	}})
	overview := c.All(context.Background())

	require.Len(t, overview.BTCHoldings, 3)
	require.Len(t, overview.ETHHoldings, 2)
	assert.InDelta(t, 1_500_000, overview.BTCTotal, 1e-3) // 3 addresses x 500k
	assert.InDelta(t, 5_000_000, overview.ETHTotal, 1)    // 2 addresses x 2.5M
	assert.Len(t, overview.AUM, len(tickers))
}

func TestIndicatorsBuildsCards(t *testing.T) {
	srv := balanceServer()
	defer srv.Close()

	c := newTestCollector(srv.URL, stubQuotes{aum: map[string]float64{
		"IBIT": 50e9, "FBTC": 20e9, "GBTC": 15e9, "ARKB": 5e9, "ETHA": 8e9,
	}})
	cards := c.Indicators(context.Background(), 100_000, 4_000)
	require.NotEmpty(t, cards)

	byAbbr := map[string]Card{}
	for _, card := range cards {
		byAbbr[card.Abbr] = card
	}

	// 50+20+15+5 = 90B combined BTC AUM.
	total, ok := byAbbr["BTC-ETF-AUM"]
	require.True(t, ok)
	assert.Equal(t, "$90.0B", total.Value)

	ibit, ok := byAbbr["IBIT"]
	require.True(t, ok)
	assert.Equal(t, "$50.00B", ibit.Value)

	ethTotal, ok := byAbbr["ETH-ETF-AUM"]
	require.True(t, ok)
	assert.Equal(t, "$8.00B", ethTotal.Value)

	chain, ok := byAbbr["CHAIN-IBIT"]
	require.True(t, ok)
	assert.Equal(t, "500000 BTC", chain.Value)
	assert.Equal(t, "≈$50.0B", chain.SubValue)
}

func TestTopAUMOrdering(t *testing.T) {
	a, b, c := 10.0, 30.0, 20.0
	funds := []AUM{{Symbol: "A", USD: &a}, {Symbol: "B", USD: &b}, {Symbol: "C", USD: &c}}
	top := topAUM(funds, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "B", top[0].Symbol)
	assert.Equal(t, "C", top[1].Symbol)
}
