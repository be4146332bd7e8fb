package marketdata

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketd/internal/clients/etfonchain"
	"marketd/internal/clients/feargreed"
	"marketd/internal/clients/fred"
	"marketd/internal/clients/mining"
	"marketd/internal/clients/onchain"
	"marketd/internal/clients/stocknav"
	"marketd/internal/domain"
)

type stubSources struct {
	priceCalls atomic.Int64
	fredCalls  atomic.Int64
	priceErr   error
	fredErr    error

	navBTCPrice atomic.Int64 // last BTC price passed to NAVRatio, in cents
	etfBTCPrice atomic.Int64
}

func (s *stubSources) Price(_ context.Context, symbol string) (*domain.Ticker, error) {
	s.priceCalls.Add(1)
	if s.priceErr != nil {
		return nil, s.priceErr
	}
	price := 100_000.0
	if symbol == "ETHUSDT" {
		price = 4_000
	}
	return &domain.Ticker{Symbol: symbol, Price: price}, nil
}

func (s *stubSources) MacroData(context.Context) (*fred.MacroData, error) {
	s.fredCalls.Add(1)
	if s.fredErr != nil {
		return nil, s.fredErr
	}
	rate := 4.33
	return &fred.MacroData{FedFundsRate: &rate}, nil
}

func (s *stubSources) Current(context.Context) (*feargreed.Index, error) {
	return &feargreed.Index{Value: 65, Classification: "Greed"}, nil
}

func (s *stubSources) Hashrate(context.Context) (*onchain.Hashrate, error) {
	return &onchain.Hashrate{Value: 1e20, Unit: "H/s"}, nil
}

func (s *stubSources) HalvingInfo(context.Context) (*onchain.HalvingInfo, error) {
	return &onchain.HalvingInfo{CurrentHeight: 859_000}, nil
}

func (s *stubSources) AHR999(context.Context) (*onchain.AHR999, error) {
	return &onchain.AHR999{Value: 1.1}, nil
}

func (s *stubSources) WMA200(context.Context) (*onchain.WMA200, error) {
	return &onchain.WMA200{Value: 40_000}, nil
}

func (s *stubSources) MVRV(context.Context) (*onchain.MVRV, error) {
	return &onchain.MVRV{Value: 2.1, Classification: "normal"}, nil
}

func (s *stubSources) MinersData(context.Context) (*mining.MinersData, error) {
	return &mining.MinersData{TotalMiners: 10}, nil
}

func (s *stubSources) LatestSupply(context.Context) (*float64, error) {
	supply := 251.5e9
	return &supply, nil
}

func (s *stubSources) NAVRatio(_ context.Context, symbol string, btcPrice float64) (*stocknav.NAV, error) {
	s.navBTCPrice.Store(int64(btcPrice * 100))
	return &stocknav.NAV{Symbol: symbol, Ratio: 2.0}, nil
}

func (s *stubSources) Indicators(_ context.Context, btcPrice, _ float64) []etfonchain.Card {
	s.etfBTCPrice.Store(int64(btcPrice * 100))
	return []etfonchain.Card{{Abbr: "BTC-ETF-AUM", Value: "$90.0B"}}
}

func newTestService(stub *stubSources) *Service {
	return New(Sources{
		Prices:     stub,
		Macro:      stub,
		Sentiment:  stub,
		Chain:      stub,
		Mining:     stub,
		Stablecoin: stub,
		NAV:        stub,
		ETF:        stub,
	}, zerolog.New(nil).Level(zerolog.Disabled))
}

func TestIndicatorsAggregatesAllSources(t *testing.T) {
	stub := &stubSources{}
	svc := newTestService(stub)

	out := svc.Indicators(context.Background())

	assert.InDelta(t, 100_000, out.CurrentBTCUSD, 1e-9)
	assert.InDelta(t, 4_000, out.CurrentETHUSD, 1e-9)
	require.NotNil(t, out.Fred)
	require.NotNil(t, out.FearGreed)
	assert.Equal(t, 65, out.FearGreed.Value)
	require.NotNil(t, out.Halving)
	require.NotNil(t, out.MSTRNav)
	require.NotNil(t, out.StablecoinSupply)
	require.Len(t, out.ETFOnchain, 1)

	// NAV and ETF valuations saw the live BTC price.
	assert.Equal(t, int64(100_000*100), stub.navBTCPrice.Load())
	assert.Equal(t, int64(100_000*100), stub.etfBTCPrice.Load())
}

func TestIndicatorsCachesWithinTTL(t *testing.T) {
	stub := &stubSources{}
	svc := newTestService(stub)

	svc.Indicators(context.Background())
	first := stub.fredCalls.Load()
	svc.Indicators(context.Background())

	assert.Equal(t, first, stub.fredCalls.Load(), "fred fetch should be served from cache")
	// Prices cached too (1 minute TTL).
	assert.Equal(t, int64(2), stub.priceCalls.Load())
}

func TestIndicatorsDoesNotCacheFailures(t *testing.T) {
	stub := &stubSources{fredErr: errors.New("down")}
	svc := newTestService(stub)

	out := svc.Indicators(context.Background())
	assert.Nil(t, out.Fred)

	svc.Indicators(context.Background())
	assert.Equal(t, int64(2), stub.fredCalls.Load(), "failed fetch must be retried")
}

func TestIndicatorsSurvivesPriceOutage(t *testing.T) {
	stub := &stubSources{priceErr: errors.New("binance down")}
	svc := newTestService(stub)

	out := svc.Indicators(context.Background())
	assert.Nil(t, out.BTCPrice)
	assert.Zero(t, out.CurrentBTCUSD)
	// The rest still resolves.
	require.NotNil(t, out.FearGreed)
}

func TestFreshness(t *testing.T) {
	stub := &stubSources{}
	svc := newTestService(stub)
	svc.Indicators(context.Background())

	fresh := svc.Freshness()
	assert.Contains(t, fresh, "btc_price")
	assert.Contains(t, fresh, "fear_greed")
	assert.GreaterOrEqual(t, fresh["btc_price"], 0.0)
	assert.Less(t, fresh["btc_price"], 5.0)
}
