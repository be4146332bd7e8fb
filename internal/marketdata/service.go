// Package marketdata aggregates every macro indicator source behind a
// per-source TTL cache. Prices are fetched first because the NAV and
// ETF valuations depend on them; the remaining sources run
// concurrently, each bounded by a 20 second timeout.
package marketdata

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marketd/internal/clients/etfonchain"
	"marketd/internal/clients/feargreed"
	"marketd/internal/clients/fred"
	"marketd/internal/clients/mining"
	"marketd/internal/clients/onchain"
	"marketd/internal/clients/stocknav"
	"marketd/internal/domain"
)

// fetchTimeout bounds each individual source fetch.
const fetchTimeout = 20 * time.Second

// defaultTTL applies to keys missing from cacheTTL.
const defaultTTL = 5 * time.Minute

// cacheTTL tunes how long each source's last good value stays fresh.
var cacheTTL = map[string]time.Duration{
	"fred":        time.Hour,
	"fear_greed":  5 * time.Minute,
	"hashrate":    10 * time.Minute,
	"halving":     time.Hour,
	"ahr999":      10 * time.Minute,
	"wma200":      time.Hour,
	"mvrv":        time.Hour,
	"miners":      30 * time.Minute,
	"stablecoin":  10 * time.Minute,
	"mstr_nav":    5 * time.Minute,
	"sbet_nav":    5 * time.Minute,
	"bmnr_nav":    5 * time.Minute,
	"etf_onchain": 10 * time.Minute,
	"btc_price":   time.Minute,
	"eth_price":   time.Minute,
}

// Indicators is the aggregated snapshot. A nil field means the source
// had no fresh value and the fetch failed.
type Indicators struct {
	BTCPrice         *domain.Ticker       `json:"btc_price"`
	ETHPrice         *domain.Ticker       `json:"eth_price"`
	Fred             *fred.MacroData      `json:"fred"`
	FearGreed        *feargreed.Index     `json:"fear_greed"`
	Hashrate         *onchain.Hashrate    `json:"hashrate"`
	Halving          *onchain.HalvingInfo `json:"halving"`
	AHR999           *onchain.AHR999      `json:"ahr999"`
	WMA200           *onchain.WMA200      `json:"wma200"`
	MVRV             *onchain.MVRV        `json:"mvrv"`
	Miners           *mining.MinersData   `json:"miners"`
	StablecoinSupply *float64             `json:"stablecoin_supply"`
	MSTRNav          *stocknav.NAV        `json:"mstr_nav"`
	SBETNav          *stocknav.NAV        `json:"sbet_nav"`
	BMNRNav          *stocknav.NAV        `json:"bmnr_nav"`
	ETFOnchain       []etfonchain.Card    `json:"etf_onchain"`
	CurrentBTCUSD    float64              `json:"current_btc_usd"`
	CurrentETHUSD    float64              `json:"current_eth_usd"`
}

type PriceSource interface {
	Price(ctx context.Context, symbol string) (*domain.Ticker, error)
}

type MacroSource interface {
	MacroData(ctx context.Context) (*fred.MacroData, error)
}

type SentimentSource interface {
	Current(ctx context.Context) (*feargreed.Index, error)
}

type ChainSource interface {
	Hashrate(ctx context.Context) (*onchain.Hashrate, error)
	HalvingInfo(ctx context.Context) (*onchain.HalvingInfo, error)
	AHR999(ctx context.Context) (*onchain.AHR999, error)
	WMA200(ctx context.Context) (*onchain.WMA200, error)
	MVRV(ctx context.Context) (*onchain.MVRV, error)
}

type MiningSource interface {
	MinersData(ctx context.Context) (*mining.MinersData, error)
}

type SupplySource interface {
	LatestSupply(ctx context.Context) (*float64, error)
}

type NAVSource interface {
	NAVRatio(ctx context.Context, symbol string, btcPrice float64) (*stocknav.NAV, error)
}

type ETFSource interface {
	Indicators(ctx context.Context, btcPrice, ethPrice float64) []etfonchain.Card
}

// Sources bundles the collectors the service aggregates.
type Sources struct {
	Prices     PriceSource
	Macro      MacroSource
	Sentiment  SentimentSource
	Chain      ChainSource
	Mining     MiningSource
	Stablecoin SupplySource
	NAV        NAVSource
	ETF        ETFSource
}

type cacheEntry struct {
	value    any
	cachedAt time.Time
}

type Service struct {
	src Sources
	log zerolog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

func New(src Sources, log zerolog.Logger) *Service {
	return &Service{
		src:   src,
		log:   log.With().Str("service", "marketdata").Logger(),
		cache: make(map[string]cacheEntry),
	}
}

// Indicators fetches every source, serving fresh cached values where
// available. Failed sources come back nil rather than failing the
// whole snapshot.
func (s *Service) Indicators(ctx context.Context) *Indicators {
	out := &Indicators{}

	// Prices first: NAV and ETF valuations depend on them.
	var priceWG sync.WaitGroup
	priceWG.Add(2)
	go func() {
		defer priceWG.Done()
		out.BTCPrice = fetchCached(ctx, s, "btc_price", func(ctx context.Context) (*domain.Ticker, error) {
			return s.src.Prices.Price(ctx, "BTCUSDT")
		})
	}()
	go func() {
		defer priceWG.Done()
		out.ETHPrice = fetchCached(ctx, s, "eth_price", func(ctx context.Context) (*domain.Ticker, error) {
			return s.src.Prices.Price(ctx, "ETHUSDT")
		})
	}()
	priceWG.Wait()

	if out.BTCPrice != nil {
		out.CurrentBTCUSD = out.BTCPrice.Price
	}
	if out.ETHPrice != nil {
		out.CurrentETHUSD = out.ETHPrice.Price
	}

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	run(func() { out.Fred = fetchCached(ctx, s, "fred", s.src.Macro.MacroData) })
	run(func() { out.FearGreed = fetchCached(ctx, s, "fear_greed", s.src.Sentiment.Current) })
	run(func() { out.Hashrate = fetchCached(ctx, s, "hashrate", s.src.Chain.Hashrate) })
	run(func() { out.Halving = fetchCached(ctx, s, "halving", s.src.Chain.HalvingInfo) })
	run(func() { out.AHR999 = fetchCached(ctx, s, "ahr999", s.src.Chain.AHR999) })
	run(func() { out.WMA200 = fetchCached(ctx, s, "wma200", s.src.Chain.WMA200) })
	run(func() { out.MVRV = fetchCached(ctx, s, "mvrv", s.src.Chain.MVRV) })
	run(func() { out.Miners = fetchCached(ctx, s, "miners", s.src.Mining.MinersData) })
	run(func() { out.StablecoinSupply = fetchCached(ctx, s, "stablecoin", s.src.Stablecoin.LatestSupply) })
	run(func() { out.MSTRNav = s.navFor(ctx, "mstr_nav", "MSTR", out.CurrentBTCUSD) })
	run(func() { out.SBETNav = s.navFor(ctx, "sbet_nav", "SBET", out.CurrentBTCUSD) })
	run(func() { out.BMNRNav = s.navFor(ctx, "bmnr_nav", "BMNR", out.CurrentBTCUSD) })
	run(func() {
		out.ETFOnchain = fetchCached(ctx, s, "etf_onchain", func(ctx context.Context) ([]etfonchain.Card, error) {
			return s.src.ETF.Indicators(ctx, out.CurrentBTCUSD, out.CurrentETHUSD), nil
		})
	})
	wg.Wait()

	return out
}

func (s *Service) navFor(ctx context.Context, key, symbol string, btcPrice float64) *stocknav.NAV {
	return fetchCached(ctx, s, key, func(ctx context.Context) (*stocknav.NAV, error) {
		return s.src.NAV.NAVRatio(ctx, symbol, btcPrice)
	})
}

// Freshness reports the age of each cached source in seconds.
func (s *Service) Freshness() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]float64, len(s.cache))
	now := time.Now()
	for key, entry := range s.cache {
		out[key] = now.Sub(entry.cachedAt).Seconds()
	}
	return out
}

func ttlFor(key string) time.Duration {
	if ttl, ok := cacheTTL[key]; ok {
		return ttl
	}
	return defaultTTL
}

// fetchCached returns the cached value while fresh, otherwise invokes
// fn with the fetch timeout. Only non-nil results are cached so a
// failure never shadows the next attempt.
func fetchCached[T any](ctx context.Context, s *Service, key string, fn func(context.Context) (T, error)) T {
	var zero T

	s.mu.RLock()
	entry, ok := s.cache[key]
	s.mu.RUnlock()
	if ok && time.Since(entry.cachedAt) < ttlFor(key) {
		if v, ok := entry.value.(T); ok {
			return v
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	v, err := fn(fetchCtx)
	if err != nil {
		s.log.Warn().Err(err).Str("source", key).Msg("Fetch failed")
		return zero
	}
	if isNil(v) {
		return zero
	}

	s.mu.Lock()
	s.cache[key] = cacheEntry{value: v, cachedAt: time.Now()}
	s.mu.Unlock()
	return v
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
