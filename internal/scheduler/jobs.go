package scheduler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"marketd/internal/domain"
	"marketd/internal/modules/market"
	"marketd/internal/monitor"
)

// TickerSource fetches a live 24h ticker for one trading pair.
type TickerSource interface {
	Ticker24h(ctx context.Context, symbol string) (*domain.Ticker, error)
}

// MarketCache is the stored ticker cache behind the snapshot API.
// market.Repository implements it.
type MarketCache interface {
	Symbols() ([]string, error)
	Put(symbol string, t *domain.Ticker) error
	All() (map[string]market.CachedTicker, error)
}

// MarketRefreshJob refreshes the cached 24h ticker for every watched
// symbol.
type MarketRefreshJob struct {
	tickers TickerSource
	cache   MarketCache
	log     zerolog.Logger
}

func NewMarketRefreshJob(tickers TickerSource, cache MarketCache, log zerolog.Logger) *MarketRefreshJob {
	return &MarketRefreshJob{tickers: tickers, cache: cache, log: log}
}

func (j *MarketRefreshJob) Name() string { return "market_cache_refresh" }

func (j *MarketRefreshJob) Run(ctx context.Context) error {
	symbols, err := j.cache.Symbols()
	if err != nil {
		return fmt.Errorf("load watchlist: %w", err)
	}

	var failed int
	for _, symbol := range symbols {
		ticker, err := j.tickers.Ticker24h(ctx, symbol+"USDT")
		if err != nil {
			failed++
			j.log.Warn().Err(err).Str("symbol", symbol).Msg("Ticker refresh failed")
			continue
		}
		if err := j.cache.Put(symbol, ticker); err != nil {
			failed++
			j.log.Warn().Err(err).Str("symbol", symbol).Msg("Ticker cache write failed")
		}
	}

	if len(symbols) > 0 && failed == len(symbols) {
		return fmt.Errorf("all %d ticker refreshes failed", failed)
	}
	return nil
}

// Checker decides internally whether any work is due. The crawl
// supervisor implements it.
type Checker interface {
	Check(ctx context.Context) error
}

// CrawlerJob triggers the crawl supervisor, which starts whichever
// sources are due.
type CrawlerJob struct {
	sup Checker
}

func NewCrawlerJob(sup Checker) *CrawlerJob { return &CrawlerJob{sup: sup} }

func (j *CrawlerJob) Name() string { return "crawler_check" }

func (j *CrawlerJob) Run(ctx context.Context) error {
	return j.sup.Check(ctx)
}

// WatchedSyncer syncs all watched symbols for a set of timeframes.
type WatchedSyncer interface {
	SyncAllWatched(ctx context.Context, timeframes []string) error
}

// KlineSyncJob pulls the newest bars for every watched symbol across
// the analysis timeframes.
type KlineSyncJob struct {
	syncer     WatchedSyncer
	timeframes []string
}

func NewKlineSyncJob(syncer WatchedSyncer, timeframes []string) *KlineSyncJob {
	if len(timeframes) == 0 {
		timeframes = []string{
			domain.Interval15m, domain.Interval1h, domain.Interval4h, domain.Interval1d,
		}
	}
	return &KlineSyncJob{syncer: syncer, timeframes: timeframes}
}

func (j *KlineSyncJob) Name() string { return "klines_incremental_sync" }

func (j *KlineSyncJob) Run(ctx context.Context) error {
	return j.syncer.SyncAllWatched(ctx, j.timeframes)
}

// SnapshotStore persists one portfolio valuation row.
// portfolio.Repository implements it.
type SnapshotStore interface {
	Insert(totalUSD float64, detail any) (int64, error)
}

// SnapshotJob records an hourly valuation of the watched symbols from
// the market cache.
type SnapshotJob struct {
	cache MarketCache
	store SnapshotStore
	log   zerolog.Logger
}

func NewSnapshotJob(cache MarketCache, store SnapshotStore, log zerolog.Logger) *SnapshotJob {
	return &SnapshotJob{cache: cache, store: store, log: log}
}

func (j *SnapshotJob) Name() string { return "portfolio_snapshot" }

func (j *SnapshotJob) Run(_ context.Context) error {
	cached, err := j.cache.All()
	if err != nil {
		return fmt.Errorf("read market cache: %w", err)
	}
	if len(cached) == 0 {
		j.log.Debug().Msg("No cached prices, skipping snapshot")
		return nil
	}

	var total float64
	detail := make(map[string]float64, len(cached))
	for symbol, ticker := range cached {
		total += ticker.Price
		detail[symbol] = ticker.Price
	}

	if _, err := j.store.Insert(total, detail); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

// MonitorFlushJob periodically surfaces failing data sources so
// persistent problems show up in the logs, not just the status API.
type MonitorFlushJob struct {
	mon *monitor.Monitor
	log zerolog.Logger
}

func NewMonitorFlushJob(mon *monitor.Monitor, log zerolog.Logger) *MonitorFlushJob {
	return &MonitorFlushJob{mon: mon, log: log}
}

func (j *MonitorFlushJob) Name() string { return "monitor_flush" }

func (j *MonitorFlushJob) Run(_ context.Context) error {
	for _, entry := range j.mon.Latest() {
		if entry.Status == monitor.StatusOnline {
			continue
		}
		j.log.Warn().
			Str("source", entry.Name).
			Str("message", entry.Message).
			Time("last_check", entry.Timestamp).
			Msg("Data source unhealthy")
	}
	return nil
}
