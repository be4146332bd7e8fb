// Package di wires the application: database, repositories, collectors,
// the aggregation service, the analysis engine, the crawler, the
// scheduler, and the HTTP server.
package di

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"marketd/internal/clients/binance"
	"marketd/internal/clients/etfonchain"
	"marketd/internal/clients/feargreed"
	"marketd/internal/clients/fred"
	"marketd/internal/clients/mining"
	"marketd/internal/clients/onchain"
	"marketd/internal/clients/stablecoin"
	"marketd/internal/clients/stocknav"
	"marketd/internal/clients/yahoo"
	"marketd/internal/config"
	"marketd/internal/database"
	"marketd/internal/marketdata"
	"marketd/internal/modules/analysis"
	"marketd/internal/modules/crawler"
	"marketd/internal/modules/klines"
	"marketd/internal/modules/market"
	"marketd/internal/modules/portfolio"
	"marketd/internal/modules/signals"
	"marketd/internal/monitor"
	"marketd/internal/ratelimit"
	"marketd/internal/scheduler"
	"marketd/internal/server"
)

// Container holds every wired component.
type Container struct {
	Cfg *config.Config
	Log zerolog.Logger

	DB      *database.DB
	Monitor *monitor.Monitor

	MarketRepo    *market.Repository
	KlineRepo     *klines.Repository
	SignalRepo    *signals.Repository
	CrawlerRepo   *crawler.Repository
	PortfolioRepo *portfolio.Repository

	Binance    *binance.Client
	MarketData *marketdata.Service

	Syncer   *klines.Syncer
	Analysis *analysis.Engine

	BrowserPool *crawler.BrowserPool
	Crawler     *crawler.Supervisor

	Scheduler *scheduler.Scheduler
	Server    *server.Server
}

// Build wires the full application graph.
func Build(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{Cfg: cfg, Log: log}

	db, err := database.New(database.Config{Path: cfg.DatabasePath})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	c.DB = db
	c.Monitor = monitor.New()

	c.MarketRepo = market.NewRepository(db.Conn(), log)
	c.KlineRepo = klines.NewRepository(db.Conn(), log)
	c.SignalRepo = signals.NewRepository(db.Conn(), log)
	c.CrawlerRepo = crawler.NewRepository(db.Conn(), log)
	c.PortfolioRepo = portfolio.NewRepository(db.Conn(), log)

	limiter := ratelimit.New(cfg.KlineRateLimit, cfg.KlineRateBurst, cfg.KlineMaxConcurrent)
	c.Binance = binance.New(binance.Config{
		APIURL:  cfg.BinanceAPIURL,
		DataURL: cfg.BinanceDataURL,
	}, limiter, c.Monitor, log)

	c.Syncer = klines.NewSyncer(c.KlineRepo, c.Binance, c.MarketRepo, log)
	c.Analysis = analysis.NewEngine(c.Syncer, c.Binance, log)

	yahooClient := yahoo.New("", c.Monitor, log)
	c.MarketData = marketdata.New(marketdata.Sources{
		Prices:     c.Binance,
		Macro:      fred.New(fred.Config{APIKey: cfg.FredAPIKey}, c.Monitor, log),
		Sentiment:  feargreed.New(cfg.FearGreedAPIURL, c.Monitor, log),
		Chain:      onchain.New(onchain.Config{}, c.Binance, c.Monitor, log),
		Mining:     mining.New("", c.Monitor, log),
		Stablecoin: stablecoin.New("", c.Monitor, log),
		NAV:        stocknav.New(yahooClient, log),
		ETF:        etfonchain.New(etfonchain.Config{}, yahooClient, c.Monitor, log),
	}, log)

	c.BrowserPool = crawler.NewBrowserPool(cfg.BrowserHeadless, log)
	c.Crawler = crawler.NewSupervisor(c.CrawlerRepo, c.BrowserPool, c.Monitor,
		time.Duration(cfg.CrawlTaskTimeoutSec)*time.Second,
		time.Duration(cfg.CrawlIntervalMinutes)*time.Minute, log)

	sched, err := scheduler.New(cfg.Timezone, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	c.Scheduler = sched
	if err := c.registerJobs(); err != nil {
		db.Close()
		return nil, err
	}

	c.Server = server.New(cfg.Addr(), server.Deps{
		Log:      log,
		Market:   c.MarketRepo,
		Tickers:  c.Binance,
		Macro:    c.MarketData,
		Crawled:  c.CrawlerRepo,
		Klines:   c.KlineRepo,
		Sync:     c.Syncer,
		Signals:  c.SignalRepo,
		Analysis: c.Analysis,
		Monitor:  c.Monitor,
		DB:       db,
	})

	return c, nil
}

func (c *Container) registerJobs() error {
	jobs := []struct {
		spec string
		job  scheduler.Job
	}{
		{"@every 1m", scheduler.NewMarketRefreshJob(c.Binance, c.MarketRepo, c.Log)},
		{"@every 5m", scheduler.NewCrawlerJob(c.Crawler)},
		{"@every 15m", scheduler.NewKlineSyncJob(c.Syncer, nil)},
		{"@every 1h", scheduler.NewSnapshotJob(c.MarketRepo, c.PortfolioRepo, c.Log)},
		{"@every 5m", scheduler.NewMonitorFlushJob(c.Monitor, c.Log)},
	}
	for _, j := range jobs {
		if err := c.Scheduler.Add(j.spec, j.job); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown stops background work and releases resources in dependency
// order.
func (c *Container) Shutdown(ctx context.Context) {
	if err := c.Scheduler.Stop(ctx); err != nil {
		c.Log.Warn().Err(err).Msg("Scheduler stop")
	}
	c.Crawler.Wait()
	c.BrowserPool.Close()
	if err := c.DB.Close(); err != nil {
		c.Log.Warn().Err(err).Msg("Database close")
	}
}
