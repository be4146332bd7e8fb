package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketd/internal/clients/feargreed"
	"marketd/internal/domain"
	"marketd/internal/marketdata"
	"marketd/internal/modules/analysis"
	"marketd/internal/modules/klines"
	"marketd/internal/modules/market"
	"marketd/internal/monitor"
)

type fakeMarket struct {
	symbols []string
	cached  map[string]*market.CachedTicker
}

func (f *fakeMarket) Symbols() ([]string, error) { return f.symbols, nil }

func (f *fakeMarket) Get(symbol string) (*market.CachedTicker, error) {
	return f.cached[symbol], nil
}

type fakeTickers struct {
	err error
}

func (f *fakeTickers) Ticker24h(_ context.Context, symbol string) (*domain.Ticker, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Ticker{Symbol: symbol, Price: 100_000, ChangePct24h: 1.5}, nil
}

type fakeMacro struct{}

func (fakeMacro) Indicators(context.Context) *marketdata.Indicators {
	return &marketdata.Indicators{
		FearGreed:     &feargreed.Index{Value: 20, Classification: "upstream label"},
		CurrentBTCUSD: 100_000,
	}
}

func (fakeMacro) Freshness() map[string]float64 {
	return map[string]float64{"fear_greed": 1.0}
}

type fakeCrawled struct {
	data map[string]*domain.CrawledData
}

func (f *fakeCrawled) LatestByType(dataType string) (*domain.CrawledData, error) {
	return f.data[dataType], nil
}

type fakeKlines struct {
	bars     []domain.Kline
	coverage []klines.Coverage

	gotSymbol   string
	gotInterval string
	gotLimit    int
}

func (f *fakeKlines) Recent(symbol, interval string, limit int) ([]domain.Kline, error) {
	f.gotSymbol, f.gotInterval, f.gotLimit = symbol, interval, limit
	return f.bars, nil
}

func (f *fakeKlines) AllCoverage() ([]klines.Coverage, error) { return f.coverage, nil }

type fakeSyncer struct {
	calls []string
	err   error
	fill  func()
}

func (f *fakeSyncer) Incremental(_ context.Context, symbol, interval string) (int, error) {
	f.calls = append(f.calls, symbol+"/"+interval)
	if f.fill != nil {
		f.fill()
	}
	return 0, f.err
}

type fakeSignals struct {
	inserted *domain.Signal
	stored   []domain.Signal
}

func (f *fakeSignals) Insert(s *domain.Signal) (int64, error) {
	f.inserted = s
	return 7, nil
}

func (f *fakeSignals) Recent(_ int, _ string) ([]domain.Signal, error) {
	return f.stored, nil
}

type fakeAnalyzer struct {
	cfg analysis.Config
	res *analysis.Result
	err error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, cfg analysis.Config) (*analysis.Result, error) {
	f.cfg = cfg
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

type fakePinger struct {
	err error
}

func (f *fakePinger) QuickCheck(context.Context) error { return f.err }

type testDeps struct {
	market   *fakeMarket
	tickers  *fakeTickers
	crawled  *fakeCrawled
	klines   *fakeKlines
	syncer   *fakeSyncer
	signals  *fakeSignals
	analyzer *fakeAnalyzer
	pinger   *fakePinger
}

func newTestServer(t *testing.T) (*Server, *testDeps) {
	t.Helper()
	d := &testDeps{
		market:   &fakeMarket{symbols: []string{"BTC"}, cached: map[string]*market.CachedTicker{}},
		tickers:  &fakeTickers{},
		crawled:  &fakeCrawled{data: map[string]*domain.CrawledData{}},
		klines:   &fakeKlines{},
		syncer:   &fakeSyncer{},
		signals:  &fakeSignals{},
		analyzer: &fakeAnalyzer{res: &analysis.Result{Symbol: "BTC", Action: domain.ActionBuy, Score: 70, Grade: "B"}},
		pinger:   &fakePinger{},
	}

	srv := New(":0", Deps{
		Log:      zerolog.New(nil).Level(zerolog.Disabled),
		Market:   d.market,
		Tickers:  d.tickers,
		Macro:    fakeMacro{},
		Crawled:  d.crawled,
		Klines:   d.klines,
		Sync:     d.syncer,
		Signals:  d.signals,
		Analysis: d.analyzer,
		Monitor:  monitor.New(),
		DB:       d.pinger,
	})
	return srv, d
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestSnapshotLiveMarket(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doJSON(t, srv, http.MethodGet, "/api/v1/data/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	markets := body["markets"].([]any)
	require.Len(t, markets, 1)
	entry := markets[0].(map[string]any)
	assert.Equal(t, "BTC", entry["symbol"])
	assert.Equal(t, true, entry["is_live"])
	assert.InDelta(t, 100_000, entry["price"].(float64), 1e-9)
}

func TestSnapshotFallsBackToCache(t *testing.T) {
	srv, d := newTestServer(t)
	d.tickers.err = errors.New("exchange down")
	d.market.cached["BTC"] = &market.CachedTicker{
		Ticker:    domain.Ticker{Symbol: "BTC", Price: 99_500},
		UpdatedAt: time.Now().UTC(),
	}

	rec, body := doJSON(t, srv, http.MethodGet, "/api/v1/data/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	markets := body["markets"].([]any)
	require.Len(t, markets, 1)
	entry := markets[0].(map[string]any)
	assert.Equal(t, false, entry["is_live"])
	assert.InDelta(t, 99_500, entry["price"].(float64), 1e-9)
}

func TestSnapshotClassifiesFearGreedLocally(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doJSON(t, srv, http.MethodGet, "/api/v1/data/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	macro := body["macro"].(map[string]any)
	fg := macro["fear_greed"].(map[string]any)
	assert.Equal(t, "Extreme Fear", fg["value_classification"])
}

func TestSnapshotIncludesFlows(t *testing.T) {
	srv, d := newTestServer(t)
	d.crawled.data["btc_etf_flow"] = &domain.CrawledData{
		DataType: "btc_etf_flow",
		Date:     time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC),
		Value:    125_000_000,
	}

	rec, body := doJSON(t, srv, http.MethodGet, "/api/v1/data/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	flows := body["etf_flows"].(map[string]any)
	btc := flows["btc"].(map[string]any)
	assert.InDelta(t, 125e6, btc["value_usd"].(float64), 1)
	assert.Equal(t, "2026-08-21", btc["date"])
	assert.Nil(t, flows["sol"])
}

func TestClassifyFearGreedBuckets(t *testing.T) {
	cases := map[int]string{
		5: "Extreme Fear", 24: "Extreme Fear",
		25: "Fear", 44: "Fear",
		45: "Neutral", 55: "Neutral",
		56: "Greed", 74: "Greed",
		75: "Extreme Greed", 99: "Extreme Greed",
	}
	for value, want := range cases {
		assert.Equal(t, want, classifyFearGreed(value), "value %d", value)
	}
}

func TestKlinesNormalizesSymbolAndCapsLimit(t *testing.T) {
	srv, d := newTestServer(t)

	rec, _ := doJSON(t, srv, http.MethodGet, "/api/v1/data/klines/btc?timeframe=4h&limit=9999", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BTCUSDT", d.klines.gotSymbol)
	assert.Equal(t, "4h", d.klines.gotInterval)
	assert.Equal(t, 500, d.klines.gotLimit)
}

func TestKlinesSyncsBeforeRead(t *testing.T) {
	srv, d := newTestServer(t)
	// A cold store fills on the sync triggered by the read.
	d.syncer.fill = func() {
		d.klines.bars = make([]domain.Kline, 100)
	}

	rec, body := doJSON(t, srv, http.MethodGet, "/api/v1/data/klines/BTC?timeframe=1h&limit=100", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"BTCUSDT/1h"}, d.syncer.calls)
	assert.EqualValues(t, 100, body["count"])
}

func TestKlinesSkipSync(t *testing.T) {
	srv, d := newTestServer(t)

	rec, _ := doJSON(t, srv, http.MethodGet, "/api/v1/data/klines/BTC?timeframe=1h&skip_sync=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, d.syncer.calls)
}

func TestKlinesServesStoredDataWhenSyncFails(t *testing.T) {
	srv, d := newTestServer(t)
	d.syncer.err = errors.New("exchange down")
	d.klines.bars = []domain.Kline{{Symbol: "BTCUSDT", Interval: "1h", Close: 100_000}}

	rec, body := doJSON(t, srv, http.MethodGet, "/api/v1/data/klines/BTC?timeframe=1h", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])
}

func TestKlinesIntervalParamAlias(t *testing.T) {
	srv, d := newTestServer(t)

	rec, _ := doJSON(t, srv, http.MethodGet, "/api/v1/data/klines/BTC?interval=15m&skip_sync=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "15m", d.klines.gotInterval)
}

func TestKlinesRejectsBadTimeframe(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doJSON(t, srv, http.MethodGet, "/api/v1/data/klines/BTC?timeframe=7m", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "invalid timeframe")
}

func TestCreateSignal(t *testing.T) {
	srv, d := newTestServer(t)

	rec, body := doJSON(t, srv, http.MethodPost, "/api/v1/data/signals", map[string]any{
		"symbol": "btc", "action": "buy", "conviction": 72.5,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.EqualValues(t, 7, body["id"])

	require.NotNil(t, d.signals.inserted)
	assert.Equal(t, "BTC", d.signals.inserted.Symbol)
	assert.Equal(t, domain.ActionBuy, d.signals.inserted.Action)
}

func TestCreateSignalValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, _ := doJSON(t, srv, http.MethodPost, "/api/v1/data/signals", map[string]any{
		"action": "BUY",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := doJSON(t, srv, http.MethodPost, "/api/v1/data/signals", map[string]any{
		"symbol": "BTC", "action": "YOLO",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "BUY, SELL, HOLD")
}

func TestListSignalsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doJSON(t, srv, http.MethodGet, "/api/v1/data/signals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["count"])
	assert.NotNil(t, body["signals"])
}

func TestAnalyzeAppliesOverrides(t *testing.T) {
	srv, d := newTestServer(t)

	rec, body := doJSON(t, srv, http.MethodPost, "/api/v1/ta/analyze", map[string]any{
		"symbol":        "eth",
		"timeframes":    []string{"1h", "4h"},
		"klines_limit":  200,
		"buy_threshold": 70,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "ETH", d.analyzer.cfg.Symbol)
	assert.Equal(t, []string{"1h", "4h"}, d.analyzer.cfg.Timeframes)
	assert.Equal(t, 200, d.analyzer.cfg.KlinesLimit)
	assert.InDelta(t, 70, d.analyzer.cfg.BuyThreshold, 1e-9)
	// Unset fields keep defaults.
	assert.InDelta(t, 35, d.analyzer.cfg.SellThreshold, 1e-9)

	assert.Equal(t, "BUY", body["signal"])
	assert.Equal(t, "B", body["grade"])
}

func TestAnalyzeRejectsBadTimeframe(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doJSON(t, srv, http.MethodPost, "/api/v1/ta/analyze", map[string]any{
		"symbol": "BTC", "timeframes": []string{"2h"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "invalid timeframe 2h")
	assert.Contains(t, body["error"], "15m")
}

func TestKlinesStatus(t *testing.T) {
	srv, d := newTestServer(t)
	d.klines.coverage = []klines.Coverage{
		{Symbol: "BTCUSDT", Interval: "1h", Count: 300, OldestMS: 1_700_000_000_000, NewestMS: 1_701_000_000_000},
		{Symbol: "ETHUSDT", Interval: "1h", Count: 200},
	}

	rec, body := doJSON(t, srv, http.MethodGet, "/api/v1/ta/klines-status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 500, body["total_entries"])
	rows := body["coverage"].([]any)
	require.Len(t, rows, 2)
	first := rows[0].(map[string]any)
	assert.Equal(t, "BTCUSDT", first["symbol"])
	assert.Contains(t, first["oldest"], "2023-11-14")
}

func TestStatusReportsMonitorAndUptime(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.deps.Monitor.Record("Binance", "REST", true, 15, "")

	rec, body := doJSON(t, srv, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	services := body["services"].([]any)
	require.Len(t, services, 1)
	assert.GreaterOrEqual(t, body["uptime_seconds"].(float64), 0.0)
	assert.Contains(t, body, "system")
}

func TestHealth(t *testing.T) {
	srv, d := newTestServer(t)

	rec, body := doJSON(t, srv, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	d.pinger.err = errors.New("locked")
	rec, body = doJSON(t, srv, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body["status"])
}
