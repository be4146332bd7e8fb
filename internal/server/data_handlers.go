package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"marketd/internal/domain"
)

// maxKlineLimit caps one K-line query response.
const maxKlineLimit = 500

// marketEntry is one row in the snapshot markets list.
type marketEntry struct {
	Symbol       string     `json:"symbol"`
	Price        float64    `json:"price"`
	ChangePct24h float64    `json:"change_pct_24h"`
	High24h      float64    `json:"high_24h"`
	Low24h       float64    `json:"low_24h"`
	Volume24h    float64    `json:"volume_24h"`
	IsLive       bool       `json:"is_live"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// flowPoint is one ETF daily flow reading.
type flowPoint struct {
	ValueUSD float64 `json:"value_usd"`
	Date     string  `json:"date"`
}

// holdingPoint is one scraped on-chain holdings reading.
type holdingPoint struct {
	Value float64 `json:"value"`
	Date  string  `json:"date"`
}

// Scraped data types surfaced in the snapshot.
var (
	flowTypes = map[string]string{
		"btc": "btc_etf_flow",
		"eth": "eth_etf_flow",
		"sol": "sol_etf_flow",
	}
	holdingTypes = map[string]string{
		"ibit_btc": "ibit_holdings_btc",
		"ibit_eth": "ibit_holdings_eth",
		"fbtc_btc": "fbtc_holdings_btc",
		"fbtc_eth": "fbtc_holdings_eth",
	}
	holdingTotalTypes = map[string]string{
		"blackrock": "blackrock_total_usd",
		"fidelity":  "fidelity_total_usd",
	}
)

// classifyFearGreed maps the index value to its label. Computed here
// rather than trusting the upstream string.
func classifyFearGreed(value int) string {
	switch {
	case value <= 24:
		return "Extreme Fear"
	case value <= 44:
		return "Fear"
	case value <= 55:
		return "Neutral"
	case value <= 74:
		return "Greed"
	default:
		return "Extreme Greed"
	}
}

// handleSnapshot assembles the full dashboard snapshot: per-symbol
// market state, macro indicators, ETF flows and holdings, and source
// freshness.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	symbols, err := s.deps.Market.Symbols()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load watchlist")
		return
	}

	markets := make([]marketEntry, 0, len(symbols))
	for _, symbol := range symbols {
		if ticker, err := s.deps.Tickers.Ticker24h(ctx, symbol+"USDT"); err == nil {
			markets = append(markets, marketEntry{
				Symbol:       symbol,
				Price:        ticker.Price,
				ChangePct24h: ticker.ChangePct24h,
				High24h:      ticker.High24h,
				Low24h:       ticker.Low24h,
				Volume24h:    ticker.Volume24h,
				IsLive:       true,
			})
			continue
		}

		cached, err := s.deps.Market.Get(symbol)
		if err != nil || cached == nil {
			continue
		}
		updatedAt := cached.UpdatedAt
		markets = append(markets, marketEntry{
			Symbol:       symbol,
			Price:        cached.Price,
			ChangePct24h: cached.ChangePct24h,
			High24h:      cached.High24h,
			Low24h:       cached.Low24h,
			Volume24h:    cached.Volume24h,
			IsLive:       false,
			UpdatedAt:    &updatedAt,
		})
	}

	macro := s.deps.Macro.Indicators(ctx)
	if macro.FearGreed != nil {
		// Copy before overriding the upstream classification.
		fg := *macro.FearGreed
		fg.Classification = classifyFearGreed(fg.Value)
		macro.FearGreed = &fg
	}

	flows := make(map[string]*flowPoint, len(flowTypes))
	for asset, dataType := range flowTypes {
		flows[asset] = s.flowFor(dataType)
	}

	holdings := make(map[string]*holdingPoint, len(holdingTypes))
	for key, dataType := range holdingTypes {
		holdings[key] = s.holdingFor(dataType)
	}
	totals := make(map[string]*holdingPoint, len(holdingTotalTypes))
	for key, dataType := range holdingTotalTypes {
		totals[key] = s.holdingFor(dataType)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"markets":   markets,
		"macro":     macro,
		"etf_flows": flows,
		"etf_holdings": map[string]any{
			"holdings": holdings,
			"totals":   totals,
		},
		"data_freshness": s.deps.Macro.Freshness(),
		"generated_at":   time.Now().UTC(),
	})
}

func (s *Server) flowFor(dataType string) *flowPoint {
	d, err := s.deps.Crawled.LatestByType(dataType)
	if err != nil || d == nil {
		return nil
	}
	return &flowPoint{ValueUSD: d.Value, Date: d.Date.Format("2006-01-02")}
}

func (s *Server) holdingFor(dataType string) *holdingPoint {
	d, err := s.deps.Crawled.LatestByType(dataType)
	if err != nil || d == nil {
		return nil
	}
	return &holdingPoint{Value: d.Value, Date: d.Date.Format("2006-01-02")}
}

// handleKlines returns bars for one symbol, oldest first. Unless
// skip_sync is set, the pair is synced first so a cold store backfills
// on the first request.
func (s *Server) handleKlines(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	if symbol == "" {
		s.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	if !strings.HasSuffix(symbol, "USDT") {
		symbol += "USDT"
	}

	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = r.URL.Query().Get("interval")
	}
	if timeframe == "" {
		timeframe = domain.Interval1h
	}
	if !domain.ValidIntervals[timeframe] {
		s.writeError(w, http.StatusBadRequest, "invalid timeframe: "+timeframe)
		return
	}

	limit := queryInt(r, "limit", 100)
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}

	if !queryBool(r, "skip_sync") {
		if _, err := s.deps.Sync.Incremental(r.Context(), symbol, timeframe); err != nil {
			// Serve whatever is stored rather than failing the read.
			s.log.Warn().Err(err).Str("symbol", symbol).Str("timeframe", timeframe).
				Msg("Kline sync failed, serving stored data")
		}
	}

	bars, err := s.deps.Klines.Recent(symbol, timeframe, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to query klines")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbol":    symbol,
		"timeframe": timeframe,
		"count":     len(bars),
		"klines":    bars,
	})
}

// signalRequest is the POST /data/signals body.
type signalRequest struct {
	AgentID       string          `json:"agent_id"`
	StrategyName  string          `json:"strategy_name"`
	Symbol        string          `json:"symbol"`
	Action        string          `json:"action"`
	Conviction    *float64        `json:"conviction"`
	PriceAtSignal *float64        `json:"price_at_signal"`
	Reason        string          `json:"reason"`
	RawAnalysis   json.RawMessage `json:"raw_analysis"`
	StopLoss      *float64        `json:"stop_loss"`
	TakeProfit    *float64        `json:"take_profit"`
}

func (s *Server) handleCreateSignal(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	req.Action = strings.ToUpper(strings.TrimSpace(req.Action))
	if req.Symbol == "" {
		s.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	if !domain.ValidAction(req.Action) {
		s.writeError(w, http.StatusBadRequest, "action must be one of BUY, SELL, HOLD")
		return
	}

	id, err := s.deps.Signals.Insert(&domain.Signal{
		AgentID:       req.AgentID,
		StrategyName:  req.StrategyName,
		Symbol:        req.Symbol,
		Action:        req.Action,
		Conviction:    req.Conviction,
		PriceAtSignal: req.PriceAtSignal,
		Reason:        req.Reason,
		RawAnalysis:   req.RawAnalysis,
		StopLoss:      req.StopLoss,
		TakeProfit:    req.TakeProfit,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to store signal")
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleListSignals(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	limit := queryInt(r, "limit", 50)

	signals, err := s.deps.Signals.Recent(limit, symbol)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to query signals")
		return
	}
	if signals == nil {
		signals = []domain.Signal{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(signals),
		"signals": signals,
	})
}

// queryBool reports whether a query parameter is set truthy.
func queryBool(r *http.Request, key string) bool {
	switch strings.ToLower(r.URL.Query().Get(key)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// queryInt parses an integer query parameter with a fallback.
func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
