// Package analysis fuses multi-timeframe technical indicators into a
// single conviction score with a BUY/SELL/HOLD action, a quality grade
// and ATR-based stop levels. Longer timeframes carry more weight: they
// set the direction, short timeframes only refine the entry.
package analysis

import (
	"context"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"marketd/internal/domain"
	"marketd/internal/indicators"
)

// minBarsPerTimeframe excludes timeframes without enough history for a
// meaningful indicator set.
const minBarsPerTimeframe = 30

// Timeframe weights when the daily timeframe participates.
var tfWeights4 = map[string]float64{
	domain.Interval1d:  0.40,
	domain.Interval4h:  0.30,
	domain.Interval1h:  0.20,
	domain.Interval15m: 0.10,
}

// Timeframe weights for the standard three-timeframe setup.
var tfWeights3 = map[string]float64{
	domain.Interval4h:  0.50,
	domain.Interval1h:  0.35,
	domain.Interval15m: 0.15,
}

// mainTFPreference orders the candidates for the execution timeframe
// that supplies the entry price and ATR.
var mainTFPreference = []string{domain.Interval1h, domain.Interval4h, domain.Interval15m, domain.Interval1d}

// Weights distribute a single timeframe's score across indicators.
type Weights struct {
	EMAAlignment   float64
	RSI            float64
	StochRSI       float64
	MACD           float64
	Bollinger      float64
	Volume         float64
	TrendStructure float64
}

// Config controls one analysis run.
type Config struct {
	Symbol        string
	Timeframes    []string
	KlinesLimit   int
	BuyThreshold  float64
	SellThreshold float64
	PositionSize  float64
	ATRStopMult   float64
	ATRTargetMult float64
	Weights       Weights
}

// DefaultConfig returns the standard BTC three-timeframe setup.
func DefaultConfig() Config {
	return Config{
		Symbol:        "BTC",
		Timeframes:    []string{domain.Interval15m, domain.Interval1h, domain.Interval4h},
		KlinesLimit:   300,
		BuyThreshold:  65,
		SellThreshold: 35,
		PositionSize:  0.25,
		ATRStopMult:   2.0,
		ATRTargetMult: 3.0,
		Weights: Weights{
			EMAAlignment:   0.20,
			RSI:            0.15,
			StochRSI:       0.10,
			MACD:           0.20,
			Bollinger:      0.10,
			Volume:         0.10,
			TrendStructure: 0.15,
		},
	}
}

// Result is the outcome of one analysis run.
type Result struct {
	Symbol       string                          `json:"symbol"`
	Action       string                          `json:"action"`
	Score        float64                         `json:"conviction_score"`
	Grade        string                          `json:"grade"`
	PositionSize float64                         `json:"position_size"`
	Reason       string                          `json:"reason"`
	EntryPrice   *float64                        `json:"entry_price,omitempty"`
	StopLoss     *float64                        `json:"stop_loss,omitempty"`
	TakeProfit   *float64                        `json:"take_profit,omitempty"`
	RiskReward   float64                         `json:"risk_reward"`
	CurrentPrice float64                         `json:"current_price"`
	ATR          float64                         `json:"atr"`
	MainTF       string                          `json:"main_timeframe"`
	ScoreByTF    map[string]float64              `json:"score_by_tf"`
	Indicators   map[string]*indicators.Snapshot `json:"indicators"`
	IsLivePrice  bool                            `json:"is_live_price"`
}

// KlineProvider supplies synced multi-timeframe klines.
type KlineProvider interface {
	MultiTimeframe(ctx context.Context, symbol string, timeframes []string, limit int, syncFirst bool) (map[string][]domain.Kline, error)
}

// PriceSource supplies a live ticker price.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (*domain.Ticker, error)
}

// Engine runs TA analysis over locally synced klines.
type Engine struct {
	klines KlineProvider
	prices PriceSource
	log    zerolog.Logger
}

func NewEngine(klines KlineProvider, prices PriceSource, log zerolog.Logger) *Engine {
	return &Engine{
		klines: klines,
		prices: prices,
		log:    log.With().Str("component", "ta_engine").Logger(),
	}
}

// Analyze syncs and scores the configured timeframes for cfg.Symbol.
func (e *Engine) Analyze(ctx context.Context, cfg Config) (*Result, error) {
	pair := strings.ToUpper(cfg.Symbol) + "USDT"

	data, err := e.klines.MultiTimeframe(ctx, pair, cfg.Timeframes, cfg.KlinesLimit, true)
	if err != nil {
		e.log.Error().Err(err).Str("symbol", pair).Msg("Kline fetch failed")
		return holdResult(cfg.Symbol, "unable to fetch market data"), nil
	}

	return e.AnalyzeKlines(ctx, cfg, data), nil
}

// AnalyzeKlines scores already-fetched kline data. Timeframes with
// fewer than 30 bars are excluded.
func (e *Engine) AnalyzeKlines(ctx context.Context, cfg Config, data map[string][]domain.Kline) *Result {
	pair := strings.ToUpper(cfg.Symbol) + "USDT"

	snapshots := make(map[string]*indicators.Snapshot)
	for _, tf := range cfg.Timeframes {
		bars := data[tf]
		if len(bars) >= minBarsPerTimeframe {
			snapshots[tf] = indicators.CalculateAll(bars)
		}
	}
	if len(snapshots) == 0 {
		return holdResult(cfg.Symbol, "insufficient kline data")
	}

	score, reasons, perTF := e.multiTFScore(snapshots, cfg)

	mainTF := pickMainTF(snapshots)
	main := snapshots[mainTF]
	currentPrice := main.CurrentPrice
	atr := main.ATR

	// Prefer the live ticker over the latest kline close.
	isLive := false
	if e.prices != nil {
		if ticker, err := e.prices.Price(ctx, pair); err == nil && ticker.Price > 0 {
			currentPrice = ticker.Price
			isLive = true
		}
	}

	action := actionFor(score, cfg)
	grade := e.gradeSignal(score, snapshots, cfg)

	var levels indicators.Levels
	if currentPrice > 0 && atr > 0 {
		levels = indicators.StopLevels(currentPrice, atr, action == domain.ActionBuy, cfg.ATRStopMult, cfg.ATRTargetMult)
	}

	reason := strings.Join(reasons, "; ")
	if reason == "" {
		reason = "no clear signal"
	}
	reason = "[grade " + grade + "] " + reason

	result := &Result{
		Symbol:       strings.ToUpper(cfg.Symbol),
		Action:       action,
		Score:        math.Round(score*10) / 10,
		Grade:        grade,
		PositionSize: positionSize(score, action, grade, cfg),
		Reason:       reason,
		StopLoss:     levels.StopLoss,
		TakeProfit:   levels.TakeProfit,
		RiskReward:   levels.RiskReward,
		CurrentPrice: currentPrice,
		ATR:          atr,
		MainTF:       mainTF,
		ScoreByTF:    perTF,
		Indicators:   snapshots,
		IsLivePrice:  isLive,
	}
	if currentPrice > 0 {
		entry := currentPrice
		result.EntryPrice = &entry
	}

	e.log.Info().
		Str("symbol", result.Symbol).
		Str("action", action).
		Str("grade", grade).
		Float64("score", result.Score).
		Msg("Analysis complete")
	return result
}

// multiTFScore blends the per-timeframe scores. The weight table with
// the daily timeframe applies as soon as 1d data is present.
func (e *Engine) multiTFScore(snapshots map[string]*indicators.Snapshot, cfg Config) (float64, []string, map[string]float64) {
	weightMap := tfWeights3
	if _, ok := snapshots[domain.Interval1d]; ok {
		weightMap = tfWeights4
	}

	totalWeight := 0.0
	weightedScore := 0.0
	var reasons []string
	perTF := make(map[string]float64)

	for _, tf := range cfg.Timeframes {
		snap, ok := snapshots[tf]
		if !ok {
			continue
		}
		w, ok := weightMap[tf]
		if !ok {
			w = 0.1
		}

		tfScore, tfReasons := singleTFScore(snap, cfg.Weights, tf)
		weightedScore += tfScore * w
		totalWeight += w
		perTF[tf] = math.Round(tfScore*10) / 10
		reasons = append(reasons, tfReasons...)
	}

	if totalWeight == 0 {
		return 50, []string{"no usable timeframe data"}, perTF
	}
	return clamp(weightedScore/totalWeight, 0, 100), reasons, perTF
}

func pickMainTF(snapshots map[string]*indicators.Snapshot) string {
	for _, tf := range mainTFPreference {
		if _, ok := snapshots[tf]; ok {
			return tf
		}
	}
	for tf := range snapshots {
		return tf
	}
	return ""
}

func actionFor(score float64, cfg Config) string {
	switch {
	case score >= cfg.BuyThreshold:
		return domain.ActionBuy
	case score <= cfg.SellThreshold:
		return domain.ActionSell
	default:
		return domain.ActionHold
	}
}

// gradeSignal rates signal quality: A needs an extreme fused score plus
// at least two thirds of the timeframes agreeing, B needs half of them
// agreeing or a MACD cross anywhere, everything else is C.
func (e *Engine) gradeSignal(score float64, snapshots map[string]*indicators.Snapshot, cfg Config) string {
	if len(snapshots) == 0 {
		return "C"
	}

	buyTFs, sellTFs := 0, 0
	hasCross := false
	for _, snap := range snapshots {
		tfScore, _ := singleTFScore(snap, cfg.Weights, "")
		if tfScore >= cfg.BuyThreshold {
			buyTFs++
		}
		if tfScore <= cfg.SellThreshold {
			sellTFs++
		}
		if snap.MACD.Cross == "golden" || snap.MACD.Cross == "death" {
			hasCross = true
		}
	}

	concurrence := float64(max(buyTFs, sellTFs)) / float64(len(snapshots))
	switch {
	case (score >= 78 || score <= 22) && concurrence >= 0.66:
		return "A"
	case concurrence >= 0.5 || hasCross:
		return "B"
	default:
		return "C"
	}
}

// positionSize scales the base position by signal strength and grade.
func positionSize(score float64, action string, grade string, cfg Config) float64 {
	if action == domain.ActionHold {
		return 0
	}

	gradeMult := map[string]float64{"A": 1.0, "B": 0.7, "C": 0.4}[grade]
	if gradeMult == 0 {
		gradeMult = 0.5
	}

	var strength float64
	if action == domain.ActionBuy {
		strength = math.Max(0, (score-50)/50)
	} else {
		strength = math.Max(0, (50-score)/50)
	}
	return math.Round(cfg.PositionSize*gradeMult*strength*1000) / 1000
}

func holdResult(symbol, reason string) *Result {
	return &Result{
		Symbol:    strings.ToUpper(symbol),
		Action:    domain.ActionHold,
		Score:     50,
		Grade:     "C",
		Reason:    reason,
		ScoreByTF: map[string]float64{},
	}
}
