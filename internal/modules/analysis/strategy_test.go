package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketd/internal/domain"
	"marketd/internal/indicators"
)

type stubPrices struct {
	price float64
	err   error
}

func (s stubPrices) Price(_ context.Context, _ string) (*domain.Ticker, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Ticker{Price: s.price}, nil
}

func risingKlines(n int) []domain.Kline {
	out := make([]domain.Kline, n)
	for i := range out {
		base := 100 + float64(i)*0.2
		out[i] = domain.Kline{
			OpenTime: int64(i) * 3_600_000,
			Open:     base,
			High:     base + 1,
			Low:      base - 1,
			Close:    base + 0.5,
			Volume:   1000,
		}
	}
	return out
}

func newTestEngine(prices PriceSource) *Engine {
	return NewEngine(nil, prices, zerolog.New(nil).Level(zerolog.Disabled))
}

func TestAnalyzeKlinesInsufficientData(t *testing.T) {
	e := newTestEngine(nil)
	res := e.AnalyzeKlines(context.Background(), DefaultConfig(), map[string][]domain.Kline{
		domain.Interval1h: risingKlines(10), // under the 30-bar floor
	})

	assert.Equal(t, domain.ActionHold, res.Action)
	assert.Equal(t, "C", res.Grade)
	assert.Equal(t, "insufficient kline data", res.Reason)
	assert.Zero(t, res.PositionSize)
}

func TestAnalyzeKlinesFullRun(t *testing.T) {
	e := newTestEngine(stubPrices{err: errors.New("down")})
	data := map[string][]domain.Kline{
		domain.Interval15m: risingKlines(300),
		domain.Interval1h:  risingKlines(300),
		domain.Interval4h:  risingKlines(300),
	}
	res := e.AnalyzeKlines(context.Background(), DefaultConfig(), data)

	assert.Equal(t, "BTC", res.Symbol)
	assert.Equal(t, domain.Interval1h, res.MainTF)
	assert.Len(t, res.ScoreByTF, 3)
	assert.Len(t, res.Indicators, 3)
	assert.Greater(t, res.Score, 0.0)
	assert.Less(t, res.Score, 100.0)
	assert.False(t, res.IsLivePrice) // ticker unavailable, kline close used
	require.NotNil(t, res.EntryPrice)
	assert.InDelta(t, res.CurrentPrice, *res.EntryPrice, 1e-9)
	assert.Greater(t, res.ATR, 0.0)
	require.NotNil(t, res.StopLoss)
	require.NotNil(t, res.TakeProfit)
	assert.Contains(t, res.Reason, "[grade "+res.Grade+"]")
}

func TestAnalyzeKlinesLivePriceOverride(t *testing.T) {
	e := newTestEngine(stubPrices{price: 123456})
	data := map[string][]domain.Kline{
		domain.Interval1h: risingKlines(300),
	}
	res := e.AnalyzeKlines(context.Background(), DefaultConfig(), data)

	assert.True(t, res.IsLivePrice)
	assert.InDelta(t, 123456, res.CurrentPrice, 1e-9)
	require.NotNil(t, res.EntryPrice)
	assert.InDelta(t, 123456, *res.EntryPrice, 1e-9)
}

func TestActionThresholds(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, domain.ActionBuy, actionFor(65, cfg))
	assert.Equal(t, domain.ActionBuy, actionFor(90, cfg))
	assert.Equal(t, domain.ActionSell, actionFor(35, cfg))
	assert.Equal(t, domain.ActionSell, actionFor(10, cfg))
	assert.Equal(t, domain.ActionHold, actionFor(50, cfg))
}

func TestPositionSize(t *testing.T) {
	cfg := DefaultConfig()

	assert.Zero(t, positionSize(80, domain.ActionHold, "A", cfg))

	// BUY at 80 with grade A: 0.25 * 1.0 * (80-50)/50 = 0.15.
	assert.InDelta(t, 0.15, positionSize(80, domain.ActionBuy, "A", cfg), 1e-9)
	// Same strength, grade B scales by 0.7.
	assert.InDelta(t, 0.105, positionSize(80, domain.ActionBuy, "B", cfg), 1e-9)
	// SELL mirrors around 50.
	assert.InDelta(t, 0.15, positionSize(20, domain.ActionSell, "A", cfg), 1e-9)
	// Unknown grade falls back to the 0.5 multiplier.
	assert.InDelta(t, 0.075, positionSize(80, domain.ActionBuy, "?", cfg), 1e-9)
}

func TestScoreRSIBuckets(t *testing.T) {
	assert.Equal(t, 90.0, scoreRSI(15))
	assert.Equal(t, 78.0, scoreRSI(25))
	assert.Equal(t, 65.0, scoreRSI(35))
	assert.Equal(t, 55.0, scoreRSI(45))
	assert.Equal(t, 48.0, scoreRSI(55))
	assert.Equal(t, 38.0, scoreRSI(65))
	assert.Equal(t, 25.0, scoreRSI(75))
	assert.Equal(t, 15.0, scoreRSI(90))
}

func TestScoreMACD(t *testing.T) {
	golden := scoreMACD(indicators.MACD{Cross: "golden", MACDLine: 1})
	assert.InDelta(t, 88, golden, 1e-9) // 50 + 30 + 8

	death := scoreMACD(indicators.MACD{Cross: "death", MACDLine: -1})
	assert.InDelta(t, 12, death, 1e-9)

	// No cross: histogram bump capped at 20.
	big := scoreMACD(indicators.MACD{Histogram: 10_000, MACDLine: 1})
	assert.InDelta(t, 78, big, 1e-9) // 50 + 20 + 8
}

func TestScoreVolume(t *testing.T) {
	assert.Equal(t, 65.0, scoreVolume(indicators.Volume{Trend: "surge", Ratio: 3}))
	assert.Equal(t, 42.0, scoreVolume(indicators.Volume{Trend: "dry", Ratio: 0.2}))
	assert.InDelta(t, 52, scoreVolume(indicators.Volume{Trend: "normal", Ratio: 1.2}), 1e-9)
	// Interpolation clamps to [40, 60].
	assert.InDelta(t, 60, scoreVolume(indicators.Volume{Trend: "normal", Ratio: 5}), 1e-9)
}

func TestScoreBollingerBuckets(t *testing.T) {
	assert.Equal(t, 82.0, scoreBollinger(indicators.Bollinger{PercentB: -0.1}))
	assert.Equal(t, 70.0, scoreBollinger(indicators.Bollinger{PercentB: 0.1}))
	assert.Equal(t, 48.0, scoreBollinger(indicators.Bollinger{PercentB: 0.5}))
	assert.Equal(t, 18.0, scoreBollinger(indicators.Bollinger{PercentB: 1.2}))
}

func TestGradeSignalMACDCrossLiftsToB(t *testing.T) {
	e := newTestEngine(nil)
	cfg := DefaultConfig()

	neutral := &indicators.Snapshot{
		CurrentPrice: 100,
		RSI:          50,
		StochRSI:     indicators.StochRSI{K: 50, D: 50},
		Bollinger:    indicators.Bollinger{PercentB: 0.5},
		Volume:       indicators.Volume{Trend: "normal", Ratio: 1},
		Trend:        indicators.TrendStructure{Structure: "CONSOLIDATION", Strength: 50},
	}
	crossed := *neutral
	crossed.MACD = indicators.MACD{Cross: "golden", MACDLine: 1}

	grade := e.gradeSignal(50, map[string]*indicators.Snapshot{
		domain.Interval1h: neutral,
		domain.Interval4h: &crossed,
	}, cfg)
	assert.Equal(t, "B", grade)
}

func TestPickMainTF(t *testing.T) {
	snaps := map[string]*indicators.Snapshot{
		domain.Interval15m: {},
		domain.Interval4h:  {},
	}
	assert.Equal(t, domain.Interval4h, pickMainTF(snaps))

	snaps[domain.Interval1h] = &indicators.Snapshot{}
	assert.Equal(t, domain.Interval1h, pickMainTF(snaps))
}
