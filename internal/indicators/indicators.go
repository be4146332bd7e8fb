// Package indicators computes the technical indicator set used by the
// analysis engine: EMA ladder, Wilder RSI, Stochastic RSI, MACD,
// Bollinger Bands, ATR, volume ratio, trend structure and candle
// patterns. All series are expected oldest-first.
package indicators

import (
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"marketd/internal/domain"
)

// StochRSI holds the stochastic oscillator applied to the RSI series.
type StochRSI struct {
	K float64 `json:"k"`
	D float64 `json:"d"`
}

// MACD holds the MACD line, its signal line and the histogram, plus the
// derived trend and any signal-line cross on the latest bar.
type MACD struct {
	MACDLine   float64 `json:"macd_line"`
	SignalLine float64 `json:"signal_line"`
	Histogram  float64 `json:"histogram"`
	Trend      string  `json:"trend"`
	Cross      string  `json:"cross,omitempty"` // "golden", "death" or empty
}

// Bollinger holds the band values plus bandwidth, %B and the squeeze
// flag (bandwidth under 3%).
type Bollinger struct {
	Upper     float64 `json:"upper"`
	Middle    float64 `json:"middle"`
	Lower     float64 `json:"lower"`
	Bandwidth float64 `json:"bandwidth"`
	PercentB  float64 `json:"percent_b"`
	Squeeze   bool    `json:"squeeze"`
}

// Volume holds the latest volume against its 20-bar average.
type Volume struct {
	Current float64 `json:"current_volume"`
	MA      float64 `json:"volume_ma"`
	Ratio   float64 `json:"volume_ratio"`
	Trend   string  `json:"trend"` // "surge", "normal" or "dry"
}

// TrendStructure classifies the recent high/low sequence.
type TrendStructure struct {
	Structure  string  `json:"structure"` // UPTREND, DOWNTREND or CONSOLIDATION
	Strength   float64 `json:"strength"`  // 0-100
	RecentHigh float64 `json:"recent_high"`
	RecentLow  float64 `json:"recent_low"`
}

// Levels are ATR-derived stop-loss / take-profit prices.
type Levels struct {
	StopLoss   *float64 `json:"stop_loss"`
	TakeProfit *float64 `json:"take_profit"`
	RiskReward float64  `json:"risk_reward"`
}

// Snapshot is the full indicator set for one timeframe.
type Snapshot struct {
	CurrentPrice float64        `json:"current_price"`
	EMA9         float64        `json:"ema_9"`
	EMA21        float64        `json:"ema_21"`
	EMA50        float64        `json:"ema_50"`
	EMA200       float64        `json:"ema_200"`
	RSI          float64        `json:"rsi"`
	StochRSI     StochRSI       `json:"stoch_rsi"`
	MACD         MACD           `json:"macd"`
	Bollinger    Bollinger      `json:"bollinger"`
	ATR          float64        `json:"atr"`
	Volume       Volume         `json:"volume"`
	Trend        TrendStructure `json:"trend_structure"`
	Patterns     []string       `json:"candle_patterns"`
}

// EMASeries returns the full EMA history, same length as prices. With
// fewer bars than the period it degrades to a running mean so callers
// always get a usable value.
func EMASeries(prices []float64, period int) []float64 {
	if len(prices) == 0 {
		return nil
	}
	out := make([]float64, 0, len(prices))
	if len(prices) < period {
		sum := 0.0
		for i, p := range prices {
			sum += p
			out = append(out, sum/float64(i+1))
		}
		return out
	}

	mult := 2.0 / float64(period+1)
	out = append(out, prices[0])
	for _, p := range prices[1:] {
		prev := out[len(out)-1]
		out = append(out, (p-prev)*mult+prev)
	}
	return out
}

// EMA returns the latest EMA value.
func EMA(prices []float64, period int) float64 {
	series := EMASeries(prices, period)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// RSI computes the relative strength index with Wilder's smoothing.
// Returns 50 when there is not enough history and 100 when there are no
// losses in the window.
func RSI(prices []float64, period int) float64 {
	if len(prices) < period+1 {
		return 50
	}

	gains := make([]float64, 0, len(prices)-1)
	losses := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		gains = append(gains, math.Max(delta, 0))
		losses = append(losses, math.Max(-delta, 0))
	}

	avgGain := stat.Mean(gains[:period], nil)
	avgLoss := stat.Mean(losses[:period], nil)
	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// CalcStochRSI computes the stochastic oscillator over the RSI series.
// D is the mean of the last three K values.
func CalcStochRSI(prices []float64, rsiPeriod, stochPeriod int) StochRSI {
	if len(prices) < rsiPeriod+stochPeriod+1 {
		return StochRSI{K: 50, D: 50}
	}

	rsiSeries := make([]float64, 0, len(prices)-rsiPeriod)
	for i := rsiPeriod + 1; i <= len(prices); i++ {
		rsiSeries = append(rsiSeries, RSI(prices[:i], rsiPeriod))
	}
	if len(rsiSeries) < stochPeriod {
		return StochRSI{K: 50, D: 50}
	}

	stochAt := func(idx int) float64 {
		start := idx - stochPeriod + 1
		if start < 0 {
			start = 0
		}
		window := rsiSeries[start : idx+1]
		mn, mx := window[0], window[0]
		for _, v := range window {
			mn = math.Min(mn, v)
			mx = math.Max(mx, v)
		}
		if mx-mn <= 0 {
			return 50
		}
		return (rsiSeries[idx] - mn) / (mx - mn) * 100
	}

	k := stochAt(len(rsiSeries) - 1)

	dStart := len(rsiSeries) - 3
	if dStart < 0 {
		dStart = 0
	}
	var kValues []float64
	for j := dStart; j < len(rsiSeries); j++ {
		kValues = append(kValues, stochAt(j))
	}
	return StochRSI{K: k, D: stat.Mean(kValues, nil)}
}

// CalcMACD computes MACD(fast, slow, signal) over the full price
// history so the signal line is a true EMA of the MACD series.
func CalcMACD(prices []float64, fast, slow, signal int) MACD {
	if len(prices) < slow+signal {
		return MACD{Trend: "neutral"}
	}

	fastSeries := EMASeries(prices, fast)
	slowSeries := EMASeries(prices, slow)
	macdSeries := make([]float64, len(prices))
	for i := range macdSeries {
		macdSeries[i] = fastSeries[i] - slowSeries[i]
	}
	if len(macdSeries) < signal {
		return MACD{MACDLine: macdSeries[len(macdSeries)-1], Trend: "neutral"}
	}

	signalSeries := EMASeries(macdSeries, signal)

	macdLine := macdSeries[len(macdSeries)-1]
	signalLine := signalSeries[len(signalSeries)-1]
	histogram := macdLine - signalLine

	out := MACD{
		MACDLine:   macdLine,
		SignalLine: signalLine,
		Histogram:  histogram,
		Trend:      "neutral",
	}
	if macdLine > 0 {
		out.Trend = "bullish"
	} else if macdLine < 0 {
		out.Trend = "bearish"
	}

	if len(macdSeries) >= 2 && len(signalSeries) >= 2 {
		prevDiff := macdSeries[len(macdSeries)-2] - signalSeries[len(signalSeries)-2]
		switch {
		case prevDiff <= 0 && histogram > 0:
			out.Cross = "golden"
		case prevDiff >= 0 && histogram < 0:
			out.Cross = "death"
		}
	}
	return out
}

// CalcBollinger computes Bollinger Bands with a population standard
// deviation over the window.
func CalcBollinger(prices []float64, period int, stdDev float64) Bollinger {
	if len(prices) < period {
		current := 0.0
		if len(prices) > 0 {
			current = prices[len(prices)-1]
		}
		return Bollinger{Upper: current, Middle: current, Lower: current, PercentB: 0.5}
	}

	window := prices[len(prices)-period:]
	middle := talib.Sma(window, period)[period-1]

	variance := 0.0
	for _, p := range window {
		variance += (p - middle) * (p - middle)
	}
	std := math.Sqrt(variance / float64(period))

	upper := middle + stdDev*std
	lower := middle - stdDev*std
	bandRange := upper - lower

	out := Bollinger{Upper: upper, Middle: middle, Lower: lower, PercentB: 0.5}
	if middle > 0 {
		out.Bandwidth = bandRange / middle
	}
	if bandRange > 0 {
		out.PercentB = (prices[len(prices)-1] - lower) / bandRange
	}
	out.Squeeze = out.Bandwidth < 0.03
	return out
}

// ATR computes the average true range with Wilder's smoothing, falling
// back to the plain mean of true ranges when history is short.
func ATR(highs, lows, closes []float64, period int) float64 {
	if len(closes) < 2 {
		return 0
	}

	trs := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		trs = append(trs, math.Max(hl, math.Max(hc, lc)))
	}

	if len(trs) < period {
		return stat.Mean(trs, nil)
	}

	atr := stat.Mean(trs[:period], nil)
	for _, tr := range trs[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr
}

// VolumeAnalysis compares the latest volume against its moving average.
// A ratio above 2 is a surge, below 0.5 a dry-up.
func VolumeAnalysis(volumes []float64, period int) Volume {
	if len(volumes) == 0 {
		return Volume{Ratio: 1, Trend: "normal"}
	}

	current := volumes[len(volumes)-1]
	var ma float64
	if len(volumes) >= period {
		ma = talib.Sma(volumes, period)[len(volumes)-1]
	} else {
		ma = stat.Mean(volumes, nil)
	}

	ratio := 1.0
	if ma > 0 {
		ratio = current / ma
	}

	trend := "normal"
	switch {
	case ratio > 2.0:
		trend = "surge"
	case ratio < 0.5:
		trend = "dry"
	}
	return Volume{Current: current, MA: ma, Ratio: ratio, Trend: trend}
}

// AnalyzeTrendStructure splits the lookback window in half and compares
// the halves' highs and lows: higher high plus higher low is an
// uptrend, lower high plus lower low a downtrend.
func AnalyzeTrendStructure(closes []float64, lookback int) TrendStructure {
	if len(closes) < lookback {
		current := 0.0
		if len(closes) > 0 {
			current = closes[len(closes)-1]
		}
		return TrendStructure{Structure: "CONSOLIDATION", Strength: 50, RecentHigh: current, RecentLow: current}
	}

	window := closes[len(closes)-lookback:]
	mid := len(window) / 2

	minMax := func(vals []float64) (float64, float64) {
		mn, mx := vals[0], vals[0]
		for _, v := range vals {
			mn = math.Min(mn, v)
			mx = math.Max(mx, v)
		}
		return mn, mx
	}
	firstLow, firstHigh := minMax(window[:mid])
	secondLow, secondHigh := minMax(window[mid:])
	windowLow, windowHigh := minMax(window)

	out := TrendStructure{Structure: "CONSOLIDATION", Strength: 50, RecentHigh: windowHigh, RecentLow: windowLow}
	switch {
	case secondHigh > firstHigh && secondLow > firstLow:
		out.Structure = "UPTREND"
		out.Strength = 50 + (secondHigh-firstHigh)/firstHigh*1000
	case secondHigh < firstHigh && secondLow < firstLow:
		out.Structure = "DOWNTREND"
		out.Strength = 50 + (firstLow-secondLow)/firstLow*1000
	}
	out.Strength = math.Min(100, math.Max(0, out.Strength))
	return out
}

// CandlePatterns inspects the last two bars for doji, hammer, shooting
// star and engulfing patterns.
func CandlePatterns(klines []domain.Kline) []string {
	var patterns []string
	if len(klines) < 2 {
		return patterns
	}

	curr := klines[len(klines)-1]
	prev := klines[len(klines)-2]

	body := math.Abs(curr.Close - curr.Open)
	barRange := curr.High - curr.Low
	if barRange == 0 {
		return patterns
	}

	if body/barRange < 0.1 {
		patterns = append(patterns, "doji")
	}

	lowerShadow := math.Min(curr.Open, curr.Close) - curr.Low
	upperShadow := curr.High - math.Max(curr.Open, curr.Close)
	if body > 0 && lowerShadow >= 2*body && upperShadow <= body*0.5 {
		patterns = append(patterns, "hammer")
	}
	if body > 0 && upperShadow >= 2*body && lowerShadow <= body*0.5 {
		patterns = append(patterns, "shooting_star")
	}

	prevBear := prev.Close < prev.Open
	currBull := curr.Close > curr.Open
	if prevBear && currBull && curr.Open < prev.Close && curr.Close > prev.Open {
		patterns = append(patterns, "bullish_engulfing")
	}

	prevBull := prev.Close > prev.Open
	currBear := curr.Close < curr.Open
	if prevBull && currBear && curr.Open > prev.Close && curr.Close < prev.Open {
		patterns = append(patterns, "bearish_engulfing")
	}

	return patterns
}

// StopLevels derives ATR-based stop-loss and take-profit prices for a
// buy or sell entry. With no usable entry or ATR the levels stay nil.
func StopLevels(entry, atr float64, buy bool, stopMult, targetMult float64) Levels {
	if entry <= 0 || atr <= 0 {
		return Levels{}
	}

	var stop, target float64
	if buy {
		stop = entry - stopMult*atr
		target = entry + targetMult*atr
	} else {
		stop = entry + stopMult*atr
		target = entry - targetMult*atr
	}

	risk := math.Abs(entry - stop)
	reward := math.Abs(entry - target)
	rr := 0.0
	if risk > 0 {
		rr = reward / risk
	}

	stop = round2(stop)
	target = round2(target)
	return Levels{StopLoss: &stop, TakeProfit: &target, RiskReward: round2(rr)}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// CalculateAll computes the full snapshot for one timeframe's bars.
func CalculateAll(klines []domain.Kline) *Snapshot {
	if len(klines) == 0 {
		return nil
	}

	closes := make([]float64, len(klines))
	highs := make([]float64, len(klines))
	lows := make([]float64, len(klines))
	volumes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
		highs[i] = k.High
		lows[i] = k.Low
		volumes[i] = k.Volume
	}

	return &Snapshot{
		CurrentPrice: closes[len(closes)-1],
		EMA9:         EMA(closes, 9),
		EMA21:        EMA(closes, 21),
		EMA50:        EMA(closes, 50),
		EMA200:       EMA(closes, 200),
		RSI:          RSI(closes, 14),
		StochRSI:     CalcStochRSI(closes, 14, 14),
		MACD:         CalcMACD(closes, 12, 26, 9),
		Bollinger:    CalcBollinger(closes, 20, 2.0),
		ATR:          ATR(highs, lows, closes, 14),
		Volume:       VolumeAnalysis(volumes, 20),
		Trend:        AnalyzeTrendStructure(closes, 20),
		Patterns:     CandlePatterns(klines),
	}
}
