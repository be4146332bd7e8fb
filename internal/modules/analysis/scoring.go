package analysis

import (
	"fmt"
	"math"

	"marketd/internal/indicators"
)

// scoreEMAAlignment rates the EMA ladder: price above the EMAs and a
// bullish 9>21>50(>200) stack push the score up, the inverse pulls it
// down.
func scoreEMAAlignment(s *indicators.Snapshot) float64 {
	if s.CurrentPrice == 0 {
		return 50
	}

	score := 50.0
	if s.CurrentPrice > s.EMA9 {
		score += 5
	}
	if s.CurrentPrice > s.EMA21 {
		score += 5
	}
	if s.CurrentPrice > s.EMA50 {
		score += 5
	}
	if s.EMA200 != 0 && s.CurrentPrice > s.EMA200 {
		score += 5
	}

	if s.EMA9 != 0 && s.EMA21 != 0 && s.EMA50 != 0 {
		switch {
		case s.EMA9 > s.EMA21 && s.EMA21 > s.EMA50:
			score += 15
			if s.EMA200 != 0 && s.EMA50 > s.EMA200 {
				score += 5
			}
		case s.EMA9 < s.EMA21 && s.EMA21 < s.EMA50:
			score -= 15
			if s.EMA200 != 0 && s.EMA50 < s.EMA200 {
				score -= 5
			}
		case s.EMA9 > s.EMA21:
			score += 5
		case s.EMA9 < s.EMA21:
			score -= 5
		}
	}
	return clamp(score, 0, 100)
}

// scoreRSI uses reversal logic: deep oversold scores high, deep
// overbought scores low.
func scoreRSI(rsi float64) float64 {
	switch {
	case rsi <= 20:
		return 90
	case rsi <= 30:
		return 78
	case rsi <= 40:
		return 65
	case rsi <= 50:
		return 55
	case rsi <= 60:
		return 48
	case rsi <= 70:
		return 38
	case rsi <= 80:
		return 25
	default:
		return 15
	}
}

func scoreStochRSI(s indicators.StochRSI) float64 {
	score := 50.0
	switch {
	case s.K < 20:
		score += 25
	case s.K < 30:
		score += 12
	case s.K > 80:
		score -= 25
	case s.K > 70:
		score -= 12
	}

	if s.K > s.D {
		score += 5
	} else if s.K < s.D {
		score -= 5
	}
	return clamp(score, 0, 100)
}

func scoreMACD(m indicators.MACD) float64 {
	score := 50.0

	switch m.Cross {
	case "golden":
		score += 30
	case "death":
		score -= 30
	default:
		bump := math.Min(20, math.Abs(m.Histogram)*0.01+10)
		if m.Histogram > 0 {
			score += bump
		} else {
			score -= bump
		}
	}

	if m.MACDLine > 0 {
		score += 8
	} else if m.MACDLine < 0 {
		score -= 8
	}
	return clamp(score, 0, 100)
}

// scoreBollinger rates %B: below the lower band is oversold, above the
// upper band overbought.
func scoreBollinger(b indicators.Bollinger) float64 {
	switch {
	case b.PercentB < 0:
		return 82
	case b.PercentB < 0.2:
		return 70
	case b.PercentB < 0.4:
		return 58
	case b.PercentB < 0.6:
		return 48
	case b.PercentB < 0.8:
		return 38
	case b.PercentB < 1.0:
		return 28
	default:
		return 18
	}
}

// scoreVolume gives a surge a mild boost and a dry-up a mild penalty;
// in between, the ratio interpolates around neutral.
func scoreVolume(v indicators.Volume) float64 {
	switch v.Trend {
	case "surge":
		return 65
	case "dry":
		return 42
	default:
		return clamp(50+(v.Ratio-1)*10, 40, 60)
	}
}

func scoreTrendStructure(t indicators.TrendStructure) float64 {
	switch t.Structure {
	case "UPTREND":
		return 55 + (t.Strength-50)*0.5
	case "DOWNTREND":
		return 45 - (t.Strength-50)*0.5
	default:
		return 50
	}
}

// singleTFScore fuses the per-indicator scores for one timeframe into
// a 0-100 conviction score. Candle patterns add a flat bonus outside
// the weighted sum.
func singleTFScore(s *indicators.Snapshot, w Weights, label string) (float64, []string) {
	var reasons []string
	prefix := ""
	if label != "" {
		prefix = "[" + label + "] "
	}

	score := 0.0

	emaScore := scoreEMAAlignment(s)
	score += emaScore * w.EMAAlignment
	if emaScore >= 75 {
		reasons = append(reasons, prefix+"bullish EMA stack")
	} else if emaScore <= 25 {
		reasons = append(reasons, prefix+"bearish EMA stack")
	}

	score += scoreRSI(s.RSI) * w.RSI
	if s.RSI < 30 {
		reasons = append(reasons, fmt.Sprintf("%sRSI oversold (%.0f)", prefix, s.RSI))
	} else if s.RSI > 70 {
		reasons = append(reasons, fmt.Sprintf("%sRSI overbought (%.0f)", prefix, s.RSI))
	}

	score += scoreStochRSI(s.StochRSI) * w.StochRSI
	if s.StochRSI.K < 20 {
		reasons = append(reasons, fmt.Sprintf("%sStochRSI oversold (%.0f)", prefix, s.StochRSI.K))
	} else if s.StochRSI.K > 80 {
		reasons = append(reasons, fmt.Sprintf("%sStochRSI overbought (%.0f)", prefix, s.StochRSI.K))
	}

	score += scoreMACD(s.MACD) * w.MACD
	switch {
	case s.MACD.Cross == "golden":
		reasons = append(reasons, prefix+"MACD golden cross")
	case s.MACD.Cross == "death":
		reasons = append(reasons, prefix+"MACD death cross")
	case s.MACD.Trend == "bullish":
		reasons = append(reasons, prefix+"MACD bullish")
	case s.MACD.Trend == "bearish":
		reasons = append(reasons, prefix+"MACD bearish")
	}

	score += scoreBollinger(s.Bollinger) * w.Bollinger
	if s.Bollinger.Squeeze {
		reasons = append(reasons, prefix+"Bollinger squeeze, breakout pending")
	}

	score += scoreVolume(s.Volume) * w.Volume
	if s.Volume.Trend == "surge" {
		reasons = append(reasons, fmt.Sprintf("%svolume surge (%.1fx)", prefix, s.Volume.Ratio))
	} else if s.Volume.Trend == "dry" {
		reasons = append(reasons, prefix+"volume drying up")
	}

	score += scoreTrendStructure(s.Trend) * w.TrendStructure
	if s.Trend.Structure == "UPTREND" {
		reasons = append(reasons, prefix+"uptrend structure")
	} else if s.Trend.Structure == "DOWNTREND" {
		reasons = append(reasons, prefix+"downtrend structure")
	}

	bonus := 0.0
	for _, p := range s.Patterns {
		switch p {
		case "bullish_engulfing":
			bonus += 3
			reasons = append(reasons, prefix+"bullish engulfing")
		case "hammer":
			bonus += 2
			reasons = append(reasons, prefix+"hammer candle")
		case "bearish_engulfing":
			bonus -= 3
			reasons = append(reasons, prefix+"bearish engulfing")
		case "shooting_star":
			bonus -= 2
			reasons = append(reasons, prefix+"shooting star candle")
		}
	}
	score += bonus

	return clamp(score, 0, 100), reasons
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
