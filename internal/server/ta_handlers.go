package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"marketd/internal/domain"
	"marketd/internal/modules/analysis"
)

// analyzeRequest is the POST /ta/analyze body. Zero-valued fields keep
// the strategy defaults.
type analyzeRequest struct {
	Symbol        string   `json:"symbol"`
	Timeframes    []string `json:"timeframes"`
	KlinesLimit   int      `json:"klines_limit"`
	BuyThreshold  float64  `json:"buy_threshold"`
	SellThreshold float64  `json:"sell_threshold"`
	ATRStopMult   float64  `json:"atr_stop_mult"`
	ATRTargetMult float64  `json:"atr_target_mult"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cfg := analysis.DefaultConfig()
	if symbol := strings.ToUpper(strings.TrimSpace(req.Symbol)); symbol != "" {
		cfg.Symbol = symbol
	}
	if len(req.Timeframes) > 0 {
		for _, tf := range req.Timeframes {
			if !domain.ValidIntervals[tf] {
				s.writeError(w, http.StatusBadRequest,
					"invalid timeframe "+tf+", valid: "+strings.Join(validIntervalList(), ", "))
				return
			}
		}
		cfg.Timeframes = req.Timeframes
	}
	if req.KlinesLimit > 0 {
		cfg.KlinesLimit = req.KlinesLimit
	}
	if req.BuyThreshold > 0 {
		cfg.BuyThreshold = req.BuyThreshold
	}
	if req.SellThreshold > 0 {
		cfg.SellThreshold = req.SellThreshold
	}
	if req.ATRStopMult > 0 {
		cfg.ATRStopMult = req.ATRStopMult
	}
	if req.ATRTargetMult > 0 {
		cfg.ATRTargetMult = req.ATRTargetMult
	}

	res, err := s.deps.Analysis.Analyze(r.Context(), cfg)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbol":          res.Symbol,
		"signal":          res.Action,
		"conviction":      res.Score,
		"grade":           res.Grade,
		"current_price":   res.CurrentPrice,
		"is_live_price":   res.IsLivePrice,
		"entry_price":     res.EntryPrice,
		"stop_loss":       res.StopLoss,
		"take_profit":     res.TakeProfit,
		"risk_reward":     res.RiskReward,
		"position_size":   res.PositionSize,
		"atr":             res.ATR,
		"main_timeframe":  res.MainTF,
		"timeframes_used": cfg.Timeframes,
		"score_by_tf":     res.ScoreByTF,
		"indicators":      res.Indicators,
		"reason":          res.Reason,
		"analyzed_at":     time.Now().UTC(),
	})
}

// validIntervalList returns the accepted intervals sorted by duration.
func validIntervalList() []string {
	out := make([]string, 0, len(domain.ValidIntervals))
	for interval := range domain.ValidIntervals {
		out = append(out, interval)
	}
	sort.Slice(out, func(i, j int) bool {
		return domain.IntervalDuration(out[i]) < domain.IntervalDuration(out[j])
	})
	return out
}

// coverageRow is one (symbol, interval) entry in the klines status.
type coverageRow struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Count    int64  `json:"count"`
	Oldest   string `json:"oldest"`
	Newest   string `json:"newest"`
}

func (s *Server) handleKlinesStatus(w http.ResponseWriter, _ *http.Request) {
	coverage, err := s.deps.Klines.AllCoverage()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to query kline coverage")
		return
	}

	var total int64
	rows := make([]coverageRow, 0, len(coverage))
	for _, c := range coverage {
		total += c.Count
		rows = append(rows, coverageRow{
			Symbol:   c.Symbol,
			Interval: c.Interval,
			Count:    c.Count,
			Oldest:   time.UnixMilli(c.OldestMS).UTC().Format(time.RFC3339),
			Newest:   time.UnixMilli(c.NewestMS).UTC().Format(time.RFC3339),
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"coverage":      rows,
		"total_entries": total,
	})
}
