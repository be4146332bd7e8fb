// Package domain holds the shared types passed between collectors,
// repositories, the sync engine, and the analysis layer.
package domain

import (
	"encoding/json"
	"time"
)

// Valid K-line intervals, matching the exchange API.
const (
	Interval1m  = "1m"
	Interval5m  = "5m"
	Interval15m = "15m"
	Interval1h  = "1h"
	Interval4h  = "4h"
	Interval1d  = "1d"
)

// ValidIntervals is the set of intervals accepted by sync and analysis.
var ValidIntervals = map[string]bool{
	Interval1m:  true,
	Interval5m:  true,
	Interval15m: true,
	Interval1h:  true,
	Interval4h:  true,
	Interval1d:  true,
}

// IntervalDuration returns the bar duration for an interval, or zero for
// an unknown interval.
func IntervalDuration(interval string) time.Duration {
	switch interval {
	case Interval1m:
		return time.Minute
	case Interval5m:
		return 5 * time.Minute
	case Interval15m:
		return 15 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval4h:
		return 4 * time.Hour
	case Interval1d:
		return 24 * time.Hour
	}
	return 0
}

// Kline is a single OHLCV bar. Times are Unix milliseconds, matching the
// exchange wire format.
type Kline struct {
	Symbol    string  `json:"symbol,omitempty"`
	Interval  string  `json:"interval,omitempty"`
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Ticker is a 24h rolling window market snapshot for one trading pair.
type Ticker struct {
	Symbol         string    `json:"symbol"`
	Price          float64   `json:"price"`
	ChangePct24h   float64   `json:"change_pct_24h"`
	High24h        float64   `json:"high_24h"`
	Low24h         float64   `json:"low_24h"`
	Volume24h      float64   `json:"volume_24h"`
	QuoteVolume24h float64   `json:"quote_volume_24h"`
	At             time.Time `json:"timestamp"`
}

// Signal actions.
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionHold = "HOLD"
)

// ValidAction reports whether action is one of BUY/SELL/HOLD.
func ValidAction(action string) bool {
	return action == ActionBuy || action == ActionSell || action == ActionHold
}

// Signal is a stored trading signal, either produced by the analysis
// engine or submitted by an external agent.
type Signal struct {
	ID            int64           `json:"id"`
	AgentID       string          `json:"agent_id,omitempty"`
	StrategyName  string          `json:"strategy_name,omitempty"`
	Symbol        string          `json:"symbol"`
	Action        string          `json:"action"`
	Conviction    *float64        `json:"conviction,omitempty"`
	PriceAtSignal *float64        `json:"price_at_signal,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	RawAnalysis   json.RawMessage `json:"raw_analysis,omitempty"`
	StopLoss      *float64        `json:"stop_loss,omitempty"`
	TakeProfit    *float64        `json:"take_profit,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Crawl task states.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// CrawlSource is a scrape target with its schedule.
type CrawlSource struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	SpiderType      string     `json:"spider_type"`
	IntervalMinutes int        `json:"interval_minutes"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	Active          bool       `json:"active"`
}

// CrawlTask records one spider run against a source.
type CrawlTask struct {
	ID         string     `json:"id"`
	SourceID   int64      `json:"source_id"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	ErrorLog   string     `json:"error_log,omitempty"`
	ItemsCount int        `json:"items_count"`
}

// CrawledItem is one scraped data point before storage.
type CrawledItem struct {
	DataType string
	Date     time.Time
	Value    float64
	Meta     map[string]any
}

// CrawledData is one stored scraped data point. RawContent carries the
// scrape's metadata payload as JSON, when the spider produced one.
type CrawledData struct {
	ID         int64     `json:"id"`
	DataType   string    `json:"data_type"`
	Date       time.Time `json:"date"`
	Value      float64   `json:"value"`
	RawContent string    `json:"raw_content,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
