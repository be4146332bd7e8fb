// Package config loads application configuration from the environment.
// A .env file in the working directory is loaded first when present, so
// local development does not require exported variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server
	Host string
	Port int

	// DataDir is the directory holding the SQLite database.
	DataDir      string
	DatabasePath string

	// Logging
	LogLevel  string
	LogPretty bool

	// External APIs
	FredAPIKey      string
	BinanceAPIURL   string
	BinanceDataURL  string
	FearGreedAPIURL string

	// Scheduler
	Timezone string

	// Crawler
	CrawlIntervalMinutes int
	CrawlTaskTimeoutSec  int
	BrowserHeadless      bool

	// K-line rate limiting
	KlineRateLimit     float64
	KlineRateBurst     int
	KlineMaxConcurrent int
}

// Load reads configuration from the environment.
// Missing values fall back to defaults suitable for local development.
func Load() (*Config, error) {
	// Best effort: absence of a .env file is not an error.
	_ = godotenv.Load()

	cfg := &Config{
		Host: getEnv("HOST", "0.0.0.0"),
		Port: getEnvAsInt("PORT", 8080),

		DataDir: getEnv("DATA_DIR", "./data"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),

		FredAPIKey:      getEnv("FRED_API_KEY", ""),
		BinanceAPIURL:   getEnv("BINANCE_API_URL", "https://api.binance.com"),
		BinanceDataURL:  getEnv("BINANCE_DATA_URL", "https://data-api.binance.vision"),
		FearGreedAPIURL: getEnv("FEAR_GREED_API_URL", "https://api.alternative.me/fng"),

		Timezone: getEnv("SCHEDULER_TIMEZONE", "Asia/Shanghai"),

		CrawlIntervalMinutes: getEnvAsInt("CRAWL_INTERVAL_MINUTES", 60),
		CrawlTaskTimeoutSec:  getEnvAsInt("CRAWL_TASK_TIMEOUT_SEC", 300),
		BrowserHeadless:      getEnvAsBool("BROWSER_HEADLESS", true),

		KlineRateLimit:     getEnvAsFloat("KLINE_RATE_LIMIT", 8),
		KlineRateBurst:     getEnvAsInt("KLINE_RATE_BURST", 12),
		KlineMaxConcurrent: getEnvAsInt("KLINE_MAX_CONCURRENT", 3),
	}

	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data dir: %w", err)
	}
	cfg.DataDir = absDataDir

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	cfg.DatabasePath = filepath.Join(cfg.DataDir, "marketd.db")

	return cfg, nil
}

// Addr returns the host:port the HTTP server binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	value := strings.ToLower(getEnv(key, ""))
	switch value {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}
