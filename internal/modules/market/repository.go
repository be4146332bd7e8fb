// Package market persists the watched-symbol list and the latest 24h
// ticker snapshot per symbol. The cache is refreshed every minute by the
// scheduler so API reads never wait on the exchange.
package market

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"marketd/internal/domain"
)

// CachedTicker is a stored market snapshot with its refresh time.
type CachedTicker struct {
	domain.Ticker
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository handles market cache and watchlist operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a market repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "market").Logger(),
	}
}

// Put stores or replaces the cached ticker for a symbol. The symbol is
// stored bare (BTC, not BTCUSDT).
func (r *Repository) Put(symbol string, t *domain.Ticker) error {
	_, err := r.db.Exec(`
		INSERT OR REPLACE INTO market_cache
			(symbol, price, change_pct_24h, high_24h, low_24h, volume_24h, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, symbol, t.Price, t.ChangePct24h, t.High24h, t.Low24h, t.Volume24h, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to cache ticker for %s: %w", symbol, err)
	}
	return nil
}

// Get returns the cached ticker for a symbol, or nil when absent.
func (r *Repository) Get(symbol string) (*CachedTicker, error) {
	var (
		c         CachedTicker
		updatedAt int64
	)
	err := r.db.QueryRow(`
		SELECT symbol, price, change_pct_24h, high_24h, low_24h, volume_24h, updated_at
		FROM market_cache WHERE symbol = ?
	`, symbol).Scan(&c.Symbol, &c.Price, &c.ChangePct24h, &c.High24h, &c.Low24h,
		&c.Volume24h, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached ticker for %s: %w", symbol, err)
	}
	c.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &c, nil
}

// All returns every cached ticker keyed by symbol.
func (r *Repository) All() (map[string]CachedTicker, error) {
	rows, err := r.db.Query(`
		SELECT symbol, price, change_pct_24h, high_24h, low_24h, volume_24h, updated_at
		FROM market_cache
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached tickers: %w", err)
	}
	defer rows.Close()

	result := make(map[string]CachedTicker)
	for rows.Next() {
		var (
			c         CachedTicker
			updatedAt int64
		)
		if err := rows.Scan(&c.Symbol, &c.Price, &c.ChangePct24h, &c.High24h,
			&c.Low24h, &c.Volume24h, &updatedAt); err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan market cache row")
			continue
		}
		c.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		result[c.Symbol] = c
	}
	return result, rows.Err()
}

// Symbols returns the watched symbols in display order.
func (r *Repository) Symbols() ([]string, error) {
	rows, err := r.db.Query(`SELECT symbol FROM market_watch ORDER BY display_order, symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to list watchlist: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

// AddSymbol adds a symbol to the watchlist. Idempotent.
func (r *Repository) AddSymbol(symbol string, displayOrder int) error {
	_, err := r.db.Exec(`
		INSERT OR IGNORE INTO market_watch (symbol, display_order) VALUES (?, ?)
	`, symbol, displayOrder)
	if err != nil {
		return fmt.Errorf("failed to add %s to watchlist: %w", symbol, err)
	}
	return nil
}

// RemoveSymbol removes a symbol from the watchlist. Idempotent.
func (r *Repository) RemoveSymbol(symbol string) error {
	_, err := r.db.Exec(`DELETE FROM market_watch WHERE symbol = ?`, symbol)
	if err != nil {
		return fmt.Errorf("failed to remove %s from watchlist: %w", symbol, err)
	}
	return nil
}
