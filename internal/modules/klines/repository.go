// Package klines stores and syncs OHLCV history for watched symbols.
package klines

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"marketd/internal/database"
	"marketd/internal/domain"
)

// Coverage describes local history for one (symbol, interval) pair.
type Coverage struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Count    int64  `json:"count"`
	OldestMS int64  `json:"-"`
	NewestMS int64  `json:"-"`
}

// Repository handles kline persistence.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a kline repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "klines").Logger(),
	}
}

// Upsert inserts a batch, ignoring bars already present. Returns the
// number of newly inserted rows.
func (r *Repository) Upsert(batch []domain.Kline) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	inserted := 0
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO klines (symbol, interval, open_time, close_time, open, high, low, close, volume)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, interval, open_time) DO NOTHING
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, k := range batch {
			res, err := stmt.Exec(k.Symbol, k.Interval, k.OpenTime, k.CloseTime,
				k.Open, k.High, k.Low, k.Close, k.Volume)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert klines: %w", err)
	}
	return inserted, nil
}

// Latest returns the newest stored bar, or nil when the pair has no data.
func (r *Repository) Latest(symbol, interval string) (*domain.Kline, error) {
	return r.edge(symbol, interval, "DESC")
}

// Oldest returns the oldest stored bar, or nil when the pair has no data.
func (r *Repository) Oldest(symbol, interval string) (*domain.Kline, error) {
	return r.edge(symbol, interval, "ASC")
}

func (r *Repository) edge(symbol, interval, order string) (*domain.Kline, error) {
	query := fmt.Sprintf(`
		SELECT symbol, interval, open_time, close_time, open, high, low, close, volume
		FROM klines WHERE symbol = ? AND interval = ?
		ORDER BY open_time %s LIMIT 1
	`, order)

	var k domain.Kline
	err := r.db.QueryRow(query, symbol, interval).Scan(
		&k.Symbol, &k.Interval, &k.OpenTime, &k.CloseTime,
		&k.Open, &k.High, &k.Low, &k.Close, &k.Volume)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kline edge: %w", err)
	}
	return &k, nil
}

// Recent returns up to limit newest bars in ascending open_time order.
func (r *Repository) Recent(symbol, interval string, limit int) ([]domain.Kline, error) {
	rows, err := r.db.Query(`
		SELECT symbol, interval, open_time, close_time, open, high, low, close, volume
		FROM (
			SELECT * FROM klines WHERE symbol = ? AND interval = ?
			ORDER BY open_time DESC LIMIT ?
		) ORDER BY open_time ASC
	`, symbol, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent klines: %w", err)
	}
	defer rows.Close()

	var result []domain.Kline
	for rows.Next() {
		var k domain.Kline
		if err := rows.Scan(&k.Symbol, &k.Interval, &k.OpenTime, &k.CloseTime,
			&k.Open, &k.High, &k.Low, &k.Close, &k.Volume); err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan kline row")
			continue
		}
		result = append(result, k)
	}
	return result, rows.Err()
}

// AllCoverage returns count and time range per (symbol, interval).
func (r *Repository) AllCoverage() ([]Coverage, error) {
	rows, err := r.db.Query(`
		SELECT symbol, interval, COUNT(*), MIN(open_time), MAX(open_time)
		FROM klines GROUP BY symbol, interval
		ORDER BY symbol, interval
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query kline coverage: %w", err)
	}
	defer rows.Close()

	var result []Coverage
	for rows.Next() {
		var c Coverage
		if err := rows.Scan(&c.Symbol, &c.Interval, &c.Count, &c.OldestMS, &c.NewestMS); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}
