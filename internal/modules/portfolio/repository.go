// Package portfolio persists hourly valuation snapshots of the watched
// symbols so the cache history survives restarts.
package portfolio

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Snapshot is one stored valuation row.
type Snapshot struct {
	ID            int64           `json:"id"`
	TakenAt       time.Time       `json:"taken_at"`
	TotalValueUSD float64         `json:"total_value_usd"`
	Detail        json.RawMessage `json:"detail"`
}

type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "portfolio").Logger(),
	}
}

// Insert stores one snapshot. detail is marshalled as-is.
func (r *Repository) Insert(totalUSD float64, detail any) (int64, error) {
	raw, err := json.Marshal(detail)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot detail: %w", err)
	}

	res, err := r.db.Exec(
		`INSERT INTO portfolio_snapshots (taken_at, total_value_usd, detail_json) VALUES (?, ?, ?)`,
		time.Now().Unix(), totalUSD, string(raw),
	)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns the latest snapshots, newest first.
func (r *Repository) Recent(limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 24
	}

	rows, err := r.db.Query(
		`SELECT id, taken_at, total_value_usd, detail_json
		 FROM portfolio_snapshots ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var s Snapshot
		var takenAt int64
		var detail string
		if err := rows.Scan(&s.ID, &takenAt, &s.TotalValueUSD, &detail); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		s.TakenAt = time.Unix(takenAt, 0).UTC()
		s.Detail = json.RawMessage(detail)
		out = append(out, s)
	}
	return out, rows.Err()
}
