// Package signals stores trading signals submitted by external agents or
// produced by the analysis engine, providing an audit trail.
package signals

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"marketd/internal/domain"
)

// Repository handles signal persistence.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a signals repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "signals").Logger(),
	}
}

// Insert stores a signal and returns its assigned ID.
func (r *Repository) Insert(s *domain.Signal) (int64, error) {
	var raw any
	if len(s.RawAnalysis) > 0 {
		raw = string(s.RawAnalysis)
	}

	res, err := r.db.Exec(`
		INSERT INTO agent_signals
			(agent_id, strategy_name, symbol, action, conviction, price_at_signal,
			 reason, raw_analysis, stop_loss, take_profit, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, nullStr(s.AgentID), nullStr(s.StrategyName), s.Symbol, s.Action,
		s.Conviction, s.PriceAtSignal, nullStr(s.Reason), raw,
		s.StopLoss, s.TakeProfit, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to insert signal: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit newest signals, optionally filtered by
// symbol, newest first.
func (r *Repository) Recent(limit int, symbol string) ([]domain.Signal, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT id, agent_id, strategy_name, symbol, action, conviction,
		       price_at_signal, reason, raw_analysis, stop_loss, take_profit, created_at
		FROM agent_signals
	`
	args := []any{}
	if symbol != "" {
		query += " WHERE symbol = ?"
		args = append(args, symbol)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var result []domain.Signal
	for rows.Next() {
		var (
			s         domain.Signal
			agentID   sql.NullString
			strategy  sql.NullString
			reason    sql.NullString
			raw       sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&s.ID, &agentID, &strategy, &s.Symbol, &s.Action,
			&s.Conviction, &s.PriceAtSignal, &reason, &raw,
			&s.StopLoss, &s.TakeProfit, &createdAt); err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan signal row")
			continue
		}
		s.AgentID = agentID.String
		s.StrategyName = strategy.String
		s.Reason = reason.String
		if raw.Valid {
			s.RawAnalysis = []byte(raw.String)
		}
		s.CreatedAt = time.Unix(createdAt, 0).UTC()
		result = append(result, s)
	}
	return result, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
