package klines

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"marketd/internal/clients/binance"
	"marketd/internal/domain"
)

// InitialLookback is how many bars to backfill per interval when a pair
// has no local history.
var InitialLookback = map[string]int{
	domain.Interval1m:  1440,
	domain.Interval5m:  2016,
	domain.Interval15m: 2016,
	domain.Interval1h:  2000,
	domain.Interval4h:  2000,
	domain.Interval1d:  1095,
}

const (
	batchSize = 1000

	// Pauses keep bulk syncs well below the exchange request weight caps.
	batchPause     = 300 * time.Millisecond
	timeframePause = 200 * time.Millisecond
	symbolPause    = 500 * time.Millisecond
)

// Watchlist provides the symbols whose K-lines are kept in sync.
type Watchlist interface {
	Symbols() ([]string, error)
}

// Syncer keeps the local kline database in step with the exchange.
type Syncer struct {
	repo   *Repository
	client *binance.Client
	watch  Watchlist
	log    zerolog.Logger
}

// NewSyncer creates a sync engine.
func NewSyncer(repo *Repository, client *binance.Client, watch Watchlist, log zerolog.Logger) *Syncer {
	return &Syncer{
		repo:   repo,
		client: client,
		watch:  watch,
		log:    log.With().Str("component", "kline_sync").Logger(),
	}
}

// Backfill fills history from the stored cursor (or the interval's
// initial lookback when empty) up to now, in batches.
func (s *Syncer) Backfill(ctx context.Context, symbol, interval string) (int, error) {
	latest, err := s.repo.Latest(symbol, interval)
	if err != nil {
		return 0, err
	}

	var cursor int64
	if latest != nil {
		cursor = latest.CloseTime + 1
	} else {
		lookback := InitialLookback[interval]
		if lookback == 0 {
			lookback = batchSize
		}
		span := time.Duration(lookback) * domain.IntervalDuration(interval)
		cursor = time.Now().Add(-span).UnixMilli()
	}

	total := 0
	for {
		now := time.Now().UnixMilli()
		if cursor >= now {
			break
		}

		batch, err := s.client.Klines(ctx, symbol, interval, batchSize, cursor, 0)
		if err != nil {
			if errors.Is(err, binance.ErrBanned) {
				s.log.Error().Str("symbol", symbol).Msg("Backfill aborted: IP banned")
			}
			return total, err
		}
		if len(batch) == 0 {
			break
		}

		inserted, err := s.repo.Upsert(batch)
		if err != nil {
			return total, err
		}
		total += inserted

		cursor = batch[len(batch)-1].CloseTime + 1
		if len(batch) < batchSize {
			break
		}

		select {
		case <-time.After(batchPause):
		case <-ctx.Done():
			return total, ctx.Err()
		}
	}

	s.log.Info().Str("symbol", symbol).Str("interval", interval).
		Int("inserted", total).Msg("Backfill complete")
	return total, nil
}

// Incremental fetches bars since the newest stored one and drops the
// final still-open bar so only closed bars are persisted.
func (s *Syncer) Incremental(ctx context.Context, symbol, interval string) (int, error) {
	latest, err := s.repo.Latest(symbol, interval)
	if err != nil {
		return 0, err
	}
	if latest == nil {
		return s.Backfill(ctx, symbol, interval)
	}

	batch, err := s.client.Klines(ctx, symbol, interval, batchSize, latest.OpenTime+1, 0)
	if err != nil {
		return 0, err
	}
	if len(batch) > 0 {
		// The last bar is the currently forming one.
		batch = batch[:len(batch)-1]
	}
	if len(batch) == 0 {
		return 0, nil
	}
	return s.repo.Upsert(batch)
}

// MultiTimeframe reads up to limit recent bars for each timeframe,
// optionally syncing first. Timeframes are processed strictly in order;
// a per-timeframe failure yields an empty slice rather than an error.
func (s *Syncer) MultiTimeframe(ctx context.Context, symbol string, timeframes []string, limit int, syncFirst bool) (map[string][]domain.Kline, error) {
	result := make(map[string][]domain.Kline, len(timeframes))

	for i, tf := range timeframes {
		if i > 0 {
			select {
			case <-time.After(timeframePause):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}

		if syncFirst {
			if _, err := s.Incremental(ctx, symbol, tf); err != nil {
				if errors.Is(err, binance.ErrBanned) {
					return result, err
				}
				s.log.Warn().Err(err).Str("symbol", symbol).Str("interval", tf).
					Msg("Sync failed, reading existing data")
			}
		}

		bars, err := s.repo.Recent(symbol, tf, limit)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Str("interval", tf).
				Msg("Read failed")
			result[tf] = []domain.Kline{}
			continue
		}
		result[tf] = bars
	}

	return result, nil
}

// SyncAllWatched runs an incremental sync for every watched symbol across
// the given timeframes.
func (s *Syncer) SyncAllWatched(ctx context.Context, timeframes []string) error {
	symbols, err := s.watch.Symbols()
	if err != nil {
		return err
	}

	for i, symbol := range symbols {
		if i > 0 {
			select {
			case <-time.After(symbolPause):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		pair := symbol + "USDT"
		for _, tf := range timeframes {
			if _, err := s.Incremental(ctx, pair, tf); err != nil {
				if errors.Is(err, binance.ErrBanned) {
					return err
				}
				s.log.Warn().Err(err).Str("symbol", pair).Str("interval", tf).
					Msg("Incremental sync failed")
			}
		}
	}

	return nil
}
