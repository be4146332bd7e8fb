// Package crawler scrapes ETF flow and holdings data from pages that
// have no public API, using a pooled headless browser. Sources, task
// runs, and scraped points are persisted for the snapshot API.
package crawler

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"marketd/internal/database"
	"marketd/internal/domain"
)

// Repository handles crawl sources, tasks, and scraped data.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a crawler repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "crawler").Logger(),
	}
}

// ActiveSources returns all active crawl sources.
func (r *Repository) ActiveSources() ([]domain.CrawlSource, error) {
	rows, err := r.db.Query(`
		SELECT id, name, url, spider_type, interval_minutes, last_run_at, active
		FROM crawl_sources WHERE active = 1 ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list crawl sources: %w", err)
	}
	defer rows.Close()

	var result []domain.CrawlSource
	for rows.Next() {
		var (
			s         domain.CrawlSource
			lastRun   sql.NullInt64
			activeInt int
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.URL, &s.SpiderType,
			&s.IntervalMinutes, &lastRun, &activeInt); err != nil {
			return nil, err
		}
		if lastRun.Valid {
			ts := time.Unix(lastRun.Int64, 0).UTC()
			s.LastRunAt = &ts
		}
		s.Active = activeInt == 1
		result = append(result, s)
	}
	return result, rows.Err()
}

// TouchSourceRun updates the source's last run time to now.
func (r *Repository) TouchSourceRun(sourceID int64) error {
	_, err := r.db.Exec(`UPDATE crawl_sources SET last_run_at = ? WHERE id = ?`,
		time.Now().Unix(), sourceID)
	if err != nil {
		return fmt.Errorf("failed to touch source %d: %w", sourceID, err)
	}
	return nil
}

// CreateTask records the start of a spider run.
func (r *Repository) CreateTask(taskID string, sourceID int64) error {
	_, err := r.db.Exec(`
		INSERT INTO crawl_tasks (id, source_id, status, started_at)
		VALUES (?, ?, ?, ?)
	`, taskID, sourceID, domain.TaskRunning, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to create crawl task: %w", err)
	}
	return nil
}

// FinishTask records the outcome of a spider run.
func (r *Repository) FinishTask(taskID, status, errorLog string, itemsCount int) error {
	_, err := r.db.Exec(`
		UPDATE crawl_tasks SET status = ?, ended_at = ?, error_log = ?, items_count = ?
		WHERE id = ?
	`, status, time.Now().Unix(), nullIfEmpty(errorLog), itemsCount, taskID)
	if err != nil {
		return fmt.Errorf("failed to finish crawl task %s: %w", taskID, err)
	}
	return nil
}

// InsertItems stores scraped points, skipping any (data_type, same UTC
// calendar day) pair already present. Returns the number inserted.
func (r *Repository) InsertItems(sourceID int64, taskID string, items []domain.CrawledItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	inserted := 0
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		for _, item := range items {
			day := item.Date.UTC().Format("2006-01-02")

			var exists int
			err := tx.QueryRow(`
				SELECT COUNT(*) FROM crawled_data
				WHERE data_type = ? AND date(date, 'unixepoch') = ?
			`, item.DataType, day).Scan(&exists)
			if err != nil {
				return err
			}
			if exists > 0 {
				continue
			}

			var raw any
			if len(item.Meta) > 0 {
				encoded, err := json.Marshal(item.Meta)
				if err != nil {
					return fmt.Errorf("encode item meta: %w", err)
				}
				raw = string(encoded)
			}

			if _, err := tx.Exec(`
				INSERT INTO crawled_data (source_id, task_id, data_type, date, value, raw_content)
				VALUES (?, ?, ?, ?, ?, ?)
			`, sourceID, taskID, item.DataType, item.Date.UTC().Unix(), item.Value, raw); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert crawled items: %w", err)
	}
	return inserted, nil
}

// LatestByType returns the most recent data point of a type, or nil.
func (r *Repository) LatestByType(dataType string) (*domain.CrawledData, error) {
	var (
		d         domain.CrawledData
		date      int64
		raw       sql.NullString
		createdAt int64
	)
	err := r.db.QueryRow(`
		SELECT id, data_type, date, value, raw_content, created_at
		FROM crawled_data WHERE data_type = ?
		ORDER BY date DESC, id DESC LIMIT 1
	`, dataType).Scan(&d.ID, &d.DataType, &date, &d.Value, &raw, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest %s: %w", dataType, err)
	}
	d.Date = time.Unix(date, 0).UTC()
	d.RawContent = raw.String
	d.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &d, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
