package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"marketd/internal/domain"
	"marketd/internal/monitor"
)

// Supervisor launches spider runs for sources that are due and tracks
// which sources are currently being crawled so a slow run is never
// doubled up.
type Supervisor struct {
	repo            *Repository
	pool            *BrowserPool
	mon             *monitor.Monitor
	taskTimeout     time.Duration
	defaultInterval time.Duration
	log             zerolog.Logger

	mu      sync.Mutex
	running map[int64]bool
	wg      sync.WaitGroup
}

// NewSupervisor creates a crawl supervisor. defaultInterval is the
// cadence used for sources that do not carry their own interval.
func NewSupervisor(repo *Repository, pool *BrowserPool, mon *monitor.Monitor, taskTimeout, defaultInterval time.Duration, log zerolog.Logger) *Supervisor {
	if taskTimeout <= 0 {
		taskTimeout = 300 * time.Second
	}
	if defaultInterval <= 0 {
		defaultInterval = time.Hour
	}
	return &Supervisor{
		repo:            repo,
		pool:            pool,
		mon:             mon,
		taskTimeout:     taskTimeout,
		defaultInterval: defaultInterval,
		log:             log.With().Str("component", "crawl_supervisor").Logger(),
		running:         make(map[int64]bool),
	}
}

// Check starts a run for every active source that is due and not
// already running. Runs execute in their own goroutines; Check returns
// immediately after launching them.
func (s *Supervisor) Check(ctx context.Context) error {
	sources, err := s.repo.ActiveSources()
	if err != nil {
		return fmt.Errorf("crawler check: %w", err)
	}

	now := time.Now()
	for _, src := range sources {
		if !s.due(src, now) {
			continue
		}
		if !s.tryStart(src.ID) {
			s.log.Debug().Str("source", src.Name).Msg("Already running, skipping")
			continue
		}

		s.wg.Add(1)
		go s.runSource(ctx, src)
	}
	return nil
}

// Wait blocks until all in-flight runs finish. Used during shutdown.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) due(src domain.CrawlSource, now time.Time) bool {
	if src.LastRunAt == nil {
		return true
	}
	interval := s.defaultInterval
	if src.IntervalMinutes > 0 {
		interval = time.Duration(src.IntervalMinutes) * time.Minute
	}
	return now.Sub(*src.LastRunAt) >= interval
}

func (s *Supervisor) tryStart(sourceID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[sourceID] {
		return false
	}
	s.running[sourceID] = true
	return true
}

func (s *Supervisor) finish(sourceID int64) {
	s.mu.Lock()
	delete(s.running, sourceID)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Supervisor) runSource(ctx context.Context, src domain.CrawlSource) {
	defer s.finish(src.ID)

	taskID := uuid.New().String()
	log := s.log.With().Str("source", src.Name).Str("task_id", taskID).Logger()

	if err := s.repo.CreateTask(taskID, src.ID); err != nil {
		log.Error().Err(err).Msg("Failed to create task record")
		return
	}

	spider, err := newSpider(src.SpiderType, src.URL, s.log)
	if err != nil {
		log.Error().Err(err).Msg("Unknown spider")
		_ = s.repo.FinishTask(taskID, domain.TaskFailed, err.Error(), 0)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, s.taskTimeout)
	defer cancel()

	started := time.Now()
	var items []domain.CrawledItem
	err = s.pool.Run(runCtx, func(tabCtx context.Context) error {
		var crawlErr error
		items, crawlErr = spider.Crawl(tabCtx)
		return crawlErr
	})
	latency := int(time.Since(started).Milliseconds())

	if err != nil {
		log.Warn().Err(err).Msg("Crawl failed")
		_ = s.repo.FinishTask(taskID, domain.TaskFailed, err.Error(), 0)
		s.record(src, false, latency, err.Error())
		_ = s.repo.TouchSourceRun(src.ID)
		return
	}

	inserted, err := s.repo.InsertItems(src.ID, taskID, items)
	if err != nil {
		log.Error().Err(err).Msg("Failed to store crawled items")
		_ = s.repo.FinishTask(taskID, domain.TaskFailed, err.Error(), 0)
		s.record(src, false, latency, err.Error())
		_ = s.repo.TouchSourceRun(src.ID)
		return
	}

	_ = s.repo.FinishTask(taskID, domain.TaskCompleted, "", inserted)
	_ = s.repo.TouchSourceRun(src.ID)
	s.record(src, true, latency, fmt.Sprintf("%d items, %d new", len(items), inserted))
	log.Info().Int("items", len(items)).Int("inserted", inserted).Msg("Crawl completed")
}

func (s *Supervisor) record(src domain.CrawlSource, ok bool, latencyMS int, message string) {
	if s.mon != nil {
		s.mon.Record(src.Name, "Scraper", ok, latencyMS, message)
	}
}
