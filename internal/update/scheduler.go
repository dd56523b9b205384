package update

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"transiter.dev/transiter/gtfsdb"
	"transiter.dev/transiter/internal/logging"
)

// updateTimeout bounds a single scheduled update.
const updateTimeout = 5 * time.Minute

// Scheduler updates every feed that has a period, each on its own ticker.
type Scheduler struct {
	runner *Runner
	q      *gtfsdb.Queries
	logger *slog.Logger

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

func NewScheduler(runner *Runner, q *gtfsdb.Queries) *Scheduler {
	return &Scheduler{
		runner:       runner,
		q:            q,
		logger:       slog.Default().With(slog.String("component", "feed_update_scheduler")),
		shutdownChan: make(chan struct{}),
	}
}

// Start launches one goroutine per scheduled feed and returns how many were
// started. Feeds installed afterwards are picked up by the next Start.
func (s *Scheduler) Start(ctx context.Context) (int, error) {
	feeds, err := s.q.ListScheduledFeeds(ctx)
	if err != nil {
		return 0, err
	}
	for _, feed := range feeds {
		period := time.Duration(feed.PeriodMs.Int64) * time.Millisecond
		if period <= 0 {
			continue
		}
		s.wg.Add(1)
		go s.updatePeriodically(feed.SystemID, feed.FeedID, period)
	}
	logging.LogOperation(s.logger, "feed_scheduler_started", slog.Int("feeds", len(feeds)))
	return len(feeds), nil
}

func (s *Scheduler) updatePeriodically(systemID, feedID string, period time.Duration) {
	defer s.wg.Done()

	logger := s.logger.With(slog.String("system_id", systemID), slog.String("feed_id", feedID))

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	s.updateOnce(logger, systemID, feedID)
	for {
		select {
		case <-ticker.C:
			s.updateOnce(logger, systemID, feedID)
		case <-s.shutdownChan:
			logging.LogOperation(logger, "shutting_down_feed_updates")
			return
		}
	}
}

func (s *Scheduler) updateOnce(logger *slog.Logger, systemID, feedID string) {
	ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
	defer cancel()
	go func() {
		select {
		case <-s.shutdownChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	// RunUpdate logs its own outcome.
	if _, err := s.runner.RunUpdate(logging.WithLogger(ctx, logger), systemID, feedID); err != nil {
		logger.Debug("scheduled_update_failed", slog.String("error", err.Error()))
	}
}

// Shutdown stops all feed goroutines and waits for running updates to end.
func (s *Scheduler) Shutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownChan) })
	s.wg.Wait()
}
