// Package metrics provides Prometheus metrics for feed updates and the
// database connection pool.
package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Registry is the Prometheus registry for this metrics instance
	Registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Feed update metrics
	FeedUpdatesTotal   *prometheus.CounterVec
	FeedUpdateDuration *prometheus.HistogramVec
	FeedBytesTotal     *prometheus.CounterVec
	EntityChangesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitSecondsTotal prometheus.Counter

	// logger for error reporting
	logger *slog.Logger

	// collectorStarted prevents spawning multiple collector goroutines
	collectorStarted atomic.Bool

	// cancel stops the DB stats collector goroutine
	cancel context.CancelFunc

	// wg tracks the DB stats collector goroutine for graceful shutdown
	wg sync.WaitGroup
}

// New creates and registers all application metrics with a new registry.
func New() *Metrics {
	return NewWithLogger(nil)
}

// NewWithLogger creates metrics with a logger for error reporting.
func NewWithLogger(logger *slog.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	httpRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transiter_http_requests_total",
			Help: "Total number of HTTP requests by route and transit system",
		},
		[]string{"method", "path", "system", "status"},
	)

	httpRequestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transiter_http_request_duration_seconds",
			Help:    "HTTP request latency distribution by route and transit system",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "system"},
	)

	feedUpdatesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transiter_feed_updates_total",
			Help: "Total number of feed updates by outcome",
		},
		[]string{"system", "feed", "status", "result"},
	)

	feedUpdateDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transiter_feed_update_duration_seconds",
			Help:    "Feed update latency distribution, from fetch to commit",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"system", "feed"},
	)

	feedBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transiter_feed_bytes_total",
			Help: "Total number of feed payload bytes fetched",
		},
		[]string{"system", "feed"},
	)

	entityChangesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transiter_entity_changes_total",
			Help: "Total number of entities added, updated or deleted by feed updates",
		},
		[]string{"kind", "action"},
	)

	dbConnectionsOpen := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "transiter_db_connections_open",
		Help: "Number of open database connections",
	})

	dbConnectionsInUse := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "transiter_db_connections_in_use",
		Help: "Number of database connections currently in use",
	})

	dbConnectionsIdle := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "transiter_db_connections_idle",
		Help: "Number of idle database connections",
	})

	dbWaitSecondsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "transiter_db_wait_seconds_total",
		Help: "Total time blocked waiting for a database connection",
	})

	// Register all metrics with the custom registry
	registry.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		feedUpdatesTotal,
		feedUpdateDuration,
		feedBytesTotal,
		entityChangesTotal,
		dbConnectionsOpen,
		dbConnectionsInUse,
		dbConnectionsIdle,
		dbWaitSecondsTotal,
	)

	return &Metrics{
		Registry:            registry,
		HTTPRequestsTotal:   httpRequestsTotal,
		HTTPRequestDuration: httpRequestDuration,
		FeedUpdatesTotal:    feedUpdatesTotal,
		FeedUpdateDuration:  feedUpdateDuration,
		FeedBytesTotal:      feedBytesTotal,
		EntityChangesTotal:  entityChangesTotal,
		DBConnectionsOpen:   dbConnectionsOpen,
		DBConnectionsInUse:  dbConnectionsInUse,
		DBConnectionsIdle:   dbConnectionsIdle,
		DBWaitSecondsTotal:  dbWaitSecondsTotal,
		logger:              logger,
	}
}

// RecordFeedUpdate counts one finished feed update.
func (m *Metrics) RecordFeedUpdate(systemID, feedID, status, result string, elapsed time.Duration) {
	m.FeedUpdatesTotal.WithLabelValues(systemID, feedID, status, result).Inc()
	m.FeedUpdateDuration.WithLabelValues(systemID, feedID).Observe(elapsed.Seconds())
}

// RecordEntityChanges adds n changes of the given kind and action
// ("added", "updated" or "deleted").
func (m *Metrics) RecordEntityChanges(kind, action string, n int) {
	if n <= 0 {
		return
	}
	m.EntityChangesTotal.WithLabelValues(kind, action).Add(float64(n))
}

// StartDBStatsCollector starts a goroutine that periodically collects database
// connection pool statistics and updates the corresponding metrics.
// The interval specifies how often to collect stats.
// This method is idempotent - calling it multiple times has no effect after the first call.
// Call Shutdown() to stop the collector.
func (m *Metrics) StartDBStatsCollector(db *sql.DB, interval time.Duration) {
	if db == nil {
		return
	}

	// Prevent spawning multiple collectors
	if !m.collectorStarted.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	var lastWaitDuration time.Duration

	// Add to WaitGroup BEFORE exposing cancel to avoid race with Shutdown
	m.wg.Add(1)
	m.cancel = cancel

	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				if m.logger != nil {
					m.logger.Error("panic in DB stats collector", "error", r)
				}
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				stats := db.Stats()
				m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
				m.DBConnectionsInUse.Set(float64(stats.InUse))
				m.DBConnectionsIdle.Set(float64(stats.Idle))

				// Add the delta of wait duration since last check
				waitDelta := stats.WaitDuration - lastWaitDuration
				if waitDelta > 0 {
					m.DBWaitSecondsTotal.Add(waitDelta.Seconds())
				}
				lastWaitDuration = stats.WaitDuration

			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the DB stats collector goroutine and waits for it to exit.
// This method is safe to call multiple times.
func (m *Metrics) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
