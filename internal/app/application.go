// Package app wires the feed pipeline components into one Application shared
// by the CLI commands and the admin HTTP API.
package app

import (
	"log/slog"

	"transiter.dev/transiter/gtfsdb"
	"transiter.dev/transiter/internal/alerts"
	"transiter.dev/transiter/internal/appconf"
	"transiter.dev/transiter/internal/clock"
	"transiter.dev/transiter/internal/feedsource"
	"transiter.dev/transiter/internal/metrics"
	"transiter.dev/transiter/internal/stoptree"
	"transiter.dev/transiter/internal/transfers"
	"transiter.dev/transiter/internal/update"
)

// Application holds the dependencies for the CLI commands, the HTTP handlers
// and the feed scheduler.
type Application struct {
	Config    appconf.Config
	Logger    *slog.Logger
	DB        *gtfsdb.Client
	Runner    *update.Runner
	Scheduler *update.Scheduler
	Matcher   *alerts.Matcher
	Resolver  *stoptree.Resolver
	Transfers *transfers.Service
	Clock     clock.Clock
	Metrics   *metrics.Metrics
}

// New wires the pipeline components around an open database. m may be nil.
func New(cfg appconf.Config, logger *slog.Logger, client *gtfsdb.Client, source feedsource.Source, clk clock.Clock, m *metrics.Metrics) *Application {
	runner := update.NewRunner(client, source, clk, m)
	return &Application{
		Config:    cfg,
		Logger:    logger,
		DB:        client,
		Runner:    runner,
		Scheduler: update.NewScheduler(runner, client.Queries),
		Matcher:   alerts.NewMatcher(client.Queries),
		Resolver:  stoptree.NewResolver(client.Queries),
		Transfers: transfers.NewService(client),
		Clock:     clk,
		Metrics:   m,
	}
}

// Close stops background work and releases the database.
func (app *Application) Close() error {
	if app.Scheduler != nil {
		app.Scheduler.Shutdown()
	}
	if app.Metrics != nil {
		app.Metrics.Shutdown()
	}
	if app.DB != nil {
		return app.DB.Close()
	}
	return nil
}
