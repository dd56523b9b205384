package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"transiter.dev/transiter/gtfsdb"
	"transiter.dev/transiter/internal/app"
	"transiter.dev/transiter/internal/appconf"
	"transiter.dev/transiter/internal/clock"
	"transiter.dev/transiter/internal/feedsource"
	"transiter.dev/transiter/internal/logging"
	"transiter.dev/transiter/internal/metrics"
	"transiter.dev/transiter/internal/restapi"
	"transiter.dev/transiter/internal/webui"
)

const dbStatsInterval = 15 * time.Second

// BuildApplication opens the database and wires the application components.
func BuildApplication(cfg appconf.Config) (*app.Application, error) {
	logger := logging.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	client, err := gtfsdb.NewClient(gtfsdb.NewConfig(cfg.DBPath, cfg.Env, cfg.Verbose))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	source := feedsource.NewDispatcher(
		feedsource.NewHTTPSource(feedsource.HTTPOptions{}),
		feedsource.NewFileSource(),
	)
	m := metrics.NewWithLogger(logger)
	return app.New(cfg, logger, client, source, clock.RealClock{}, m), nil
}

// CreateServer builds the HTTP server for the admin API, the debug pages and,
// unless a separate metrics address is configured, the Prometheus endpoint.
func CreateServer(coreApp *app.Application, addr string) (*http.Server, *restapi.RestAPI) {
	api := restapi.NewRestAPI(coreApp)

	mux := http.NewServeMux()
	api.SetRoutes(mux)
	webUI := &webui.WebUI{Application: coreApp}
	webUI.SetWebUIRoutes(mux)
	if coreApp.Config.MetricsAddr == "" {
		mux.Handle("GET /metrics", metricsHandler(coreApp))
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      api.Handler(mux),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}
	return srv, api
}

func metricsHandler(coreApp *app.Application) http.Handler {
	return promhttp.HandlerFor(coreApp.Metrics.Registry, promhttp.HandlerOpts{})
}

func createMetricsServer(coreApp *app.Application) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler(coreApp))
	return &http.Server{
		Addr:        coreApp.Config.MetricsAddr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}
}

// Run starts the feed scheduler and the servers, and blocks until ctx is
// cancelled or a server fails.
func Run(ctx context.Context, coreApp *app.Application, servers ...*http.Server) error {
	logger := coreApp.Logger

	coreApp.Metrics.StartDBStatsCollector(coreApp.DB.DB, dbStatsInterval)
	scheduled, err := coreApp.Scheduler.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start feed scheduler: %w", err)
	}
	logging.LogOperation(logger, "feed_scheduler_started", slog.Int("scheduled_feeds", scheduled))

	serverErrors := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			logging.LogOperation(logger, "starting_server", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrors <- err
			}
		}(srv)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logging.LogOperation(logger, "shutting_down_server")
	case runErr = <-serverErrors:
		logging.LogError(logger, "server failed", runErr)
	}

	coreApp.Scheduler.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.LogError(logger, "server forced to shutdown", err, slog.String("addr", srv.Addr))
		}
	}
	logging.LogOperation(logger, "server_exited")
	return runErr
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
