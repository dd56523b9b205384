// Package restapi serves the admin HTTP API: health, on-demand feed updates
// and read access to the derived views (stop trees, active alerts and
// transfers).
package restapi

import (
	"net/http"
	"time"

	"transiter.dev/transiter/internal/app"
)

type RestAPI struct {
	*app.Application
	rateLimiter *RateLimitMiddleware
}

func NewRestAPI(app *app.Application) *RestAPI {
	return &RestAPI{
		Application: app,
		rateLimiter: NewRateLimitMiddleware(app.Config.RateLimit, time.Second, nil, app.Clock),
	}
}

// SetRoutes registers every API route on mux.
func (api *RestAPI) SetRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", api.healthHandler)
	mux.HandleFunc("GET /api/current-time", api.currentTimeHandler)

	mux.HandleFunc("POST /api/systems/{system}/feeds/{feed}/update", api.requireAPIKey(api.runUpdateHandler))
	mux.HandleFunc("GET /api/systems/{system}/feeds/{feed}/updates", api.listUpdatesHandler)
	mux.HandleFunc("GET /api/systems/{system}/stops/{stop}/descendants", api.stopDescendantsHandler)
	mux.HandleFunc("GET /api/systems/{system}/alerts/{kind}", api.activeAlertsHandler)

	mux.HandleFunc("GET /api/transfers-configs", api.listTransfersConfigsHandler)
	mux.HandleFunc("GET /api/transfers-configs/{id}", api.getTransfersConfigHandler)
	mux.HandleFunc("GET /api/transfers-preview", api.previewTransfersHandler)
}

// Handler wraps the routes in the request id, logging, metrics and rate
// limiting middleware.
func (api *RestAPI) Handler(mux *http.ServeMux) http.Handler {
	var handler http.Handler = mux
	handler = api.rateLimiter.Handler()(handler)
	handler = MetricsHandler(api.Metrics)(handler)
	handler = NewRequestLoggingMiddleware(api.Logger)(handler)
	return RequestIDMiddleware(handler)
}

// Shutdown stops background work of the middleware.
func (api *RestAPI) Shutdown() {
	api.rateLimiter.Stop()
}

func (api *RestAPI) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if api.RequestHasInvalidAPIKey(r) {
			api.sendUnauthorized(w, r)
			return
		}
		next(w, r)
	}
}
