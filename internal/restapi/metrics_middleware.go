package restapi

import (
	"net/http"
	"strconv"
	"time"

	"transiter.dev/transiter/internal/metrics"
)

// noSystemLabel is the system label of routes outside /api/systems/{system}.
const noSystemLabel = "none"

// MetricsHandler returns middleware that counts and times requests by route
// pattern and transit system. A nil m disables it.
func MetricsHandler(m *metrics.Metrics) func(http.Handler) http.Handler {
	if m == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			route := routeLabel(r)
			system := noSystemLabel
			if r.Pattern != "" {
				if id := r.PathValue("system"); id != "" {
					system = id
				}
			}
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, system, strconv.Itoa(wrapped.statusCode)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route, system).Observe(time.Since(start).Seconds())
		})
	}
}

type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
