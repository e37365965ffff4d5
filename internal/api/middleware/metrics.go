package middleware

import (
	"net/http"
	"time"

	"github.com/ayo6706/wager-lobby/internal/observability"
	"github.com/go-chi/chi/v5"
)

// unmatchedRoute labels 404s so probing random paths cannot grow the
// route label set.
const unmatchedRoute = "unmatched"

// MetricsMiddleware observes request latency by chi route pattern.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		observability.ObserveHTTP(r.Method, routePattern(r), rw.status, time.Since(start))
	})
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}
