package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/wager-lobby/internal/api/problem"
	"github.com/go-chi/httprate"
)

// PublicRateLimiter limits signed callbacks per source IP and endpoint, so a
// chatty game server streaming telemetry does not starve the funding webhook
// behind the same NAT.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
		httprate.WithLimitHandler(limitExceeded(rps, "source")),
	)
}

// AuthRateLimiter keys on the authenticated user, falling back to the IP.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if userID := UserIDFromContext(r.Context()); userID != "" {
				return "user:" + userID, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(limitExceeded(rps, "user")),
	)
}

func limitExceeded(rps int, subject string) http.HandlerFunc {
	detail := fmt.Sprintf("rate limit of %d req/s exceeded for this %s", rps, subject)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		problem.Write(w, r, http.StatusTooManyRequests, problem.Type("rate-limit-exceeded"), "", detail)
	}
}
