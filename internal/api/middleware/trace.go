package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const maxTraceIDLen = 128

// TraceMiddleware assigns every request a trace id, stored in the context and
// echoed as X-Trace-ID. Callers may supply X-Trace-ID or X-Request-ID; game
// servers usually send the latter. Oversized or non-printable ids are replaced.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := inboundTraceID(r)
		ctx := context.WithValue(r.Context(), traceContextKey, traceID)
		w.Header().Set("X-Trace-ID", traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func inboundTraceID(r *http.Request) string {
	for _, h := range []string{"X-Trace-ID", "X-Request-ID"} {
		if id := strings.TrimSpace(r.Header.Get(h)); validTraceID(id) {
			return id
		}
	}
	return uuid.NewString()
}

func validTraceID(id string) bool {
	if id == "" || len(id) > maxTraceIDLen {
		return false
	}
	for _, c := range id {
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}
