// Package problem writes RFC 7807 problem details.
package problem

import (
	"encoding/json"
	"net/http"
	"strings"
)

const (
	ContentType = "application/problem+json"
	baseTypeURL = "https://errors.wager-lobby.dev/"
)

// Details is the problem+json body. RequestID carries the trace id so players
// can quote it to support when a join or withdrawal is rejected.
type Details struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance"`
	RequestID string `json:"request_id"`
}

// Type expands a slug such as "wallet/insufficient-funds" into a type URI.
// Absolute URIs and about:blank pass through.
func Type(slug string) string {
	if slug == "" || slug == "about:blank" || strings.HasPrefix(slug, "http://") || strings.HasPrefix(slug, "https://") {
		return slug
	}
	return baseTypeURL + strings.TrimPrefix(slug, "/")
}

// New builds Details for r. An empty title defaults to the status text.
func New(r *http.Request, status int, problemType, title, detail string) Details {
	if title == "" {
		title = http.StatusText(status)
	}
	if problemType == "" {
		problemType = "about:blank"
	}
	d := Details{Type: problemType, Title: title, Status: status, Detail: detail}
	if r != nil {
		d.Instance = r.URL.Path
	}
	return d
}

// Write sends d, filling request_id from the X-Trace-ID the trace middleware
// already set on the response.
func (d Details) Write(w http.ResponseWriter, r *http.Request) {
	if d.RequestID == "" {
		d.RequestID = w.Header().Get("X-Trace-ID")
	}
	if d.RequestID == "" && r != nil {
		d.RequestID = r.Header.Get("X-Trace-ID")
	}
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(d.Status)
	_ = json.NewEncoder(w).Encode(d)
}

// Write is shorthand for New(...).Write(w, r).
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	New(r, status, problemType, title, detail).Write(w, r)
}
