package events

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/wager-lobby/internal/models"
	"github.com/google/uuid"
)

// Type names a match lifecycle event.
type Type string

const (
	MatchCreated   Type = "match.created"
	PlayerJoined   Type = "match.player_joined"
	MatchFull      Type = "match.full"
	PlayerReady    Type = "match.player_ready"
	ReadyCheck     Type = "match.ready_check"
	MatchLive      Type = "match.live"
	ScoreUpdated   Type = "match.score_updated"
	MatchVerifying Type = "match.verifying"
	MatchCompleted Type = "match.completed"
	MatchCancelled Type = "match.cancelled"
)

// Event is published after the store transaction that produced it commits.
type Event struct {
	Type       Type               `json:"type"`
	MatchID    uuid.UUID          `json:"match_id"`
	Status     models.MatchStatus `json:"status"`
	UserID     string             `json:"user_id,omitempty"`
	Data       map[string]any     `json:"data,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// Publisher delivers lifecycle events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evt Event) error {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	return nil
}

// Events returns a snapshot of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists the recorded event types in publish order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
