package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/wager-lobby/internal/models"
	"github.com/ayo6706/wager-lobby/internal/repository"
)

const entityMatch = "match"

var matchTransitions = map[models.MatchStatus]map[models.MatchStatus]struct{}{
	models.MatchStatusOpen: {
		models.MatchStatusFull:      {},
		models.MatchStatusCancelled: {},
	},
	models.MatchStatusFull: {
		models.MatchStatusReadyCheck: {},
		models.MatchStatusLive:       {},
		models.MatchStatusCancelled:  {},
	},
	models.MatchStatusReadyCheck: {
		models.MatchStatusLive: {},
	},
	models.MatchStatusLive: {
		models.MatchStatusVerifying: {},
	},
	models.MatchStatusVerifying: {
		models.MatchStatusCompleted: {},
	},
	models.MatchStatusCompleted: {},
	models.MatchStatusCancelled: {},
}

func canTransition(current, next models.MatchStatus) bool {
	nextStates, ok := matchTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// transitionMatch moves a locked match to next, persists it, and writes the
// audit entry. The caller must hold the match lock in q.
func transitionMatch(ctx context.Context, q repository.Queries, audit *AuditService, m *models.Match, next models.MatchStatus, actorID *string, action string, metadata any) error {
	current := m.Status
	if current == next {
		return nil
	}
	if !canTransition(current, next) {
		return fmt.Errorf("%w: %s -> %s", models.ErrWrongState, current, next)
	}

	m.Status = next
	m.UpdatedAt = audit.clock.Now()
	if err := q.UpdateMatch(ctx, m); err != nil {
		m.Status = current
		return fmt.Errorf("update match state: %w", err)
	}

	return audit.Write(ctx, q, entityMatch, m.ID, actorID, action, string(current), string(next), metadata)
}
