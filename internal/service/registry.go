package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/wager-lobby/internal/clock"
	"github.com/ayo6706/wager-lobby/internal/domain"
	"github.com/ayo6706/wager-lobby/internal/events"
	"github.com/ayo6706/wager-lobby/internal/models"
	"github.com/ayo6706/wager-lobby/internal/observability"
	"github.com/ayo6706/wager-lobby/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxListMatches = 200

// IdentityVerifier answers whether a user has a linked, verified game identity.
type IdentityVerifier interface {
	IsVerified(ctx context.Context, userID string) (bool, error)
}

// MatchRegistry owns match creation, membership, and every transition up to LIVE.
type MatchRegistry struct {
	store      QueryStore
	ledger     *LedgerService
	audit      *AuditService
	identity   IdentityVerifier
	events     events.Publisher
	clock      clock.Clock
	readyCheck bool
}

func NewMatchRegistry(store QueryStore, ledger *LedgerService, c clock.Clock) *MatchRegistry {
	if c == nil {
		c = clock.New()
	}
	return &MatchRegistry{
		store:  store,
		ledger: ledger,
		audit:  NewAuditService(c),
		events: events.Nop{},
		clock:  c,
	}
}

// WithReadyCheck turns on the READY_CHECK gate between FULL and LIVE.
func (r *MatchRegistry) WithReadyCheck(enabled bool) *MatchRegistry {
	r.readyCheck = enabled
	return r
}

// WithIdentityVerifier requires a verified identity to join. A nil verifier
// admits everyone.
func (r *MatchRegistry) WithIdentityVerifier(v IdentityVerifier) *MatchRegistry {
	r.identity = v
	return r
}

func (r *MatchRegistry) WithEventPublisher(p events.Publisher) *MatchRegistry {
	if p != nil {
		r.events = p
	}
	return r
}

// CreateMatch opens a new lobby with an empty roster.
func (r *MatchRegistry) CreateMatch(ctx context.Context, title string, entryFee int64, maxPlayers int) (*models.Match, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = domain.DefaultMatchTitle
	}
	if entryFee <= 0 {
		return nil, fmt.Errorf("%w: entry fee must be positive", models.ErrInvalidMatch)
	}
	if maxPlayers < domain.MinPlayers {
		return nil, fmt.Errorf("%w: max players must be at least %d", models.ErrInvalidMatch, domain.MinPlayers)
	}

	now := r.clock.Now()
	m := &models.Match{
		ID:         uuid.New(),
		Title:      title,
		EntryFee:   entryFee,
		MaxPlayers: maxPlayers,
		Players:    []models.Player{},
		Status:     models.MatchStatusOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := r.store.RunInTx(ctx, func(q repository.Queries) error {
		if err := q.InsertMatch(ctx, m); err != nil {
			return fmt.Errorf("insert match: %w", err)
		}
		return r.audit.Write(ctx, q, entityMatch, m.ID, nil, "match.created", "", string(m.Status), map[string]any{
			"title":       m.Title,
			"entry_fee":   m.EntryFee,
			"max_players": m.MaxPlayers,
		})
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("match created", zap.String("match_id", m.ID.String()), zap.Int64("entry_fee", entryFee), zap.Int("max_players", maxPlayers))
	r.publish(ctx, events.Event{Type: events.MatchCreated, MatchID: m.ID, Status: m.Status})
	return m, nil
}

// JoinMatch escrows the entry fee and seats the user. The match row is locked
// for the whole read-debit-write so two joins cannot both take the last seat.
func (r *MatchRegistry) JoinMatch(ctx context.Context, matchID uuid.UUID, userID, displayName string) (*models.Match, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("user_id is required")
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = userID
	}

	if r.identity != nil {
		ok, err := r.identity.IsVerified(ctx, userID)
		if err != nil {
			observability.IncrementJoin("identity_error")
			return nil, fmt.Errorf("verify identity: %w", err)
		}
		if !ok {
			observability.IncrementJoin("identity_not_verified")
			return nil, models.ErrIdentityNotVerified
		}
	}

	var (
		match      *models.Match
		becameFull bool
	)
	err := r.store.RunInTx(ctx, func(q repository.Queries) error {
		m, err := q.LockMatch(ctx, matchID)
		if err != nil {
			return err
		}
		if m.Status != models.MatchStatusOpen || m.IsFull() {
			return fmt.Errorf("%w: status %s", models.ErrMatchNotJoinable, m.Status)
		}
		if m.Player(userID) != nil {
			return models.ErrAlreadyJoined
		}

		if _, err := r.ledger.DebitTx(ctx, q, DebitRequest{
			UserID:      userID,
			Amount:      m.EntryFee,
			Kind:        models.KindEntryEscrow,
			Description: "Entry fee: " + m.Title,
			MatchID:     &m.ID,
		}); err != nil {
			return err
		}

		player := models.Player{UserID: userID, DisplayName: displayName, JoinedAt: r.clock.Now()}
		if err := q.InsertPlayer(ctx, m.ID, player); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return models.ErrAlreadyJoined
			}
			return fmt.Errorf("insert player: %w", err)
		}
		m.Players = append(m.Players, player)

		if m.IsFull() {
			if err := transitionMatch(ctx, q, r.audit, m, models.MatchStatusFull, &userID, "match.full", map[string]any{"players": len(m.Players)}); err != nil {
				return err
			}
			becameFull = true
		}
		match = m
		return nil
	})
	if err != nil {
		observability.IncrementJoin(joinOutcome(err))
		return nil, err
	}

	observability.IncrementJoin("joined")
	zap.L().Info("player joined match",
		zap.String("match_id", matchID.String()),
		zap.String("user_id", userID),
		zap.Int("players", len(match.Players)),
		zap.Int("max_players", match.MaxPlayers))

	r.publish(ctx, events.Event{Type: events.PlayerJoined, MatchID: match.ID, Status: match.Status, UserID: userID})
	if becameFull {
		r.publish(ctx, events.Event{Type: events.MatchFull, MatchID: match.ID, Status: match.Status})
	}
	return match, nil
}

// SetReady records a member's ready flag and advances toward LIVE once every
// seat is ready.
func (r *MatchRegistry) SetReady(ctx context.Context, matchID uuid.UUID, userID string, ready bool) (*models.Match, error) {
	var (
		match     *models.Match
		published []events.Event
	)
	err := r.store.RunInTx(ctx, func(q repository.Queries) error {
		m, err := q.LockMatch(ctx, matchID)
		if err != nil {
			return err
		}
		p := m.Player(userID)
		if p == nil {
			return models.ErrNotAMember
		}
		if m.Status != models.MatchStatusFull && m.Status != models.MatchStatusReadyCheck {
			return fmt.Errorf("%w: cannot change readiness in %s", models.ErrWrongState, m.Status)
		}

		if err := q.UpdatePlayerReady(ctx, m.ID, userID, ready); err != nil {
			return fmt.Errorf("update ready flag: %w", err)
		}
		p.Ready = ready
		published = append(published, events.Event{Type: events.PlayerReady, MatchID: m.ID, UserID: userID, Data: map[string]any{"ready": ready}})

		if r.readyCheck && ready && m.Status == models.MatchStatusFull {
			if err := transitionMatch(ctx, q, r.audit, m, models.MatchStatusReadyCheck, &userID, "match.ready_check", nil); err != nil {
				return err
			}
			published = append(published, events.Event{Type: events.ReadyCheck, MatchID: m.ID})
		}
		if m.AllReady() {
			if err := transitionMatch(ctx, q, r.audit, m, models.MatchStatusLive, &userID, "match.live", map[string]any{"trigger": "all_ready"}); err != nil {
				return err
			}
			published = append(published, events.Event{Type: events.MatchLive, MatchID: m.ID})
		}
		match = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, evt := range published {
		evt.Status = match.Status
		r.publish(ctx, evt)
	}
	return match, nil
}

// StartMatch forces FULL or READY_CHECK to LIVE. Starting a LIVE match is a no-op.
func (r *MatchRegistry) StartMatch(ctx context.Context, matchID uuid.UUID, actorID *string) (*models.Match, error) {
	var (
		match   *models.Match
		changed bool
	)
	err := r.store.RunInTx(ctx, func(q repository.Queries) error {
		m, err := q.LockMatch(ctx, matchID)
		if err != nil {
			return err
		}
		match = m
		switch m.Status {
		case models.MatchStatusLive:
			return nil
		case models.MatchStatusFull, models.MatchStatusReadyCheck:
			changed = true
			return transitionMatch(ctx, q, r.audit, m, models.MatchStatusLive, actorID, "match.started", map[string]any{"trigger": "operator"})
		default:
			return fmt.Errorf("%w: cannot start a %s match", models.ErrWrongState, m.Status)
		}
	})
	if err != nil {
		return nil, err
	}
	if changed {
		zap.L().Info("match started", zap.String("match_id", matchID.String()))
		r.publish(ctx, events.Event{Type: events.MatchLive, MatchID: match.ID, Status: match.Status})
	}
	return match, nil
}

// RecordScore stores the live score reported by telemetry. It has no ledger effect.
func (r *MatchRegistry) RecordScore(ctx context.Context, matchID uuid.UUID, teamA, teamB int) (*models.Match, error) {
	if teamA < 0 || teamB < 0 {
		return nil, fmt.Errorf("%w: scores must be non-negative", models.ErrInvalidMatch)
	}
	var (
		match   *models.Match
		changed bool
	)
	err := r.store.RunInTx(ctx, func(q repository.Queries) error {
		m, err := q.LockMatch(ctx, matchID)
		if err != nil {
			return err
		}
		if m.Status != models.MatchStatusLive {
			return fmt.Errorf("%w: scores are only recorded while LIVE, match is %s", models.ErrWrongState, m.Status)
		}
		match = m
		if m.Score.TeamA == teamA && m.Score.TeamB == teamB {
			return nil
		}
		m.Score = models.Score{TeamA: teamA, TeamB: teamB}
		m.UpdatedAt = r.clock.Now()
		changed = true
		return q.UpdateMatch(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		r.publish(ctx, events.Event{
			Type: events.ScoreUpdated, MatchID: match.ID, Status: match.Status,
			Data: map[string]any{"team_a": teamA, "team_b": teamB},
		})
	}
	return match, nil
}

func (r *MatchRegistry) GetMatch(ctx context.Context, matchID uuid.UUID) (*models.Match, error) {
	return r.store.Queries().GetMatch(ctx, matchID)
}

// ListMatches returns matches newest first; an empty status lists every match.
func (r *MatchRegistry) ListMatches(ctx context.Context, status models.MatchStatus, limit int) ([]models.Match, error) {
	if limit <= 0 || limit > maxListMatches {
		limit = maxListMatches
	}
	matches, err := r.store.Queries().ListMatches(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	if matches == nil {
		matches = []models.Match{}
	}
	return matches, nil
}

func (r *MatchRegistry) publish(ctx context.Context, evt events.Event) {
	publishEvent(ctx, r.events, r.clock, evt)
}

func publishEvent(ctx context.Context, p events.Publisher, c clock.Clock, evt events.Event) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = c.Now()
	}
	if err := p.Publish(ctx, evt); err != nil {
		zap.L().Warn("event publish failed",
			zap.String("type", string(evt.Type)),
			zap.String("match_id", evt.MatchID.String()),
			zap.Error(err))
	}
}

func joinOutcome(err error) string {
	switch {
	case errors.Is(err, models.ErrMatchNotFound):
		return "not_found"
	case errors.Is(err, models.ErrMatchNotJoinable):
		return "not_joinable"
	case errors.Is(err, models.ErrAlreadyJoined):
		return "already_joined"
	case errors.Is(err, models.ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "error"
	}
}
