package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/wager-lobby/internal/clock"
	"github.com/ayo6706/wager-lobby/internal/domain"
	"github.com/ayo6706/wager-lobby/internal/events"
	"github.com/ayo6706/wager-lobby/internal/models"
	"github.com/ayo6706/wager-lobby/internal/observability"
	"github.com/ayo6706/wager-lobby/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Verdict is a normalized "match X concluded, winner Y" signal.
type Verdict struct {
	MatchID  uuid.UUID
	WinnerID string
	Evidence string
	Source   string
	ActorID  *string
}

// SettlementResult describes an applied (or replayed) payout.
type SettlementResult struct {
	MatchID       uuid.UUID `json:"match_id"`
	WinnerID      string    `json:"winner_id"`
	PrizePool     int64     `json:"prize_pool"`
	WinnerShare   int64     `json:"winner_share"`
	PlatformShare int64     `json:"platform_share"`
	SettledAt     time.Time `json:"settled_at"`
	TransactionID uuid.UUID `json:"transaction_id"`
	// Replayed is set when the match was already settled for the same winner
	// and nothing new was written.
	Replayed bool `json:"replayed"`
}

// SettlementCoordinator is the only writer of VERIFYING, COMPLETED and the
// winner fields. It also owns the void/refund path.
type SettlementCoordinator struct {
	store  QueryStore
	ledger *LedgerService
	audit  *AuditService
	events events.Publisher
	clock  clock.Clock
}

func NewSettlementCoordinator(store QueryStore, ledger *LedgerService, c clock.Clock) *SettlementCoordinator {
	if c == nil {
		c = clock.New()
	}
	return &SettlementCoordinator{
		store:  store,
		ledger: ledger,
		audit:  NewAuditService(c),
		events: events.Nop{},
		clock:  c,
	}
}

func (s *SettlementCoordinator) WithEventPublisher(p events.Publisher) *SettlementCoordinator {
	if p != nil {
		s.events = p
	}
	return s
}

// Settle concludes a match for proposedWinnerID.
func (s *SettlementCoordinator) Settle(ctx context.Context, matchID uuid.UUID, proposedWinnerID, evidence string) (*SettlementResult, error) {
	return s.SettleVerdict(ctx, Verdict{MatchID: matchID, WinnerID: proposedWinnerID, Evidence: evidence})
}

// SettleVerdict applies a verdict exactly once.
//
// The first store transaction moves LIVE to VERIFYING and records the verdict;
// it commits even when the winner turns out not to be a member so the match
// stays visibly pending. The second transaction re-locks the match, checks the
// ledger for an existing WIN on this match, credits the winner share and marks
// the match COMPLETED. A repeat for the same winner is a soft success with
// Replayed set; a different winner is ErrConflictingSettlement.
func (s *SettlementCoordinator) SettleVerdict(ctx context.Context, v Verdict) (*SettlementResult, error) {
	v.WinnerID = strings.TrimSpace(v.WinnerID)
	if v.WinnerID == "" {
		return nil, fmt.Errorf("%w: winner is required", models.ErrWinnerNotAMember)
	}
	log := zap.L().With(zap.String("match_id", v.MatchID.String()), zap.String("winner_id", v.WinnerID), zap.String("source", v.Source))

	var (
		replay       *SettlementResult
		notMember    bool
		nowVerifying bool
	)
	err := s.store.RunInTx(ctx, func(q repository.Queries) error {
		m, err := q.LockMatch(ctx, v.MatchID)
		if err != nil {
			return err
		}

		switch m.Status {
		case models.MatchStatusCompleted:
			replay, err = s.replay(ctx, q, m, v.WinnerID)
			return err
		case models.MatchStatusLive:
			s.recordVerdict(m, v)
			if err := transitionMatch(ctx, q, s.audit, m, models.MatchStatusVerifying, v.ActorID, "match.verifying", verdictMetadata(v)); err != nil {
				return err
			}
			nowVerifying = true
		case models.MatchStatusVerifying:
			if pendingIsValid(m) && *m.PendingWinnerID != v.WinnerID {
				return fmt.Errorf("%w: verdict for %s already pending", models.ErrConflictingSettlement, *m.PendingWinnerID)
			}
			if m.PendingWinnerID == nil || *m.PendingWinnerID != v.WinnerID {
				s.recordVerdict(m, v)
				if err := q.UpdateMatch(ctx, m); err != nil {
					return fmt.Errorf("record verdict: %w", err)
				}
			}
		case models.MatchStatusOpen, models.MatchStatusFull, models.MatchStatusReadyCheck:
			return fmt.Errorf("%w: %w: match is %s", models.ErrNotSettleable, models.ErrMatchNotStarted, m.Status)
		default:
			return fmt.Errorf("%w: match is %s", models.ErrNotSettleable, m.Status)
		}

		notMember = m.Player(v.WinnerID) == nil
		return nil
	})
	if err != nil {
		observability.IncrementSettlement(settlementOutcome(err))
		return nil, err
	}
	if replay != nil {
		observability.IncrementSettlement("replayed")
		log.Info("settlement replayed", zap.String("transaction_id", replay.TransactionID.String()))
		return replay, nil
	}
	if nowVerifying {
		s.publish(ctx, events.Event{Type: events.MatchVerifying, MatchID: v.MatchID, Status: models.MatchStatusVerifying, UserID: v.WinnerID})
	}
	if notMember {
		observability.IncrementSettlement("winner_not_member")
		log.Warn("verdict names a non-member, match left in VERIFYING")
		return nil, models.ErrWinnerNotAMember
	}

	var result *SettlementResult
	err = s.store.RunInTx(ctx, func(q repository.Queries) error {
		m, err := q.LockMatch(ctx, v.MatchID)
		if err != nil {
			return err
		}
		switch m.Status {
		case models.MatchStatusCompleted:
			// A concurrent settle finished between the two transactions.
			result, err = s.replay(ctx, q, m, v.WinnerID)
			return err
		case models.MatchStatusVerifying:
		default:
			return fmt.Errorf("%w: match is %s", models.ErrNotSettleable, m.Status)
		}
		if m.PendingWinnerID == nil || *m.PendingWinnerID != v.WinnerID {
			return fmt.Errorf("%w: pending verdict changed", models.ErrConflictingSettlement)
		}
		if m.Player(v.WinnerID) == nil {
			return models.ErrWinnerNotAMember
		}

		split := domain.SplitPrizePool(domain.PrizePool(domain.Money(m.EntryFee), len(m.Players)))

		wins, err := q.ListMatchTransactions(ctx, m.ID, models.KindWin)
		if err != nil {
			return fmt.Errorf("check existing payout: %w", err)
		}

		var txID uuid.UUID
		if len(wins) > 0 {
			// The ledger already shows a payout; finish the status write only.
			if wins[0].UserID != v.WinnerID {
				log.Error("ledger payout disagrees with verdict", zap.String("paid_user_id", wins[0].UserID))
				return fmt.Errorf("%w: payout already credited to %s", models.ErrConflictingSettlement, wins[0].UserID)
			}
			txID = wins[0].ID
			log.Warn("payout found in ledger without COMPLETED status, not crediting again", zap.String("transaction_id", txID.String()))
		} else {
			tx, err := s.ledger.CreditTx(ctx, q, CreditRequest{
				UserID:      v.WinnerID,
				Amount:      split.WinnerShare.Cents(),
				Kind:        models.KindWin,
				Description: "Winnings: " + m.Title,
				MatchID:     &m.ID,
			})
			if err != nil {
				return fmt.Errorf("credit winner: %w", err)
			}
			txID = tx.ID
		}

		settledAt := s.clock.Now()
		winner := v.WinnerID
		m.WinnerID = &winner
		m.SettledAt = &settledAt
		m.PendingWinnerID = nil
		if err := transitionMatch(ctx, q, s.audit, m, models.MatchStatusCompleted, v.ActorID, "match.completed", map[string]any{
			"winner_id":      winner,
			"prize_pool":     split.PrizePool.Cents(),
			"winner_share":   split.WinnerShare.Cents(),
			"platform_share": split.PlatformShare.Cents(),
			"transaction_id": txID.String(),
			"source":         v.Source,
		}); err != nil {
			return err
		}

		result = &SettlementResult{
			MatchID:       m.ID,
			WinnerID:      winner,
			PrizePool:     split.PrizePool.Cents(),
			WinnerShare:   split.WinnerShare.Cents(),
			PlatformShare: split.PlatformShare.Cents(),
			SettledAt:     settledAt,
			TransactionID: txID,
		}
		return nil
	})
	if err != nil {
		observability.IncrementSettlement(settlementOutcome(err))
		log.Error("settlement failed, match stays in VERIFYING", zap.Error(err))
		return nil, err
	}

	if result.Replayed {
		observability.IncrementSettlement("replayed")
		return result, nil
	}
	observability.IncrementSettlement("settled")
	log.Info("match settled",
		zap.Int64("prize_pool", result.PrizePool),
		zap.Int64("winner_share", result.WinnerShare),
		zap.Int64("platform_share", result.PlatformShare))
	s.publish(ctx, events.Event{
		Type: events.MatchCompleted, MatchID: result.MatchID, Status: models.MatchStatusCompleted, UserID: result.WinnerID,
		Data: map[string]any{
			"prize_pool":     result.PrizePool,
			"winner_share":   result.WinnerShare,
			"platform_share": result.PlatformShare,
		},
	})
	return result, nil
}

// CancelMatch voids an OPEN or FULL match, refunding every member's entry fee
// in join order.
func (s *SettlementCoordinator) CancelMatch(ctx context.Context, matchID uuid.UUID, reason string, actorID *string) (*models.Match, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled by operator"
	}

	var match *models.Match
	err := s.store.RunInTx(ctx, func(q repository.Queries) error {
		m, err := q.LockMatch(ctx, matchID)
		if err != nil {
			return err
		}
		if m.Status != models.MatchStatusOpen && m.Status != models.MatchStatusFull {
			return fmt.Errorf("%w: cannot cancel a %s match", models.ErrWrongState, m.Status)
		}

		for _, p := range m.Players {
			if _, err := s.ledger.CreditTx(ctx, q, CreditRequest{
				UserID:      p.UserID,
				Amount:      m.EntryFee,
				Kind:        models.KindRefund,
				Description: "Refund: " + m.Title,
				MatchID:     &m.ID,
			}); err != nil {
				return fmt.Errorf("refund %s: %w", p.UserID, err)
			}
		}

		if err := transitionMatch(ctx, q, s.audit, m, models.MatchStatusCancelled, actorID, "match.cancelled", map[string]any{
			"reason":   reason,
			"refunded": len(m.Players),
		}); err != nil {
			return err
		}
		match = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("match cancelled", zap.String("match_id", matchID.String()), zap.Int("refunded", len(match.Players)), zap.String("reason", reason))
	s.publish(ctx, events.Event{Type: events.MatchCancelled, MatchID: match.ID, Status: match.Status, Data: map[string]any{"reason": reason}})
	return match, nil
}

// RetryPending re-applies recorded verdicts for matches stuck in VERIFYING.
// It returns how many matches were completed.
func (s *SettlementCoordinator) RetryPending(ctx context.Context, batch int) (int, error) {
	matches, err := s.store.Queries().ListMatches(ctx, models.MatchStatusVerifying, batch)
	if err != nil {
		return 0, fmt.Errorf("list verifying matches: %w", err)
	}

	var pending []models.Match
	for _, m := range matches {
		if pendingIsValid(&m) {
			pending = append(pending, m)
		}
	}
	observability.SetPendingSettlements(len(pending))

	settled := 0
	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			return settled, err
		}
		v := Verdict{MatchID: m.ID, WinnerID: *m.PendingWinnerID, Source: domain.SourceRecovery}
		if m.Evidence != nil {
			v.Evidence = *m.Evidence
		}
		res, err := s.SettleVerdict(ctx, v)
		if err != nil {
			zap.L().Error("pending settlement retry failed", zap.String("match_id", m.ID.String()), zap.Error(err))
			continue
		}
		if !res.Replayed {
			settled++
		}
	}
	return settled, nil
}

func (s *SettlementCoordinator) recordVerdict(m *models.Match, v Verdict) {
	winner := v.WinnerID
	m.PendingWinnerID = &winner
	// Evidence belongs to the verdict it arrived with; never carry it over.
	m.Evidence = nil
	if v.Evidence != "" {
		evidence := v.Evidence
		m.Evidence = &evidence
	}
	m.UpdatedAt = s.clock.Now()
}

// replay rebuilds the original result of a completed match.
func (s *SettlementCoordinator) replay(ctx context.Context, q repository.Queries, m *models.Match, proposedWinnerID string) (*SettlementResult, error) {
	if m.WinnerID == nil {
		return nil, fmt.Errorf("%w: completed match has no winner", models.ErrNotSettleable)
	}
	if *m.WinnerID != proposedWinnerID {
		return nil, fmt.Errorf("%w: settled for %s", models.ErrConflictingSettlement, *m.WinnerID)
	}

	split := domain.SplitPrizePool(domain.PrizePool(domain.Money(m.EntryFee), len(m.Players)))
	res := &SettlementResult{
		MatchID:       m.ID,
		WinnerID:      *m.WinnerID,
		PrizePool:     split.PrizePool.Cents(),
		WinnerShare:   split.WinnerShare.Cents(),
		PlatformShare: split.PlatformShare.Cents(),
		Replayed:      true,
	}
	if m.SettledAt != nil {
		res.SettledAt = *m.SettledAt
	}
	wins, err := q.ListMatchTransactions(ctx, m.ID, models.KindWin)
	if err != nil {
		return nil, fmt.Errorf("load payout: %w", err)
	}
	if len(wins) > 0 {
		res.TransactionID = wins[0].ID
	}
	return res, nil
}

func (s *SettlementCoordinator) publish(ctx context.Context, evt events.Event) {
	publishEvent(ctx, s.events, s.clock, evt)
}

// pendingIsValid reports whether the recorded verdict names a current member.
func pendingIsValid(m *models.Match) bool {
	return m.PendingWinnerID != nil && m.Player(*m.PendingWinnerID) != nil
}

func verdictMetadata(v Verdict) map[string]any {
	md := map[string]any{"winner_id": v.WinnerID}
	if v.Source != "" {
		md["source"] = v.Source
	}
	if v.Evidence != "" {
		md["evidence"] = v.Evidence
	}
	return md
}

func settlementOutcome(err error) string {
	switch {
	case errors.Is(err, models.ErrMatchNotFound):
		return "not_found"
	case errors.Is(err, models.ErrNotSettleable):
		return "not_settleable"
	case errors.Is(err, models.ErrConflictingSettlement):
		return "conflict"
	case errors.Is(err, models.ErrWinnerNotAMember):
		return "winner_not_member"
	default:
		return "error"
	}
}
