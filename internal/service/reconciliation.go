package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/wager-lobby/internal/domain"
	"github.com/ayo6706/wager-lobby/internal/models"
	"github.com/ayo6706/wager-lobby/internal/observability"
	"github.com/ayo6706/wager-lobby/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	CheckWalletBalance = "wallet_balance"
	CheckMatchEscrow   = "match_escrow"
	CheckMatchPayout   = "match_payout"
	CheckMatchRefund   = "match_refund"
)

// Imbalance is one violated ledger invariant.
type Imbalance struct {
	Check    string `json:"check"`
	Subject  string `json:"subject"`
	Expected int64  `json:"expected"`
	Actual   int64  `json:"actual"`
}

// ReconciliationReport summarises a reconciliation pass.
type ReconciliationReport struct {
	WalletsChecked int         `json:"wallets_checked"`
	MatchesChecked int         `json:"matches_checked"`
	Imbalances     []Imbalance `json:"imbalances"`
}

// Balanced reports whether no invariant was violated.
func (r *ReconciliationReport) Balanced() bool {
	return len(r.Imbalances) == 0
}

// ReconciliationService verifies ledger integrity invariants.
type ReconciliationService struct {
	store QueryStore
}

// NewReconciliationService creates a reconciliation service.
func NewReconciliationService(store QueryStore) *ReconciliationService {
	return &ReconciliationService{store: store}
}

// Run checks that every stored balance equals the fold of its history and
// that each match's escrow, payout and refunds agree with its roster.
func (s *ReconciliationService) Run(ctx context.Context) (*ReconciliationReport, error) {
	queries := s.store.Queries()
	report := &ReconciliationReport{Imbalances: []Imbalance{}}

	nets, err := queries.ListWalletNets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list wallet nets: %w", err)
	}
	report.WalletsChecked = len(nets)
	for _, n := range nets {
		if n.Balance != n.LedgerNet {
			report.add(Imbalance{Check: CheckWalletBalance, Subject: n.UserID, Expected: n.LedgerNet, Actual: n.Balance})
		}
	}

	ids, err := queries.ListMatchIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	report.MatchesChecked = len(ids)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.checkMatch(ctx, id, report); err != nil {
			return nil, err
		}
	}

	if report.Balanced() {
		zap.L().Info("Ledger Balanced", zap.Int("wallets", report.WalletsChecked), zap.Int("matches", report.MatchesChecked))
	}
	return report, nil
}

// checkMatch reads the roster and its ledger rows under the match lock, so a
// join committing mid-check cannot show up as drift.
func (s *ReconciliationService) checkMatch(ctx context.Context, id uuid.UUID, report *ReconciliationReport) error {
	var found []Imbalance
	err := s.store.RunInTx(ctx, func(q repository.Queries) error {
		m, err := q.LockMatch(ctx, id)
		if err != nil {
			return fmt.Errorf("lock match %s: %w", id, err)
		}
		found, err = matchImbalances(ctx, q, m)
		return err
	})
	if err != nil {
		return err
	}
	for _, i := range found {
		report.add(i)
	}
	return nil
}

func matchImbalances(ctx context.Context, queries repository.Queries, m *models.Match) ([]Imbalance, error) {
	var found []Imbalance
	subject := m.ID.String()

	escrows, err := queries.ListMatchTransactions(ctx, m.ID, models.KindEntryEscrow)
	if err != nil {
		return nil, fmt.Errorf("list escrows for %s: %w", subject, err)
	}
	pool := domain.PrizePool(domain.Money(m.EntryFee), len(m.Players)).Cents()
	if got := sumAmounts(escrows); got != pool {
		found = append(found, Imbalance{Check: CheckMatchEscrow, Subject: subject, Expected: pool, Actual: got})
	}

	switch m.Status {
	case models.MatchStatusCompleted:
		wins, err := queries.ListMatchTransactions(ctx, m.ID, models.KindWin)
		if err != nil {
			return nil, fmt.Errorf("list payouts for %s: %w", subject, err)
		}
		want := domain.SplitPrizePool(domain.Money(pool)).WinnerShare.Cents()
		if got := sumAmounts(wins); got != want || len(wins) != 1 {
			found = append(found, Imbalance{Check: CheckMatchPayout, Subject: subject, Expected: want, Actual: got})
		}
	case models.MatchStatusCancelled:
		refunds, err := queries.ListMatchTransactions(ctx, m.ID, models.KindRefund)
		if err != nil {
			return nil, fmt.Errorf("list refunds for %s: %w", subject, err)
		}
		if got := sumAmounts(refunds); got != pool {
			found = append(found, Imbalance{Check: CheckMatchRefund, Subject: subject, Expected: pool, Actual: got})
		}
	}
	return found, nil
}

func (r *ReconciliationReport) add(i Imbalance) {
	r.Imbalances = append(r.Imbalances, i)
	observability.IncrementLedgerImbalance(i.Check)
	zap.L().Error("CRITICAL: ledger imbalance detected",
		zap.String("check", i.Check),
		zap.String("subject", i.Subject),
		zap.Int64("expected", i.Expected),
		zap.Int64("actual", i.Actual))
}

func sumAmounts(txs []models.Transaction) int64 {
	var total int64
	for _, t := range txs {
		total += t.Amount
	}
	return total
}
