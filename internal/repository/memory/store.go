package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/wager-lobby/internal/models"
	"github.com/ayo6706/wager-lobby/internal/repository"
	"github.com/google/uuid"
)

// Store is an in-memory implementation of the repository. A transaction holds
// the store-wide mutex for its whole duration, so transactions are serializable;
// writes made by a failed transaction are undone before the lock is released.
type Store struct {
	mu sync.Mutex

	wallets      map[string]*models.Wallet
	transactions []models.Transaction
	byUser       map[string][]int
	providerRefs map[string]int
	matches      map[uuid.UUID]*models.Match
	matchOrder   []uuid.UUID
	audit        []models.AuditEntry
}

// New creates an empty store.
func New() *Store {
	return &Store{
		wallets:      make(map[string]*models.Wallet),
		byUser:       make(map[string][]int),
		providerRefs: make(map[string]int),
		matches:      make(map[uuid.UUID]*models.Match),
	}
}

var _ repository.Store = (*Store)(nil)

func (s *Store) Queries() repository.Queries {
	return &queries{s: s}
}

func (s *Store) RunInTx(ctx context.Context, fn func(q repository.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	q := &queries{s: s, inTx: true}
	committed := false
	defer func() {
		if !committed {
			q.rollback()
		}
		s.mu.Unlock()
	}()

	if err := fn(q); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// AuditLog returns a copy of every audit entry written so far.
func (s *Store) AuditLog() []models.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditEntry(nil), s.audit...)
}

type queries struct {
	s     *Store
	inTx  bool
	undo  []func()
	saved map[uuid.UUID]bool
}

func (q *queries) lock() func() {
	if q.inTx {
		return func() {}
	}
	q.s.mu.Lock()
	return q.s.mu.Unlock
}

func (q *queries) onRollback(fn func()) {
	if q.inTx {
		q.undo = append(q.undo, fn)
	}
}

// saveMatch snapshots a match before its first write in the transaction.
// Rollback restores the snapshot whole, so later writes need no undo of their own.
func (q *queries) saveMatch(id uuid.UUID) {
	if !q.inTx || q.saved[id] {
		return
	}
	if q.saved == nil {
		q.saved = make(map[uuid.UUID]bool)
	}
	q.saved[id] = true
	if m, ok := q.s.matches[id]; ok {
		snap := m.Clone()
		q.onRollback(func() { q.s.matches[id] = snap })
	}
}

func (q *queries) rollback() {
	for i := len(q.undo) - 1; i >= 0; i-- {
		q.undo[i]()
	}
	q.undo = nil
}

// Wallets

func (q *queries) GetWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	defer q.lock()()
	if w, ok := q.s.wallets[userID]; ok {
		c := *w
		return &c, nil
	}
	return &models.Wallet{UserID: userID}, nil
}

func (q *queries) LockWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	defer q.lock()()
	w, ok := q.s.wallets[userID]
	if !ok {
		w = &models.Wallet{UserID: userID}
		q.s.wallets[userID] = w
		q.onRollback(func() { delete(q.s.wallets, userID) })
	}
	c := *w
	return &c, nil
}

func (q *queries) UpdateWalletBalance(ctx context.Context, userID string, balance int64) error {
	defer q.lock()()
	w, ok := q.s.wallets[userID]
	if !ok {
		return repository.ErrNotFound
	}
	if balance < 0 {
		return fmt.Errorf("wallet %s: balance check violated", userID)
	}
	prev := *w
	w.Balance = balance
	w.UpdatedAt = time.Now().UTC()
	q.onRollback(func() { *w = prev })
	return nil
}

func (q *queries) ListWalletNets(ctx context.Context) ([]models.WalletNet, error) {
	defer q.lock()()
	nets := make([]models.WalletNet, 0, len(q.s.wallets))
	for userID, w := range q.s.wallets {
		var net int64
		for _, idx := range q.s.byUser[userID] {
			net += q.s.transactions[idx].SignedAmount()
		}
		nets = append(nets, models.WalletNet{UserID: userID, Balance: w.Balance, LedgerNet: net})
	}
	return nets, nil
}

// Transactions

func (q *queries) InsertTransaction(ctx context.Context, tx *models.Transaction) error {
	defer q.lock()()
	if tx.FundingProviderRef != nil {
		if _, exists := q.s.providerRefs[*tx.FundingProviderRef]; exists {
			return fmt.Errorf("insert transaction: %w", repository.ErrConflict)
		}
	}

	idx := len(q.s.transactions)
	q.s.transactions = append(q.s.transactions, *tx)
	q.s.byUser[tx.UserID] = append(q.s.byUser[tx.UserID], idx)
	if tx.FundingProviderRef != nil {
		q.s.providerRefs[*tx.FundingProviderRef] = idx
	}

	userID, ref := tx.UserID, tx.FundingProviderRef
	q.onRollback(func() {
		q.s.transactions = q.s.transactions[:idx]
		ids := q.s.byUser[userID]
		q.s.byUser[userID] = ids[:len(ids)-1]
		if ref != nil {
			delete(q.s.providerRefs, *ref)
		}
	})
	return nil
}

func (q *queries) ListTransactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	defer q.lock()()
	ids := q.s.byUser[userID]
	out := make([]models.Transaction, 0, min(len(ids), max(limit, 0)))
	for i := len(ids) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, q.s.transactions[ids[i]])
	}
	return out, nil
}

func (q *queries) ListMatchTransactions(ctx context.Context, matchID uuid.UUID, kind models.TransactionKind) ([]models.Transaction, error) {
	defer q.lock()()
	var out []models.Transaction
	for _, tx := range q.s.transactions {
		if tx.MatchID != nil && *tx.MatchID == matchID && tx.Kind == kind {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (q *queries) GetTransactionByProviderRef(ctx context.Context, ref string) (*models.Transaction, error) {
	defer q.lock()()
	idx, ok := q.s.providerRefs[ref]
	if !ok {
		return nil, repository.ErrNotFound
	}
	tx := q.s.transactions[idx]
	return &tx, nil
}

// Matches

func (q *queries) InsertMatch(ctx context.Context, m *models.Match) error {
	defer q.lock()()
	if _, exists := q.s.matches[m.ID]; exists {
		return fmt.Errorf("insert match: %w", repository.ErrConflict)
	}
	q.saveMatch(m.ID)
	q.s.matches[m.ID] = m.Clone()
	q.s.matchOrder = append(q.s.matchOrder, m.ID)

	id := m.ID
	q.onRollback(func() {
		delete(q.s.matches, id)
		q.s.matchOrder = q.s.matchOrder[:len(q.s.matchOrder)-1]
	})
	return nil
}

func (q *queries) GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	defer q.lock()()
	m, ok := q.s.matches[id]
	if !ok {
		return nil, models.ErrMatchNotFound
	}
	return m.Clone(), nil
}

func (q *queries) LockMatch(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	return q.GetMatch(ctx, id)
}

func (q *queries) UpdateMatch(ctx context.Context, m *models.Match) error {
	defer q.lock()()
	stored, ok := q.s.matches[m.ID]
	if !ok {
		return models.ErrMatchNotFound
	}
	q.saveMatch(m.ID)
	next := m.Clone()
	next.Players = stored.Players
	q.s.matches[m.ID] = next
	return nil
}

func (q *queries) InsertPlayer(ctx context.Context, matchID uuid.UUID, p models.Player) error {
	defer q.lock()()
	m, ok := q.s.matches[matchID]
	if !ok {
		return models.ErrMatchNotFound
	}
	if m.Player(p.UserID) != nil {
		return fmt.Errorf("insert player: %w", repository.ErrConflict)
	}
	q.saveMatch(matchID)
	m.Players = append(m.Players, p)
	return nil
}

func (q *queries) UpdatePlayerReady(ctx context.Context, matchID uuid.UUID, userID string, ready bool) error {
	defer q.lock()()
	m, ok := q.s.matches[matchID]
	if !ok {
		return models.ErrMatchNotFound
	}
	p := m.Player(userID)
	if p == nil {
		return repository.ErrNotFound
	}
	q.saveMatch(matchID)
	p.Ready = ready
	return nil
}

func (q *queries) ListMatches(ctx context.Context, status models.MatchStatus, limit int) ([]models.Match, error) {
	defer q.lock()()
	var out []models.Match
	for i := len(q.s.matchOrder) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		m := q.s.matches[q.s.matchOrder[i]]
		if status != "" && m.Status != status {
			continue
		}
		out = append(out, *m.Clone())
	}
	return out, nil
}

func (q *queries) ListMatchIDs(ctx context.Context) ([]uuid.UUID, error) {
	defer q.lock()()
	return append([]uuid.UUID(nil), q.s.matchOrder...), nil
}

// Audit

func (q *queries) InsertAuditLog(ctx context.Context, e models.AuditEntry) error {
	defer q.lock()()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	q.s.audit = append(q.s.audit, e)
	n := len(q.s.audit) - 1
	q.onRollback(func() { q.s.audit = q.s.audit[:n] })
	return nil
}
