package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/ayo6706/wager-lobby/internal/clock"
	"github.com/ayo6706/wager-lobby/internal/events"
	"github.com/ayo6706/wager-lobby/internal/models"
	"github.com/ayo6706/wager-lobby/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

type fixture struct {
	store      *memory.Store
	clock      *clock.Fixed
	events     *events.Recorder
	ledger     *LedgerService
	registry   *MatchRegistry
	settlement *SettlementCoordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, memory.New())
}

func newFixtureWithStore(t *testing.T, store *memory.Store) *fixture {
	t.Helper()
	c := clock.NewFixed(testEpoch)
	rec := &events.Recorder{}
	ledger := NewLedgerService(store, c)
	return &fixture{
		store:      store,
		clock:      c,
		events:     rec,
		ledger:     ledger,
		registry:   NewMatchRegistry(store, ledger, c).WithEventPublisher(rec),
		settlement: NewSettlementCoordinator(store, ledger, c).WithEventPublisher(rec),
	}
}

func (f *fixture) fund(t *testing.T, userID string, cents int64) {
	t.Helper()
	_, err := f.ledger.Credit(context.Background(), CreditRequest{
		UserID:      userID,
		Amount:      cents,
		Kind:        models.KindDeposit,
		Description: "test deposit",
	})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, userID string) int64 {
	t.Helper()
	w, err := f.ledger.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return w.Balance
}

// fullMatch creates a match and seats n funded players named p1..pn.
func (f *fixture) fullMatch(t *testing.T, entryFee int64, n int) (*models.Match, []string) {
	t.Helper()
	ctx := context.Background()
	m, err := f.registry.CreateMatch(ctx, "Test Match", entryFee, n)
	require.NoError(t, err)

	users := make([]string, n)
	for i := range users {
		users[i] = fmt.Sprintf("p%d", i+1)
		f.fund(t, users[i], entryFee)
		m, err = f.registry.JoinMatch(ctx, m.ID, users[i], "")
		require.NoError(t, err)
	}
	require.Equal(t, models.MatchStatusFull, m.Status)
	return m, users
}

// liveMatch is fullMatch followed by an operator start.
func (f *fixture) liveMatch(t *testing.T, entryFee int64, n int) (*models.Match, []string) {
	t.Helper()
	m, users := f.fullMatch(t, entryFee, n)
	m, err := f.registry.StartMatch(context.Background(), m.ID, nil)
	require.NoError(t, err)
	require.Equal(t, models.MatchStatusLive, m.Status)
	return m, users
}

func (f *fixture) matchTransactions(t *testing.T, matchID uuid.UUID, kind models.TransactionKind) []models.Transaction {
	t.Helper()
	txs, err := f.store.Queries().ListMatchTransactions(context.Background(), matchID, kind)
	require.NoError(t, err)
	return txs
}

type staticVerifier map[string]bool

func (v staticVerifier) IsVerified(_ context.Context, userID string) (bool, error) {
	return v[userID], nil
}

func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
