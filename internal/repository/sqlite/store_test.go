package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ayo6706/wager-lobby/internal/models"
	"github.com/ayo6706/wager-lobby/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_WalletAndHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	matchID := uuid.New()
	ref := "pay-42"

	err := s.RunInTx(ctx, func(q repository.Queries) error {
		if _, err := q.LockWallet(ctx, "alice"); err != nil {
			return err
		}
		if err := q.InsertTransaction(ctx, &models.Transaction{
			ID: uuid.New(), UserID: "alice", Kind: models.KindDeposit, Amount: 5000,
			FundingProviderRef: &ref, CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
		if err := q.InsertTransaction(ctx, &models.Transaction{
			ID: uuid.New(), UserID: "alice", Kind: models.KindEntryEscrow, Amount: 2500,
			MatchID: &matchID, CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
		return q.UpdateWalletBalance(ctx, "alice", 2500)
	})
	require.NoError(t, err)

	q := s.Queries()
	w, err := q.GetWallet(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), w.Balance)

	history, err := q.ListTransactions(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.KindEntryEscrow, history[0].Kind)
	require.NotNil(t, history[0].MatchID)
	assert.Equal(t, matchID, *history[0].MatchID)
	assert.Nil(t, history[0].FundingProviderRef)

	dep, err := q.GetTransactionByProviderRef(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), dep.Amount)

	nets, err := q.ListWalletNets(ctx)
	require.NoError(t, err)
	require.Len(t, nets, 1)
	assert.Equal(t, nets[0].Balance, nets[0].LedgerNet)
}

func TestStore_RollbackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(q repository.Queries) error {
		if _, err := q.LockWallet(ctx, "bob"); err != nil {
			return err
		}
		if err := q.UpdateWalletBalance(ctx, "bob", 700); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	w, err := s.Queries().GetWallet(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.Balance)
}

func TestStore_Constraints(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	q := s.Queries()
	matchID := uuid.New()

	_, err := q.LockWallet(ctx, "carol")
	require.NoError(t, err)
	assert.Error(t, q.UpdateWalletBalance(ctx, "carol", -5))

	win := func(user string) *models.Transaction {
		return &models.Transaction{ID: uuid.New(), UserID: user, Kind: models.KindWin, Amount: 100, MatchID: &matchID}
	}
	require.NoError(t, q.InsertTransaction(ctx, win("carol")))
	assert.ErrorIs(t, q.InsertTransaction(ctx, win("dave")), repository.ErrConflict)
}

func TestStore_MatchLifecycleRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	q := s.Queries()
	now := time.Now().UTC()

	m := &models.Match{
		ID: uuid.New(), Title: "Mirage", EntryFee: 1000, MaxPlayers: 2,
		Status: models.MatchStatusOpen, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, q.InsertMatch(ctx, m))
	require.NoError(t, q.InsertPlayer(ctx, m.ID, models.Player{UserID: "bob", DisplayName: "Bob", JoinedAt: now}))
	require.NoError(t, q.InsertPlayer(ctx, m.ID, models.Player{UserID: "alice", DisplayName: "Alice", JoinedAt: now}))
	assert.ErrorIs(t, q.InsertPlayer(ctx, m.ID, models.Player{UserID: "bob"}), repository.ErrConflict)
	require.NoError(t, q.UpdatePlayerReady(ctx, m.ID, "alice", true))
	assert.ErrorIs(t, q.UpdatePlayerReady(ctx, m.ID, "zed", true), repository.ErrNotFound)

	pending := "alice"
	m.Status = models.MatchStatusVerifying
	m.PendingWinnerID = &pending
	m.Score = models.Score{TeamA: 16, TeamB: 9}
	require.NoError(t, q.UpdateMatch(ctx, m))

	got, err := q.LockMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusVerifying, got.Status)
	assert.Equal(t, 16, got.Score.TeamA)
	require.NotNil(t, got.PendingWinnerID)
	assert.Nil(t, got.SettledAt)
	require.Len(t, got.Players, 2)
	assert.Equal(t, "bob", got.Players[0].UserID)
	assert.True(t, got.Players[1].Ready)

	verifying, err := q.ListMatches(ctx, models.MatchStatusVerifying, 10)
	require.NoError(t, err)
	require.Len(t, verifying, 1)
	assert.Len(t, verifying[0].Players, 2)

	_, err = q.GetMatch(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrMatchNotFound)
	require.NoError(t, q.InsertAuditLog(ctx, models.AuditEntry{EntityType: "match", EntityID: m.ID, Action: "match.verifying"}))
}

func TestStore_EmptyRosterAndMatchIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	q := s.Queries()
	now := time.Now().UTC()

	var ids []uuid.UUID
	for _, title := range []string{"Inferno", "Nuke"} {
		m := &models.Match{
			ID: uuid.New(), Title: title, EntryFee: 500, MaxPlayers: 2,
			Status: models.MatchStatusOpen, CreatedAt: now, UpdatedAt: now,
		}
		require.NoError(t, q.InsertMatch(ctx, m))
		ids = append(ids, m.ID)
	}

	got, err := q.GetMatch(ctx, ids[0])
	require.NoError(t, err)
	raw, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"players":[]`)

	listed, err := q.ListMatches(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.NotNil(t, listed[0].Players)

	all, err := q.ListMatchIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids, all)
}
