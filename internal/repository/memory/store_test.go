package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/ayo6706/wager-lobby/internal/models"
	"github.com/ayo6706/wager-lobby/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")

	matchID := uuid.New()
	err := s.RunInTx(ctx, func(q repository.Queries) error {
		_, err := q.LockWallet(ctx, "alice")
		require.NoError(t, err)
		require.NoError(t, q.UpdateWalletBalance(ctx, "alice", 500))
		require.NoError(t, q.InsertTransaction(ctx, &models.Transaction{
			ID: uuid.New(), UserID: "alice", Kind: models.KindDeposit, Amount: 500,
		}))
		require.NoError(t, q.InsertMatch(ctx, &models.Match{ID: matchID, Status: models.MatchStatusOpen, MaxPlayers: 2}))
		require.NoError(t, q.InsertAuditLog(ctx, models.AuditEntry{EntityType: "match", EntityID: matchID}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	q := s.Queries()
	w, err := q.GetWallet(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.Balance)

	txs, err := q.ListTransactions(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Empty(t, txs)

	_, err = q.GetMatch(ctx, matchID)
	assert.ErrorIs(t, err, models.ErrMatchNotFound)
	assert.Empty(t, s.AuditLog())

	nets, err := q.ListWalletNets(ctx)
	require.NoError(t, err)
	assert.Empty(t, nets)
}

func TestRunInTx_RollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	s := New()

	assert.Panics(t, func() {
		_ = s.RunInTx(ctx, func(q repository.Queries) error {
			_, _ = q.LockWallet(ctx, "bob")
			_ = q.UpdateWalletBalance(ctx, "bob", 100)
			panic("unexpected")
		})
	})

	w, err := s.Queries().GetWallet(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.Balance)
}

func TestUpdateWalletBalance_RejectsNegative(t *testing.T) {
	ctx := context.Background()
	s := New()
	err := s.RunInTx(ctx, func(q repository.Queries) error {
		if _, err := q.LockWallet(ctx, "carol"); err != nil {
			return err
		}
		return q.UpdateWalletBalance(ctx, "carol", -1)
	})
	require.Error(t, err)
}

func TestInsertTransaction_DuplicateProviderRef(t *testing.T) {
	ctx := context.Background()
	q := New().Queries()
	ref := "pay-1"

	require.NoError(t, q.InsertTransaction(ctx, &models.Transaction{
		ID: uuid.New(), UserID: "alice", Kind: models.KindDeposit, Amount: 100, FundingProviderRef: &ref,
	}))
	err := q.InsertTransaction(ctx, &models.Transaction{
		ID: uuid.New(), UserID: "alice", Kind: models.KindDeposit, Amount: 100, FundingProviderRef: &ref,
	})
	require.ErrorIs(t, err, repository.ErrConflict)

	got, err := q.GetTransactionByProviderRef(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Amount)

	_, err = q.GetTransactionByProviderRef(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestListTransactions_NewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	q := New().Queries()
	for i := 1; i <= 3; i++ {
		require.NoError(t, q.InsertTransaction(ctx, &models.Transaction{
			ID: uuid.New(), UserID: "alice", Kind: models.KindDeposit, Amount: int64(i),
		}))
	}

	txs, err := q.ListTransactions(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, int64(3), txs[0].Amount)
	assert.Equal(t, int64(2), txs[1].Amount)
}

func TestMatchRecordsDoNotAliasCallerState(t *testing.T) {
	ctx := context.Background()
	q := New().Queries()
	m := &models.Match{ID: uuid.New(), Status: models.MatchStatusOpen, MaxPlayers: 2}
	require.NoError(t, q.InsertMatch(ctx, m))
	require.NoError(t, q.InsertPlayer(ctx, m.ID, models.Player{UserID: "alice"}))

	got, err := q.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	got.Players[0].Ready = true
	got.Status = models.MatchStatusLive

	again, err := q.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, again.Players[0].Ready)
	assert.Equal(t, models.MatchStatusOpen, again.Status)

	err = q.InsertPlayer(ctx, m.ID, models.Player{UserID: "alice"})
	assert.ErrorIs(t, err, repository.ErrConflict)

	require.NoError(t, q.UpdatePlayerReady(ctx, m.ID, "alice", true))
	again, err = q.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, again.Players[0].Ready)
}

func TestListMatches_FiltersByStatus(t *testing.T) {
	ctx := context.Background()
	q := New().Queries()
	open := &models.Match{ID: uuid.New(), Status: models.MatchStatusOpen}
	live := &models.Match{ID: uuid.New(), Status: models.MatchStatusLive}
	require.NoError(t, q.InsertMatch(ctx, open))
	require.NoError(t, q.InsertMatch(ctx, live))

	all, err := q.ListMatches(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, live.ID, all[0].ID)

	onlyOpen, err := q.ListMatches(ctx, models.MatchStatusOpen, 10)
	require.NoError(t, err)
	require.Len(t, onlyOpen, 1)
	assert.Equal(t, open.ID, onlyOpen[0].ID)
}

func TestRunInTx_RestoresMatchRosterAfterUpdate(t *testing.T) {
	ctx := context.Background()
	s := New()
	m := &models.Match{ID: uuid.New(), Status: models.MatchStatusOpen, MaxPlayers: 2}
	require.NoError(t, s.Queries().InsertMatch(ctx, m))
	require.NoError(t, s.Queries().InsertPlayer(ctx, m.ID, models.Player{UserID: "alice"}))

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(q repository.Queries) error {
		locked, err := q.LockMatch(ctx, m.ID)
		require.NoError(t, err)
		require.NoError(t, q.InsertPlayer(ctx, m.ID, models.Player{UserID: "bob"}))
		require.NoError(t, q.UpdatePlayerReady(ctx, m.ID, "alice", true))
		locked.Status = models.MatchStatusFull
		require.NoError(t, q.UpdateMatch(ctx, locked))
		require.NoError(t, q.UpdatePlayerReady(ctx, m.ID, "bob", true))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Queries().GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusOpen, got.Status)
	require.Len(t, got.Players, 1)
	assert.Equal(t, "alice", got.Players[0].UserID)
	assert.False(t, got.Players[0].Ready)
}

func TestGetMatch_EmptyRosterIsNotNil(t *testing.T) {
	ctx := context.Background()
	q := New().Queries()
	m := &models.Match{ID: uuid.New(), Status: models.MatchStatusOpen, MaxPlayers: 2}
	require.NoError(t, q.InsertMatch(ctx, m))

	got, err := q.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Players)
	assert.Empty(t, got.Players)
}

func TestListMatchIDs_OldestFirst(t *testing.T) {
	ctx := context.Background()
	q := New().Queries()
	first := &models.Match{ID: uuid.New(), Status: models.MatchStatusOpen}
	second := &models.Match{ID: uuid.New(), Status: models.MatchStatusLive}
	require.NoError(t, q.InsertMatch(ctx, first))
	require.NoError(t, q.InsertMatch(ctx, second))

	ids, err := q.ListMatchIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, ids)
}
