package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/wager-lobby/internal/db"
	"github.com/ayo6706/wager-lobby/internal/models"
	"github.com/ayo6706/wager-lobby/internal/repository"
	"github.com/ayo6706/wager-lobby/internal/testutil/dblock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	release := dblock.Acquire()
	code := m.Run()
	release()
	os.Exit(code)
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		t.Skip("DATABASE_URL not set")
	}
	require.NoError(t, db.Migrate(connString))

	pool, err := pgxpool.New(context.Background(), connString)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(context.Background(), "TRUNCATE TABLE audit_log, match_players, matches, transactions, wallets CASCADE")
	require.NoError(t, err)

	return New(pool)
}

func TestStore_RollbackLeavesNoTrace(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(q repository.Queries) error {
		if _, err := q.LockWallet(ctx, "alice"); err != nil {
			return err
		}
		if err := q.UpdateWalletBalance(ctx, "alice", 900); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	w, err := s.Queries().GetWallet(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.Balance)
}

func TestStore_BalanceCheckConstraint(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.RunInTx(ctx, func(q repository.Queries) error {
		if _, err := q.LockWallet(ctx, "bob"); err != nil {
			return err
		}
		return q.UpdateWalletBalance(ctx, "bob", -1)
	})
	require.Error(t, err)
}

func TestStore_OneWinPerMatch(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	q := s.Queries()
	matchID := uuid.New()

	win := func(user string) *models.Transaction {
		return &models.Transaction{
			ID: uuid.New(), UserID: user, Kind: models.KindWin, Amount: 1750,
			MatchID: &matchID, CreatedAt: time.Now().UTC(),
		}
	}
	require.NoError(t, q.InsertTransaction(ctx, win("alice")))
	err := q.InsertTransaction(ctx, win("bob"))
	require.ErrorIs(t, err, repository.ErrConflict)

	wins, err := q.ListMatchTransactions(ctx, matchID, models.KindWin)
	require.NoError(t, err)
	require.Len(t, wins, 1)
	assert.Equal(t, "alice", wins[0].UserID)
}

func TestStore_MatchRoundTripKeepsJoinOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	q := s.Queries()
	now := time.Now().UTC().Truncate(time.Microsecond)

	m := &models.Match{
		ID: uuid.New(), Title: "Dust II", EntryFee: 2500, MaxPlayers: 3,
		Status: models.MatchStatusOpen, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, q.InsertMatch(ctx, m))
	for _, user := range []string{"carol", "alice", "bob"} {
		require.NoError(t, q.InsertPlayer(ctx, m.ID, models.Player{UserID: user, DisplayName: user, JoinedAt: now}))
	}
	require.ErrorIs(t, q.InsertPlayer(ctx, m.ID, models.Player{UserID: "alice"}), repository.ErrConflict)

	winner := "alice"
	m.Status = models.MatchStatusCompleted
	m.WinnerID = &winner
	m.SettledAt = &now
	require.NoError(t, q.UpdateMatch(ctx, m))

	got, err := q.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, got.Players, 3)
	assert.Equal(t, "carol", got.Players[0].UserID)
	assert.Equal(t, "bob", got.Players[2].UserID)
	assert.Equal(t, models.MatchStatusCompleted, got.Status)
	require.NotNil(t, got.WinnerID)
	assert.Equal(t, "alice", *got.WinnerID)

	listed, err := q.ListMatches(ctx, models.MatchStatusCompleted, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Len(t, listed[0].Players, 3)

	_, err = q.GetMatch(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrMatchNotFound)
}

func TestStore_LockWalletSerializesConcurrentDebits(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RunInTx(ctx, func(q repository.Queries) error {
		if _, err := q.LockWallet(ctx, "dave"); err != nil {
			return err
		}
		return q.UpdateWalletBalance(ctx, "dave", 100)
	}))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.RunInTx(ctx, func(q repository.Queries) error {
				w, err := q.LockWallet(ctx, "dave")
				if err != nil {
					return err
				}
				if w.Balance < 60 {
					return models.ErrInsufficientFunds
				}
				return q.UpdateWalletBalance(ctx, "dave", w.Balance-60)
			})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	w, err := s.Queries().GetWallet(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, int64(40), w.Balance)
}

func TestStore_EmptyRosterAndMatchIDs(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	q := s.Queries()
	now := time.Now().UTC().Truncate(time.Microsecond)

	var ids []uuid.UUID
	for i, title := range []string{"Inferno", "Nuke"} {
		created := now.Add(time.Duration(i) * time.Second)
		m := &models.Match{
			ID: uuid.New(), Title: title, EntryFee: 500, MaxPlayers: 2,
			Status: models.MatchStatusOpen, CreatedAt: created, UpdatedAt: created,
		}
		require.NoError(t, q.InsertMatch(ctx, m))
		ids = append(ids, m.ID)
	}

	got, err := q.GetMatch(ctx, ids[0])
	require.NoError(t, err)
	require.NotNil(t, got.Players)
	assert.Empty(t, got.Players)

	listed, err := q.ListMatches(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.NotNil(t, listed[1].Players)

	all, err := q.ListMatchIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids, all)
}
