package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ayo6706/wager-lobby/internal/domain"
	"github.com/ayo6706/wager-lobby/internal/events"
	"github.com/ayo6706/wager-lobby/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMatchValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.registry.CreateMatch(ctx, "   ", 1000, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultMatchTitle, m.Title)
	assert.Equal(t, models.MatchStatusOpen, m.Status)
	assert.Empty(t, m.Players)

	_, err = f.registry.CreateMatch(ctx, "free", 0, 2)
	assert.ErrorIs(t, err, models.ErrInvalidMatch)

	_, err = f.registry.CreateMatch(ctx, "solo", 1000, 1)
	assert.ErrorIs(t, err, models.ErrInvalidMatch)

	audit := f.store.AuditLog()
	require.Len(t, audit, 1)
	assert.Equal(t, "match.created", audit[0].Action)
	assert.Equal(t, string(models.MatchStatusOpen), audit[0].NextState)
}

func TestJoinMatchEscrowsEntryFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.registry.CreateMatch(ctx, "Nuke", 1000, 3)
	require.NoError(t, err)
	f.fund(t, "alice", 2500)

	m, err = f.registry.JoinMatch(ctx, m.ID, "alice", "Alice")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusOpen, m.Status)
	require.Len(t, m.Players, 1)
	assert.Equal(t, "Alice", m.Players[0].DisplayName)
	assert.Equal(t, int64(1000), m.PrizePool())

	assert.Equal(t, int64(1500), f.balance(t, "alice"))
	escrows := f.matchTransactions(t, m.ID, models.KindEntryEscrow)
	require.Len(t, escrows, 1)
	assert.Equal(t, "alice", escrows[0].UserID)

	_, err = f.registry.JoinMatch(ctx, m.ID, "alice", "Alice")
	assert.ErrorIs(t, err, models.ErrAlreadyJoined)
	assert.Equal(t, int64(1500), f.balance(t, "alice"))

	_, err = f.registry.JoinMatch(ctx, uuid.New(), "alice", "Alice")
	assert.ErrorIs(t, err, models.ErrMatchNotFound)
}

// Scenario B: a short wallet cannot join and leaves no trace.
func TestJoinMatchInsufficientFundsLeavesNoSideEffect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.registry.CreateMatch(ctx, "Inferno", 1000, 2)
	require.NoError(t, err)
	f.fund(t, "A", 500)

	_, err = f.registry.JoinMatch(ctx, m.ID, "A", "")
	require.ErrorIs(t, err, models.ErrInsufficientFunds)

	got, err := f.registry.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusOpen, got.Status)
	assert.Empty(t, got.Players)
	assert.Equal(t, int64(500), f.balance(t, "A"))
	assert.Empty(t, f.matchTransactions(t, m.ID, models.KindEntryEscrow))
}

func TestJoinMatchSaturation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, users := f.fullMatch(t, 500, 2)
	assert.Len(t, users, 2)
	assert.Contains(t, f.events.Types(), events.MatchFull)

	f.fund(t, "late", 500)
	_, err := f.registry.JoinMatch(ctx, m.ID, "late", "")
	assert.ErrorIs(t, err, models.ErrMatchNotJoinable)
	assert.Equal(t, int64(500), f.balance(t, "late"))
}

func TestJoinMatchConcurrentLastSeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const seats, contenders = 4, 12
	m, err := f.registry.CreateMatch(ctx, "Overpass", 100, seats)
	require.NoError(t, err)
	for i := 0; i < contenders; i++ {
		f.fund(t, fmt.Sprintf("u%d", i), 100)
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		joined int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_, err := f.registry.JoinMatch(ctx, m.ID, user, "")
			if err == nil {
				mu.Lock()
				joined++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, models.ErrMatchNotJoinable)
		}(fmt.Sprintf("u%d", i))
	}
	wg.Wait()

	got, err := f.registry.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, seats, joined)
	assert.Len(t, got.Players, seats)
	assert.Equal(t, models.MatchStatusFull, got.Status)
	assert.Len(t, f.matchTransactions(t, m.ID, models.KindEntryEscrow), seats)
}

func TestJoinMatchRequiresVerifiedIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registry.WithIdentityVerifier(staticVerifier{"linked": true})

	m, err := f.registry.CreateMatch(ctx, "Vertigo", 100, 2)
	require.NoError(t, err)
	f.fund(t, "linked", 100)
	f.fund(t, "anon", 100)

	_, err = f.registry.JoinMatch(ctx, m.ID, "anon", "")
	assert.ErrorIs(t, err, models.ErrIdentityNotVerified)
	assert.Equal(t, int64(100), f.balance(t, "anon"))

	_, err = f.registry.JoinMatch(ctx, m.ID, "linked", "")
	assert.NoError(t, err)
}

func TestSetReadyWithoutGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, users := f.fullMatch(t, 100, 2)

	m, err := f.registry.SetReady(ctx, m.ID, users[0], true)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusFull, m.Status)

	m, err = f.registry.SetReady(ctx, m.ID, users[1], true)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusLive, m.Status)

	_, err = f.registry.SetReady(ctx, m.ID, users[1], false)
	assert.ErrorIs(t, err, models.ErrWrongState)
}

func TestSetReadyWithGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registry.WithReadyCheck(true)
	m, users := f.fullMatch(t, 100, 3)

	m, err := f.registry.SetReady(ctx, m.ID, users[0], true)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusReadyCheck, m.Status)

	m, err = f.registry.SetReady(ctx, m.ID, users[0], false)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusReadyCheck, m.Status)

	for _, u := range users {
		m, err = f.registry.SetReady(ctx, m.ID, u, true)
		require.NoError(t, err)
	}
	assert.Equal(t, models.MatchStatusLive, m.Status)
	assert.Contains(t, f.events.Types(), events.ReadyCheck)
	assert.Contains(t, f.events.Types(), events.MatchLive)
}

func TestSetReadyErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.SetReady(ctx, uuid.New(), "x", true)
	assert.ErrorIs(t, err, models.ErrMatchNotFound)

	m, err := f.registry.CreateMatch(ctx, "Anubis", 100, 2)
	require.NoError(t, err)
	f.fund(t, "alice", 100)
	_, err = f.registry.JoinMatch(ctx, m.ID, "alice", "")
	require.NoError(t, err)

	_, err = f.registry.SetReady(ctx, m.ID, "stranger", true)
	assert.ErrorIs(t, err, models.ErrNotAMember)

	_, err = f.registry.SetReady(ctx, m.ID, "alice", true)
	assert.ErrorIs(t, err, models.ErrWrongState)
}

func TestStartMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	open, err := f.registry.CreateMatch(ctx, "Ancient", 100, 2)
	require.NoError(t, err)
	_, err = f.registry.StartMatch(ctx, open.ID, nil)
	assert.ErrorIs(t, err, models.ErrWrongState)

	m, _ := f.fullMatch(t, 100, 2)
	admin := "admin-1"
	m, err = f.registry.StartMatch(ctx, m.ID, &admin)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusLive, m.Status)

	before := len(f.store.AuditLog())
	m, err = f.registry.StartMatch(ctx, m.ID, &admin)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusLive, m.Status)
	assert.Len(t, f.store.AuditLog(), before)

	audit := f.store.AuditLog()
	last := audit[len(audit)-1]
	assert.Equal(t, "match.started", last.Action)
	require.NotNil(t, last.ActorID)
	assert.Equal(t, admin, *last.ActorID)
}

func TestRecordScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	full, _ := f.fullMatch(t, 100, 2)
	_, err := f.registry.RecordScore(ctx, full.ID, 1, 0)
	assert.ErrorIs(t, err, models.ErrWrongState)

	live, _ := f.liveMatch(t, 100, 2)
	m, err := f.registry.RecordScore(ctx, live.ID, 7, 5)
	require.NoError(t, err)
	assert.Equal(t, models.Score{TeamA: 7, TeamB: 5}, m.Score)

	_, err = f.registry.RecordScore(ctx, live.ID, -1, 5)
	assert.ErrorIs(t, err, models.ErrInvalidMatch)
	assert.Contains(t, f.events.Types(), events.ScoreUpdated)
}

func TestListMatchesByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.CreateMatch(ctx, "one", 100, 2)
	require.NoError(t, err)
	f.fullMatch(t, 100, 2)

	open, err := f.registry.ListMatches(ctx, models.MatchStatusOpen, 0)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	all, err := f.registry.ListMatches(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := f.registry.ListMatches(ctx, models.MatchStatusCompleted, 0)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, canTransition(models.MatchStatusOpen, models.MatchStatusFull))
	assert.True(t, canTransition(models.MatchStatusFull, models.MatchStatusCancelled))
	assert.True(t, canTransition(models.MatchStatusLive, models.MatchStatusVerifying))
	assert.False(t, canTransition(models.MatchStatusLive, models.MatchStatusCancelled))
	assert.False(t, canTransition(models.MatchStatusOpen, models.MatchStatusLive))
	assert.False(t, canTransition(models.MatchStatusCompleted, models.MatchStatusVerifying))
	assert.False(t, canTransition(models.MatchStatusCancelled, models.MatchStatusOpen))
}
