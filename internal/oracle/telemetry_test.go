package oracle

import (
	"context"
	"fmt"
	"testing"

	"github.com/ayo6706/wager-lobby/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(token, matchID, phase, winning string, ct, t int) []byte {
	return []byte(fmt.Sprintf(`{
		"auth": {"token": %q},
		"provider": {"name": "Counter-Strike 2", "appid": 730, "match_id": %q, "timestamp": 1710439200},
		"map": {"name": "de_dust2", "mode": "competitive", "phase": %q, "winning_team": %q,
			"team_ct": {"score": %d}, "team_t": {"score": %d}},
		"allplayers": {
			"76561198000000001": {"name": "alpha", "team": "CT"},
			"76561198000000002": {"name": "bravo", "team": "T"}
		}
	}`, token, matchID, phase, winning, ct, t))
}

func TestHandleTelemetryLiveScore(t *testing.T) {
	h := newHarness(t, staticDirectory{})
	m, _ := h.liveMatch(t, 500, 2)

	res, err := h.adapter.HandleTelemetry(context.Background(), frame(testSecret, m.ID.String(), "live", "", 7, 5))
	require.NoError(t, err)
	assert.Equal(t, TelemetryProcessed, res.Status)

	got, err := h.registry.GetMatch(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Score{TeamA: 7, TeamB: 5}, got.Score)
	assert.Equal(t, models.MatchStatusLive, got.Status)
}

func TestHandleTelemetryGameOverSettles(t *testing.T) {
	dir := staticDirectory{"76561198000000001": "u1", "76561198000000002": "u2"}
	h := newHarness(t, dir)
	m, _ := h.liveMatch(t, 500, 2)

	res, err := h.adapter.HandleTelemetry(context.Background(), frame(testSecret, m.ID.String(), "gameover", "T", 13, 16))
	require.NoError(t, err)
	assert.Equal(t, TelemetryGameConcluded, res.Status)
	assert.Equal(t, "u2", res.WinnerID)
	require.NotNil(t, res.Settlement)
	assert.Equal(t, int64(700), res.Settlement.WinnerShare)
	assert.Equal(t, int64(700), h.balance(t, "u2"))

	got, err := h.registry.GetMatch(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusCompleted, got.Status)
	assert.Equal(t, models.Score{TeamA: 13, TeamB: 16}, got.Score)

	// The server keeps posting gameover frames until it shuts down.
	again, err := h.adapter.HandleTelemetry(context.Background(), frame(testSecret, m.ID.String(), "gameover", "T", 13, 16))
	require.NoError(t, err)
	assert.True(t, again.Settlement.Replayed)
	assert.Equal(t, int64(700), h.balance(t, "u2"))
}

func TestHandleTelemetryFallsBackToScoreAndLatestLiveMatch(t *testing.T) {
	dir := staticDirectory{"76561198000000001": "u1"}
	h := newHarness(t, dir)
	m, _ := h.liveMatch(t, 500, 2)

	res, err := h.adapter.HandleTelemetry(context.Background(), frame(testSecret, "", "gameover", "", 16, 9))
	require.NoError(t, err)
	assert.Equal(t, TelemetryGameConcluded, res.Status)
	require.NotNil(t, res.MatchID)
	assert.Equal(t, m.ID, *res.MatchID)
	assert.Equal(t, "u1", res.WinnerID)
}

func TestHandleTelemetryUnresolvedWinner(t *testing.T) {
	// The CT player is linked, but to someone outside the lobby.
	h := newHarness(t, staticDirectory{"76561198000000001": "stranger"})
	m, _ := h.liveMatch(t, 500, 2)

	res, err := h.adapter.HandleTelemetry(context.Background(), frame(testSecret, m.ID.String(), "gameover", "CT", 16, 3))
	require.NoError(t, err)
	assert.Equal(t, TelemetryWinnerUnresolved, res.Status)

	got, err := h.registry.GetMatch(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusLive, got.Status)
}

func TestHandleTelemetryWithoutLiveMatch(t *testing.T) {
	h := newHarness(t, staticDirectory{})

	res, err := h.adapter.HandleTelemetry(context.Background(), frame(testSecret, "", "live", "", 1, 0))
	require.NoError(t, err)
	assert.Equal(t, TelemetryNoActiveMatch, res.Status)
}

func TestHandleTelemetryRejects(t *testing.T) {
	h := newHarness(t, staticDirectory{})
	ctx := context.Background()

	_, err := h.adapter.HandleTelemetry(ctx, frame("wrong", "", "live", "", 0, 0))
	assert.ErrorIs(t, err, models.ErrUnauthorizedReport)
	_, err = h.adapter.HandleTelemetry(ctx, []byte(`{"map":{}}`))
	assert.ErrorIs(t, err, models.ErrUnauthorizedReport)
	_, err = h.adapter.HandleTelemetry(ctx, []byte(`not json`))
	assert.ErrorIs(t, err, models.ErrInvalidReport)
	_, err = h.adapter.HandleTelemetry(ctx, frame(testSecret, "match-7", "live", "", 0, 0))
	assert.ErrorIs(t, err, models.ErrInvalidReport)
}

func TestWinningSide(t *testing.T) {
	assert.Equal(t, teamCT, winningSide(&telemetryMap{WinningTeam: "ct"}))
	assert.Equal(t, teamT, winningSide(&telemetryMap{TeamCT: &telemetryTeam{Score: 3}, TeamT: &telemetryTeam{Score: 16}}))
	assert.Equal(t, "", winningSide(&telemetryMap{TeamCT: &telemetryTeam{Score: 15}, TeamT: &telemetryTeam{Score: 15}}))
	assert.Equal(t, "", winningSide(&telemetryMap{}))
}
