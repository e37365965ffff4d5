package oracle

import (
	"context"
	"fmt"
	"testing"

	"github.com/ayo6706/wager-lobby/internal/clock"
	"github.com/ayo6706/wager-lobby/internal/identity"
	"github.com/ayo6706/wager-lobby/internal/models"
	"github.com/ayo6706/wager-lobby/internal/repository/memory"
	"github.com/ayo6706/wager-lobby/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "oracle-key"
	testSecret = "server-secret"
)

type staticDirectory map[string]string

func (d staticDirectory) Resolve(_ context.Context, _, externalID string) (string, error) {
	if u, ok := d[externalID]; ok {
		return u, nil
	}
	return "", identity.ErrNotLinked
}

type harness struct {
	ledger     *service.LedgerService
	registry   *service.MatchRegistry
	settlement *service.SettlementCoordinator
	adapter    *Adapter
}

func newHarness(t *testing.T, dir staticDirectory) *harness {
	t.Helper()
	store := memory.New()
	c := clock.New()
	ledger := service.NewLedgerService(store, c)
	registry := service.NewMatchRegistry(store, ledger, c)
	settlement := service.NewSettlementCoordinator(store, ledger, c)
	return &harness{
		ledger:     ledger,
		registry:   registry,
		settlement: settlement,
		adapter:    NewAdapter(settlement, registry, dir, Config{HMACKey: testKey, ServerSecret: testSecret}),
	}
}

// liveMatch seats n funded players u1..un and starts the match.
func (h *harness) liveMatch(t *testing.T, fee int64, n int) (*models.Match, []string) {
	t.Helper()
	m, users := h.fullMatch(t, fee, n)
	m, err := h.registry.StartMatch(context.Background(), m.ID, nil)
	require.NoError(t, err)
	return m, users
}

func (h *harness) fullMatch(t *testing.T, fee int64, n int) (*models.Match, []string) {
	t.Helper()
	ctx := context.Background()
	m, err := h.registry.CreateMatch(ctx, "Oracle Match", fee, n)
	require.NoError(t, err)
	users := make([]string, n)
	for i := range users {
		users[i] = fmt.Sprintf("u%d", i+1)
		_, err := h.ledger.Credit(ctx, service.CreditRequest{UserID: users[i], Amount: fee, Kind: models.KindDeposit})
		require.NoError(t, err)
		m, err = h.registry.JoinMatch(ctx, m.ID, users[i], "")
		require.NoError(t, err)
	}
	return m, users
}

func (h *harness) balance(t *testing.T, user string) int64 {
	t.Helper()
	w, err := h.ledger.GetBalance(context.Background(), user)
	require.NoError(t, err)
	return w.Balance
}

func reportBody(matchID, winner string) []byte {
	return []byte(fmt.Sprintf(`{"match_id":%q,"winner_id":%q,"evidence":"demo-hash"}`, matchID, winner))
}

func TestHandleReportWithSignature(t *testing.T) {
	h := newHarness(t, nil)
	m, users := h.liveMatch(t, 1000, 2)
	body := reportBody(m.ID.String(), users[1])

	res, err := h.adapter.HandleReport(context.Background(), body, Credentials{Signature: Sign([]byte(testKey), body)})
	require.NoError(t, err)
	assert.Equal(t, users[1], res.WinnerID)
	assert.Equal(t, int64(1400), h.balance(t, users[1]))

	got, err := h.registry.GetMatch(context.Background(), m.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Evidence)
	assert.Equal(t, "demo-hash", *got.Evidence)
}

func TestHandleReportWithServerToken(t *testing.T) {
	h := newHarness(t, nil)
	m, users := h.liveMatch(t, 1000, 2)
	body := []byte(fmt.Sprintf(`{"matchId":%q,"winnerId":%q}`, m.ID, users[0]))

	res, err := h.adapter.HandleReport(context.Background(), body, Credentials{ServerToken: testSecret})
	require.NoError(t, err)
	assert.False(t, res.Replayed)

	again, err := h.adapter.HandleReport(context.Background(), body, Credentials{ServerToken: testSecret})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, int64(1400), h.balance(t, users[0]))
}

func TestHandleReportRejectsBadCredentials(t *testing.T) {
	h := newHarness(t, nil)
	m, users := h.liveMatch(t, 1000, 2)
	body := reportBody(m.ID.String(), users[0])
	ctx := context.Background()

	cases := map[string]Credentials{
		"none":            {},
		"wrong token":     {ServerToken: "guess"},
		"wrong key":       {Signature: Sign([]byte("other"), body)},
		"not hex":         {Signature: "sha256=zz"},
		"bad sig + token": {Signature: Sign([]byte("other"), body), ServerToken: testSecret},
	}
	for name, creds := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.adapter.HandleReport(ctx, body, creds)
			assert.ErrorIs(t, err, models.ErrUnauthorizedReport)
		})
	}

	got, err := h.registry.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusLive, got.Status)
}

func TestHandleReportValidation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	creds := Credentials{ServerToken: testSecret}

	_, err := h.adapter.HandleReport(ctx, []byte(`{`), creds)
	assert.ErrorIs(t, err, models.ErrInvalidReport)
	_, err = h.adapter.HandleReport(ctx, reportBody("not-a-uuid", "u1"), creds)
	assert.ErrorIs(t, err, models.ErrInvalidReport)
	_, err = h.adapter.HandleReport(ctx, []byte(`{"match_id":"6f1c1f7e-8d5e-4d43-a0f4-7d2bbf6b8d1e"}`), creds)
	assert.ErrorIs(t, err, models.ErrInvalidReport)

	_, err = h.adapter.HandleReport(ctx, reportBody("6f1c1f7e-8d5e-4d43-a0f4-7d2bbf6b8d1e", "u1"), creds)
	assert.ErrorIs(t, err, models.ErrMatchNotFound)
}

func TestHandleReportConflict(t *testing.T) {
	h := newHarness(t, nil)
	m, users := h.liveMatch(t, 1000, 2)
	creds := Credentials{ServerToken: testSecret}

	_, err := h.adapter.HandleReport(context.Background(), reportBody(m.ID.String(), users[0]), creds)
	require.NoError(t, err)
	_, err = h.adapter.HandleReport(context.Background(), reportBody(m.ID.String(), users[1]), creds)
	assert.ErrorIs(t, err, models.ErrConflictingSettlement)
	assert.True(t, Permanent(err))
}

func TestPermanent(t *testing.T) {
	assert.True(t, Permanent(fmt.Errorf("wrap: %w", models.ErrNotSettleable)))
	assert.False(t, Permanent(fmt.Errorf("%w: %w: match is FULL", models.ErrNotSettleable, models.ErrMatchNotStarted)))
	assert.True(t, Permanent(models.ErrUnauthorizedReport))
	assert.False(t, Permanent(fmt.Errorf("store down")))
	assert.False(t, Permanent(context.DeadlineExceeded))
}
