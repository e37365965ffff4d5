package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/wager-lobby/internal/models"
	"github.com/ayo6706/wager-lobby/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists lobby state in Postgres. Row locks are taken with
// SELECT ... FOR UPDATE; callers lock the match before any wallet.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ repository.Store = (*Store)(nil)

func (s *Store) Queries() repository.Queries {
	return &queries{db: s.pool}
}

func (s *Store) RunInTx(ctx context.Context, fn func(q repository.Queries) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&queries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type queries struct {
	db dbtx
}

func mapWriteErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, repository.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Wallets

const walletColumns = `user_id, balance, updated_at`

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	if err := row.Scan(&w.UserID, &w.Balance, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

func (q *queries) GetWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	w, err := scanWallet(q.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.Wallet{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

func (q *queries) LockWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	if _, err := q.db.Exec(ctx, `INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}
	w, err := scanWallet(q.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	return w, nil
}

func (q *queries) UpdateWalletBalance(ctx context.Context, userID string, balance int64) error {
	tag, err := q.db.Exec(ctx, `UPDATE wallets SET balance = $2, updated_at = now() WHERE user_id = $1`, userID, balance)
	if err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (q *queries) ListWalletNets(ctx context.Context) ([]models.WalletNet, error) {
	rows, err := q.db.Query(ctx, `
		SELECT w.user_id, w.balance,
		       COALESCE(SUM(CASE WHEN t.kind IN ('ENTRY_ESCROW', 'WITHDRAW') THEN -t.amount ELSE t.amount END), 0)::BIGINT
		FROM wallets w
		LEFT JOIN transactions t ON t.user_id = w.user_id
		GROUP BY w.user_id, w.balance
		ORDER BY w.user_id`)
	if err != nil {
		return nil, fmt.Errorf("list wallet nets: %w", err)
	}
	defer rows.Close()

	var nets []models.WalletNet
	for rows.Next() {
		var n models.WalletNet
		if err := rows.Scan(&n.UserID, &n.Balance, &n.LedgerNet); err != nil {
			return nil, fmt.Errorf("scan wallet net: %w", err)
		}
		nets = append(nets, n)
	}
	return nets, rows.Err()
}

// Transactions

const transactionColumns = `id, user_id, kind, amount, description, match_id, funding_provider_ref, created_at`

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	if err := row.Scan(&t.ID, &t.UserID, &t.Kind, &t.Amount, &t.Description, &t.MatchID, &t.FundingProviderRef, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (q *queries) InsertTransaction(ctx context.Context, tx *models.Transaction) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tx.ID, tx.UserID, tx.Kind, tx.Amount, tx.Description, tx.MatchID, tx.FundingProviderRef, tx.CreatedAt)
	if err != nil {
		return mapWriteErr("insert transaction", err)
	}
	return nil
}

func (q *queries) listTransactions(ctx context.Context, sql string, args ...any) ([]models.Transaction, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (q *queries) ListTransactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	// LIMIT NULL means no limit.
	var lim any
	if limit > 0 {
		lim = limit
	}
	return q.listTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT $2`, userID, lim)
}

func (q *queries) ListMatchTransactions(ctx context.Context, matchID uuid.UUID, kind models.TransactionKind) ([]models.Transaction, error) {
	return q.listTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE match_id = $1 AND kind = $2
		ORDER BY seq`, matchID, kind)
}

func (q *queries) GetTransactionByProviderRef(ctx context.Context, ref string) (*models.Transaction, error) {
	t, err := scanTransaction(q.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE funding_provider_ref = $1`, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction by provider ref: %w", err)
	}
	return t, nil
}

// Matches

const matchColumns = `id, title, entry_fee, max_players, status, score_a, score_b,
	winner_id, settled_at, pending_winner_id, evidence, created_at, updated_at`

func scanMatch(row pgx.Row) (*models.Match, error) {
	var m models.Match
	err := row.Scan(&m.ID, &m.Title, &m.EntryFee, &m.MaxPlayers, &m.Status, &m.Score.TeamA, &m.Score.TeamB,
		&m.WinnerID, &m.SettledAt, &m.PendingWinnerID, &m.Evidence, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (q *queries) InsertMatch(ctx context.Context, m *models.Match) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO matches (`+matchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		m.ID, m.Title, m.EntryFee, m.MaxPlayers, m.Status, m.Score.TeamA, m.Score.TeamB,
		m.WinnerID, m.SettledAt, m.PendingWinnerID, m.Evidence, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return mapWriteErr("insert match", err)
	}
	return nil
}

func (q *queries) getMatch(ctx context.Context, id uuid.UUID, lock bool) (*models.Match, error) {
	sql := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	m, err := scanMatch(q.db.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get match: %w", err)
	}

	players, err := q.loadPlayers(ctx, []string{m.ID.String()})
	if err != nil {
		return nil, err
	}
	m.Players = playersOf(players, m.ID)
	return m, nil
}

func (q *queries) GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	return q.getMatch(ctx, id, false)
}

func (q *queries) LockMatch(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	return q.getMatch(ctx, id, true)
}

func (q *queries) UpdateMatch(ctx context.Context, m *models.Match) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE matches
		SET status = $2, score_a = $3, score_b = $4, winner_id = $5, settled_at = $6,
		    pending_winner_id = $7, evidence = $8, updated_at = $9
		WHERE id = $1`,
		m.ID, m.Status, m.Score.TeamA, m.Score.TeamB, m.WinnerID, m.SettledAt,
		m.PendingWinnerID, m.Evidence, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update match: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrMatchNotFound
	}
	return nil
}

func (q *queries) InsertPlayer(ctx context.Context, matchID uuid.UUID, p models.Player) error {
	joinedAt := p.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = time.Now().UTC()
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO match_players (match_id, user_id, display_name, ready, position, joined_at)
		VALUES ($1, $2, $3, $4,
		        (SELECT COALESCE(MAX(position), 0) + 1 FROM match_players WHERE match_id = $1),
		        $5)`,
		matchID, p.UserID, p.DisplayName, p.Ready, joinedAt)
	if err != nil {
		return mapWriteErr("insert player", err)
	}
	return nil
}

func (q *queries) UpdatePlayerReady(ctx context.Context, matchID uuid.UUID, userID string, ready bool) error {
	tag, err := q.db.Exec(ctx, `UPDATE match_players SET ready = $3 WHERE match_id = $1 AND user_id = $2`, matchID, userID, ready)
	if err != nil {
		return fmt.Errorf("update player ready: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (q *queries) ListMatches(ctx context.Context, status models.MatchStatus, limit int) ([]models.Match, error) {
	sql := `SELECT ` + matchColumns + ` FROM matches`
	args := []any{}
	if status != "" {
		args = append(args, status)
		sql += ` WHERE status = $1`
	}
	sql += ` ORDER BY created_at DESC, id`
	if limit > 0 {
		args = append(args, limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	var (
		out []models.Match
		ids []string
	)
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, *m)
		ids = append(ids, m.ID.String())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return out, nil
	}
	players, err := q.loadPlayers(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Players = playersOf(players, out[i].ID)
	}
	return out, nil
}

func (q *queries) ListMatchIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, `SELECT id FROM matches ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list match ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("list match ids: %w", err)
	}
	return ids, nil
}

// playersOf never returns nil so an empty roster encodes as [].
func playersOf(byMatch map[uuid.UUID][]models.Player, id uuid.UUID) []models.Player {
	if p := byMatch[id]; p != nil {
		return p
	}
	return []models.Player{}
}

func (q *queries) loadPlayers(ctx context.Context, matchIDs []string) (map[uuid.UUID][]models.Player, error) {
	rows, err := q.db.Query(ctx, `
		SELECT match_id, user_id, display_name, ready, joined_at
		FROM match_players
		WHERE match_id = ANY($1::uuid[])
		ORDER BY match_id, position`, matchIDs)
	if err != nil {
		return nil, fmt.Errorf("load players: %w", err)
	}
	defer rows.Close()

	players := make(map[uuid.UUID][]models.Player, len(matchIDs))
	for rows.Next() {
		var (
			matchID uuid.UUID
			p       models.Player
		)
		if err := rows.Scan(&matchID, &p.UserID, &p.DisplayName, &p.Ready, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		players[matchID] = append(players[matchID], p)
	}
	return players, rows.Err()
}

// Audit

func (q *queries) InsertAuditLog(ctx context.Context, e models.AuditEntry) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var metadata []byte
	if len(e.Metadata) > 0 {
		metadata = e.Metadata
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.EntityType, e.EntityID, e.ActorID, e.Action, e.PrevState, e.NextState, metadata, createdAt)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
