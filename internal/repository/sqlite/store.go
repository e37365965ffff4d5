package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/wager-lobby/internal/models"
	"github.com/ayo6706/wager-lobby/internal/repository"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schema string

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a single-node backend on an embedded SQLite file. The pool is
// capped at one connection, so transactions serialize and a read taken inside
// a transaction is as good as a row lock.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

var _ repository.Store = (*Store)(nil)

func (s *Store) Queries() repository.Queries {
	return &queries{db: s.db}
}

func (s *Store) RunInTx(ctx context.Context, fn func(q repository.Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&queries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

type queries struct {
	db dbtx
}

func mapWriteErr(op string, err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%s: %w", op, repository.ErrConflict)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// textTime scans the TEXT timestamps this backend writes.
type textTime struct{ dst *time.Time }

func (t textTime) Scan(v any) error {
	switch val := v.(type) {
	case string:
		parsed, err := time.Parse(timeLayout, val)
		if err != nil {
			return err
		}
		*t.dst = parsed
	case []byte:
		parsed, err := time.Parse(timeLayout, string(val))
		if err != nil {
			return err
		}
		*t.dst = parsed
	case time.Time:
		*t.dst = val
	default:
		return fmt.Errorf("unsupported time value %T", v)
	}
	return nil
}

type nullTextTime struct{ dst **time.Time }

func (t nullTextTime) Scan(v any) error {
	if v == nil {
		*t.dst = nil
		return nil
	}
	var ts time.Time
	if err := (textTime{dst: &ts}).Scan(v); err != nil {
		return err
	}
	*t.dst = &ts
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// Wallets

func (q *queries) scanWallet(row *sql.Row) (*models.Wallet, error) {
	var w models.Wallet
	if err := row.Scan(&w.UserID, &w.Balance, textTime{&w.UpdatedAt}); err != nil {
		return nil, err
	}
	return &w, nil
}

func (q *queries) GetWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	w, err := q.scanWallet(q.db.QueryRowContext(ctx, `SELECT user_id, balance, updated_at FROM wallets WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return &models.Wallet{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

func (q *queries) LockWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	if _, err := q.db.ExecContext(ctx, `INSERT OR IGNORE INTO wallets (user_id, balance, updated_at) VALUES (?, 0, ?)`, userID, formatTime(time.Now())); err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}
	w, err := q.scanWallet(q.db.QueryRowContext(ctx, `SELECT user_id, balance, updated_at FROM wallets WHERE user_id = ?`, userID))
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	return w, nil
}

func (q *queries) UpdateWalletBalance(ctx context.Context, userID string, balance int64) error {
	res, err := q.db.ExecContext(ctx, `UPDATE wallets SET balance = ?, updated_at = ? WHERE user_id = ?`, balance, formatTime(time.Now()), userID)
	if err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (q *queries) ListWalletNets(ctx context.Context) ([]models.WalletNet, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT w.user_id, w.balance,
		       COALESCE(SUM(CASE WHEN t.kind IN ('ENTRY_ESCROW', 'WITHDRAW') THEN -t.amount ELSE t.amount END), 0)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.Kind, &t.Amount, &t.Description, &t.MatchID, &t.FundingProviderRef, textTime{&t.CreatedAt})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (q *queries) InsertTransaction(ctx context.Context, tx *models.Transaction) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID.String(), tx.UserID, string(tx.Kind), tx.Amount, tx.Description,
		nullUUID(tx.MatchID), nullString(tx.FundingProviderRef), formatTime(tx.CreatedAt))
	if err != nil {
		return mapWriteErr("insert transaction", err)
	}
	return nil
}

func (q *queries) listTransactions(ctx context.Context, query string, args ...any) ([]models.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
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
	if limit <= 0 {
		limit = -1
	}
	return q.listTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE user_id = ?
		ORDER BY seq DESC
		LIMIT ?`, userID, limit)
}

func (q *queries) ListMatchTransactions(ctx context.Context, matchID uuid.UUID, kind models.TransactionKind) ([]models.Transaction, error) {
	return q.listTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE match_id = ? AND kind = ?
		ORDER BY seq`, matchID.String(), string(kind))
}

func (q *queries) GetTransactionByProviderRef(ctx context.Context, ref string) (*models.Transaction, error) {
	t, err := scanTransaction(q.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE funding_provider_ref = ?`, ref))
	if errors.Is(err, sql.ErrNoRows) {
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

func scanMatch(row rowScanner) (*models.Match, error) {
	var m models.Match
	err := row.Scan(&m.ID, &m.Title, &m.EntryFee, &m.MaxPlayers, &m.Status, &m.Score.TeamA, &m.Score.TeamB,
		&m.WinnerID, nullTextTime{&m.SettledAt}, &m.PendingWinnerID, &m.Evidence,
		textTime{&m.CreatedAt}, textTime{&m.UpdatedAt})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (q *queries) InsertMatch(ctx context.Context, m *models.Match) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO matches (`+matchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.Title, m.EntryFee, m.MaxPlayers, string(m.Status), m.Score.TeamA, m.Score.TeamB,
		nullString(m.WinnerID), formatNullTime(m.SettledAt), nullString(m.PendingWinnerID), nullString(m.Evidence),
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt))
	if err != nil {
		return mapWriteErr("insert match", err)
	}
	return nil
}

func (q *queries) GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	m, err := scanMatch(q.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get match: %w", err)
	}
	if m.Players, err = q.loadPlayers(ctx, m.ID); err != nil {
		return nil, err
	}
	return m, nil
}

func (q *queries) LockMatch(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	return q.GetMatch(ctx, id)
}

func (q *queries) UpdateMatch(ctx context.Context, m *models.Match) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE matches
		SET status = ?, score_a = ?, score_b = ?, winner_id = ?, settled_at = ?,
		    pending_winner_id = ?, evidence = ?, updated_at = ?
		WHERE id = ?`,
		string(m.Status), m.Score.TeamA, m.Score.TeamB, nullString(m.WinnerID), formatNullTime(m.SettledAt),
		nullString(m.PendingWinnerID), nullString(m.Evidence), formatTime(m.UpdatedAt), m.ID.String())
	if err != nil {
		return fmt.Errorf("update match: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrMatchNotFound
	}
	return nil
}

func (q *queries) InsertPlayer(ctx context.Context, matchID uuid.UUID, p models.Player) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO match_players (match_id, user_id, display_name, ready, position, joined_at)
		VALUES (?1, ?2, ?3, ?4,
		        (SELECT COALESCE(MAX(position), 0) + 1 FROM match_players WHERE match_id = ?1),
		        ?5)`,
		matchID.String(), p.UserID, p.DisplayName, p.Ready, formatTime(p.JoinedAt))
	if err != nil {
		return mapWriteErr("insert player", err)
	}
	return nil
}

func (q *queries) UpdatePlayerReady(ctx context.Context, matchID uuid.UUID, userID string, ready bool) error {
	res, err := q.db.ExecContext(ctx, `UPDATE match_players SET ready = ? WHERE match_id = ? AND user_id = ?`, ready, matchID.String(), userID)
	if err != nil {
		return fmt.Errorf("update player ready: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (q *queries) ListMatches(ctx context.Context, status models.MatchStatus, limit int) ([]models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	if limit <= 0 {
		limit = -1
	}
	query += ` ORDER BY rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	var out []models.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list matches: %w", err)
	}
	// Release the single connection before loading players.
	rows.Close()

	for i := range out {
		if out[i].Players, err = q.loadPlayers(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (q *queries) ListMatchIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id FROM matches ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list match ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan match id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (q *queries) loadPlayers(ctx context.Context, matchID uuid.UUID) ([]models.Player, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT user_id, display_name, ready, joined_at
		FROM match_players
		WHERE match_id = ?
		ORDER BY position`, matchID.String())
	if err != nil {
		return nil, fmt.Errorf("load players: %w", err)
	}
	defer rows.Close()

	players := []models.Player{}
	for rows.Next() {
		var p models.Player
		if err := rows.Scan(&p.UserID, &p.DisplayName, &p.Ready, textTime{&p.JoinedAt}); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

// Audit

func (q *queries) InsertAuditLog(ctx context.Context, e models.AuditEntry) error {
	var metadata any
	if len(e.Metadata) > 0 {
		metadata = string(e.Metadata)
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EntityType, e.EntityID.String(), nullString(e.ActorID), e.Action, e.PrevState, e.NextState, metadata, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
