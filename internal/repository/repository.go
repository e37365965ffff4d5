package repository

import (
	"context"
	"errors"

	"github.com/ayo6706/wager-lobby/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by lookups that have no matching row.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("unique constraint violated")
)

// Queries is the data access contract shared by every backend. Lock* methods
// take a row lock that is held until the surrounding transaction ends; outside
// a transaction they behave like plain reads.
type Queries interface {
	// Wallets
	GetWallet(ctx context.Context, userID string) (*models.Wallet, error)
	LockWallet(ctx context.Context, userID string) (*models.Wallet, error)
	UpdateWalletBalance(ctx context.Context, userID string, balance int64) error
	ListWalletNets(ctx context.Context) ([]models.WalletNet, error)

	// Transactions
	InsertTransaction(ctx context.Context, tx *models.Transaction) error
	ListTransactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error)
	ListMatchTransactions(ctx context.Context, matchID uuid.UUID, kind models.TransactionKind) ([]models.Transaction, error)
	GetTransactionByProviderRef(ctx context.Context, ref string) (*models.Transaction, error)

	// Matches
	InsertMatch(ctx context.Context, m *models.Match) error
	GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error)
	LockMatch(ctx context.Context, id uuid.UUID) (*models.Match, error)
	UpdateMatch(ctx context.Context, m *models.Match) error
	InsertPlayer(ctx context.Context, matchID uuid.UUID, p models.Player) error
	UpdatePlayerReady(ctx context.Context, matchID uuid.UUID, userID string, ready bool) error
	ListMatches(ctx context.Context, status models.MatchStatus, limit int) ([]models.Match, error)
	// ListMatchIDs returns every match id, oldest first.
	ListMatchIDs(ctx context.Context) ([]uuid.UUID, error)

	// Audit
	InsertAuditLog(ctx context.Context, e models.AuditEntry) error
}

// Store provides access to queries and transaction scoping.
type Store interface {
	Queries() Queries
	RunInTx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
	Close() error
}
