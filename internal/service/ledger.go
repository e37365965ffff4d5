package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ayo6706/wager-lobby/internal/clock"
	"github.com/ayo6706/wager-lobby/internal/models"
	"github.com/ayo6706/wager-lobby/internal/observability"
	"github.com/ayo6706/wager-lobby/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// LedgerService owns wallet balances and their append-only transaction history.
type LedgerService struct {
	store QueryStore
	clock clock.Clock
}

func NewLedgerService(store QueryStore, c clock.Clock) *LedgerService {
	if c == nil {
		c = clock.New()
	}
	return &LedgerService{store: store, clock: c}
}

// CreditRequest describes a balance increase.
type CreditRequest struct {
	UserID      string
	Amount      int64
	Kind        models.TransactionKind
	Description string
	MatchID     *uuid.UUID
	ProviderRef *string
}

// DebitRequest describes a balance decrease.
type DebitRequest struct {
	UserID      string
	Amount      int64
	Kind        models.TransactionKind
	Description string
	MatchID     *uuid.UUID
}

// Credit appends a credit transaction and raises the balance in one store transaction.
func (s *LedgerService) Credit(ctx context.Context, req CreditRequest) (*models.Transaction, error) {
	var out *models.Transaction
	err := s.store.RunInTx(ctx, func(q repository.Queries) error {
		tx, err := s.CreditTx(ctx, q, req)
		out = tx
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreditTx is Credit inside a caller-owned transaction.
func (s *LedgerService) CreditTx(ctx context.Context, q repository.Queries, req CreditRequest) (*models.Transaction, error) {
	if err := validateMovement(req.UserID, req.Amount); err != nil {
		return nil, err
	}
	if !req.Kind.IsCredit() {
		return nil, fmt.Errorf("%w: %s is not a credit", models.ErrInvalidKind, req.Kind)
	}

	wallet, err := q.LockWallet(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	if wallet.Balance > math.MaxInt64-req.Amount {
		return nil, fmt.Errorf("%w: credit would overflow balance", models.ErrInvalidAmount)
	}

	tx := s.newTransaction(req.UserID, req.Kind, req.Amount, req.Description, req.MatchID)
	tx.FundingProviderRef = req.ProviderRef
	if err := s.append(ctx, q, tx, wallet.Balance+req.Amount); err != nil {
		return nil, err
	}
	return tx, nil
}

// Debit checks the balance and appends a debit atomically.
func (s *LedgerService) Debit(ctx context.Context, req DebitRequest) (*models.Transaction, error) {
	var out *models.Transaction
	err := s.store.RunInTx(ctx, func(q repository.Queries) error {
		tx, err := s.DebitTx(ctx, q, req)
		out = tx
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DebitTx is Debit inside a caller-owned transaction. The wallet row stays
// locked until that transaction ends.
func (s *LedgerService) DebitTx(ctx context.Context, q repository.Queries, req DebitRequest) (*models.Transaction, error) {
	if err := validateMovement(req.UserID, req.Amount); err != nil {
		return nil, err
	}
	if !req.Kind.IsDebit() {
		return nil, fmt.Errorf("%w: %s is not a debit", models.ErrInvalidKind, req.Kind)
	}

	wallet, err := q.LockWallet(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	if wallet.Balance < req.Amount {
		observability.IncrementLedgerOperation(string(req.Kind), "insufficient_funds")
		return nil, fmt.Errorf("%w: balance %d, required %d", models.ErrInsufficientFunds, wallet.Balance, req.Amount)
	}

	tx := s.newTransaction(req.UserID, req.Kind, req.Amount, req.Description, req.MatchID)
	if err := s.append(ctx, q, tx, wallet.Balance-req.Amount); err != nil {
		return nil, err
	}
	return tx, nil
}

// Withdraw debits funds handed to the funding provider for payout.
func (s *LedgerService) Withdraw(ctx context.Context, userID string, amount int64, description string) (*models.Transaction, error) {
	if strings.TrimSpace(description) == "" {
		description = "Withdrawal"
	}
	tx, err := s.Debit(ctx, DebitRequest{
		UserID:      userID,
		Amount:      amount,
		Kind:        models.KindWithdraw,
		Description: description,
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("withdrawal recorded", zap.String("user_id", userID), zap.Int64("amount", amount), zap.String("transaction_id", tx.ID.String()))
	return tx, nil
}

// GetBalance returns the user's wallet; unknown users have a zero balance.
func (s *LedgerService) GetBalance(ctx context.Context, userID string) (*models.Wallet, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user_id is required")
	}
	w, err := s.store.Queries().GetWallet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

// GetHistory returns the most recent transactions first.
func (s *LedgerService) GetHistory(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user_id is required")
	}
	txs, err := s.store.Queries().ListTransactions(ctx, userID, clampHistoryLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	return txs, nil
}

func clampHistoryLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}

func validateMovement(userID string, amount int64) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("user_id is required")
	}
	if amount <= 0 {
		return fmt.Errorf("%w: %d", models.ErrInvalidAmount, amount)
	}
	return nil
}

func (s *LedgerService) newTransaction(userID string, kind models.TransactionKind, amount int64, description string, matchID *uuid.UUID) *models.Transaction {
	return &models.Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		Kind:        kind,
		Amount:      amount,
		Description: description,
		MatchID:     matchID,
		CreatedAt:   s.clock.Now(),
	}
}

func (s *LedgerService) append(ctx context.Context, q repository.Queries, tx *models.Transaction, newBalance int64) error {
	if err := q.InsertTransaction(ctx, tx); err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	if err := q.UpdateWalletBalance(ctx, tx.UserID, newBalance); err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	observability.IncrementLedgerOperation(string(tx.Kind), "applied")
	return nil
}
