package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/wager-lobby/internal/domain"
	"github.com/ayo6706/wager-lobby/internal/models"
	"github.com/ayo6706/wager-lobby/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	orderIDPrefix   = "ER"
	depositCurrency = "usd"

	DepositStatusCredited  = "credited"
	DepositStatusDuplicate = "duplicate"
	DepositStatusIgnored   = "ignored"
)

// DepositService turns signed "payment finished" notifications from the
// funding provider into DEPOSIT credits.
type DepositService struct {
	store   QueryStore
	ledger  *LedgerService
	hmacKey []byte
	skipSig bool
}

func NewDepositService(store QueryStore, ledger *LedgerService, secret string, skipSignature bool) *DepositService {
	return &DepositService{
		store:   store,
		ledger:  ledger,
		hmacKey: []byte(secret),
		skipSig: skipSignature,
	}
}

// FundingNotification is the provider's payment notification body.
type FundingNotification struct {
	PaymentID        flexString          `json:"payment_id"`
	PaymentStatus    string              `json:"payment_status"`
	PriceAmount      decimal.NullDecimal `json:"price_amount"`
	PriceCurrency    string              `json:"price_currency"`
	OrderID          string              `json:"order_id"`
	OrderDescription string              `json:"order_description"`
}

// DepositResult is returned to the provider.
type DepositResult struct {
	Status        string     `json:"status"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	UserID        string     `json:"user_id,omitempty"`
	Amount        int64      `json:"amount,omitempty"`
	Message       string     `json:"message"`
}

// HandleDeposit verifies and applies one notification. Replays of the same
// payment_id return the original transaction without crediting again.
func (s *DepositService) HandleDeposit(ctx context.Context, payload []byte, signature string) (*DepositResult, error) {
	if !s.verifyHMAC(payload, signature) {
		return nil, models.ErrInvalidSignature
	}

	var n FundingNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidDeposit, err)
	}
	status := strings.ToLower(strings.TrimSpace(n.PaymentStatus))
	if status != domain.FundingStatusFinished {
		zap.L().Info("funding notification ignored", zap.String("payment_id", string(n.PaymentID)), zap.String("payment_status", n.PaymentStatus))
		return &DepositResult{Status: DepositStatusIgnored, Message: "Status is " + n.PaymentStatus}, nil
	}

	ref := strings.TrimSpace(string(n.PaymentID))
	if ref == "" {
		return nil, fmt.Errorf("%w: payment_id is required", models.ErrInvalidDeposit)
	}
	userID, err := userIDFromOrder(n.OrderID)
	if err != nil {
		return nil, err
	}
	if c := strings.ToLower(strings.TrimSpace(n.PriceCurrency)); c != "" && c != depositCurrency {
		return nil, fmt.Errorf("%w: unsupported currency %s", models.ErrInvalidDeposit, n.PriceCurrency)
	}
	if !n.PriceAmount.Valid {
		return nil, fmt.Errorf("%w: price_amount is required", models.ErrInvalidDeposit)
	}
	amount, err := domain.FromDecimal(n.PriceAmount.Decimal)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidDeposit, err)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: price_amount must be positive", models.ErrInvalidAmount)
	}

	if existing, err := s.store.Queries().GetTransactionByProviderRef(ctx, ref); err == nil {
		return duplicateDeposit(existing, userID, amount.Cents())
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("check deposit reference: %w", err)
	}

	tx, err := s.ledger.Credit(ctx, CreditRequest{
		UserID:      userID,
		Amount:      amount.Cents(),
		Kind:        models.KindDeposit,
		Description: fmt.Sprintf("Deposit: %s USD", amount),
		ProviderRef: &ref,
	})
	if errors.Is(err, repository.ErrConflict) {
		// Lost a race with a concurrent delivery of the same payment.
		existing, getErr := s.store.Queries().GetTransactionByProviderRef(ctx, ref)
		if getErr != nil {
			return nil, fmt.Errorf("reload deposit reference: %w", getErr)
		}
		return duplicateDeposit(existing, userID, amount.Cents())
	}
	if err != nil {
		return nil, err
	}

	zap.L().Info("deposit credited",
		zap.String("payment_id", ref),
		zap.String("user_id", userID),
		zap.String("amount", amount.String()),
		zap.String("transaction_id", tx.ID.String()))
	return &DepositResult{
		Status:        DepositStatusCredited,
		TransactionID: &tx.ID,
		UserID:        userID,
		Amount:        tx.Amount,
		Message:       "Deposit processed successfully",
	}, nil
}

func duplicateDeposit(existing *models.Transaction, userID string, amount int64) (*DepositResult, error) {
	if existing.Kind != models.KindDeposit || existing.UserID != userID || existing.Amount != amount {
		return nil, models.ErrDepositPayloadMismatch
	}
	return &DepositResult{
		Status:        DepositStatusDuplicate,
		TransactionID: &existing.ID,
		UserID:        existing.UserID,
		Amount:        existing.Amount,
		Message:       "Deposit already processed",
	}, nil
}

// userIDFromOrder extracts the user from an order id of the form ER_<timestamp>_<userID>.
func userIDFromOrder(orderID string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(orderID), "_", 3)
	if len(parts) != 3 || parts[0] != orderIDPrefix || parts[1] == "" || strings.TrimSpace(parts[2]) == "" {
		return "", fmt.Errorf("%w: unrecognised order_id %q", models.ErrInvalidDeposit, orderID)
	}
	return strings.TrimSpace(parts[2]), nil
}

// verifyHMAC checks the hex HMAC-SHA512 of the raw body.
func (s *DepositService) verifyHMAC(payload []byte, signature string) bool {
	if s.skipSig {
		return true
	}
	if len(s.hmacKey) == 0 {
		return false
	}

	h := hmac.New(sha512.New, s.hmacKey)
	h.Write(payload)
	expectedSig := hex.EncodeToString(h.Sum(nil))

	return hmac.Equal([]byte(strings.ToLower(strings.TrimSpace(signature))), []byte(expectedSig))
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
