package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TransactionKind classifies a ledger movement.
type TransactionKind string

const (
	KindDeposit     TransactionKind = "DEPOSIT"
	KindEntryEscrow TransactionKind = "ENTRY_ESCROW"
	KindWin         TransactionKind = "WIN"
	KindWithdraw    TransactionKind = "WITHDRAW"
	KindRefund      TransactionKind = "REFUND"
)

// IsDebit reports whether the kind reduces a balance.
func (k TransactionKind) IsDebit() bool {
	return k == KindEntryEscrow || k == KindWithdraw
}

// IsCredit reports whether the kind increases a balance.
func (k TransactionKind) IsCredit() bool {
	return k == KindDeposit || k == KindWin || k == KindRefund
}

// MatchStatus is a state of the match lifecycle.
type MatchStatus string

const (
	MatchStatusOpen       MatchStatus = "OPEN"
	MatchStatusFull       MatchStatus = "FULL"
	MatchStatusReadyCheck MatchStatus = "READY_CHECK"
	MatchStatusLive       MatchStatus = "LIVE"
	MatchStatusVerifying  MatchStatus = "VERIFYING"
	MatchStatusCompleted  MatchStatus = "COMPLETED"
	MatchStatusCancelled  MatchStatus = "CANCELLED"
)

// ParseMatchStatus accepts a status name in any case.
func ParseMatchStatus(s string) (MatchStatus, bool) {
	st := MatchStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case MatchStatusOpen, MatchStatusFull, MatchStatusReadyCheck, MatchStatusLive,
		MatchStatusVerifying, MatchStatusCompleted, MatchStatusCancelled:
		return st, true
	}
	return "", false
}

// IsTerminal reports whether no further transitions are possible.
func (s MatchStatus) IsTerminal() bool {
	return s == MatchStatusCompleted || s == MatchStatusCancelled
}

type Wallet struct {
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is an immutable ledger record. Amount is always positive;
// the sign comes from Kind.
type Transaction struct {
	ID                 uuid.UUID       `json:"id"`
	UserID             string          `json:"user_id"`
	Kind               TransactionKind `json:"kind"`
	Amount             int64           `json:"amount"`
	Description        string          `json:"description"`
	MatchID            *uuid.UUID      `json:"match_id,omitempty"`
	FundingProviderRef *string         `json:"funding_provider_ref,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// SignedAmount returns the balance delta of the transaction.
func (t Transaction) SignedAmount() int64 {
	if t.Kind.IsDebit() {
		return -t.Amount
	}
	return t.Amount
}

type Player struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Ready       bool      `json:"ready"`
	JoinedAt    time.Time `json:"joined_at"`
}

type Score struct {
	TeamA int `json:"team_a"`
	TeamB int `json:"team_b"`
}

type Match struct {
	ID              uuid.UUID   `json:"id"`
	Title           string      `json:"title"`
	EntryFee        int64       `json:"entry_fee"`
	MaxPlayers      int         `json:"max_players"`
	Players         []Player    `json:"players"`
	Status          MatchStatus `json:"status"`
	Score           Score       `json:"score"`
	WinnerID        *string     `json:"winner_id,omitempty"`
	SettledAt       *time.Time  `json:"settled_at,omitempty"`
	PendingWinnerID *string     `json:"pending_winner_id,omitempty"`
	Evidence        *string     `json:"evidence,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// PrizePool is the escrow attributed to the match right now.
func (m *Match) PrizePool() int64 {
	return m.EntryFee * int64(len(m.Players))
}

// Player returns the membership record for userID, or nil.
func (m *Match) Player(userID string) *Player {
	for i := range m.Players {
		if m.Players[i].UserID == userID {
			return &m.Players[i]
		}
	}
	return nil
}

// IsFull reports whether every seat is taken.
func (m *Match) IsFull() bool {
	return len(m.Players) >= m.MaxPlayers
}

// AllReady reports whether the match is full and every member flagged ready.
func (m *Match) AllReady() bool {
	if !m.IsFull() {
		return false
	}
	for _, p := range m.Players {
		if !p.Ready {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so stored records never alias caller state.
func (m *Match) Clone() *Match {
	c := *m
	c.Players = append(make([]Player, 0, len(m.Players)), m.Players...)
	if m.WinnerID != nil {
		v := *m.WinnerID
		c.WinnerID = &v
	}
	if m.SettledAt != nil {
		v := *m.SettledAt
		c.SettledAt = &v
	}
	if m.PendingWinnerID != nil {
		v := *m.PendingWinnerID
		c.PendingWinnerID = &v
	}
	if m.Evidence != nil {
		v := *m.Evidence
		c.Evidence = &v
	}
	return &c
}

// AuditEntry records a state change for later review.
type AuditEntry struct {
	EntityType string          `json:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	ActorID    *string         `json:"actor_id,omitempty"`
	Action     string          `json:"action"`
	PrevState  string          `json:"prev_state"`
	NextState  string          `json:"next_state"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// WalletNet compares a stored balance with the fold of its history.
type WalletNet struct {
	UserID    string
	Balance   int64
	LedgerNet int64
}
