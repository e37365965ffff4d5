package models

import "errors"

var (
	// Ledger errors
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidKind       = errors.New("transaction kind not allowed for this operation")

	// Match errors
	ErrMatchNotFound       = errors.New("match not found")
	ErrInvalidMatch        = errors.New("invalid match parameters")
	ErrMatchNotJoinable    = errors.New("match is not accepting players")
	ErrAlreadyJoined       = errors.New("user already joined this match")
	ErrNotAMember          = errors.New("user is not a member of this match")
	ErrWrongState          = errors.New("match is in the wrong state for this operation")
	ErrIdentityNotVerified = errors.New("identity is not verified")

	// Settlement errors
	ErrNotSettleable         = errors.New("match is not settleable")
	ErrMatchNotStarted       = errors.New("match has not started")
	ErrWinnerNotAMember      = errors.New("proposed winner is not a member of this match")
	ErrConflictingSettlement = errors.New("match already settled with a different winner")

	// Collaborator errors
	ErrUnauthorizedReport     = errors.New("unauthorized result report")
	ErrInvalidReport          = errors.New("invalid result report")
	ErrInvalidSignature       = errors.New("invalid signature")
	ErrInvalidDeposit         = errors.New("invalid deposit notification")
	ErrDepositPayloadMismatch = errors.New("deposit payload does not match existing reference")
)
