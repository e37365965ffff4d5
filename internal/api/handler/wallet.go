package handler

import (
	"net/http"

	"github.com/ayo6706/wager-lobby/internal/service"
)

type WalletHandler struct {
	ledger *service.LedgerService
}

func NewWalletHandler(ledger *service.LedgerService) *WalletHandler {
	return &WalletHandler{ledger: ledger}
}

// walletOwner is the caller, or ?user_id= for admins.
func walletOwner(r *http.Request) (string, bool) {
	userID, isAdmin, err := requestActor(r)
	if err != nil {
		return "", false
	}
	if other := r.URL.Query().Get("user_id"); other != "" && isAdmin {
		return other, true
	}
	return userID, true
}

func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := walletOwner(r)
	if !ok {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	wallet, err := h.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		RespondServiceError(w, r, err, "get balance")
		return
	}
	RespondJSON(w, http.StatusOK, wallet)
}

func (h *WalletHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := walletOwner(r)
	if !ok {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	history, err := h.ledger.GetHistory(r.Context(), userID, queryLimit(r))
	if err != nil {
		RespondServiceError(w, r, err, "get history")
		return
	}
	RespondJSON(w, http.StatusOK, history)
}

func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req struct {
		Amount      int64  `json:"amount"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	tx, err := h.ledger.Withdraw(r.Context(), userID, req.Amount, req.Description)
	if err != nil {
		RespondServiceError(w, r, err, "withdraw")
		return
	}
	RespondJSON(w, http.StatusCreated, tx)
}
