package handler

import (
	"net/http"

	"github.com/ayo6706/wager-lobby/internal/service"
)

// FundingHandler receives payment notifications from the funding provider.
type FundingHandler struct {
	deposits *service.DepositService
}

func NewFundingHandler(deposits *service.DepositService) *FundingHandler {
	return &FundingHandler{deposits: deposits}
}

// Webhook handles POST /v1/funding/webhook.
func (h *FundingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	signature := r.Header.Get("X-Funding-Signature")
	if signature == "" {
		signature = r.Header.Get("X-Nowpayments-Sig")
	}

	res, err := h.deposits.HandleDeposit(r.Context(), body, signature)
	if err != nil {
		RespondServiceError(w, r, err, "funding webhook")
		return
	}
	RespondJSON(w, http.StatusOK, res)
}
