package handler

import (
	"net/http"

	"github.com/ayo6706/wager-lobby/internal/service"
)

type AdminHandler struct {
	reconciliation *service.ReconciliationService
}

func NewAdminHandler(reconciliation *service.ReconciliationService) *AdminHandler {
	return &AdminHandler{reconciliation: reconciliation}
}

// Reconcile handles GET /v1/admin/reconciliation. An imbalanced ledger is
// still a 200; callers inspect the report.
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciliation.Run(r.Context())
	if err != nil {
		RespondServiceError(w, r, err, "reconciliation")
		return
	}
	RespondJSON(w, http.StatusOK, report)
}
