package handler

import (
	"net/http"

	"github.com/ayo6706/wager-lobby/internal/oracle"
)

type OracleHandler struct {
	adapter *oracle.Adapter
}

func NewOracleHandler(adapter *oracle.Adapter) *OracleHandler {
	return &OracleHandler{adapter: adapter}
}

// Report handles POST /v1/oracle/reports.
func (h *OracleHandler) Report(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}
	res, err := h.adapter.HandleReport(r.Context(), body, oracle.Credentials{
		Signature:   r.Header.Get("X-Oracle-Signature"),
		ServerToken: r.Header.Get("X-Server-Token"),
	})
	if err != nil {
		RespondServiceError(w, r, err, "oracle report")
		return
	}
	RespondJSON(w, http.StatusOK, res)
}

// Telemetry handles POST /v1/oracle/telemetry from the game server's state integration.
func (h *OracleHandler) Telemetry(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}
	res, err := h.adapter.HandleTelemetry(r.Context(), body)
	if err != nil {
		RespondServiceError(w, r, err, "oracle telemetry")
		return
	}
	RespondJSON(w, http.StatusOK, res)
}
