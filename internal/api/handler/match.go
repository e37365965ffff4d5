package handler

import (
	"net/http"
	"strings"

	"github.com/ayo6706/wager-lobby/internal/domain"
	"github.com/ayo6706/wager-lobby/internal/models"
	"github.com/ayo6706/wager-lobby/internal/service"
)

type MatchHandler struct {
	registry   *service.MatchRegistry
	settlement *service.SettlementCoordinator
}

func NewMatchHandler(registry *service.MatchRegistry, settlement *service.SettlementCoordinator) *MatchHandler {
	return &MatchHandler{registry: registry, settlement: settlement}
}

type createMatchRequest struct {
	Title    string `json:"title"`
	EntryFee int64  `json:"entry_fee"`
	// EntryFeeUSD is an alternative to EntryFee in major units, e.g. "25.00".
	EntryFeeUSD string `json:"entry_fee_usd"`
	MaxPlayers  int    `json:"max_players"`
}

// Create handles POST /v1/matches.
func (h *MatchHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createMatchRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	fee := req.EntryFee
	if req.EntryFeeUSD != "" {
		m, err := domain.ParseMoney(req.EntryFeeUSD)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", err.Error())
			return
		}
		fee = m.Cents()
	}

	match, err := h.registry.CreateMatch(r.Context(), req.Title, fee, req.MaxPlayers)
	if err != nil {
		RespondServiceError(w, r, err, "create match")
		return
	}
	RespondJSON(w, http.StatusCreated, match)
}

// List handles GET /v1/matches?status=OPEN&limit=50.
func (h *MatchHandler) List(w http.ResponseWriter, r *http.Request) {
	var status models.MatchStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s, ok := models.ParseMatchStatus(raw)
		if !ok {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-status", "unknown match status "+raw)
			return
		}
		status = s
	}

	matches, err := h.registry.ListMatches(r.Context(), status, queryLimit(r))
	if err != nil {
		RespondServiceError(w, r, err, "list matches")
		return
	}
	RespondJSON(w, http.StatusOK, matches)
}

func (h *MatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := matchIDParam(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-match-id", "Invalid match ID")
		return
	}
	match, err := h.registry.GetMatch(r.Context(), id)
	if err != nil {
		RespondServiceError(w, r, err, "get match")
		return
	}
	RespondJSON(w, http.StatusOK, match)
}

// Join handles POST /v1/matches/{id}/join for the authenticated user.
func (h *MatchHandler) Join(w http.ResponseWriter, r *http.Request) {
	userID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	id, err := matchIDParam(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-match-id", "Invalid match ID")
		return
	}
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	match, err := h.registry.JoinMatch(r.Context(), id, userID, req.DisplayName)
	if err != nil {
		RespondServiceError(w, r, err, "join match")
		return
	}
	RespondJSON(w, http.StatusOK, match)
}

// Ready handles POST /v1/matches/{id}/ready. The body may clear readiness
// with {"ready": false}.
func (h *MatchHandler) Ready(w http.ResponseWriter, r *http.Request) {
	userID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	id, err := matchIDParam(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-match-id", "Invalid match ID")
		return
	}
	var req struct {
		Ready *bool `json:"ready"`
	}
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	ready := req.Ready == nil || *req.Ready

	match, err := h.registry.SetReady(r.Context(), id, userID, ready)
	if err != nil {
		RespondServiceError(w, r, err, "set ready")
		return
	}
	RespondJSON(w, http.StatusOK, match)
}

func (h *MatchHandler) Start(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	id, err := matchIDParam(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-match-id", "Invalid match ID")
		return
	}
	match, err := h.registry.StartMatch(r.Context(), id, &actorID)
	if err != nil {
		RespondServiceError(w, r, err, "start match")
		return
	}
	RespondJSON(w, http.StatusOK, match)
}

func (h *MatchHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	id, err := matchIDParam(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-match-id", "Invalid match ID")
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	match, err := h.settlement.CancelMatch(r.Context(), id, req.Reason, &actorID)
	if err != nil {
		RespondServiceError(w, r, err, "cancel match")
		return
	}
	RespondJSON(w, http.StatusOK, match)
}

// Settle handles POST /v1/matches/{id}/settle, the operator override for a
// result the oracle could not deliver.
func (h *MatchHandler) Settle(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	id, err := matchIDParam(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-match-id", "Invalid match ID")
		return
	}
	var req struct {
		WinnerID string `json:"winner_id"`
		Evidence string `json:"evidence"`
	}
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.WinnerID) == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-winner", "winner_id is required")
		return
	}

	res, err := h.settlement.SettleVerdict(r.Context(), service.Verdict{
		MatchID:  id,
		WinnerID: req.WinnerID,
		Evidence: req.Evidence,
		Source:   domain.SourceOperator,
		ActorID:  &actorID,
	})
	if err != nil {
		RespondServiceError(w, r, err, "settle match")
		return
	}
	RespondJSON(w, http.StatusOK, res)
}
