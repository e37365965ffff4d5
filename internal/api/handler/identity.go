package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/wager-lobby/internal/identity"
)

// IdentityDirectory links platform users to external game identities.
type IdentityDirectory interface {
	Link(ctx context.Context, l identity.Link) error
	Links(ctx context.Context, userID string) ([]identity.Link, error)
}

type IdentityHandler struct {
	dir IdentityDirectory
}

func NewIdentityHandler(dir IdentityDirectory) *IdentityHandler {
	return &IdentityHandler{dir: dir}
}

// Link handles POST /v1/identities (admin).
func (h *IdentityHandler) Link(w http.ResponseWriter, r *http.Request) {
	if h.dir == nil {
		RespondError(w, r, http.StatusServiceUnavailable, "identity/unavailable", "identity directory is not configured")
		return
	}
	var req identity.Link
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if req.Provider == "" {
		req.Provider = identity.ProviderSteam
	}
	if err := h.dir.Link(r.Context(), req); err != nil {
		RespondServiceError(w, r, err, "link identity")
		return
	}
	RespondJSON(w, http.StatusCreated, req)
}

// Mine handles GET /v1/identities for the authenticated user.
func (h *IdentityHandler) Mine(w http.ResponseWriter, r *http.Request) {
	if h.dir == nil {
		RespondError(w, r, http.StatusServiceUnavailable, "identity/unavailable", "identity directory is not configured")
		return
	}
	userID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	links, err := h.dir.Links(r.Context(), userID)
	if err != nil {
		RespondServiceError(w, r, err, "list identities")
		return
	}
	RespondJSON(w, http.StatusOK, links)
}
