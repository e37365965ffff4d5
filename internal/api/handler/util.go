package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/ayo6706/wager-lobby/internal/api/middleware"
	"github.com/ayo6706/wager-lobby/internal/api/problem"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes a problem+json response; problemType is a slug under
// the lobby's error namespace.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	problem.Write(w, r, status, problem.Type(problemType), "", message)
}

func requestActor(r *http.Request) (string, bool, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return "", false, errors.New("missing user in auth context")
	}
	return userID, middleware.UserRoleFromContext(r.Context()) == middleware.RoleAdmin, nil
}

// decodeJSON decodes an optional JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

func matchIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func queryLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return limit
}
