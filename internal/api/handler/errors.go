package handler

import (
	"errors"
	"net/http"

	"github.com/ayo6706/wager-lobby/internal/identity"
	"github.com/ayo6706/wager-lobby/internal/models"
	"github.com/ayo6706/wager-lobby/internal/repository"
	"go.uber.org/zap"
)

type errorMapping struct {
	err    error
	status int
	slug   string
}

// errorMappings is checked in order with errors.Is.
var errorMappings = []errorMapping{
	{models.ErrInsufficientFunds, http.StatusPaymentRequired, "wallet/insufficient-funds"},

	{models.ErrMatchNotFound, http.StatusNotFound, "match/not-found"},
	{repository.ErrNotFound, http.StatusNotFound, "resource/not-found"},

	{models.ErrMatchNotJoinable, http.StatusConflict, "match/not-joinable"},
	{models.ErrAlreadyJoined, http.StatusConflict, "match/already-joined"},
	{models.ErrNotAMember, http.StatusConflict, "match/not-a-member"},
	{models.ErrWrongState, http.StatusConflict, "match/wrong-state"},
	{models.ErrNotSettleable, http.StatusConflict, "settlement/not-settleable"},
	{models.ErrWinnerNotAMember, http.StatusConflict, "settlement/winner-not-a-member"},
	{models.ErrConflictingSettlement, http.StatusConflict, "settlement/conflicting-winner"},
	{models.ErrDepositPayloadMismatch, http.StatusConflict, "funding/payload-mismatch"},
	{identity.ErrAlreadyLinked, http.StatusConflict, "identity/already-linked"},

	{models.ErrUnauthorizedReport, http.StatusUnauthorized, "oracle/unauthorized-report"},
	{models.ErrInvalidSignature, http.StatusUnauthorized, "funding/invalid-signature"},

	{models.ErrIdentityNotVerified, http.StatusForbidden, "identity/not-verified"},

	{models.ErrInvalidAmount, http.StatusBadRequest, "request/invalid-amount"},
	{models.ErrInvalidKind, http.StatusBadRequest, "request/invalid-kind"},
	{models.ErrInvalidMatch, http.StatusBadRequest, "match/invalid"},
	{models.ErrInvalidDeposit, http.StatusBadRequest, "funding/invalid-notification"},
	{models.ErrInvalidReport, http.StatusBadRequest, "oracle/invalid-report"},
	{identity.ErrInvalidLink, http.StatusBadRequest, "identity/invalid-link"},
}

// RespondServiceError maps a service error onto an RFC 7807 response.
// Unknown errors fail closed as 500 and are logged.
func RespondServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			RespondError(w, r, m.status, m.slug, err.Error())
			return
		}
	}
	zap.L().Error(op+" failed", zap.Error(err), zap.String("path", r.URL.Path))
	RespondError(w, r, http.StatusInternalServerError, "internal-server-error", op+" failed")
}
