// Package httperr maps the contract domain's sentinel errors onto HTTP
// responses. It lives under internal so the generic pkg/httpx helpers
// stay free of domain knowledge.
package httperr

import (
	"errors"
	"net/http"

	"contractcore/internal/domain"
	"contractcore/pkg/httpx"
)

// WriteDomainError writes the HTTP status matching a sentinel error.
// Anything unrecognized becomes a 500 with a generic message so internal
// details never leak to callers.
func WriteDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrSignerNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrDuplicateNumber):
		httpx.WriteError(w, http.StatusConflict, "duplicate_contract_number", err.Error(), nil)
	case errors.Is(err, domain.ErrStaleRevision):
		httpx.WriteError(w, http.StatusConflict, "stale_revision", err.Error(), nil)
	case errors.Is(err, domain.ErrTerminalState):
		httpx.WriteError(w, http.StatusConflict, "terminal_state", err.Error(), nil)
	case errors.Is(err, domain.ErrAlreadySuperseded):
		httpx.WriteError(w, http.StatusConflict, "already_superseded", err.Error(), nil)
	case errors.Is(err, domain.ErrLiveSignURL):
		httpx.WriteError(w, http.StatusConflict, "live_sign_url", err.Error(), nil)
	case errors.Is(err, domain.ErrSignOrderTaken):
		httpx.WriteError(w, http.StatusConflict, "sign_order_taken", err.Error(), nil)
	case errors.Is(err, domain.ErrSignOrderViolated):
		httpx.WriteError(w, http.StatusConflict, "sign_order_violated", err.Error(), nil)
	case errors.Is(err, domain.ErrPhoneTaken):
		httpx.WriteError(w, http.StatusConflict, "phone_taken", err.Error(), nil)
	case errors.Is(err, domain.ErrIDNumberTaken):
		httpx.WriteError(w, http.StatusConflict, "id_number_taken", err.Error(), nil)
	case errors.Is(err, domain.ErrConflict):
		httpx.WriteError(w, http.StatusConflict, "conflict", err.Error(), nil)
	default:
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}
