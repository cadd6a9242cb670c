package httperr

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"contractcore/internal/domain"
)

func TestWriteDomainErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
		code string
	}{
		{domain.ErrNotFound, http.StatusNotFound, "not_found"},
		{domain.ErrSignerNotFound, http.StatusNotFound, "not_found"},
		{domain.ErrDuplicateNumber, http.StatusConflict, "duplicate_contract_number"},
		{domain.ErrStaleRevision, http.StatusConflict, "stale_revision"},
		{domain.ErrTerminalState, http.StatusConflict, "terminal_state"},
		{domain.ErrAlreadySuperseded, http.StatusConflict, "already_superseded"},
		{domain.ErrLiveSignURL, http.StatusConflict, "live_sign_url"},
		{domain.ErrSignOrderTaken, http.StatusConflict, "sign_order_taken"},
		{domain.ErrSignOrderViolated, http.StatusConflict, "sign_order_violated"},
		{domain.ErrPhoneTaken, http.StatusConflict, "phone_taken"},
		{domain.ErrIDNumberTaken, http.StatusConflict, "id_number_taken"},
		{domain.ErrConflict, http.StatusConflict, "conflict"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		WriteDomainError(rec, fmt.Errorf("context: %w", tc.err))
		if rec.Code != tc.want {
			t.Fatalf("%v: status = %d, want %d", tc.err, rec.Code, tc.want)
		}
		if !strings.Contains(rec.Body.String(), tc.code) {
			t.Fatalf("%v: body missing code %q: %s", tc.err, tc.code, rec.Body.String())
		}
	}
}

func TestWriteDomainErrorHidesUnknownErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteDomainError(rec, errors.New("pq: password authentication failed"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("internal error detail leaked: %s", rec.Body.String())
	}
}
