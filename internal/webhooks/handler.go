// Package webhooks is the push ingress for provider status callbacks.
// A callback body is a full signer snapshot signed with HMAC-SHA256.
// Verified snapshots feed the same reconciliation path as polling, so
// stale or replayed deliveries are simply acknowledged and discarded.
package webhooks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"contractcore/internal/domain"
	"contractcore/internal/httperr"
	"contractcore/internal/reconcile"
	"contractcore/pkg/httpx"
)

const defaultMaxBody = 1 << 20

// ContractResolver maps a provider contract id back to our contract.
type ContractResolver interface {
	GetByProviderContractID(ctx context.Context, providerContractID string) (domain.Contract, error)
}

// Applier folds a verified snapshot into the stored contract state.
type Applier interface {
	Apply(ctx context.Context, number string, snap reconcile.Snapshot) (domain.Contract, bool, error)
}

type Handler struct {
	secret    string
	contracts ContractResolver
	rec       Applier
	maxBody   int64
}

func NewHandler(secret string, contracts ContractResolver, rec Applier) *Handler {
	return &Handler{secret: secret, contracts: contracts, rec: rec, maxBody: defaultMaxBody}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		httpx.WriteError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body exceeds limit", nil)
		return
	}

	if !VerifySignature(h.secret, body, r.Header.Get(SignatureHeader)) {
		slog.Warn("webhook rejected", "reason", "invalid_signature", "remote", r.RemoteAddr)
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_signature", "signature verification failed", nil)
		return
	}

	snap, err := reconcile.ParseSnapshot(body)
	if err != nil {
		slog.Warn("webhook rejected", "reason", "malformed_snapshot", "err", err)
		httpx.WriteError(w, http.StatusBadRequest, "malformed_snapshot", err.Error(), nil)
		return
	}

	c, err := h.contracts.GetByProviderContractID(r.Context(), snap.ProviderContractID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.Warn("webhook for unknown provider contract", "provider_contract_id", snap.ProviderContractID)
			httpx.WriteError(w, http.StatusNotFound, "not_found", "unknown provider contract", nil)
			return
		}
		httperr.WriteDomainError(w, err)
		return
	}

	// Stale and terminal-state deliveries are discarded inside Apply
	// without error. Acknowledging them keeps the provider from
	// retrying forever.
	updated, changed, err := h.rec.Apply(r.Context(), c.ContractNumber, snap)
	if err != nil {
		httperr.WriteDomainError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"contract_number": updated.ContractNumber,
		"status":          updated.Status,
		"changed":         changed,
	})
}
