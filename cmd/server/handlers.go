package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"contractcore/internal/customer"
	"contractcore/internal/domain"
	"contractcore/internal/httperr"
	"contractcore/internal/provider"
	"contractcore/internal/reconcile"
	"contractcore/internal/signing"
	"contractcore/internal/store"
	"contractcore/internal/supersede"
	"contractcore/pkg/httpx"

	"github.com/go-chi/chi/v5"
)

// api bundles the wired components behind the HTTP handlers. baseCtx
// outlives individual requests; poller loops started from a handler
// must not die with the request.
type api struct {
	baseCtx   context.Context
	store     *store.Store
	customers customer.Checker
	tracker   *signing.Tracker
	sup       *supersede.Manager
	rec       *reconcile.Reconciler
	esign     provider.Client
	poller    *reconcile.Poller
}

type signerReq struct {
	Name      string `json:"name"`
	Account   string `json:"account"`
	Role      string `json:"role"`
	SignOrder int    `json:"sign_order"`
}

func toSpecs(in []signerReq) []signing.SignerSpec {
	out := make([]signing.SignerSpec, 0, len(in))
	for _, s := range in {
		out = append(out, signing.SignerSpec{
			SignerName:    s.Name,
			SignerAccount: s.Account,
			Role:          s.Role,
			SignOrder:     s.SignOrder,
		})
	}
	return out
}

func toSubmit(in []signerReq) []provider.SubmitSigner {
	out := make([]provider.SubmitSigner, 0, len(in))
	for _, s := range in {
		out = append(out, provider.SubmitSigner{
			Name:      s.Name,
			Account:   s.Account,
			Role:      s.Role,
			SignOrder: s.SignOrder,
		})
	}
	return out
}

// createContract runs the full intake: uniqueness prechecks, number
// generation, provider submission, signer registration and sign-URL
// capture. The contract stays DRAFT if provider submission fails; the
// caller can resubmit without losing the number.
func (a *api) createContract(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Customer struct {
			ID       string `json:"id"`
			Phone    string `json:"phone"`
			IDNumber string `json:"id_number"`
		} `json:"customer"`
		Signers []signerReq `json:"signers"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_json", err.Error(), nil)
		return
	}
	if len(req.Signers) == 0 {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "at least one signer is required", nil)
		return
	}

	ctx := r.Context()
	if err := a.customers.CheckPhoneUnique(ctx, req.Customer.Phone, req.Customer.ID); err != nil {
		httperr.WriteDomainError(w, err)
		return
	}
	if err := a.customers.CheckIDNumberUnique(ctx, req.Customer.IDNumber, req.Customer.ID); err != nil {
		httperr.WriteDomainError(w, err)
		return
	}

	var customerID *string
	if req.Customer.ID != "" {
		customerID = &req.Customer.ID
	}
	c, err := a.store.CreateWithGeneratedNumber(ctx, customerID)
	if err != nil {
		httperr.WriteDomainError(w, err)
		return
	}

	if err := a.tracker.RegisterSigners(ctx, c.ContractNumber, toSpecs(req.Signers)); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_signers", err.Error(),
			map[string]any{"contract_number": c.ContractNumber})
		return
	}

	res, err := a.esign.SubmitContract(ctx, c.ContractNumber, toSubmit(req.Signers))
	if err != nil {
		slog.Error("provider submission failed", "contract", c.ContractNumber, "err", err)
		httpx.WriteError(w, http.StatusBadGateway, "provider_submit_failed", err.Error(),
			map[string]any{"contract_number": c.ContractNumber})
		return
	}
	if err := a.store.SetProviderContract(ctx, c.ContractNumber, res.ProviderContractID); err != nil {
		httperr.WriteDomainError(w, err)
		return
	}
	for _, su := range res.SignURLs {
		if err := a.tracker.RecordSignURL(ctx, c.ContractNumber, su.Account, su.URL, su.ExpiresAt, false); err != nil {
			slog.Warn("sign url not recorded", "contract", c.ContractNumber, "signer", su.Account, "err", err)
		}
	}

	a.poller.Track(a.baseCtx, c.ContractNumber, res.ProviderContractID)

	c, err = a.store.GetByNumber(ctx, c.ContractNumber)
	if err != nil {
		httperr.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"request_id": httpx.NewRequestID(),
		"contract":   c,
	})
}

func (a *api) getContract(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	c, err := a.store.GetByNumber(r.Context(), number)
	if err != nil {
		httperr.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": httpx.NewRequestID(),
		"contract":   c,
	})
}

func (a *api) registerSigners(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	var req struct {
		Signers []signerReq `json:"signers"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_json", err.Error(), nil)
		return
	}
	if err := a.tracker.RegisterSigners(r.Context(), number, toSpecs(req.Signers)); err != nil {
		httperr.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": httpx.NewRequestID(),
		"registered": len(req.Signers),
	})
}

// recordSignURL repairs a signer's sign URL. Without force a live
// unexpired URL is never replaced.
func (a *api) recordSignURL(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	account := chi.URLParam(r, "account")
	var req struct {
		URL       string     `json:"url"`
		ExpiresAt *time.Time `json:"expires_at"`
		Force     bool       `json:"force"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_json", err.Error(), nil)
		return
	}
	if err := a.tracker.RecordSignURL(r.Context(), number, account, req.URL, req.ExpiresAt, req.Force); err != nil {
		httperr.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": httpx.NewRequestID(),
		"recorded":   true,
	})
}

func (a *api) supersedeContract(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	var req struct {
		NewContractNumber string `json:"new_contract_number"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_json", err.Error(), nil)
		return
	}
	if err := a.sup.Supersede(r.Context(), number, req.NewContractNumber); err != nil {
		httperr.WriteDomainError(w, err)
		return
	}
	// The old contract is VOID now; its polling loop has nothing left
	// to observe.
	a.poller.Untrack(number)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id":   httpx.NewRequestID(),
		"superseded":   number,
		"new_contract": req.NewContractNumber,
	})
}

// transitionStatus applies a contract-level status directly, under the
// terminal-state and monotonic-revision guards. Only EXPIRED and VOID
// are accepted here; every other status is derived from signer states
// and must never be written around that derivation.
func (a *api) transitionStatus(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	var req struct {
		Status           domain.ContractStatus `json:"status"`
		ProviderRevision int64                 `json:"provider_revision"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_json", err.Error(), nil)
		return
	}
	switch req.Status {
	case domain.StatusExpired, domain.StatusVoid:
	default:
		httpx.WriteError(w, http.StatusBadRequest, "bad_status",
			"only EXPIRED and VOID can be applied directly", nil)
		return
	}

	c, err := a.store.ApplyContractStatus(r.Context(), number, req.Status, req.ProviderRevision)
	if err != nil {
		httperr.WriteDomainError(w, err)
		return
	}
	// Both accepted statuses are terminal; nothing remains to poll.
	a.poller.Untrack(number)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": httpx.NewRequestID(),
		"contract":   c,
	})
}

func (a *api) forceClearSupersession(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	var req struct {
		Actor  string `json:"actor"`
		Reason string `json:"reason"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_json", err.Error(), nil)
		return
	}
	if err := a.sup.ForceClear(r.Context(), number, req.Actor, req.Reason); err != nil {
		httperr.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": httpx.NewRequestID(),
		"cleared":    number,
	})
}

// resyncContract pulls a fresh snapshot from the provider, bypassing
// the cache, and folds it in through the same reconciliation path as
// webhooks and polling.
func (a *api) resyncContract(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	c, err := a.store.GetByNumber(r.Context(), number)
	if err != nil {
		httperr.WriteDomainError(w, err)
		return
	}
	if c.ProviderContractID == nil {
		httpx.WriteError(w, http.StatusConflict, "not_submitted",
			"contract has not been submitted to the provider", nil)
		return
	}

	updated, changed, err := a.rec.Resync(r.Context(), a.esign, number, *c.ProviderContractID)
	if err != nil {
		httperr.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": httpx.NewRequestID(),
		"contract":   updated,
		"changed":    changed,
	})
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DB.Ping(r.Context()); err != nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, "db_unreachable", err.Error(), nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "tracked": a.poller.Tracked()})
}
