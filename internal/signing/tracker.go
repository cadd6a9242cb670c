// Package signing tracks each signer's participation in a contract: their
// provider-issued sign URL, role, position in the signing order and
// per-signer status. It owns the idempotence and ordering rules; the
// persistence lives behind the Store interface.
package signing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"contractcore/internal/domain"
)

type SignerSpec struct {
	SignerName    string
	SignerAccount string
	Role          string
	SignOrder     int
}

type Store interface {
	RegisterSigner(ctx context.Context, sg domain.SigningSession) (inserted bool, err error)
	RecordSignURL(ctx context.Context, number, account, url string, expiresAt *time.Time, force bool) error
	ApplySignerStatus(ctx context.Context, number, account string, status domain.SignerStatus, rev int64, enforceOrder bool) (domain.SignerApplyResult, error)
}

type Tracker struct {
	store Store
	// EnforceSignOrder rejects out-of-order SIGNED events instead of
	// logging them. Off by default: the provider in production submits all
	// signers unordered.
	EnforceSignOrder bool
}

func NewTracker(store Store) *Tracker { return &Tracker{store: store} }

// RegisterSigners records the signer set for a contract. Idempotent:
// calling twice with the same set creates no duplicate sessions, matched
// by (contractNumber, signerAccount).
func (t *Tracker) RegisterSigners(ctx context.Context, number string, specs []SignerSpec) error {
	if err := validateSpecs(specs); err != nil {
		return err
	}
	for _, spec := range specs {
		_, err := t.store.RegisterSigner(ctx, domain.SigningSession{
			ContractNumber: number,
			SignerName:     strings.TrimSpace(spec.SignerName),
			SignerAccount:  strings.TrimSpace(spec.SignerAccount),
			Role:           strings.TrimSpace(spec.Role),
			SignOrder:      spec.SignOrder,
			SignerStatus:   domain.SignerPending,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func validateSpecs(specs []SignerSpec) error {
	if len(specs) == 0 {
		return errors.New("at least one signer is required")
	}
	accounts := make(map[string]bool, len(specs))
	orders := make(map[int]bool, len(specs))
	for _, s := range specs {
		account := strings.TrimSpace(s.SignerAccount)
		if account == "" {
			return errors.New("signer account is required")
		}
		if strings.TrimSpace(s.SignerName) == "" {
			return fmt.Errorf("signer name is required for %s", account)
		}
		if s.SignOrder < 1 {
			return fmt.Errorf("sign order must be positive for %s", account)
		}
		if accounts[account] {
			return fmt.Errorf("duplicate signer account %s", account)
		}
		if orders[s.SignOrder] {
			return fmt.Errorf("%w: %d", domain.ErrSignOrderTaken, s.SignOrder)
		}
		accounts[account] = true
		orders[s.SignOrder] = true
	}
	return nil
}

// RecordSignURL stores a sign URL for a signer. The store refuses to
// replace a live unexpired URL unless force is set.
func (t *Tracker) RecordSignURL(ctx context.Context, number, account, url string, expiresAt *time.Time, force bool) error {
	if strings.TrimSpace(url) == "" {
		return errors.New("sign url is required")
	}
	return t.store.RecordSignURL(ctx, number, account, url, expiresAt, force)
}

// ApplySignerStatus applies one provider tuple and reports whether the
// aggregate contract status changed. Anomalous ordering is logged when not
// enforced.
func (t *Tracker) ApplySignerStatus(ctx context.Context, number, account string, status domain.SignerStatus, rev int64) (domain.SignerApplyResult, error) {
	switch status {
	case domain.SignerSigned, domain.SignerDeclined, domain.SignerPending:
	default:
		return domain.SignerApplyResult{}, fmt.Errorf("unknown signer status %q", status)
	}
	res, err := t.store.ApplySignerStatus(ctx, number, account, status, rev, t.EnforceSignOrder)
	if err != nil {
		return domain.SignerApplyResult{}, err
	}
	if res.OrderAnomalous {
		slog.Warn("signer signed out of order",
			"contract", number, "signer", account, "revision", rev)
	}
	return res, nil
}
