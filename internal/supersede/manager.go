// Package supersede manages contract replacement chains. A superseding
// contract takes over from its predecessor, which is voided. Once any
// signer on the old contract has signed, replacement is refused and the
// caller must go through the audited force-clear path instead.
package supersede

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"contractcore/internal/domain"
)

// Store is the persistence surface the manager needs.
type Store interface {
	LinkSupersession(ctx context.Context, oldNumber, newNumber string) error
	ForceClearSupersession(ctx context.Context, number, actor, reason string) error
}

type Manager struct {
	store Store
}

func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Supersede links newNumber as the replacement of oldNumber and voids
// the old contract. Returns domain.ErrConflict when a signer on the old
// contract has already signed, and domain.ErrAlreadySuperseded when the
// old contract was replaced before.
func (m *Manager) Supersede(ctx context.Context, oldNumber, newNumber string) error {
	if !domain.ValidateContractNumber(oldNumber) {
		return fmt.Errorf("invalid old contract number %q", oldNumber)
	}
	if !domain.ValidateContractNumber(newNumber) {
		return fmt.Errorf("invalid new contract number %q", newNumber)
	}
	if oldNumber == newNumber {
		return fmt.Errorf("contract cannot supersede itself: %w", domain.ErrConflict)
	}

	if err := m.store.LinkSupersession(ctx, oldNumber, newNumber); err != nil {
		return err
	}
	slog.Info("contract superseded", "old", oldNumber, "new", newNumber)
	return nil
}

// ForceClear severs a supersession link regardless of signer progress.
// Every invocation is written to the audit trail, so actor and reason
// are mandatory.
func (m *Manager) ForceClear(ctx context.Context, number, actor, reason string) error {
	if !domain.ValidateContractNumber(number) {
		return fmt.Errorf("invalid contract number %q", number)
	}
	actor = strings.TrimSpace(actor)
	reason = strings.TrimSpace(reason)
	if actor == "" || reason == "" {
		return fmt.Errorf("actor and reason are required")
	}

	if err := m.store.ForceClearSupersession(ctx, number, actor, reason); err != nil {
		return err
	}
	slog.Warn("supersession force-cleared", "contract", number, "actor", actor, "reason", reason)
	return nil
}
