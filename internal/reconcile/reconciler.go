// Package reconcile merges the e-signature provider's authoritative state
// into the local contract store. Provider snapshots arrive via webhook or
// polling; both funnel into the same Apply path, which applies each signer
// tuple at most once (monotonic revisions), recomputes the aggregate
// status, and emits a domain event when it moved.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"contractcore/internal/cache"
	"contractcore/internal/domain"
	"contractcore/internal/events"
	"contractcore/internal/signing"
)

// Fetcher is the slice of the provider client the reconciler needs.
type Fetcher interface {
	GetStatus(ctx context.Context, providerContractID string) (Snapshot, error)
}

// ContractGetter loads the current local view of a contract.
type ContractGetter interface {
	GetByNumber(ctx context.Context, number string) (domain.Contract, error)
}

type Reconciler struct {
	tracker   *signing.Tracker
	contracts ContractGetter
	pub       events.Publisher
	cache     cache.SnapshotCache
}

func New(tracker *signing.Tracker, contracts ContractGetter, pub events.Publisher, snapshots cache.SnapshotCache) *Reconciler {
	return &Reconciler{tracker: tracker, contracts: contracts, pub: pub, cache: snapshots}
}

// Apply resolves one provider snapshot against the locally-known state of
// the given contract. Stale tuples are logged at debug level and dropped;
// they are expected under out-of-order delivery, never a failure. The
// returned contract reflects the state after the last applied tuple; the
// second return reports whether the aggregate status changed.
func (r *Reconciler) Apply(ctx context.Context, number string, snap Snapshot) (domain.Contract, bool, error) {
	if err := snap.Validate(); err != nil {
		return domain.Contract{}, false, err
	}

	var (
		last       domain.Contract
		firstOld   domain.ContractStatus
		anyApplied bool
	)
	for _, tuple := range snap.Signers {
		res, err := r.tracker.ApplySignerStatus(ctx, number, tuple.Account, tuple.Status, snap.Revision)
		switch {
		case err == nil:
			if !anyApplied {
				firstOld = res.OldStatus
			}
			anyApplied = true
			last = res.Contract
		case errors.Is(err, domain.ErrStaleRevision):
			slog.Debug("discarding stale signer tuple",
				"contract", number, "signer", tuple.Account, "revision", snap.Revision)
		case errors.Is(err, domain.ErrTerminalState):
			slog.Debug("discarding tuple for terminal contract or signer",
				"contract", number, "signer", tuple.Account, "revision", snap.Revision)
		case errors.Is(err, domain.ErrSignerNotFound):
			slog.Warn("provider snapshot names unknown signer",
				"contract", number, "signer", tuple.Account)
		default:
			return domain.Contract{}, false, fmt.Errorf("apply signer %s: %w", tuple.Account, err)
		}
	}
	if !anyApplied {
		// Nothing advanced (all tuples stale or the contract is already
		// terminal); report the current local view so callers can still
		// observe terminal status and stop polling.
		c, err := r.contracts.GetByNumber(ctx, number)
		if err != nil {
			return domain.Contract{}, false, err
		}
		return c, false, nil
	}

	changed := last.Status != firstOld
	if changed {
		r.pub.Publish(events.ContractStatusChanged{
			Number:    number,
			OldStatus: firstOld,
			NewStatus: last.Status,
		})
	}
	if domain.IsTerminal(last.Status) && r.cache != nil {
		if err := r.cache.Invalidate(ctx, snap.ProviderContractID); err != nil {
			slog.Warn("snapshot cache invalidation failed",
				"contract", number, "err", err)
		}
	}
	return last, changed, nil
}

// Fetch obtains the current snapshot for a provider contract, trying the
// cache first. bypassCache forces a provider round trip; the poller and the
// manual resync path use it so the configured interval governs provider calls.
func (r *Reconciler) Fetch(ctx context.Context, fetcher Fetcher, providerContractID string, bypassCache bool) (Snapshot, error) {
	if r.cache != nil && !bypassCache {
		if raw, ok, err := r.cache.Get(ctx, providerContractID); err == nil && ok {
			snap, perr := ParseSnapshot(raw)
			if perr == nil {
				return snap, nil
			}
			slog.Warn("dropping unparseable cached snapshot", "provider_contract", providerContractID, "err", perr)
		}
	}
	snap, err := fetcher.GetStatus(ctx, providerContractID)
	if err != nil {
		return Snapshot{}, err
	}
	if err := snap.Validate(); err != nil {
		return Snapshot{}, err
	}
	if r.cache != nil {
		if raw, err := json.Marshal(snap); err == nil {
			if cerr := r.cache.Set(ctx, providerContractID, raw, 0); cerr != nil {
				slog.Warn("snapshot cache write failed", "provider_contract", providerContractID, "err", cerr)
			}
		}
	}
	return snap, nil
}

// Resync performs one immediate fetch-and-apply pass for a contract,
// bypassing the cache. Exposed for the manual resync operation.
func (r *Reconciler) Resync(ctx context.Context, fetcher Fetcher, number, providerContractID string) (domain.Contract, bool, error) {
	snap, err := r.Fetch(ctx, fetcher, providerContractID, true)
	if err != nil {
		return domain.Contract{}, false, err
	}
	return r.Apply(ctx, number, snap)
}

// Backoff mirrors the provider client's retry envelope: attempts grow
// exponentially from Base and are capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	max := b.Max
	if max <= 0 {
		max = 30 * time.Second
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
