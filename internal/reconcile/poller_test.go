package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"contractcore/internal/cache"
	"contractcore/internal/domain"
	"contractcore/internal/signing"
)

func pollerSetup(t *testing.T, f Fetcher) (*memStore, *Poller) {
	t.Helper()
	st := newMemStore()
	st.addContract(testNumber, domain.StatusSubmitted)
	tr := signing.NewTracker(st)
	if err := tr.RegisterSigners(context.Background(), testNumber, []signing.SignerSpec{
		{SignerName: "Zhang Wei", SignerAccount: "signer1", Role: "customer", SignOrder: 1},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	rec := New(tr, st, &capturingPublisher{}, cache.NewMemory(time.Minute))
	p := NewPoller(rec, f, 5*time.Millisecond, Backoff{Base: time.Millisecond, Max: 10 * time.Millisecond})
	return st, p
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached within %v", timeout)
}

func TestPollerStopsOnTerminalStatus(t *testing.T) {
	f := &scriptedFetcher{snaps: []Snapshot{snap(1, SignerTuple{Account: "signer1", Status: domain.SignerSigned})}}
	st, p := pollerSetup(t, f)
	defer p.Stop()

	p.Track(context.Background(), testNumber, "flow-1")
	if p.Tracked() != 1 {
		t.Fatalf("expected 1 tracked contract")
	}

	waitFor(t, 2*time.Second, func() bool {
		c, err := st.GetByNumber(context.Background(), testNumber)
		return err == nil && c.Status == domain.StatusFullySigned
	})
	// The loop must untrack itself once the contract is terminal.
	waitFor(t, 2*time.Second, func() bool { return p.Tracked() == 0 })
}

func TestPollerRetriesFetchFailures(t *testing.T) {
	f := &scriptedFetcher{
		errs:  []error{errors.New("timeout"), errors.New("timeout")},
		snaps: []Snapshot{snap(1, SignerTuple{Account: "signer1", Status: domain.SignerSigned})},
	}
	st, p := pollerSetup(t, f)
	defer p.Stop()

	p.Track(context.Background(), testNumber, "flow-1")
	waitFor(t, 2*time.Second, func() bool {
		c, err := st.GetByNumber(context.Background(), testNumber)
		return err == nil && c.Status == domain.StatusFullySigned
	})
	if f.callCount() < 3 {
		t.Fatalf("expected at least 3 provider calls, got %d", f.callCount())
	}
}

func TestPollerFetchesFreshSnapshotEachTick(t *testing.T) {
	f := &scriptedFetcher{snaps: []Snapshot{snap(1, SignerTuple{Account: "signer1", Status: domain.SignerPending})}}
	_, p := pollerSetup(t, f)
	defer p.Stop()

	p.Track(context.Background(), testNumber, "flow-1")
	// The setup cache has a long TTL; a loop serving itself cached
	// snapshots would stall at one provider call.
	waitFor(t, 2*time.Second, func() bool { return f.callCount() >= 3 })
}

func TestPollerTrackIsIdempotentAndUntrackStops(t *testing.T) {
	f := &scriptedFetcher{snaps: []Snapshot{snap(1, SignerTuple{Account: "signer1", Status: domain.SignerPending})}}
	_, p := pollerSetup(t, f)
	defer p.Stop()

	ctx := context.Background()
	p.Track(ctx, testNumber, "flow-1")
	p.Track(ctx, testNumber, "flow-1")
	if p.Tracked() != 1 {
		t.Fatalf("double track must not start a second loop, got %d", p.Tracked())
	}
	p.Untrack(testNumber)
	waitFor(t, 2*time.Second, func() bool { return p.Tracked() == 0 })
}
