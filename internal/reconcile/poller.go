package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"contractcore/internal/domain"
)

// Poller runs one polling loop per tracked contract. Loops for different
// contracts are fully independent; a loop stops itself the moment its
// contract reaches a terminal status, so finished contracts never leak
// goroutines or provider calls.
type Poller struct {
	rec      *Reconciler
	fetcher  Fetcher
	interval time.Duration
	backoff  Backoff

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewPoller(rec *Reconciler, fetcher Fetcher, interval time.Duration, backoff Backoff) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		rec:      rec,
		fetcher:  fetcher,
		interval: interval,
		backoff:  backoff,
		cancels:  map[string]context.CancelFunc{},
	}
}

// Track starts polling the given contract. Tracking an already-tracked
// contract is a no-op.
func (p *Poller) Track(ctx context.Context, number, providerContractID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.cancels[number]; ok {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancels[number] = cancel
	p.wg.Add(1)
	go p.loop(loopCtx, number, providerContractID)
}

// Untrack stops the polling loop for one contract.
func (p *Poller) Untrack(number string) {
	p.mu.Lock()
	cancel, ok := p.cancels[number]
	if ok {
		delete(p.cancels, number)
	}
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// Stop cancels every loop and waits for them to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	for n, cancel := range p.cancels {
		cancel()
		delete(p.cancels, n)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Tracked reports how many contracts are currently being polled.
func (p *Poller) Tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cancels)
}

func (p *Poller) loop(ctx context.Context, number, providerContractID string) {
	defer p.wg.Done()
	defer p.Untrack(number)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// Always go to the provider; a cached snapshot here would make the
		// effective poll interval the cache TTL, not the configured one.
		snap, err := p.rec.Fetch(ctx, p.fetcher, providerContractID, true)
		if err != nil {
			failures++
			delay := p.backoff.Delay(failures)
			slog.Warn("provider status fetch failed",
				"contract", number, "failures", failures, "retry_in", delay, "err", err)
			timer.Reset(delay)
			continue
		}
		failures = 0

		c, _, err := p.rec.Apply(ctx, number, snap)
		if err != nil {
			slog.Error("reconcile pass failed", "contract", number, "err", err)
			timer.Reset(p.interval)
			continue
		}
		if c.ContractNumber != "" && domain.IsTerminal(c.Status) {
			slog.Info("contract reached terminal status, stopping poll",
				"contract", number, "status", c.Status)
			return
		}
		timer.Reset(p.interval)
	}
}
