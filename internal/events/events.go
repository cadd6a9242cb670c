// Package events carries the engine's outbound domain events. Delivery is
// fire-and-forget: the reconciler never blocks on a consumer.
package events

import (
	"log/slog"
	"sync"
	"time"

	"contractcore/internal/domain"

	"github.com/google/uuid"
)

type ContractStatusChanged struct {
	EventID    string
	Number     string
	OldStatus  domain.ContractStatus
	NewStatus  domain.ContractStatus
	OccurredAt time.Time
}

type Publisher interface {
	Publish(ev ContractStatusChanged)
}

// Dispatcher fans events out to subscribers on a buffered channel. When a
// subscriber's buffer is saturated the event is dropped with a warning
// rather than stalling reconciliation.
type Dispatcher struct {
	mu     sync.Mutex
	subs   []chan ContractStatusChanged
	closed bool
}

func NewDispatcher() *Dispatcher { return &Dispatcher{} }

func (d *Dispatcher) Subscribe(buffer int) <-chan ContractStatusChanged {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan ContractStatusChanged, buffer)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		close(ch)
		return ch
	}
	d.subs = append(d.subs, ch)
	return ch
}

func (d *Dispatcher) Publish(ev ContractStatusChanged) {
	if ev.EventID == "" {
		ev.EventID = "evt_" + uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	for _, ch := range d.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("dropping contract status event, subscriber saturated",
				"contract", ev.Number, "new_status", ev.NewStatus)
		}
	}
}

func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for _, ch := range d.subs {
		close(ch)
	}
	d.subs = nil
}
