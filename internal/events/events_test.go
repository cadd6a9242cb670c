package events

import (
	"testing"
	"time"

	"contractcore/internal/domain"
)

func TestPublishReachesSubscriber(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()
	ch := d.Subscribe(4)

	d.Publish(ContractStatusChanged{
		Number:    "CON12345678901",
		OldStatus: domain.StatusSubmitted,
		NewStatus: domain.StatusPartiallySigned,
	})

	select {
	case ev := <-ch:
		if ev.Number != "CON12345678901" {
			t.Fatalf("unexpected number %q", ev.Number)
		}
		if ev.EventID == "" || ev.OccurredAt.IsZero() {
			t.Fatalf("expected event id and timestamp to be filled")
		}
	case <-time.After(time.Second):
		t.Fatalf("event not delivered")
	}
}

func TestPublishDoesNotBlockOnSaturatedSubscriber(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()
	_ = d.Subscribe(1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Publish(ContractStatusChanged{Number: "CON12345678901"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a saturated subscriber")
	}
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	d := NewDispatcher()
	ch := d.Subscribe(1)
	d.Close()
	d.Publish(ContractStatusChanged{Number: "CON12345678901"})
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed subscriber channel")
	}
}
