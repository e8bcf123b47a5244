package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: SyncStarted, Data: "run-1"})
	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != SyncStarted || e.Data != "run-1" || e.Time.IsZero() {
				t.Fatalf("event = %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: SyncStudent})
	b.Publish(Event{Type: SyncStudent})
	if got := Dropped(b); got != 1 {
		t.Fatalf("Dropped = %d, want 1", got)
	}
	unsub()
	unsub()
	// Publishing after unsubscribe is a no-op.
	b.Publish(Event{Type: SyncFinished})
	if _, ok := <-ch; !ok {
		t.Fatal("buffered event lost on unsubscribe")
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed")
	}
}
