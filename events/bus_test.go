package events

import (
	"testing"
	"time"
)

func msg(id string) ChatMessage {
	return ChatMessage{Base: Base{Platform: "twitch", ID: id, ChannelID: "1", Time: time.Now()}, Text: id}
}

func TestBusDeliversAllKinds(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(msg("m1"))
	b.Publish(Raid{Base: Base{ID: "r1"}, Viewers: 10})

	got := <-ch
	if got.EventKind() != KindMessage {
		t.Fatalf("first event kind = %s", got.EventKind())
	}
	got = <-ch
	if got.EventKind() != KindRaid {
		t.Fatalf("second event kind = %s", got.EventKind())
	}
}

func TestBusKindFilter(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(KindRaid)
	defer cancel()

	b.Publish(msg("m1"))
	b.Publish(Raid{Base: Base{ID: "r1"}})

	got := <-ch
	if got.EventKind() != KindRaid {
		t.Fatalf("filter leaked kind %s", got.EventKind())
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra event %v", ev.EventKind())
	default:
	}
}

func TestBusPublishNeverBlocks(t *testing.T) {
	b := NewBus()
	_, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			b.Publish(msg("m"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	if b.Dropped() == 0 {
		t.Fatal("expected drop accounting for the overflowed subscriber")
	}
}

func TestBusCancelStopsDelivery(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe()
	cancel()
	cancel() // second cancel is a no-op

	b.Publish(msg("m1"))
	if _, ok := <-ch; ok {
		t.Fatal("cancelled subscriber received an event")
	}
}
