package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/onnwee/streamchat/telemetry"
)

// subscriberBuffer is the per-subscriber channel depth. Publish never blocks;
// a subscriber that falls this far behind starts losing events.
const subscriberBuffer = 256

type subscriber struct {
	ch    chan Event
	kinds map[Kind]bool // nil means all kinds
}

// Bus fans normalized events out to subscribers. Publish is non-blocking: a
// slow consumer drops events rather than stalling the normalizer.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*subscriber
	nextID  int
	dropped atomic.Int64
}

func NewBus() *Bus {
	return &Bus{subs: map[int]*subscriber{}}
}

// Subscribe registers a consumer for the given kinds, or for every event when
// no kind is named. The returned cancel func unregisters and closes the
// channel; it is safe to call more than once.
func (b *Bus) Subscribe(kinds ...Kind) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers ev to every matching subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	telemetry.CountEvent(string(ev.EventKind()))
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.kinds != nil && !sub.kinds[ev.EventKind()] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			telemetry.CountDrop()
			if n := b.dropped.Add(1); n%100 == 1 {
				slog.Warn("event bus dropping for slow subscriber",
					slog.String("kind", string(ev.EventKind())),
					slog.Int64("dropped_total", n))
			}
		}
	}
}

// Dropped reports how many events have been discarded for slow subscribers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
