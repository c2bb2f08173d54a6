package marketdata

import (
	"sync"
	"sync/atomic"
	"time"
)

const subscriberBuffer = 128

// EventQuote carries a Quote that the cache has just accepted.
const EventQuote = "quote"

type Event struct {
	Type      string    `json:"type"`
	AccountID string    `json:"account_id,omitempty"`
	Data      any       `json:"data"`
	At        time.Time `json:"at"`
}

// Bus is an in-process fan-out. Slow subscribers lose events instead of blocking publishers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[chan Event]struct{}
	dropped atomic.Int64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish delivers evt to every subscriber with room and returns how many received it.
func (b *Bus) Publish(evt Event) int {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	delivered := 0
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- evt:
			delivered++
		default:
			b.dropped.Add(1)
		}
	}
	b.mu.RUnlock()
	return delivered
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// PublishQuotes returns a cache OnApply callback that announces live quotes on bus.
func PublishQuotes(bus *Bus) func(Quote) {
	return func(q Quote) {
		if q.IsSynthetic() {
			return
		}
		bus.Publish(Event{Type: EventQuote, Data: q, At: q.ObservedAt})
	}
}
