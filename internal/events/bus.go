package events

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/monitoring"
)

var (
	eventsPublished = monitoring.Counter("events_published")
	eventsDropped   = monitoring.Counter("events_dropped")
)

// subscriberBuffer is the per-subscriber queue depth. A subscriber that
// falls further behind than this loses events rather than stalling the
// measurement pipeline.
const subscriberBuffer = 16

// Bus fans events out to subscribers. Publishing never blocks; slow
// subscribers drop events.
type Bus struct {
	subscribers  map[string]chan Event
	subscriberMu sync.Mutex
	closed       bool
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string]chan Event),
	}
}

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe creates a new channel for receiving events. The returned ID
// identifies the subscription when unsubscribing.
func (b *Bus) Subscribe() (string, chan Event) {
	id := randomID()
	ch := make(chan Event, subscriberBuffer)
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Publish delivers e to every subscriber whose queue has room. Events for
// full subscribers are dropped so the publisher never blocks.
func (b *Bus) Publish(e Event) {
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	if b.closed {
		return
	}
	eventsPublished.Add(1)
	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			eventsDropped.Add(1)
		}
	}
}

// Close closes all subscriber channels. Publish and Subscribe become
// no-ops afterwards.
func (b *Bus) Close() {
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
