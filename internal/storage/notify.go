package storage

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind names what changed in the store.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventUpdated EventKind = "updated"
	EventPremium EventKind = "premium"
	EventLoaded  EventKind = "loaded"
)

// Event is delivered to subscribers after each mutation has been applied.
type Event struct {
	Kind    EventKind `json:"kind"`
	PhotoID uuid.UUID `json:"photoId"`
	At      time.Time `json:"at"`
}

const subscriberBuffer = 64

// notifier fans events out to subscribers. Sends never block; a subscriber
// with a full buffer misses the event.
type notifier struct {
	subMu sync.RWMutex
	subs  map[chan Event]struct{}
}

// Subscribe returns a channel of events and a cleanup function. The caller
// must call cleanup when done; it closes the channel.
func (n *notifier) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	n.subMu.Lock()
	n.subs[ch] = struct{}{}
	n.subMu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			n.subMu.Lock()
			delete(n.subs, ch)
			n.subMu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

func (n *notifier) publish(evt Event) {
	n.subMu.RLock()
	defer n.subMu.RUnlock()
	for ch := range n.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
