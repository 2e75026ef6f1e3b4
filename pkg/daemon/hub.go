package daemon

import (
	"context"
	"sync"

	"github.com/codemodehq/codemode/pkg/logger"
)

// subscriptionBuffer is each subscriber's queue depth. A subscriber that
// falls this far behind starts losing events; there is no replay.
const subscriptionBuffer = 64

// Hub fans daemon events out to per-user subscribers. It implements the
// fire-and-forget half of the event contract: publishing never blocks a
// runner, and a slow or absent subscriber loses events rather than
// stalling the run.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

// Subscription is one live listener for a user's events.
type Subscription struct {
	userID string
	ch     chan Event
}

// Events returns the channel events arrive on. It is closed when the
// subscription is cancelled or the hub shuts down.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: map[string]map[*Subscription]struct{}{}}
}

// Subscribe registers a listener for one user's events. Subscribing to a
// closed hub yields an already-closed channel.
func (h *Hub) Subscribe(userID string) *Subscription {
	sub := &Subscription{userID: userID, ch: make(chan Event, subscriptionBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	if h.subs[userID] == nil {
		h.subs[userID] = map[*Subscription]struct{}{}
	}
	h.subs[userID][sub] = struct{}{}
	return sub
}

// Unsubscribe removes a listener and closes its channel. Calling it twice
// is safe.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sub.userID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.userID)
	}
	close(sub.ch)
}

// UserSink returns a Sink that fans events out to one user's subscribers.
// Handing it to StartDaemon routes that daemon's events to the user.
func (h *Hub) UserSink(userID string) Sink {
	return SinkFunc(func(_ context.Context, event Event) error {
		h.publish(userID, event)
		return nil
	})
}

// publish delivers an event to every subscriber of one user without
// blocking. Full subscriber queues drop the event.
func (h *Hub) publish(userID string, event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[userID] {
		select {
		case sub.ch <- event:
		default:
			logger.Debugf("Dropping %s event for user %s: subscriber queue full", event.Type, userID)
		}
	}
}

// Close shuts every subscription down. Later publishes become no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, set := range h.subs {
		for sub := range set {
			close(sub.ch)
		}
	}
	h.subs = map[string]map[*Subscription]struct{}{}
}
