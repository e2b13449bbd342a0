// Package room provides the room registry and the bounded multicast
// channel used for per-room message fan-out.
package room

import "sync"

// Room is a fan-out group. Every subscriber receives every message
// published after it subscribed, up to its own backlog capacity; a slow
// subscriber loses its oldest unread messages, other subscribers are
// unaffected, and publishers never block.
type Room struct {
	id       string
	capacity int

	mu      sync.Mutex
	subs    map[uint64]chan string
	nextSub uint64
	closed  bool
}

// newRoom creates a room with the given per-subscriber backlog capacity.
func newRoom(id string, capacity int) *Room {
	return &Room{
		id:       id,
		capacity: capacity,
		subs:     make(map[uint64]chan string),
	}
}

// ID returns the room id.
func (r *Room) ID() string {
	return r.id
}

// Subscription is a single subscriber's receive handle on a room.
type Subscription struct {
	room *Room
	id   uint64
	ch   chan string
}

// C returns the subscriber's receive channel.
func (s *Subscription) C() <-chan string {
	return s.ch
}

// Cancel unsubscribes from the room. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.room.unsubscribe(s.id)
}

// Subscribe registers a new subscriber. It returns false when the room has
// already been torn down; the caller should re-fetch the room from the
// registry and subscribe again.
func (r *Room) Subscribe() (*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false
	}

	id := r.nextSub
	r.nextSub++
	ch := make(chan string, r.capacity)
	r.subs[id] = ch

	return &Subscription{room: r, id: id, ch: ch}, true
}

// unsubscribe removes a subscriber. Unknown ids are a no-op.
func (r *Room) unsubscribe(id uint64) {
	r.mu.Lock()
	delete(r.subs, id)
	r.mu.Unlock()
}

// Publish delivers msg to every current subscriber. When a subscriber's
// backlog is full its oldest unread message is discarded to make room;
// this is the lossy-under-load policy, not an error.
func (r *Room) Publish(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range r.subs {
		select {
		case ch <- msg:
			continue
		default:
		}
		// Backlog full: drop the oldest unread message, then deliver.
		// The receiver may have drained concurrently, so both steps
		// stay non-blocking.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- msg:
		default:
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (r *Room) SubscriberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// closeIfEmpty marks the room closed when it has no subscribers, returning
// whether it did. A closed room rejects new subscribers permanently.
func (r *Room) closeIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.subs) > 0 || r.closed {
		return r.closed && len(r.subs) == 0
	}
	r.closed = true
	return true
}
