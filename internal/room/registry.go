package room

import (
	"sync"

	"github.com/unhidra/gateway/internal/observability"
)

// Events receives room lifecycle notifications. Implemented by the metrics
// recorder; a nil Events disables recording.
type Events interface {
	RecordRoomCreated()
	RecordRoomDestroyed(roomID string)
	SetRoomSubscribers(roomID string, count int)
}

// Registry is the authoritative map of room id to room. Rooms are created
// lazily on first subscriber and torn down when the last one leaves.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	capacity int
	logger   observability.Logger
	events   Events
}

// RegistryOption is a functional option for configuring the registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) RegistryOption {
	return func(g *Registry) {
		g.logger = logger
	}
}

// WithEvents sets the lifecycle event sink.
func WithEvents(events Events) RegistryOption {
	return func(g *Registry) {
		g.events = events
	}
}

// NewRegistry creates a room registry whose rooms carry the given
// per-subscriber backlog capacity.
func NewRegistry(capacity int, opts ...RegistryOption) *Registry {
	g := &Registry{
		rooms:    make(map[string]*Room),
		capacity: capacity,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GetOrCreate returns the room for roomID, creating it if absent.
// Concurrent calls for the same unseen id converge on a single room.
func (g *Registry) GetOrCreate(roomID string) *Room {
	g.mu.RLock()
	r, ok := g.rooms[roomID]
	g.mu.RUnlock()
	if ok {
		return r
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.rooms[roomID]; ok {
		return r
	}

	r = newRoom(roomID, g.capacity)
	g.rooms[roomID] = r

	g.logger.Info("room created", observability.String("room", roomID))
	if g.events != nil {
		g.events.RecordRoomCreated()
	}
	return r
}

// Subscribe joins roomID, creating the room if needed. It retries when it
// loses the race against a concurrent teardown, so the caller always ends
// up subscribed to the live room instance.
func (g *Registry) Subscribe(roomID string) (*Room, *Subscription) {
	for {
		r := g.GetOrCreate(roomID)
		if sub, ok := r.Subscribe(); ok {
			if g.events != nil {
				g.events.SetRoomSubscribers(roomID, r.SubscriberCount())
			}
			return r, sub
		}
		// The room closed between lookup and subscribe; a fresh
		// instance replaces it on the next iteration.
	}
}

// Leave cancels the subscription and tears the room down when it was the
// last one. Safe against a new subscriber racing in: teardown is skipped
// when the subscriber count is no longer zero.
func (g *Registry) Leave(r *Room, sub *Subscription) {
	sub.Cancel()
	if g.events != nil {
		g.events.SetRoomSubscribers(r.ID(), r.SubscriberCount())
	}
	g.RemoveIfEmpty(r.ID())
}

// RemoveIfEmpty removes the room when it has no subscribers, returning
// whether it was removed. Removing an absent room is a no-op.
func (g *Registry) RemoveIfEmpty(roomID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok {
		return false
	}
	if !r.closeIfEmpty() {
		return false
	}
	delete(g.rooms, roomID)

	g.logger.Info("room removed", observability.String("room", roomID))
	if g.events != nil {
		g.events.RecordRoomDestroyed(roomID)
	}
	return true
}

// Sweep removes every empty room and returns how many were removed.
// Used by the periodic cleanup task for rooms whose eager teardown at
// disconnect was skipped by a racing subscriber that then left.
func (g *Registry) Sweep() int {
	g.mu.RLock()
	ids := make([]string, 0, len(g.rooms))
	for id := range g.rooms {
		ids = append(ids, id)
	}
	g.mu.RUnlock()

	n := 0
	for _, id := range ids {
		if g.RemoveIfEmpty(id) {
			n++
		}
	}
	return n
}

// Len returns the number of live rooms.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}
