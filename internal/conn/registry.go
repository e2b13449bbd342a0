package conn

import (
	"sync"

	"github.com/unhidra/gateway/internal/observability"
)

// Events receives connection lifecycle notifications. Implemented by the
// metrics recorder; a nil Events disables recording.
type Events interface {
	RecordConnection()
	RecordDisconnection()
}

// record wraps a connection with its own lock so unrelated connections
// never serialize against each other.
type record struct {
	mu   sync.Mutex
	conn *Connection
}

// Registry is the authoritative map of connection id to connection
// metadata. All mutation goes through Update, which holds only the
// entry's lock.
type Registry struct {
	entries sync.Map // connection id -> *record
	count   int64
	mu      sync.Mutex // guards count only
	logger  observability.Logger
	events  Events
}

// RegistryOption is a functional option for configuring the registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithEvents sets the lifecycle event sink.
func WithEvents(events Events) RegistryOption {
	return func(r *Registry) {
		r.events = events
	}
}

// NewRegistry creates a connection registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register inserts the connection. Registering an id twice overwrites the
// previous entry; ids from IDGenerator never collide in practice.
func (r *Registry) Register(c *Connection) {
	_, loaded := r.entries.Swap(c.ID, &record{conn: c})
	if !loaded {
		r.addCount(1)
		if r.events != nil {
			r.events.RecordConnection()
		}
	}
	r.logger.Debug("connection registered",
		observability.String("connection_id", c.ID),
	)
}

// Unregister removes the connection and returns a copy of its final
// metadata. Removing an absent id is a no-op returning false.
func (r *Registry) Unregister(id string) (Connection, bool) {
	v, loaded := r.entries.LoadAndDelete(id)
	if !loaded {
		return Connection{}, false
	}
	r.addCount(-1)
	if r.events != nil {
		r.events.RecordDisconnection()
	}

	rec := v.(*record)
	rec.mu.Lock()
	snapshot := *rec.conn
	rec.mu.Unlock()

	r.logger.Debug("connection unregistered",
		observability.String("connection_id", id),
	)
	return snapshot, true
}

// Update applies fn to the connection identified by id under the entry's
// lock. Updating an absent id is a no-op returning false.
func (r *Registry) Update(id string, fn func(*Connection)) bool {
	v, ok := r.entries.Load(id)
	if !ok {
		return false
	}
	rec := v.(*record)
	rec.mu.Lock()
	fn(rec.conn)
	rec.mu.Unlock()
	return true
}

// Get returns a copy of the connection's metadata.
func (r *Registry) Get(id string) (Connection, bool) {
	v, ok := r.entries.Load(id)
	if !ok {
		return Connection{}, false
	}
	rec := v.(*record)
	rec.mu.Lock()
	snapshot := *rec.conn
	rec.mu.Unlock()
	return snapshot, true
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.count)
}

// addCount adjusts the registered-connection count.
func (r *Registry) addCount(delta int64) {
	r.mu.Lock()
	r.count += delta
	r.mu.Unlock()
}
