// Package conn provides the connection metadata model and the connection
// registry for the gateway.
package conn

import (
	"fmt"
	"sync/atomic"
	"time"
)

// State is a connection's lifecycle state. Transitions are one-directional:
// Connecting -> Active -> Closing -> Closed. No state is revisited.
type State int

const (
	// StateConnecting means the credential is not yet verified.
	StateConnecting State = iota
	// StateActive means the connection is registered and the duplex loop
	// is running.
	StateActive
	// StateClosing means the loop is unwinding after a close frame or a
	// fatal I/O error.
	StateClosing
	// StateClosed is terminal: the connection is deregistered.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is the metadata for one live duplex session. Mutations go
// through Registry.Update, which serializes access per entry; the methods
// below assume that protection.
type Connection struct {
	// ID is the opaque connection identifier.
	ID string

	// UserID is the authenticated user id from token claims.
	UserID string

	// DeviceID identifies the client device, when known.
	DeviceID string

	// RoomID is the room this connection is subscribed to.
	RoomID string

	// DisplayName is a human-readable name from token claims.
	DisplayName string

	// Address is the client network address.
	Address string

	// UserAgent is the client's User-Agent header, when present.
	UserAgent string

	// ConnectedAt is when the connection was established.
	ConnectedAt time.Time

	// LastActivity is updated on any inbound or outbound traffic.
	LastActivity time.Time

	// MessagesSent counts messages published by this connection.
	// Monotonic, never reset.
	MessagesSent uint64

	// MessagesReceived counts messages forwarded to this connection.
	// Monotonic, never reset.
	MessagesReceived uint64

	// State is the lifecycle state.
	State State
}

// NewConnection creates connection metadata in the Active state.
func NewConnection(id, userID, roomID, address string) *Connection {
	now := time.Now()
	return &Connection{
		ID:           id,
		UserID:       userID,
		RoomID:       roomID,
		Address:      address,
		ConnectedAt:  now,
		LastActivity: now,
		State:        StateActive,
	}
}

// WithDeviceID sets the device id.
func (c *Connection) WithDeviceID(deviceID string) *Connection {
	c.DeviceID = deviceID
	return c
}

// WithDisplayName sets the display name.
func (c *Connection) WithDisplayName(name string) *Connection {
	c.DisplayName = name
	return c
}

// WithUserAgent sets the user agent.
func (c *Connection) WithUserAgent(ua string) *Connection {
	c.UserAgent = ua
	return c
}

// Touch updates the last-activity timestamp.
func (c *Connection) Touch() {
	c.LastActivity = time.Now()
}

// IncrementSent increments the sent counter and touches the connection.
func (c *Connection) IncrementSent() {
	c.MessagesSent++
	c.Touch()
}

// IncrementReceived increments the received counter and touches the
// connection.
func (c *Connection) IncrementReceived() {
	c.MessagesReceived++
	c.Touch()
}

// Advance moves the connection to a later lifecycle state. Backward moves
// are ignored, keeping transitions one-directional.
func (c *Connection) Advance(s State) {
	if s > c.State {
		c.State = s
	}
}

// Duration returns how long the connection has been established.
func (c *Connection) Duration() time.Duration {
	return time.Since(c.ConnectedAt)
}

// IDGenerator produces time-ordered connection ids unique within the
// process. Each gateway instance owns its own generator.
type IDGenerator struct {
	counter atomic.Uint64
}

// NewIDGenerator creates an id generator.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

// Next returns a new connection id of the form
// "conn_<unix-millis-hex>_<counter-hex>".
func (g *IDGenerator) Next() string {
	n := g.counter.Add(1) - 1
	return fmt.Sprintf("conn_%x_%x", time.Now().UnixMilli(), n)
}
