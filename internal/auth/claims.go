// Package auth provides the token validation boundary for the gateway.
// The gateway never mints or parses credentials beyond this package; it
// consumes validated claims only.
package auth

import "time"

// Claims is the validated identity and routing information extracted from
// a bearer credential. Immutable once returned by a Validator.
type Claims struct {
	// Subject is the authenticated user id.
	Subject string

	// RoomID is the fan-out room assigned to this identity.
	RoomID string

	// DeviceID identifies the client device, when the token carries one.
	DeviceID string

	// DisplayName is a human-readable name, when the token carries one.
	DisplayName string

	// Expiry is the token expiration time.
	Expiry time.Time
}
