package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ErrInvalidToken indicates a token that failed signature verification,
// is malformed, or has expired.
var ErrInvalidToken = errors.New("invalid or expired token")

// Private claim names recognized in gateway tokens.
const (
	claimRoomID      = "room_id"
	claimDeviceID    = "device_id"
	claimDisplayName = "display_name"
)

// roomPrefix derives a per-user room id when the token carries no room
// claim.
const roomPrefix = "room:"

// Validator verifies an opaque bearer credential and returns identity
// claims.
type Validator interface {
	Validate(ctx context.Context, token string) (*Claims, error)
}

// hmacValidator validates HS256-signed JWTs with a shared secret.
type hmacValidator struct {
	secret []byte
}

// NewHMACValidator creates a Validator for HS256 tokens signed with the
// given shared secret.
func NewHMACValidator(secret string) (Validator, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret must not be empty")
	}
	return &hmacValidator{secret: []byte(secret)}, nil
}

// Validate verifies the token signature and expiry and extracts claims.
// The subject claim is required; the room id falls back to a per-user room
// when the token carries none.
func (v *hmacValidator) Validate(ctx context.Context, token string) (*Claims, error) {
	tok, err := jwt.Parse([]byte(token),
		jwt.WithContext(ctx),
		jwt.WithKey(jwa.HS256, v.secret),
		jwt.WithValidate(true),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub := tok.Subject()
	if sub == "" {
		return nil, fmt.Errorf("%w: missing subject claim", ErrInvalidToken)
	}

	claims := &Claims{
		Subject:     sub,
		RoomID:      roomPrefix + sub,
		DeviceID:    stringClaim(tok, claimDeviceID),
		DisplayName: stringClaim(tok, claimDisplayName),
		Expiry:      tok.Expiration(),
	}
	if room := stringClaim(tok, claimRoomID); room != "" {
		claims.RoomID = room
	}
	return claims, nil
}

// stringClaim returns the named private claim as a string, or "" when the
// claim is absent or not a string.
func stringClaim(tok jwt.Token, name string) string {
	v, ok := tok.Get(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
