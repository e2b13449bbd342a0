package auth

import "strings"

// ExtractProtocolToken extracts a bearer credential from a
// Sec-WebSocket-Protocol header value.
//
// Two shapes are accepted:
//
//	"bearer, <token>"  - standard form from the browser WebSocket API
//	"<token>"          - bare token from non-browser clients
//
// Anything else (empty value, a lone "bearer" with nothing following)
// yields an empty string.
func ExtractProtocolToken(header string) string {
	parts := strings.Split(header, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}

	if len(parts) == 1 && parts[0] != "" && !strings.EqualFold(parts[0], "bearer") {
		return parts[0]
	}

	return ""
}
