package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unhidra/gateway/internal/config"
)

const testSecret = "gateway-test-secret"

// mintToken signs an HS256 token for the given user and room.
func mintToken(t *testing.T, user, roomID string) string {
	t.Helper()

	b := jwt.NewBuilder().
		Subject(user).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Hour))
	if roomID != "" {
		b = b.Claim("room_id", roomID)
	}
	tok, err := b.Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(testSecret)))
	require.NoError(t, err)
	return string(signed)
}

// newTestGateway starts a gateway behind an httptest server.
func newTestGateway(t *testing.T, mutate func(*config.Config)) (*Gateway, *httptest.Server) {
	t.Helper()

	cfg := config.Default()
	cfg.JWTSecret = testSecret
	if mutate != nil {
		mutate(cfg)
	}

	gw, err := New(cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return gw, srv
}

// wsURL converts an httptest server URL into the ws:// upgrade endpoint.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

// dial opens a WebSocket connection carrying the token through the
// subprotocol header, the way browser clients do.
func dial(t *testing.T, srv *httptest.Server, token, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	header := http.Header{}
	if token != "" {
		header.Set("Sec-WebSocket-Protocol", "bearer, "+token)
	}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return d.Dial(wsURL(srv), header)
}

func TestConnectSuccess(t *testing.T) {
	gw, srv := newTestGateway(t, nil)

	ws, resp, err := dial(t, srv, mintToken(t, "alice", "room-1"), "")
	require.NoError(t, err)
	defer ws.Close()

	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	assert.Equal(t, "bearer", resp.Header.Get("Sec-WebSocket-Protocol"))
	assert.Equal(t, 1, gw.Connections().Len())
	assert.Equal(t, 1, gw.Rooms().Len())
}

func TestConnectMissingToken(t *testing.T) {
	gw, srv := newTestGateway(t, nil)

	_, resp, err := dial(t, srv, "", "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// A rejected handshake leaves no connection or room behind.
	assert.Equal(t, 0, gw.Connections().Len())
	assert.Equal(t, 0, gw.Rooms().Len())
}

func TestConnectInvalidToken(t *testing.T) {
	gw, srv := newTestGateway(t, nil)

	_, resp, err := dial(t, srv, "not-a-valid-token", "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, gw.Connections().Len())
}

func TestConnectOriginRejected(t *testing.T) {
	_, srv := newTestGateway(t, func(cfg *config.Config) {
		cfg.AllowedOrigins = []string{"https://app.example.com"}
	})

	token := mintToken(t, "alice", "room-1")

	_, resp, err := dial(t, srv, token, "https://evil.example.com")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// The allowed origin connects fine.
	ws, resp, err := dial(t, srv, token, "https://app.example.com")
	require.NoError(t, err)
	defer ws.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
}

func TestOriginReload(t *testing.T) {
	gw, srv := newTestGateway(t, func(cfg *config.Config) {
		cfg.AllowedOrigins = []string{"https://old.example.com"}
	})
	token := mintToken(t, "alice", "room-1")

	_, resp, err := dial(t, srv, token, "https://new.example.com")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	gw.SetAllowedOrigins([]string{"https://new.example.com"})

	ws, _, err := dial(t, srv, token, "https://new.example.com")
	require.NoError(t, err)
	ws.Close()
}

func TestConnectAddressRateLimited(t *testing.T) {
	_, srv := newTestGateway(t, func(cfg *config.Config) {
		cfg.RateLimit.AddressPerMinute = 2
		cfg.RateLimit.BurstMultiplier = 1
	})
	token := mintToken(t, "alice", "room-1")

	for i := 0; i < 2; i++ {
		ws, _, err := dial(t, srv, token, "")
		require.NoError(t, err, "connection %d should be admitted", i)
		defer ws.Close()
	}

	_, resp, err := dial(t, srv, token, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestConnectUserRateLimited(t *testing.T) {
	_, srv := newTestGateway(t, func(cfg *config.Config) {
		cfg.RateLimit.UserPerMinute = 1
		cfg.RateLimit.BurstMultiplier = 1
	})

	ws, _, err := dial(t, srv, mintToken(t, "alice", "room-1"), "")
	require.NoError(t, err)
	defer ws.Close()

	_, resp, err := dial(t, srv, mintToken(t, "alice", "room-1"), "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// A different user on the same address is unaffected.
	ws2, _, err := dial(t, srv, mintToken(t, "bob", "room-1"), "")
	require.NoError(t, err)
	ws2.Close()
}

func TestRoomFanOut(t *testing.T) {
	_, srv := newTestGateway(t, nil)

	a, _, err := dial(t, srv, mintToken(t, "alice", "shared"), "")
	require.NoError(t, err)
	defer a.Close()

	b, _, err := dial(t, srv, mintToken(t, "bob", "shared"), "")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("hello from alice")))

	// Fan-out includes the sender's own subscription.
	for _, peer := range []*websocket.Conn{a, b} {
		require.NoError(t, peer.SetReadDeadline(time.Now().Add(5*time.Second)))
		msgType, data, err := peer.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, msgType)
		assert.Equal(t, "hello from alice", string(data))
	}
}

func TestRoomIsolation(t *testing.T) {
	_, srv := newTestGateway(t, nil)

	a, _, err := dial(t, srv, mintToken(t, "alice", "room-a"), "")
	require.NoError(t, err)
	defer a.Close()

	b, _, err := dial(t, srv, mintToken(t, "bob", "room-b"), "")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("private")))

	require.NoError(t, b.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err = b.ReadMessage()
	assert.Error(t, err, "message must not cross room boundaries")
}

func TestBinaryEnvelope(t *testing.T) {
	_, srv := newTestGateway(t, nil)

	a, _, err := dial(t, srv, mintToken(t, "alice", "shared"), "")
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, []byte{0xde, 0xad, 0xbe, 0xef}))

	require.NoError(t, a.SetReadDeadline(time.Now().Add(5*time.Second)))
	msgType, data, err := a.ReadMessage()
	require.NoError(t, err)

	// Binary payloads are republished as a hex-encoded text envelope.
	assert.Equal(t, websocket.TextMessage, msgType)

	var envelope struct {
		Type string `json:"type"`
		Data string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &envelope))
	assert.Equal(t, "binary", envelope.Type)
	assert.Equal(t, "deadbeef", envelope.Data)
}

func TestDisconnectCleanup(t *testing.T) {
	gw, srv := newTestGateway(t, nil)

	a, _, err := dial(t, srv, mintToken(t, "alice", "shared"), "")
	require.NoError(t, err)
	b, _, err := dial(t, srv, mintToken(t, "bob", "shared"), "")
	require.NoError(t, err)

	require.Equal(t, 2, gw.Connections().Len())
	require.Equal(t, 1, gw.Rooms().Len())

	a.Close()
	require.Eventually(t, func() bool {
		return gw.Connections().Len() == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, gw.Rooms().Len(), "room survives while a subscriber remains")

	b.Close()
	require.Eventually(t, func() bool {
		return gw.Connections().Len() == 0 && gw.Rooms().Len() == 0
	}, 5*time.Second, 10*time.Millisecond, "last disconnect tears the room down")
}

func TestPerUserRoomFallback(t *testing.T) {
	gw, srv := newTestGateway(t, nil)

	// Alice's token carries no room claim, so she lands in "room:alice".
	a, _, err := dial(t, srv, mintToken(t, "alice", ""), "")
	require.NoError(t, err)
	defer a.Close()

	// Bob names the fallback room explicitly and shares it with alice.
	b, _, err := dial(t, srv, mintToken(t, "bob", "room:alice"), "")
	require.NoError(t, err)
	defer b.Close()

	require.Equal(t, 1, gw.Rooms().Len())

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("fallback works")))
	require.NoError(t, b.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := b.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "fallback works", string(data))
}

func TestMessageRateLimitDropsSilently(t *testing.T) {
	_, srv := newTestGateway(t, func(cfg *config.Config) {
		cfg.RateLimit.MessagesPerSecond = 1
		cfg.RateLimit.BurstMultiplier = 1
	})

	a, _, err := dial(t, srv, mintToken(t, "alice", "shared"), "")
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("first")))
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("second")))

	require.NoError(t, a.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := a.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	// The over-budget message was dropped, not queued; the connection
	// stays open.
	require.NoError(t, a.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err = a.ReadMessage()
	assert.Error(t, err)
}

func TestHealthEndpoints(t *testing.T) {
	_, srv := newTestGateway(t, nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := newTestGateway(t, nil)

	// One failed handshake so the failure counter has a sample.
	_, _, err := dial(t, srv, "", "")
	require.Error(t, err)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)

	assert.Contains(t, body, "gateway_auth_attempts_total 1")
	assert.Contains(t, body, `gateway_auth_failures_total{reason="missing_token"} 1`)
}
