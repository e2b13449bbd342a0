package gateway

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/unhidra/gateway/internal/auth"
	"github.com/unhidra/gateway/internal/conn"
	"github.com/unhidra/gateway/internal/metrics"
	"github.com/unhidra/gateway/internal/observability"
	"github.com/unhidra/gateway/internal/room"
)

const (
	// subprotocolBearer is the negotiated subprotocol. Clients smuggle the
	// token through Sec-WebSocket-Protocol as "bearer, <token>" because
	// browser WebSocket clients cannot set arbitrary headers.
	subprotocolBearer = "bearer"

	// writeWait bounds a single outbound frame write.
	writeWait = 10 * time.Second
)

// handleUpgrade runs the admission pipeline for a new WebSocket request and,
// on success, upgrades and hands the socket to a session. Rejections happen
// before the upgrade so the client sees a plain HTTP status.
func (g *Gateway) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	addr := clientAddr(r)
	g.metrics.RecordAuthAttempt()

	if !g.admission.AllowAddress(addr) {
		g.metrics.RecordAuthFailure(metrics.ReasonRateLimitIP)
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	origin := r.Header.Get("Origin")
	if origin != "" && !g.isOriginAllowed(origin) {
		g.metrics.RecordAuthFailure(metrics.ReasonOriginNotAllowed)
		g.logger.Warn("origin rejected",
			observability.String("origin", origin),
			observability.String("address", addr),
		)
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	token := auth.ExtractProtocolToken(r.Header.Get("Sec-WebSocket-Protocol"))
	if token == "" {
		g.metrics.RecordAuthFailure(metrics.ReasonMissingToken)
		http.Error(w, "missing authentication token", http.StatusForbidden)
		return
	}

	claims, err := g.validator.Validate(r.Context(), token)
	if err != nil {
		g.metrics.RecordAuthFailure(metrics.ReasonInvalidToken)
		g.logger.Warn("token rejected",
			observability.String("address", addr),
			observability.Error(err),
		)
		http.Error(w, "invalid or expired token", http.StatusForbidden)
		return
	}

	if !g.admission.AllowUser(claims.Subject) {
		g.metrics.RecordAuthFailure(metrics.ReasonRateLimitUser)
		http.Error(w, "rate limit exceeded for user", http.StatusTooManyRequests)
		return
	}

	g.metrics.RecordAuthSuccess()

	rm, sub := g.rooms.Subscribe(claims.RoomID)

	connID := g.ids.Next()
	c := conn.NewConnection(connID, claims.Subject, claims.RoomID, addr).
		WithDeviceID(claims.DeviceID).
		WithDisplayName(claims.DisplayName).
		WithUserAgent(r.Header.Get("User-Agent"))
	g.conns.Register(c)

	upgrader := websocket.Upgrader{
		Subprotocols: []string{subprotocolBearer},
		// Origin was already checked against the allow-list above.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrader has already written the error response. Roll back the
		// registration so a failed upgrade leaves no trace.
		g.conns.Unregister(connID)
		g.admission.RemoveConnection(connID)
		g.rooms.Leave(rm, sub)
		g.logger.Warn("websocket upgrade failed",
			observability.String("address", addr),
			observability.Error(err),
		)
		return
	}

	g.logger.Info("connection established",
		observability.String("connection_id", connID),
		observability.String("user_id", claims.Subject),
		observability.String("room", claims.RoomID),
		observability.String("address", addr),
	)

	s := &session{
		gw:     g,
		ws:     ws,
		connID: connID,
		userID: claims.Subject,
		roomID: claims.RoomID,
		rm:     rm,
		sub:    sub,
		logger: g.logger.With(
			observability.String("connection_id", connID),
			observability.String("user_id", claims.Subject),
			observability.String("room", claims.RoomID),
		),
	}
	s.run(r.Context())
}

// session is one live duplex WebSocket connection: a read loop publishing
// inbound messages to the room and a write loop forwarding the room's
// fan-out to the peer.
type session struct {
	gw     *Gateway
	ws     *websocket.Conn
	connID string
	userID string
	roomID string
	rm     *room.Room
	sub    *room.Subscription
	logger observability.Logger
}

// run drives the session until either direction fails, then cleans up.
// Cleanup runs exactly once regardless of which side ended the session.
func (s *session) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	s.ws.SetPingHandler(func(appData string) error {
		s.logger.Debug("ping received")
		return s.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})
	s.ws.SetPongHandler(func(string) error {
		s.gw.conns.Update(s.connID, func(c *conn.Connection) { c.Touch() })
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writeLoop(ctx)
		// The write side ended first on a failure or cancellation;
		// closing the socket unblocks the blocked read.
		cancel()
		_ = s.ws.Close()
	}()

	s.readLoop(ctx)

	cancel()
	_ = s.ws.Close()
	<-done

	s.cleanup()
}

// readLoop consumes inbound frames until the peer closes or an I/O error
// occurs. Text and binary frames are published to the room; frames over the
// connection's message budget are dropped silently.
func (s *session) readLoop(ctx context.Context) {
	for {
		msgType, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("read error", observability.Error(err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		switch msgType {
		case websocket.TextMessage:
			s.publish(string(data))
		case websocket.BinaryMessage:
			s.publish(binaryEnvelope(data))
		}
	}
}

// publish applies the per-connection message limit and fans msg out to the
// room. Over-limit messages are dropped without feedback to the sender.
func (s *session) publish(msg string) {
	start := time.Now()

	if !s.gw.admission.AllowMessage(s.connID) {
		return
	}

	s.gw.conns.Update(s.connID, func(c *conn.Connection) { c.IncrementSent() })
	s.rm.Publish(msg)
	s.gw.metrics.RecordMessageSent()
	s.gw.metrics.RecordMessageLatency(time.Since(start))
}

// writeLoop forwards the room's fan-out to the peer until the context is
// cancelled or a write fails.
func (s *session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.sub.C():
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				s.logger.Debug("write error", observability.Error(err))
				return
			}
			s.gw.conns.Update(s.connID, func(c *conn.Connection) { c.IncrementReceived() })
			s.gw.metrics.RecordMessageReceived()
		}
	}
}

// cleanup unwinds the session: advance lifecycle state, deregister, drop the
// message bucket, and leave the room (tearing it down when this was the last
// subscriber).
func (s *session) cleanup() {
	s.gw.conns.Update(s.connID, func(c *conn.Connection) {
		c.Advance(conn.StateClosing)
		c.Advance(conn.StateClosed)
	})

	final, ok := s.gw.conns.Unregister(s.connID)
	s.gw.admission.RemoveConnection(s.connID)
	s.gw.rooms.Leave(s.rm, s.sub)

	if ok {
		s.logger.Info("connection closed",
			observability.Duration("duration", final.Duration()),
			observability.Uint64("messages_sent", final.MessagesSent),
			observability.Uint64("messages_received", final.MessagesReceived),
		)
	}
}

// binaryEnvelope wraps a binary payload in the JSON envelope used for
// republishing binary frames as text.
func binaryEnvelope(data []byte) string {
	return fmt.Sprintf(`{"type":"binary","data":"%s"}`, hex.EncodeToString(data))
}

// clientAddr extracts the client host from the request's remote address.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
