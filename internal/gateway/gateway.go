// Package gateway wires the gateway components together and serves the
// WebSocket upgrade endpoint plus the health and metrics surface.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/unhidra/gateway/internal/auth"
	"github.com/unhidra/gateway/internal/config"
	"github.com/unhidra/gateway/internal/conn"
	"github.com/unhidra/gateway/internal/health"
	"github.com/unhidra/gateway/internal/metrics"
	"github.com/unhidra/gateway/internal/observability"
	"github.com/unhidra/gateway/internal/ratelimit"
	"github.com/unhidra/gateway/internal/room"
)

// sweepInterval is how often empty rooms are swept and limiter state is
// reported.
const sweepInterval = time.Minute

// Gateway owns all gateway state: registries, limiters, metrics, and the
// HTTP engine. Multiple independent instances can coexist in one process.
type Gateway struct {
	logger    observability.Logger
	metrics   *metrics.Recorder
	admission *ratelimit.Admission
	validator auth.Validator
	rooms     *room.Registry
	conns     *conn.Registry
	ids       *conn.IDGenerator
	checker   *health.Checker
	engine    *gin.Engine

	instanceID string
	addr       string
	shutdown   time.Duration

	originMu sync.RWMutex
	origins  []string

	server *http.Server
}

// Option is a functional option for configuring the gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithValidator overrides the token validator, primarily for tests.
func WithValidator(v auth.Validator) Option {
	return func(g *Gateway) {
		g.validator = v
	}
}

// New creates a gateway from the given configuration.
func New(cfg *config.Config, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		logger:     observability.NopLogger(),
		instanceID: uuid.NewString(),
		addr:       cfg.Addr,
		shutdown:   cfg.ShutdownTimeout,
		origins:    cfg.AllowedOrigins,
		ids:        conn.NewIDGenerator(),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.logger = g.logger.With(observability.String("instance_id", g.instanceID))

	if g.validator == nil {
		v, err := auth.NewHMACValidator(cfg.JWTSecret)
		if err != nil {
			return nil, err
		}
		g.validator = v
	}

	g.metrics = metrics.NewRecorder()
	g.admission = ratelimit.New(ratelimit.Config{
		AddressPerMinute:  cfg.RateLimit.AddressPerMinute,
		UserPerMinute:     cfg.RateLimit.UserPerMinute,
		MessagesPerSecond: cfg.RateLimit.MessagesPerSecond,
		BurstMultiplier:   cfg.RateLimit.BurstMultiplier,
	},
		ratelimit.WithLogger(g.logger),
		ratelimit.WithHitRecorder(g.metrics),
	)
	g.rooms = room.NewRegistry(cfg.RoomChannelCapacity,
		room.WithLogger(g.logger),
		room.WithEvents(g.metrics),
	)
	g.conns = conn.NewRegistry(
		conn.WithLogger(g.logger),
		conn.WithEvents(g.metrics),
	)

	g.checker = health.NewChecker(g.instanceID)
	g.checker.RegisterCheck("token_validator", func() health.Check {
		if g.validator == nil {
			return health.Check{Status: health.StatusUnhealthy, Message: "no validator configured"}
		}
		return health.Check{Status: health.StatusHealthy}
	})
	g.checker.RegisterCheck("rate_limiter", func() health.Check {
		return health.Check{
			Status:  health.StatusHealthy,
			Message: fmt.Sprintf("%d connection buckets", g.admission.ConnectionBuckets()),
		}
	})

	g.buildEngine()
	return g, nil
}

// buildEngine constructs the gin engine and routes.
func (g *Gateway) buildEngine() {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/ws", gin.WrapF(g.handleUpgrade))
	engine.GET("/healthz", gin.WrapF(g.checker.HealthHandler()))
	engine.GET("/readyz", gin.WrapF(g.checker.ReadinessHandler()))
	engine.GET("/metrics", gin.WrapH(g.metrics.Handler()))

	g.engine = engine
}

// Handler exposes the HTTP handler, primarily for tests.
func (g *Gateway) Handler() http.Handler {
	return g.engine
}

// Connections exposes the connection registry, primarily for tests.
func (g *Gateway) Connections() *conn.Registry {
	return g.conns
}

// Rooms exposes the room registry, primarily for tests.
func (g *Gateway) Rooms() *room.Registry {
	return g.rooms
}

// Metrics exposes the metrics recorder, primarily for tests.
func (g *Gateway) Metrics() *metrics.Recorder {
	return g.metrics
}

// SetAllowedOrigins replaces the Origin allow-list at runtime. Used by the
// configuration watcher.
func (g *Gateway) SetAllowedOrigins(origins []string) {
	g.originMu.Lock()
	g.origins = origins
	g.originMu.Unlock()

	g.logger.Info("origin allow-list updated",
		observability.Int("origins", len(origins)),
	)
}

// isOriginAllowed reports whether the Origin header value is accepted.
// An empty allow-list accepts every origin.
func (g *Gateway) isOriginAllowed(origin string) bool {
	g.originMu.RLock()
	defer g.originMu.RUnlock()

	if len(g.origins) == 0 {
		return true
	}
	for _, o := range g.origins {
		if o == origin {
			return true
		}
	}
	return false
}

// Run serves the gateway until the context is cancelled, then shuts down
// gracefully. Background tasks (limiter reporting, empty-room sweep) stop
// with the context.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.admission.Run(ctx, sweepInterval)
	go g.sweepRooms(ctx)

	g.server = &http.Server{
		Addr:              g.addr,
		Handler:           g.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("gateway listening", observability.String("addr", g.addr))
		errCh <- g.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), g.shutdown)
	defer shutdownCancel()

	g.logger.Info("gateway shutting down")
	if err := g.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// sweepRooms periodically removes rooms that became empty without an eager
// teardown.
func (g *Gateway) sweepRooms(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := g.rooms.Sweep(); n > 0 {
				g.logger.Info("swept empty rooms", observability.Int("removed", n))
			}
		}
	}
}
