package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/unhidra/gateway/internal/observability"
)

// Default intervals for the background report loop.
const (
	// DefaultReportInterval is how often bucket counts are logged.
	DefaultReportInterval = time.Minute

	// DefaultConnectionTTL is how long an unused connection bucket may
	// linger before eviction. Connection buckets are normally removed at
	// disconnect; the TTL only reclaims buckets whose sessions leaked.
	DefaultConnectionTTL = 10 * time.Minute
)

// Config holds admission rates for the three limiter families.
type Config struct {
	// AddressPerMinute is connection admissions per client address per
	// minute.
	AddressPerMinute int

	// UserPerMinute is connection admissions per authenticated user per
	// minute.
	UserPerMinute int

	// MessagesPerSecond is inbound messages per connection per second.
	MessagesPerSecond int

	// BurstMultiplier scales each steady rate into the bucket capacity.
	BurstMultiplier int
}

// HitRecorder receives rate limit violation events. Implemented by the
// metrics recorder; a nil HitRecorder disables recording.
type HitRecorder interface {
	RecordRateLimitHit(limitType string)
}

// Admission is the gateway's admission controller: one token-bucket family
// per limiter kind, each keyed independently.
type Admission struct {
	address    *keyedLimiter
	user       *keyedLimiter
	connection *keyedLimiter

	logger  observability.Logger
	hits    HitRecorder
	connTTL time.Duration
}

// Option is a functional option for configuring Admission.
type Option func(*Admission)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(a *Admission) {
		a.logger = logger
	}
}

// WithHitRecorder sets the recorder for rate limit violations.
func WithHitRecorder(hits HitRecorder) Option {
	return func(a *Admission) {
		a.hits = hits
	}
}

// WithConnectionTTL overrides the eviction TTL for leaked connection
// buckets.
func WithConnectionTTL(ttl time.Duration) Option {
	return func(a *Admission) {
		a.connTTL = ttl
	}
}

// New creates an admission controller from the given configuration.
func New(cfg Config, opts ...Option) *Admission {
	a := &Admission{
		address: newKeyedLimiter(
			rate.Limit(float64(cfg.AddressPerMinute)/60.0),
			cfg.AddressPerMinute*cfg.BurstMultiplier,
		),
		user: newKeyedLimiter(
			rate.Limit(float64(cfg.UserPerMinute)/60.0),
			cfg.UserPerMinute*cfg.BurstMultiplier,
		),
		connection: newKeyedLimiter(
			rate.Limit(float64(cfg.MessagesPerSecond)),
			cfg.MessagesPerSecond*cfg.BurstMultiplier,
		),
		logger:  observability.NopLogger(),
		connTTL: DefaultConnectionTTL,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.logger.Info("admission controller initialized",
		observability.Int("address_per_minute", cfg.AddressPerMinute),
		observability.Int("user_per_minute", cfg.UserPerMinute),
		observability.Int("messages_per_second", cfg.MessagesPerSecond),
		observability.Int("burst_multiplier", cfg.BurstMultiplier),
	)
	return a
}

// AllowAddress reports whether the client address may open a connection.
func (a *Admission) AllowAddress(addr string) bool {
	if a.address.allow(addr) {
		return true
	}
	a.logger.Warn("address rate limit exceeded",
		observability.String("address", addr),
	)
	a.recordHit("ip")
	return false
}

// AllowUser reports whether the authenticated user may open a connection.
func (a *Admission) AllowUser(userID string) bool {
	if a.user.allow(userID) {
		return true
	}
	a.logger.Warn("user rate limit exceeded",
		observability.String("user", userID),
	)
	a.recordHit("user")
	return false
}

// AllowMessage reports whether the connection may publish a message.
func (a *Admission) AllowMessage(connID string) bool {
	if a.connection.allow(connID) {
		return true
	}
	a.logger.Warn("message rate limit exceeded",
		observability.String("connection_id", connID),
	)
	a.recordHit("message")
	return false
}

// RemoveConnection deletes the message bucket of a disconnected
// connection. Removing an absent bucket is a no-op.
func (a *Admission) RemoveConnection(connID string) {
	a.connection.remove(connID)
}

// ConnectionBuckets returns the number of live connection buckets.
func (a *Admission) ConnectionBuckets() int {
	return a.connection.size()
}

// Run reports bucket counts periodically and evicts connection buckets
// whose sessions leaked. Address and user buckets are never evicted; their
// counts are reported for operators to watch. Run blocks until the context
// is cancelled.
func (a *Admission) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := a.connection.evictIdle(a.connTTL)
			a.logger.Info("rate limiter state",
				observability.Int("address_buckets", a.address.size()),
				observability.Int("user_buckets", a.user.size()),
				observability.Int("connection_buckets", a.connection.size()),
				observability.Int("connection_buckets_evicted", evicted),
			)
		}
	}
}

// recordHit forwards a violation to the hit recorder if one is set.
func (a *Admission) recordHit(limitType string) {
	if a.hits != nil {
		a.hits.RecordRateLimitHit(limitType)
	}
}
