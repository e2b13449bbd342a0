// Package metrics provides the Prometheus recorder for gateway
// observability. Each Recorder owns its own registry so multiple gateway
// instances can coexist in one process (and in tests) without colliding.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Auth failure reasons recorded by the gateway.
const (
	ReasonRateLimitIP      = "rate_limit_ip"
	ReasonRateLimitUser    = "rate_limit_user"
	ReasonOriginNotAllowed = "origin_not_allowed"
	ReasonMissingToken     = "missing_token"
	ReasonInvalidToken     = "invalid_token"
)

// Rate limit hit types.
const (
	LimitTypeIP      = "ip"
	LimitTypeUser    = "user"
	LimitTypeMessage = "message"
)

// Recorder holds all gateway Prometheus metrics.
type Recorder struct {
	registry *prometheus.Registry

	ConnectionsTotal  prometheus.Counter
	ConnectionsActive prometheus.Gauge
	MessagesTotal     *prometheus.CounterVec
	MessageLatency    prometheus.Histogram
	AuthAttempts      prometheus.Counter
	AuthSuccesses     prometheus.Counter
	AuthFailures      *prometheus.CounterVec
	RateLimitHits     *prometheus.CounterVec
	RoomsActive       prometheus.Gauge
	RoomSubscribers   *prometheus.GaugeVec
	RoomsCreated      prometheus.Counter
	RoomsDestroyed    prometheus.Counter
}

// NewRecorder creates a Recorder backed by its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_connections_total",
			Help: "Total number of WebSocket connections",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_connections_active",
			Help: "Number of currently active connections",
		}),
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_messages_total",
			Help: "Total number of messages processed",
		}, []string{"direction"}),
		MessageLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_message_latency_seconds",
			Help:    "Message processing latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		AuthAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_auth_attempts_total",
			Help: "Total authentication attempts",
		}),
		AuthSuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_auth_successes_total",
			Help: "Successful authentication attempts",
		}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_auth_failures_total",
			Help: "Failed authentication attempts",
		}, []string{"reason"}),
		RateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limit_hits_total",
			Help: "Rate limit violations",
		}, []string{"type"}),
		RoomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_rooms_active",
			Help: "Number of active rooms",
		}),
		RoomSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_room_subscribers",
			Help: "Number of subscribers per room",
		}, []string{"room"}),
		RoomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_rooms_created_total",
			Help: "Total number of rooms created",
		}),
		RoomsDestroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_rooms_destroyed_total",
			Help: "Total number of rooms destroyed",
		}),
	}

	r.register()
	r.Init()
	return r
}

// register registers all collectors with the recorder's registry.
// AlreadyRegisteredError is tolerated so a recorder can be rebuilt on
// config reload without panicking.
func (r *Recorder) register() {
	for _, c := range r.collectors() {
		if err := r.registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

// collectors returns all metric collectors for registration.
func (r *Recorder) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.ConnectionsTotal,
		r.ConnectionsActive,
		r.MessagesTotal,
		r.MessageLatency,
		r.AuthAttempts,
		r.AuthSuccesses,
		r.AuthFailures,
		r.RateLimitHits,
		r.RoomsActive,
		r.RoomSubscribers,
		r.RoomsCreated,
		r.RoomsDestroyed,
	}
}

// Init pre-initializes label combinations with zero values so the metric
// lines appear in /metrics output immediately after startup. Prometheus
// *Vec types only emit lines after WithLabelValues() is called at least
// once. Idempotent.
func (r *Recorder) Init() {
	for _, d := range []string{"sent", "received"} {
		r.MessagesTotal.WithLabelValues(d)
	}
	for _, reason := range []string{
		ReasonRateLimitIP, ReasonRateLimitUser,
		ReasonOriginNotAllowed, ReasonMissingToken, ReasonInvalidToken,
	} {
		r.AuthFailures.WithLabelValues(reason)
	}
	for _, t := range []string{LimitTypeIP, LimitTypeUser, LimitTypeMessage} {
		r.RateLimitHits.WithLabelValues(t)
	}
}

// Handler returns an HTTP handler exposing the registry in Prometheus text
// format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, primarily for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RecordConnection records a new WebSocket connection.
func (r *Recorder) RecordConnection() {
	r.ConnectionsTotal.Inc()
	r.ConnectionsActive.Inc()
}

// RecordDisconnection records a connection closed.
func (r *Recorder) RecordDisconnection() {
	r.ConnectionsActive.Dec()
}

// RecordMessageSent records a message published by a client.
func (r *Recorder) RecordMessageSent() {
	r.MessagesTotal.WithLabelValues("sent").Inc()
}

// RecordMessageReceived records a message forwarded to a client.
func (r *Recorder) RecordMessageReceived() {
	r.MessagesTotal.WithLabelValues("received").Inc()
}

// RecordMessageLatency records message processing latency.
func (r *Recorder) RecordMessageLatency(d time.Duration) {
	r.MessageLatency.Observe(d.Seconds())
}

// RecordAuthAttempt records an authentication attempt.
func (r *Recorder) RecordAuthAttempt() {
	r.AuthAttempts.Inc()
}

// RecordAuthSuccess records a successful authentication.
func (r *Recorder) RecordAuthSuccess() {
	r.AuthSuccesses.Inc()
}

// RecordAuthFailure records a failed authentication with its reason.
func (r *Recorder) RecordAuthFailure(reason string) {
	r.AuthFailures.WithLabelValues(reason).Inc()
}

// RecordRateLimitHit records a rate limit violation by limiter type.
func (r *Recorder) RecordRateLimitHit(limitType string) {
	r.RateLimitHits.WithLabelValues(limitType).Inc()
}

// RecordRoomCreated records a room creation.
func (r *Recorder) RecordRoomCreated() {
	r.RoomsCreated.Inc()
	r.RoomsActive.Inc()
}

// RecordRoomDestroyed records a room teardown.
func (r *Recorder) RecordRoomDestroyed(roomID string) {
	r.RoomsDestroyed.Inc()
	r.RoomsActive.Dec()
	r.RoomSubscribers.DeleteLabelValues(roomID)
}

// SetRoomSubscribers records the subscriber count for a room.
func (r *Recorder) SetRoomSubscribers(roomID string, count int) {
	r.RoomSubscribers.WithLabelValues(roomID).Set(float64(count))
}
