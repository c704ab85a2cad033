package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the relay server.
//
// Naming convention: namespace_subsystem_name
// - namespace: fusion_relay (application-level grouping)
// - subsystem: websocket, room, listener, bus (feature-level grouping)
// - name: specific metric (connections_active, frames_total, etc.)

var (
	// ActiveConnections tracks the current number of live WebSocket sessions.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fusion_relay",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket sessions",
	})

	// AcceptedConnectionsTotal counts every TCP connection the listener accepted.
	AcceptedConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fusion_relay",
		Subsystem: "listener",
		Name:      "accepted_connections_total",
		Help:      "Total TCP connections accepted since startup",
	})

	// ActiveRooms tracks the current number of live rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fusion_relay",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomPlayers tracks the number of players in each room.
	RoomPlayers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fusion_relay",
		Subsystem: "room",
		Name:      "players_count",
		Help:      "Number of players in each room",
	}, []string{"room_name"})

	// FramesTotal counts processed WebSocket frames by type and outcome.
	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fusion_relay",
		Subsystem: "websocket",
		Name:      "frames_total",
		Help:      "Total WebSocket frames processed",
	}, []string{"frame_type", "status"})

	// FrameProcessingDuration tracks the time spent handling one inbound frame.
	FrameProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fusion_relay",
		Subsystem: "websocket",
		Name:      "frame_processing_seconds",
		Help:      "Time spent processing WebSocket frames",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
	}, []string{"frame_type"})

	// CircuitBreakerState reports the bus breaker state (0 closed, 1 open, 2 half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fusion_relay",
		Subsystem: "bus",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per dependency (0=closed, 1=open, 2=half-open)",
	}, []string{"dependency"})

	// CircuitBreakerFailures counts requests dropped by an open breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fusion_relay",
		Subsystem: "bus",
		Name:      "circuit_breaker_failures_total",
		Help:      "Requests rejected because the circuit breaker was open",
	}, []string{"dependency"})

	// RateLimitExceeded counts rejected WebSocket upgrade attempts.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fusion_relay",
		Subsystem: "websocket",
		Name:      "rate_limit_exceeded_total",
		Help:      "Connection attempts rejected by the rate limiter",
	}, []string{"scope"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
