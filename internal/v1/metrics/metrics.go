package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the bot orchestration platform.
//
// Naming convention: namespace_subsystem_name
// - namespace: lamb2 (application-level grouping)
// - subsystem: session, broker, bot (feature-level grouping)
// - name: specific metric (sessions_active, rpc_seconds, etc.)
//
// Metric Types:
// - Gauge: Current state (sessions, bots, websocket subscribers)
// - Counter: Cumulative events (commands executed, messages sent, errors)
// - Histogram: Latency distributions (broker RPC round trips)

var (
	// ActiveSessions tracks the current number of live bot sessions (Gauge - current state)
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lamb2",
		Subsystem: "session",
		Name:      "sessions_active",
		Help:      "Current number of live bot sessions",
	})

	// ActiveWebSocketConnections tracks the current number of status WebSocket subscribers (Gauge - current state)
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lamb2",
		Subsystem: "session",
		Name:      "websocket_connections_active",
		Help:      "Current number of active status WebSocket connections",
	})

	// BrokerRPCDuration tracks broker command round trip time (HistogramVec - latency distribution)
	BrokerRPCDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lamb2",
		Subsystem: "broker",
		Name:      "rpc_seconds",
		Help:      "Broker command round trip time",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"command"})

	// BrokerRPCResults counts broker command outcomes (CounterVec - cumulative)
	BrokerRPCResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lamb2",
		Subsystem: "broker",
		Name:      "rpc_total",
		Help:      "Broker command outcomes",
	}, []string{"command", "status"})

	// ActiveBots tracks bots currently hosted by this process (Gauge - current state)
	ActiveBots = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lamb2",
		Subsystem: "bot",
		Name:      "bots_active",
		Help:      "Bots currently hosted by this process",
	})

	// CommandsExecuted counts chat commands executed by hosted bots (CounterVec - cumulative)
	CommandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lamb2",
		Subsystem: "bot",
		Name:      "commands_total",
		Help:      "Chat commands executed by hosted bots",
	}, []string{"command", "status"})

	// MessagesSent counts outbound chat messages (Counter - cumulative)
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lamb2",
		Subsystem: "bot",
		Name:      "messages_sent_total",
		Help:      "Outbound chat messages sent by hosted bots",
	})

	// RateLimitRequests counts requests that passed the rate limiter (CounterVec - cumulative)
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lamb2",
		Subsystem: "http",
		Name:      "ratelimit_requests_total",
		Help:      "Requests admitted by the rate limiter",
	}, []string{"endpoint"})

	// RateLimitExceeded counts rejected requests per endpoint and key kind (CounterVec - cumulative)
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lamb2",
		Subsystem: "http",
		Name:      "ratelimit_exceeded_total",
		Help:      "Requests rejected by the rate limiter",
	}, []string{"endpoint", "kind"})

	// CircuitBreakerState exposes breaker state per backend (0 closed, 1 open, 2 half-open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lamb2",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Circuit breaker state per backend (0 closed, 1 open, 2 half-open)",
	}, []string{"backend"})

	// CircuitBreakerFailures counts requests rejected by an open breaker (CounterVec - cumulative)
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lamb2",
		Subsystem: "breaker",
		Name:      "failures_total",
		Help:      "Requests rejected by an open circuit breaker",
	}, []string{"backend"})
)

func IncSession() {
	ActiveSessions.Inc()
}

func DecSession() {
	ActiveSessions.Dec()
}
