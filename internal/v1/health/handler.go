// Package health exposes the liveness and readiness probes of the frontend.
// Readiness checks every backend a request could touch: Redis, Postgres and
// the RabbitMQ connection.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ilyaf835/lamb2-dev/internal/v1/logging"
)

// Pinger is a backend that can verify its connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BrokerChecker reports whether the broker connection is still open.
// *amqp091.Connection satisfies it through IsClosed.
type BrokerChecker interface {
	IsClosed() bool
}

// Handler manages health check endpoints.
type Handler struct {
	redis    Pinger
	postgres Pinger
	broker   BrokerChecker
}

// NewHandler creates a health handler. Any nil dependency is treated as
// healthy; single-backend deployments skip the rest.
func NewHandler(redis, postgres Pinger, broker BrokerChecker) *Handler {
	return &Handler{redis: redis, postgres: postgres, broker: broker}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live. Returns 200 if the process is alive;
// no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready. Returns 200 only if every critical
// dependency is healthy, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{
		"redis":    h.checkPinger(ctx, "redis", h.redis),
		"postgres": h.checkPinger(ctx, "postgres", h.postgres),
		"rabbitmq": h.checkBroker(ctx),
	}

	status := "ready"
	statusCode := http.StatusOK
	for _, state := range checks {
		if state != "healthy" {
			status = "unavailable"
			statusCode = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkPinger(ctx context.Context, name string, p Pinger) string {
	if p == nil {
		return "healthy"
	}
	if err := p.Ping(ctx); err != nil {
		logging.Error(ctx, "health check failed", zap.String("backend", name), zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

func (h *Handler) checkBroker(ctx context.Context) string {
	if h.broker == nil {
		return "healthy"
	}
	if h.broker.IsClosed() {
		logging.Error(ctx, "health check failed", zap.String("backend", "rabbitmq"))
		return "unhealthy"
	}
	return "healthy"
}
