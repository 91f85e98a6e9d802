package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct {
	err error
}

func (s *stubPinger) Ping(ctx context.Context) error { return s.err }

type stubBroker struct {
	closed bool
}

func (s *stubBroker) IsClosed() bool { return s.closed }

func serve(t *testing.T, handler *Handler, path string, fn gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, path, nil)
	fn(c)
	return w
}

func TestLiveness(t *testing.T) {
	handler := NewHandler(nil, nil, nil)
	w := serve(t, handler, "/health/live", handler.Liveness)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alive")
	assert.Contains(t, w.Body.String(), "timestamp")
}

func TestLiveness_IgnoresDependencies(t *testing.T) {
	handler := NewHandler(&stubPinger{err: errors.New("down")}, nil, &stubBroker{closed: true})
	w := serve(t, handler, "/health/live", handler.Liveness)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadiness_AllHealthy(t *testing.T) {
	handler := NewHandler(&stubPinger{}, &stubPinger{}, &stubBroker{})
	w := serve(t, handler, "/health/ready", handler.Readiness)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "ready")
	assert.Contains(t, body, "redis")
	assert.Contains(t, body, "postgres")
	assert.Contains(t, body, "rabbitmq")
	assert.NotContains(t, body, "unhealthy")
}

func TestReadiness_NilDependenciesAreHealthy(t *testing.T) {
	handler := NewHandler(nil, nil, nil)
	w := serve(t, handler, "/health/ready", handler.Readiness)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ready")
}

func TestReadiness_RedisDown(t *testing.T) {
	handler := NewHandler(&stubPinger{err: errors.New("connection refused")}, &stubPinger{}, &stubBroker{})
	w := serve(t, handler, "/health/ready", handler.Readiness)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unavailable")
	assert.Contains(t, w.Body.String(), "unhealthy")
}

func TestReadiness_BrokerClosed(t *testing.T) {
	handler := NewHandler(&stubPinger{}, &stubPinger{}, &stubBroker{closed: true})
	w := serve(t, handler, "/health/ready", handler.Readiness)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
