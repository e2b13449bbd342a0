package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	c := NewChecker("1.2.3")
	resp := c.Health()

	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestReadinessAggregation(t *testing.T) {
	t.Run("no checks", func(t *testing.T) {
		c := NewChecker("test")
		assert.Equal(t, StatusHealthy, c.Readiness().Status)
	})

	t.Run("all healthy", func(t *testing.T) {
		c := NewChecker("test")
		c.RegisterCheck("a", func() Check { return Check{Status: StatusHealthy} })
		c.RegisterCheck("b", func() Check { return Check{Status: StatusHealthy} })
		assert.Equal(t, StatusHealthy, c.Readiness().Status)
	})

	t.Run("degraded wins over healthy", func(t *testing.T) {
		c := NewChecker("test")
		c.RegisterCheck("a", func() Check { return Check{Status: StatusHealthy} })
		c.RegisterCheck("b", func() Check { return Check{Status: StatusDegraded} })
		assert.Equal(t, StatusDegraded, c.Readiness().Status)
	})

	t.Run("unhealthy wins over degraded", func(t *testing.T) {
		c := NewChecker("test")
		c.RegisterCheck("a", func() Check { return Check{Status: StatusDegraded} })
		c.RegisterCheck("b", func() Check { return Check{Status: StatusUnhealthy, Message: "down"} })

		resp := c.Readiness()
		assert.Equal(t, StatusUnhealthy, resp.Status)
		assert.Equal(t, "down", resp.Checks["b"].Message)
	})
}

func TestHealthHandler(t *testing.T) {
	c := NewChecker("test")

	rec := httptest.NewRecorder()
	c.HealthHandler()(rec, httptest.NewRequest("GET", "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)
}

func TestReadinessHandler(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		c := NewChecker("test")
		rec := httptest.NewRecorder()
		c.ReadinessHandler()(rec, httptest.NewRequest("GET", "/readyz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unready returns 503", func(t *testing.T) {
		c := NewChecker("test")
		c.RegisterCheck("dep", func() Check { return Check{Status: StatusUnhealthy} })

		rec := httptest.NewRecorder()
		c.ReadinessHandler()(rec, httptest.NewRequest("GET", "/readyz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
