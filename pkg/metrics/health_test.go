package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthAggregation(t *testing.T) {
	reset()

	RegisterComponent("store", true, "file")
	RegisterComponent("fabric", true, "")
	assert.Equal(t, "healthy", GetHealth().Status)

	UpdateComponent("fabric", false, "redis unreachable")
	health := GetHealth()
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "unhealthy: redis unreachable", health.Components["fabric"])
	assert.Equal(t, "healthy", health.Components["store"])

	UpdateComponent("fabric", true, "")
	assert.Equal(t, "healthy", GetHealth().Status)
}

func TestHealthHandlerStatusCodes(t *testing.T) {
	reset()
	RegisterComponent("store", true, "")

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var body HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.NotEmpty(t, body.Uptime)

	UpdateComponent("store", false, "disk full")
	w = httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestTimerMeasuresElapsed(t *testing.T) {
	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	d := timer.Duration()
	assert.GreaterOrEqual(t, d, 10*time.Millisecond)
	assert.Less(t, d, time.Second)
}
