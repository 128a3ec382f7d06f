package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metricValue(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	if out.Counter != nil {
		return out.GetCounter().GetValue()
	}
	return out.GetGauge().GetValue()
}

func TestRecordDecision(t *testing.T) {
	before := metricValue(t, decisionsTotal.WithLabelValues("BTCUSDT", "OPEN", "accepted"))
	RecordDecision("BTCUSDT", "OPEN", true, true)
	assert.Equal(t, before+1, metricValue(t, decisionsTotal.WithLabelValues("BTCUSDT", "OPEN", "accepted")))
	assert.GreaterOrEqual(t, metricValue(t, adjustmentsTotal.WithLabelValues("BTCUSDT")), 1.0)
}

func TestUpdateDrawdown(t *testing.T) {
	UpdateDrawdown(5.2, 6.1, true)
	assert.Equal(t, 5.2, metricValue(t, drawdownPct.WithLabelValues("daily")))
	assert.Equal(t, 1.0, metricValue(t, tradingHalted))

	UpdateDrawdown(0, 0, false)
	assert.Equal(t, 0.0, metricValue(t, tradingHalted))
}

func TestHealthChecker(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	h := NewHealthChecker(30 * time.Minute)
	h.now = func() time.Time { return now }

	assert.Equal(t, "degraded", h.Status().Status)

	h.RecordCycle("bybit", true, false)
	assert.Equal(t, "healthy", h.Status().Status)

	h.RecordError("get equity failed")
	assert.Equal(t, "unhealthy", h.Status().Status)

	now = now.Add(time.Hour)
	h.RecordCycle("bybit", true, false)
	assert.Equal(t, "healthy", h.Status().Status)

	now = now.Add(time.Hour)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "bybit", body.Venue)
}

func TestHealthErrorsCapped(t *testing.T) {
	h := NewHealthChecker(0)
	for i := 0; i < 25; i++ {
		h.RecordError("x")
	}
	assert.Len(t, h.Status().Errors, maxHealthErrors)
}
