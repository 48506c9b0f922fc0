package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveHeartbeat("online")
		m.ObserveOverride("applied")
		m.ObserveStoreError("upsert")
		m.ObserveMarker(nil)
		m.ObserveProxy("200")
		m.WatchOpened()
		m.WatchClosed()
	})
}

func TestCollectors(t *testing.T) {
	m := New()
	m.ObserveHeartbeat("online")
	m.ObserveHeartbeat("online")
	m.ObserveMarker(nil)
	m.ObserveMarker(errors.New("boom"))
	m.WatchOpened()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Heartbeats.WithLabelValues("online")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MarkersIssued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MarkerFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WatchConnections))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.ObserveHeartbeat("away")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pulse_presence_heartbeats_total{status="away"} 1`)
}
