// ABOUTME: Tests for the metrics collectors
// ABOUTME: Verifies counter and gauge movement plus scrape endpoint output

package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTurn(t *testing.T) {
	m := New()

	m.RecordTurn("session-1")
	m.RecordTurn("session-1")
	m.RecordTurn("session-2")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.turnsTotal.WithLabelValues("session-1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turnsTotal.WithLabelValues("session-2")))
}

func TestRecordProviderRequest(t *testing.T) {
	m := New()

	m.RecordProviderRequest("openai", "success", 0.5)
	m.RecordProviderRequest("openai", "success", 1.2)
	m.RecordProviderRequest("openai", "error", 0.1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.providerRequests.WithLabelValues("openai", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerRequests.WithLabelValues("openai", "error")))

	count := testutil.CollectAndCount(m.providerLatency)
	assert.Equal(t, 1, count, "latency histogram should have one series for openai")
}

func TestRecordCacheLookup(t *testing.T) {
	m := New()

	m.RecordCacheLookup(true)
	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheMisses))
}

func TestActiveSessionsGauge(t *testing.T) {
	m := New()

	m.SessionStarted()
	m.SessionStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.activeSessions))

	m.SessionStopped()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions))
}

func TestRecordDroppedEvent(t *testing.T) {
	m := New()

	m.RecordDroppedEvent()
	m.RecordDroppedEvent()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsDropped))
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	m := New()
	m.RecordTurn("s1")
	m.RecordCacheLookup(false)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "troupe_turns_total")
	assert.Contains(t, body, "troupe_cache_misses_total")
}
