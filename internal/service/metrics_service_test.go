package service

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceExposesEngineCollectors(t *testing.T) {
	metrics := NewMetricsService()
	metrics.ObserveTransition("approve", "ok", 15*time.Millisecond)
	metrics.RecordConflict("surfaced")
	metrics.ObserveEvaluation("critical_high", true)
	metrics.RecordNotification("result.finalized", "queued")
	metrics.RecordCacheOperation(true, time.Millisecond)
	metrics.RecordCacheOperation(false, time.Millisecond)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `result_transitions_total{event="approve",outcome="ok"} 1`)
	assert.Contains(t, text, `result_version_conflicts_total{resolution="surfaced"} 1`)
	assert.Contains(t, text, `result_evaluations_total{flag="critical_high",valid="true"} 1`)
	assert.Contains(t, text, `result_notifications_total{status="queued",type="result.finalized"} 1`)

	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(1), snapshot.CacheHits)
	assert.Equal(t, uint64(1), snapshot.CacheMisses)
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var metrics *MetricsService
	assert.NotPanics(t, func() {
		metrics.ObserveTransition("verify", "ok", time.Millisecond)
		metrics.RecordConflict("retried")
		metrics.ObserveEvaluation("normal", true)
		metrics.RecordNotification("result.amended", "dropped")
		metrics.ObserveHTTPRequest("GET", "/", 200, time.Millisecond)
	})
	assert.Equal(t, MetricsSnapshot{}, metrics.Snapshot())
}
