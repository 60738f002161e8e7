package instrumentation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheCounters(t *testing.T) {
	m := New()
	ctx := context.Background()

	m.RecordHit(ctx)
	m.RecordHit(ctx)
	m.RecordMiss(ctx)
	m.RecordEviction(ctx, "delete")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.cacheHits))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.cacheMisses))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.cacheEvictions.WithLabelValues("delete")))
}

func TestToolCallCounters(t *testing.T) {
	m := New()

	m.RecordToolCall("add_memory", nil, 5*time.Millisecond)
	m.RecordToolCall("add_memory", errors.New("boom"), time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.toolCalls.WithLabelValues("add_memory", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.toolCalls.WithLabelValues("add_memory", "error")))
}

func TestPendingJobsGauge(t *testing.T) {
	m := New()
	depth := 3
	m.RegisterPendingJobs(func() int { return depth })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mcp_memory_jobs_pending 3")
}

func TestHandlerServesExposition(t *testing.T) {
	m := New()
	m.RecordHit(context.Background())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mcp_memory_cache_hits_total")
}
