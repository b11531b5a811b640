package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/certflow/core/metrics"
	"github.com/dmitrymomot/certflow/core/queue"
)

func TestObserveStage(t *testing.T) {
	t.Parallel()

	before := testutil.ToFloat64(metrics.StageOutcomes.WithLabelValues("metrics-test", metrics.OutcomeRetry))
	metrics.ObserveStage("metrics-test", metrics.OutcomeRetry, 150*time.Millisecond)
	after := testutil.ToFloat64(metrics.StageOutcomes.WithLabelValues("metrics-test", metrics.OutcomeRetry))
	assert.Equal(t, before+1, after)
}

func TestHandler(t *testing.T) {
	t.Parallel()

	metrics.ReconcileRuns.WithLabelValues("applied").Inc()

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "certflow_reconcile_runs_total")
}

func TestQueueCollector(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	enq, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)
	for range 3 {
		require.NoError(t, enq.Enqueue(t.Context(), map[string]int{"n": 1}, queue.WithQueue("collector-test")))
	}

	collector := metrics.NewQueueCollector(storage, "collector-test")
	expected := `
# HELP certflow_queue_tasks Tasks per queue and status at scrape time
# TYPE certflow_queue_tasks gauge
certflow_queue_tasks{queue="collector-test",status="failed"} 0
certflow_queue_tasks{queue="collector-test",status="pending"} 3
certflow_queue_tasks{queue="collector-test",status="processing"} 0
certflow_queue_tasks{queue="collector-test",status="waiting-children"} 0
`
	assert.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected)))
}
