package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return m.Gauge.GetValue()
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r)
	assert.NotNil(t, r.RequestsTotal)
	assert.NotNil(t, r.PollTicksTotal)
	assert.NotNil(t, r.GraphNodes)
	assert.NotNil(t, r.registry)
}

func TestDefaultRegistry(t *testing.T) {
	assert.Same(t, DefaultRegistry(), DefaultRegistry())
}

func TestNilRegistryIsSafe(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.RecordRequest("job", nil, time.Millisecond)
		r.RecordPoll("graph", errors.New("boom"))
		r.RecordPivot("same_asn", nil, 3)
		r.ReconcileScheduled()
		r.ReconcileDone()
		r.ObserveGraph(1, 2, 0, nil)
		r.SnapshotApplied()
		r.SetJobStatus("running", nil)
	})
}

func TestRecorders(t *testing.T) {
	r := NewRegistry()

	r.RecordRequest("graph", nil, 10*time.Millisecond)
	r.RecordRequest("graph", errors.New("timeout"), 10*time.Millisecond)
	r.RecordRequest("graph", nil, 10*time.Millisecond)
	ok, err := r.RequestsTotal.GetMetricWithLabelValues("graph", "ok")
	require.NoError(t, err)
	assert.Equal(t, 2.0, counterValue(t, ok))

	r.RecordPivot("same_registrar", nil, 2)
	r.RecordPivot("same_registrar", nil, 0)
	assert.Equal(t, 2.0, counterValue(t, r.PivotNodesMerged))

	r.ReconcileScheduled()
	r.ReconcileScheduled()
	r.ReconcileDone()
	assert.Equal(t, 1.0, counterValue(t, r.ReconcilesPending))

	r.SetJobStatus("running", []string{"pending", "running", "completed"})
	r.SetJobStatus("completed", []string{"pending", "running", "completed"})
	running, _ := r.JobStatus.GetMetricWithLabelValues("running")
	completed, _ := r.JobStatus.GetMetricWithLabelValues("completed")
	assert.Equal(t, 0.0, counterValue(t, running))
	assert.Equal(t, 1.0, counterValue(t, completed))

	r.ObserveGraph(5, 4, 1, map[string]int{"HIGH": 2, "LOW": 3})
	assert.Equal(t, 5.0, counterValue(t, r.GraphNodes))
	high, _ := r.GraphNodesByRisk.GetMetricWithLabelValues("HIGH")
	assert.Equal(t, 2.0, counterValue(t, high))
}

func TestHandler(t *testing.T) {
	r := NewRegistry()
	r.SnapshotApplied()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "graphx_snapshots_applied_total 1"))
}
