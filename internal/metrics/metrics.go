package metrics

import (
	"time"
)

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordRequest records a backend request with its duration.
func (r *Registry) RecordRequest(endpoint string, err error, duration time.Duration) {
	if r == nil {
		return
	}
	r.RequestsTotal.WithLabelValues(endpoint, outcome(err)).Inc()
	r.RequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordPoll records one tick of a poll loop.
func (r *Registry) RecordPoll(loop string, err error) {
	if r == nil {
		return
	}
	r.PollTicksTotal.WithLabelValues(loop, outcome(err)).Inc()
}

// SetJobStatus marks status as the current job status.
func (r *Registry) SetJobStatus(status string, known []string) {
	if r == nil {
		return
	}
	for _, s := range known {
		r.JobStatus.WithLabelValues(s).Set(0)
	}
	r.JobStatus.WithLabelValues(status).Set(1)
}

// RecordPivot records a pivot request and the number of nodes it merged.
func (r *Registry) RecordPivot(pivotType string, err error, merged int) {
	if r == nil {
		return
	}
	r.PivotsTotal.WithLabelValues(pivotType, outcome(err)).Inc()
	if merged > 0 {
		r.PivotNodesMerged.Add(float64(merged))
	}
}

// ReconcileScheduled and ReconcileDone track pending confirmatory fetches.
func (r *Registry) ReconcileScheduled() {
	if r == nil {
		return
	}
	r.ReconcilesPending.Inc()
}

func (r *Registry) ReconcileDone() {
	if r == nil {
		return
	}
	r.ReconcilesPending.Dec()
}

// ObserveGraph publishes graph size gauges.
func (r *Registry) ObserveGraph(nodes, edges, dangling int, byLevel map[string]int) {
	if r == nil {
		return
	}
	r.GraphNodes.Set(float64(nodes))
	r.GraphEdges.Set(float64(edges))
	r.GraphDangling.Set(float64(dangling))
	r.GraphNodesByRisk.Reset()
	for level, n := range byLevel {
		r.GraphNodesByRisk.WithLabelValues(level).Set(float64(n))
	}
}

// SnapshotApplied counts a full replacement.
func (r *Registry) SnapshotApplied() {
	if r == nil {
		return
	}
	r.SnapshotsApplied.Inc()
}
