package metrics

import "github.com/prometheus/client_golang/prometheus"

// QueueMetrics counts delivery job outcomes per queue.
type QueueMetrics struct {
	completed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	retried   *prometheus.CounterVec
}

// NewQueueMetrics registers delivery queue metrics on the provided registerer.
func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	if reg == nil {
		return &QueueMetrics{}
	}
	completed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_jobs_completed",
		Help: "Delivery jobs completed successfully.",
	}, []string{"queue"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_jobs_failed",
		Help: "Delivery jobs that exhausted their attempts.",
	}, []string{"queue"})
	retried := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_jobs_retried",
		Help: "Delivery job attempts re-queued for retry.",
	}, []string{"queue"})
	reg.MustRegister(completed, failed, retried)
	return &QueueMetrics{completed: completed, failed: failed, retried: retried}
}

// IncCompleted increments the completed counter for the named queue.
func (q *QueueMetrics) IncCompleted(queue string) {
	if q == nil || q.completed == nil {
		return
	}
	q.completed.WithLabelValues(normalizeLabel(queue)).Inc()
}

// IncFailed increments the terminally-failed counter for the named queue.
func (q *QueueMetrics) IncFailed(queue string) {
	if q == nil || q.failed == nil {
		return
	}
	q.failed.WithLabelValues(normalizeLabel(queue)).Inc()
}

// IncRetried increments the retry counter for the named queue.
func (q *QueueMetrics) IncRetried(queue string) {
	if q == nil || q.retried == nil {
		return
	}
	q.retried.WithLabelValues(normalizeLabel(queue)).Inc()
}
