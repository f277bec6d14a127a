package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerMetrics records metadata for recurring scan triggers.
type SchedulerMetrics struct {
	duration *prometheus.HistogramVec
	success  *prometheus.CounterVec
	failure  *prometheus.CounterVec
}

// NewSchedulerMetrics registers the trigger metrics on the provided registerer.
func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	if reg == nil {
		return &SchedulerMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scan_trigger_duration_seconds",
		Help:    "Duration of notification scan triggers in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"trigger"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scan_trigger_success",
		Help: "Successful scan trigger executions.",
	}, []string{"trigger"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scan_trigger_failure",
		Help: "Failed scan trigger executions.",
	}, []string{"trigger"})
	reg.MustRegister(duration, success, failure)
	return &SchedulerMetrics{
		duration: duration,
		success:  success,
		failure:  failure,
	}
}

// ObserveDuration records the duration for the named trigger.
func (s *SchedulerMetrics) ObserveDuration(trigger string, duration time.Duration) {
	if s == nil || s.duration == nil {
		return
	}
	s.duration.WithLabelValues(normalizeLabel(trigger)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named trigger.
func (s *SchedulerMetrics) IncSuccess(trigger string) {
	if s == nil || s.success == nil {
		return
	}
	s.success.WithLabelValues(normalizeLabel(trigger)).Inc()
}

// IncFailure increments the failure counter for the named trigger.
func (s *SchedulerMetrics) IncFailure(trigger string) {
	if s == nil || s.failure == nil {
		return
	}
	s.failure.WithLabelValues(normalizeLabel(trigger)).Inc()
}

func normalizeLabel(label string) string {
	if label == "" {
		return "unknown"
	}
	return label
}
