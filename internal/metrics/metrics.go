// Package metrics holds the Prometheus collectors of the detection worker.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkerMetrics covers the task loops. All methods are safe on a nil
// receiver so components can run without metrics in tests.
type WorkerMetrics struct {
	FramesProcessed     *prometheus.CounterVec
	Candidates          *prometheus.CounterVec
	IncidentsSaved      *prometheus.CounterVec
	IncidentsSuppressed *prometheus.CounterVec
	PersistenceErrors   *prometheus.CounterVec
	MalformedDetections *prometheus.CounterVec
	TaskRetries         *prometheus.CounterVec
	TaskOutcomes        *prometheus.CounterVec

	FrameDuration *prometheus.HistogramVec

	RunningTasks prometheus.Gauge
}

// NewWorkerMetrics creates and registers the worker metrics.
func NewWorkerMetrics(registry prometheus.Registerer) (*WorkerMetrics, error) {
	m := &WorkerMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register worker metrics: %w", err)
	}
	return m, nil
}

func (m *WorkerMetrics) initMetrics() {
	m.FramesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_frames_processed_total",
			Help: "Frames run through the model, by strategy.",
		},
		[]string{"strategy"},
	)
	m.Candidates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_candidates_total",
			Help: "Candidate incidents proposed by strategies.",
		},
		[]string{"strategy"},
	)
	m.IncidentsSaved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_incidents_saved_total",
			Help: "Incidents persisted.",
		},
		[]string{"strategy"},
	)
	m.IncidentsSuppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_incidents_suppressed_total",
			Help: "Candidates dropped inside the debounce window.",
		},
		[]string{"strategy"},
	)
	m.PersistenceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_persistence_errors_total",
			Help: "Incident writes that failed and were rolled back.",
		},
		[]string{"strategy"},
	)
	m.MalformedDetections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_malformed_detections_total",
			Help: "Raw detections skipped because their fields were unusable.",
		},
		[]string{"strategy"},
	)
	m.TaskRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_task_retries_total",
			Help: "Tasks re-enqueued after a failure.",
		},
		[]string{"strategy"},
	)
	m.TaskOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_task_outcomes_total",
			Help: "Finished task runs by final status.",
		},
		[]string{"status"},
	)
	m.FrameDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "detection_frame_duration_seconds",
			Help:    "Time spent on one loop iteration before the budget sleep.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~2.5s
		},
		[]string{"strategy"},
	)
	m.RunningTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "detection_running_tasks",
			Help: "Task loops currently running in this worker.",
		},
	)
}

func (m *WorkerMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FramesProcessed,
		m.Candidates,
		m.IncidentsSaved,
		m.IncidentsSuppressed,
		m.PersistenceErrors,
		m.MalformedDetections,
		m.TaskRetries,
		m.TaskOutcomes,
		m.FrameDuration,
		m.RunningTasks,
	}
}

// Describe implements the prometheus.Collector interface.
func (m *WorkerMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *WorkerMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

func (m *WorkerMetrics) RecordFrame(strategy string, d time.Duration, candidates, malformed int) {
	if m == nil {
		return
	}
	m.FramesProcessed.WithLabelValues(strategy).Inc()
	m.FrameDuration.WithLabelValues(strategy).Observe(d.Seconds())
	if candidates > 0 {
		m.Candidates.WithLabelValues(strategy).Add(float64(candidates))
	}
	if malformed > 0 {
		m.MalformedDetections.WithLabelValues(strategy).Add(float64(malformed))
	}
}

func (m *WorkerMetrics) RecordSaved(strategy string) {
	if m == nil {
		return
	}
	m.IncidentsSaved.WithLabelValues(strategy).Inc()
}

func (m *WorkerMetrics) RecordSuppressed(strategy string) {
	if m == nil {
		return
	}
	m.IncidentsSuppressed.WithLabelValues(strategy).Inc()
}

func (m *WorkerMetrics) RecordPersistenceError(strategy string) {
	if m == nil {
		return
	}
	m.PersistenceErrors.WithLabelValues(strategy).Inc()
}

func (m *WorkerMetrics) RecordRetry(strategy string) {
	if m == nil {
		return
	}
	m.TaskRetries.WithLabelValues(strategy).Inc()
}

func (m *WorkerMetrics) RecordOutcome(status string) {
	if m == nil {
		return
	}
	m.TaskOutcomes.WithLabelValues(status).Inc()
}

func (m *WorkerMetrics) TaskStarted() {
	if m == nil {
		return
	}
	m.RunningTasks.Inc()
}

func (m *WorkerMetrics) TaskFinished() {
	if m == nil {
		return
	}
	m.RunningTasks.Dec()
}
