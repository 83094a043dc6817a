package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewWorkerMetrics(reg)
	require.NoError(t, err)

	m.RecordFrame("proximity", 20*time.Millisecond, 1, 2)
	m.RecordFrame("proximity", 30*time.Millisecond, 0, 0)
	m.RecordSaved("proximity")
	m.RecordSuppressed("threshold")
	m.RecordPersistenceError("threshold")
	m.RecordRetry("containment")
	m.RecordOutcome("SUCCESS")
	m.TaskStarted()
	m.TaskStarted()
	m.TaskFinished()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesProcessed.WithLabelValues("proximity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Candidates.WithLabelValues("proximity")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MalformedDetections.WithLabelValues("proximity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IncidentsSaved.WithLabelValues("proximity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IncidentsSuppressed.WithLabelValues("threshold")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistenceErrors.WithLabelValues("threshold")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TaskRetries.WithLabelValues("containment")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TaskOutcomes.WithLabelValues("SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunningTasks))
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewWorkerMetrics(reg)
	require.NoError(t, err)
	_, err = NewWorkerMetrics(reg)
	assert.Error(t, err)
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *WorkerMetrics
	assert.NotPanics(t, func() {
		m.RecordFrame("x", time.Second, 1, 1)
		m.RecordSaved("x")
		m.RecordSuppressed("x")
		m.RecordPersistenceError("x")
		m.RecordRetry("x")
		m.RecordOutcome("x")
		m.TaskStarted()
		m.TaskFinished()
	})
}
