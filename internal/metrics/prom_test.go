// ABOUTME: Tests for metric registration and instrument updates.
// ABOUTME: Uses the client_golang testutil helpers against a private registry.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_LaneChanged(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.LaneChanged("main", 1, 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.laneActive.WithLabelValues("main")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.laneQueued.WithLabelValues("main")))
}

func TestMetrics_JobLifecycle(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.JobStart()
	m.JobStart()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsInflight))

	m.JobEnd(true)
	m.JobEnd(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.jobsInflight))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsFailedTotal))
}

func TestMetrics_NodesConnected(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.NodesConnected(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.nodesConnected))
}
