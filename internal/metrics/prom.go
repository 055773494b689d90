// ABOUTME: Prometheus metrics for lane occupancy, job outcomes, and node connectivity.
// ABOUTME: Registered once per gateway instance on a private registry.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway's instruments. Constructed per gateway
// instance so multiple gateways can coexist in tests.
type Metrics struct {
	laneActive *prometheus.GaugeVec
	laneQueued *prometheus.GaugeVec

	jobsInflight    prometheus.Gauge
	jobsTotal       prometheus.Counter
	jobsFailedTotal prometheus.Counter

	nodesConnected prometheus.Gauge
}

// New creates the instruments and registers them on r.
func New(r prometheus.Registerer) *Metrics {
	m := &Metrics{
		laneActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hearth_lane_active",
				Help: "Number of tasks currently executing per lane",
			},
			[]string{"lane"},
		),
		laneQueued: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hearth_lane_queued",
				Help: "Number of tasks waiting for a slot per lane",
			},
			[]string{"lane"},
		),
		jobsInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hearth_jobs_inflight",
				Help: "Number of agent jobs currently running",
			},
		),
		jobsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hearth_jobs_total",
				Help: "Total number of agent jobs settled",
			},
		),
		jobsFailedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hearth_jobs_failed_total",
				Help: "Total number of agent jobs that settled with an error",
			},
		),
		nodesConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hearth_nodes_connected",
				Help: "Number of paired nodes with a live connection",
			},
		),
	}

	r.MustRegister(
		m.laneActive,
		m.laneQueued,
		m.jobsInflight,
		m.jobsTotal,
		m.jobsFailedTotal,
		m.nodesConnected,
	)
	return m
}

// LaneChanged records a lane's occupancy after an admission change.
func (m *Metrics) LaneChanged(lane string, active, queued int) {
	m.laneActive.WithLabelValues(lane).Set(float64(active))
	m.laneQueued.WithLabelValues(lane).Set(float64(queued))
}

// JobStart increments the in-flight job gauge.
func (m *Metrics) JobStart() { m.jobsInflight.Inc() }

// JobEnd decrements in-flight and increments totals; marks failures when !success.
func (m *Metrics) JobEnd(success bool) {
	m.jobsInflight.Dec()
	m.jobsTotal.Inc()
	if !success {
		m.jobsFailedTotal.Inc()
	}
}

// NodesConnected records the current number of live node connections.
func (m *Metrics) NodesConnected(n int) {
	m.nodesConnected.Set(float64(n))
}
