// Package metrics exports the gateway's Prometheus instruments: lane
// occupancy gauges, job counters, and the connected node gauge. Metrics
// register on a per-gateway registry so instances stay independent.
package metrics
