// Package metrics exposes Prometheus counters, gauges, and histograms for
// the attribute aggregator, action executor, and IPC proxy, plus a
// component-level health/readiness registry used by the admin HTTP surface.
package metrics
