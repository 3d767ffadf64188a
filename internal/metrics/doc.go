// Package metrics provides Prometheus collection for the execution
// core: workflow runs, node outcomes, job throughput, cache traffic,
// and worker pool occupancy.
//
// Collectors register against an explicit prometheus.Registerer instead
// of the global default so tests and embedders control their own
// registries.
package metrics
