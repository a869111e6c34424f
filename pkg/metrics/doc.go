// Package metrics exposes Prometheus instrumentation for the toolkit's core
// subsystems: queue depth and drops, event-thread dispatch rates, timer-pool
// bucket occupancy, DNS cache hit/miss and refresh counts, TEID allocation
// counts, and shared-memory primitive-pool high-water marks.
//
// Metrics are registered at package init against the default Prometheus
// registry; Handler returns the HTTP handler to mount at /metrics. A small
// HealthChecker (health.go) tracks health and readiness of named
// components independently of Prometheus, for use on /health and /ready;
// the set of components readiness requires is not fixed by this package -
// callers register it with SetCriticalComponents.
package metrics
