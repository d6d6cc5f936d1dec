// Package monitoring provides Prometheus metrics for the runtime service.
//
// Collectors cover the four interesting failure surfaces of the sandbox
// core: session lifecycle (boot/run timeouts, error causes), admission
// (active slots, denials), the isolation bridge (message volume, drops,
// policy violations), and telemetry capping.
//
// Each Metrics instance registers on its own prometheus.Registry so unit
// tests can construct collectors without duplicate-registration panics.
package monitoring
