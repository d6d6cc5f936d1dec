// Package main is the entry point for the capsule runtime service.
//
// The service hosts untrusted capsule bundles in isolated execution
// contexts: it admits sessions against per-surface concurrency slots,
// loads and normalizes bundle manifests, enforces boot and run time
// budgets, and relays control and telemetry traffic across the
// isolation bridge.
//
// The server provides:
//   - REST API for session lifecycle and visibility signals
//   - WebSocket attachment for sandboxed contexts
//   - Per-surface admission introspection
//   - Dev artifact catalog seeded from YAML
//   - Prometheus metrics, rate limiting and CORS
//
// Configuration:
//   - RUNTIME_-prefixed environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Optional TOML budget profile file
//
// Usage:
//
//	# Production mode
//	./runtimed -port 8400 -budgets /etc/runtime/budgets.toml
//
//	# Development mode (colored logs, debug level, seeded catalog)
//	./runtimed -dev -seeds ./seeds
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown (disposes all sessions)
package main
