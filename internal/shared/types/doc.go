// Package types provides shared data structures for the runtime service.
//
// This package defines core types used across all components, ensuring
// type safety and consistent data structures.
//
// Core Types:
//   - Surface: calling context requesting a runtime (feed, player, embed)
//   - RuntimeType: bundle execution model (markup, scripted-component)
//   - Status: session lifecycle state (idle, loading, ready, error)
//   - Budgets: resolved boot/run time budgets for one run
//   - Violation: policy violation reported by an isolated context
//   - LogEntry: console line relayed over the bridge
//   - TelemetryEnvelope: one capped telemetry event with run identity
//
// Example Usage:
//
//	env := types.TelemetryEnvelope{
//	    Event:     types.EventBootComplete,
//	    Surface:   types.SurfaceFeed,
//	    SessionID: string(sessionID),
//	}
package types
