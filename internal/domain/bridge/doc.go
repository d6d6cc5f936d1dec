// Package bridge mediates all communication across the isolation boundary.
//
// Outbound control commands (restart, kill, pause, resume, setParams) are
// posted only to an explicit allowlist of origins derived from the
// bundle's own asset origin, or to the literal sandbox placeholder origin
// for opaque-origin contexts. Never to a wildcard.
//
// Inbound messages are accepted only when both checks pass: the source is
// the attached sandbox transport, and the origin is in the allowlist.
// Everything else is silently dropped. Chatty channels (log, stats) carry
// per-type lifetime caps so a misbehaving bundle cannot exhaust host
// memory via console spam; policy violations are exempt from every cap.
package bridge
