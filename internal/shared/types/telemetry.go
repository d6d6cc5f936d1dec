package types

import "time"

// Telemetry event names emitted by the session core.
const (
	EventBootTimeout    = "boot_timeout"
	EventRunTimeout     = "run_timeout"
	EventBootComplete   = "boot_complete"
	EventRuntimeError   = "runtime_error"
	EventViolation      = "policy_violation"
	EventTelemetryCap   = "telemetry_capped"
	EventChannelCap     = "channel_capped"
	EventManifestFailed = "manifest_failed"
)

// TelemetryEnvelope wraps every telemetry event with run identity so
// downstream consumers never have to join against session state.
type TelemetryEnvelope struct {
	Event      string         `json:"event"`
	Surface    Surface        `json:"surface"`
	SessionID  string         `json:"session_id"`
	RunID      string         `json:"run_id"`
	ArtifactID string         `json:"artifact_id"`
	CapsuleID  string         `json:"capsule_id,omitempty"`
	Budgets    Budgets        `json:"budgets"`
	Seq        uint64         `json:"seq"`
	At         time.Time      `json:"at"`
	Payload    map[string]any `json:"payload,omitempty"`
}
