package bridge

import (
	"encoding/json"
	"time"

	"github.com/capsulehq/runtime/internal/shared/types"
)

// SandboxOrigin is the literal placeholder origin presented by a fully
// sandboxed, opaque-origin execution context.
const SandboxOrigin = "null"

// Outbound control commands (host -> sandbox).
const (
	CmdRestart   = "restart"
	CmdKill      = "kill"
	CmdPause     = "pause"
	CmdResume    = "resume"
	CmdSetParams = "setParams"
)

// Inbound message types (sandbox -> host). Unrecognized types are ignored,
// not errored: forward compatibility over strictness on the wire.
const (
	MsgReady     = "ready"
	MsgHeartbeat = "heartbeat"
	MsgLog       = "log"
	MsgStats     = "stats"
	MsgError     = "error"
	MsgViolation = "policyViolation"
)

// Message is the envelope crossing the isolation boundary in both
// directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds an outbound message with a marshaled payload.
// A nil payload produces an envelope with no payload field.
func NewMessage(msgType string, payload any) (Message, error) {
	msg := Message{Type: msgType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		msg.Payload = raw
	}
	return msg, nil
}

type readyPayload struct {
	BootTime *float64 `json:"bootTime,omitempty"`
}

type logPayload struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp *int64 `json:"timestamp,omitempty"` // epoch millis
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type violationPayload struct {
	Message string         `json:"message"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func decodeLog(raw json.RawMessage) types.LogEntry {
	var p logPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Message == "" {
		return types.LogEntry{Level: "warn", Message: "malformed log payload", Timestamp: time.Now()}
	}
	entry := types.LogEntry{Level: p.Level, Message: p.Message, Timestamp: time.Now()}
	if entry.Level == "" {
		entry.Level = "info"
	}
	if p.Timestamp != nil {
		entry.Timestamp = time.UnixMilli(*p.Timestamp)
	}
	return entry
}

// decodeViolation normalizes a violation payload. A malformed payload
// still produces a violation: security events are never dropped on a
// parse error.
func decodeViolation(raw json.RawMessage) types.Violation {
	var p violationPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Message == "" {
		return types.Violation{Code: "malformed", Message: "sandbox reported a violation with a malformed payload"}
	}
	code := p.Code
	if code == "" {
		code = "unspecified"
	}
	return types.Violation{Code: code, Message: p.Message, Details: p.Details}
}
