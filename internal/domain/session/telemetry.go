package session

import (
	"github.com/capsulehq/runtime/internal/shared/types"
)

// emitTelemetryLocked counts an event against the session cap and returns
// the delivery closure to run after the lock drops. Policy violations
// bypass the cap: security events must not be silently dropped.
func (s *Session) emitTelemetryLocked(event string, payload map[string]any) func() {
	if s.disposed {
		return func() {}
	}

	s.telemetrySeq++
	if event != types.EventViolation && s.telemetrySeq > TelemetryCap {
		if s.deps.Metrics != nil {
			s.deps.Metrics.TelemetryDropped.Inc()
		}
		if !s.telemetryCapped {
			s.telemetryCapped = true
			return s.deliverLocked(types.EventTelemetryCap, map[string]any{"cap": TelemetryCap})
		}
		return func() {}
	}
	return s.deliverLocked(event, payload)
}

func (s *Session) deliverLocked(event string, payload map[string]any) func() {
	env := types.TelemetryEnvelope{
		Event:      event,
		Surface:    s.opts.Surface,
		SessionID:  s.id.String(),
		RunID:      s.runID,
		ArtifactID: s.opts.ArtifactID,
		CapsuleID:  s.opts.CapsuleID,
		Budgets:    s.budgets.Budgets(),
		Seq:        s.telemetrySeq,
		At:         s.deps.Now(),
		Payload:    payload,
	}
	subs := make([]func(types.TelemetryEnvelope), len(s.telemetrySubs))
	copy(subs, s.telemetrySubs)

	if s.deps.Metrics != nil {
		s.deps.Metrics.TelemetryEmitted.Inc()
	}
	return func() {
		for _, fn := range subs {
			fn(env)
		}
	}
}
