package session

import (
	"go.uber.org/zap"

	"github.com/capsulehq/runtime/internal/shared/types"
)

// The session is the bridge's inbound handler: every verified message
// from the isolated context lands here.

// OnReady handles the sandbox handshake. It clears the boot timer,
// confirms the admission slot, and records boot duration. Handshakes
// arriving outside the loading state are ignored; ambiguity resolves to
// nothing, never to ready.
func (s *Session) OnReady(bootTimeMs *float64) {
	s.mu.Lock()
	if s.disposed || s.status != types.StatusLoading {
		s.mu.Unlock()
		return
	}

	if s.bootTimer != nil {
		s.bootTimer.Stop()
		s.bootTimer = nil
	}

	// Exchange the current slot key for the durable run ID. On the
	// first handshake the key is the reserved token; after a restart it
	// is the previous run ID, which re-keys the same slot. Losing the
	// slot here means another path filled the surface; fail closed.
	conf := s.deps.Admission.Confirm(s.opts.Surface, s.slotKey, s.runID)
	if !conf.Allowed {
		emit := s.emitTelemetryLocked(types.EventManifestFailed, map[string]any{"reason": "admission_lost"})
		notify := s.markErrorLocked("This capsule cannot run right now. Close another capsule and retry.", CauseAdmissionLost)
		s.mu.Unlock()
		emit()
		notify()
		return
	}
	s.slotKey = s.runID

	s.status = types.StatusReady

	var bootMs int64 = -1 // unavailable
	if !s.bootStartedAt.IsZero() {
		bootMs = s.deps.Now().Sub(s.bootStartedAt).Milliseconds()
	}
	payload := map[string]any{}
	if bootMs >= 0 {
		payload["boot_ms"] = bootMs
	}
	if bootTimeMs != nil {
		payload["sandbox_boot_ms"] = *bootTimeMs
	}

	runtimeType := "unknown"
	if s.manifest != nil {
		runtimeType = string(s.manifest.RuntimeType)
	}
	if s.deps.Metrics != nil && bootMs >= 0 {
		s.deps.Metrics.BootDuration.
			WithLabelValues(string(s.opts.Surface), runtimeType).
			Observe(float64(bootMs) / 1000.0)
	}

	emit := s.emitTelemetryLocked(types.EventBootComplete, payload)
	notify := s.notifyStateLocked()
	s.mu.Unlock()

	emit()
	notify()
}

// OnHeartbeat is informational; the run timer, not heartbeat absence,
// bounds execution.
func (s *Session) OnHeartbeat() {}

// OnLog forwards a sandbox console line to log subscribers. Volume is
// already bounded by the bridge's per-channel cap.
func (s *Session) OnLog(entry types.LogEntry) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	subs := make([]func(types.LogEntry), len(s.logSubs))
	copy(subs, s.logSubs)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(entry)
	}
}

// OnStats forwards sandbox-reported stats as telemetry.
func (s *Session) OnStats(payload map[string]any) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	emit := s.emitTelemetryLocked("stats", payload)
	s.mu.Unlock()
	emit()
}

// OnError handles a bundle self-reported failure. The message is
// surfaced verbatim but length-capped.
func (s *Session) OnError(message, code string) {
	s.mu.Lock()
	if s.disposed || s.status == types.StatusError {
		s.mu.Unlock()
		return
	}
	emit := s.emitTelemetryLocked(types.EventRuntimeError, map[string]any{"code": code})
	notify := s.markErrorLocked(message, CauseRuntimeError)
	s.mu.Unlock()
	emit()
	notify()
}

// OnViolation surfaces a policy violation. Always logged and always
// emitted, even past the telemetry cap.
func (s *Session) OnViolation(v types.Violation) {
	s.logger.Warn("Policy violation reported by sandbox",
		zap.String("code", v.Code),
		zap.String("message", v.Message))

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.PolicyViolation.WithLabelValues(string(s.opts.Surface), v.Code).Inc()
	}
	emit := s.emitTelemetryLocked(types.EventViolation, map[string]any{
		"code":    v.Code,
		"message": truncate(v.Message, errMsgMax),
		"details": v.Details,
	})
	s.mu.Unlock()
	emit()
}

// OnChannelCapped records that the bridge silenced a chatty channel.
func (s *Session) OnChannelCapped(msgType string) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	emit := s.emitTelemetryLocked(types.EventChannelCap, map[string]any{"channel": msgType})
	s.mu.Unlock()
	emit()
}
