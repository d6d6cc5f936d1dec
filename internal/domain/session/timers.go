package session

import (
	"time"

	"github.com/capsulehq/runtime/internal/domain/bridge"
	"github.com/capsulehq/runtime/internal/domain/budget"
	"github.com/capsulehq/runtime/internal/shared/types"
)

// armBootTimerLocked arms the boot budget timer. A zero budget disables
// the timer entirely (test escape).
func (s *Session) armBootTimerLocked(d time.Duration) {
	if d == budget.Unlimited {
		return
	}
	runID := s.runID
	s.bootTimer = time.AfterFunc(d, func() { s.onBootTimeout(runID) })
}

// rearmBootTimerLocked shifts the pending boot deadline to the current
// budget, measured from the original boot start. Used when the manifest
// reveals a runtime type with a longer boot allowance.
func (s *Session) rearmBootTimerLocked() {
	if s.bootTimer == nil {
		return
	}
	s.bootTimer.Stop()
	s.bootTimer = nil
	if s.budgets.BootBudget == budget.Unlimited {
		return
	}
	remaining := s.bootStartedAt.Add(s.budgets.BootBudget).Sub(s.deps.Now())
	if remaining < 0 {
		remaining = 0
	}
	runID := s.runID
	s.bootTimer = time.AfterFunc(remaining, func() { s.onBootTimeout(runID) })
}

func (s *Session) armRunTimerLocked(d time.Duration) {
	if d == budget.Unlimited {
		return
	}
	runID := s.runID
	s.runDeadline = s.deps.Now().Add(d)
	s.runTimer = time.AfterFunc(d, func() { s.onRunTimeout(runID) })
}

// onBootTimeout is the fail-closed path: a bundle that never signals
// readiness is terminated, not left running. It can only fire before
// markReady for the same run; once ready is reached the boot timer is
// guaranteed cleared.
func (s *Session) onBootTimeout(runID string) {
	s.mu.Lock()
	if s.disposed || s.runID != runID || s.status == types.StatusReady || s.status == types.StatusError {
		s.mu.Unlock()
		return
	}
	emit := s.emitTelemetryLocked(types.EventBootTimeout, map[string]any{
		"budget_ms": s.budgets.Budgets().BootMs,
	})
	notify := s.markErrorLocked("This capsule took too long to start.", CauseBootTimeout)
	if s.deps.Metrics != nil {
		s.deps.Metrics.BootTimeouts.WithLabelValues(string(s.opts.Surface)).Inc()
	}
	s.mu.Unlock()

	emit()
	notify()
}

// onRunTimeout bounds total wall-clock execution even for a healthy,
// already-ready session. It forces error regardless of current status.
func (s *Session) onRunTimeout(runID string) {
	s.mu.Lock()
	if s.disposed || s.runID != runID || s.status == types.StatusError {
		s.mu.Unlock()
		return
	}
	emit := s.emitTelemetryLocked(types.EventRunTimeout, map[string]any{
		"budget_ms": s.budgets.Budgets().RunMs,
	})
	notify := s.markErrorLocked("This capsule exceeded its run time limit.", CauseRunTimeout)
	if s.deps.Metrics != nil {
		s.deps.Metrics.RunTimeouts.WithLabelValues(string(s.opts.Surface)).Inc()
	}
	s.mu.Unlock()

	emit()
	notify()

	s.bridge.Send(bridge.CmdKill, nil)
}
