package session

import (
	"context"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/capsulehq/runtime/internal/domain/admission"
	"github.com/capsulehq/runtime/internal/domain/bridge"
	"github.com/capsulehq/runtime/internal/domain/budget"
	"github.com/capsulehq/runtime/internal/domain/manifest"
	"github.com/capsulehq/runtime/internal/infrastructure/logging"
	"github.com/capsulehq/runtime/internal/infrastructure/monitoring"
	"github.com/capsulehq/runtime/internal/shared/id"
	"github.com/capsulehq/runtime/internal/shared/types"
)

// TelemetryCap bounds telemetry volume per session. Once hit, a single
// capped event is emitted and further events are dropped; policy
// violations are exempt.
const TelemetryCap = 80

// errMsgMax caps user-facing error messages, including bundle
// self-reported ones which are otherwise surfaced verbatim.
const errMsgMax = 240

var (
	ErrDisposed       = errors.New("session is disposed")
	ErrAlreadyRunning = errors.New("session is already running")
)

// Error causes recorded on session error transitions.
const (
	CauseBootTimeout   = "boot_timeout"
	CauseRunTimeout    = "run_timeout"
	CauseManifest      = "manifest"
	CauseRuntimeError  = "runtime_error"
	CauseAdmissionLost = "admission_lost"
)

// ManifestLoader is the loader dependency; satisfied by *manifest.Loader.
type ManifestLoader interface {
	Load(ctx context.Context, artifactID string) (*manifest.Manifest, error)
}

// Snapshot is the immutable view of session state handed to consumers.
// The session is the sole mutator of the underlying state.
type Snapshot struct {
	ID         id.SessionID      `json:"id"`
	Surface    types.Surface     `json:"surface"`
	ArtifactID string            `json:"artifact_id"`
	CapsuleID  string            `json:"capsule_id,omitempty"`
	Status     types.Status      `json:"status"`
	Error      string            `json:"error,omitempty"`
	RunID      string            `json:"run_id,omitempty"`
	Budgets    types.Budgets     `json:"budgets"`
	Manifest   *manifest.Manifest `json:"manifest,omitempty"`
	Paused     bool              `json:"paused"`
	Disposed   bool              `json:"disposed"`
}

// Deps are the collaborators a session needs. All are injected; none are
// package-level singletons.
type Deps struct {
	Loader    ManifestLoader
	Budgets   *budget.Registry
	Admission *admission.Registry
	Logger    *logging.Logger
	Metrics   *monitoring.Metrics
	Now       func() time.Time // nil means time.Now

	// OnCreate, when set, is called by the manager for every new session
	// before Start, so a sandbox host can subscribe from the first
	// transition. Demo mode uses this to bind the in-process driver.
	OnCreate func(*Session)
}

// Options describe one session instance.
type Options struct {
	Surface    types.Surface
	ArtifactID string
	CapsuleID  string
	SlotToken  string // from a successful admission reserve

	// Override, when set, wins over every registry profile. Zero values
	// disable the corresponding timer (tests only).
	Override *types.Budgets
}

// Session owns one execution attempt of a capsule bundle: it loads the
// manifest, arms the boot and run timers, reacts to bridge traffic, and
// is the only component allowed to mutate its own state.
type Session struct {
	mu sync.Mutex

	id   id.SessionID
	opts Options
	deps Deps

	status   types.Status
	errMsg   string
	manifest *manifest.Manifest
	runID    string
	disposed bool

	budgets       budget.Config
	bootStartedAt time.Time
	bootTimer     *time.Timer
	runTimer      *time.Timer
	runDeadline   time.Time
	runRemaining  time.Duration
	paused        bool

	telemetrySeq    uint64
	telemetryCapped bool

	slotKey string // token until confirmed, then run ID

	bridge *bridge.Bridge
	logger *logging.Logger

	stateSubs     []func(Snapshot)
	telemetrySubs []func(types.TelemetryEnvelope)
	logSubs       []func(types.LogEntry)
}

// New creates an idle session. Start must be called to run it.
func New(deps Deps, opts Options) *Session {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Session{
		id:      id.NewSessionID(),
		opts:    opts,
		deps:    deps,
		status:  types.StatusIdle,
		slotKey: opts.SlotToken,
		logger: deps.Logger.Named("session").With(
			zap.String("surface", string(opts.Surface)),
			zap.String("artifact_id", opts.ArtifactID),
		),
	}
	// The allowlist starts empty and is derived once the manifest
	// resolves; until then the bridge refuses all traffic.
	s.bridge = bridge.New(s, nil, deps.Logger, deps.Metrics)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() id.SessionID { return s.id }

// Bridge exposes the session's isolation bridge for transport attachment.
func (s *Session) Bridge() *bridge.Bridge { return s.bridge }

// Subscribe registers a state snapshot listener.
func (s *Session) Subscribe(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.stateSubs = append(s.stateSubs, fn)
}

// SubscribeTelemetry registers a telemetry listener.
func (s *Session) SubscribeTelemetry(fn func(types.TelemetryEnvelope)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.telemetrySubs = append(s.telemetrySubs, fn)
}

// SubscribeLogs registers a sandbox console listener.
func (s *Session) SubscribeLogs(fn func(types.LogEntry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.logSubs = append(s.logSubs, fn)
}

// Snapshot returns an immutable copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:         s.id,
		Surface:    s.opts.Surface,
		ArtifactID: s.opts.ArtifactID,
		CapsuleID:  s.opts.CapsuleID,
		Status:     s.status,
		Error:      s.errMsg,
		RunID:      s.runID,
		Budgets:    s.budgets.Budgets(),
		Paused:     s.paused,
		Disposed:   s.disposed,
	}
	if s.manifest != nil {
		m := *s.manifest
		snap.Manifest = &m
	}
	return snap
}

// Start begins a fresh execution attempt: new run ID, telemetry counter
// reset, async manifest load, and both budget timers armed. Returns
// immediately; progress is signaled via state transitions and telemetry.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if s.status == types.StatusLoading || s.status == types.StatusReady {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	s.runID = id.NewRunID().String()
	s.telemetrySeq = 0
	s.telemetryCapped = false
	s.status = types.StatusLoading
	s.errMsg = ""
	s.manifest = nil
	s.paused = false

	// Runtime type is unknown until the manifest resolves; arm with the
	// surface profile and re-arm the boot timer if the type earns more.
	s.budgets = s.resolveBudgetsLocked(types.RuntimeMarkup)
	s.bootStartedAt = s.deps.Now()
	s.armBootTimerLocked(s.budgets.BootBudget)
	s.armRunTimerLocked(s.budgets.RunBudget)

	if s.deps.Metrics != nil {
		s.deps.Metrics.SessionsStarted.WithLabelValues(string(s.opts.Surface), "unknown").Inc()
	}

	runID := s.runID
	notify := s.notifyStateLocked()
	s.mu.Unlock()
	notify()

	go s.loadManifest(ctx, runID)
	return nil
}

// resolveBudgetsLocked applies the precedence: explicit override always
// wins; otherwise the registry profile for surface and runtime type.
func (s *Session) resolveBudgetsLocked(runtimeType types.RuntimeType) budget.Config {
	if o := s.opts.Override; o != nil {
		return budget.Config{
			MaxConcurrent: 1,
			BootBudget:    msToBudget(o.BootMs),
			RunBudget:     msToBudget(o.RunMs),
		}
	}
	return s.deps.Budgets.Resolve(s.opts.Surface, runtimeType)
}

func msToBudget(ms int64) time.Duration {
	if ms <= 0 {
		return budget.Unlimited
	}
	return time.Duration(ms) * time.Millisecond
}

func (s *Session) loadManifest(ctx context.Context, runID string) {
	m, err := s.deps.Loader.Load(ctx, s.opts.ArtifactID)

	s.mu.Lock()
	if s.disposed || s.runID != runID {
		s.mu.Unlock()
		return
	}

	if err != nil {
		reason, userMsg := "load_failed", "Could not load this capsule. Try again."
		if errors.Is(err, manifest.ErrAssetMissing) {
			reason, userMsg = "asset_missing", "This capsule is missing required assets."
		}
		emit := s.emitTelemetryLocked(types.EventManifestFailed, map[string]any{"reason": reason})
		notify := s.markErrorLocked(userMsg, CauseManifest)
		s.logger.Warn("Manifest load failed", zap.String("run_id", runID), zap.Error(err))
		s.mu.Unlock()
		emit()
		notify()
		return
	}

	s.manifest = m

	// Re-derive the bridge allowlist from the bundle's own asset origin;
	// opaque-origin bundles get the sandbox placeholder.
	if m.AssetOrigin != "" {
		s.bridge.SetAllowedOrigins([]string{m.AssetOrigin})
	} else {
		s.bridge.SetAllowedOrigins([]string{bridge.SandboxOrigin})
	}

	// The runtime type may raise the boot allowance; shift the pending
	// boot deadline without restarting the clock.
	if s.opts.Override == nil {
		resolved := s.resolveBudgetsLocked(m.RuntimeType)
		if resolved.BootBudget != s.budgets.BootBudget {
			s.budgets.BootBudget = resolved.BootBudget
			s.rearmBootTimerLocked()
		}
	}

	notify := s.notifyStateLocked()
	s.mu.Unlock()
	notify()
}

// Stop tears down the current attempt and returns to idle. The admission
// slot stays held; only Dispose releases it.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	s.clearTimersLocked()
	s.status = types.StatusIdle
	s.errMsg = ""
	s.paused = false
	notify := s.notifyStateLocked()
	s.mu.Unlock()

	s.bridge.Send(bridge.CmdKill, nil)
	notify()
	return nil
}

// Pause freezes the run budget clock and tells the sandbox to pause.
// Status does not change; a backgrounded capsule is still its status.
func (s *Session) Pause() {
	s.mu.Lock()
	if s.disposed || s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = true
	if s.runTimer != nil {
		s.runTimer.Stop()
		s.runTimer = nil
		s.runRemaining = s.runDeadline.Sub(s.deps.Now())
		if s.runRemaining < 0 {
			s.runRemaining = 0
		}
	}
	notify := s.notifyStateLocked()
	s.mu.Unlock()

	s.bridge.Send(bridge.CmdPause, nil)
	notify()
}

// Resume re-arms the run budget with the time left when Pause hit and
// tells the sandbox to resume.
func (s *Session) Resume() {
	s.mu.Lock()
	if s.disposed || !s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = false
	if s.runRemaining > 0 {
		s.armRunTimerLocked(s.runRemaining)
		s.runRemaining = 0
	}
	notify := s.notifyStateLocked()
	s.mu.Unlock()

	s.bridge.Send(bridge.CmdResume, nil)
	notify()
}

// SetParams forwards bundle parameters through the bridge.
func (s *Session) SetParams(params map[string]any) bool {
	s.mu.Lock()
	disposed := s.disposed
	s.mu.Unlock()
	if disposed {
		return false
	}
	return s.bridge.Send(bridge.CmdSetParams, params)
}

// Restart issues a full fresh attempt: stop, then start.
func (s *Session) Restart(ctx context.Context) error {
	if err := s.Stop(); err != nil {
		return err
	}
	return s.Start(ctx)
}

// Dispose irreversibly tears the session down: timers cleared,
// subscribers dropped, admission slot released. Safe to call twice;
// the second call is a no-op.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.clearTimersLocked()
	// State subscribers get one final disposed snapshot so attached
	// hosts can stand down; telemetry and logs end silently.
	notify := s.notifyStateLocked()
	s.stateSubs = nil
	s.telemetrySubs = nil
	s.logSubs = nil
	token := s.opts.SlotToken
	slotKey := s.slotKey
	runID := s.runID
	s.mu.Unlock()

	// An attached sandbox does not outlive its session.
	s.bridge.Send(bridge.CmdKill, nil)
	notify()

	// Release whichever key currently holds the slot. Release is
	// idempotent, so covering all three is safe.
	s.deps.Admission.Release(slotKey)
	s.deps.Admission.Release(token)
	s.deps.Admission.Release(runID)
}

// Disposed reports whether the session has been disposed.
func (s *Session) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// markErrorLocked is the single place that mutates status to error.
// Returns the notification closure to run after the lock is released.
func (s *Session) markErrorLocked(msg, cause string) func() {
	s.clearTimersLocked()
	s.status = types.StatusError
	s.errMsg = truncate(msg, errMsgMax)
	if s.deps.Metrics != nil {
		s.deps.Metrics.SessionErrors.WithLabelValues(string(s.opts.Surface), cause).Inc()
	}
	return s.notifyStateLocked()
}

func (s *Session) clearTimersLocked() {
	if s.bootTimer != nil {
		s.bootTimer.Stop()
		s.bootTimer = nil
	}
	if s.runTimer != nil {
		s.runTimer.Stop()
		s.runTimer = nil
	}
	s.runRemaining = 0
}

// PendingTimers reports how many budget timers are armed. Tests assert
// zero after disposal.
func (s *Session) PendingTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	if s.bootTimer != nil {
		n++
	}
	if s.runTimer != nil {
		n++
	}
	return n
}

// notifyStateLocked captures the snapshot and subscriber list; the
// returned closure must run after the lock is released so listeners can
// re-enter the session.
func (s *Session) notifyStateLocked() func() {
	snap := s.snapshotLocked()
	subs := make([]func(Snapshot), len(s.stateSubs))
	copy(subs, s.stateSubs)
	return func() {
		for _, fn := range subs {
			fn(snap)
		}
	}
}

// truncate trims to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
