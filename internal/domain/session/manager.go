package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/capsulehq/runtime/internal/shared/id"
	"github.com/capsulehq/runtime/internal/shared/types"
)

// AdmissionError reports a denied reservation. User-visible and
// retryable by closing another runtime.
type AdmissionError struct {
	Surface     types.Surface
	ActiveCount int
	Limit       int
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("surface %q is at capacity (%d/%d)", e.Surface, e.ActiveCount, e.Limit)
}

// Manager orchestrates session lifecycle
type Manager struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*Session // Protected by mu
	deps     Deps
}

// NewManager creates a new session manager
func NewManager(deps Deps) *Manager {
	return &Manager{
		sessions: make(map[id.SessionID]*Session),
		deps:     deps,
	}
}

// Create admits and starts a new session for an artifact. Admission is
// checked first; a denied reservation creates nothing.
func (m *Manager) Create(ctx context.Context, opts Options) (*Session, error) {
	if !opts.Surface.Valid() {
		return nil, fmt.Errorf("unknown surface %q", opts.Surface)
	}
	if opts.ArtifactID == "" {
		return nil, fmt.Errorf("artifact id is required")
	}

	res := m.deps.Admission.Reserve(opts.Surface)
	if !res.Allowed {
		return nil, &AdmissionError{
			Surface:     opts.Surface,
			ActiveCount: res.ActiveCount,
			Limit:       res.Limit,
		}
	}
	opts.SlotToken = res.Token

	s := New(m.deps, opts)
	if m.deps.OnCreate != nil {
		m.deps.OnCreate(s)
	}
	if err := s.Start(ctx); err != nil {
		s.Dispose()
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	if m.deps.Metrics != nil {
		m.deps.Metrics.SessionsActive.WithLabelValues(string(opts.Surface)).Inc()
	}
	return s, nil
}

// Get retrieves a session by ID
func (m *Manager) Get(sessionID id.SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// List returns snapshots of all live sessions
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Snapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// Dispose tears down a session and removes it from the manager.
func (m *Manager) Dispose(sessionID id.SessionID) bool {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	surface := s.Snapshot().Surface
	s.Dispose()
	if m.deps.Metrics != nil {
		m.deps.Metrics.SessionsActive.WithLabelValues(string(surface)).Dec()
	}
	return true
}

// DisposeAll tears down every session. Used on shutdown.
func (m *Manager) DisposeAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[id.SessionID]*Session)
	m.mu.Unlock()

	for _, s := range all {
		surface := s.Snapshot().Surface
		s.Dispose()
		if m.deps.Metrics != nil {
			m.deps.Metrics.SessionsActive.WithLabelValues(string(surface)).Dec()
		}
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
