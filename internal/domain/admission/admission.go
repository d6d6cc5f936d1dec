package admission

import (
	"sync"

	"github.com/google/uuid"

	"github.com/capsulehq/runtime/internal/domain/budget"
	"github.com/capsulehq/runtime/internal/infrastructure/monitoring"
	"github.com/capsulehq/runtime/internal/shared/types"
)

// Reservation is the result of an admission attempt. The token is opaque
// and unforgeable; it is held by exactly one session until confirmed or
// released.
type Reservation struct {
	Allowed     bool   `json:"allowed"`
	Token       string `json:"token,omitempty"`
	ActiveCount int    `json:"active_count"`
	Limit       int    `json:"limit"`
}

// Confirmation is the result of exchanging a token for a durable run ID.
type Confirmation struct {
	Allowed     bool `json:"allowed"`
	ActiveCount int  `json:"active_count"`
	Limit       int  `json:"limit"`
}

type slot struct {
	surface   types.Surface
	confirmed bool
}

// Registry bounds how many isolated contexts may run concurrently per
// surface. The counter is process-wide because the protected resource
// (concurrent sandboxes) is process-wide; the registry itself is still
// constructor-injected so tests get their own instance.
type Registry struct {
	mu      sync.Mutex
	budgets *budget.Registry
	slots   map[string]slot // keyed by token, then by run ID after confirm
	counts  map[types.Surface]int
	metrics *monitoring.Metrics
}

// NewRegistry creates an admission registry using the given budget
// profiles for per-surface limits.
func NewRegistry(budgets *budget.Registry) *Registry {
	return &Registry{
		budgets: budgets,
		slots:   make(map[string]slot),
		counts:  make(map[types.Surface]int),
	}
}

// WithMetrics adds metrics tracking to the registry.
func (r *Registry) WithMetrics(m *monitoring.Metrics) *Registry {
	r.metrics = m
	return r
}

// Reserve attempts to claim a slot on the surface. A denied reservation
// counts nothing; callers must not retry-loop without backoff.
func (r *Registry) Reserve(surface types.Surface) Reservation {
	limit := r.budgets.Limit(surface)

	r.mu.Lock()
	defer r.mu.Unlock()

	active := r.counts[surface]
	if active >= limit {
		if r.metrics != nil {
			r.metrics.AdmissionDenials.WithLabelValues(string(surface)).Inc()
		}
		return Reservation{Allowed: false, ActiveCount: active, Limit: limit}
	}

	token := uuid.NewString()
	r.slots[token] = slot{surface: surface}
	r.counts[surface] = active + 1
	r.updateGauge(surface)

	return Reservation{Allowed: true, Token: token, ActiveCount: active + 1, Limit: limit}
}

// Confirm exchanges a reserved token for a durable run ID. A known key,
// whether a fresh token or the run ID of a previous confirm, re-keys the
// same slot without changing the count, so a restarted session keeps its
// one slot. A confirm with an unknown key only succeeds while the surface
// is under capacity; at capacity it fails, so confirmation can never be a
// second path around admission.
func (r *Registry) Confirm(surface types.Surface, token, runID string) Confirmation {
	limit := r.budgets.Limit(surface)

	r.mu.Lock()
	defer r.mu.Unlock()

	s, known := r.slots[token]
	if known {
		delete(r.slots, token)
		s.confirmed = true
		r.slots[runID] = s
		return Confirmation{Allowed: true, ActiveCount: r.counts[s.surface], Limit: limit}
	}

	active := r.counts[surface]
	if active >= limit {
		if r.metrics != nil {
			r.metrics.AdmissionDenials.WithLabelValues(string(surface)).Inc()
		}
		return Confirmation{Allowed: false, ActiveCount: active, Limit: limit}
	}

	// Grace path: unknown token under capacity is admitted and counted.
	r.slots[runID] = slot{surface: surface, confirmed: true}
	r.counts[surface] = active + 1
	r.updateGauge(surface)
	return Confirmation{Allowed: true, ActiveCount: active + 1, Limit: limit}
}

// Release frees the slot held under a token or run ID. Idempotent: unknown
// keys and repeated calls are no-ops and never decrement past the count
// the key contributed.
func (r *Registry) Release(key string) {
	if key == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[key]
	if !ok {
		return
	}
	delete(r.slots, key)
	if r.counts[s.surface] > 0 {
		r.counts[s.surface]--
	}
	r.updateGauge(s.surface)
}

// Active returns the current slot count for a surface.
func (r *Registry) Active(surface types.Surface) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[surface]
}

// Stats reports active count and limit for a surface.
func (r *Registry) Stats(surface types.Surface) (active, limit int) {
	limit = r.budgets.Limit(surface)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[surface], limit
}

// updateGauge must be called with the lock held.
func (r *Registry) updateGauge(surface types.Surface) {
	if r.metrics != nil {
		r.metrics.SlotsActive.WithLabelValues(string(surface)).Set(float64(r.counts[surface]))
	}
}
