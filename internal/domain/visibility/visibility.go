// Package visibility derives a single pause/run target from two
// independent host signals: page visibility and on-screen intersection.
// It is host-platform agnostic; browser hosts forward their observer
// callbacks through the HTTP API.
package visibility

import "sync"

// DefaultThreshold is the minimum intersection ratio a runtime must
// keep on-screen to stay running.
const DefaultThreshold = 0.25

// Pauser is the controlled target, typically a runtime session.
type Pauser interface {
	Pause()
	Resume()
}

// Controller folds visibility signals into pause/resume commands.
// Commands are issued only on actual transitions, so bridge traffic is
// proportional to state changes rather than to scroll events.
type Controller struct {
	mu        sync.Mutex
	target    Pauser
	threshold float64

	hidden bool
	ratio  float64
	paused bool
}

// New creates a controller for the given target. A non-positive
// threshold falls back to DefaultThreshold. The runtime starts in the
// running state with the viewport assumed fully visible.
func New(target Pauser, threshold float64) *Controller {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Controller{
		target:    target,
		threshold: threshold,
		ratio:     1.0,
	}
}

// PageVisibilityChanged records a document visibility change.
func (c *Controller) PageVisibilityChanged(hidden bool) {
	c.mu.Lock()
	c.hidden = hidden
	apply := c.applyLocked()
	c.mu.Unlock()
	apply()
}

// IntersectionChanged records a new on-screen intersection ratio.
func (c *Controller) IntersectionChanged(ratio float64) {
	c.mu.Lock()
	c.ratio = ratio
	apply := c.applyLocked()
	c.mu.Unlock()
	apply()
}

// Paused reports the current target state.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// applyLocked computes the target state and returns the command to run
// after the lock is released. Re-sends of the current state are
// suppressed.
func (c *Controller) applyLocked() func() {
	shouldPause := c.hidden || c.ratio < c.threshold
	if shouldPause == c.paused {
		return func() {}
	}
	c.paused = shouldPause
	if shouldPause {
		return c.target.Pause
	}
	return c.target.Resume
}
