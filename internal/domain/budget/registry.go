package budget

import (
	"sync"
	"time"

	"github.com/capsulehq/runtime/internal/shared/types"
)

// Registry resolves budget profiles per surface and runtime type.
//
// Precedence, highest first: explicit caller override (resolved by the
// session, not here) > Set() from env overrides > Set() from a profile
// file > compiled defaults. Later Set calls win, so the loader applies
// file values before env values.
type Registry struct {
	mu        sync.RWMutex
	profiles  map[types.Surface]Config
	bootScale map[types.RuntimeType]float64
}

// NewRegistry creates a registry seeded with the compiled defaults.
func NewRegistry() *Registry {
	return &Registry{
		profiles: map[types.Surface]Config{
			types.SurfaceFeed:   {MaxConcurrent: 2, BootBudget: 10 * time.Second, RunBudget: 90 * time.Second},
			types.SurfacePlayer: {MaxConcurrent: 3, BootBudget: 15 * time.Second, RunBudget: 300 * time.Second},
			types.SurfaceEmbed:  {MaxConcurrent: 1, BootBudget: 10 * time.Second, RunBudget: 120 * time.Second},
		},
		// Heavier runtimes get a longer boot allowance.
		bootScale: map[types.RuntimeType]float64{
			types.RuntimeMarkup:   1.0,
			types.RuntimeScripted: 1.5,
		},
	}
}

// Set installs a clamped profile for a surface, replacing any previous one.
func (r *Registry) Set(surface types.Surface, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[surface] = cfg.Clamped()
}

// Resolve returns the effective budget profile for a surface and runtime
// type. Unknown surfaces fall back to the embed profile, the most
// conservative one.
func (r *Registry) Resolve(surface types.Surface, runtimeType types.RuntimeType) Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.profiles[surface]
	if !ok {
		cfg = r.profiles[types.SurfaceEmbed]
	}

	if scale, ok := r.bootScale[runtimeType]; ok && scale != 1.0 && cfg.BootBudget != Unlimited {
		cfg.BootBudget = clampBudget(time.Duration(float64(cfg.BootBudget) * scale))
	}
	return cfg
}

// Limit returns the concurrency limit for a surface.
func (r *Registry) Limit(surface types.Surface) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.profiles[surface]
	if !ok {
		cfg = r.profiles[types.SurfaceEmbed]
	}
	return cfg.MaxConcurrent
}

// Surfaces lists all surfaces with a registered profile.
func (r *Registry) Surfaces() []types.Surface {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Surface, 0, len(r.profiles))
	for s := range r.profiles {
		out = append(out, s)
	}
	return out
}
