package budget

import (
	"time"

	"github.com/capsulehq/runtime/internal/shared/types"
)

// Clamping bounds. Values outside these ranges never reach enforcement;
// a zero budget is only representable through Unlimited.
const (
	MinConcurrent = 1
	MaxConcurrent = 10
	MinBudget     = 100 * time.Millisecond
	MaxBudget     = 300 * time.Second
)

// Unlimited disables a time budget. Tests only; production profiles are
// always clamped to [MinBudget, MaxBudget].
const Unlimited = time.Duration(0)

// Config is the per-surface budget profile.
type Config struct {
	MaxConcurrent int
	BootBudget    time.Duration
	RunBudget     time.Duration
}

// Clamped returns the config with every value forced into sane bounds.
// Unlimited budgets pass through untouched.
func (c Config) Clamped() Config {
	c.MaxConcurrent = clampInt(c.MaxConcurrent, MinConcurrent, MaxConcurrent)
	c.BootBudget = clampBudget(c.BootBudget)
	c.RunBudget = clampBudget(c.RunBudget)
	return c
}

// Budgets renders the config as wire-level millisecond values.
func (c Config) Budgets() types.Budgets {
	return types.Budgets{
		BootMs: c.BootBudget.Milliseconds(),
		RunMs:  c.RunBudget.Milliseconds(),
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampBudget(d time.Duration) time.Duration {
	if d == Unlimited {
		return d
	}
	if d < MinBudget {
		return MinBudget
	}
	if d > MaxBudget {
		return MaxBudget
	}
	return d
}
