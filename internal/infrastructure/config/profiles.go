package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/capsulehq/runtime/internal/domain/budget"
	"github.com/capsulehq/runtime/internal/shared/types"
)

// profileFile is the TOML budget profile document.
//
//	[surfaces.feed]
//	max_concurrent = 2
//	boot_ms = 10000
//	run_ms = 90000
type profileFile struct {
	Surfaces map[string]surfaceProfile `toml:"surfaces"`
}

type surfaceProfile struct {
	MaxConcurrent int   `toml:"max_concurrent"`
	BootMs        int64 `toml:"boot_ms"`
	RunMs         int64 `toml:"run_ms"`
}

// ApplyBudgets layers the profile file and then the env overrides onto
// a registry already seeded with compiled defaults. Zero-valued fields
// leave the underlying value untouched.
func (c *Config) ApplyBudgets(reg *budget.Registry) error {
	if c.Budgets.ProfileFile != "" {
		if err := applyProfileFile(reg, c.Budgets.ProfileFile); err != nil {
			return err
		}
	}

	applyOverride(reg, types.SurfaceFeed, surfaceProfile{
		MaxConcurrent: c.Budgets.FeedMaxConcurrent,
		BootMs:        c.Budgets.FeedBootMs,
		RunMs:         c.Budgets.FeedRunMs,
	})
	applyOverride(reg, types.SurfacePlayer, surfaceProfile{
		MaxConcurrent: c.Budgets.PlayerMaxConcurrent,
		BootMs:        c.Budgets.PlayerBootMs,
		RunMs:         c.Budgets.PlayerRunMs,
	})
	applyOverride(reg, types.SurfaceEmbed, surfaceProfile{
		MaxConcurrent: c.Budgets.EmbedMaxConcurrent,
		BootMs:        c.Budgets.EmbedBootMs,
		RunMs:         c.Budgets.EmbedRunMs,
	})
	return nil
}

func applyProfileFile(reg *budget.Registry, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("budget profile file: %w", err)
	}
	var doc profileFile
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("budget profile file: %w", err)
	}

	for name, p := range doc.Surfaces {
		surface := types.Surface(name)
		if !surface.Valid() {
			return fmt.Errorf("budget profile file: unknown surface %q", name)
		}
		applyOverride(reg, surface, p)
	}
	return nil
}

// applyOverride merges non-zero fields over the surface's current
// profile. Set clamps the result.
func applyOverride(reg *budget.Registry, surface types.Surface, p surfaceProfile) {
	if p.MaxConcurrent == 0 && p.BootMs == 0 && p.RunMs == 0 {
		return
	}
	cur := reg.Resolve(surface, types.RuntimeMarkup)
	if p.MaxConcurrent != 0 {
		cur.MaxConcurrent = p.MaxConcurrent
	}
	if p.BootMs != 0 {
		cur.BootBudget = time.Duration(p.BootMs) * time.Millisecond
	}
	if p.RunMs != 0 {
		cur.RunBudget = time.Duration(p.RunMs) * time.Millisecond
	}
	reg.Set(surface, cur)
}
