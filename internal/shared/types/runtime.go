package types

import "time"

// Surface identifies the calling context that requested a runtime.
// Each surface carries its own budget profile.
type Surface string

const (
	SurfaceFeed   Surface = "feed"
	SurfacePlayer Surface = "player"
	SurfaceEmbed  Surface = "embed"
)

// Valid reports whether the surface is one of the known profiles.
func (s Surface) Valid() bool {
	switch s {
	case SurfaceFeed, SurfacePlayer, SurfaceEmbed:
		return true
	}
	return false
}

// RuntimeType is the closed set of bundle execution models.
type RuntimeType string

const (
	RuntimeMarkup   RuntimeType = "markup"
	RuntimeScripted RuntimeType = "scripted-component"
)

// Valid reports whether the runtime type is recognized.
func (t RuntimeType) Valid() bool {
	return t == RuntimeMarkup || t == RuntimeScripted
}

// Status represents runtime session lifecycle states
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// Budgets captures the resolved time budgets for one run, in milliseconds
// on the wire. Zero disables the corresponding timer (test escape only).
type Budgets struct {
	BootMs int64 `json:"boot_ms"`
	RunMs  int64 `json:"run_ms"`
}

// Violation is a policy violation reported by the isolated context.
// The host never synthesizes one except to normalize a malformed payload.
type Violation struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// LogEntry is a console line forwarded from the isolated context.
type LogEntry struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
