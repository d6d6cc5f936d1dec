// Package id provides centralized ID generation for the runtime service.
//
// ULIDs are used everywhere: lexicographically sortable, prefixed per type
// (sess_*, run_*) so logs stay readable, and generated from crypto entropy.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionID identifies a runtime session instance.
type SessionID string

// RunID identifies one execution attempt within a session. Regenerated on
// every start so stale timer callbacks can be detected by comparison.
type RunID string

const (
	SessionPrefix = "sess"
	RunPrefix     = "run"
)

// Generator generates prefixed ULIDs.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the shared generator instance.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator(rand.Reader)
	})
	return defaultGenerator
}

// NewGenerator creates a generator with the given entropy source.
// Useful for deterministic tests.
func NewGenerator(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID string.
func (g *Generator) Generate() string {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate())
}

// NewSessionID generates a new session ID.
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewRunID generates a new run ID.
func NewRunID() RunID {
	return RunID(Default().GenerateWithPrefix(RunPrefix))
}

func (id SessionID) String() string { return string(id) }
func (id RunID) String() string     { return string(id) }

// IsValid checks whether s is a prefixed ULID of the given kind.
func IsValid(s, prefix string) bool {
	want := prefix + "_"
	if len(s) <= len(want) || s[:len(want)] != want {
		return false
	}
	_, err := ulid.Parse(s[len(want):])
	return err == nil
}
