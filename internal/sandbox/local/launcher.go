package local

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/capsulehq/runtime/internal/artifacts"
	"github.com/capsulehq/runtime/internal/domain/session"
	"github.com/capsulehq/runtime/internal/infrastructure/logging"
	"github.com/capsulehq/runtime/internal/shared/types"
)

// Launcher runs seeded scripted bundles in-process so a created session
// can reach ready without an external isolated context. Demo mode only;
// in production the isolated context is a browser iframe attaching over
// the WebSocket bridge.
type Launcher struct {
	catalog *artifacts.Catalog
	logger  *logging.Logger
}

// NewLauncher creates a launcher serving bundle scripts from the catalog.
func NewLauncher(catalog *artifacts.Catalog, logger *logging.Logger) *Launcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Launcher{catalog: catalog, logger: logger.Named("launcher")}
}

// Bind subscribes to the session and drives one sandbox per run: each
// time a run reaches loading with a resolved scripted manifest, a fresh
// driver executes the seeded bundle. Launches are serialized through a
// worker so a restart queued while the previous driver is still draining
// its kill is not lost. The worker exits on the session's final disposed
// snapshot.
func (l *Launcher) Bind(s *session.Session) {
	launch := make(chan string, 1)

	// Notifications for different transitions may run concurrently, so
	// the queue close and sends share a lock.
	var mu sync.Mutex
	closed := false
	enqueue := func(script string) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case launch <- script:
		default: // a launch for this run is already queued
		}
	}
	shutdown := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(launch)
		}
	}

	go func() {
		for script := range launch {
			if s.Disposed() {
				return
			}
			d := New(s.Bridge(), l.logger)
			if err := d.Run(context.Background(), script); err != nil {
				l.logger.Warn("Sandbox driver exited",
					zap.String("session_id", string(s.ID())), zap.Error(err))
			}
		}
	}()

	s.Subscribe(func(snap session.Snapshot) {
		if snap.Disposed {
			shutdown()
			return
		}
		if snap.Status != types.StatusLoading || snap.Manifest == nil {
			return
		}
		if snap.Manifest.RuntimeType != types.RuntimeScripted {
			return
		}
		script, ok := l.bundleScript(snap.ArtifactID)
		if !ok {
			l.logger.Warn("No seeded bundle for scripted session",
				zap.String("artifact_id", snap.ArtifactID))
			return
		}
		enqueue(script)
	})
}

// bundleScript returns the primary bundle source for a seeded scripted
// artifact.
func (l *Launcher) bundleScript(artifactID string) (string, bool) {
	a, ok := l.catalog.Get(artifactID)
	if !ok || a.RuntimeType != types.RuntimeScripted {
		return "", false
	}
	path, ok := a.AssetPaths["bundle"]
	if !ok {
		return "", false
	}
	asset, ok := l.catalog.Asset(artifactID, path)
	if !ok {
		return "", false
	}
	return string(asset.Data), true
}
